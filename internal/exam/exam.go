// Package exam holds the Eiken grades, task types and selector options, and
// builds the localized instruction block shown above each question.
package exam

import (
	"context"
	"strings"

	"github.com/pavelanni/eiken/internal/i18n"
	"github.com/pavelanni/eiken/internal/model"
)

const (
	DefaultAssistant    = "voxa"
	DefaultReviewType   = "practice"
	DefaultStudentGrade = "General"
)

// Option is one entry of a select box.
type Option struct {
	Value string
	Label string
	Tip   string
}

// selectableGrades are the grades with a writing section.
var selectableGrades = []model.Grade{
	model.Grade1, model.GradePre1, model.Grade2, model.GradePre2Plus, model.GradePre2, model.Grade3,
}

var allGrades = append(append([]model.Grade{}, selectableGrades...), model.Grade4, model.Grade5)

var questionTypes = []model.QuestionType{model.TypeComposition, model.TypeSummary, model.TypeEmail}

var studentGrades = []string{
	"General",
	"Pre-Elementary",
	"Lower Elementary",
	"Upper Elementary",
	"Middle School",
	"High School",
	"University",
	"Post graduation",
}

var assistants = []string{"thena", "lumo", "voxa", "zuno", "pico"}

// jaGrades maps the Japanese grade labels onto API codes.
var jaGrades = map[string]model.Grade{
	"1級":     model.Grade1,
	"準1級":    model.GradePre1,
	"2級":     model.Grade2,
	"準2級プラス": model.GradePre2Plus,
	"準2級":    model.GradePre2,
	"3級":     model.Grade3,
	"4級":     model.Grade4,
	"5級":     model.Grade5,
}

var jaTypes = map[string]model.QuestionType{
	"作文":   model.TypeComposition,
	"要約":   model.TypeSummary,
	"Eメール": model.TypeEmail,
	"eメール": model.TypeEmail,
}

// ParseGrade accepts an API code (case-insensitive) or a Japanese label.
func ParseGrade(s string) (model.Grade, bool) {
	s = strings.TrimSpace(s)
	if g, ok := jaGrades[s]; ok {
		return g, true
	}
	for _, g := range allGrades {
		if strings.EqualFold(s, string(g)) {
			return g, true
		}
	}
	return "", false
}

// ParseQuestionType accepts an API code or English label case-insensitively,
// or a Japanese label.
func ParseQuestionType(s string) (model.QuestionType, bool) {
	s = strings.TrimSpace(s)
	if qt, ok := jaTypes[s]; ok {
		return qt, true
	}
	for _, qt := range questionTypes {
		if strings.EqualFold(s, string(qt)) {
			return qt, true
		}
	}
	return "", false
}

// TypeAllowed reports whether the task type exists for the grade.
// Grades 1 and Pre-1 have no email task.
func TypeAllowed(g model.Grade, qt model.QuestionType) bool {
	return !(g.Upper() && qt == model.TypeEmail)
}

// Grades returns the grade selector options.
func Grades(ctx context.Context) []Option {
	out := make([]Option, 0, len(selectableGrades))
	for _, g := range selectableGrades {
		out = append(out, Option{Value: string(g), Label: i18n.T(ctx, "Grade."+string(g))})
	}
	return out
}

// GradeLabel returns the localized label of a grade.
func GradeLabel(ctx context.Context, g model.Grade) string {
	if g == "" {
		return ""
	}
	return i18n.T(ctx, "Grade."+string(g))
}

// QuestionTypes returns the task type options available for the grade.
func QuestionTypes(ctx context.Context, g model.Grade) []Option {
	var out []Option
	for _, qt := range questionTypes {
		if !TypeAllowed(g, qt) {
			continue
		}
		out = append(out, Option{Value: string(qt), Label: TypeLabel(ctx, qt)})
	}
	return out
}

// TypeLabel returns the localized label of a task type.
func TypeLabel(ctx context.Context, qt model.QuestionType) string {
	if qt == "" {
		return ""
	}
	return i18n.T(ctx, "QuestionType."+string(qt))
}

// StudentGrades returns the student grade options. Values are the English
// names the scoring API expects whatever the UI language.
func StudentGrades(ctx context.Context) []Option {
	out := make([]Option, 0, len(studentGrades))
	for _, sg := range studentGrades {
		out = append(out, Option{Value: sg, Label: i18n.T(ctx, "StudentGrade."+messageKey(sg))})
	}
	return out
}

// Assistants returns the assistant options with their tips.
func Assistants(ctx context.Context) []Option {
	out := make([]Option, 0, len(assistants))
	for _, a := range assistants {
		out = append(out, Option{
			Value: a,
			Label: strings.ToUpper(a[:1]) + a[1:],
			Tip:   i18n.T(ctx, "AssistantTip."+a),
		})
	}
	return out
}

// ValidAssistant reports whether name is a known assistant.
func ValidAssistant(name string) bool {
	for _, a := range assistants {
		if a == name {
			return true
		}
	}
	return false
}

func messageKey(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "-", "")
}
