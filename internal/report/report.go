// Package report turns an assessment outcome into a localized, display-ready
// view shared by the web pages and the CLI.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pavelanni/eiken/internal/assess"
	"github.com/pavelanni/eiken/internal/i18n"
	"github.com/pavelanni/eiken/internal/model"
)

// Fact is one labelled header value.
type Fact struct {
	Label string
	Value string
}

// Section is a titled block of feedback: either free text or a list.
type Section struct {
	Title string
	Text  string
	Items []string
}

// Score is one present rubric score.
type Score struct {
	Label string
	Value string
}

// View is the rendered result.
type View struct {
	Title       string
	Facts       []Fact
	Sections    []Section
	ScoresTitle string
	Scores      []Score

	Malformed bool
	RawTitle  string
	Raw       string
	Reason    string
}

type scoreField struct {
	id  string
	val func(model.Feedback) *float64
}

var scoreFields = []scoreField{
	{"Result.Score.Reasons", func(f model.Feedback) *float64 { return f.ReasonsScore }},
	{"Result.Score.Structure", func(f model.Feedback) *float64 { return f.StructureScore }},
	{"Result.Score.Length", func(f model.Feedback) *float64 { return f.LengthScore }},
	{"Result.Score.Content", func(f model.Feedback) *float64 { return f.ContentScore }},
	{"Result.Score.Cohesion", func(f model.Feedback) *float64 { return f.CohesionScore }},
	{"Result.Score.Vocabulary", func(f model.Feedback) *float64 { return f.VocabularyScore }},
	{"Result.Score.Grammar", func(f model.Feedback) *float64 { return f.GrammarScore }},
}

// Build projects an outcome into a view. Empty fields are left out.
func Build(ctx context.Context, out assess.Outcome) View {
	v := View{Title: i18n.T(ctx, "Result.Title")}
	if !out.OK() {
		v.Malformed = true
		v.RawTitle = i18n.T(ctx, "Result.Malformed")
		v.Raw = indent(out.Raw)
		if out.Reason != nil {
			v.Reason = out.Reason.Error()
		}
		return v
	}

	r := out.Result
	student := r.StudentName
	if r.StudentGrade != "" {
		student = fmt.Sprintf("%s (%s)", r.StudentName, r.StudentGrade)
	}
	exam := r.ExamType
	if r.ExamGrade != "" {
		exam = strings.TrimSpace(fmt.Sprintf("%s (%s)", r.ExamType, r.ExamGrade))
	}
	v.addFact(ctx, "Result.Student", student)
	v.addFact(ctx, "Result.TeacherID", r.TeacherID)
	v.addFact(ctx, "Result.Exam", exam)
	v.addFact(ctx, "Result.ReviewType", r.ReviewType)
	v.addFact(ctx, "Result.ID", r.ID())

	f := r.TheResult
	v.addText(ctx, "Result.OverallFeedback", f.OverallFeedback)
	v.addList(ctx, "Result.Strengths", f.Strengths)
	v.addList(ctx, "Result.Weaknesses", f.Weaknesses)
	v.addList(ctx, "Result.Suggestions", f.ImprovementSuggestions)
	v.addText(ctx, "Result.ExampleAnswer", f.ExampleAnswer())
	v.addText(ctx, "Result.ImprovementPlan", f.ImprovementPlan)

	for _, sf := range scoreFields {
		if p := sf.val(f); p != nil {
			v.Scores = append(v.Scores, Score{Label: i18n.T(ctx, sf.id), Value: formatScore(*p)})
		}
	}
	if len(v.Scores) > 0 {
		v.ScoresTitle = i18n.T(ctx, "Result.Scores")
	}
	return v
}

func (v *View) addFact(ctx context.Context, id, value string) {
	if value = strings.TrimSpace(value); value != "" {
		v.Facts = append(v.Facts, Fact{Label: i18n.T(ctx, id), Value: value})
	}
}

func (v *View) addText(ctx context.Context, id, text string) {
	if text = strings.TrimSpace(text); text != "" {
		v.Sections = append(v.Sections, Section{Title: i18n.T(ctx, id), Text: text})
	}
}

func (v *View) addList(ctx context.Context, id string, items []string) {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) > 0 {
		v.Sections = append(v.Sections, Section{Title: i18n.T(ctx, id), Items: kept})
	}
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func indent(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// WriteText writes the view as a plain text report.
func WriteText(w io.Writer, v View) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n", v.Title, strings.Repeat("=", len([]rune(v.Title))))

	if v.Malformed {
		fmt.Fprintf(&b, "\n%s\n", v.RawTitle)
		if v.Reason != "" {
			fmt.Fprintf(&b, "(%s)\n", v.Reason)
		}
		fmt.Fprintf(&b, "\n%s\n", v.Raw)
		_, err := io.WriteString(w, b.String())
		return err
	}

	for _, f := range v.Facts {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Value)
	}
	for _, s := range v.Sections {
		fmt.Fprintf(&b, "\n%s:\n", s.Title)
		if s.Text != "" {
			fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(s.Text, "\n", "\n  "))
		}
		for _, it := range s.Items {
			fmt.Fprintf(&b, "  - %s\n", it)
		}
	}
	if len(v.Scores) > 0 {
		fmt.Fprintf(&b, "\n%s:\n", v.ScoresTitle)
		for _, sc := range v.Scores {
			fmt.Fprintf(&b, "  %s: %s\n", sc.Label, sc.Value)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
