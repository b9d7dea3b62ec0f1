// Package views renders the HTML pages and htmx partials.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/a-h/templ"

	"github.com/pavelanni/eiken/internal/exam"
	"github.com/pavelanni/eiken/internal/i18n"
	"github.com/pavelanni/eiken/internal/model"
	"github.com/pavelanni/eiken/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

// Placeholders so the templates parse; every render binds the real
// request-scoped functions on a clone.
var baseFuncs = template.FuncMap{
	"T":     func(string) string { return "" },
	"Td":    func(string, ...any) string { return "" },
	"Tp":    func(string, int) string { return "" },
	"path":  func(string) string { return "" },
	"csrf":  func() string { return "" },
	"lang":  func() string { return "" },
	"langs": func() []string { return nil },
}

var pages = template.Must(template.New("").Funcs(baseFuncs).ParseFS(templateFS, "templates/*.html"))

func requestFuncs(ctx context.Context) template.FuncMap {
	base := model.BasePathFromContext(ctx)
	return template.FuncMap{
		"T": func(id string) string { return i18n.T(ctx, id) },
		"Td": func(id string, kv ...any) string {
			data := make(map[string]any, len(kv)/2)
			for i := 0; i+1 < len(kv); i += 2 {
				data[fmt.Sprint(kv[i])] = kv[i+1]
			}
			return i18n.Td(ctx, id, data)
		},
		"Tp":    func(id string, n int) string { return i18n.Tp(ctx, id, n) },
		"path":  func(p string) string { return base + p },
		"csrf":  func() string { return model.CSRFTokenFromContext(ctx) },
		"lang":  func() string { return i18n.Lang(ctx) },
		"langs": i18n.Supported,
	}
}

func render(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t, err := pages.Clone()
		if err != nil {
			return err
		}
		return t.Funcs(requestFuncs(ctx)).ExecuteTemplate(w, name, data)
	})
}

// QuestionOption is one entry of the catalog picker.
type QuestionOption struct {
	ID       string
	Label    string
	Selected bool
}

// QuestionPanel is the part of the form that depends on grade and type.
type QuestionPanel struct {
	Grade        model.Grade
	QuestionType model.QuestionType
	Types        []exam.Option
	Picker       []QuestionOption
	QuestionID   string
	ReadOnly     bool
	Question     string
	MinWords     int
	MaxWords     int
	Underlined   string
	LookupError  string
	NoQuestions  bool
	Instructions exam.Instructions
}

// FormPage is the assessment form with an optional result or error.
type FormPage struct {
	Grades        []exam.Option
	StudentGrades []exam.Option
	Assistants    []exam.Option
	Panel         QuestionPanel
	Draft         model.Draft
	Answer        AnswerField
	FieldErrors   map[string]string
	CanConvert    bool
	Phase         string
	Error         string
	Result        *report.View
}

// AnswerField is the answer textarea with its validation or conversion error.
type AnswerField struct {
	Text  string
	Error string
}

// HistoryPage lists recorded submissions.
type HistoryPage struct {
	TeacherID   string
	Counts      HistoryCounts
	Submissions []model.Submission
}

// HistoryCounts totals every recorded attempt by status.
type HistoryCounts struct {
	Submitting int
	Succeeded  int
	Failed     int
}

// HistoryDetail shows one recorded submission.
type HistoryDetail struct {
	Submission model.Submission
	Payload    string
	Result     *report.View
}

// Form renders the full assessment page.
func Form(p FormPage) templ.Component {
	return render("form.html", p)
}

// Questions renders the question panel partial swapped in by htmx.
func Questions(p QuestionPanel) templ.Component {
	return render("questions", p)
}

// Answer renders the answer textarea partial returned by handwriting upload.
func Answer(a AnswerField) templ.Component {
	return render("answer", a)
}

// History renders the submission history page.
func History(p HistoryPage) templ.Component {
	return render("history.html", p)
}

// Submission renders the detail page of one submission.
func Submission(p HistoryDetail) templ.Component {
	return render("submission.html", p)
}

// ErrorPage renders a full page with a single message.
func ErrorPage(msg string) templ.Component {
	return render("error.html", msg)
}
