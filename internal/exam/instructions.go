package exam

import (
	"context"
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/pavelanni/eiken/internal/i18n"
	"github.com/pavelanni/eiken/internal/model"
)

// Instructions is the prompt block shown above the answer field.
type Instructions struct {
	Heading     string
	Lines       []string
	Footer      string
	TopicLabel  string
	Topic       string
	PointsLabel string
	Points      []string
	Email       template.HTML
}

// BuildInstructions renders the instruction block for the draft's task.
// Grades 1 and Pre-1 always get the English template.
func BuildInstructions(ctx context.Context, d model.Draft, q *model.Question) Instructions {
	if d.ExamGrade.Upper() {
		ctx = i18n.WithLang(ctx, "en")
	}

	underlined := strings.TrimSpace(d.Underlined)
	if underlined == "" && q != nil {
		underlined = strings.TrimSpace(string(q.Underlined))
	}

	data := map[string]any{"Min": d.MinWords, "Max": d.MaxWords}
	ins := Instructions{Heading: i18n.T(ctx, "Instructions.Heading."+string(d.QuestionType))}

	switch d.QuestionType {
	case model.TypeComposition:
		reasons := underlined
		if reasons == "" {
			reasons = i18n.T(ctx, defaultReasonsKey(d.ExamGrade))
		}
		data["Reasons"] = reasons
		ins.Lines = splitLines(i18n.Td(ctx, "Composition.Instructions", data))
		ins.Footer = i18n.T(ctx, "Composition.Outside")
		ins.TopicLabel = i18n.T(ctx, "Composition.Topic")
		ins.Topic = d.Question
		if !d.ExamGrade.Upper() && q != nil {
			ins.Points = q.Points()
			ins.PointsLabel = i18n.T(ctx, "Composition.Points")
		}
	case model.TypeSummary:
		ins.Lines = splitLines(i18n.Td(ctx, "Summary.Instructions", data))
		ins.Topic = d.Question
	case model.TypeEmail:
		ins.Email = FormatEmail(d.Question, underlined)
	default:
		ins.Topic = d.Question
	}
	return ins
}

func defaultReasonsKey(g model.Grade) string {
	if g.Upper() {
		return "Composition.DefaultReasons.Upper"
	}
	return "Composition.DefaultReasons.Lower"
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return out
}

var (
	greetingRe     = regexp.MustCompile(`(Hi,|Dear [^\n,]+,)`)
	closingRe      = regexp.MustCompile(`(Best regards,|Your friend,|Sincerely,|Regards,)`)
	blankLinesRe   = regexp.MustCompile(`(\n\s*)+`)
	underlineSplit = regexp.MustCompile(`\n|。|\.|!|\?|\s{2,}`)
	spaceRunRe     = regexp.MustCompile(`\s+`)

	emailPolicy = newEmailPolicy()
)

func newEmailPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("span")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^underline$`)).OnElements("span")
	return p
}

// FormatEmail lays out an email question one part per line (greeting,
// body, closing, signature) and underlines each phrase of underline. The
// result is sanitized HTML meant for a white-space: pre-line container.
func FormatEmail(text, underline string) template.HTML {
	if text == "" {
		return ""
	}

	formatted := html.EscapeString(text)
	formatted = greetingRe.ReplaceAllString(formatted, "$1\n")
	formatted = closingRe.ReplaceAllString(formatted, "$1\n")
	formatted = blankLinesRe.ReplaceAllString(formatted, "\n")

	if underline = strings.TrimSpace(underline); underline != "" {
		var parts []string
		for _, p := range underlineSplit.Split(underline, -1) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			parts = []string{underline}
		}
		for _, part := range parts {
			pattern := spaceRunRe.ReplaceAllString(regexp.QuoteMeta(html.EscapeString(part)), `\s+`)
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			formatted = re.ReplaceAllStringFunc(formatted, func(m string) string {
				return `<span class="underline">` + m + `</span>`
			})
		}
	}

	return template.HTML(emailPolicy.Sanitize(formatted))
}
