package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Grade is an Eiken proficiency level code as the scoring API expects it.
type Grade string

const (
	Grade1        Grade = "1"
	GradePre1     Grade = "Pre-1"
	Grade2        Grade = "2"
	GradePre2Plus Grade = "Pre-2-Plus"
	GradePre2     Grade = "Pre-2"
	Grade3        Grade = "3"
	Grade4        Grade = "4"
	Grade5        Grade = "5"
)

// Upper reports whether the grade is 1 or Pre-1, which use the English
// question template and have no email task.
func (g Grade) Upper() bool {
	return g == Grade1 || g == GradePre1
}

// QuestionType is the category of writing task.
type QuestionType string

const (
	TypeComposition QuestionType = "composition"
	TypeSummary     QuestionType = "summary"
	TypeEmail       QuestionType = "email"
)

// GradeKey names the field carrying the grade in lookup queries and payloads.
// Both spellings exist in deployed versions of the API.
type GradeKey string

const (
	GradeKeyExam  GradeKey = "exam_grade"
	GradeKeyPlain GradeKey = "grade"
)

// Valid reports whether k is a known grade key.
func (k GradeKey) Valid() bool {
	return k == GradeKeyExam || k == GradeKeyPlain
}

// FlexString decodes from either a JSON string or a JSON number.
// The lookup endpoint sends the underlined hint both ways.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

// StringList decodes a JSON array keeping only its string elements.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(StringList, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// Question is one catalog entry returned by the lookup endpoint.
type Question struct {
	ID                     string     `json:"-"`
	Question               string     `json:"question"`
	MinWords               int        `json:"min_words"`
	MaxWords               int        `json:"max_words"`
	Underlined             FlexString `json:"underlined,omitempty"`
	AdditionalInstructions StringList `json:"additional_instructions,omitempty"`
}

// Points returns the non-blank additional instructions, trimmed.
func (q Question) Points() []string {
	var out []string
	for _, p := range q.AdditionalInstructions {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Catalog is the ordered set of questions available for one grade and type.
// IDs keeps the order in which the lookup endpoint listed them.
type Catalog struct {
	IDs       []string
	Questions map[string]Question
}

// Len returns the number of questions in the catalog.
func (c Catalog) Len() int {
	return len(c.IDs)
}

// Get returns the question with the given id.
func (c Catalog) Get(id string) (Question, bool) {
	q, ok := c.Questions[id]
	return q, ok
}

// Draft is the in-progress, user-editable submission.
type Draft struct {
	ExamGrade              Grade        `validate:"required"`
	QuestionType           QuestionType `validate:"required"`
	QuestionID             string
	Question               string `validate:"required"`
	MinWords               int    `validate:"required,min=1"`
	MaxWords               int    `validate:"required,min=1,gtefield=MinWords"`
	Underlined             string
	AdditionalInstructions []string
	StudentName            string `validate:"required"`
	StudentGrade           string `validate:"required"`
	TeacherID              string `validate:"required"`
	StudentAnswer          string `validate:"required"`
	AssistantName          string
	ReviewType             string
}

// EikenData carries the exam parameters of a submission.
type EikenData struct {
	Grade                  Grade        `json:"grade,omitempty"`
	ExamGrade              Grade        `json:"exam_grade,omitempty"`
	MinWords               int          `json:"min_words"`
	MaxWords               int          `json:"max_words"`
	Question               string       `json:"question"`
	QuestionType           QuestionType `json:"question_type"`
	Underlined             string       `json:"underlined,omitempty"`
	AdditionalInstructions []string     `json:"additional_instructions,omitempty"`
	AssistantName          string       `json:"assistant_name,omitempty"`
	ReviewType             string       `json:"review_type,omitempty"`
}

// Payload is the JSON body posted to the scoring endpoint.
type Payload struct {
	EikenData     EikenData `json:"eiken_data"`
	QuestionID    string    `json:"question_id,omitempty"`
	UUID          string    `json:"uuid"`
	StudentName   string    `json:"student_name"`
	StudentGrade  string    `json:"student_grade"`
	TeacherID     string    `json:"teacher_id"`
	StudentAnswer string    `json:"student_answer"`
}

// Feedback is the scored part of an assessment.
type Feedback struct {
	OverallFeedback        string   `json:"overall_feedback"`
	Strengths              []string `json:"strengths"`
	Weaknesses             []string `json:"weaknesses"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
	ExampleAnswers         string   `json:"example_answers,omitempty"`
	ExemplarAnswer         string   `json:"exemplar_answer,omitempty"`
	ImprovementPlan        string   `json:"improvement_plan,omitempty"`
	ReasonsScore           *float64 `json:"reasons_score,omitempty"`
	StructureScore         *float64 `json:"structure_score,omitempty"`
	LengthScore            *float64 `json:"length_score,omitempty"`
	ContentScore           *float64 `json:"content_score,omitempty"`
	CohesionScore          *float64 `json:"cohesion_score,omitempty"`
	VocabularyScore        *float64 `json:"vocabulary_score,omitempty"`
	GrammarScore           *float64 `json:"grammar_score,omitempty"`
}

// ExampleAnswer returns whichever example answer field the API filled in.
func (f Feedback) ExampleAnswer() string {
	if f.ExampleAnswers != "" {
		return f.ExampleAnswers
	}
	return f.ExemplarAnswer
}

// AssessmentResult is the scoring endpoint's response.
type AssessmentResult struct {
	StudentName  string   `json:"student_name"`
	StudentGrade string   `json:"student_grade"`
	TeacherID    string   `json:"teacher_id"`
	ExamType     string   `json:"exam_type"`
	ExamGrade    string   `json:"exam_grade"`
	ReviewType   string   `json:"review_type,omitempty"`
	ResultID     string   `json:"result_id,omitempty"`
	AssignmentID string   `json:"assignment_id,omitempty"`
	TheResult    Feedback `json:"the_result"`
}

// ID returns the result identifier under either of its names.
func (r AssessmentResult) ID() string {
	if r.ResultID != "" {
		return r.ResultID
	}
	return r.AssignmentID
}

// SubmissionStatus is the state of a recorded submission attempt.
type SubmissionStatus string

const (
	StatusSubmitting SubmissionStatus = "submitting"
	StatusSucceeded  SubmissionStatus = "succeeded"
	StatusFailed     SubmissionStatus = "failed"
)

// Submission is one recorded attempt in the local history.
type Submission struct {
	UUID         string           `json:"uuid"`
	TeacherID    string           `json:"teacher_id"`
	StudentName  string           `json:"student_name"`
	ExamGrade    Grade            `json:"exam_grade"`
	QuestionType QuestionType     `json:"question_type"`
	QuestionID   string           `json:"question_id,omitempty"`
	Payload      string           `json:"payload"`
	Status       SubmissionStatus `json:"status"`
	HTTPStatus   int              `json:"http_status,omitempty"`
	Error        string           `json:"error,omitempty"`
	Result       string           `json:"result,omitempty"`
	Malformed    bool             `json:"malformed"`
	CreatedAt    time.Time        `json:"created_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// Endpoints holds the remote service URLs.
type Endpoints struct {
	Questions  string
	Assessment string
	Convert    string // empty disables handwriting upload
}

// Config holds runtime parameters resolved once at startup.
type Config struct {
	Endpoints     Endpoints
	GradeKey      GradeKey
	HTTPTimeout   time.Duration // 0 means no client timeout
	Lang          string        // default UI language
	BasePath      string        // URL prefix for sub-path deployments
	SecureCookies bool
	Shuffle       bool     // pick a random catalog question instead of the first
	CORSOrigins   []string // allowed origins for the JSON API
}
