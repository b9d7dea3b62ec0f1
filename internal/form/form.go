// Package form holds the submission draft and keeps the fields derived from
// the selected catalog question in step with it.
package form

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/eiken/internal/catalog"
	"github.com/pavelanni/eiken/internal/exam"
	"github.com/pavelanni/eiken/internal/model"
)

var (
	// ErrUnknownQuestion is returned when selecting an id absent from the catalog.
	ErrUnknownQuestion = errors.New("question not in catalog")
	// ErrReadOnlyField is returned when editing a field derived from the selected question.
	ErrReadOnlyField = errors.New("field is derived from the selected question")
	// ErrNotNumeric is returned for non-numeric word counts.
	ErrNotNumeric = errors.New("word count must be a number")
	// ErrUnknownAssistant is returned for assistant names that are not offered.
	ErrUnknownAssistant = errors.New("unknown assistant")
	// ErrTypeNotOffered is returned when the task type does not exist for the grade.
	ErrTypeNotOffered = errors.New("question type not offered for this grade")
	// ErrUnknownField is returned by SetField for names it does not handle.
	ErrUnknownField = errors.New("unknown field")
)

// Phase is the state of the current submission attempt.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSubmitting:
		return "submitting"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Field names accepted by SetField. They match the form input names.
const (
	FieldExamGrade     = "exam_grade"
	FieldQuestionType  = "question_type"
	FieldQuestionID    = "question_id"
	FieldQuestion      = "question"
	FieldMinWords      = "min_words"
	FieldMaxWords      = "max_words"
	FieldUnderlined    = "underlined"
	FieldStudentName   = "student_name"
	FieldStudentGrade  = "student_grade"
	FieldTeacherID     = "teacher_id"
	FieldStudentAnswer = "student_answer"
	FieldAssistantName = "assistant_name"
	FieldReviewType    = "review_type"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Controller is the single owner of one draft.
type Controller struct {
	draft      model.Draft
	catalog    model.Catalog
	lookupErr  error
	phase      Phase
	lastError  string
	lastResult string
}

// New returns a controller with the defaults of an empty form.
func New() *Controller {
	return &Controller{draft: model.Draft{
		StudentGrade:  exam.DefaultStudentGrade,
		AssistantName: exam.DefaultAssistant,
		ReviewType:    exam.DefaultReviewType,
	}}
}

// Draft returns a copy of the current draft.
func (c *Controller) Draft() model.Draft {
	d := c.draft
	d.AdditionalInstructions = append([]string(nil), c.draft.AdditionalInstructions...)
	return d
}

// Catalog returns the catalog backing the current grade and type.
func (c *Controller) Catalog() model.Catalog {
	return c.catalog
}

// LookupError returns the error of the last failed catalog fetch, if any.
func (c *Controller) LookupError() error {
	return c.lookupErr
}

// Selected returns the selected catalog question, if any.
func (c *Controller) Selected() (model.Question, bool) {
	if c.draft.QuestionID == "" {
		return model.Question{}, false
	}
	return c.catalog.Get(c.draft.QuestionID)
}

// ReadOnly reports whether question, min and max words come from the catalog.
func (c *Controller) ReadOnly() bool {
	_, ok := c.Selected()
	return ok
}

// ShowQuestionPicker reports whether there are catalog questions to choose from.
func (c *Controller) ShowQuestionPicker() bool {
	return c.catalog.Len() > 0
}

// SetGrade changes the exam grade and clears everything derived from the
// previous catalog. The caller fetches the new catalog afterwards.
func (c *Controller) SetGrade(g model.Grade) {
	if g == c.draft.ExamGrade {
		return
	}
	c.draft.ExamGrade = g
	if c.draft.QuestionType != "" && !exam.TypeAllowed(g, c.draft.QuestionType) {
		c.draft.QuestionType = ""
	}
	c.clearSelection()
}

// SetQuestionType changes the task type and clears everything derived from
// the previous catalog. A type the current grade does not offer leaves the
// type unset and returns ErrTypeNotOffered.
func (c *Controller) SetQuestionType(qt model.QuestionType) error {
	var err error
	if qt != "" && c.draft.ExamGrade != "" && !exam.TypeAllowed(c.draft.ExamGrade, qt) {
		err = fmt.Errorf("%w: %s for grade %s", ErrTypeNotOffered, qt, c.draft.ExamGrade)
		qt = ""
	}
	if qt != c.draft.QuestionType {
		c.draft.QuestionType = qt
		c.clearSelection()
	}
	return err
}

func (c *Controller) clearSelection() {
	if c.draft.QuestionID != "" {
		c.draft.Question = ""
	}
	c.draft.QuestionID = ""
	c.draft.MinWords = 0
	c.draft.MaxWords = 0
	c.catalog = model.Catalog{}
	c.lookupErr = nil
}

// NeedsCatalog reports whether both grade and type are set.
func (c *Controller) NeedsCatalog() bool {
	return c.draft.ExamGrade != "" && c.draft.QuestionType != ""
}

// ApplyCatalog installs a fetched catalog and auto-selects one question with
// catalog.Pick. Catalogs fetched for a grade and type the draft no longer
// has are dropped and ApplyCatalog reports false.
func (c *Controller) ApplyCatalog(g model.Grade, qt model.QuestionType, cat model.Catalog, seed uint64) bool {
	if g != c.draft.ExamGrade || qt != c.draft.QuestionType {
		return false
	}
	c.catalog = cat
	c.lookupErr = nil
	if id := catalog.Pick(cat.IDs, seed); id != "" {
		_ = c.Select(id)
	}
	return true
}

// FailCatalog records a failed fetch and resets the catalog to empty.
func (c *Controller) FailCatalog(err error) {
	c.clearSelection()
	c.lookupErr = err
}

// Select copies the derived fields of a catalog question into the draft.
// An empty id deselects; the fields copied from the record are cleared and
// become editable.
func (c *Controller) Select(id string) error {
	if id == "" {
		if c.ReadOnly() {
			c.draft.Question = ""
			c.draft.MinWords = 0
			c.draft.MaxWords = 0
		}
		c.draft.QuestionID = ""
		return nil
	}
	q, ok := c.catalog.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	c.draft.QuestionID = id
	c.draft.Question = q.Question
	c.draft.MinWords = q.MinWords
	c.draft.MaxWords = q.MaxWords
	return nil
}

// SetField edits one field by its form name. Grade and type go through
// SetGrade and SetQuestionType so the derived fields are cleared.
func (c *Controller) SetField(name, value string) error {
	c.Touch()
	switch name {
	case FieldExamGrade:
		g, _ := exam.ParseGrade(value)
		c.SetGrade(g)
	case FieldQuestionType:
		qt, _ := exam.ParseQuestionType(value)
		return c.SetQuestionType(qt)
	case FieldQuestionID:
		return c.Select(strings.TrimSpace(value))
	case FieldQuestion:
		if c.ReadOnly() {
			return fmt.Errorf("%w: %s", ErrReadOnlyField, name)
		}
		c.draft.Question = value
	case FieldMinWords, FieldMaxWords:
		if c.ReadOnly() {
			return fmt.Errorf("%w: %s", ErrReadOnlyField, name)
		}
		n, err := parseWords(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == FieldMinWords {
			c.draft.MinWords = n
		} else {
			c.draft.MaxWords = n
		}
	case FieldUnderlined:
		c.draft.Underlined = value
	case FieldStudentName:
		c.draft.StudentName = value
	case FieldStudentGrade:
		c.draft.StudentGrade = value
	case FieldTeacherID:
		c.draft.TeacherID = value
	case FieldStudentAnswer:
		c.draft.StudentAnswer = value
	case FieldAssistantName:
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			value = exam.DefaultAssistant
		}
		if !exam.ValidAssistant(value) {
			return fmt.Errorf("%w: %s", ErrUnknownAssistant, value)
		}
		c.draft.AssistantName = value
	case FieldReviewType:
		c.draft.ReviewType = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return nil
}

func parseWords(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrNotNumeric
	}
	return n, nil
}

// AddInstruction appends a trimmed, non-empty custom instruction.
func (c *Controller) AddInstruction(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	c.draft.AdditionalInstructions = append(c.draft.AdditionalInstructions, s)
	return true
}

// RemoveInstruction deletes the custom instruction at index i.
func (c *Controller) RemoveInstruction(i int) bool {
	ins := c.draft.AdditionalInstructions
	if i < 0 || i >= len(ins) {
		return false
	}
	c.draft.AdditionalInstructions = append(ins[:i:i], ins[i+1:]...)
	return true
}

// FieldError names one missing or invalid field.
type FieldError struct {
	Field string
	Tag   string
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return "invalid draft: " + strings.Join(names, ", ")
}

var fieldNames = map[string]string{
	"ExamGrade":     FieldExamGrade,
	"QuestionType":  FieldQuestionType,
	"Question":      FieldQuestion,
	"MinWords":      FieldMinWords,
	"MaxWords":      FieldMaxWords,
	"StudentName":   FieldStudentName,
	"StudentGrade":  FieldStudentGrade,
	"TeacherID":     FieldTeacherID,
	"StudentAnswer": FieldStudentAnswer,
}

// Validate checks required-field presence and word count bounds.
func (c *Controller) Validate() error {
	err := validate.Struct(c.draft)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		name, ok := fieldNames[fe.StructField()]
		if !ok {
			name = fe.Field()
		}
		out.Fields = append(out.Fields, FieldError{Field: name, Tag: fe.Tag()})
	}
	return out
}

// Phase returns the state of the current submission attempt.
func (c *Controller) Phase() Phase {
	return c.phase
}

// Begin enters the submitting state. Submitting again while a previous
// attempt is in flight is allowed; each attempt is independent.
func (c *Controller) Begin() {
	c.phase = PhaseSubmitting
	c.lastError = ""
	c.lastResult = ""
}

// Succeed records a completed attempt and the id of its result.
func (c *Controller) Succeed(resultID string) {
	c.phase = PhaseSucceeded
	c.lastResult = resultID
}

// Fail records a failed attempt. The draft is left untouched.
func (c *Controller) Fail(msg string) {
	c.phase = PhaseFailed
	c.lastError = msg
}

// Touch returns a finished attempt to idle. SetField calls it on every edit.
func (c *Controller) Touch() {
	if c.phase == PhaseSucceeded || c.phase == PhaseFailed {
		c.phase = PhaseIdle
	}
}

// LastError returns the message of the last failed attempt.
func (c *Controller) LastError() string {
	return c.lastError
}

// LastResultID returns the result id of the last successful attempt.
func (c *Controller) LastResultID() string {
	return c.lastResult
}
