package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/eiken/internal/assess"
	"github.com/pavelanni/eiken/internal/catalog"
	"github.com/pavelanni/eiken/internal/exam"
	"github.com/pavelanni/eiken/internal/form"
	"github.com/pavelanni/eiken/internal/model"
)

type apiError struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type apiQuestion struct {
	ID                     string   `json:"id"`
	Question               string   `json:"question"`
	MinWords               int      `json:"min_words"`
	MaxWords               int      `json:"max_words"`
	Underlined             string   `json:"underlined,omitempty"`
	AdditionalInstructions []string `json:"additional_instructions,omitempty"`
}

// handleAPIQuestions proxies the catalog lookup and returns the questions
// as an ordered list.
func (h *Handler) handleAPIQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g, _ := exam.ParseGrade(q.Get(form.FieldExamGrade))
	qt, _ := exam.ParseQuestionType(q.Get(form.FieldQuestionType))

	cat, err := h.catalog.Fetch(r.Context(), g, qt)
	switch {
	case errors.Is(err, catalog.ErrMissingParams):
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadGateway, apiError{Error: err.Error()})
		return
	}

	out := make([]apiQuestion, 0, cat.Len())
	for _, id := range cat.IDs {
		rec, _ := cat.Get(id)
		out = append(out, apiQuestion{
			ID:                     id,
			Question:               rec.Question,
			MinWords:               rec.MinWords,
			MaxWords:               rec.MaxWords,
			Underlined:             string(rec.Underlined),
			AdditionalInstructions: rec.Points(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// apiDraft is the JSON body of POST /api/assessments. Without question_id
// the first catalog question is used; manual skips the catalog question and
// takes question, min_words and max_words from the body.
type apiDraft struct {
	ExamGrade              string   `json:"exam_grade"`
	QuestionType           string   `json:"question_type"`
	QuestionID             string   `json:"question_id"`
	Manual                 bool     `json:"manual"`
	Question               string   `json:"question"`
	MinWords               int      `json:"min_words" validate:"gte=0"`
	MaxWords               int      `json:"max_words" validate:"gte=0"`
	Underlined             string   `json:"underlined"`
	AdditionalInstructions []string `json:"additional_instructions" validate:"max=20,dive,max=500"`
	StudentName            string   `json:"student_name" validate:"max=200"`
	StudentGrade           string   `json:"student_grade"`
	TeacherID              string   `json:"teacher_id" validate:"max=200"`
	StudentAnswer          string   `json:"student_answer" validate:"max=20000"`
	AssistantName          string   `json:"assistant_name"`
	ReviewType             string   `json:"review_type"`
}

var apiValidate = newAPIValidator()

func newAPIValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// check rejects bodies that are out of shape before they reach the form.
func (d apiDraft) check() map[string]string {
	var verrs validator.ValidationErrors
	if err := apiValidate.Struct(d); !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

func (d apiDraft) values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set(form.FieldExamGrade, d.ExamGrade)
	set(form.FieldQuestionType, d.QuestionType)
	switch {
	case d.Manual:
		v.Set(form.FieldQuestionID, "")
	case d.QuestionID != "":
		v.Set(form.FieldQuestionID, d.QuestionID)
	}
	set(form.FieldQuestion, d.Question)
	if d.MinWords != 0 {
		v.Set(form.FieldMinWords, strconv.Itoa(d.MinWords))
	}
	if d.MaxWords != 0 {
		v.Set(form.FieldMaxWords, strconv.Itoa(d.MaxWords))
	}
	set(form.FieldUnderlined, d.Underlined)
	set(form.FieldStudentName, d.StudentName)
	set(form.FieldStudentGrade, d.StudentGrade)
	set(form.FieldTeacherID, d.TeacherID)
	set(form.FieldStudentAnswer, d.StudentAnswer)
	set(form.FieldAssistantName, d.AssistantName)
	set(form.FieldReviewType, d.ReviewType)
	for _, s := range d.AdditionalInstructions {
		v.Add("additional_instructions", s)
	}
	return v
}

type apiAssessment struct {
	UUID      string                  `json:"uuid"`
	Status    model.SubmissionStatus  `json:"status"`
	Malformed bool                    `json:"malformed,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	Result    *model.AssessmentResult `json:"result,omitempty"`
	Raw       json.RawMessage         `json:"raw,omitempty"`
	Error     string                  `json:"error,omitempty"`
	HTTPCode  int                     `json:"http_status,omitempty"`
}

// handleAPIAssess runs the same pipeline as the form for JSON clients.
func (h *Handler) handleAPIAssess(w http.ResponseWriter, r *http.Request) {
	var in apiDraft
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if fields := in.check(); fields != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid request", Fields: fields})
		return
	}

	c, fieldErrs := h.draftFrom(r.Context(), in.values())
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: "invalid draft", Fields: fieldErrs})
		return
	}

	res := h.submit(r.Context(), c)
	out := apiAssessment{UUID: res.payload.UUID}
	if res.err != nil {
		out.Status = model.StatusFailed
		out.Error = res.err.Error()
		var se *assess.StatusError
		if errors.As(res.err, &se) {
			out.HTTPCode = se.Code
		}
		writeJSON(w, http.StatusBadGateway, out)
		return
	}

	out.Status = model.StatusSucceeded
	if res.outcome.OK() {
		out.Result = res.outcome.Result
	} else {
		out.Malformed = true
		out.Raw = res.outcome.Raw
		if res.outcome.Reason != nil {
			out.Reason = res.outcome.Reason.Error()
		}
	}
	writeJSON(w, http.StatusOK, out)
}
