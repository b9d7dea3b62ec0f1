package assess

import (
	"strings"

	"github.com/google/uuid"

	"github.com/pavelanni/eiken/internal/model"
)

// NewRequestID mints the unique identifier sent with every submission.
func NewRequestID() string {
	return uuid.NewString()
}

// BuildPayload snapshots the draft into the scoring API's request shape.
// newID is called exactly once; nil means NewRequestID.
func BuildPayload(d model.Draft, selected *model.Question, gradeKey model.GradeKey, newID func() string) model.Payload {
	if newID == nil {
		newID = NewRequestID
	}

	data := model.EikenData{
		MinWords:      d.MinWords,
		MaxWords:      d.MaxWords,
		Question:      d.Question,
		QuestionType:  model.QuestionType(strings.ToLower(string(d.QuestionType))),
		Underlined:    strings.TrimSpace(d.Underlined),
		AssistantName: d.AssistantName,
		ReviewType:    d.ReviewType,
	}
	if gradeKey == model.GradeKeyPlain {
		data.Grade = d.ExamGrade
	} else {
		data.ExamGrade = d.ExamGrade
	}
	if len(d.AdditionalInstructions) > 0 {
		data.AdditionalInstructions = append([]string(nil), d.AdditionalInstructions...)
	}

	p := model.Payload{
		EikenData:     data,
		UUID:          newID(),
		StudentName:   d.StudentName,
		StudentGrade:  d.StudentGrade,
		TeacherID:     d.TeacherID,
		StudentAnswer: d.StudentAnswer,
	}

	if selected != nil && selected.ID == d.QuestionID && d.QuestionID != "" {
		p.QuestionID = selected.ID
		p.EikenData.Question = selected.Question
		p.EikenData.MinWords = selected.MinWords
		p.EikenData.MaxWords = selected.MaxWords
		if p.EikenData.Underlined == "" {
			p.EikenData.Underlined = strings.TrimSpace(string(selected.Underlined))
		}
	}
	return p
}
