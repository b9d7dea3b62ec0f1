package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/eiken/internal/model"
)

// ExportSubmissions builds the history export for one teacher, or for all
// teachers when teacherID is empty. Stored payloads and results are decoded
// back into JSON values; results that are not JSON are kept as strings.
func (s *Store) ExportSubmissions(teacherID string) (model.SubmissionExport, error) {
	subs, err := s.ListSubmissions(teacherID, 0)
	if err != nil {
		return model.SubmissionExport{}, fmt.Errorf("list submissions: %w", err)
	}

	out := model.SubmissionExport{
		ExportedAt:  time.Now().UTC(),
		Total:       len(subs),
		Submissions: make([]model.SubmissionRecord, 0, len(subs)),
	}
	for _, sub := range subs {
		switch sub.Status {
		case model.StatusSucceeded:
			out.Succeeded++
		case model.StatusFailed:
			out.Failed++
		}

		rec := model.SubmissionRecord{
			UUID:         sub.UUID,
			TeacherID:    sub.TeacherID,
			StudentName:  sub.StudentName,
			ExamGrade:    sub.ExamGrade,
			QuestionType: sub.QuestionType,
			QuestionID:   sub.QuestionID,
			Status:       sub.Status,
			HTTPStatus:   sub.HTTPStatus,
			Error:        sub.Error,
			Malformed:    sub.Malformed,
			CreatedAt:    sub.CreatedAt,
			FinishedAt:   sub.FinishedAt,
			Payload:      decodeStored(sub.Payload),
		}
		if sub.Result != "" {
			rec.Result = decodeStored(sub.Result)
		}
		out.Submissions = append(out.Submissions, rec)
	}
	return out, nil
}

func decodeStored(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
