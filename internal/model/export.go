package model

import "time"

// SubmissionExport is the top-level JSON structure for history export.
type SubmissionExport struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Total       int                `json:"total"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Submissions []SubmissionRecord `json:"submissions"`
}

// SubmissionRecord is one exported attempt with its payload and result
// decoded back into structured JSON.
type SubmissionRecord struct {
	UUID         string           `json:"uuid"`
	TeacherID    string           `json:"teacher_id"`
	StudentName  string           `json:"student_name"`
	ExamGrade    Grade            `json:"exam_grade"`
	QuestionType QuestionType     `json:"question_type"`
	QuestionID   string           `json:"question_id,omitempty"`
	Status       SubmissionStatus `json:"status"`
	HTTPStatus   int              `json:"http_status,omitempty"`
	Error        string           `json:"error,omitempty"`
	Malformed    bool             `json:"malformed"`
	CreatedAt    time.Time        `json:"created_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Payload      any              `json:"payload"`
	Result       any              `json:"result,omitempty"`
}
