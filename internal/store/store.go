package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/eiken/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no submission has the requested uuid.
var ErrNotFound = errors.New("submission not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		uuid TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		exam_grade TEXT NOT NULL,
		question_type TEXT NOT NULL,
		question_id TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'submitting',
		http_status INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		malformed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_teacher ON submissions(teacher_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordAttempt stores a submission in the submitting state.
func (s *Store) RecordAttempt(p model.Payload, payloadJSON []byte) error {
	grade := p.EikenData.ExamGrade
	if grade == "" {
		grade = p.EikenData.Grade
	}
	_, err := s.db.Exec(
		`INSERT INTO submissions (uuid, teacher_id, student_name, exam_grade, question_type, question_id, payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UUID, p.TeacherID, p.StudentName, grade, p.EikenData.QuestionType, p.QuestionID,
		string(payloadJSON), model.StatusSubmitting, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", p.UUID, err)
	}
	return nil
}

// MarkSucceeded stores the response body of a 2xx reply. malformed records
// that the body did not match the result schema.
func (s *Store) MarkSucceeded(uuid string, httpStatus int, result []byte, malformed bool) error {
	return s.finish(uuid, model.StatusSucceeded, httpStatus, "", string(result), malformed)
}

// MarkFailed stores the error of a failed attempt. httpStatus is 0 for
// transport errors.
func (s *Store) MarkFailed(uuid string, httpStatus int, msg string) error {
	return s.finish(uuid, model.StatusFailed, httpStatus, msg, "", false)
}

func (s *Store) finish(uuid string, status model.SubmissionStatus, httpStatus int, msg, result string, malformed bool) error {
	res, err := s.db.Exec(
		`UPDATE submissions SET status = ?, http_status = ?, error = ?, result = ?, malformed = ?, finished_at = ?
		 WHERE uuid = ?`,
		status, httpStatus, msg, result, malformed, time.Now().UTC(), uuid,
	)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", uuid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	return nil
}

const submissionColumns = `uuid, teacher_id, student_name, exam_grade, question_type, question_id,
	payload, status, http_status, error, result, malformed, created_at, finished_at`

func scanSubmission(sc interface{ Scan(...any) error }) (model.Submission, error) {
	var sub model.Submission
	var finished sql.NullTime
	err := sc.Scan(&sub.UUID, &sub.TeacherID, &sub.StudentName, &sub.ExamGrade, &sub.QuestionType, &sub.QuestionID,
		&sub.Payload, &sub.Status, &sub.HTTPStatus, &sub.Error, &sub.Result, &sub.Malformed, &sub.CreatedAt, &finished)
	if err != nil {
		return sub, err
	}
	if finished.Valid {
		t := finished.Time
		sub.FinishedAt = &t
	}
	return sub, nil
}

// GetSubmission returns the submission with the given uuid.
func (s *Store) GetSubmission(uuid string) (model.Submission, error) {
	row := s.db.QueryRow(`SELECT `+submissionColumns+` FROM submissions WHERE uuid = ?`, uuid)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, fmt.Errorf("%w: %s", ErrNotFound, uuid)
	}
	return sub, err
}

// ListSubmissions returns the newest submissions first. An empty teacherID
// lists every teacher; limit <= 0 means no limit.
func (s *Store) ListSubmissions(teacherID string, limit int) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`
	var args []any
	if teacherID != "" {
		query += ` AND teacher_id = ?`
		args = append(args, teacherID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// CountByStatus returns how many submissions are in each status.
func (s *Store) CountByStatus() (map[model.SubmissionStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.SubmissionStatus]int)
	for rows.Next() {
		var st model.SubmissionStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
