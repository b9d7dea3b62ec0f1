package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pavelanni/eiken/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func recordTestAttempt(t *testing.T, s *Store, uuid, teacher string) model.Payload {
	t.Helper()
	p := model.Payload{
		EikenData: model.EikenData{
			ExamGrade:    model.Grade3,
			MinWords:     25,
			MaxWords:     35,
			Question:     "Do you like summer?",
			QuestionType: model.TypeComposition,
		},
		QuestionID:    "q1",
		UUID:          uuid,
		StudentName:   "Aiko",
		StudentGrade:  "General",
		TeacherID:     teacher,
		StudentAnswer: "Yes, I do.",
	}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := s.RecordAttempt(p, raw); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	return p
}

func TestRecordAndGet(t *testing.T) {
	s := newTestStore(t)
	recordTestAttempt(t, s, "u-1", "t-1")

	sub, err := s.GetSubmission("u-1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub.Status != model.StatusSubmitting {
		t.Errorf("expected submitting, got %q", sub.Status)
	}
	if sub.ExamGrade != model.Grade3 || sub.QuestionType != model.TypeComposition || sub.QuestionID != "q1" {
		t.Errorf("unexpected columns %+v", sub)
	}
	if sub.FinishedAt != nil {
		t.Error("FinishedAt should be nil while submitting")
	}

	if _, err := s.GetSubmission("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateUUIDRejected(t *testing.T) {
	s := newTestStore(t)
	p := recordTestAttempt(t, s, "u-1", "t-1")
	if err := s.RecordAttempt(p, []byte("{}")); err == nil {
		t.Error("second attempt with the same uuid should fail")
	}
}

func TestMarkSucceededAndFailed(t *testing.T) {
	s := newTestStore(t)
	recordTestAttempt(t, s, "ok", "t-1")
	recordTestAttempt(t, s, "bad", "t-1")

	if err := s.MarkSucceeded("ok", 200, []byte(`{"the_result":{}}`), true); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	if err := s.MarkFailed("bad", 422, "bad input"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	ok, _ := s.GetSubmission("ok")
	if ok.Status != model.StatusSucceeded || !ok.Malformed || ok.HTTPStatus != 200 || ok.FinishedAt == nil {
		t.Errorf("unexpected succeeded row %+v", ok)
	}
	bad, _ := s.GetSubmission("bad")
	if bad.Status != model.StatusFailed || bad.HTTPStatus != 422 || bad.Error != "bad input" {
		t.Errorf("unexpected failed row %+v", bad)
	}

	if err := s.MarkFailed("nope", 0, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSubmissions(t *testing.T) {
	s := newTestStore(t)
	recordTestAttempt(t, s, "a", "t-1")
	recordTestAttempt(t, s, "b", "t-2")
	recordTestAttempt(t, s, "c", "t-1")

	all, err := s.ListSubmissions("", 0)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(all))
	}
	if all[0].UUID != "c" {
		t.Errorf("expected newest first, got %q", all[0].UUID)
	}

	mine, _ := s.ListSubmissions("t-1", 0)
	if len(mine) != 2 {
		t.Errorf("expected 2 submissions for t-1, got %d", len(mine))
	}
	limited, _ := s.ListSubmissions("", 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)
	recordTestAttempt(t, s, "a", "t-1")
	recordTestAttempt(t, s, "b", "t-1")
	_ = s.MarkFailed("b", 500, "boom")

	counts, err := s.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[model.StatusSubmitting] != 1 || counts[model.StatusFailed] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestExportSubmissions(t *testing.T) {
	s := newTestStore(t)
	recordTestAttempt(t, s, "a", "t-1")
	recordTestAttempt(t, s, "b", "t-1")
	recordTestAttempt(t, s, "c", "t-2")
	_ = s.MarkSucceeded("a", 200, []byte(`{"result_id":"r-1"}`), false)
	_ = s.MarkFailed("b", 422, "bad input")

	exp, err := s.ExportSubmissions("t-1")
	if err != nil {
		t.Fatalf("ExportSubmissions: %v", err)
	}
	if exp.Total != 2 || exp.Succeeded != 1 || exp.Failed != 1 {
		t.Errorf("unexpected totals %+v", exp)
	}

	var a model.SubmissionRecord
	for _, rec := range exp.Submissions {
		if rec.UUID == "a" {
			a = rec
		}
	}
	res, ok := a.Result.(map[string]any)
	if !ok || res["result_id"] != "r-1" {
		t.Errorf("result not decoded: %#v", a.Result)
	}
	payload, ok := a.Payload.(map[string]any)
	if !ok || payload["uuid"] != "a" {
		t.Errorf("payload not decoded: %#v", a.Payload)
	}
}
