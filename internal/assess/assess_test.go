package assess

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/eiken/internal/model"
)

const okBody = `{
	"student_name": "Aiko", "student_grade": "General", "teacher_id": "t-1",
	"exam_type": "composition", "exam_grade": "3", "result_id": "r-42",
	"the_result": {
		"overall_feedback": "Good work.",
		"strengths": ["Clear opinion"],
		"weaknesses": [],
		"improvement_suggestions": ["Add an example"],
		"exemplar_answer": "I think...",
		"content_score": 3, "structure_score": 2.5, "vocabulary_score": null
	}
}`

func testDraft() model.Draft {
	return model.Draft{
		ExamGrade:     model.Grade3,
		QuestionType:  "Composition",
		Question:      "manual topic",
		MinWords:      10,
		MaxWords:      20,
		StudentName:   "Aiko",
		StudentGrade:  "General",
		TeacherID:     "t-1",
		StudentAnswer: "I agree.",
		AssistantName: "voxa",
		ReviewType:    "practice",
	}
}

func TestBuildPayloadManual(t *testing.T) {
	d := testDraft()
	p := BuildPayload(d, nil, model.GradeKeyExam, func() string { return "id-1" })

	if p.UUID != "id-1" {
		t.Errorf("UUID = %q", p.UUID)
	}
	if p.QuestionID != "" {
		t.Errorf("manual draft must not send a question id, got %q", p.QuestionID)
	}
	e := p.EikenData
	if e.Question != "manual topic" || e.MinWords != 10 || e.MaxWords != 20 {
		t.Errorf("manual values not kept: %+v", e)
	}
	if e.ExamGrade != model.Grade3 || e.Grade != "" {
		t.Errorf("grade under wrong key: %+v", e)
	}
	if e.QuestionType != model.TypeComposition {
		t.Errorf("question type not lowercased: %q", e.QuestionType)
	}

	raw, _ := json.Marshal(p)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	if _, ok := m["question_id"]; ok {
		t.Error("question_id should be omitted")
	}
	ed := m["eiken_data"].(map[string]any)
	if _, ok := ed["additional_instructions"]; ok {
		t.Error("empty additional_instructions should be omitted")
	}
}

func TestBuildPayloadCatalog(t *testing.T) {
	q := &model.Question{ID: "q1", Question: "Topic X", MinWords: 80, MaxWords: 100, Underlined: "2"}
	d := testDraft()
	d.QuestionID = "q1"
	d.Question = "Topic X"
	d.MinWords, d.MaxWords = 80, 100
	d.AdditionalInstructions = []string{"Be polite"}

	p := BuildPayload(d, q, model.GradeKeyPlain, nil)
	if p.QuestionID != "q1" || p.EikenData.Question != "Topic X" || p.EikenData.MinWords != 80 || p.EikenData.MaxWords != 100 {
		t.Errorf("catalog values not sent: %+v", p)
	}
	if p.EikenData.Grade != model.Grade3 || p.EikenData.ExamGrade != "" {
		t.Errorf("grade under wrong key: %+v", p.EikenData)
	}
	if p.EikenData.Underlined != "2" {
		t.Errorf("Underlined = %q, want catalog hint", p.EikenData.Underlined)
	}
	if len(p.EikenData.AdditionalInstructions) != 1 {
		t.Errorf("AdditionalInstructions = %q", p.EikenData.AdditionalInstructions)
	}
	if p.UUID == "" {
		t.Error("default id source should mint a uuid")
	}
}

func TestBuildPayloadFreshIDs(t *testing.T) {
	seen := map[string]bool{}
	d := testDraft()
	for i := 0; i < 100; i++ {
		id := BuildPayload(d, nil, model.GradeKeyExam, nil).UUID
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}

func TestSubmitOK(t *testing.T) {
	var got model.Payload
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := New(srv.URL, "", srv.Client())
	p := BuildPayload(testDraft(), nil, model.GradeKeyExam, nil)
	out, err := c.Submit(context.Background(), p)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.OK() {
		t.Fatalf("expected OK outcome, got %+v", out)
	}
	if out.Result.ID() != "r-42" || out.Result.TheResult.OverallFeedback != "Good work." {
		t.Errorf("unexpected result %+v", out.Result)
	}
	if s := out.Result.TheResult.ContentScore; s == nil || *s != 3 {
		t.Errorf("ContentScore = %v", s)
	}
	if out.Result.TheResult.VocabularyScore != nil {
		t.Error("null score should decode to nil")
	}
	if got.UUID != p.UUID || got.EikenData.Question != "manual topic" {
		t.Errorf("server received %+v", got)
	}
	if headers.Get("Content-Type") != "application/json" || headers.Get("Accept") != "application/json" {
		t.Errorf("unexpected headers %v", headers)
	}
}

func TestSubmitStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("bad input"))
	}))
	defer srv.Close()

	out, err := New(srv.URL, "", srv.Client()).Submit(context.Background(), BuildPayload(testDraft(), nil, model.GradeKeyExam, nil))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 422 || se.Body != "bad input" {
		t.Errorf("StatusError = %+v", se)
	}
	if !strings.Contains(err.Error(), "422") || !strings.Contains(err.Error(), "bad input") {
		t.Errorf("error text %q should carry status and body", err.Error())
	}
	if out.Result != nil {
		t.Error("no result on failure")
	}
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "", nil).Submit(context.Background(), BuildPayload(testDraft(), nil, model.GradeKeyExam, nil))
	if err == nil {
		t.Fatal("expected transport error")
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Error("transport failure should not be a StatusError")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  error
		wantKind Kind
	}{
		{"ok", okBody, nil, KindOK},
		{"assignment id", `{"assignment_id": "a-1", "the_result": {"overall_feedback": "x"}}`, nil, KindOK},
		{"not json", `<html>`, ErrInvalidJSON, 0},
		{"missing the_result", `{"student_name": "A"}`, nil, KindMalformed},
		{"the_result string", `{"the_result": "plain text"}`, nil, KindMalformed},
		{"score as string", `{"the_result": {"overall_feedback": "x", "grammar_score": "high"}}`, nil, KindMalformed},
		{"strengths not list", `{"the_result": {"overall_feedback": "x", "strengths": "many"}}`, nil, KindMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Parse([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v (reason %v)", out.Kind, tt.wantKind, out.Reason)
			}
			if tt.wantKind == KindMalformed && (out.Reason == nil || out.Result != nil || len(out.Raw) == 0) {
				t.Errorf("malformed outcome should carry raw body and reason: %+v", out)
			}
		})
	}
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr error
	}{
		{"bare string", `"I like dogs."`, "I like dogs.", nil},
		{"text object", `{"text": "I like cats."}`, "I like cats.", nil},
		{"no text", `{"other": 1}`, "", ErrBadConversion},
		{"number", `42`, "", ErrBadConversion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent map[string]string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &sent)
				_, _ = w.Write([]byte(tt.reply))
			}))
			defer srv.Close()

			got, err := New("", srv.URL, srv.Client()).Convert(context.Background(), pngHeader)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if got != tt.want {
				t.Errorf("Convert = %q, want %q", got, tt.want)
			}
			decoded, _ := base64.StdEncoding.DecodeString(sent["image_file"])
			if string(decoded) != string(pngHeader) {
				t.Error("image not sent as base64")
			}
		})
	}
}

func TestConvertRejects(t *testing.T) {
	if _, err := New("", "", nil).Convert(context.Background(), pngHeader); !errors.Is(err, ErrConvertDisabled) {
		t.Errorf("expected ErrConvertDisabled, got %v", err)
	}
	c := New("", "http://127.0.0.1:0", nil)
	if _, err := c.Convert(context.Background(), []byte("plain text, not an image")); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("expected ErrUnsupportedImage, got %v", err)
	}
}
