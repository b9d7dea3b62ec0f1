package form

import (
	"errors"
	"net/url"
	"testing"

	"github.com/pavelanni/eiken/internal/model"
)

func testCatalog() model.Catalog {
	return model.Catalog{
		IDs: []string{"q1", "q2"},
		Questions: map[string]model.Question{
			"q1": {ID: "q1", Question: "Topic X", MinWords: 80, MaxWords: 100},
			"q2": {ID: "q2", Question: "Topic Y", MinWords: 25, MaxWords: 35},
		},
	}
}

func loaded(t *testing.T) *Controller {
	t.Helper()
	c := New()
	c.SetGrade(model.Grade3)
	c.SetQuestionType(model.TypeComposition)
	if !c.ApplyCatalog(model.Grade3, model.TypeComposition, testCatalog(), 0) {
		t.Fatal("ApplyCatalog rejected a current catalog")
	}
	return c
}

func TestNewDefaults(t *testing.T) {
	d := New().Draft()
	if d.AssistantName != "voxa" || d.ReviewType != "practice" || d.StudentGrade != "General" {
		t.Errorf("unexpected defaults %+v", d)
	}
}

func TestApplyCatalogAutoSelectsFirst(t *testing.T) {
	c := loaded(t)
	d := c.Draft()
	if d.QuestionID != "q1" {
		t.Fatalf("expected q1 auto-selected, got %q", d.QuestionID)
	}
	if d.Question != "Topic X" || d.MinWords != 80 || d.MaxWords != 100 {
		t.Errorf("derived fields not copied: %+v", d)
	}
	if !c.ReadOnly() || !c.ShowQuestionPicker() {
		t.Error("selected catalog question should make fields read-only and show the picker")
	}
}

func TestSelectRoundTrip(t *testing.T) {
	c := loaded(t)
	cat := testCatalog()
	for _, id := range cat.IDs {
		if err := c.Select(id); err != nil {
			t.Fatalf("Select(%s): %v", id, err)
		}
		q, _ := cat.Get(id)
		d := c.Draft()
		if d.QuestionID != id || d.Question != q.Question || d.MinWords != q.MinWords || d.MaxWords != q.MaxWords {
			t.Errorf("Select(%s) draft = %+v, want record %+v", id, d, q)
		}
	}

	if err := c.Select("nope"); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestDerivedFieldsReadOnly(t *testing.T) {
	c := loaded(t)
	for _, f := range []string{FieldQuestion, FieldMinWords, FieldMaxWords} {
		if err := c.SetField(f, "5"); !errors.Is(err, ErrReadOnlyField) {
			t.Errorf("SetField(%s) = %v, want ErrReadOnlyField", f, err)
		}
	}
	if d := c.Draft(); d.Question != "Topic X" || d.MinWords != 80 {
		t.Errorf("read-only fields changed: %+v", d)
	}
}

func TestChangingGradeOrTypeClears(t *testing.T) {
	tests := []struct {
		name   string
		change func(c *Controller)
	}{
		{"grade", func(c *Controller) { c.SetGrade(model.Grade2) }},
		{"type", func(c *Controller) { c.SetQuestionType(model.TypeSummary) }},
		{"grade field", func(c *Controller) { _ = c.SetField(FieldExamGrade, "準2級") }},
		{"type field", func(c *Controller) { _ = c.SetField(FieldQuestionType, "Email") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := loaded(t)
			tt.change(c)
			d := c.Draft()
			if d.QuestionID != "" || d.Question != "" || d.MinWords != 0 || d.MaxWords != 0 {
				t.Errorf("derived fields not cleared: %+v", d)
			}
			if c.ShowQuestionPicker() || c.ReadOnly() {
				t.Error("catalog should be empty until the next fetch resolves")
			}
		})
	}
}

func TestUpperGradeDropsEmail(t *testing.T) {
	c := New()
	c.SetQuestionType(model.TypeEmail)
	c.SetGrade(model.Grade1)
	if c.Draft().QuestionType != "" {
		t.Errorf("email is not available for grade 1, got %q", c.Draft().QuestionType)
	}
}

func TestStaleCatalogIgnored(t *testing.T) {
	c := New()
	c.SetGrade(model.Grade3)
	c.SetQuestionType(model.TypeComposition)
	c.SetGrade(model.Grade2)

	if c.ApplyCatalog(model.Grade3, model.TypeComposition, testCatalog(), 0) {
		t.Fatal("stale catalog should be rejected")
	}
	if c.Draft().QuestionID != "" || c.ShowQuestionPicker() {
		t.Error("stale catalog must not populate the draft")
	}
}

func TestEmptyCatalog(t *testing.T) {
	c := New()
	c.SetGrade(model.Grade3)
	c.SetQuestionType(model.TypeEmail)
	c.ApplyCatalog(model.Grade3, model.TypeEmail, model.Catalog{}, 0)

	if c.ShowQuestionPicker() {
		t.Error("picker must be hidden for an empty catalog")
	}
	if c.Draft().QuestionID != "" {
		t.Errorf("no question id expected, got %q", c.Draft().QuestionID)
	}
}

func TestFailCatalog(t *testing.T) {
	c := loaded(t)
	boom := errors.New("boom")
	c.FailCatalog(boom)
	if c.LookupError() != boom {
		t.Errorf("LookupError = %v", c.LookupError())
	}
	if c.Catalog().Len() != 0 || c.Draft().QuestionID != "" {
		t.Error("failed lookup should reset the catalog")
	}
}

func TestManualFallback(t *testing.T) {
	c := New()
	c.SetGrade(model.Grade2)
	c.SetQuestionType(model.TypeComposition)
	c.ApplyCatalog(model.Grade2, model.TypeComposition, model.Catalog{}, 0)

	err := c.ApplyValues(url.Values{
		FieldQuestion: {"Should schools ban phones?"},
		FieldMinWords: {"80"},
		FieldMaxWords: {"100"},
	})
	if err != nil {
		t.Fatalf("ApplyValues: %v", err)
	}
	d := c.Draft()
	if d.Question != "Should schools ban phones?" || d.MinWords != 80 || d.MaxWords != 100 {
		t.Errorf("manual values not kept: %+v", d)
	}
}

func TestApplyValues(t *testing.T) {
	c := loaded(t)
	err := c.ApplyValues(url.Values{
		FieldQuestionID:           {"q2"},
		FieldQuestion:             {"tampered"},
		FieldMinWords:             {"1"},
		FieldStudentName:          {"Aiko"},
		FieldTeacherID:            {"t-1"},
		FieldStudentAnswer:        {"I think..."},
		"additional_instructions": {" Use examples ", ""},
	})
	if err != nil {
		t.Fatalf("ApplyValues: %v", err)
	}
	d := c.Draft()
	if d.QuestionID != "q2" || d.Question != "Topic Y" || d.MinWords != 25 {
		t.Errorf("selection not applied or derived fields overwritten: %+v", d)
	}
	if d.StudentName != "Aiko" || d.TeacherID != "t-1" || d.StudentAnswer != "I think..." {
		t.Errorf("independent fields not applied: %+v", d)
	}
	if len(d.AdditionalInstructions) != 1 || d.AdditionalInstructions[0] != "Use examples" {
		t.Errorf("instructions = %q", d.AdditionalInstructions)
	}

	// Explicit empty id switches to manual entry.
	if err := c.ApplyValues(url.Values{FieldQuestionID: {""}, FieldMinWords: {"abc"}}); !errors.Is(err, ErrNotNumeric) {
		t.Errorf("expected ErrNotNumeric, got %v", err)
	}
	if c.ReadOnly() {
		t.Error("empty question_id should deselect")
	}
}

func TestInstructions(t *testing.T) {
	c := New()
	if c.AddInstruction("   ") {
		t.Error("blank instruction should be rejected")
	}
	c.AddInstruction("a")
	c.AddInstruction("b")
	c.AddInstruction("c")
	if !c.RemoveInstruction(1) || c.RemoveInstruction(5) {
		t.Error("RemoveInstruction bounds wrong")
	}
	got := c.Draft().AdditionalInstructions
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("instructions = %q", got)
	}
}

func TestValidate(t *testing.T) {
	c := New()
	err := c.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	missing := map[string]bool{}
	for _, f := range verr.Fields {
		missing[f.Field] = true
	}
	for _, want := range []string{FieldExamGrade, FieldQuestionType, FieldQuestion, FieldStudentName, FieldTeacherID, FieldStudentAnswer} {
		if !missing[want] {
			t.Errorf("expected %s to be reported missing", want)
		}
	}

	c = loaded(t)
	_ = c.ApplyValues(url.Values{
		FieldStudentName:   {"Aiko"},
		FieldTeacherID:     {"t-1"},
		FieldStudentAnswer: {"answer"},
	})
	if err := c.Validate(); err != nil {
		t.Errorf("complete draft should validate: %v", err)
	}
}

func TestPhases(t *testing.T) {
	c := New()
	if c.Phase() != PhaseIdle {
		t.Fatalf("initial phase %v", c.Phase())
	}
	c.Begin()
	if c.Phase() != PhaseSubmitting {
		t.Fatalf("phase after Begin = %v", c.Phase())
	}
	c.Fail("status 422")
	if c.Phase() != PhaseFailed || c.LastError() != "status 422" {
		t.Fatalf("phase after Fail = %v, %q", c.Phase(), c.LastError())
	}
	c.Touch()
	if c.Phase() != PhaseIdle {
		t.Fatalf("phase after Touch = %v", c.Phase())
	}
	c.Begin()
	c.Begin()
	c.Succeed("r-1")
	if c.Phase() != PhaseSucceeded || c.LastResultID() != "r-1" || c.LastError() != "" {
		t.Errorf("phase after Succeed = %v, %q", c.Phase(), c.LastResultID())
	}
}

func TestSelectionRejectsTypeNotOfferedForGrade(t *testing.T) {
	tests := []struct {
		grade   string
		qtype   string
		want    model.QuestionType
		wantErr bool
	}{
		{"1", "email", "", true},
		{"Pre-1", "Eメール", "", true},
		{"1", "summary", model.TypeSummary, false},
		{"2", "email", model.TypeEmail, false},
	}
	for _, tt := range tests {
		c := New()
		err := c.ApplySelection(url.Values{FieldExamGrade: {tt.grade}, FieldQuestionType: {tt.qtype}})
		if got := errors.Is(err, ErrTypeNotOffered); got != tt.wantErr {
			t.Errorf("ApplySelection(%s, %s) error = %v, want ErrTypeNotOffered %v", tt.grade, tt.qtype, err, tt.wantErr)
		}
		if c.Draft().QuestionType != tt.want {
			t.Errorf("ApplySelection(%s, %s) type = %q, want %q", tt.grade, tt.qtype, c.Draft().QuestionType, tt.want)
		}
		if tt.wantErr && c.NeedsCatalog() {
			t.Errorf("ApplySelection(%s, %s) should not ask for a catalog", tt.grade, tt.qtype)
		}
	}
}

func TestDeselectClearsDerivedFields(t *testing.T) {
	c := loaded(t)
	if err := c.Select(""); err != nil {
		t.Fatalf("Select(\"\"): %v", err)
	}
	d := c.Draft()
	if d.QuestionID != "" || d.Question != "" || d.MinWords != 0 || d.MaxWords != 0 {
		t.Errorf("catalog values left in the draft: %+v", d)
	}
	if c.ReadOnly() {
		t.Error("fields should be editable after deselecting")
	}

	err := c.ApplyValues(url.Values{
		FieldQuestionID: {""},
		FieldQuestion:   {"Is homework useful?"},
		FieldMinWords:   {"50"},
		FieldMaxWords:   {"60"},
	})
	if err != nil {
		t.Fatalf("ApplyValues: %v", err)
	}
	if d := c.Draft(); d.Question != "Is homework useful?" || d.MinWords != 50 || d.MaxWords != 60 {
		t.Errorf("manual values not applied: %+v", d)
	}
}

func TestAssistantName(t *testing.T) {
	c := New()
	if err := c.SetField(FieldAssistantName, " Lumo "); err != nil {
		t.Fatalf("SetField(lumo): %v", err)
	}
	if got := c.Draft().AssistantName; got != "lumo" {
		t.Errorf("assistant = %q, want lumo", got)
	}
	if err := c.SetField(FieldAssistantName, "hal"); !errors.Is(err, ErrUnknownAssistant) {
		t.Errorf("SetField(hal) error = %v, want ErrUnknownAssistant", err)
	}
	if got := c.Draft().AssistantName; got != "lumo" {
		t.Errorf("rejected assistant changed the draft: %q", got)
	}
	if err := c.SetField(FieldAssistantName, ""); err != nil || c.Draft().AssistantName != "voxa" {
		t.Errorf("empty assistant should fall back to voxa, got %q, %v", c.Draft().AssistantName, err)
	}
}

func TestEditReturnsToIdle(t *testing.T) {
	c := loaded(t)
	c.Begin()
	c.Fail("status 500")
	if err := c.SetField(FieldStudentAnswer, "new answer"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if c.Phase() != PhaseIdle {
		t.Errorf("phase after edit = %v, want idle", c.Phase())
	}
}
