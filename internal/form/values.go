package form

import (
	"errors"
	"net/url"
)

// editableFields are applied by ApplyValues in this order.
var editableFields = []string{
	FieldQuestion,
	FieldMinWords,
	FieldMaxWords,
	FieldUnderlined,
	FieldStudentName,
	FieldStudentGrade,
	FieldTeacherID,
	FieldStudentAnswer,
	FieldAssistantName,
	FieldReviewType,
}

// ApplySelection sets grade and type from submitted form values. Call it
// before fetching the catalog. A type the grade does not offer is left unset
// and reported as ErrTypeNotOffered.
func (c *Controller) ApplySelection(vals url.Values) error {
	if vals.Has(FieldExamGrade) {
		_ = c.SetField(FieldExamGrade, vals.Get(FieldExamGrade))
	}
	if vals.Has(FieldQuestionType) {
		return c.SetField(FieldQuestionType, vals.Get(FieldQuestionType))
	}
	return nil
}

// ApplyValues copies the remaining submitted fields into the draft after the
// catalog has been applied. A present question_id overrides the automatic
// pick; fields derived from a selected question are skipped. Errors for
// individual fields are joined and the other fields are still applied.
func (c *Controller) ApplyValues(vals url.Values) error {
	var errs []error
	if vals.Has(FieldQuestionID) {
		if err := c.Select(vals.Get(FieldQuestionID)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range editableFields {
		if !vals.Has(name) {
			continue
		}
		if c.ReadOnly() && (name == FieldQuestion || name == FieldMinWords || name == FieldMaxWords) {
			continue
		}
		if err := c.SetField(name, vals.Get(name)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range vals["additional_instructions"] {
		c.AddInstruction(s)
	}
	return errors.Join(errs...)
}
