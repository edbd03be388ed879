package model

import (
	"fmt"
	"time"
)

// CategoryValues maps field name to value within one category.
type CategoryValues map[string]Value

// CategoryRecord is the structured record of one school: every schema
// category is present, and every field of every category is present
// (possibly absent-marked).
type CategoryRecord map[Category]CategoryValues

// NewAbsentRecord returns a complete record with every field absent.
func NewAbsentRecord(s *Schema) CategoryRecord {
	rec := make(CategoryRecord, len(s.Categories))
	for _, c := range s.Categories {
		vals := make(CategoryValues, len(c.Fields))
		for _, f := range c.Fields {
			vals[f.Name] = Absent()
		}
		rec[c.Key] = vals
	}
	return rec
}

// Get returns the value of a field and whether the record carries the key.
func (r CategoryRecord) Get(cat Category, field string) (Value, bool) {
	vals, ok := r[cat]
	if !ok {
		return Value{}, false
	}
	v, ok := vals[field]
	return v, ok
}

// Missing lists "category.field" keys the schema defines but the record
// lacks. An empty result means the record is complete.
func (r CategoryRecord) Missing(s *Schema) []string {
	var missing []string
	for _, c := range s.Categories {
		vals, ok := r[c.Key]
		if !ok {
			missing = append(missing, string(c.Key))
			continue
		}
		for _, f := range c.Fields {
			if _, ok := vals[f.Name]; !ok {
				missing = append(missing, fmt.Sprintf("%s.%s", c.Key, f.Name))
			}
		}
	}
	return missing
}

// HasData reports whether any field of the category holds a present value.
func (r CategoryRecord) HasData(cat Category) bool {
	for _, v := range r[cat] {
		if v.IsPresent() {
			return true
		}
	}
	return false
}

// Equal compares two records field by field.
func (r CategoryRecord) Equal(o CategoryRecord) bool {
	if len(r) != len(o) {
		return false
	}
	for cat, vals := range r {
		ovals, ok := o[cat]
		if !ok || len(vals) != len(ovals) {
			return false
		}
		for name, v := range vals {
			ov, ok := ovals[name]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy so callers never share a stored record.
func (r CategoryRecord) Clone() CategoryRecord {
	if r == nil {
		return nil
	}
	out := make(CategoryRecord, len(r))
	for cat, vals := range r {
		cp := make(CategoryValues, len(vals))
		for k, v := range vals {
			cp[k] = v.Clone()
		}
		out[cat] = cp
	}
	return out
}

// ValidationStatus is the outcome of validating a model response against
// the schema.
type ValidationStatus string

const (
	StatusValid    ValidationStatus = "valid"
	StatusRepaired ValidationStatus = "repaired"
	StatusFailed   ValidationStatus = "failed"
)

// FieldIssue records a schema violation found while validating model output.
type FieldIssue struct {
	Category Category `json:"category"`
	Field    string   `json:"field,omitempty"`
	Problem  string   `json:"problem"`
}

// ExtractionResult wraps a CategoryRecord with its provenance. It is never
// mutated after creation; corrections are new results.
type ExtractionResult struct {
	SchoolID      string           `json:"source_school_id"`
	ExtractedAt   time.Time        `json:"extracted_at"`
	AttemptCount  int              `json:"attempt_count"`
	Status        ValidationStatus `json:"validation_status"`
	Record        CategoryRecord   `json:"record"`
	Issues        []FieldIssue     `json:"issues,omitempty"`
	EmptyDocument bool             `json:"empty_document,omitempty"`
	Model         string           `json:"model,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Succeeded reports whether the result carries a usable record.
func (r *ExtractionResult) Succeeded() bool {
	return r != nil && (r.Status == StatusValid || r.Status == StatusRepaired)
}

// Clone returns a deep copy.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Record = r.Record.Clone()
	if r.Issues != nil {
		cp.Issues = append([]FieldIssue(nil), r.Issues...)
	}
	return &cp
}

// NewFailedResult returns a failed result with an all-absent record.
func NewFailedResult(s *Schema, schoolID string, attempts int, at time.Time, reason string) *ExtractionResult {
	return &ExtractionResult{
		SchoolID:     schoolID,
		ExtractedAt:  at,
		AttemptCount: attempts,
		Status:       StatusFailed,
		Record:       NewAbsentRecord(s),
		Error:        reason,
	}
}
