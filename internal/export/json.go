// Package export renders stored records as schema-faithful JSON and as
// comparison spreadsheets, and reads exported JSON back.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/school-intel/internal/model"
)

// Source is the read side of the record store the exporter needs.
type Source interface {
	GetLatest(ctx context.Context, schoolID string) (*model.ExtractionResult, error)
	GetSchool(ctx context.Context, schoolID string) (*model.School, error)
}

// SchoolDocument is the exported form of one school's latest result.
type SchoolDocument struct {
	SchoolID         string                 `json:"school_id"`
	Name             string                 `json:"name,omitempty"`
	SourceURLs       []string               `json:"source_urls,omitempty"`
	ExtractedAt      time.Time              `json:"extracted_at"`
	AttemptCount     int                    `json:"attempt_count"`
	ValidationStatus model.ValidationStatus `json:"validation_status"`
	EmptyDocument    bool                   `json:"empty_document,omitempty"`
	Model            string                 `json:"model,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Issues           []model.FieldIssue     `json:"issues,omitempty"`
	Record           Record                 `json:"record"`
}

// Combined is the multi-school export document.
type Combined struct {
	ExportedAt time.Time        `json:"exported_at"`
	Schools    []SchoolDocument `json:"schools"`
}

// Record marshals a CategoryRecord with categories and fields in schema
// order. Every schema key is written, absent markers included.
type Record struct {
	Schema *model.Schema
	Values model.CategoryRecord
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	schema := r.Schema
	if schema == nil {
		schema = model.DefaultSchema()
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cat := range schema.Categories {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, string(cat.Key))
		buf.WriteByte('{')
		for j, f := range cat.Fields {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeKey(&buf, f.Name)
			v, _ := r.Values.Get(cat.Key, f.Name)
			b, err := json.Marshal(v)
			if err != nil {
				return nil, eris.Wrapf(err, "export: marshal %s.%s", cat.Key, f.Name)
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var vals model.CategoryRecord
	if err := json.Unmarshal(data, &vals); err != nil {
		return eris.Wrap(err, "export: decode record")
	}
	r.Values = vals
	return nil
}

func writeKey(buf *bytes.Buffer, k string) {
	b, _ := json.Marshal(k)
	buf.Write(b)
	buf.WriteByte(':')
}

// Exporter reads latest results and renders them.
type Exporter struct {
	source Source
	schema *model.Schema
	now    func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithSchema overrides the default schema.
func WithSchema(s *model.Schema) Option { return func(e *Exporter) { e.schema = s } }

// WithClock overrides time.Now for exported_at stamps.
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// New creates an Exporter.
func New(source Source, opts ...Option) *Exporter {
	e := &Exporter{source: source, schema: model.DefaultSchema(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Documents loads the export documents of schoolIDs in order. A school
// with no successful extraction exports its latest failed result. A record
// that is missing schema keys fails the whole call with
// ErrExportInconsistency.
func (e *Exporter) Documents(ctx context.Context, schoolIDs []string) ([]SchoolDocument, error) {
	docs := make([]SchoolDocument, 0, len(schoolIDs))
	for _, id := range schoolIDs {
		res, err := e.source.GetLatest(ctx, id)
		if err != nil && !(res != nil && eris.Is(err, model.ErrNoSuccessfulExtraction)) {
			return nil, eris.Wrapf(err, "export: read %s", id)
		}
		if missing := res.Record.Missing(e.schema); len(missing) > 0 {
			zap.L().Error("export: record violates schema completeness",
				zap.String("school_id", id),
				zap.Strings("missing", missing),
			)
			return nil, eris.Wrapf(model.ErrExportInconsistency, "school %s missing %v", id, missing)
		}

		doc := SchoolDocument{
			SchoolID:         id,
			ExtractedAt:      res.ExtractedAt,
			AttemptCount:     res.AttemptCount,
			ValidationStatus: res.Status,
			EmptyDocument:    res.EmptyDocument,
			Model:            res.Model,
			Error:            res.Error,
			Issues:           res.Issues,
			Record:           Record{Schema: e.schema, Values: res.Record},
		}
		if s, err := e.source.GetSchool(ctx, id); err == nil && s != nil {
			doc.Name = s.Name
			doc.SourceURLs = s.SourceURLs
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ExportJSON renders one indented JSON document per school, keyed by school
// ID, or a single combined document under the "combined" key.
func (e *Exporter) ExportJSON(ctx context.Context, schoolIDs []string, combined bool) (map[string][]byte, error) {
	docs, err := e.Documents(ctx, schoolIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(docs))
	if combined {
		b, err := json.MarshalIndent(Combined{ExportedAt: e.now().UTC(), Schools: docs}, "", "  ")
		if err != nil {
			return nil, eris.Wrap(err, "export: marshal combined")
		}
		out[CombinedKey] = b
		return out, nil
	}
	for _, d := range docs {
		b, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return nil, eris.Wrapf(err, "export: marshal %s", d.SchoolID)
		}
		out[d.SchoolID] = b
	}
	return out, nil
}

// CombinedKey is the ExportJSON map key of a combined document.
const CombinedKey = "combined"

// ImportJSON reads a per-school or combined export document back into
// extraction results. Every record must carry every schema key.
func ImportJSON(schema *model.Schema, data []byte) ([]*model.ExtractionResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, eris.Wrap(err, "export: decode document")
	}

	var docs []SchoolDocument
	if _, ok := probe["schools"]; ok {
		var c Combined
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, eris.Wrap(err, "export: decode combined document")
		}
		docs = c.Schools
	} else {
		var d SchoolDocument
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, eris.Wrap(err, "export: decode school document")
		}
		docs = []SchoolDocument{d}
	}

	out := make([]*model.ExtractionResult, 0, len(docs))
	for _, d := range docs {
		if d.SchoolID == "" {
			return nil, eris.New("export: document without school_id")
		}
		if missing := d.Record.Values.Missing(schema); len(missing) > 0 {
			return nil, eris.Wrapf(model.ErrSchemaViolation, "school %s missing %v", d.SchoolID, missing)
		}
		out = append(out, &model.ExtractionResult{
			SchoolID:      d.SchoolID,
			ExtractedAt:   d.ExtractedAt,
			AttemptCount:  d.AttemptCount,
			Status:        d.ValidationStatus,
			Record:        d.Record.Values,
			Issues:        d.Issues,
			EmptyDocument: d.EmptyDocument,
			Model:         d.Model,
			Error:         d.Error,
		})
	}
	return out, nil
}
