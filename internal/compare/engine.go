// Package compare builds cross-school comparison matrices from the latest
// stored records. It only reads the record store.
package compare

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/school-intel/internal/model"
)

// MissingReason explains an empty cell.
type MissingReason string

const (
	// ReasonNoData means the school has no successful extraction.
	ReasonNoData MissingReason = "no-data"
	// ReasonFieldAbsent means the record marks the field as not found.
	ReasonFieldAbsent MissingReason = "field-absent"
	// ReasonFieldFailed means the field failed validation.
	ReasonFieldFailed MissingReason = "field-failed"
)

// Marker is the display form of a missing cell, e.g. "[no-data]".
func (r MissingReason) Marker() string { return "[" + string(r) + "]" }

// Cell is one (school, selector) value of a matrix.
type Cell struct {
	Missing MissingReason `json:"missing,omitempty"`
	Items   []Item        `json:"items,omitempty"`
}

// IsMissing reports whether the cell carries a missing marker.
func (c Cell) IsMissing() bool { return c.Missing != "" }

// Text renders the cell. Missing cells render as their marker; present
// cells join their normalized items with "; ".
func (c Cell) Text() string {
	if c.IsMissing() {
		return c.Missing.Marker()
	}
	parts := make([]string, len(c.Items))
	for i, it := range c.Items {
		if it.Key != "" {
			parts[i] = it.Key + ": " + it.Normalized
		} else {
			parts[i] = it.Normalized
		}
	}
	return strings.Join(parts, "; ")
}

// Row holds one school's cells in selector order.
type Row struct {
	SchoolID string                 `json:"school_id"`
	Status   model.ValidationStatus `json:"validation_status,omitempty"`
	Cells    []Cell                 `json:"cells"`
}

// Matrix is a derived comparison table. Rows follow the caller's school
// order and columns follow the selector order.
type Matrix struct {
	Selectors []Selector `json:"selectors"`
	Rows      []Row      `json:"rows"`
}

// Column returns the cells of column i, one per row.
func (m *Matrix) Column(i int) []Cell {
	out := make([]Cell, len(m.Rows))
	for r, row := range m.Rows {
		out[r] = row.Cells[i]
	}
	return out
}

// RecordSource is the read side of the record store.
type RecordSource interface {
	GetLatest(ctx context.Context, schoolID string) (*model.ExtractionResult, error)
}

// Engine builds comparison matrices.
type Engine struct {
	source RecordSource
	schema *model.Schema
	units  *Normalizer
}

// Option configures an Engine.
type Option func(*Engine)

// WithSchema overrides the default schema.
func WithSchema(s *model.Schema) Option { return func(e *Engine) { e.schema = s } }

// WithCurrency sets the currency assumed for bare amounts.
func WithCurrency(code string) Option { return func(e *Engine) { e.units = NewNormalizer(code) } }

// New creates an Engine reading from source.
func New(source RecordSource, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		schema: model.DefaultSchema(),
		units:  NewNormalizer("PHP"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the engine's schema.
func (e *Engine) Schema() *model.Schema { return e.schema }

// Compare builds the matrix for schoolIDs x selectors. Duplicate school IDs
// keep their first position. Schools with no successful extraction get
// no-data cells; only store failures other than "not found" or "no
// successful extraction" abort the call.
func (e *Engine) Compare(ctx context.Context, schoolIDs []string, selectors []Selector) (*Matrix, error) {
	if len(selectors) == 0 {
		return nil, eris.New("compare: no selectors given")
	}
	for _, sel := range selectors {
		if err := e.check(sel); err != nil {
			return nil, err
		}
	}

	m := &Matrix{Selectors: append([]Selector(nil), selectors...)}
	seen := make(map[string]bool, len(schoolIDs))
	for _, id := range schoolIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := e.source.GetLatest(ctx, id)
		switch {
		case err == nil:
		case eris.Is(err, model.ErrNoSuccessfulExtraction), eris.Is(err, model.ErrSchoolNotFound):
			zap.L().Debug("compare: no successful extraction", zap.String("school_id", id), zap.Error(err))
			res = nil
		default:
			return nil, eris.Wrapf(err, "compare: read %s", id)
		}
		m.Rows = append(m.Rows, e.row(id, res, selectors))
	}
	return m, nil
}

// Build computes a matrix from results already in hand, keyed by school ID.
// A missing or unsuccessful result produces a no-data row.
func (e *Engine) Build(schoolIDs []string, selectors []Selector, results map[string]*model.ExtractionResult) (*Matrix, error) {
	local := *e
	local.source = resultSet(results)
	return local.Compare(context.Background(), schoolIDs, selectors)
}

// resultSet serves latest results from memory.
type resultSet map[string]*model.ExtractionResult

func (r resultSet) GetLatest(_ context.Context, id string) (*model.ExtractionResult, error) {
	res, ok := r[id]
	if !ok {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "school %s", id)
	}
	if !res.Succeeded() {
		return res, eris.Wrapf(model.ErrNoSuccessfulExtraction, "school %s", id)
	}
	return res, nil
}

func (e *Engine) check(sel Selector) error {
	cat := e.schema.Category(sel.Category)
	if cat == nil {
		return eris.Errorf("compare: unknown category %q", sel.Category)
	}
	fd := cat.Field(sel.Field)
	if fd == nil {
		return eris.Errorf("compare: unknown field %q in %s", sel.Field, sel.Category)
	}
	if sel.Key != "" && fd.Kind != model.KindMap {
		return eris.Errorf("compare: %s is not a mapping field", sel)
	}
	return nil
}

func (e *Engine) row(id string, res *model.ExtractionResult, selectors []Selector) Row {
	row := Row{SchoolID: id, Cells: make([]Cell, len(selectors))}
	if res == nil || !res.Succeeded() {
		for i := range row.Cells {
			row.Cells[i] = Cell{Missing: ReasonNoData}
		}
		return row
	}
	row.Status = res.Status
	for i, sel := range selectors {
		row.Cells[i] = e.cell(res.Record, sel)
	}
	return row
}

func (e *Engine) cell(rec model.CategoryRecord, sel Selector) Cell {
	v, ok := rec.Get(sel.Category, sel.Field)
	if !ok || v.IsAbsent() {
		return Cell{Missing: ReasonFieldAbsent}
	}
	if v.IsFailed() {
		return Cell{Missing: ReasonFieldFailed}
	}
	unit := e.schema.Category(sel.Category).Field(sel.Field).Unit

	switch v.Kind {
	case model.KindMap:
		var items []Item
		for _, entry := range v.Map {
			if sel.Key != "" && !strings.EqualFold(strings.TrimSpace(entry.Key), sel.Key) {
				continue
			}
			it := e.units.Normalize(unit, entry.Value)
			it.Key = entry.Key
			items = append(items, it)
		}
		if len(items) == 0 {
			return Cell{Missing: ReasonFieldAbsent}
		}
		return Cell{Items: items}
	case model.KindList:
		items := make([]Item, len(v.List))
		for i, s := range v.List {
			items[i] = e.units.Normalize(unit, s)
		}
		return Cell{Items: items}
	default:
		return Cell{Items: []Item{e.units.Normalize(unit, v.Scalar)}}
	}
}
