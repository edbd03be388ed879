package compare

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/school-intel/internal/model"
)

// Selector picks one field of one category. Key optionally narrows a
// mapping field to one entry, e.g. tuition.grade_level_costs[Grade 1].
type Selector struct {
	Category model.Category `json:"category"`
	Field    string         `json:"field"`
	Key      string         `json:"key,omitempty"`
}

// String renders the selector in the form ParseSelector accepts.
func (s Selector) String() string {
	out := string(s.Category) + "." + s.Field
	if s.Key != "" {
		out += "[" + s.Key + "]"
	}
	return out
}

// Label is the column header used in tables and spreadsheets.
func (s Selector) Label() string {
	out := s.Category.Title() + "." + s.Field
	if s.Key != "" {
		out += "[" + s.Key + "]"
	}
	return out
}

// ParseSelector parses "category.field" or "category.field[key]". Category
// names may use either the key or the display title.
func ParseSelector(schema *model.Schema, spec string) (Selector, error) {
	spec = strings.TrimSpace(spec)
	var key string
	if i := strings.Index(spec, "["); i >= 0 {
		if !strings.HasSuffix(spec, "]") {
			return Selector{}, eris.Errorf("compare: unterminated key in selector %q", spec)
		}
		key = strings.TrimSpace(spec[i+1 : len(spec)-1])
		spec = spec[:i]
		if key == "" {
			return Selector{}, eris.Errorf("compare: empty key in selector %q", spec)
		}
	}

	catName, field, ok := strings.Cut(spec, ".")
	if !ok || field == "" {
		return Selector{}, eris.Errorf("compare: selector %q must be category.field", spec)
	}
	cat := lookupCategory(schema, catName)
	if cat == nil {
		return Selector{}, eris.Errorf("compare: unknown category %q", catName)
	}
	fd := cat.Field(field)
	if fd == nil {
		return Selector{}, eris.Errorf("compare: unknown field %q in %s", field, cat.Key)
	}
	if key != "" && fd.Kind != model.KindMap {
		return Selector{}, eris.Errorf("compare: %s.%s is not a mapping field", cat.Key, field)
	}
	return Selector{Category: cat.Key, Field: field, Key: key}, nil
}

// ExpandSelectors parses a list of specs. A bare category ("tuition") or
// "tuition.*" expands to every field of the category in schema order.
func ExpandSelectors(schema *model.Schema, specs []string) ([]Selector, error) {
	var out []Selector
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		name := strings.TrimSuffix(spec, ".*")
		if !strings.Contains(name, ".") {
			cat := lookupCategory(schema, name)
			if cat == nil {
				return nil, eris.Errorf("compare: unknown category %q", name)
			}
			for _, f := range cat.Fields {
				out = append(out, Selector{Category: cat.Key, Field: f.Name})
			}
			continue
		}
		sel, err := ParseSelector(schema, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	if len(out) == 0 {
		return nil, eris.New("compare: no selectors given")
	}
	return out, nil
}

func lookupCategory(schema *model.Schema, name string) *model.CategoryDef {
	if c := schema.Category(model.Category(name)); c != nil {
		return c
	}
	for i := range schema.Categories {
		c := &schema.Categories[i]
		if strings.EqualFold(c.Key.Title(), name) || strings.EqualFold(string(c.Key), name) {
			return c
		}
	}
	return nil
}
