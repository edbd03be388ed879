package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/sells-group/school-intel/internal/model"
)

// keySimilarity is the minimum Jaro-Winkler score for a near-miss key.
const keySimilarity = 0.92

// absentPhrases are model answers that mean "not found".
var absentPhrases = map[string]bool{
	"":                         true,
	"-":                        true,
	"n/a":                      true,
	"na":                       true,
	"none":                     true,
	"null":                     true,
	"nil":                      true,
	"unknown":                  true,
	"not found":                true,
	"not available":            true,
	"not specified":            true,
	"not mentioned":            true,
	"no information":           true,
	"no information available": true,
	"no data":                  true,
	"absent":                   true,
}

func isAbsentPhrase(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".")
	return absentPhrases[s]
}

// validation accumulates the outcome of checking one response.
type validation struct {
	record   model.CategoryRecord
	issues   []model.FieldIssue
	repaired bool
}

func (v *validation) issue(cat model.Category, field, problem string, repair bool) {
	v.issues = append(v.issues, model.FieldIssue{Category: cat, Field: field, Problem: problem})
	if repair {
		v.repaired = true
	}
}

// validate maps a parsed response onto the schema. The returned record is
// always complete: missing categories and fields are absent-marked, values
// of the wrong shape are coerced when unambiguous and marked failed
// otherwise.
func validate(s *model.Schema, root *object) *validation {
	v := &validation{record: model.NewAbsentRecord(s)}
	root = unwrapEnvelope(s, root, v)

	catKeys := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		catKeys[i] = string(c.Key)
	}
	seen := make(map[model.Category]bool, len(s.Categories))

	for _, rawKey := range root.keys {
		key, exact, ok := matchKey(rawKey, catKeys)
		if !ok {
			v.issue("", "", fmt.Sprintf("unknown category %q ignored", rawKey), true)
			continue
		}
		cat := model.Category(key)
		if !exact {
			v.issue(cat, "", fmt.Sprintf("category key %q mapped to %q", rawKey, key), true)
		}
		if seen[cat] {
			v.issue(cat, "", "duplicate category ignored", true)
			continue
		}
		seen[cat] = true
		validateCategory(s.Category(cat), root.vals[rawKey], v)
	}

	for _, c := range s.Categories {
		if !seen[c.Key] {
			v.issue(c.Key, "", "category missing from response", true)
		}
	}
	return v
}

// unwrapEnvelope descends into a single wrapper key such as {"school": {...}}
// when none of the top-level keys is a category.
func unwrapEnvelope(s *model.Schema, root *object, v *validation) *object {
	if len(root.keys) != 1 {
		return root
	}
	keys := s.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	if _, _, ok := matchKey(root.keys[0], names); ok {
		return root
	}
	inner, ok := root.vals[root.keys[0]].(*object)
	if !ok {
		return root
	}
	v.issue("", "", fmt.Sprintf("unwrapped envelope key %q", root.keys[0]), true)
	return inner
}

func validateCategory(def *model.CategoryDef, raw any, v *validation) {
	cat := def.Key
	fields, ok := raw.(*object)
	if !ok {
		if raw == nil || isAbsentString(raw) {
			return
		}
		v.issue(cat, "", "category is not an object; fields left absent", true)
		return
	}

	names := def.FieldNames()
	seen := make(map[string]bool, len(names))
	for _, rawKey := range fields.keys {
		name, exact, ok := matchKey(rawKey, names)
		if !ok {
			v.issue(cat, rawKey, "unknown field ignored", true)
			continue
		}
		if !exact {
			v.issue(cat, name, fmt.Sprintf("field key %q mapped", rawKey), true)
		}
		if seen[name] {
			v.issue(cat, name, "duplicate field ignored", true)
			continue
		}
		seen[name] = true

		fd := def.Field(name)
		val, note := coerce(fd.Kind, fields.vals[rawKey])
		v.record[cat][name] = val
		switch {
		case val.IsFailed():
			v.issue(cat, name, note, true)
		case note != "":
			v.issue(cat, name, note, true)
		}
	}

	for _, name := range names {
		if !seen[name] {
			v.issue(cat, name, "field missing from response", true)
		}
	}
}

func isAbsentString(raw any) bool {
	s, ok := raw.(string)
	return ok && isAbsentPhrase(s)
}

// coerce converts a decoded JSON value to the field's declared kind. note is
// non-empty when a coercion happened or the value failed.
func coerce(kind model.FieldKind, raw any) (model.Value, string) {
	switch t := raw.(type) {
	case nil:
		return model.Absent(), ""
	case string:
		return coerceString(kind, t, "")
	case json.Number, float64, bool:
		s, _ := scalarText(t)
		return coerceString(kind, s, "number or bool converted to text")
	case []any:
		return coerceList(kind, t)
	case *object:
		return coerceObject(kind, t)
	}
	return model.Failed(rawText(raw)), violation("unsupported value")
}

func coerceString(kind model.FieldKind, s, note string) (model.Value, string) {
	s = strings.TrimSpace(s)
	if isAbsentPhrase(s) {
		return model.Absent(), note
	}
	switch kind {
	case model.KindScalar:
		return model.Scalar(s), note
	case model.KindList:
		return model.List(s), joinNote(note, "scalar wrapped as list")
	default:
		if entries, ok := parseEntries([]string{s}); ok {
			return model.Mapping(entries...), joinNote(note, "text parsed as mapping")
		}
		return model.Failed(s), violation("text where mapping expected")
	}
}

func coerceList(kind model.FieldKind, arr []any) (model.Value, string) {
	var items []string
	note := ""
	for _, x := range arr {
		switch t := x.(type) {
		case nil:
			continue
		case string:
			if isAbsentPhrase(t) {
				continue
			}
			items = append(items, strings.TrimSpace(t))
		case json.Number, float64, bool:
			s, _ := scalarText(t)
			items = append(items, s)
			note = "list items converted to text"
		case *object:
			s, ok := flattenObject(t)
			if !ok {
				return model.Failed(rawText(arr)), violation("nested list item")
			}
			items = append(items, s)
			note = "list of objects flattened"
		default:
			return model.Failed(rawText(arr)), violation("nested list item")
		}
	}
	if len(items) == 0 {
		return model.Absent(), note
	}

	switch kind {
	case model.KindList:
		return model.List(items...), note
	case model.KindScalar:
		if len(items) == 1 {
			return model.Scalar(items[0]), joinNote(note, "singleton list unwrapped")
		}
		return model.Failed(rawText(arr)), violation(fmt.Sprintf("%d items where one expected", len(items)))
	default:
		if entries, ok := parseEntries(items); ok {
			return model.Mapping(entries...), joinNote(note, "list parsed as mapping")
		}
		return model.Failed(rawText(arr)), violation("list where mapping expected")
	}
}

func coerceObject(kind model.FieldKind, obj *object) (model.Value, string) {
	if len(obj.keys) == 0 {
		return model.Absent(), ""
	}
	entries, flattened, ok := objectEntries(obj, "")
	if !ok {
		return model.Failed(rawText(obj)), violation("unsupported nested value")
	}
	if len(entries) == 0 {
		return model.Absent(), ""
	}

	switch kind {
	case model.KindMap:
		if flattened {
			return model.Mapping(entries...), "nested mapping flattened"
		}
		return model.Mapping(entries...), ""
	case model.KindList:
		items := make([]string, len(entries))
		for i, e := range entries {
			items[i] = e.Key + ": " + e.Value
		}
		return model.List(items...), "object converted to list"
	default:
		return model.Failed(rawText(obj)), violation("object where scalar expected")
	}
}

// objectEntries flattens an object into entries, joining nested keys with
// "/". Absent-phrase values are dropped.
func objectEntries(obj *object, prefix string) (entries []model.Entry, flattened, ok bool) {
	for _, k := range obj.keys {
		key := strings.TrimSpace(k)
		if prefix != "" {
			key = prefix + "/" + key
		}
		switch t := obj.vals[k].(type) {
		case nil:
			continue
		case *object:
			sub, _, ok := objectEntries(t, key)
			if !ok {
				return nil, false, false
			}
			entries = append(entries, sub...)
			flattened = true
		case []any:
			var parts []string
			for _, x := range t {
				s, ok := scalarText(x)
				if !ok {
					return nil, false, false
				}
				if !isAbsentPhrase(s) {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				entries = append(entries, model.Entry{Key: key, Value: strings.Join(parts, ", ")})
				flattened = true
			}
		default:
			s, ok := scalarText(t)
			if !ok {
				return nil, false, false
			}
			if isAbsentPhrase(s) {
				continue
			}
			entries = append(entries, model.Entry{Key: key, Value: strings.TrimSpace(s)})
		}
	}
	return entries, flattened, true
}

func flattenObject(obj *object) (string, bool) {
	entries, _, ok := objectEntries(obj, "")
	if !ok {
		return "", false
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Key + ": " + e.Value
	}
	return strings.Join(parts, ", "), true
}

// parseEntries reads "key: value" lines into mapping entries. Every item
// must carry a separator for the parse to count.
func parseEntries(items []string) ([]model.Entry, bool) {
	var entries []model.Entry
	for _, item := range items {
		for _, part := range strings.Split(item, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			k, val, ok := strings.Cut(part, ":")
			if !ok || strings.TrimSpace(k) == "" || strings.TrimSpace(val) == "" {
				return nil, false
			}
			entries = append(entries, model.Entry{Key: strings.TrimSpace(k), Value: strings.TrimSpace(val)})
		}
	}
	return entries, len(entries) > 0
}

func scalarText(x any) (string, bool) {
	switch t := x.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func rawText(x any) string {
	b, err := json.Marshal(x)
	if err != nil {
		return fmt.Sprint(x)
	}
	return string(b)
}

func violation(msg string) string {
	return model.ErrSchemaViolation.Error() + ": " + msg
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

// foldKey lowercases a key and drops separators so "Student Life",
// "student-life" and "StudentLife" compare equal.
func foldKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// matchKey resolves raw against candidates: exact, then folded, then by
// Jaro-Winkler similarity on folded forms.
func matchKey(raw string, candidates []string) (key string, exact, ok bool) {
	for _, c := range candidates {
		if raw == c {
			return c, true, true
		}
	}
	folded := foldKey(raw)
	for _, c := range candidates {
		if folded == foldKey(c) {
			return c, false, true
		}
	}
	best, bestScore := "", 0.0
	for _, c := range candidates {
		if score := matchr.JaroWinkler(folded, foldKey(c), false); score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore >= keySimilarity {
		return best, false, true
	}
	return "", false, false
}
