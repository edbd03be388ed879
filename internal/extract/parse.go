package extract

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/titanous/json5"

	"github.com/sells-group/school-intel/internal/model"
)

// object is a decoded JSON object that remembers key order.
type object struct {
	keys []string
	vals map[string]any
}

func newObject() *object { return &object{vals: make(map[string]any)} }

func (o *object) set(k string, v any) {
	if _, ok := o.vals[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.vals[k] = v
}

// MarshalJSON writes keys in source order.
func (o *object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// cleanJSON strips markdown code fences and surrounding prose, keeping the
// outermost {...} span.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseResponse decodes model output into an ordered object. Strict JSON is
// tried first; json5 covers single quotes, trailing commas and comments.
// lenient reports whether the json5 fallback was needed.
func parseResponse(text string) (obj *object, lenient bool, err error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, false, eris.Wrap(model.ErrExtractionParse, "extract: empty response")
	}

	if obj, err := decodeStrict(cleaned); err == nil {
		return obj, false, nil
	}

	var loose any
	if err := json5.Unmarshal([]byte(cleaned), &loose); err != nil {
		return nil, false, eris.Wrapf(model.ErrExtractionParse, "extract: invalid json: %v", err)
	}
	root, ok := fromLoose(loose, cleaned).(*object)
	if !ok {
		return nil, false, eris.Wrap(model.ErrExtractionParse, "extract: top-level value is not an object")
	}
	return root, true, nil
}

func decodeStrict(s string) (*object, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, eris.New("trailing data after object")
	}
	obj, ok := v.(*object)
	if !ok {
		return nil, eris.New("top-level value is not an object")
	}
	return obj, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := newObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, eris.New("object key is not a string")
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, eris.Errorf("unexpected delimiter %q", t)
	default:
		return t, nil
	}
}

// fromLoose converts json5 output into ordered objects. json5 decodes into
// plain maps, so key order is recovered from the first occurrence of each
// key in the source text.
func fromLoose(v any, src string) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.SliceStable(keys, func(i, j int) bool {
			pi, pj := keyPos(src, keys[i]), keyPos(src, keys[j])
			if pi != pj {
				return pi < pj
			}
			return keys[i] < keys[j]
		})
		obj := newObject()
		for _, k := range keys {
			obj.set(k, fromLoose(t[k], src))
		}
		return obj
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = fromLoose(x, src)
		}
		return out
	default:
		return t
	}
}

func keyPos(src, key string) int {
	if i := strings.Index(src, `"`+key+`"`); i >= 0 {
		return i
	}
	if i := strings.Index(src, `'`+key+`'`); i >= 0 {
		return i
	}
	if i := strings.Index(src, key); i >= 0 {
		return i
	}
	return len(src)
}
