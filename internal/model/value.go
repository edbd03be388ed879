package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ValueState distinguishes a found value from the explicit missing markers.
type ValueState string

const (
	StatePresent ValueState = "present"
	StateAbsent  ValueState = "absent"
	// StateFailed marks a field whose model output could not be coerced to
	// the field's shape. Raw keeps the offending text.
	StateFailed ValueState = "failed"
)

const markerKey = "$marker"

// Entry is one key/value pair of a mapping field. Entries keep source order.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Value is a field value: a scalar, an ordered list, an ordered mapping, or
// one of the absent/failed markers. The zero Value is absent.
type Value struct {
	State  ValueState
	Kind   FieldKind
	Scalar string
	List   []string
	Map    []Entry
	Raw    string
}

// Absent returns the "not found in source" marker.
func Absent() Value { return Value{State: StateAbsent} }

// Failed returns a field-level failure marker carrying the raw model text.
func Failed(raw string) Value { return Value{State: StateFailed, Raw: raw} }

// Scalar returns a present scalar value.
func Scalar(s string) Value { return Value{State: StatePresent, Kind: KindScalar, Scalar: s} }

// List returns a present list value.
func List(items ...string) Value {
	cp := make([]string, len(items))
	copy(cp, items)
	return Value{State: StatePresent, Kind: KindList, List: cp}
}

// Mapping returns a present mapping value.
func Mapping(entries ...Entry) Value {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return Value{State: StatePresent, Kind: KindMap, Map: cp}
}

// IsPresent reports whether the value holds data.
func (v Value) IsPresent() bool { return v.State == StatePresent }

// IsAbsent reports whether the value is the absent marker.
func (v Value) IsAbsent() bool { return v.State == StateAbsent || v.State == "" }

// IsFailed reports whether the value is a field-level failure marker.
func (v Value) IsFailed() bool { return v.State == StateFailed }

// Lookup returns the mapping value for key.
func (v Value) Lookup(key string) (string, bool) {
	for _, e := range v.Map {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Items flattens a present value into display strings. Mapping entries
// render as "key: value".
func (v Value) Items() []string {
	if !v.IsPresent() {
		return nil
	}
	switch v.Kind {
	case KindList:
		return v.List
	case KindMap:
		out := make([]string, len(v.Map))
		for i, e := range v.Map {
			out[i] = e.Key + ": " + e.Value
		}
		return out
	default:
		return []string{v.Scalar}
	}
}

// String renders the value for text output.
func (v Value) String() string {
	switch {
	case v.IsFailed():
		return "[failed]"
	case v.IsAbsent():
		return "[absent]"
	}
	return strings.Join(v.Items(), "; ")
}

// Equal compares two values, preserving list and mapping order.
func (v Value) Equal(o Value) bool {
	if v.IsAbsent() && o.IsAbsent() {
		return true
	}
	if v.State != o.State {
		return false
	}
	if v.IsFailed() {
		return v.Raw == o.Raw
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for i := range v.Map {
			if v.Map[i] != o.Map[i] {
				return false
			}
		}
		return true
	default:
		return v.Scalar == o.Scalar
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	out := v
	if v.List != nil {
		out.List = append([]string(nil), v.List...)
	}
	if v.Map != nil {
		out.Map = append([]Entry(nil), v.Map...)
	}
	return out
}

type marker struct {
	Marker ValueState `json:"$marker"`
	Raw    string     `json:"raw,omitempty"`
}

// MarshalJSON encodes present values as plain JSON (string, array, object)
// and markers as {"$marker": "..."} so that absent never collapses into "".
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.IsFailed():
		return json.Marshal(marker{Marker: StateFailed, Raw: v.Raw})
	case v.IsAbsent():
		return json.Marshal(marker{Marker: StateAbsent})
	}

	switch v.Kind {
	case KindList:
		items := v.List
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, e := range v.Map {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(e.Key)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(e.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return json.Marshal(v.Scalar)
	}
}

// UnmarshalJSON is the inverse of MarshalJSON. Mapping key order is kept.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: decode value")
	}

	switch t := tok.(type) {
	case nil:
		*v = Absent()
	case string:
		*v = Scalar(t)
	case json.Number:
		*v = Scalar(t.String())
	case bool:
		*v = Scalar(strconv.FormatBool(t))
	case json.Delim:
		switch t {
		case '[':
			items := []string{}
			for dec.More() {
				var item any
				if err := dec.Decode(&item); err != nil {
					return eris.Wrap(err, "model: decode list item")
				}
				s, ok := scalarString(item)
				if !ok {
					return eris.Errorf("model: list item must be a scalar, got %T", item)
				}
				items = append(items, s)
			}
			*v = Value{State: StatePresent, Kind: KindList, List: items}
		case '{':
			var entries []Entry
			isMarker := false
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return eris.Wrap(err, "model: decode mapping key")
				}
				key, _ := kt.(string)
				if key == markerKey && len(entries) == 0 {
					isMarker = true
					break
				}
				var item any
				if err := dec.Decode(&item); err != nil {
					return eris.Wrap(err, "model: decode mapping value")
				}
				s, ok := scalarString(item)
				if !ok {
					return eris.Errorf("model: mapping value for %q must be a scalar", key)
				}
				entries = append(entries, Entry{Key: key, Value: s})
			}
			if isMarker {
				var m marker
				if err := json.Unmarshal(data, &m); err != nil {
					return eris.Wrap(err, "model: decode marker")
				}
				switch m.Marker {
				case StateAbsent:
					*v = Absent()
				case StateFailed:
					*v = Failed(m.Raw)
				default:
					return eris.Errorf("model: unknown value marker %q", m.Marker)
				}
				return nil
			}
			*v = Value{State: StatePresent, Kind: KindMap, Map: entries}
		}
	}
	return nil
}

func scalarString(x any) (string, bool) {
	switch t := x.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
