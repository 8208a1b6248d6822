// Package value implements the universal message carried on every edge
// of a compiled workflow graph: a dynamically-typed structured value
// plus optional envelope metadata.
package value

import (
	"encoding/json"
	"fmt"
)

// Kind tags the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

// Value is a dynamically-typed structured value: null, boolean, number,
// string, an ordered sequence of Value, or a mapping from string to
// Value. Clone performs a deep structural copy. A point-to-point edge
// passes a value on without copying it; a fan-out deep-copies it once per
// branch, so a fanned-out branch can never observe a sibling's in-place
// mutation. There is no shared-ownership or copy-on-write storage.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	m    map[string]Value
}

// Null is the null Value.
var Null = Value{kind: KindNull}

func Bool(b bool) Value   { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value  { return Value{kind: KindString, s: s} }

func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: items}
}

func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) Number() (float64, bool)  { return v.n, v.kind == KindNumber }
func (v Value) String() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) Array() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) Map() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// Get looks up a field by dot-notation path on a map Value (e.g.
// "user.address.city"). Missing intermediate keys or a path through a
// non-map value yield Null, ok=false.
func (v Value) Get(path string) (Value, bool) {
	cur := v
	if path == "" {
		return cur, true
	}
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			key := path[start:i]
			m, ok := cur.Map()
			if !ok {
				return Null, false
			}
			next, exists := m[key]
			if !exists {
				return Null, false
			}
			cur = next
			start = i + 1
		}
	}
	return cur, true
}

// Clone returns a deep, independent copy of v. Maps and arrays are
// recursively copied; scalars are already immutable.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		out := make([]Value, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Clone()
		}
		return Value{kind: KindArray, arr: out}
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			out[k] = item.Clone()
		}
		return Value{kind: KindMap, m: out}
	default:
		return v
	}
}

// FromGo converts an arbitrary decoded JSON/YAML value (as produced by
// encoding/json or gopkg.in/yaml.v3 with a map[string]interface{} target)
// into a Value.
func FromGo(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromGo(item)
		}
		return Array(items...)
	case []Value:
		return Array(t...)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromGo(item)
		}
		return Map(m)
	case map[interface{}]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[fmt.Sprintf("%v", k)] = FromGo(item)
		}
		return Map(m)
	case Value:
		return t
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToGo converts a Value back into plain interface{} types suitable for
// json.Marshal or the expression evaluator.
func (v Value) ToGo() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.ToGo()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, item := range v.m {
			out[k] = item.ToGo()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler so a Value can be sent directly
// as the "value" field of an EdgeData event.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToGo())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromGo(raw)
	return nil
}
