// Package value defines the structured data model exchanged with the bus.
//
// Every call parameter and every reply is a Value: a tree built from
//
//	Null | Bool | Int | Float | String | List | *Map
//
// Map keeps insertion order. The wire codec depends on that order when it
// lays out table members, so it is preserved through encode/decode and
// through the JSON form.
package value

import (
	"errors"
	"fmt"
	"math"
)

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindList:   "list",
	KindMap:    "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a node of the structured data tree. The set of implementations
// is closed; a nil Value is treated as Null.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	Null   struct{}
	Bool   bool
	Int    int64
	Float  float64
	String string
	List   []Value
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (String) Kind() Kind { return KindString }
func (List) Kind() Kind   { return KindList }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (String) isValue() {}
func (List) isValue()   {}

// KindOf returns the kind of v, reporting KindNull for a nil interface.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	if m, ok := v.(*Map); ok && m == nil {
		return KindNull
	}
	return v.Kind()
}

func IsNull(v Value) bool { return KindOf(v) == KindNull }
func IsList(v Value) bool { return KindOf(v) == KindList }
func IsMap(v Value) bool  { return KindOf(v) == KindMap }

// IsScalar reports whether v is a bool, int, float or string.
func IsScalar(v Value) bool {
	switch KindOf(v) {
	case KindBool, KindInt, KindFloat, KindString:
		return true
	}
	return false
}

// Children returns the direct children of a container in order. Scalars and
// Null have none.
func Children(v Value) []Value {
	switch t := v.(type) {
	case List:
		return t
	case *Map:
		if t == nil {
			return nil
		}
		out := make([]Value, 0, len(t.entries))
		for _, e := range t.entries {
			out = append(out, e.Value)
		}
		return out
	}
	return nil
}

// Equal reports deep equality. Map comparison is order-sensitive because
// member order is observable on the wire.
func Equal(a, b Value) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindNull:
		return true
	case KindBool:
		return a.(Bool) == b.(Bool)
	case KindInt:
		return a.(Int) == b.(Int)
	case KindFloat:
		fa, fb := float64(a.(Float)), float64(b.(Float))
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	case KindString:
		return a.(String) == b.(String)
	case KindList:
		la, lb := a.(List), b.(List)
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !Equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	case KindMap:
		ma, mb := a.(*Map), b.(*Map)
		if ma.Len() != mb.Len() {
			return false
		}
		for i, e := range ma.entries {
			o := mb.entries[i]
			if e.Key != o.Key || !Equal(e.Value, o.Value) {
				return false
			}
		}
		return true
	}
	return false
}

// ErrNonStringKey is returned by FromGo for maps keyed by anything but strings.
var ErrNonStringKey = errors.New("value: map key is not a string")

// FromGo converts plain Go data (as produced by encoding/json or written by
// hand) into a Value.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return nil, fmt.Errorf("value: integer %d overflows int64", t)
		}
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return nil, fmt.Errorf("value: integer %d overflows int64", t)
		}
		return Int(t), nil
	case float32:
		return Float(t), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []any:
		l := make(List, 0, len(t))
		for _, item := range t {
			v, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	case []string:
		l := make(List, 0, len(t))
		for _, s := range t {
			l = append(l, String(s))
		}
		return l, nil
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(t) {
			v, err := FromGo(t[k])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	case map[any]any:
		m := NewMap()
		keys := make([]string, 0, len(t))
		for k := range t {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrNonStringKey, k)
			}
			keys = append(keys, s)
		}
		sortStrings(keys)
		for _, k := range keys {
			v, err := FromGo(t[k])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("value: unsupported Go type %T", x)
}

// ToGo converts v into plain Go data: map[string]any, []any, bool, int64,
// float64, string or nil. Map order is lost.
func ToGo(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case String:
		return string(t)
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToGo(item)
		}
		return out
	case *Map:
		if t == nil {
			return nil
		}
		out := make(map[string]any, t.Len())
		for _, e := range t.entries {
			out[e.Key] = ToGo(e.Value)
		}
		return out
	}
	return nil
}
