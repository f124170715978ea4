package value

import (
	"maps"
	"slices"
)

// Entry is one key/value member of a Map.
type Entry struct {
	Key   string
	Value Value
}

// Map is an insertion-ordered mapping from string keys to values.
// The zero value is an empty map ready to use.
type Map struct {
	entries []Entry
	index   map[string]int
}

func (*Map) Kind() Kind { return KindMap }
func (*Map) isValue()   {}

func NewMap() *Map {
	return &Map{index: make(map[string]int)}
}

// MapOf builds a Map from alternating key/value arguments, e.g.
// MapOf("msg", String("hi"), "n", Int(1)). It panics on malformed input and
// is meant for literals.
func MapOf(kv ...any) *Map {
	if len(kv)%2 != 0 {
		panic("value: MapOf needs key/value pairs")
	}
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic("value: MapOf key must be a string")
		}
		v, err := FromGo(kv[i+1])
		if err != nil {
			panic(err)
		}
		m.Set(k, v)
	}
	return m
}

// Set stores v under key. Replacing an existing key keeps its position.
func (m *Map) Set(key string, v Value) {
	if i, ok := m.index[key]; ok {
		m.entries[i].Value = v
		return
	}
	if m.index == nil {
		m.index = make(map[string]int)
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, Entry{Key: key, Value: v})
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.entries[i].Value, true
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Map) Delete(key string) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	m.entries = slices.Delete(m.entries, i, i+1)
	delete(m.index, key)
	for j := i; j < len(m.entries); j++ {
		m.index[m.entries[j].Key] = j
	}
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the members in insertion order.
func (m *Map) Entries() []Entry {
	if m == nil {
		return nil
	}
	return slices.Clone(m.entries)
}

// Range calls fn for each member in order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, e := range m.entries {
		if !fn(e.Key, e.Value) {
			return
		}
	}
}

// GetString returns the string stored under key, if it is one.
func (m *Map) GetString(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	return string(s), ok
}

// GetInt returns the integer stored under key, if it is one.
func (m *Map) GetInt(key string) (int64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(Int)
	return int64(n), ok
}

// GetMap returns the map stored under key, if it is one.
func (m *Map) GetMap(key string) (*Map, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Map)
	return sub, ok && sub != nil
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

func sortStrings(s []string) {
	slices.Sort(s)
}
