package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Marshal renders v as compact JSON. Map members keep their order and
// integral floats keep a fractional part so that ParseJSON restores the
// same kinds.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalIndent is Marshal followed by json.Indent.
func MarshalIndent(v Value, prefix, indent string) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, prefix, indent); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(t)))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case Float:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("value: %v has no JSON form", f)
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case String:
		writeString(buf, string(t))
	case List:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Map:
		if t == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, e := range t.entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, e.Key)
			buf.WriteByte(':')
			if err := writeJSON(buf, e.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: unknown value type %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	// json.Marshal on a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// ParseJSON parses JSON text into a Value. Object member order is kept,
// integers become Int and other numbers Float.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("value: trailing data after JSON value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("value: parse JSON: %w", err)
	}
	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return parseNumber(t)
	case json.Delim:
		switch t {
		case '[':
			l := List{}
			for dec.More() {
				item, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				l = append(l, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("value: parse JSON: %w", err)
			}
			return l, nil
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("value: parse JSON: %w", err)
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %v", ErrNonStringKey, kt)
				}
				item, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				m.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("value: parse JSON: %w", err)
			}
			return m, nil
		}
	}
	return nil, fmt.Errorf("value: unexpected JSON token %v", tok)
}

func parseNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("value: bad number %q: %w", s, err)
	}
	return Float(f), nil
}

func (m *Map) MarshalJSON() ([]byte, error) { return Marshal(m) }
func (l List) MarshalJSON() ([]byte, error) { return Marshal(l) }

func (m *Map) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	parsed, ok := v.(*Map)
	if !ok {
		return fmt.Errorf("value: JSON %s is not an object", KindOf(v))
	}
	*m = *parsed
	return nil
}
