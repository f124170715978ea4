package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go-ubus/value"
)

// Type is the data type of a blobmsg member, carried in the attribute id.
type Type uint8

const (
	TypeUnspec Type = iota
	TypeArray
	TypeTable
	TypeString
	TypeInt64
	TypeInt32
	TypeInt16
	TypeInt8
	TypeDouble

	TypeBool = TypeInt8
)

var typeNames = [...]string{
	TypeUnspec: "Unspec",
	TypeArray:  "Array",
	TypeTable:  "Table",
	TypeString: "String",
	TypeInt64:  "Integer",
	TypeInt32:  "Integer",
	TypeInt16:  "Integer",
	TypeInt8:   "Boolean",
	TypeDouble: "Double",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// MaxDepth bounds container nesting on both encode and decode.
const MaxDepth = 64

const maxNameLen = math.MaxUint16

// EncodeOption tunes Encode.
type EncodeOption func(*encoder)

// WithCompactIntegers emits 32-bit integers for values that fit, the way
// the broker's own JSON bridge does. Without it every integer is 64-bit.
func WithCompactIntegers() EncodeOption {
	return func(e *encoder) { e.compact = true }
}

type encoder struct {
	b       *Buffer
	compact bool
}

// Encode renders a Map or List as one container attribute. Members whose
// value is Null are left out since the format has no null. A Null top-level
// value encodes as an empty table.
func Encode(v value.Value, opts ...EncodeOption) ([]byte, error) {
	e := &encoder{}
	for _, opt := range opts {
		opt(e)
	}
	switch t := v.(type) {
	case nil, value.Null:
		e.b = NewBuffer(uint8(TypeTable))
	case *value.Map:
		if t == nil {
			e.b = NewBuffer(uint8(TypeTable))
			break
		}
		e.b = NewBuffer(uint8(TypeTable))
		if err := e.members(v, "", 1); err != nil {
			return nil, err
		}
	case value.List:
		e.b = NewBuffer(uint8(TypeArray))
		if err := e.members(v, "", 1); err != nil {
			return nil, err
		}
	default:
		return nil, &EncodingError{Msg: fmt.Sprintf("top-level %s is not a map or list", value.KindOf(v))}
	}
	return e.b.Bytes()
}

func (e *encoder) members(v value.Value, path string, depth int) error {
	switch t := v.(type) {
	case *value.Map:
		for _, entry := range t.Entries() {
			if value.IsNull(entry.Value) {
				continue
			}
			if err := e.member(entry.Key, entry.Value, joinKey(path, entry.Key), depth); err != nil {
				return err
			}
		}
	case value.List:
		for i, item := range t {
			if value.IsNull(item) {
				continue
			}
			if err := e.member("", item, path+"["+strconv.Itoa(i)+"]", depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *encoder) member(name string, v value.Value, path string, depth int) error {
	if len(name) > maxNameLen {
		return &EncodingError{Path: path, Msg: fmt.Sprintf("key of %d bytes exceeds %d", len(name), maxNameLen)}
	}
	if strings.IndexByte(name, 0) >= 0 {
		return &EncodingError{Path: path, Msg: "key contains a NUL byte"}
	}
	switch t := v.(type) {
	case value.Bool:
		off := e.start(TypeBool, name)
		if t {
			e.b.buf = append(e.b.buf, 1)
		} else {
			e.b.buf = append(e.b.buf, 0)
		}
		e.b.end(off)
	case value.Int:
		if e.compact && t >= math.MinInt32 && t <= math.MaxInt32 {
			off := e.start(TypeInt32, name)
			e.b.buf = binary.BigEndian.AppendUint32(e.b.buf, uint32(int32(t)))
			e.b.end(off)
			break
		}
		off := e.start(TypeInt64, name)
		e.b.buf = binary.BigEndian.AppendUint64(e.b.buf, uint64(t))
		e.b.end(off)
	case value.Float:
		off := e.start(TypeDouble, name)
		e.b.buf = binary.BigEndian.AppendUint64(e.b.buf, math.Float64bits(float64(t)))
		e.b.end(off)
	case value.String:
		if strings.IndexByte(string(t), 0) >= 0 {
			return &EncodingError{Path: path, Msg: "string contains a NUL byte"}
		}
		off := e.start(TypeString, name)
		e.b.buf = append(e.b.buf, t...)
		e.b.buf = append(e.b.buf, 0)
		e.b.end(off)
	case value.List, *value.Map:
		if depth+1 > MaxDepth {
			return &EncodingError{Path: path, Msg: fmt.Sprintf("nesting deeper than %d", MaxDepth)}
		}
		typ := TypeTable
		if _, ok := t.(value.List); ok {
			typ = TypeArray
		}
		off := e.start(typ, name)
		if err := e.members(v, path, depth+1); err != nil {
			return err
		}
		e.b.end(off)
	default:
		return &EncodingError{Path: path, Msg: fmt.Sprintf("unsupported value %T", v)}
	}
	return nil
}

// start opens an extended attribute and writes the member name header:
// 16-bit name length, name, NUL, padded to 4 bytes.
func (e *encoder) start(typ Type, name string) int {
	off := e.b.start(uint8(typ), true)
	e.b.buf = binary.BigEndian.AppendUint16(e.b.buf, uint16(len(name)))
	e.b.buf = append(e.b.buf, name...)
	e.b.buf = append(e.b.buf, 0)
	for (len(e.b.buf)-off-AttrHeaderSize)%attrAlign != 0 {
		e.b.buf = append(e.b.buf, 0)
	}
	return off
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Decode turns a container attribute back into a value. An empty buffer
// decodes to an empty Map, an array container to a List and anything else
// to a Map.
func Decode(buf []byte) (value.Value, error) {
	if len(buf) == 0 {
		return value.NewMap(), nil
	}
	top, err := SplitContainer(buf)
	if err != nil {
		return nil, err
	}
	if Type(top.ID()) == TypeArray && !top.Extended() {
		return decodeList(top.Data(), AttrHeaderSize, 1)
	}
	return decodeTable(top.Data(), AttrHeaderSize, 1)
}

// DecodeTable decodes a run of blobmsg members, such as the payload of a
// container, as a Map.
func DecodeTable(data []byte) (*value.Map, error) {
	return decodeTable(data, 0, 1)
}

func decodeTable(data []byte, base, depth int) (*value.Map, error) {
	attrs, err := parseAttrs(data, base)
	if err != nil {
		return nil, err
	}
	m := value.NewMap()
	off := base
	for _, a := range attrs {
		name, v, err := decodeMember(a, off, depth)
		if err != nil {
			return nil, err
		}
		m.Set(name, v)
		off += pad(len(a))
	}
	return m, nil
}

func decodeList(data []byte, base, depth int) (value.List, error) {
	attrs, err := parseAttrs(data, base)
	if err != nil {
		return nil, err
	}
	l := make(value.List, 0, len(attrs))
	off := base
	for _, a := range attrs {
		_, v, err := decodeMember(a, off, depth)
		if err != nil {
			return nil, err
		}
		l = append(l, v)
		off += pad(len(a))
	}
	return l, nil
}

func decodeMember(a Attr, off, depth int) (string, value.Value, error) {
	if !a.Extended() {
		return "", nil, decodeErr(off, "attribute id %d is not a named member", a.ID())
	}
	data := a.Data()
	if len(data) < 2 {
		return "", nil, decodeErr(off, "member name header truncated")
	}
	nameLen := int(binary.BigEndian.Uint16(data))
	hdrLen := pad(2 + nameLen + 1)
	if hdrLen > len(data) {
		return "", nil, decodeErr(off, "member name of %d bytes overruns attribute", nameLen)
	}
	if data[2+nameLen] != 0 {
		return "", nil, decodeErr(off, "member name not NUL-terminated")
	}
	name := string(data[2 : 2+nameLen])
	payload := data[hdrLen:]
	payloadOff := off + AttrHeaderSize + hdrLen

	switch typ := Type(a.ID()); typ {
	case TypeUnspec:
		return name, value.Null{}, nil
	case TypeArray, TypeTable:
		if depth+1 > MaxDepth {
			return "", nil, decodeErr(off, "nesting deeper than %d", MaxDepth)
		}
		if typ == TypeArray {
			l, err := decodeList(payload, payloadOff, depth+1)
			return name, l, err
		}
		m, err := decodeTable(payload, payloadOff, depth+1)
		return name, m, err
	case TypeString:
		if len(payload) == 0 || payload[len(payload)-1] != 0 {
			return "", nil, decodeErr(off, "string %q not NUL-terminated", name)
		}
		s := payload[:len(payload)-1]
		for i, c := range s {
			if c == 0 {
				s = s[:i]
				break
			}
		}
		return name, value.String(s), nil
	case TypeInt8:
		if len(payload) < 1 {
			return "", nil, decodeErr(off, "bool %q truncated", name)
		}
		return name, value.Bool(payload[0] != 0), nil
	case TypeInt16:
		if len(payload) < 2 {
			return "", nil, decodeErr(off, "int16 %q truncated", name)
		}
		return name, value.Int(int16(binary.BigEndian.Uint16(payload))), nil
	case TypeInt32:
		if len(payload) < 4 {
			return "", nil, decodeErr(off, "int32 %q truncated", name)
		}
		return name, value.Int(int32(binary.BigEndian.Uint32(payload))), nil
	case TypeInt64:
		if len(payload) < 8 {
			return "", nil, decodeErr(off, "int64 %q truncated", name)
		}
		return name, value.Int(int64(binary.BigEndian.Uint64(payload))), nil
	case TypeDouble:
		if len(payload) < 8 {
			return "", nil, decodeErr(off, "double %q truncated", name)
		}
		return name, value.Float(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	default:
		return "", nil, decodeErr(off, "unknown member type %d", uint8(typ))
	}
}
