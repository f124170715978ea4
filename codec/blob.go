// Package codec implements the binary attribute format spoken by the bus and
// the codecs that map it to and from value.Value.
//
// Every attribute starts with a 4-byte big-endian header:
//
//	 31  30      24 23                               0
//	┌───┬──────────┬──────────────────────────────────┐
//	│ E │    id    │ length (header + payload, bytes) │
//	└───┴──────────┴──────────────────────────────────┘
//
// The payload follows and the next attribute starts at the following 4-byte
// boundary. A container's payload is a run of child attributes. When E is
// set the attribute is a named "blobmsg" member: the payload begins with a
// 16-bit name length, the NUL-terminated name, and padding, and id holds the
// member's data type.
package codec

import (
	"encoding/binary"
)

const (
	AttrHeaderSize = 4
	MaxAttrLen     = attrLenMask

	attrIDMask   = 0x7f000000
	attrIDShift  = 24
	attrLenMask  = 0x00ffffff
	attrExtended = 0x80000000
	attrAlign    = 4
)

func pad(n int) int {
	return (n + attrAlign - 1) &^ (attrAlign - 1)
}

// Attr is one encoded attribute, header included, without trailing padding.
type Attr []byte

func (a Attr) header() uint32 { return binary.BigEndian.Uint32(a) }

func (a Attr) ID() uint8 {
	return uint8((a.header() & attrIDMask) >> attrIDShift)
}

func (a Attr) Extended() bool {
	return a.header()&attrExtended != 0
}

// Data returns the payload.
func (a Attr) Data() []byte {
	return a[AttrHeaderSize:]
}

// U32 reads a 32-bit big-endian payload.
func (a Attr) U32() (uint32, bool) {
	d := a.Data()
	if len(d) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(d), true
}

// Str reads a NUL-terminated string payload.
func (a Attr) Str() (string, bool) {
	d := a.Data()
	for i, c := range d {
		if c == 0 {
			return string(d[:i]), true
		}
	}
	return "", false
}

// splitAttr cuts the attribute at the head of buf. It returns the attribute
// and the number of bytes it occupies including padding. base is the offset
// of buf inside the caller's buffer, used in error reports.
func splitAttr(buf []byte, base int) (Attr, int, error) {
	if len(buf) < AttrHeaderSize {
		return nil, 0, decodeErr(base, "truncated attribute header (%d bytes left)", len(buf))
	}
	raw := int(binary.BigEndian.Uint32(buf) & attrLenMask)
	if raw < AttrHeaderSize {
		return nil, 0, decodeErr(base, "attribute length %d below header size", raw)
	}
	if raw > len(buf) {
		return nil, 0, decodeErr(base, "attribute length %d exceeds the %d bytes left", raw, len(buf))
	}
	size := pad(raw)
	if size > len(buf) {
		return nil, 0, decodeErr(base+raw, "attribute padding truncated")
	}
	return Attr(buf[:raw]), size, nil
}

// SplitContainer validates that buf holds exactly one attribute, tolerating
// a missing final pad, and returns it.
func SplitContainer(buf []byte) (Attr, error) {
	if len(buf) < AttrHeaderSize {
		return nil, decodeErr(0, "truncated attribute header (%d bytes)", len(buf))
	}
	raw := int(binary.BigEndian.Uint32(buf) & attrLenMask)
	if raw < AttrHeaderSize || raw > len(buf) || len(buf) > pad(raw) {
		return nil, decodeErr(0, "container length %d inconsistent with buffer of %d bytes", raw, len(buf))
	}
	return Attr(buf[:raw]), nil
}

// ParseAttrs splits a container payload into its children.
func ParseAttrs(data []byte) ([]Attr, error) {
	return parseAttrs(data, 0)
}

func parseAttrs(data []byte, base int) ([]Attr, error) {
	var attrs []Attr
	for off := 0; off < len(data); {
		a, n, err := splitAttr(data[off:], base+off)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
		off += n
	}
	return attrs, nil
}

// Buffer builds one container attribute. Children are appended in order and
// nested containers are opened with NestStart and closed with NestEnd.
type Buffer struct {
	buf []byte
	err error
}

// NewBuffer starts a container with the given id.
func NewBuffer(id uint8) *Buffer {
	b := &Buffer{buf: make([]byte, 0, 256)}
	b.start(id, false)
	return b
}

// start appends a header with a zero length and returns its offset.
func (b *Buffer) start(id uint8, extended bool) int {
	off := len(b.buf)
	h := uint32(id) << attrIDShift & attrIDMask
	if extended {
		h |= attrExtended
	}
	b.buf = binary.BigEndian.AppendUint32(b.buf, h)
	return off
}

// end fixes the length of the attribute opened at off and pads the buffer.
func (b *Buffer) end(off int) {
	raw := len(b.buf) - off
	if raw > MaxAttrLen {
		if b.err == nil {
			b.err = &EncodingError{Msg: "attribute exceeds the 16 MiB length limit"}
		}
		raw = MaxAttrLen
	}
	h := binary.BigEndian.Uint32(b.buf[off:])
	binary.BigEndian.PutUint32(b.buf[off:], h&^attrLenMask|uint32(raw))
	for len(b.buf)%attrAlign != 0 {
		b.buf = append(b.buf, 0)
	}
}

// PutRaw appends a plain attribute with the given payload.
func (b *Buffer) PutRaw(id uint8, payload []byte) {
	off := b.start(id, false)
	b.buf = append(b.buf, payload...)
	b.end(off)
}

func (b *Buffer) PutU32(id uint8, v uint32) {
	off := b.start(id, false)
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
	b.end(off)
}

func (b *Buffer) PutString(id uint8, s string) {
	off := b.start(id, false)
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	b.end(off)
}

func (b *Buffer) NestStart(id uint8) int { return b.start(id, false) }
func (b *Buffer) NestEnd(off int)        { b.end(off) }

// Bytes closes the outer container and returns the encoded buffer.
func (b *Buffer) Bytes() ([]byte, error) {
	b.end(0)
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}
