// Package protocol implements the frame layout used on the broker socket.
//
// A frame is an 8-byte header followed by one blob container. The
// container's own 4-byte header carries the body length, so the receiver
// reads 12 bytes first and then exactly the remaining body.
//
// Frame format:
//
//	0    1    2         4              8          12
//	┌────┬────┬─────────┬──────────────┬──────────┬────────────────┐
//	│ver │type│   seq   │     peer     │ blob hdr │ body ...       │
//	│ 00 │    │ uint16  │    uint32    │ id | len │ len-4 bytes    │
//	└────┴────┴─────────┴──────────────┴──────────┴────────────────┘
//
// All integers are big-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	Version    byte = 0x00
	HeaderSize int  = 8
	// MaxBodyLen is the largest message the broker accepts.
	MaxBodyLen = 1024 * 1024

	blobHeaderSize = 4
	blobLenMask    = 0x00ffffff
	maxType        = 11
)

// Header is the fixed frame header.
type Header struct {
	Type byte   // message type, see message.Type
	Seq  uint16 // sequence number; replies echo the request's
	Peer uint32 // object id for invocations, client id in HELLO
}

// Encode writes one frame to w. body must be a complete blob container.
// The caller must hold a write lock if multiple goroutines share the
// writer, otherwise frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if len(body) < blobHeaderSize {
		return fmt.Errorf("body of %d bytes is not a blob container", len(body))
	}
	if len(body) > MaxBodyLen {
		return fmt.Errorf("body of %d bytes exceeds the %d byte limit", len(body), MaxBodyLen)
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	buf[0] = Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.Seq)
	binary.BigEndian.PutUint32(buf[4:8], h.Peer)
	// Header and body go out in a single write.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r and returns its header and body
// (the blob container, header included).
func Decode(r io.Reader) (*Header, []byte, error) {
	var head [HeaderSize + blobHeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, nil, err
	}

	if head[0] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", head[0])
	}
	if head[1] > maxType {
		return nil, nil, fmt.Errorf("unsupported message type: %d", head[1])
	}

	bodyLen := int(binary.BigEndian.Uint32(head[HeaderSize:]) & blobLenMask)
	if bodyLen < blobHeaderSize {
		return nil, nil, fmt.Errorf("body length %d below blob header size", bodyLen)
	}
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body length %d exceeds the %d byte limit", bodyLen, MaxBodyLen)
	}

	body := make([]byte, bodyLen)
	copy(body, head[HeaderSize:])
	if _, err := io.ReadFull(r, body[blobHeaderSize:]); err != nil {
		return nil, nil, err
	}

	return &Header{
		Type: head[1],
		Seq:  binary.BigEndian.Uint16(head[2:4]),
		Peer: binary.BigEndian.Uint32(head[4:8]),
	}, body, nil
}
