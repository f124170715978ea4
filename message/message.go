// Package message defines the messages exchanged with the bus broker.
//
// Every message is a fixed header (type, sequence number, peer id) plus one
// blob container whose children are the attributes listed below. Requests
// are answered by zero or more DATA messages followed by one STATUS message
// carrying the same sequence number.
package message

import (
	"fmt"

	"go-ubus/codec"
)

// Type is the message type carried in the frame header.
type Type uint8

const (
	TypeHello Type = iota
	TypeStatus
	TypeData
	TypePing
	TypeLookup
	TypeInvoke
	TypeAddObject
	TypeRemoveObject
	TypeSubscribe
	TypeUnsubscribe
	TypeNotify
	TypeMonitor

	typeCount
)

var typeNames = [typeCount]string{
	"hello", "status", "data", "ping", "lookup", "invoke",
	"add_object", "remove_object", "subscribe", "unsubscribe", "notify", "monitor",
}

func (t Type) String() string {
	if t < typeCount {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is a message type the broker defines.
func (t Type) Valid() bool { return t < typeCount }

// AttrID identifies an attribute inside a message body.
type AttrID uint8

const (
	AttrUnspec AttrID = iota
	AttrStatus
	AttrObjPath
	AttrObjID
	AttrMethod
	AttrObjType
	AttrSignature
	AttrData
	AttrTarget
	AttrActive
	AttrNoReply
	AttrSubscribers
	AttrUser
	AttrGroup
)

// Message is one decoded frame. Body is the raw blob container.
type Message struct {
	Type Type
	Seq  uint16
	Peer uint32
	Body []byte
}

// Attrs indexes the body's attributes by id. When an id repeats, the last
// one wins.
type Attrs map[AttrID]codec.Attr

// Parse splits the body into attributes.
func (m *Message) Parse() (Attrs, error) {
	attrs := Attrs{}
	if len(m.Body) == 0 {
		return attrs, nil
	}
	top, err := codec.SplitContainer(m.Body)
	if err != nil {
		return nil, err
	}
	list, err := codec.ParseAttrs(top.Data())
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		attrs[AttrID(a.ID())] = a
	}
	return attrs, nil
}

func (a Attrs) U32(id AttrID) (uint32, bool) {
	attr, ok := a[id]
	if !ok {
		return 0, false
	}
	return attr.U32()
}

func (a Attrs) Str(id AttrID) (string, bool) {
	attr, ok := a[id]
	if !ok {
		return "", false
	}
	return attr.Str()
}

// Status reads the STATUS attribute. A status message without one is
// treated as an invalid argument, as the broker would.
func (a Attrs) Status() Status {
	v, ok := a.U32(AttrStatus)
	if !ok {
		return StatusInvalidArgument
	}
	return Status(int32(v))
}

// NewLookup builds the body of a LOOKUP request. An empty path matches
// every object; a trailing '*' makes it a prefix match.
func NewLookup(path string) ([]byte, error) {
	b := codec.NewBuffer(0)
	if path != "" {
		b.PutString(uint8(AttrObjPath), path)
	}
	return b.Bytes()
}

// NewInvoke builds the body of an INVOKE request. params is an encoded
// container; its children become the DATA attribute.
func NewInvoke(objID uint32, method string, params []byte) ([]byte, error) {
	b := codec.NewBuffer(0)
	b.PutU32(uint8(AttrObjID), objID)
	b.PutString(uint8(AttrMethod), method)
	if len(params) > 0 {
		top, err := codec.SplitContainer(params)
		if err != nil {
			return nil, err
		}
		b.PutRaw(uint8(AttrData), top.Data())
	}
	return b.Bytes()
}

// NewStatus builds the body of a STATUS reply.
func NewStatus(status Status, objID uint32) ([]byte, error) {
	b := codec.NewBuffer(0)
	b.PutU32(uint8(AttrStatus), uint32(status))
	if objID != 0 {
		b.PutU32(uint8(AttrObjID), objID)
	}
	return b.Bytes()
}

// Empty returns an attribute-less body.
func Empty() []byte {
	buf, _ := codec.NewBuffer(0).Bytes()
	return buf
}
