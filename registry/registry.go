// Package registry discovers the objects published on the bus.
//
// A Directory answers questions about the live bus by sending LOOKUP
// requests; nothing is cached, so every call reflects the broker's current
// object table. Catalog is a separate, optional inventory store that keeps
// a copy of a host's object table outside the bus.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go-ubus/codec"
	"go-ubus/message"
	"go-ubus/transport"
	"go-ubus/value"
)

// Param is one declared argument of a method.
type Param struct {
	Name string     `json:"name"`
	Type codec.Type `json:"type"`
}

// Signature is a method's argument list in declaration order.
type Signature []Param

// ObjectDescriptor describes one object found on the bus.
type ObjectDescriptor struct {
	ID      uint32               `json:"id"`
	Path    string               `json:"path"`
	TypeID  uint32               `json:"type_id"`
	Methods map[string]Signature `json:"methods"`
}

// MethodNames returns the object's methods sorted by name.
func (d *ObjectDescriptor) MethodNames() []string {
	names := make([]string, 0, len(d.Methods))
	for name := range d.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupError reports a LOOKUP that the broker answered with a non-OK
// status.
type LookupError struct {
	Status message.Status
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup failed: %s", e.Status.Message())
}

// ObjectNotFoundError reports a name that does not resolve to an object.
type ObjectNotFoundError struct {
	Name string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object not found: %s", e.Name)
}

// Requester sends one request and gathers its replies.
// *transport.ClientTransport implements it.
type Requester interface {
	Request(ctx context.Context, typ message.Type, peer uint32, body []byte) (*transport.Reply, error)
}

// Directory looks objects up over a live session.
type Directory struct {
	req Requester
}

func NewDirectory(req Requester) *Directory {
	return &Directory{req: req}
}

// Lookup returns the objects matching pattern. An empty pattern matches
// every object; a trailing '*' matches by prefix.
func (d *Directory) Lookup(ctx context.Context, pattern string) ([]ObjectDescriptor, error) {
	body, err := message.NewLookup(pattern)
	if err != nil {
		return nil, err
	}
	reply, err := d.req.Request(ctx, message.TypeLookup, 0, body)
	if err != nil {
		return nil, err
	}
	if reply.Status != message.StatusOK {
		return nil, &LookupError{Status: reply.Status}
	}

	objs := make([]ObjectDescriptor, 0, len(reply.Data))
	for _, msg := range reply.Data {
		obj, err := ParseDescriptor(msg)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

// ResolveID returns the id of the object named exactly name.
func (d *Directory) ResolveID(ctx context.Context, name string) (uint32, error) {
	objs, err := d.Lookup(ctx, name)
	if err != nil {
		var lookupErr *LookupError
		if errors.As(err, &lookupErr) {
			return 0, &ObjectNotFoundError{Name: name}
		}
		return 0, err
	}
	for _, obj := range objs {
		if obj.Path == name {
			return obj.ID, nil
		}
	}
	return 0, &ObjectNotFoundError{Name: name}
}

// ParseDescriptor reads one DATA reply to a LOOKUP.
func ParseDescriptor(msg *message.Message) (ObjectDescriptor, error) {
	attrs, err := msg.Parse()
	if err != nil {
		return ObjectDescriptor{}, err
	}
	var obj ObjectDescriptor
	var ok bool
	if obj.Path, ok = attrs.Str(message.AttrObjPath); !ok {
		return ObjectDescriptor{}, fmt.Errorf("lookup reply without object path")
	}
	if obj.ID, ok = attrs.U32(message.AttrObjID); !ok {
		return ObjectDescriptor{}, fmt.Errorf("lookup reply for %s without object id", obj.Path)
	}
	obj.TypeID, _ = attrs.U32(message.AttrObjType)

	obj.Methods = make(map[string]Signature)
	sig, ok := attrs[message.AttrSignature]
	if !ok {
		return obj, nil
	}
	table, err := codec.DecodeTable(sig.Data())
	if err != nil {
		return ObjectDescriptor{}, fmt.Errorf("signature of %s: %w", obj.Path, err)
	}
	table.Range(func(method string, v value.Value) bool {
		var params Signature
		if args, ok := v.(*value.Map); ok {
			args.Range(func(name string, t value.Value) bool {
				typ, _ := t.(value.Int)
				params = append(params, Param{Name: name, Type: codec.Type(typ)})
				return true
			})
		}
		obj.Methods[method] = params
		return true
	})
	return obj, nil
}
