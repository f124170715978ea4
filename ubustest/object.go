package ubustest

import (
	"context"
	"sort"
	"strings"

	"go-ubus/codec"
	"go-ubus/message"
	"go-ubus/value"
)

// HandlerFunc serves one method invocation. A nil result sends no DATA
// frame, only the status.
type HandlerFunc func(ctx context.Context, params *value.Map) (*value.Map, message.Status)

// Param is one declared method argument.
type Param struct {
	Name string
	Type codec.Type
}

// Method is a callable method of a fake object.
type Method struct {
	Params  []Param
	Handler HandlerFunc

	// Preamble is sent as extra DATA frames ahead of the handler's result.
	Preamble []*value.Map
	// RawReply, when set, replaces the encoded result with these bytes as
	// the DATA attribute payload.
	RawReply []byte
}

type object struct {
	id      uint32
	path    string
	typeID  uint32
	methods map[string]Method
}

// signature encodes the object's method table the way the broker reports
// it in a LOOKUP reply: method name → table of argument name → type.
func (o *object) signature() ([]byte, error) {
	names := make([]string, 0, len(o.methods))
	for name := range o.methods {
		names = append(names, name)
	}
	sort.Strings(names)

	sig := value.NewMap()
	for _, name := range names {
		args := value.NewMap()
		for _, p := range o.methods[name].Params {
			args.Set(p.Name, value.Int(p.Type))
		}
		sig.Set(name, args)
	}
	return codec.Encode(sig, codec.WithCompactIntegers())
}

// match reports whether the object answers a LOOKUP for pattern.
func (o *object) match(pattern string) bool {
	if pattern == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(o.path, prefix)
	}
	return o.path == pattern
}

// Echo returns its parameters unchanged.
func Echo(_ context.Context, params *value.Map) (*value.Map, message.Status) {
	return params, message.StatusOK
}

// Static always returns result with StatusOK.
func Static(result *value.Map) HandlerFunc {
	return func(context.Context, *value.Map) (*value.Map, message.Status) {
		return result, message.StatusOK
	}
}

// Fail always returns status without data.
func Fail(status message.Status) HandlerFunc {
	return func(context.Context, *value.Map) (*value.Map, message.Status) {
		return nil, status
	}
}

// Block never answers. It returns only when the connection or the server
// goes away, and then nothing is written.
func Block(ctx context.Context, _ *value.Map) (*value.Map, message.Status) {
	<-ctx.Done()
	return nil, message.StatusTimeout
}
