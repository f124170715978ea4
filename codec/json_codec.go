package codec

import (
	"go-ubus/value"
)

// JSONCodec renders values as JSON text. It is the human-readable side of
// the bus: CLI input and output, logs and debugging dumps.
// Map member order survives the round trip, which plain encoding/json on a
// Go map would not give us.
type JSONCodec struct {
	Indent string
}

func (c *JSONCodec) Encode(v value.Value) ([]byte, error) {
	if c.Indent != "" {
		return value.MarshalIndent(v, "", c.Indent)
	}
	return value.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte) (value.Value, error) {
	return value.ParseJSON(data)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
