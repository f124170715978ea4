package codec

import "go-ubus/value"

type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeBlobmsg CodecType = 1
)

// Codec converts between value trees and one serialized form.
type Codec interface {
	Encode(v value.Value) ([]byte, error)
	Decode(data []byte) (value.Value, error)
	Type() CodecType // 0=JSON, 1=Blobmsg
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BlobmsgCodec{}
}

// BlobmsgCodec is the wire codec: values become container attributes.
type BlobmsgCodec struct {
	CompactIntegers bool
}

func (c *BlobmsgCodec) Encode(v value.Value) ([]byte, error) {
	if c.CompactIntegers {
		return Encode(v, WithCompactIntegers())
	}
	return Encode(v)
}

func (c *BlobmsgCodec) Decode(data []byte) (value.Value, error) {
	return Decode(data)
}

func (c *BlobmsgCodec) Type() CodecType {
	return CodecTypeBlobmsg
}
