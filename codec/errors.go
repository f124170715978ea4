package codec

import "fmt"

// EncodingError reports a value that has no blobmsg form.
type EncodingError struct {
	Path string // member path, e.g. "config.ports[2]"
	Msg  string
}

func (e *EncodingError) Error() string {
	if e.Path == "" {
		return "codec: encode: " + e.Msg
	}
	return fmt.Sprintf("codec: encode %s: %s", e.Path, e.Msg)
}

// DecodingError reports a malformed or truncated attribute buffer.
type DecodingError struct {
	Offset int // byte offset in the buffer handed to the decoder
	Msg    string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("codec: decode at offset %d: %s", e.Offset, e.Msg)
}

func decodeErr(off int, format string, args ...any) error {
	return &DecodingError{Offset: off, Msg: fmt.Sprintf(format, args...)}
}
