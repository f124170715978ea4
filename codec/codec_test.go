package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ubus/value"
)

func roundTrip(t *testing.T, v value.Value, opts ...EncodeOption) value.Value {
	t.Helper()
	buf, err := Encode(v, opts...)
	require.NoError(t, err)
	out, err := Decode(buf)
	require.NoError(t, err)
	return out
}

func TestEncodeLayout(t *testing.T) {
	buf, err := Encode(value.MapOf("msg", "hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x02, 0x00, 0x00, 0x14, // table container, 20 bytes
		0x83, 0x00, 0x00, 0x0f, // named string member, 15 bytes
		0x00, 0x03, 'm', 's', 'g', 0x00, 0x00, 0x00,
		'h', 'i', 0x00, 0x00,
	}, buf)

	buf, err = Encode(value.List{value.Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x01, 0x00, 0x00, 0x10, // array container
		0x87, 0x00, 0x00, 0x09, // bool member
		0x00, 0x00, 0x00, 0x00, // empty name
		0x01, 0x00, 0x00, 0x00,
	}, buf)
}

func TestRoundTrip(t *testing.T) {
	cases := map[string]value.Value{
		"scalars": value.MapOf(
			"t", true, "f", false,
			"i", int64(-42), "big", int64(math.MaxInt64), "small", int64(math.MinInt64),
			"pi", 3.25, "s", "hello, bus", "empty", "",
		),
		"nested": value.MapOf(
			"list", value.List{value.Int(1), value.String("two"), value.List{value.Float(3.5)}},
			"map", value.MapOf("inner", value.MapOf("deep", "x")),
		),
		"order": value.MapOf("z", 1, "a", 2, "m", 3),
		"list":  value.List{value.MapOf("a", 1), value.List{}, value.NewMap()},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, value.Equal(v, roundTrip(t, v)))
		})
	}
}

func TestNullsAreOmitted(t *testing.T) {
	out := roundTrip(t, value.MapOf("a", nil, "b", 1))
	assert.True(t, value.Equal(value.MapOf("b", 1), out))

	out = roundTrip(t, value.List{value.Null{}, value.Int(1), nil})
	assert.True(t, value.Equal(value.List{value.Int(1)}, out))
}

func TestEmptyContainers(t *testing.T) {
	assert.True(t, value.Equal(value.List{}, roundTrip(t, value.List{})))
	assert.True(t, value.Equal(value.NewMap(), roundTrip(t, value.NewMap())))
	assert.True(t, value.Equal(value.NewMap(), roundTrip(t, nil)))
}

func TestDecodeEmptyBufferYieldsMap(t *testing.T) {
	out, err := Decode(nil)
	require.NoError(t, err)
	assert.True(t, value.Equal(value.NewMap(), out))
}

func TestCompactIntegers(t *testing.T) {
	v := value.MapOf("small", 7, "large", int64(1)<<40, "neg", -5)
	buf, err := Encode(v, WithCompactIntegers())
	require.NoError(t, err)

	top, err := SplitContainer(buf)
	require.NoError(t, err)
	attrs, err := ParseAttrs(top.Data())
	require.NoError(t, err)
	require.Len(t, attrs, 3)
	assert.Equal(t, uint8(TypeInt32), attrs[0].ID())
	assert.Equal(t, uint8(TypeInt64), attrs[1].ID())
	assert.Equal(t, uint8(TypeInt32), attrs[2].ID())

	assert.True(t, value.Equal(v, roundTrip(t, v, WithCompactIntegers())))
}

func TestEncodeErrors(t *testing.T) {
	var encErr *EncodingError

	_, err := Encode(value.String("scalar"))
	assert.ErrorAs(t, err, &encErr)

	_, err = Encode(value.MapOf("s", "a\x00b"))
	assert.ErrorAs(t, err, &encErr)

	_, err = Encode(value.MapOf("k\x00", 1))
	assert.ErrorAs(t, err, &encErr)

	deep := value.Value(value.List{})
	for i := 0; i < MaxDepth; i++ {
		deep = value.List{deep}
	}
	_, err = Encode(deep)
	require.ErrorAs(t, err, &encErr)
	assert.Contains(t, encErr.Msg, "nesting")

	ok := value.Value(value.List{})
	for i := 0; i < MaxDepth-1; i++ {
		ok = value.List{ok}
	}
	_, err = Encode(ok)
	assert.NoError(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	good, err := Encode(value.MapOf("a", value.List{value.Int(1), value.String("x")}, "b", 2.5))
	require.NoError(t, err)

	for n := 1; n < len(good); n++ {
		_, err := Decode(good[:n])
		var decErr *DecodingError
		assert.ErrorAs(t, err, &decErr, "prefix of %d bytes", n)
	}

	for i := range good {
		mutated := append([]byte(nil), good...)
		mutated[i] ^= 0xff
		assert.NotPanics(t, func() { _, _ = Decode(mutated) }, "byte %d flipped", i)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string][]byte{
		"unknown type": {
			0x02, 0x00, 0x00, 0x10,
			0x89, 0x00, 0x00, 0x0c,
			0x00, 0x01, 'k', 0x00,
			0x00, 0x00, 0x00, 0x01,
		},
		"unterminated string": {
			0x02, 0x00, 0x00, 0x10,
			0x83, 0x00, 0x00, 0x0c,
			0x00, 0x01, 'k', 0x00,
			'a', 'b', 'c', 'd',
		},
		"plain child": {
			0x02, 0x00, 0x00, 0x08,
			0x03, 0x00, 0x00, 0x04,
		},
		"child overruns container": {
			0x02, 0x00, 0x00, 0x08,
			0x87, 0x00, 0x00, 0x20,
		},
		"length below header": {
			0x02, 0x00, 0x00, 0x02,
		},
		"short int64": {
			0x02, 0x00, 0x00, 0x10,
			0x84, 0x00, 0x00, 0x0c,
			0x00, 0x01, 'k', 0x00,
			0x00, 0x00, 0x00, 0x01,
		},
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(buf)
			var decErr *DecodingError
			require.ErrorAs(t, err, &decErr)
		})
	}
}

func TestDecodeAcceptsNarrowIntegersAndUnspec(t *testing.T) {
	buf := []byte{
		0x02, 0x00, 0x00, 0x18,
		0x86, 0x00, 0x00, 0x0a, // int16
		0x00, 0x01, 'a', 0x00,
		0xff, 0xfe, 0x00, 0x00,
		0x80, 0x00, 0x00, 0x08, // unspec
		0x00, 0x01, 'n', 0x00,
	}
	out, err := Decode(buf)
	require.NoError(t, err)
	m := out.(*value.Map)
	a, _ := m.Get("a")
	assert.Equal(t, value.Int(-2), a)
	n, ok := m.Get("n")
	require.True(t, ok)
	assert.True(t, value.IsNull(n))
}

func TestDecodeTable(t *testing.T) {
	buf, err := Encode(value.MapOf("x", 1))
	require.NoError(t, err)
	top, err := SplitContainer(buf)
	require.NoError(t, err)
	m, err := DecodeTable(top.Data())
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MapOf("x", 1), m))
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(0)
	b.PutU32(3, 0xdeadbeef)
	b.PutString(2, "system")
	nest := b.NestStart(7)
	b.PutRaw(1, []byte{9})
	b.NestEnd(nest)
	buf, err := b.Bytes()
	require.NoError(t, err)

	top, err := SplitContainer(buf)
	require.NoError(t, err)
	attrs, err := ParseAttrs(top.Data())
	require.NoError(t, err)
	require.Len(t, attrs, 3)

	id, ok := attrs[0].U32()
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), id)
	s, ok := attrs[1].Str()
	require.True(t, ok)
	assert.Equal(t, "system", s)
	assert.Equal(t, uint8(7), attrs[2].ID())
	inner, err := ParseAttrs(attrs[2].Data())
	require.NoError(t, err)
	require.Len(t, inner, 1)
	assert.Equal(t, []byte{9}, inner[0].Data())
}

func TestCodecs(t *testing.T) {
	v := value.MapOf("b", 1, "a", value.List{value.Bool(true)})
	for _, c := range []Codec{GetCodec(CodecTypeJSON), GetCodec(CodecTypeBlobmsg), &BlobmsgCodec{CompactIntegers: true}} {
		data, err := c.Encode(v)
		require.NoError(t, err)
		out, err := c.Decode(data)
		require.NoError(t, err)
		assert.True(t, value.Equal(v, out), "codec %d", c.Type())
	}

	data, err := (&JSONCodec{}).Encode(v)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":[true]}`, string(data))
}
