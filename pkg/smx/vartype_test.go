package smx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUint32Varint(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 0x7f},
		{[]byte{0x80, 0x01}, 0x80},
		{[]byte{0xff, 0xff, 0x03}, 0xffff},
	}
	for _, tc := range cases {
		c := byteCursor{data: tc.bytes}
		got, err := c.decodeUint32()
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestDecodeVariableTypePrimitives(t *testing.T) {
	f := &File{}
	cases := map[byte]VariableTag{
		cbBool:    TagBool,
		cbInt32:   TagInt,
		cbFloat32: TagFloat,
		cbChar8:   TagChar,
		cbAny:     TagAny,
	}
	for b, want := range cases {
		c := byteCursor{data: []byte{b}}
		typ, err := f.decodeVariableType(&c)
		require.NoError(t, err)
		assert.Equal(t, want, typ.Tag)
		assert.False(t, typ.IsArray())
	}
}

func TestDecodeVariableTypeConstFlag(t *testing.T) {
	f := &File{}
	c := byteCursor{data: []byte{cbConst, cbInt32}}
	typ, err := f.decodeVariableType(&c)
	require.NoError(t, err)
	assert.Equal(t, TagInt, typ.Tag)
	assert.NotZero(t, typ.Flags&FlagConst)
}

func TestDecodeVariableTypeFixedArray(t *testing.T) {
	f := &File{}
	// fixed array of 4 ints: kFixedArray, size=4, kInt32
	c := byteCursor{data: []byte{cbFixedArr, 0x04, cbInt32}}
	typ, err := f.decodeVariableType(&c)
	require.NoError(t, err)
	assert.Equal(t, TagInt, typ.Tag)
	require.Len(t, typ.Dims, 1)
	assert.Equal(t, 4, typ.Dims[0])
}

func TestDecodeFunctionSignatureVoidNoArgs(t *testing.T) {
	f := &File{}
	c := byteCursor{data: []byte{0x00, cbVoid}}
	sig, err := f.decodeFunctionSignatureAt(&c)
	require.NoError(t, err)
	require.NotNil(t, sig.Ret)
	assert.Equal(t, TagVoid, sig.Ret.Tag)
	assert.Empty(t, sig.Args)
	assert.False(t, sig.Varargs)
}

func TestDecodeFunctionSignatureWithArgs(t *testing.T) {
	f := &File{}
	// 2 args (int, by-ref float), non-variadic, int return
	c := byteCursor{data: []byte{0x02, cbInt32, cbInt32, cbByRef, cbFloat32}}
	sig, err := f.decodeFunctionSignatureAt(&c)
	require.NoError(t, err)
	require.NotNil(t, sig.Ret)
	assert.Equal(t, TagInt, sig.Ret.Tag)
	require.Len(t, sig.Args, 2)
	assert.Equal(t, TagInt, sig.Args[0].Type.Tag)
	assert.Zero(t, sig.Args[0].Type.Flags&FlagByRef)
	assert.Equal(t, TagFloat, sig.Args[1].Type.Tag)
	assert.NotZero(t, sig.Args[1].Type.Flags&FlagByRef)
}
