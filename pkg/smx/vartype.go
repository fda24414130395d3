package smx

import "github.com/pkg/errors"

// Control bytes for RTTI type signatures, as laid out in the compiler's
// rtti.data encoding.
const (
	cbBool     = 0x01
	cbInt32    = 0x06
	cbFloat32  = 0x0c
	cbChar8    = 0x0e
	cbAny      = 0x10
	cbTopFunc  = 0x11
	cbFixedArr = 0x30
	cbArray    = 0x31
	cbFunction = 0x32
	cbEnum     = 0x42
	cbTypedef  = 0x43
	cbTypeset  = 0x44
	cbClassdef = 0x45
	cbEnumStr  = 0x46
	cbVoid     = 0x70
	cbVariadic = 0x71
	cbByRef    = 0x72
	cbConst    = 0x73
)

const (
	typeIDInline  = 0x0
	typeIDComplex = 0x1
)

// byteCursor walks a byte slice, the Go analogue of the C++ implementation's
// `unsigned char**` cursor threaded through the decode helpers.
type byteCursor struct {
	data []byte
	pos  int
}

func (c *byteCursor) peek() (byte, bool) {
	if c.pos >= len(c.data) {
		return 0, false
	}
	return c.data[c.pos], true
}

func (c *byteCursor) next() (byte, bool) {
	b, ok := c.peek()
	if ok {
		c.pos++
	}
	return b, ok
}

// decodeUint32 reads the compiler's variable-length uint32 encoding: 7
// payload bits per byte, high bit set means more bytes follow.
func (c *byteCursor) decodeUint32() (uint32, error) {
	var value uint32
	var shift uint
	for {
		b, ok := c.next()
		if !ok {
			return 0, errors.New("smx: truncated varint in type signature")
		}
		value |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return value, nil
}

// decodeVariableTypeID resolves a type id (inline or a reference into
// rtti.data) into a decoded VariableType.
func (f *File) decodeVariableTypeID(typeID uint32) (VariableType, error) {
	kind := typeID & 0b1111
	payload := typeID >> 4

	var cur byteCursor
	if kind == typeIDInline {
		// The inline payload is itself the encoded bytes, little-endian,
		// occupying as many of the 28 bits as the signature needs.
		buf := []byte{byte(payload), byte(payload >> 8), byte(payload >> 16), byte(payload >> 24)}
		cur = byteCursor{data: buf}
	} else {
		if int(f.rttiData+payload) >= len(f.image) {
			return VariableType{}, errors.New("smx: type id payload out of range")
		}
		cur = byteCursor{data: f.image[f.rttiData+payload:]}
	}
	return f.decodeVariableType(&cur)
}

func (f *File) decodeVariableType(c *byteCursor) (VariableType, error) {
	var typ VariableType

	if b, ok := c.peek(); ok && b == cbConst {
		typ.Flags |= FlagConst
		c.next()
	}

	tag, ok := c.next()
	if !ok {
		return typ, errors.New("smx: truncated type signature")
	}

	switch tag {
	case cbBool:
		typ.Tag = TagBool
	case cbInt32:
		typ.Tag = TagInt
	case cbFloat32:
		typ.Tag = TagFloat
	case cbChar8:
		typ.Tag = TagChar
	case cbAny:
		typ.Tag = TagAny

	case cbArray:
		inner, err := f.decodeVariableType(c)
		if err != nil {
			return typ, err
		}
		typ = inner
		typ.Dims = append([]int{0}, inner.Dims...)

	case cbFixedArr:
		size, err := c.decodeUint32()
		if err != nil {
			return typ, err
		}
		inner, err := f.decodeVariableType(c)
		if err != nil {
			return typ, err
		}
		typ = inner
		typ.Dims = append([]int{int(size)}, inner.Dims...)

	case cbFunction:
		// A nested function signature; callers that need it decode it
		// separately via decodeFunctionSignature at the same cursor
		// position convention used by the original format.

	case cbEnum:
		idx, err := c.decodeUint32()
		if err != nil {
			return typ, err
		}
		typ.Tag = TagEnum
		if int(idx) < len(f.Enums) {
			typ.Enum = &f.Enums[idx]
		}
	case cbTypedef:
		idx, err := c.decodeUint32()
		if err != nil {
			return typ, err
		}
		typ.Tag = TagTypedef
		if int(idx) < len(f.TypeDefs) {
			typ.TypeDef = &f.TypeDefs[idx]
		}
	case cbTypeset:
		idx, err := c.decodeUint32()
		if err != nil {
			return typ, err
		}
		typ.Tag = TagTypeset
		if int(idx) < len(f.TypeSets) {
			typ.TypeSet = &f.TypeSets[idx]
		}
	case cbClassdef:
		idx, err := c.decodeUint32()
		if err != nil {
			return typ, err
		}
		typ.Tag = TagClassdef
		if int(idx) < len(f.ClassDefs) {
			typ.ClassDef = &f.ClassDefs[idx]
		}
	case cbEnumStr:
		idx, err := c.decodeUint32()
		if err != nil {
			return typ, err
		}
		typ.Tag = TagEnumStruct
		if int(idx) < len(f.EnumStructs) {
			typ.EnumStruct = &f.EnumStructs[idx]
		}
	default:
		return typ, errors.Errorf("smx: unknown type control byte %#x", tag)
	}

	return typ, nil
}

func (f *File) decodeFunctionSignature(offset uint32) (FunctionSignature, error) {
	if int(f.rttiData+offset) >= len(f.image) {
		return FunctionSignature{}, errors.New("smx: signature offset out of range")
	}
	cur := byteCursor{data: f.image[f.rttiData+offset:]}
	return f.decodeFunctionSignatureAt(&cur)
}

func (f *File) decodeFunctionSignatureAt(c *byteCursor) (FunctionSignature, error) {
	var sig FunctionSignature

	nargs, ok := c.next()
	if !ok {
		return sig, errors.New("smx: truncated function signature")
	}

	if b, ok := c.peek(); ok && b == cbVariadic {
		sig.Varargs = true
		c.next()
	}

	if b, ok := c.peek(); ok && b == cbVoid {
		c.next()
		sig.Ret = &VariableType{Tag: TagVoid}
	} else {
		ret, err := f.decodeVariableType(c)
		if err != nil {
			return sig, err
		}
		sig.Ret = &ret
	}

	sig.Args = make([]SignatureArg, nargs)
	for i := 0; i < int(nargs); i++ {
		byRef := false
		if b, ok := c.peek(); ok && b == cbByRef {
			byRef = true
			c.next()
		}
		argType, err := f.decodeVariableType(c)
		if err != nil {
			return sig, err
		}
		if byRef {
			argType.Flags |= FlagByRef
		}
		sig.Args[i].Type = argType
	}

	return sig, nil
}
