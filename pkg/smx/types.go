package smx

import "github.com/SlidyBat/SmxDecompiler/pkg/cell"

// VariableTag classifies a decoded SMX variable type.
type VariableTag int

const (
	TagUnknown VariableTag = iota
	TagVoid
	TagBool
	TagInt
	TagFloat
	TagChar
	TagAny

	TagEnum
	TagTypedef
	TagTypeset
	TagClassdef
	TagEnumStruct
)

// VariableTypeFlags are bit flags attached to a VariableType.
type VariableTypeFlags int

const (
	FlagNone  VariableTypeFlags = 0
	FlagConst VariableTypeFlags = 1 << 0
	FlagByRef VariableTypeFlags = 1 << 1
)

// VariableType is the decoded form of an SMX RTTI type signature: a tag
// plus whatever indirection (array dims) or table reference (enum,
// typedef, ...) the tag implies.
type VariableType struct {
	Tag   VariableTag
	Dims  []int
	Flags VariableTypeFlags

	// Exactly one of these is populated depending on Tag.
	Enum       *Enum
	TypeDef    *TypeDef
	TypeSet    *TypeSet
	EnumStruct *EnumStruct
	ClassDef   *ClassDef
}

// IsArray reports whether this type has at least one array dimension.
func (t VariableType) IsArray() bool { return len(t.Dims) > 0 }

// SignatureArg is one parameter of a FunctionSignature.
type SignatureArg struct {
	Name string
	Type VariableType
}

// FunctionSignature is a decoded function or native prototype.
type FunctionSignature struct {
	Ret     *VariableType // TagVoid when decoded as void; nil when no signature was decoded
	Args    []SignatureArg
	Varargs bool
}

// VariableClass distinguishes where a Variable lives.
type VariableClass int

const (
	ClassGlobal VariableClass = iota
	ClassLocal
	ClassStatic
	ClassArg
)

// Variable is one named global, local, or argument slot.
type Variable struct {
	Name     string
	Address  cell.Cell
	Type     VariableType
	Class    VariableClass
	IsPublic bool
}

// Function is one decompilable unit: a contiguous pcode range plus its
// signature and locals, looked up by address, name, or id.
type Function struct {
	RawName  string
	Name     string
	PcodeStart cell.Cell
	PcodeEnd   cell.Cell
	IsPublic bool
	Signature FunctionSignature
	Locals    []Variable

	// Discovered is true for functions added by AddDiscoveredFunction rather
	// than found in the .publics/rtti.methods table (a CALL target with
	// no RTTI entry of its own, e.g. a stock or forwarded function).
	Discovered bool
}

// FindLocalByStackOffset returns the local (or argument) whose frame
// address equals stackOffset, or nil if none matches.
func (f *Function) FindLocalByStackOffset(stackOffset int) *Variable {
	for i := range f.Locals {
		if int(f.Locals[i].Address) == stackOffset {
			return &f.Locals[i]
		}
	}
	return nil
}

// Native is an imported function with no pcode body of its own.
type Native struct {
	Name      string
	Signature FunctionSignature
}

// Enum is a named enumeration; SMX does not record individual enumerators
// in the RTTI tables consumed here, only the enum's own name.
type Enum struct {
	Name string
}

// TypeDef names a function-pointer typedef.
type TypeDef struct {
	Name      string
	Signature FunctionSignature
}

// TypeSet names a closed set of function signatures (a "uses" typeset).
type TypeSet struct {
	Name       string
	Signatures []FunctionSignature
}

// ESField is one field of an EnumStruct.
type ESField struct {
	Name   string
	Type   VariableType
	Offset uint32
}

// EnumStruct is a fixed-size, fixed-layout aggregate of fields addressed
// by byte offset from the struct's base address.
type EnumStruct struct {
	Name   string
	Fields []ESField
	Size   uint32
}

// FindFieldAtOffset returns the field at the given byte offset, or nil.
func (es *EnumStruct) FindFieldAtOffset(offset uint32) *ESField {
	for i := range es.Fields {
		if es.Fields[i].Offset == offset {
			return &es.Fields[i]
		}
	}
	return nil
}

// Field is one member of a ClassDef.
type Field struct {
	Name string
	Type VariableType
}

// ClassDefFlags are bit flags on a ClassDef.
type ClassDefFlags int

const (
	ClassDefStruct ClassDefFlags = 0
)

// ClassDef is a methodmap/struct-like aggregate recovered from RTTI.
type ClassDef struct {
	Flags  ClassDefFlags
	Name   string
	Fields []Field
}
