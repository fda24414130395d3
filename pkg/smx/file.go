// Package smx parses the SMX container format (SourcePawn's compiled
// plugin format) into the metadata tables the rest of the decompiler
// consumes: functions, natives, globals, and the RTTI type tables.
package smx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/pkg/errors"
)

const fileMagic = 0x53504646

const (
	compressionNone = 0
	compressionGZ   = 1
)

type fileHeader struct {
	Magic       uint32
	Version     uint16
	Compression uint8
	DiskSize    uint32
	ImageSize   uint32
	Sections    uint8
	StringTab   uint32
	DataOffs    uint32
}

type sectionEntry struct {
	NameOffs uint32
	DataOffs uint32
	Size     uint32
}

type codeHeader struct {
	CodeSize    uint32
	CellSize    uint8
	CodeVersion uint8
	Flags       uint16
	Main        uint32
	Code        uint32
	Features    uint32
}

type dataHeader struct {
	DataSize uint32
	MemSize  uint32
	Data     uint32
}

type publicEntry struct {
	Address uint32
	Name    uint32
}

type pubvarEntry struct {
	Address uint32
	Name    uint32
}

type nativeEntry struct {
	Name uint32
}

type rttiTableHeader struct {
	HeaderSize uint32
	RowSize    uint32
	RowCount   uint32
}

type section struct {
	name   string
	offset uint32
	size   uint32
}

// File is a parsed SMX container: code and data images plus the metadata
// tables needed to drive the decompiler.
type File struct {
	image     []byte
	stringTab uint32
	sections  []section

	code     []byte
	codeBase uint32
	dataBuf  []byte
	names    uint32
	rttiData uint32

	Functions   []Function
	Natives     []Native
	Enums       []Enum
	TypeDefs    []TypeDef
	TypeSets    []TypeSet
	EnumStructs []EnumStruct
	ClassDefs   []ClassDef

	esFields []ESField
	fields   []Field
	locals   []Variable
	Globals  []Variable
}

// Parse reads a complete SMX container from r.
func Parse(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading smx container")
	}
	return ParseBytes(raw)
}

// ParseBytes parses a complete SMX container already held in memory.
func ParseBytes(raw []byte) (*File, error) {
	if len(raw) < 16 {
		return nil, errors.New("smx: file too small for header")
	}
	var hdr fileHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "smx: reading header")
	}
	if hdr.Magic != fileMagic {
		return nil, errors.Errorf("smx: bad magic %#x", hdr.Magic)
	}

	image := make([]byte, hdr.ImageSize)
	switch hdr.Compression {
	case compressionNone:
		if int(hdr.ImageSize) > len(raw) {
			return nil, errors.New("smx: image size exceeds file size")
		}
		copy(image, raw[:hdr.ImageSize])
	case compressionGZ:
		if int(hdr.DataOffs) > len(raw) || int(hdr.DiskSize) > len(raw) {
			return nil, errors.New("smx: compressed section bounds exceed file size")
		}
		copy(image, raw[:hdr.DataOffs])
		zr, err := zlib.NewReader(bytes.NewReader(raw[hdr.DataOffs:hdr.DiskSize]))
		if err != nil {
			return nil, errors.Wrap(err, "smx: opening compressed section")
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, image[hdr.DataOffs:]); err != nil {
			return nil, errors.Wrap(err, "smx: decompressing section")
		}
	default:
		return nil, errors.Errorf("smx: unsupported compression type %d", hdr.Compression)
	}

	f := &File{image: image, stringTab: hdr.StringTab}

	headerSize := uint32(binary.Size(hdr))
	sectionsOff := headerSize
	for i := 0; i < int(hdr.Sections); i++ {
		var se sectionEntry
		off := sectionsOff + uint32(i)*uint32(binary.Size(se))
		if err := f.readStruct(off, &se); err != nil {
			return nil, errors.Wrap(err, "smx: reading section table")
		}
		f.sections = append(f.sections, section{
			name:   f.cstr(f.stringTab + se.NameOffs),
			offset: se.DataOffs,
			size:   se.Size,
		})
	}

	if err := f.readSections(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readStruct(offset uint32, v interface{}) error {
	if int(offset) > len(f.image) {
		return errors.New("smx: offset out of range")
	}
	return binary.Read(bytes.NewReader(f.image[offset:]), binary.LittleEndian, v)
}

// cstr reads a NUL-terminated string starting at a byte offset into the
// image (used for the shared string table and the .names section).
func (f *File) cstr(offset uint32) string {
	if int(offset) >= len(f.image) {
		return ""
	}
	end := offset
	for int(end) < len(f.image) && f.image[end] != 0 {
		end++
	}
	return string(f.image[offset:end])
}

func (f *File) byteAt(offset uint32) uint8 {
	if int(offset) >= len(f.image) {
		return 0
	}
	return f.image[offset]
}

func (f *File) uint32At(offset uint32) uint32 {
	if int(offset)+4 > len(f.image) {
		return 0
	}
	return binary.LittleEndian.Uint32(f.image[offset : offset+4])
}

func (f *File) sectionByName(name string) (section, bool) {
	for _, s := range f.sections {
		if s.name == name {
			return s, true
		}
	}
	return section{}, false
}

// readSections mirrors SmxFile::ReadSections: it dispatches each known
// section name to its reader if present. RTTI tables take precedence over
// the legacy .publics/.pubvars tables, which only populate Functions and
// Globals when the RTTI reader never ran (checked per-reader).
func (f *File) readSections() error {
	type reader struct {
		name string
		fn   func(section) error
	}
	readers := []reader{
		{".code", f.readCode},
		{".data", f.readData},
		{".names", f.readNames},
		{"rtti.data", f.readRttiData},
		{"rtti.enums", f.readRttiEnums},
		{"rtti.typedefs", f.readRttiTypeDefs},
		{"rtti.typesets", f.readRttiTypeSets},
		{"rtti.fields", f.readRttiFields},
		{"rtti.classdefs", f.readRttiClassdefs},
		{"rtti.enumstruct_fields", f.readRttiEnumStructFields},
		{"rtti.enumstructs", f.readRttiEnumStructs},
		{"rtti.methods", f.readRttiMethods},
		{"rtti.natives", f.readRttiNatives},
		{".dbg.globals", f.readDbgGlobals},
		{".dbg.locals", f.readDbgLocals},
		{".dbg.methods", f.readDbgMethods},
		{".publics", f.readPublics},
		{".pubvars", f.readPubvars},
		{".natives", f.readNatives},
	}
	for _, r := range readers {
		sec, ok := f.sectionByName(r.name)
		if !ok {
			continue
		}
		if err := r.fn(sec); err != nil {
			return errors.Wrapf(err, "smx: reading section %q", r.name)
		}
	}
	return nil
}

func (f *File) readCode(sec section) error {
	var hdr codeHeader
	if err := f.readStruct(sec.offset, &hdr); err != nil {
		return err
	}
	base := sec.offset + hdr.Code
	if int(base)+int(hdr.CodeSize) > len(f.image) {
		return errors.New("code section out of bounds")
	}
	f.code = f.image[base : base+hdr.CodeSize]
	f.codeBase = base
	return nil
}

func (f *File) readData(sec section) error {
	var hdr dataHeader
	if err := f.readStruct(sec.offset, &hdr); err != nil {
		return err
	}
	base := sec.offset + hdr.Data
	if int(base)+int(hdr.DataSize) > len(f.image) {
		return errors.New("data section out of bounds")
	}
	f.dataBuf = f.image[base : base+hdr.DataSize]
	return nil
}

func (f *File) readNames(sec section) error {
	f.names = sec.offset
	return nil
}

func (f *File) readPublics(sec section) error {
	if len(f.Functions) > 0 {
		return nil
	}
	const rowSize = 8
	count := sec.size / rowSize
	for i := uint32(0); i < count; i++ {
		var row publicEntry
		if err := f.readStruct(sec.offset+i*rowSize, &row); err != nil {
			return err
		}
		f.Functions = append(f.Functions, Function{
			Name:       f.cstr(f.names + row.Name),
			PcodeStart: cell.Cell(row.Address),
			PcodeEnd:   cell.Cell(len(f.code)),
		})
	}
	return nil
}

func (f *File) readPubvars(sec section) error {
	if len(f.Globals) > 0 {
		return nil
	}
	const rowSize = 8
	count := sec.size / rowSize
	for i := uint32(0); i < count; i++ {
		var row pubvarEntry
		if err := f.readStruct(sec.offset+i*rowSize, &row); err != nil {
			return err
		}
		f.Globals = append(f.Globals, Variable{
			Name:    f.cstr(f.names + row.Name),
			Address: cell.Cell(row.Address),
			Class:   ClassGlobal,
		})
	}
	return nil
}

func (f *File) readNatives(sec section) error {
	if len(f.Natives) > 0 {
		return nil
	}
	const rowSize = 4
	count := sec.size / rowSize
	for i := uint32(0); i < count; i++ {
		var row nativeEntry
		if err := f.readStruct(sec.offset+i*rowSize, &row); err != nil {
			return err
		}
		f.Natives = append(f.Natives, Native{Name: f.cstr(f.names + row.Name)})
	}
	return nil
}

func (f *File) readRttiData(sec section) error {
	f.rttiData = sec.offset
	return nil
}

func (f *File) rttiRows(sec section) (rttiTableHeader, error) {
	var hdr rttiTableHeader
	err := f.readStruct(sec.offset, &hdr)
	return hdr, err
}

func (f *File) rttiRowOffset(sec section, hdr rttiTableHeader, i uint32) uint32 {
	return sec.offset + hdr.HeaderSize + i*hdr.RowSize
}

func (f *File) readRttiMethods(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	f.Functions = make([]Function, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		var row struct {
			Name       uint32
			PcodeStart uint32
			PcodeEnd   uint32
			Signature  uint32
		}
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, i), &row); err != nil {
			return err
		}
		sig, err := f.decodeFunctionSignature(row.Signature)
		if err != nil {
			return err
		}
		f.Functions = append(f.Functions, Function{
			Name:       f.cstr(f.names + row.Name),
			PcodeStart: cell.Cell(row.PcodeStart),
			PcodeEnd:   cell.Cell(row.PcodeEnd),
			Signature:  sig,
		})
	}
	return nil
}

func (f *File) readRttiNatives(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	f.Natives = make([]Native, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		var row struct {
			Name      uint32
			Signature uint32
		}
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, i), &row); err != nil {
			return err
		}
		sig, err := f.decodeFunctionSignature(row.Signature)
		if err != nil {
			return err
		}
		f.Natives = append(f.Natives, Native{Name: f.cstr(f.names + row.Name), Signature: sig})
	}
	return nil
}

func (f *File) readRttiEnums(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	f.Enums = make([]Enum, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		var row struct {
			Name                          uint32
			Reserved0, Reserved1, Reserved2 uint32
		}
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, i), &row); err != nil {
			return err
		}
		f.Enums = append(f.Enums, Enum{Name: f.cstr(f.names + row.Name)})
	}
	return nil
}

func (f *File) readRttiTypeDefs(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	f.TypeDefs = make([]TypeDef, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		var row struct {
			Name   uint32
			TypeID uint32
		}
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, i), &row); err != nil {
			return err
		}
		f.TypeDefs = append(f.TypeDefs, TypeDef{Name: f.cstr(f.names + row.Name)})
	}
	return nil
}

func (f *File) readRttiTypeSets(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	f.TypeSets = make([]TypeSet, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		var row struct {
			Name      uint32
			Signature uint32
		}
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, i), &row); err != nil {
			return err
		}
		f.TypeSets = append(f.TypeSets, TypeSet{Name: f.cstr(f.names + row.Name)})
	}
	return nil
}

func (f *File) readRttiClassdefs(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	type row struct {
		Flags                          uint32
		Name                           uint32
		FirstField                     uint32
		R0, R1, R2, R3                 uint32
	}
	rows := make([]row, hdr.RowCount)
	for i := range rows {
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, uint32(i)), &rows[i]); err != nil {
			return err
		}
	}
	f.ClassDefs = make([]ClassDef, 0, hdr.RowCount)
	for i, r := range rows {
		var numFields uint32
		if i < len(rows)-1 {
			numFields = rows[i+1].FirstField - r.FirstField
		} else {
			numFields = uint32(len(f.fields)) - r.FirstField
		}
		f.ClassDefs = append(f.ClassDefs, ClassDef{
			Flags:  ClassDefFlags(r.Flags),
			Name:   f.cstr(f.names + r.Name),
			Fields: f.fields[r.FirstField : r.FirstField+numFields],
		})
	}
	return nil
}

func (f *File) readRttiFields(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	f.fields = make([]Field, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		var row struct {
			Name   uint32
			TypeID uint32
		}
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, i), &row); err != nil {
			return err
		}
		typ, err := f.decodeVariableTypeID(row.TypeID)
		if err != nil {
			return err
		}
		f.fields = append(f.fields, Field{Name: f.cstr(f.names + row.Name), Type: typ})
	}
	return nil
}

func (f *File) readRttiEnumStructs(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	type row struct {
		Name       uint32
		FirstField uint32
		Size       uint32
	}
	rows := make([]row, hdr.RowCount)
	for i := range rows {
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, uint32(i)), &rows[i]); err != nil {
			return err
		}
	}
	f.EnumStructs = make([]EnumStruct, 0, hdr.RowCount)
	for i, r := range rows {
		var numFields uint32
		if i < len(rows)-1 {
			numFields = rows[i+1].FirstField - r.FirstField
		} else {
			numFields = uint32(len(f.esFields)) - r.FirstField
		}
		f.EnumStructs = append(f.EnumStructs, EnumStruct{
			Name:   f.cstr(f.names + r.Name),
			Fields: f.esFields[r.FirstField : r.FirstField+numFields],
			Size:   r.Size,
		})
	}
	return nil
}

func (f *File) readRttiEnumStructFields(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	f.esFields = make([]ESField, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		var row struct {
			Name   uint32
			TypeID uint32
			Offset uint32
		}
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, i), &row); err != nil {
			return err
		}
		typ, err := f.decodeVariableTypeID(row.TypeID)
		if err != nil {
			return err
		}
		f.esFields = append(f.esFields, ESField{Name: f.cstr(f.names + row.Name), Type: typ, Offset: row.Offset})
	}
	return nil
}

func (f *File) readDbgMethods(sec section) error {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return err
	}
	type row struct {
		MethodIndex uint32
		FirstLocal  uint32
	}
	rows := make([]row, hdr.RowCount)
	for i := range rows {
		if err := f.readStruct(f.rttiRowOffset(sec, hdr, uint32(i)), &rows[i]); err != nil {
			return err
		}
	}
	for i, r := range rows {
		if int(r.MethodIndex) >= len(f.Functions) {
			continue
		}
		fn := &f.Functions[r.MethodIndex]
		var numLocals uint32
		if i != len(rows)-1 {
			numLocals = rows[i+1].FirstLocal - r.FirstLocal
		} else {
			numLocals = uint32(len(f.locals)) - r.FirstLocal
		}
		fn.Locals = f.locals[r.FirstLocal : r.FirstLocal+numLocals]

		for argIdx := range fn.Signature.Args {
			local := fn.FindLocalByStackOffset(argIdx*4 + 12)
			if local == nil {
				continue
			}
			fn.Signature.Args[argIdx].Name = local.Name
		}
	}
	return nil
}

func (f *File) readDbgGlobals(sec section) error {
	vars, err := f.readDbgVars(sec)
	if err != nil {
		return err
	}
	f.Globals = vars
	return nil
}

func (f *File) readDbgLocals(sec section) error {
	vars, err := f.readDbgVars(sec)
	if err != nil {
		return err
	}
	f.locals = vars
	return nil
}

func (f *File) readDbgVars(sec section) ([]Variable, error) {
	hdr, err := f.rttiRows(sec)
	if err != nil {
		return nil, err
	}
	vars := make([]Variable, 0, hdr.RowCount)
	for i := uint32(0); i < hdr.RowCount; i++ {
		raw := f.rttiRowOffset(sec, hdr, i)
		var address int32
		if err := f.readStruct(raw, &address); err != nil {
			return nil, err
		}
		vclass := f.byteAt(raw + 4)
		name := f.uint32At(raw + 5)
		typeID := f.uint32At(raw + 17)
		typ, err := f.decodeVariableTypeID(typeID)
		if err != nil {
			return nil, err
		}
		vars = append(vars, Variable{
			Name:    f.cstr(f.names + name),
			Address: cell.Cell(address),
			Type:    typ,
			Class:   VariableClass(vclass),
		})
	}
	return vars, nil
}

// CodeWord reads one 4-byte cell from the code section at the given byte
// address. ok is false if addr is out of range.
func (f *File) CodeWord(addr cell.Cell) (cell.Cell, bool) {
	if addr < 0 || int(addr)+4 > len(f.code) {
		return 0, false
	}
	return cell.Cell(binary.LittleEndian.Uint32(f.code[addr : addr+4])), true
}

// Code returns the code image starting at the given pcode address.
func (f *File) Code(addr cell.Cell) []byte {
	if int(addr) >= len(f.code) {
		return nil
	}
	return f.code[addr:]
}

// CodeSize is the size in bytes of the .code section's instruction stream.
func (f *File) CodeSize() int { return len(f.code) }

// Data returns the data image starting at the given address.
func (f *File) Data(addr cell.Cell) []byte {
	if int(addr) >= len(f.dataBuf) {
		return nil
	}
	return f.dataBuf[addr:]
}

// DataSize is the size in bytes of the .data section.
func (f *File) DataSize() int { return len(f.dataBuf) }

// FindFunctionByName returns the function with the given name, or nil.
func (f *File) FindFunctionByName(name string) *Function {
	for i := range f.Functions {
		if f.Functions[i].Name == name {
			return &f.Functions[i]
		}
	}
	return nil
}

// FindFunctionAt returns the function whose pcode range contains addr.
func (f *File) FindFunctionAt(addr cell.Cell) *Function {
	for i := range f.Functions {
		fn := &f.Functions[i]
		if addr >= fn.PcodeStart && addr < fn.PcodeEnd {
			return fn
		}
	}
	return nil
}

// FindNativeByIndex returns the native at the given table index, or nil.
func (f *File) FindNativeByIndex(index int) *Native {
	if index < 0 || index >= len(f.Natives) {
		return nil
	}
	return &f.Natives[index]
}

// FindGlobalByName returns the global variable with the given name, or nil.
func (f *File) FindGlobalByName(name string) *Variable {
	for i := range f.Globals {
		if f.Globals[i].Name == name {
			return &f.Globals[i]
		}
	}
	return nil
}

// FindGlobalAt returns the global variable at the given data address, or nil.
func (f *File) FindGlobalAt(addr cell.Cell) *Variable {
	for i := range f.Globals {
		if f.Globals[i].Address == addr {
			return &f.Globals[i]
		}
	}
	return nil
}

// AddDiscoveredFunction registers a function whose only evidence is a CALL
// target with no entry in .publics/rtti.methods (spec §4.7 function
// discovery). The function body is assumed to run from addr to the next
// known function start, or to the end of .code if it is the last one.
func (f *File) AddDiscoveredFunction(addr cell.Cell, name string) *Function {
	if fn := f.FindFunctionAt(addr); fn != nil {
		return fn
	}
	end := cell.Cell(len(f.code))
	for i := range f.Functions {
		if f.Functions[i].PcodeStart > addr && f.Functions[i].PcodeStart < end {
			end = f.Functions[i].PcodeStart
		}
	}
	f.Functions = append(f.Functions, Function{
		Name:       name,
		RawName:    name,
		PcodeStart: addr,
		PcodeEnd:   end,
		Discovered: true,
	})
	return &f.Functions[len(f.Functions)-1]
}
