// Package cell defines the 32-bit word shared by every stage of the
// decompiler: addresses, opcodes, operands, stack slots, and data values
// all share this width in the SMX virtual machine.
package cell

import "math"

// Cell is one 32-bit signed word.
type Cell int32

// AsFloat reinterprets the cell's bits as an IEEE-754 float32, the
// encoding the VM uses for float constants and FLOAT* opcodes.
func (c Cell) AsFloat() float32 {
	return math.Float32frombits(uint32(c))
}

// FromFloat packs a float32 into a Cell using the same bit reinterpretation.
func FromFloat(f float32) Cell {
	return Cell(math.Float32bits(f))
}
