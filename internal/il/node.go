// Package il is the typed intermediate representation the lifter
// produces and the typer, code fixer, and structurizer all operate on: an
// arena of nodes addressed by NodeID rather than C++-style pointers, so
// that replacing or removing a node is a matter of rewriting indices
// rather than managing ownership.
package il

import (
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// NodeID indexes a Node within a Func's arena. The zero value is a valid
// id (the arena's first node); InvalidNode marks "no node" where C++ would
// use nullptr.
type NodeID int

// InvalidNode marks the absence of a node, e.g. a Local/Return with no
// assigned value yet.
const InvalidNode NodeID = -1

// Valid reports whether id refers to an actual arena slot.
func (id NodeID) Valid() bool { return id != InvalidNode }

// Kind discriminates the payload carried by a Node.
type Kind int

const (
	KindConst Kind = iota
	KindUnary
	KindBinary
	KindLocalVar
	KindGlobalVar
	KindHeapVar
	KindArrayElementVar
	KindFieldVar
	KindTempVar
	KindLoad
	KindStore
	KindJump
	KindJumpCond
	KindSwitch
	KindCall
	KindNative
	KindReturn
	KindPhi
	KindInterval
)

// UnaryOp enumerates ILUnary's operators.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
	OpInvert

	OpFabs
	OpFloat
	OpFloatNot
	OpRndToNearest
	OpRndToCeil
	OpRndToZero
	OpRndToFloor

	OpIncOld // pre-value of an inc/dec, folded into the affected var's store
	OpDecOld
)

// BinaryOp enumerates ILBinary's operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpDiv
	OpMul
	OpMod
	OpShl
	OpShr
	OpSShr
	OpBitAnd
	OpBitOr
	OpXor

	OpEq
	OpNeq
	OpSGrtr
	OpSGeq
	OpSLess
	OpSLeq
	OpAnd
	OpOr

	OpFloatAdd
	OpFloatSub
	OpFloatMul
	OpFloatDiv

	OpFloatCmp
	OpFloatGt
	OpFloatGe
	OpFloatLe
	OpFloatLt
	OpFloatEq
	OpFloatNe
)

// CaseEntry is one value/target pair of an ILSwitch.
type CaseEntry struct {
	Value  cell.Cell
	Target BlockID
}

// Node is one arena slot. Exactly the fields relevant to Kind are
// meaningful; see the per-kind accessor methods below, which are the
// intended way to read a node rather than touching fields directly.
type Node struct {
	id   NodeID
	kind Kind
	typ  *smx.VariableType
	uses []NodeID

	// Payload fields. Which are populated is determined by kind; unused
	// fields are left zero.
	intVal   cell.Cell   // Const
	unaryOp  UnaryOp     // Unary
	binaryOp BinaryOp    // Binary
	a, b     NodeID      // Unary.val=a; Binary.left=a,right=b; Load/Store.var=a; ArrayElementVar.base=a,index=b; FieldVar.base=a; TempVar/LocalVar.value=a; Return.value=a; JumpCond.condition=a; Switch.value=a
	width    int         // Load/Store
	offset   int         // LocalVar.stackOffset, FieldVar.offset
	index    int         // TempVar.index
	addr     cell.Cell   // GlobalVar/HeapVar.addr, Call.addr
	size     cell.Cell   // HeapVar.size
	nativeIx int         // Native.nativeIndex
	smxVar   *smx.Variable
	esField  *smx.ESField

	args   []NodeID    // Call/Native
	inputs []NodeID    // Phi

	target      BlockID // Jump
	trueBranch  BlockID // JumpCond
	falseBranch BlockID // JumpCond
	defaultCase BlockID // Switch
	cases       []CaseEntry
	intervalBlk BlockID // Interval
}

// ID returns the node's arena index.
func (n *Node) ID() NodeID { return n.id }

// Kind returns the node's discriminant.
func (n *Node) Kind() Kind { return n.kind }

// Type returns the recovered SMX type for this node, or nil if unknown.
func (n *Node) Type() *smx.VariableType { return n.typ }

// SetType records the recovered SMX type for this node.
func (n *Node) SetType(t *smx.VariableType) { n.typ = t }

// Uses returns every node that refers to this one as an operand.
func (n *Node) Uses() []NodeID { return n.uses }

// NumUses returns len(Uses()).
func (n *Node) NumUses() int { return len(n.uses) }

func (n *Node) addUse(user NodeID) { n.uses = append(n.uses, user) }

func (n *Node) removeUse(user NodeID) {
	for i, u := range n.uses {
		if u == user {
			n.uses = append(n.uses[:i], n.uses[i+1:]...)
			return
		}
	}
}

// Per-kind accessors. Each assumes the caller already knows n.Kind().

func (n *Node) ConstValue() cell.Cell { return n.intVal }

func (n *Node) UnaryOp() UnaryOp { return n.unaryOp }
func (n *Node) UnaryVal() NodeID { return n.a }

func (n *Node) BinaryOp() BinaryOp { return n.binaryOp }
func (n *Node) BinaryLeft() NodeID  { return n.a }
func (n *Node) BinaryRight() NodeID { return n.b }

func (n *Node) LocalStackOffset() int   { return n.offset }
func (n *Node) LocalValue() NodeID      { return n.a }
func (n *Node) SmxVar() *smx.Variable   { return n.smxVar }
func (n *Node) SetSmxVar(v *smx.Variable) { n.smxVar = v }

func (n *Node) GlobalAddr() cell.Cell { return n.addr }
func (n *Node) HeapAddr() cell.Cell   { return n.addr }
func (n *Node) HeapSize() cell.Cell   { return n.size }

func (n *Node) ArrayBase() NodeID  { return n.a }
func (n *Node) ArrayIndex() NodeID { return n.b }

func (n *Node) FieldBase() NodeID       { return n.a }
func (n *Node) FieldOffset() int        { return n.offset }
func (n *Node) Field() *smx.ESField     { return n.esField }

func (n *Node) TempIndex() int     { return n.index }
func (n *Node) TempValue() NodeID  { return n.a }

func (n *Node) LoadVar() NodeID  { return n.a }
func (n *Node) LoadWidth() int   { return n.width }

func (n *Node) StoreVar() NodeID { return n.a }
func (n *Node) StoreVal() NodeID { return n.b }
func (n *Node) StoreWidth() int  { return n.width }

func (n *Node) JumpTarget() BlockID { return n.target }

func (n *Node) JumpCondCondition() NodeID  { return n.a }
func (n *Node) JumpCondTrue() BlockID      { return n.trueBranch }
func (n *Node) JumpCondFalse() BlockID     { return n.falseBranch }

func (n *Node) SwitchValue() NodeID          { return n.a }
func (n *Node) SwitchDefault() BlockID       { return n.defaultCase }
func (n *Node) SwitchCases() []CaseEntry     { return n.cases }

func (n *Node) CallAddr() cell.Cell { return n.addr }
func (n *Node) NativeIndex() int    { return n.nativeIx }
func (n *Node) Args() []NodeID      { return n.args }

func (n *Node) ReturnValue() NodeID { return n.a }

func (n *Node) PhiInputs() []NodeID { return n.inputs }

func (n *Node) IntervalBlock() BlockID { return n.intervalBlk }
