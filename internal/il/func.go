package il

import (
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/smx"
)

// Func is the arena owning every IL node produced while lifting one SMX
// function (its companion Graph owns the blocks that reference these
// nodes by id). Nothing in the arena is individually freed; the whole
// Func is dropped together once decompilation of that function finishes.
type Func struct {
	nodes []Node

	nextTemp int
}

// NewFunc creates an empty arena.
func NewFunc() *Func {
	return &Func{}
}

// Node returns the node at id.
func (f *Func) Node(id NodeID) *Node {
	if !id.Valid() {
		return nil
	}
	return &f.nodes[id]
}

func (f *Func) alloc(kind Kind) NodeID {
	id := NodeID(len(f.nodes))
	f.nodes = append(f.nodes, Node{id: id, kind: kind})
	return id
}

func (f *Func) addUse(operand, user NodeID) {
	if operand.Valid() {
		f.Node(operand).addUse(user)
	}
}

// NewConst creates a constant cell value node.
func (f *Func) NewConst(val cell.Cell) NodeID {
	id := f.alloc(KindConst)
	f.Node(id).intVal = val
	return id
}

// NewUnary creates a unary-operator node.
func (f *Func) NewUnary(val NodeID, op UnaryOp) NodeID {
	id := f.alloc(KindUnary)
	n := f.Node(id)
	n.a = val
	n.unaryOp = op
	f.addUse(val, id)
	return id
}

// NewBinary creates a binary-operator node.
func (f *Func) NewBinary(left NodeID, op BinaryOp, right NodeID) NodeID {
	id := f.alloc(KindBinary)
	n := f.Node(id)
	n.a, n.binaryOp, n.b = left, op, right
	f.addUse(left, id)
	f.addUse(right, id)
	return id
}

// NewLocalVar creates a stack-frame variable slot.
func (f *Func) NewLocalVar(stackOffset int, value NodeID) NodeID {
	id := f.alloc(KindLocalVar)
	n := f.Node(id)
	n.offset, n.a = stackOffset, value
	f.addUse(value, id)
	return id
}

// SetLocalValue rebinds a LocalVar's current value (locals are mutable
// storage; each new store gets a fresh use edge).
func (f *Func) SetLocalValue(v NodeID, value NodeID) {
	n := f.Node(v)
	n.a = value
	f.addUse(value, v)
}

// ClearLocalValue disconnects a LocalVar's value operand without
// deleting the LocalVar node itself, used when popping the abstract
// expression stack: the slot's value is handed to the caller directly
// rather than counted as a use of the LocalVar wrapper.
func (f *Func) ClearLocalValue(v NodeID) {
	n := f.Node(v)
	if n.a.Valid() {
		f.RemoveUse(n.a, v)
	}
	n.a = InvalidNode
}

// ClearTempValue disconnects a TempVar's wrapped value, used by MovePhis
// once a phi-valued temp has been turned into real per-edge stores and no
// longer needs its original value operand.
func (f *Func) ClearTempValue(v NodeID) {
	n := f.Node(v)
	if n.a.Valid() {
		f.RemoveUse(n.a, v)
	}
	n.a = InvalidNode
}

// ClearReturnValue disconnects a Return's value operand, turning it into
// a void return; used by the code fixer's RemoveVoidRets pass.
func (f *Func) ClearReturnValue(id NodeID) {
	n := f.Node(id)
	if n.a.Valid() {
		f.RemoveUse(n.a, id)
	}
	n.a = InvalidNode
}

// NewGlobalVar creates a reference to a global by data-section address.
func (f *Func) NewGlobalVar(addr cell.Cell) NodeID {
	id := f.alloc(KindGlobalVar)
	f.Node(id).addr = addr
	return id
}

// NewHeapVar creates a reference to a heap-allocated (runtime-sized
// stack-heap, i.e. `new`-allocated local array) variable.
func (f *Func) NewHeapVar(addr, size cell.Cell) NodeID {
	id := f.alloc(KindHeapVar)
	n := f.Node(id)
	n.addr, n.size = addr, size
	return id
}

// NewArrayElementVar creates a reference to base[index].
func (f *Func) NewArrayElementVar(base, index NodeID) NodeID {
	id := f.alloc(KindArrayElementVar)
	n := f.Node(id)
	n.a, n.b = base, index
	f.addUse(base, id)
	f.addUse(index, id)
	return id
}

// NewFieldVar creates a reference to an enum-struct field at a fixed byte
// offset from base.
func (f *Func) NewFieldVar(base NodeID, offset int, field *smx.ESField) NodeID {
	id := f.alloc(KindFieldVar)
	n := f.Node(id)
	n.a, n.offset, n.esField = base, offset, field
	return id
}

// NewTempVar creates a fresh lifter-internal temporary, used to materialize
// a value that must outlive the expression stack across a block boundary.
func (f *Func) NewTempVar(value NodeID) NodeID {
	id := f.alloc(KindTempVar)
	n := f.Node(id)
	n.index, n.a = f.nextTemp, value
	f.nextTemp++
	return id
}

// NewLoad creates a load of width bytes from var_.
func (f *Func) NewLoad(v NodeID, width int) NodeID {
	id := f.alloc(KindLoad)
	n := f.Node(id)
	n.a, n.width = v, width
	f.addUse(v, id)
	return id
}

// NewStore creates a store of val into var_, width bytes wide.
func (f *Func) NewStore(v, val NodeID, width int) NodeID {
	id := f.alloc(KindStore)
	n := f.Node(id)
	n.a, n.b, n.width = v, val, width
	f.addUse(v, id)
	f.addUse(val, id)
	return id
}

// NewJump creates an unconditional jump to target.
func (f *Func) NewJump(target BlockID) NodeID {
	id := f.alloc(KindJump)
	f.Node(id).target = target
	return id
}

// NewJumpCond creates a conditional branch.
func (f *Func) NewJumpCond(cond NodeID, trueBranch, falseBranch BlockID) NodeID {
	id := f.alloc(KindJumpCond)
	n := f.Node(id)
	n.a, n.trueBranch, n.falseBranch = cond, trueBranch, falseBranch
	f.addUse(cond, id)
	return id
}

// InvertJumpCond swaps a JumpCond's branches (used when the structurizer
// or code fixer decides the negated condition reads better).
func (f *Func) InvertJumpCond(id NodeID) {
	n := f.Node(id)
	n.trueBranch, n.falseBranch = n.falseBranch, n.trueBranch
}

// ReplaceJumpCondTarget rewrites a JumpCond's branch target, used when the
// CFG is edited after lifting (e.g. block merging in the code fixer).
func (f *Func) ReplaceJumpCondTarget(id NodeID, from, to BlockID) {
	n := f.Node(id)
	if n.trueBranch == from {
		n.trueBranch = to
	}
	if n.falseBranch == from {
		n.falseBranch = to
	}
}

// ReplaceJumpTarget rewrites a Jump's target.
func (f *Func) ReplaceJumpTarget(id NodeID, from, to BlockID) {
	n := f.Node(id)
	if n.target == from {
		n.target = to
	}
}

// NewSwitch creates a multi-way branch on value.
func (f *Func) NewSwitch(value NodeID, defaultCase BlockID, cases []CaseEntry) NodeID {
	id := f.alloc(KindSwitch)
	n := f.Node(id)
	n.a, n.defaultCase, n.cases = value, defaultCase, cases
	f.addUse(value, id)
	return id
}

// NewCall creates a call to a pcode address (a user-defined function).
func (f *Func) NewCall(addr cell.Cell) NodeID {
	id := f.alloc(KindCall)
	f.Node(id).addr = addr
	return id
}

// NewNative creates a call to a native function by table index.
func (f *Func) NewNative(nativeIndex int) NodeID {
	id := f.alloc(KindNative)
	f.Node(id).nativeIx = nativeIndex
	return id
}

// AddArg appends an argument to a Call or Native node.
func (f *Func) AddArg(callable, arg NodeID) {
	n := f.Node(callable)
	n.args = append(n.args, arg)
	f.addUse(arg, callable)
}

// NewReturn creates a function return, optionally carrying a value
// (InvalidNode for a void return).
func (f *Func) NewReturn(value NodeID) NodeID {
	id := f.alloc(KindReturn)
	n := f.Node(id)
	n.a = value
	f.addUse(value, id)
	return id
}

// NewPhi creates an empty phi node; inputs are added with AddPhiInput as
// predecessor values are discovered.
func (f *Func) NewPhi() NodeID {
	return f.alloc(KindPhi)
}

// AddPhiInput appends one incoming value to a Phi.
func (f *Func) AddPhiInput(phi, input NodeID) {
	n := f.Node(phi)
	n.inputs = append(n.inputs, input)
	f.addUse(input, phi)
}

// NewInterval wraps a block as a single IL node, used by the structurizer
// to collapse a detected loop/region into one node for the next derivation
// step.
func (f *Func) NewInterval(block BlockID) NodeID {
	id := f.alloc(KindInterval)
	f.Node(id).intervalBlk = block
	return id
}

// ReplaceUsesWith rewrites every node that uses `old` to use `replacement`
// instead, then clears old's use list. This is the IL-level analogue of
// C++'s virtual ReplaceParam dispatch, implemented here as a switch over
// Kind since Go has no dynamic dispatch on an unboxed arena slot.
func (f *Func) ReplaceUsesWith(old, replacement NodeID) {
	oldNode := f.Node(old)
	users := append([]NodeID(nil), oldNode.uses...)
	for _, user := range users {
		f.replaceParam(user, old, replacement)
	}
	oldNode.uses = nil
}

// RemoveUse drops user from operand's use list without touching operand's
// own references (used when a user node is being deleted outright).
func (f *Func) RemoveUse(operand, user NodeID) {
	if operand.Valid() {
		f.Node(operand).removeUse(user)
	}
}

// ReplaceOperand rewrites a single user's operand equal to old to
// replacement, touching only that one use edge rather than every use of
// old the way ReplaceUsesWith does. Needed whenever replacement itself
// references old (e.g. wrapping a var as ArrayElementVar(var, 0)),
// since ReplaceUsesWith would otherwise try to rewrite replacement's own
// freshly created reference to old into a self-reference.
func (f *Func) ReplaceOperand(user, old, replacement NodeID) {
	f.RemoveUse(old, user)
	f.replaceParam(user, old, replacement)
}

// replaceParam rewrites node `user`'s operand(s) equal to target to
// replacement, mirroring each concrete type's C++ ReplaceParam override.
func (f *Func) replaceParam(user, target, replacement NodeID) {
	n := f.Node(user)
	switch n.kind {
	case KindUnary, KindLocalVar, KindTempVar, KindReturn:
		if n.a == target {
			n.a = replacement
			f.addUse(replacement, user)
		}
	case KindBinary, KindArrayElementVar:
		if n.a == target {
			n.a = replacement
			f.addUse(replacement, user)
		}
		if n.b == target {
			n.b = replacement
			f.addUse(replacement, user)
		}
	case KindLoad:
		if n.a == target {
			n.a = replacement
			f.addUse(replacement, user)
		}
	case KindStore:
		if n.a == target {
			n.a = replacement
			f.addUse(replacement, user)
		}
		if n.b == target {
			n.b = replacement
			f.addUse(replacement, user)
		}
	case KindJumpCond, KindSwitch:
		if n.a == target {
			n.a = replacement
			f.addUse(replacement, user)
		}
	case KindCall, KindNative:
		for i, a := range n.args {
			if a == target {
				n.args[i] = replacement
				f.addUse(replacement, user)
			}
		}
	case KindPhi:
		for i, in := range n.inputs {
			if in == target {
				n.inputs[i] = replacement
				f.addUse(replacement, user)
			}
		}
	}
}
