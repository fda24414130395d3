// Package structurizer turns a reducible IL control-flow graph into a tree
// of structured statements (if/while/do-while/endless/switch), the way a
// human would have written the source before it was compiled to pcode.
// Blocks the tree can't reach structurally (irreducible control flow) fall
// back to Goto, labeled on demand.
package structurizer

import (
	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
)

// Kind discriminates the payload carried by a Statement.
type Kind int

const (
	KindBasic Kind = iota
	KindIf
	KindWhile
	KindDoWhile
	KindEndless
	KindSwitch
	KindBreak
	KindContinue
	KindGoto
)

// Case is one value/body pair of a Switch statement.
type Case struct {
	Value cell.Cell
	Body  *Statement
}

// Statement is one node of the structured tree. Statements that fall
// through into what follows them are chained via Next rather than wrapped
// in a separate "sequence" node, so a straight-line run of code is just a
// Basic with a Next pointing at the next Basic.
type Statement struct {
	Kind Kind
	Next *Statement

	// Labeled marks a statement that some Goto targets, set lazily once
	// the emitter discovers a block gets reached a second way. The code
	// writer only prints a label when this is true.
	Labeled bool

	Block *il.ILBlock // Basic: the block's own (non-terminator-branch) instructions

	Cond il.NodeID  // If, While, DoWhile
	Then *Statement // If
	Else *Statement // If
	Body *Statement // While, DoWhile, Endless

	Value   il.NodeID // Switch
	Default *Statement
	Cases   []Case

	Target *Statement // Goto
}

func NewBasic(block *il.ILBlock) *Statement {
	return &Statement{Kind: KindBasic, Block: block}
}

func NewIf(cond il.NodeID, then, els *Statement) *Statement {
	return &Statement{Kind: KindIf, Cond: cond, Then: then, Else: els}
}

func NewWhile(cond il.NodeID, body *Statement) *Statement {
	return &Statement{Kind: KindWhile, Cond: cond, Body: body}
}

func NewDoWhile(cond il.NodeID, body *Statement) *Statement {
	return &Statement{Kind: KindDoWhile, Cond: cond, Body: body}
}

func NewEndless(body *Statement) *Statement {
	return &Statement{Kind: KindEndless, Body: body}
}

func NewSwitch(value il.NodeID, def *Statement, cases []Case) *Statement {
	return &Statement{Kind: KindSwitch, Value: value, Default: def, Cases: cases}
}

func NewBreak() *Statement { return &Statement{Kind: KindBreak} }

func NewContinue() *Statement { return &Statement{Kind: KindContinue} }

// NewGoto creates a jump to a statement elsewhere in the tree. target may
// be nil if the jump's destination hasn't been emitted yet; the caller is
// responsible for filling it in (or leaving it nil, meaning "unreachable
// label" for a block that was pruned).
func NewGoto(target *Statement) *Statement {
	return &Statement{Kind: KindGoto, Target: target}
}

// appendStatement chains tail onto the end of head's Next list, or returns
// tail by itself if head is nil.
func appendStatement(head, tail *Statement) *Statement {
	if head == nil {
		return tail
	}
	if tail == nil {
		return head
	}
	cur := head
	for cur.Next != nil {
		cur = cur.Next
	}
	cur.Next = tail
	return head
}
