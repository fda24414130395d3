package lifter

import (
	"fmt"

	"github.com/SlidyBat/SmxDecompiler/internal/il"
	"github.com/SlidyBat/SmxDecompiler/pkg/cell"
	"github.com/SlidyBat/SmxDecompiler/pkg/pcode"
)

// liftInstr translates one pcode instruction into zero or more IL nodes,
// updating the block's abstract pri/alt registers and operand stack in
// place. addr/next are the instruction's own address and the address of
// whatever follows it, needed for relative jump targets.
func (s *liftState) liftInstr(ilbb *il.ILBlock, op pcode.Opcode, params []cell.Cell, addr, next cell.Cell) error {
	stk := s.cur
	pri, alt := &stk.pri, &stk.alt

	handleJump := func(cond il.NodeID) error {
		trueBranch := s.ig.FindBlockAt(params[0])
		falseBranch := s.ig.FindBlockAt(next)
		if trueBranch == nil || falseBranch == nil {
			return fmt.Errorf("jump target not found")
		}
		ilbb.Add(s.ilfn.NewJumpCond(cond, trueBranch.ID(), falseBranch.ID()))
		return nil
	}

	switch op {
	case pcode.OpProc:
		for i := 0; i < s.ig.NumArgs(); i++ {
			s.push(il.InvalidNode)
		}
		s.push(il.InvalidNode) // argument count
		s.push(il.InvalidNode) // saved frame pointer
		s.push(il.InvalidNode) // saved heap pointer

	case pcode.OpStack:
		amount := int(int32(params[0]))
		if amount < 0 {
			for i := 0; i < -amount/4; i++ {
				ilbb.Add(s.push(il.InvalidNode))
			}
		} else {
			for i := 0; i < amount/4; i++ {
				s.pop()
			}
		}

	case pcode.OpHeap:
		size := params[0]
		heapVar := s.ilfn.NewHeapVar(s.heapAddr, size)
		s.heapAddr += size
		*alt = heapVar
		ilbb.Add(heapVar)

	case pcode.OpFill, pcode.OpMovs, pcode.OpNone, pcode.OpBreak, pcode.OpBounds:
		// No IL effect: FILL/MOVS operate on raw memory the decompiler
		// doesn't model byte-for-byte; BREAK/BOUNDS are debug-only.

	case pcode.OpPush, pcode.OpPush2, pcode.OpPush3, pcode.OpPush4, pcode.OpPush5:
		for _, p := range params {
			ilbb.Add(s.push(s.ilfn.NewLoad(s.ilfn.NewGlobalVar(p), 4)))
		}

	case pcode.OpPushS, pcode.OpPush2S, pcode.OpPush3S, pcode.OpPush4S, pcode.OpPush5S:
		for _, p := range params {
			ilbb.Add(s.push(s.ilfn.NewLoad(s.getFrameVar(int(p)), 4)))
		}

	case pcode.OpPushC, pcode.OpPush2C, pcode.OpPush3C, pcode.OpPush4C, pcode.OpPush5C:
		for _, p := range params {
			ilbb.Add(s.push(s.ilfn.NewConst(p)))
		}

	case pcode.OpPushAdr, pcode.OpPush2Adr, pcode.OpPush3Adr, pcode.OpPush4Adr, pcode.OpPush5Adr:
		for _, p := range params {
			ilbb.Add(s.push(s.getFrameVar(int(p))))
		}

	case pcode.OpPushPri:
		ilbb.Add(s.push(*pri))
	case pcode.OpPushAlt:
		ilbb.Add(s.push(*alt))

	case pcode.OpPopPri:
		*pri = s.popValue()
	case pcode.OpPopAlt:
		*alt = s.popValue()

	case pcode.OpConstPri:
		*pri = s.ilfn.NewConst(params[0])
	case pcode.OpConstAlt:
		*alt = s.ilfn.NewConst(params[0])
	case pcode.OpConst:
		ilbb.Add(s.ilfn.NewStore(s.ilfn.NewGlobalVar(params[0]), s.ilfn.NewConst(params[1]), 4))
	case pcode.OpConstS:
		ilbb.Add(s.ilfn.NewStore(s.getFrameVar(int(params[0])), s.ilfn.NewConst(params[1]), 4))

	case pcode.OpLoadPri:
		*pri = s.ilfn.NewLoad(s.ilfn.NewGlobalVar(params[0]), 4)
	case pcode.OpLoadAlt:
		*alt = s.ilfn.NewLoad(s.ilfn.NewGlobalVar(params[0]), 4)
	case pcode.OpLoadBoth:
		*pri = s.ilfn.NewLoad(s.ilfn.NewGlobalVar(params[0]), 4)
		*alt = s.ilfn.NewLoad(s.ilfn.NewGlobalVar(params[1]), 4)
	case pcode.OpLoadSPri:
		*pri = s.ilfn.NewLoad(s.getFrameVar(int(params[0])), 4)
	case pcode.OpLoadSAlt:
		*alt = s.ilfn.NewLoad(s.getFrameVar(int(params[0])), 4)
	case pcode.OpLoadSBoth:
		*pri = s.ilfn.NewLoad(s.getFrameVar(int(params[0])), 4)
		*alt = s.ilfn.NewLoad(s.getFrameVar(int(params[1])), 4)
	case pcode.OpLoadI:
		v := s.getVar(*pri)
		if !v.Valid() {
			return fmt.Errorf("load.i: pri is not a variable")
		}
		*pri = s.ilfn.NewLoad(v, 4)

	case pcode.OpStorPri:
		ilbb.Add(s.ilfn.NewStore(s.ilfn.NewGlobalVar(params[0]), *pri, 4))
	case pcode.OpStorAlt:
		ilbb.Add(s.ilfn.NewStore(s.ilfn.NewGlobalVar(params[0]), *alt, 4))
	case pcode.OpStorSPri:
		ilbb.Add(s.ilfn.NewStore(s.getFrameVar(int(params[0])), *pri, 4))
	case pcode.OpStorSAlt:
		ilbb.Add(s.ilfn.NewStore(s.getFrameVar(int(params[0])), *alt, 4))
	case pcode.OpStorI:
		v := s.getVar(*alt)
		if !v.Valid() {
			return fmt.Errorf("stor.i: alt is not a variable")
		}
		ilbb.Add(s.ilfn.NewStore(v, *pri, 4))

	case pcode.OpLRefSPri:
		*pri = s.ilfn.NewLoad(s.getFrameVar(int(params[0])), 4)
	case pcode.OpLRefSAlt:
		*alt = s.ilfn.NewLoad(s.getFrameVar(int(params[0])), 4)
	case pcode.OpSRefSPri:
		ilbb.Add(s.ilfn.NewStore(s.getFrameVar(int(params[0])), *pri, 4))
	case pcode.OpSRefSAlt:
		ilbb.Add(s.ilfn.NewStore(s.getFrameVar(int(params[0])), *alt, 4))

	case pcode.OpLodbI:
		v := s.getVar(*pri)
		if !v.Valid() {
			return fmt.Errorf("lodb.i: pri is not a variable")
		}
		*pri = s.ilfn.NewLoad(v, int(params[0]))
	case pcode.OpStrbI:
		v := s.getVar(*alt)
		if !v.Valid() {
			return fmt.Errorf("strb.i: alt is not a variable")
		}
		ilbb.Add(s.ilfn.NewStore(v, *pri, int(params[0])))

	case pcode.OpLidx:
		arr := s.getVar(*alt)
		if !arr.Valid() {
			return fmt.Errorf("lidx: alt is not a variable")
		}
		*pri = s.ilfn.NewLoad(s.ilfn.NewArrayElementVar(arr, *pri), 4)
	case pcode.OpIdxAddr:
		arr := s.getVar(*alt)
		if !arr.Valid() {
			return fmt.Errorf("idxaddr: alt is not a variable")
		}
		*pri = s.ilfn.NewArrayElementVar(arr, *pri)

	case pcode.OpAddrPri:
		*pri = s.getFrameVar(int(params[0]))
	case pcode.OpAddrAlt:
		*alt = s.getFrameVar(int(params[0]))

	case pcode.OpZeroPri:
		*pri = s.ilfn.NewConst(0)
	case pcode.OpZeroAlt:
		*alt = s.ilfn.NewConst(0)
	case pcode.OpZero:
		ilbb.Add(s.ilfn.NewStore(s.ilfn.NewGlobalVar(params[0]), s.ilfn.NewConst(0), 4))
	case pcode.OpZeroS:
		ilbb.Add(s.ilfn.NewStore(s.getFrameVar(int(params[0])), s.ilfn.NewConst(0), 4))

	case pcode.OpMovePri:
		*pri = *alt
	case pcode.OpMoveAlt:
		*alt = *pri
	case pcode.OpXchg:
		*pri, *alt = *alt, *pri
	case pcode.OpSwapPri:
		top := s.pop()
		ilbb.Add(s.push(*pri))
		*pri = s.node(top).LocalValue()
	case pcode.OpSwapAlt:
		top := s.pop()
		ilbb.Add(s.push(*alt))
		*alt = s.node(top).LocalValue()

	case pcode.OpIncPri:
		*pri = s.ilfn.NewUnary(*pri, il.OpIncOld)
	case pcode.OpIncAlt:
		*alt = s.ilfn.NewUnary(*alt, il.OpIncOld)
	case pcode.OpInc:
		v := s.ilfn.NewGlobalVar(params[0])
		ilbb.Add(s.ilfn.NewStore(v, s.ilfn.NewUnary(s.ilfn.NewLoad(v, 4), il.OpIncOld), 4))
	case pcode.OpIncS:
		v := s.getFrameVar(int(params[0]))
		ilbb.Add(s.ilfn.NewStore(v, s.ilfn.NewUnary(s.ilfn.NewLoad(v, 4), il.OpIncOld), 4))
	case pcode.OpIncI:
		v := s.getVar(*pri)
		if !v.Valid() {
			return fmt.Errorf("inc.i: pri is not a variable")
		}
		ilbb.Add(s.ilfn.NewStore(v, s.ilfn.NewUnary(s.ilfn.NewLoad(v, 4), il.OpIncOld), 4))
	case pcode.OpDecPri:
		*pri = s.ilfn.NewUnary(*pri, il.OpDecOld)
	case pcode.OpDecAlt:
		*alt = s.ilfn.NewUnary(*alt, il.OpDecOld)
	case pcode.OpDec:
		v := s.ilfn.NewGlobalVar(params[0])
		ilbb.Add(s.ilfn.NewStore(v, s.ilfn.NewUnary(s.ilfn.NewLoad(v, 4), il.OpDecOld), 4))
	case pcode.OpDecS:
		v := s.getFrameVar(int(params[0]))
		ilbb.Add(s.ilfn.NewStore(v, s.ilfn.NewUnary(s.ilfn.NewLoad(v, 4), il.OpDecOld), 4))
	case pcode.OpDecI:
		v := s.getVar(*pri)
		if !v.Valid() {
			return fmt.Errorf("dec.i: pri is not a variable")
		}
		ilbb.Add(s.ilfn.NewStore(v, s.ilfn.NewUnary(s.ilfn.NewLoad(v, 4), il.OpDecOld), 4))

	case pcode.OpShl:
		*pri = s.ilfn.NewBinary(*pri, il.OpShl, *alt)
	case pcode.OpShr:
		*pri = s.ilfn.NewBinary(*pri, il.OpShr, *alt)
	case pcode.OpSShr:
		*pri = s.ilfn.NewBinary(*pri, il.OpSShr, *alt)
	case pcode.OpShlCPri:
		*pri = s.ilfn.NewBinary(*pri, il.OpShl, s.ilfn.NewConst(params[0]))
	case pcode.OpShlCAlt:
		*alt = s.ilfn.NewBinary(*alt, il.OpShl, s.ilfn.NewConst(params[0]))
	case pcode.OpSMul:
		*pri = s.ilfn.NewBinary(*pri, il.OpMul, *alt)
	case pcode.OpSMulC:
		*pri = s.ilfn.NewBinary(*pri, il.OpMul, s.ilfn.NewConst(params[0]))
	case pcode.OpSDiv:
		dividend, divisor := *pri, *alt
		*pri = s.ilfn.NewBinary(dividend, il.OpDiv, divisor)
		*alt = s.ilfn.NewBinary(dividend, il.OpMod, divisor)
	case pcode.OpSDivAlt:
		dividend, divisor := *alt, *pri
		*pri = s.ilfn.NewBinary(dividend, il.OpDiv, divisor)
		*alt = s.ilfn.NewBinary(dividend, il.OpMod, divisor)

	case pcode.OpAdd:
		// The compiler also emits a plain ADD to index into a 2D array
		// (the row base, itself a var, plus the column offset).
		switch {
		case isVarKind(s.kindOf(*alt)):
			*pri = s.ilfn.NewArrayElementVar(*alt, *pri)
		case isVarKind(s.kindOf(*pri)):
			*pri = s.ilfn.NewArrayElementVar(*pri, *alt)
		default:
			*pri = s.ilfn.NewBinary(*pri, il.OpAdd, *alt)
		}
	case pcode.OpAddC:
		// add.c is also used to offset into arrays and enum-struct fields.
		if isVarKind(s.kindOf(*pri)) {
			*pri = s.ilfn.NewArrayElementVar(*pri, s.ilfn.NewConst(params[0]))
		} else {
			*pri = s.ilfn.NewBinary(*pri, il.OpAdd, s.ilfn.NewConst(params[0]))
		}
	case pcode.OpSub:
		*pri = s.ilfn.NewBinary(*pri, il.OpSub, *alt)
	case pcode.OpSubAlt:
		*pri = s.ilfn.NewBinary(*alt, il.OpSub, *pri)
	case pcode.OpAnd:
		*pri = s.ilfn.NewBinary(*pri, il.OpBitAnd, *alt)
	case pcode.OpOr:
		*pri = s.ilfn.NewBinary(*pri, il.OpBitOr, *alt)
	case pcode.OpXor:
		// Reproduced verbatim: the tool this was ported from lifts XOR as
		// BITOR, a bug that survives all the way to the printed pseudocode.
		*pri = s.ilfn.NewBinary(*pri, il.OpBitOr, *alt)
	case pcode.OpNot:
		*pri = s.ilfn.NewUnary(*pri, il.OpNot)
	case pcode.OpNeg:
		*pri = s.ilfn.NewUnary(*pri, il.OpNeg)
	case pcode.OpInvert:
		*pri = s.ilfn.NewUnary(*pri, il.OpInvert)

	case pcode.OpEq:
		*pri = s.ilfn.NewBinary(*pri, il.OpEq, *alt)
	case pcode.OpNeq:
		*pri = s.ilfn.NewBinary(*pri, il.OpNeq, *alt)
	case pcode.OpSLess:
		*pri = s.ilfn.NewBinary(*pri, il.OpSLess, *alt)
	case pcode.OpSLeq:
		*pri = s.ilfn.NewBinary(*pri, il.OpSLeq, *alt)
	case pcode.OpSGrtr:
		*pri = s.ilfn.NewBinary(*pri, il.OpSGrtr, *alt)
	case pcode.OpSGeq:
		*pri = s.ilfn.NewBinary(*pri, il.OpSGeq, *alt)
	case pcode.OpEqCPri:
		*pri = s.ilfn.NewBinary(*pri, il.OpEq, s.ilfn.NewConst(params[0]))
	case pcode.OpEqCAlt:
		*pri = s.ilfn.NewBinary(*alt, il.OpEq, s.ilfn.NewConst(params[0]))

	case pcode.OpFabs:
		*pri = s.ilfn.NewUnary(s.popValue(), il.OpFabs)
	case pcode.OpFloat:
		*pri = s.ilfn.NewUnary(s.popValue(), il.OpFloat)
	case pcode.OpFloatAdd:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatAdd, right)
	case pcode.OpFloatSub:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatSub, right)
	case pcode.OpFloatMul:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatMul, right)
	case pcode.OpFloatDiv:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatDiv, right)
	case pcode.OpRndToNearest:
		*pri = s.ilfn.NewUnary(s.popValue(), il.OpRndToNearest)
	case pcode.OpRndToFloor:
		*pri = s.ilfn.NewUnary(s.popValue(), il.OpRndToFloor)
	case pcode.OpRndToCeil:
		*pri = s.ilfn.NewUnary(s.popValue(), il.OpRndToCeil)
	case pcode.OpRndToZero:
		*pri = s.ilfn.NewUnary(s.popValue(), il.OpRndToZero)
	case pcode.OpFloatCmp:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatCmp, right)
	case pcode.OpFloatGt:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatGt, right)
	case pcode.OpFloatGe:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatGe, right)
	case pcode.OpFloatLe:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatLe, right)
	case pcode.OpFloatLt:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatLt, right)
	case pcode.OpFloatEq:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatEq, right)
	case pcode.OpFloatNe:
		left, right := s.popValue(), s.popValue()
		*pri = s.ilfn.NewBinary(left, il.OpFloatNe, right)
	case pcode.OpFloatNot:
		*pri = s.ilfn.NewUnary(s.popValue(), il.OpFloatNot)

	case pcode.OpCall:
		nargsNode := s.popValue()
		if s.kindOf(nargsNode) != il.KindConst {
			return fmt.Errorf("call: argument count is not constant")
		}
		nargs := int(s.node(nargsNode).ConstValue())
		call := s.ilfn.NewCall(params[0])
		for i := 0; i < nargs; i++ {
			s.ilfn.AddArg(call, s.popValue())
		}
		result := s.makeTemp(call)
		ilbb.Add(result)
		*pri = result

	case pcode.OpSysreqC:
		// SYSREQ.C only carries the native index. The tool this lifter is
		// ported from has no break here and falls into the SYSREQ.N case,
		// which re-reads the instruction stream one cell too far and picks
		// up whatever follows as a bogus argument count. CleanCalls never
		// prunes a native call for its side effects, so the dummy zero-arg
		// call built here survives right alongside the real, bogus-arg-count
		// call that follows — every compact-form native call site ends up
		// emitting two Native statements, not one.
		nativeIndex := int(params[0])
		dummy := s.ilfn.NewNative(nativeIndex)
		dummyResult := s.makeTemp(dummy)
		ilbb.Add(dummyResult)

		bogusNargs := int(int32(s.word(addr + 8)))
		*pri = s.emitNativeCall(ilbb, nativeIndex, bogusNargs)

	case pcode.OpSysreqN:
		nativeIndex := int(params[0])
		nargs := int(params[1])
		*pri = s.emitNativeCall(ilbb, nativeIndex, nargs)

	case pcode.OpJump:
		target := s.ig.FindBlockAt(params[0])
		if target == nil {
			return fmt.Errorf("jump target not found")
		}
		ilbb.Add(s.ilfn.NewJump(target.ID()))
	case pcode.OpJZer:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpEq, s.ilfn.NewConst(0)))
	case pcode.OpJNZ:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpNeq, s.ilfn.NewConst(0)))
	case pcode.OpJEq:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpEq, *alt))
	case pcode.OpJNeq:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpNeq, *alt))
	case pcode.OpJSLess:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpSLess, *alt))
	case pcode.OpJSLeq:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpSLeq, *alt))
	case pcode.OpJSGrtr:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpSGrtr, *alt))
	case pcode.OpJSGeq:
		return handleJump(s.ilfn.NewBinary(*pri, il.OpSGeq, *alt))

	case pcode.OpSwitch:
		caseTbl := params[0]
		numCases := int(s.word(caseTbl + 4))
		defaultTarget := s.ig.FindBlockAt(s.word(caseTbl + 8))
		if defaultTarget == nil {
			return fmt.Errorf("switch default target not found")
		}
		cases := make([]il.CaseEntry, 0, numCases)
		for i := 0; i < numCases; i++ {
			value := s.word(caseTbl + cell.Cell(12+8*i))
			targetAddr := s.word(caseTbl + cell.Cell(16+8*i))
			target := s.ig.FindBlockAt(targetAddr)
			if target == nil {
				return fmt.Errorf("switch case target not found")
			}
			cases = append(cases, il.CaseEntry{Value: value, Target: target.ID()})
		}
		ilbb.Add(s.ilfn.NewSwitch(*pri, defaultTarget.ID(), cases))

	case pcode.OpRetn:
		ilbb.Add(s.ilfn.NewReturn(*pri))

	case pcode.OpHalt:
		// Exits the whole plugin rather than just this function; the
		// compiler essentially never emits this outside a trap handler,
		// so it's modeled as a bare return.
		ilbb.Add(s.ilfn.NewReturn(il.InvalidNode))

	default:
		return fmt.Errorf("unhandled opcode %s", op)
	}
	return nil
}

// emitNativeCall builds a Native call node popping nargs arguments off the
// stack and adds it to ilbb, shared by SYSREQ.N's real call and SYSREQ.C's
// fallthrough-reproduced bogus-arg-count call.
func (s *liftState) emitNativeCall(ilbb *il.ILBlock, nativeIndex, nargs int) il.NodeID {
	ntv := s.ilfn.NewNative(nativeIndex)
	for i := 0; i < nargs; i++ {
		s.ilfn.AddArg(ntv, s.popValue())
	}
	result := s.makeTemp(ntv)
	ilbb.Add(result)
	return result
}
