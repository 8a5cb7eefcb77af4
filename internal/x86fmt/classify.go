package x86fmt

import "golang.org/x/arch/x86/x86asm"

// IsJump reports whether inst is an unconditional, conditional or loop jump.
// Calls and returns are not jumps.
func IsJump(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.JMP, x86asm.LJMP,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
		x86asm.JE, x86asm.JNE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JO, x86asm.JNO, x86asm.JP, x86asm.JNP, x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}

// IsJumpTableAnchor reports whether a jump table may start right after inst.
// Compilers place inline tables after the indirect jmp and pad them with nop.
func IsJumpTableAnchor(inst x86asm.Inst) bool {
	return inst.Op == x86asm.NOP || inst.Op == x86asm.JMP
}

// BranchTarget returns the destination of a pc-relative jump or call located
// at pc.
func BranchTarget(inst x86asm.Inst, pc uint64) (uint64, bool) {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if rel, ok := a.(x86asm.Rel); ok {
			p := printer{inst: &inst, pc: pc}
			return p.relTarget(rel), true
		}
	}
	return 0, false
}

// isBranch reports whether register and memory operands of op are jump or
// call targets.
func isBranch(op x86asm.Op) bool {
	switch op {
	case x86asm.JMP, x86asm.CALL, x86asm.LJMP, x86asm.LCALL:
		return true
	}
	return false
}
