package x86fmt

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// attArgs renders the operands in AT&T order: source first, destination last.
func (p *printer) attArgs() ([]string, error) {
	if isStringOp(p.inst.Op) {
		return nil, nil
	}
	if p.farPointer() {
		seg := p.inst.Args[0].(x86asm.Imm)
		off := p.inst.Args[1].(x86asm.Imm)
		return []string{"$" + p.hex(uint64(uint16(seg))), "$" + p.pointer(off)}, nil
	}

	var args []string
	allImm := true
	for _, a := range p.inst.Args {
		if a == nil {
			break
		}
		if _, ok := a.(x86asm.Imm); !ok {
			allImm = false
		}
		s, err := p.attArg(a)
		if err != nil {
			return nil, err
		}
		args = append(args, s)
	}
	// enter $size,$level keeps Intel order.
	if !allImm {
		for i, j := 0, len(args)-1; i < j; i, j = i+1, j-1 {
			args[i], args[j] = args[j], args[i]
		}
	}
	return args, nil
}

func (p *printer) attArg(a x86asm.Arg) (string, error) {
	indirect := ""
	if isBranch(p.inst.Op) {
		indirect = "*"
	}
	switch a := a.(type) {
	case x86asm.Reg:
		return indirect + "%" + regName(a), nil
	case x86asm.Imm:
		v := p.immValue(a)
		if s, ok := p.sym.Symbolize(v, RoleImmediate); ok {
			return "$" + s, nil
		}
		return "$" + p.hex(v), nil
	case x86asm.Rel:
		return p.relative(a), nil
	case x86asm.Mem:
		return indirect + p.attMem(a), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedOperand, a)
}

func (p *printer) attMem(m x86asm.Mem) string {
	var b strings.Builder
	if seg := p.segment(m); seg != 0 {
		b.WriteString("%" + regName(seg) + ":")
	}

	if addr, ok := p.absolute(m); ok {
		s, named := p.sym.Symbolize(addr, RoleAbsolute)
		switch {
		case named && m.Base != 0:
			b.WriteString(s + "(%" + regName(m.Base) + ")")
		case named:
			b.WriteString(s)
		case m.Base != 0:
			b.WriteString(p.signedDisp(m.Disp) + "(%" + regName(m.Base) + ")")
		default:
			b.WriteString(p.hex(addr))
		}
		return b.String()
	}

	if m.Disp != 0 {
		if s, ok := p.sym.Symbolize(p.mask(uint64(m.Disp)), RoleDisplacement); ok {
			b.WriteString(s)
		} else {
			b.WriteString(p.signedDisp(m.Disp))
		}
	}
	b.WriteByte('(')
	if m.Base != 0 {
		b.WriteString("%" + regName(m.Base))
	}
	if m.Index != 0 {
		b.WriteString(",%" + regName(m.Index) + "," + strconv.Itoa(int(m.Scale)))
	}
	b.WriteByte(')')
	return b.String()
}

// signedDisp renders a displacement without a leading '+'.
func (p *printer) signedDisp(v int64) string {
	return strings.TrimPrefix(p.signedHex(v), "+")
}

// attSuffix returns the operand-size suffix GAS needs when no register
// operand fixes the size.
func (p *printer) attSuffix() string {
	switch p.inst.Op {
	case x86asm.MOVZX, x86asm.MOVSX:
		return p.extendSuffix()
	}
	if isStringOp(p.inst.Op) || isBranch(p.inst.Op) || p.inst.Op == x86asm.LEA {
		return ""
	}

	hasMem := false
	for _, a := range p.inst.Args {
		if a == nil {
			break
		}
		switch a.(type) {
		case x86asm.Reg:
			return ""
		case x86asm.Mem:
			hasMem = true
		}
	}
	if !hasMem {
		return ""
	}

	if strings.HasPrefix(p.inst.Op.String(), "F") {
		switch p.inst.MemBytes {
		case 4:
			return "s"
		case 8:
			return "l"
		case 10:
			return "t"
		}
		return ""
	}
	switch p.inst.MemBytes {
	case 1:
		return "b"
	case 2:
		return "w"
	case 4:
		return "l"
	case 8:
		return "q"
	}
	return ""
}

// extendSuffix spells movzx/movsx as movzbl, movswl and friends.
func (p *printer) extendSuffix() string {
	var src int
	switch a := p.inst.Args[1].(type) {
	case x86asm.Reg:
		src = regBits(a)
	case x86asm.Mem:
		src = p.inst.MemBytes * 8
	}
	dst := 0
	if r, ok := p.inst.Args[0].(x86asm.Reg); ok {
		dst = regBits(r)
	}
	return sizeLetter(src) + sizeLetter(dst)
}

func sizeLetter(bits int) string {
	switch bits {
	case 8:
		return "b"
	case 16:
		return "w"
	case 32:
		return "l"
	case 64:
		return "q"
	}
	return ""
}
