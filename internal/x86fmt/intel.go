package x86fmt

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// intelArgs renders the operands in Intel order for Default, IGAS and MASM.
func (p *printer) intelArgs() ([]string, error) {
	if isStringOp(p.inst.Op) {
		return nil, nil
	}
	if p.farPointer() {
		seg := p.inst.Args[0].(x86asm.Imm)
		off := p.inst.Args[1].(x86asm.Imm)
		return []string{p.hex(uint64(uint16(seg))) + ":" + p.pointer(off)}, nil
	}

	var args []string
	for _, a := range p.inst.Args {
		if a == nil {
			break
		}
		s, err := p.intelArg(a)
		if err != nil {
			return nil, err
		}
		args = append(args, s)
	}
	return args, nil
}

func (p *printer) intelArg(a x86asm.Arg) (string, error) {
	switch a := a.(type) {
	case x86asm.Reg:
		return regName(a), nil
	case x86asm.Imm:
		return p.intelImm(a), nil
	case x86asm.Rel:
		return p.relative(a), nil
	case x86asm.Mem:
		return p.intelMem(a), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedOperand, a)
}

func (p *printer) intelImm(a x86asm.Imm) string {
	v := p.immValue(a)
	if s, ok := p.sym.Symbolize(v, RoleImmediate); ok {
		if p.f.dialect == Default {
			return s
		}
		return "offset " + s
	}
	return p.hex(v)
}

func (p *printer) pointer(off x86asm.Imm) string {
	v := p.immValue(off)
	if s, ok := p.sym.Symbolize(v, RolePointer); ok {
		return s
	}
	return p.hex(v)
}

func (p *printer) intelMem(m x86asm.Mem) string {
	var b strings.Builder
	if name, ok := sizeNames[p.inst.MemBytes]; ok && p.inst.Op != x86asm.LEA {
		b.WriteString(name)
		b.WriteString(" ptr ")
	}

	if addr, ok := p.absolute(m); ok {
		if seg := p.segment(m); seg != 0 {
			b.WriteString(regName(seg) + ":")
		} else if p.f.dialect != Default && m.Base == 0 {
			b.WriteString("ds:")
		}
		b.WriteByte('[')
		if s, ok := p.sym.Symbolize(addr, RoleAbsolute); ok {
			b.WriteString(s)
		} else if m.Base != 0 {
			b.WriteString(regName(m.Base) + p.signedHex(m.Disp))
		} else {
			b.WriteString(p.hex(addr))
		}
		b.WriteByte(']')
		return b.String()
	}

	if seg := p.segment(m); seg != 0 {
		b.WriteString(regName(seg) + ":")
	}
	b.WriteByte('[')
	var inner string
	if m.Base != 0 {
		inner = regName(m.Base)
	}
	if m.Index != 0 {
		if inner != "" {
			inner += "+"
		}
		inner += regName(m.Index)
		if m.Scale > 1 {
			inner += fmt.Sprintf("*%d", m.Scale)
		}
	}
	if m.Disp != 0 {
		if s, ok := p.sym.Symbolize(p.mask(uint64(m.Disp)), RoleDisplacement); ok {
			inner += "+" + s
		} else {
			inner += p.signedHex(m.Disp)
		}
	}
	b.WriteString(inner)
	b.WriteByte(']')
	return b.String()
}
