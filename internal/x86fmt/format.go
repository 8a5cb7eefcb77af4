// Package x86fmt renders instructions decoded by golang.org/x/arch/x86/x86asm
// as assembly text in one of several dialects. Every address-like operand is
// offered to a caller-supplied Symbolizer together with the role it was found
// in, so callers can substitute labels and symbol names for raw numbers.
package x86fmt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Dialect selects the spelling conventions of the produced text.
type Dialect int

const (
	Default Dialect = iota // Intel syntax, 0x-prefixed hex
	IGAS                   // Intel syntax accepted by the GNU assembler
	AGAS                   // AT&T syntax accepted by the GNU assembler
	MASM                   // Microsoft assembler syntax
)

var dialectNames = [...]string{
	Default: "default",
	IGAS:    "igas",
	AGAS:    "agas",
	MASM:    "masm",
}

func (d Dialect) String() string {
	if d < 0 || int(d) >= len(dialectNames) {
		return "Dialect(" + strconv.Itoa(int(d)) + ")"
	}
	return dialectNames[d]
}

// Dialects lists every supported dialect.
func Dialects() []Dialect {
	return []Dialect{Default, IGAS, AGAS, MASM}
}

// ParseDialect maps a dialect name (case-insensitive) to its Dialect.
func ParseDialect(s string) (Dialect, error) {
	for i, name := range dialectNames {
		if strings.EqualFold(s, name) {
			return Dialect(i), nil
		}
	}
	return Default, fmt.Errorf("%w: %q", ErrUnknownDialect, s)
}

// Role tells a Symbolizer where an address was found.
type Role int

const (
	RoleAbsolute     Role = iota // memory operand without base or index
	RoleRelative                 // pc-relative branch or call target
	RoleImmediate                // immediate operand
	RoleDisplacement             // displacement of a based or indexed memory operand
	RolePointer                  // offset half of a far pointer
)

func (r Role) String() string {
	switch r {
	case RoleAbsolute:
		return "absolute"
	case RoleRelative:
		return "relative"
	case RoleImmediate:
		return "immediate"
	case RoleDisplacement:
		return "displacement"
	case RolePointer:
		return "pointer"
	}
	return "Role(" + strconv.Itoa(int(r)) + ")"
}

// Symbolizer supplies names for address-like operands. Returning false keeps
// the default numeric rendering. Displacement names are returned without the
// joining '+'; the formatter adds whatever the dialect needs.
type Symbolizer interface {
	Symbolize(addr uint64, role Role) (string, bool)
}

// SymbolizerFunc adapts a function to the Symbolizer interface.
type SymbolizerFunc func(addr uint64, role Role) (string, bool)

func (fn SymbolizerFunc) Symbolize(addr uint64, role Role) (string, bool) {
	return fn(addr, role)
}

type noSymbols struct{}

func (noSymbols) Symbolize(uint64, Role) (string, bool) { return "", false }

var (
	ErrUnknownDialect     = errors.New("unknown assembly dialect")
	ErrNoInstruction      = errors.New("no instruction to format")
	ErrUnsupportedOperand = errors.New("unsupported operand")
)

// Formatter turns decoded instructions into text. It holds no mutable state
// and may be shared between goroutines.
type Formatter struct {
	dialect Dialect
}

// New returns a Formatter for the given dialect.
func New(d Dialect) (*Formatter, error) {
	if d < Default || d > MASM {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDialect, int(d))
	}
	return &Formatter{dialect: d}, nil
}

// Dialect returns the dialect f renders.
func (f *Formatter) Dialect() Dialect {
	return f.dialect
}

// DataDirective returns the directive used to emit a 32-bit data word.
func (f *Formatter) DataDirective() string {
	if f.dialect == MASM {
		return "dd"
	}
	return ".int"
}

// Format renders inst located at pc. sym may be nil.
func (f *Formatter) Format(inst x86asm.Inst, pc uint64, sym Symbolizer) (string, error) {
	if inst.Op == 0 {
		return "", ErrNoInstruction
	}
	if sym == nil {
		sym = noSymbols{}
	}
	p := &printer{f: f, inst: &inst, pc: pc, sym: sym}

	var args []string
	var err error
	if f.dialect == AGAS {
		args, err = p.attArgs()
	} else {
		args, err = p.intelArgs()
	}
	if err != nil {
		return "", err
	}

	text := p.prefixes() + p.mnemonic()
	if len(args) > 0 {
		text += " " + strings.Join(args, ", ")
	}
	return text, nil
}

// printer carries the per-call state of one Format call.
type printer struct {
	f    *Formatter
	inst *x86asm.Inst
	pc   uint64
	sym  Symbolizer
}

func (p *printer) prefixes() string {
	var s string
	for _, pfx := range p.inst.Prefix {
		if pfx == 0 {
			break
		}
		if pfx&(x86asm.PrefixImplicit|x86asm.PrefixIgnored) != 0 {
			continue
		}
		switch pfx {
		case x86asm.PrefixLOCK:
			s += "lock "
		case x86asm.PrefixREP:
			if isRepCompare(p.inst.Op) {
				s += "repe "
			} else {
				s += "rep "
			}
		case x86asm.PrefixREPN:
			s += "repne "
		}
	}
	return s
}

func (p *printer) mnemonic() string {
	op := strings.ToLower(p.inst.Op.String())
	if i := strings.IndexByte(op, '_'); i > 0 {
		op = op[:i]
	}
	switch p.f.dialect {
	case MASM:
		switch p.inst.Op {
		case x86asm.LJMP:
			return "jmp far"
		case x86asm.LCALL:
			return "call far"
		}
	case AGAS:
		switch p.inst.Op {
		case x86asm.MOVZX, x86asm.MOVSX:
			op = op[:4]
		}
		return op + p.attSuffix()
	}
	return op
}

// mask truncates v to the address width of the instruction's mode.
func (p *printer) mask(v uint64) uint64 {
	switch p.inst.Mode {
	case 16:
		return v & 0xffff
	case 32:
		return v & 0xffffffff
	}
	return v
}

func (p *printer) hex(v uint64) string {
	if p.f.dialect == MASM {
		s := strings.ToUpper(strconv.FormatUint(v, 16))
		if s[0] >= 'A' {
			s = "0" + s
		}
		return s + "h"
	}
	return "0x" + strconv.FormatUint(v, 16)
}

// signedHex renders a displacement with an explicit sign.
func (p *printer) signedHex(v int64) string {
	if v < 0 {
		return "-" + p.hex(uint64(-v))
	}
	return "+" + p.hex(uint64(v))
}

func (p *printer) immValue(a x86asm.Imm) uint64 {
	switch p.inst.Mode {
	case 16:
		if p.inst.DataSize == 16 {
			return uint64(uint16(a))
		}
		return uint64(uint32(a))
	case 32:
		return uint64(uint32(a))
	}
	return uint64(a)
}

func (p *printer) relTarget(a x86asm.Rel) uint64 {
	return p.mask(p.pc + uint64(p.inst.Len) + uint64(int64(a)))
}

func (p *printer) relative(a x86asm.Rel) string {
	target := p.relTarget(a)
	if s, ok := p.sym.Symbolize(target, RoleRelative); ok {
		return s
	}
	return p.hex(target)
}

// absolute returns the address of a memory operand that has neither base nor
// index register, including pc-relative ones.
func (p *printer) absolute(m x86asm.Mem) (uint64, bool) {
	if m.Index != 0 {
		return 0, false
	}
	switch m.Base {
	case 0:
		return p.mask(uint64(m.Disp)), true
	case x86asm.IP, x86asm.EIP, x86asm.RIP:
		return p.mask(p.pc + uint64(p.inst.Len) + uint64(m.Disp)), true
	}
	return 0, false
}

// segment returns the explicit segment of m, dropping the defaults.
func (p *printer) segment(m x86asm.Mem) x86asm.Reg {
	switch m.Segment {
	case x86asm.DS:
		return 0
	case x86asm.SS:
		switch m.Base {
		case x86asm.SP, x86asm.ESP, x86asm.RSP, x86asm.BP, x86asm.EBP, x86asm.RBP:
			return 0
		}
	}
	if p.inst.Mode == 64 && m.Segment != x86asm.FS && m.Segment != x86asm.GS {
		return 0
	}
	return m.Segment
}

func (p *printer) farPointer() bool {
	switch p.inst.Op {
	case x86asm.LJMP, x86asm.LCALL:
	default:
		return false
	}
	_, seg := p.inst.Args[0].(x86asm.Imm)
	_, off := p.inst.Args[1].(x86asm.Imm)
	return seg && off
}

func regName(r x86asm.Reg) string {
	switch {
	case x86asm.F0 <= r && r <= x86asm.F7:
		return "st(" + strconv.Itoa(int(r-x86asm.F0)) + ")"
	case x86asm.M0 <= r && r <= x86asm.M7:
		return "mm" + strconv.Itoa(int(r-x86asm.M0))
	case x86asm.X0 <= r && r <= x86asm.X15:
		return "xmm" + strconv.Itoa(int(r-x86asm.X0))
	case r == x86asm.SPB:
		return "spl"
	case r == x86asm.BPB:
		return "bpl"
	case r == x86asm.SIB:
		return "sil"
	case r == x86asm.DIB:
		return "dil"
	case x86asm.R8L <= r && r <= x86asm.R15L:
		return "r" + strconv.Itoa(int(r-x86asm.R8L)+8) + "d"
	}
	return strings.ToLower(r.String())
}

func regBits(r x86asm.Reg) int {
	switch {
	case x86asm.AL <= r && r <= x86asm.R15B:
		return 8
	case x86asm.AX <= r && r <= x86asm.R15W:
		return 16
	case x86asm.EAX <= r && r <= x86asm.R15L:
		return 32
	case x86asm.RAX <= r && r <= x86asm.R15:
		return 64
	}
	return 0
}

var sizeNames = map[int]string{
	1:  "byte",
	2:  "word",
	4:  "dword",
	6:  "fword",
	8:  "qword",
	10: "tbyte",
	16: "xmmword",
	32: "ymmword",
}

func isStringOp(op x86asm.Op) bool {
	switch op {
	case x86asm.INSB, x86asm.INSW, x86asm.INSD,
		x86asm.MOVSB, x86asm.MOVSW, x86asm.MOVSD, x86asm.MOVSQ,
		x86asm.OUTSB, x86asm.OUTSW, x86asm.OUTSD,
		x86asm.LODSB, x86asm.LODSW, x86asm.LODSD, x86asm.LODSQ,
		x86asm.CMPSB, x86asm.CMPSW, x86asm.CMPSD, x86asm.CMPSQ,
		x86asm.SCASB, x86asm.SCASW, x86asm.SCASD, x86asm.SCASQ,
		x86asm.STOSB, x86asm.STOSW, x86asm.STOSD, x86asm.STOSQ:
		return true
	}
	return false
}

func isRepCompare(op x86asm.Op) bool {
	switch op {
	case x86asm.CMPSB, x86asm.CMPSW, x86asm.CMPSD, x86asm.CMPSQ,
		x86asm.SCASB, x86asm.SCASW, x86asm.SCASD, x86asm.SCASQ:
		return true
	}
	return false
}
