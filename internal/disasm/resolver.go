package disasm

import (
	"slices"
	"strconv"

	"unassemblize/internal/exe"
	"unassemblize/internal/x86fmt"
)

type pseudoKind uint8

const (
	pseudoSub pseudoKind = iota // inside the function's section
	pseudoOff                   // elsewhere in the image
	pseudoUnk                   // far pointer target elsewhere in the image
)

func (k pseudoKind) prefix() string {
	switch k {
	case pseudoSub:
		return "sub_"
	case pseudoUnk:
		return "unk_"
	}
	return "off_"
}

type pseudoKey struct {
	addr exe.Address
	kind pseudoKind
}

// pseudoSymbols is the arena of names synthesized during one run. Entries are
// addressed by index and die with their Function.
type pseudoSymbols struct {
	syms  []exe.Symbol
	index map[pseudoKey]int
}

func (p *pseudoSymbols) reset() {
	p.syms = nil
	p.index = make(map[pseudoKey]int)
}

func (p *pseudoSymbols) name(addr exe.Address, kind pseudoKind) string {
	k := pseudoKey{addr, kind}
	if i, ok := p.index[k]; ok {
		return p.syms[i].Name
	}
	p.index[k] = len(p.syms)
	p.syms = append(p.syms, exe.Symbol{
		Name:    kind.prefix() + strconv.FormatUint(addr, 16),
		Address: addr,
	})
	return p.syms[len(p.syms)-1].Name
}

// resolver names address operands for one Function. Labels win over symbols,
// symbols over synthesized names; addresses outside the image stay numeric.
type resolver struct {
	fn  *Function
	exe Executable
}

var _ x86fmt.Symbolizer = (*resolver)(nil)

func (r *resolver) Symbolize(addr uint64, role x86fmt.Role) (string, bool) {
	if name, ok := r.fn.labels.Lookup(addr); ok {
		return name, true
	}

	inSection := r.fn.section.Contains(addr)
	inImage := addr >= r.exe.BaseAddress() && addr < r.exe.EndAddress()
	if !inSection && !inImage {
		return "", false
	}

	if role == x86fmt.RoleDisplacement {
		if sym := r.exe.NearestSymbol(addr); !sym.IsEmpty() {
			if sym.Address == addr {
				return sym.Name, true
			}
			return sym.Name + "+0x" + strconv.FormatUint(addr-sym.Address, 16), true
		}
	} else if sym := r.exe.Symbol(addr); !sym.IsEmpty() {
		return sym.Name, true
	}

	kind := pseudoOff
	switch {
	case inSection:
		kind = pseudoSub
	case role == x86fmt.RolePointer:
		kind = pseudoUnk
	}
	return r.fn.pseudo.name(addr, kind), true
}

// PseudoSymbols returns the names synthesized by the last Disassemble call in
// the order they were first needed.
func (f *Function) PseudoSymbols() []exe.Symbol {
	return slices.Clone(f.pseudo.syms)
}
