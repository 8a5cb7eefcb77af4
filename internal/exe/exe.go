// Package exe loads executable images (ELF, PE or flat binaries) and exposes their
// sections and symbols by virtual address.
package exe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Address is a virtual address shared by the image and all its sections.
type Address = uint64

// SectionType tells code sections apart from data sections.
type SectionType int

const (
	SectionData SectionType = iota
	SectionCode
)

func (t SectionType) String() string {
	if t == SectionCode {
		return "code"
	}
	return "data"
}

// Section is one loaded section of an image. Data may be shorter than Size
// for sections that are not backed by file contents (.bss and friends).
type Section struct {
	Name    string
	Address Address
	Size    uint64
	Data    []byte
	Type    SectionType
}

// End returns the first address past the section.
func (s Section) End() Address {
	return s.Address + s.Size
}

// Contains reports whether addr lies in [Address, Address+Size).
func (s Section) Contains(addr Address) bool {
	return addr >= s.Address && addr < s.End()
}

// Symbol is a named address. The zero Symbol means "no symbol".
type Symbol struct {
	Name    string
	Address Address
	Size    uint64
}

// IsEmpty reports whether s carries no symbol.
func (s Symbol) IsEmpty() bool {
	return s.Name == ""
}

var (
	// ErrUnknownFormat is returned by Open for files that are neither ELF nor PE.
	ErrUnknownFormat = errors.New("unknown executable format")
	// ErrNoSection is returned when a named section does not exist.
	ErrNoSection = errors.New("section not found")
)

// Image is a loaded executable. It is immutable after loading and safe for
// concurrent readers.
type Image struct {
	Path   string
	Format string // "elf", "pe" or "raw"
	Mode   int    // processor mode in bits: 16, 32 or 64

	sections []Section
	symbols  []Symbol
	base     Address
	end      Address
	closer   io.Closer
}

// Open detects the format of the file at path and loads it.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	magic := make([]byte, 4)
	_, err = io.ReadFull(f, magic)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}

	switch {
	case bytes.Equal(magic, []byte("\x7fELF")):
		return OpenELF(path)
	case bytes.HasPrefix(magic, []byte("MZ")):
		return OpenPE(path)
	}
	return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// OpenRaw loads a flat binary as a single code section named ".text" at base.
func OpenRaw(path string, base Address, mode int) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raw: %w", err)
	}
	b := NewBuilder(mode)
	b.AddSection(".text", base, data, SectionCode)
	im := b.Build()
	im.Path = path
	im.Format = "raw"
	return im, nil
}

// Close releases the underlying file, if any.
func (im *Image) Close() error {
	if im.closer != nil {
		err := im.closer.Close()
		im.closer = nil
		return err
	}
	return nil
}

// Sections returns all sections ordered by address.
func (im *Image) Sections() []Section {
	return im.sections
}

// Section returns the section with the given name.
func (im *Image) Section(name string) (Section, bool) {
	for _, s := range im.sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// SectionAt returns the section containing addr.
func (im *Image) SectionAt(addr Address) (Section, bool) {
	i := sort.Search(len(im.sections), func(i int) bool {
		return im.sections[i].End() > addr
	})
	if i < len(im.sections) && im.sections[i].Contains(addr) {
		return im.sections[i], true
	}
	return Section{}, false
}

// BaseAddress returns the first address of the image.
func (im *Image) BaseAddress() Address {
	return im.base
}

// EndAddress returns the first address past the image.
func (im *Image) EndAddress() Address {
	return im.end
}

// Symbols returns all symbols ordered by address.
func (im *Image) Symbols() []Symbol {
	return im.symbols
}

// SymbolsIn returns the symbols that lie inside the given section.
func (im *Image) SymbolsIn(s Section) []Symbol {
	lo := sort.Search(len(im.symbols), func(i int) bool {
		return im.symbols[i].Address >= s.Address
	})
	hi := sort.Search(len(im.symbols), func(i int) bool {
		return im.symbols[i].Address >= s.End()
	})
	return im.symbols[lo:hi]
}

// Symbol returns the first symbol whose address equals addr, or the empty Symbol.
func (im *Image) Symbol(addr Address) Symbol {
	i := sort.Search(len(im.symbols), func(i int) bool {
		return im.symbols[i].Address >= addr
	})
	if i < len(im.symbols) && im.symbols[i].Address == addr {
		return im.symbols[i]
	}
	return Symbol{}
}

// NearestSymbol returns the closest symbol at or below addr. Among symbols
// sharing an address the first loaded one wins. The symbol must lie in the
// same section as addr, and a sized symbol must cover addr; zero-sized symbols
// extend up to the next symbol.
func (im *Image) NearestSymbol(addr Address) Symbol {
	i := sort.Search(len(im.symbols), func(i int) bool {
		return im.symbols[i].Address > addr
	})
	if i == 0 {
		return Symbol{}
	}
	i--
	for i > 0 && im.symbols[i-1].Address == im.symbols[i].Address {
		i--
	}
	sym := im.symbols[i]
	if sym.Size != 0 && addr >= sym.Address+sym.Size {
		return Symbol{}
	}
	if sec, ok := im.SectionAt(addr); ok && !sec.Contains(sym.Address) {
		return Symbol{}
	}
	return sym
}

// FindSymbol looks a symbol up by name.
func (im *Image) FindSymbol(name string) (Symbol, bool) {
	for _, s := range im.symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// FunctionRange returns the address range covered by sym. Symbols without a
// size end at the next higher symbol in the same section, or at the section end.
func (im *Image) FunctionRange(sym Symbol) (begin, end Address, err error) {
	sec, ok := im.SectionAt(sym.Address)
	if !ok {
		return 0, 0, fmt.Errorf("symbol %s at %#x: %w", sym.Name, sym.Address, ErrNoSection)
	}
	begin = sym.Address
	if sym.Size != 0 {
		end = begin + sym.Size
		if end > sec.End() {
			end = sec.End()
		}
		return begin, end, nil
	}
	end = sec.End()
	i := sort.Search(len(im.symbols), func(i int) bool {
		return im.symbols[i].Address > begin
	})
	if i < len(im.symbols) && im.symbols[i].Address < end {
		end = im.symbols[i].Address
	}
	return begin, end, nil
}

// Functions returns the symbols of a section, keeping only the first symbol
// at each address.
func (im *Image) Functions(s Section) []Symbol {
	var funcs []Symbol
	var last Address
	for i, sym := range im.SymbolsIn(s) {
		if i > 0 && sym.Address == last {
			continue
		}
		last = sym.Address
		funcs = append(funcs, sym)
	}
	return funcs
}
