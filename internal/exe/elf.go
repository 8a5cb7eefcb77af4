package exe

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"
)

// pltEntrySize is the size of one lazy-binding PLT stub on x86 and x86-64.
const pltEntrySize = 16

type mapping struct {
	all []byte
	f   *os.File
	ef  *elf.File
}

func (m *mapping) Close() error {
	var err1, err2 error
	if m.all != nil {
		err1 = syscall.Munmap(m.all)
		m.all = nil
	}
	if m.ef != nil {
		err2 = m.ef.Close()
		m.ef = nil
	}
	if m.f != nil {
		if err := m.f.Close(); err != nil && err2 == nil {
			err2 = err
		}
		m.f = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// OpenELF loads an ELF executable or shared object. Section data points into a
// read-only mapping of the file that lives until Close.
func OpenELF(path string) (*Image, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	mode := 0
	switch ef.Machine {
	case elf.EM_386:
		mode = 32
	case elf.EM_X86_64:
		mode = 64
	default:
		ef.Close()
		return nil, fmt.Errorf("open elf: unsupported machine %v", ef.Machine)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		ef.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		ef.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		ef.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}
	m := &mapping{all: all, f: of, ef: ef}

	b := NewBuilder(mode)
	for _, s := range ef.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		typ := SectionData
		if s.Flags&elf.SHF_EXECINSTR != 0 {
			typ = SectionCode
		}
		var data []byte
		if s.Type != elf.SHT_NOBITS && s.Offset+s.Size <= uint64(len(all)) {
			data = all[s.Offset : s.Offset+s.Size]
		}
		b.AddSectionSize(s.Name, s.Addr, s.Size, data, typ)
	}

	loadStaticSymbols(b, ef)
	loadDynamicSymbols(b, ef)
	loadPLTSymbols(b, ef, mode)

	var lo, hi uint64
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if lo == 0 && hi == 0 || p.Vaddr < lo {
			lo = p.Vaddr
		}
		if p.Vaddr+p.Memsz > hi {
			hi = p.Vaddr + p.Memsz
		}
	}
	if hi > lo {
		b.SetImageSpan(lo, hi)
	}

	im := b.Build()
	im.Path = path
	im.Format = "elf"
	im.closer = m
	return im, nil
}

func keepSymbol(s elf.Symbol) bool {
	if s.Value == 0 || s.Name == "" || s.Section == elf.SHN_UNDEF {
		return false
	}
	switch elf.ST_TYPE(s.Info) {
	case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		return true
	}
	return false
}

// loadStaticSymbols loads .symtab; stripped binaries simply have none.
func loadStaticSymbols(b *Builder, ef *elf.File) {
	syms, err := ef.Symbols()
	if err != nil {
		return
	}
	for _, s := range syms {
		if keepSymbol(s) {
			b.AddSymbol(s.Name, s.Value, s.Size)
		}
	}
}

// loadDynamicSymbols loads .dynsym, which may duplicate .symtab entries; exact
// lookups return whichever was added first.
func loadDynamicSymbols(b *Builder, ef *elf.File) {
	syms, err := ef.DynamicSymbols()
	if err != nil {
		return
	}
	for _, s := range syms {
		if keepSymbol(s) {
			b.AddSymbol(s.Name, s.Value, s.Size)
		}
	}
}

// loadPLTSymbols names the lazy-binding PLT stubs "<name>@plt". Relocation i of
// .rel.plt/.rela.plt belongs to stub i+1; stub 0 is the resolver trampoline.
func loadPLTSymbols(b *Builder, ef *elf.File, mode int) {
	plt := ef.Section(".plt")
	if plt == nil {
		return
	}
	if sec := ef.Section(".plt.sec"); sec != nil {
		plt = sec
	}
	first := uint64(pltEntrySize)
	if plt.Name == ".plt.sec" {
		first = 0
	}

	dynsyms, err := ef.DynamicSymbols()
	if err != nil {
		return
	}

	rel := ef.Section(".rel.plt")
	entrySize, infoOff, wide := 8, 4, false
	if mode == 64 {
		rel = ef.Section(".rela.plt")
		entrySize, infoOff, wide = 24, 8, true
	}
	if rel == nil {
		return
	}
	data, err := rel.Data()
	if err != nil {
		return
	}

	for i := 0; (i+1)*entrySize <= len(data); i++ {
		entry := data[i*entrySize:]
		var symIndex uint32
		if wide {
			symIndex = uint32(binary.LittleEndian.Uint64(entry[infoOff:]) >> 32)
		} else {
			symIndex = binary.LittleEndian.Uint32(entry[infoOff:]) >> 8
		}
		// Symbols are 1-indexed in relocations.
		if symIndex == 0 || int(symIndex) > len(dynsyms) {
			continue
		}
		name := dynsyms[symIndex-1].Name
		if name == "" {
			continue
		}
		addr := plt.Addr + first + uint64(i)*pltEntrySize
		if addr+pltEntrySize > plt.Addr+plt.Size {
			break
		}
		b.AddSymbol(name+"@plt", addr, pltEntrySize)
	}
}
