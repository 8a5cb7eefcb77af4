package exe

import (
	"debug/pe"
	"fmt"
)

// OpenPE loads a PE image. Section addresses are ImageBase+VirtualAddress and
// the image spans [ImageBase, ImageBase+SizeOfImage).
func OpenPE(path string) (*Image, error) {
	pf, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pe: %w", err)
	}
	defer pf.Close()

	var (
		mode        int
		base        uint64
		sizeOfImage uint64
	)
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base, sizeOfImage = uint64(oh.ImageBase), uint64(oh.SizeOfImage)
	case *pe.OptionalHeader64:
		base, sizeOfImage = oh.ImageBase, uint64(oh.SizeOfImage)
	default:
		return nil, fmt.Errorf("open pe: %s has no optional header", path)
	}
	switch pf.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		mode = 32
	case pe.IMAGE_FILE_MACHINE_AMD64:
		mode = 64
	default:
		return nil, fmt.Errorf("open pe: unsupported machine %#x", pf.Machine)
	}

	b := NewBuilder(mode)
	for _, s := range pf.Sections {
		typ := SectionData
		if s.Characteristics&pe.IMAGE_SCN_CNT_CODE != 0 {
			typ = SectionCode
		}
		size := uint64(s.VirtualSize)
		if size == 0 {
			size = uint64(s.Size)
		}
		var data []byte
		if s.Characteristics&pe.IMAGE_SCN_CNT_UNINITIALIZED_DATA == 0 {
			data, err = s.Data()
			if err != nil {
				return nil, fmt.Errorf("read section %s: %w", s.Name, err)
			}
			if uint64(len(data)) > size {
				data = data[:size]
			}
		}
		b.AddSectionSize(s.Name, base+uint64(s.VirtualAddress), size, data, typ)
	}

	// COFF symbol values are relative to their 1-based section.
	for _, sym := range pf.Symbols {
		if sym.SectionNumber <= 0 || int(sym.SectionNumber) > len(pf.Sections) {
			continue
		}
		sec := pf.Sections[sym.SectionNumber-1]
		b.AddSymbol(sym.Name, base+uint64(sec.VirtualAddress)+uint64(sym.Value), 0)
	}

	b.SetImageSpan(base, base+sizeOfImage)
	im := b.Build()
	im.Path = path
	im.Format = "pe"
	return im, nil
}
