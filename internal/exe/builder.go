package exe

import "sort"

// Builder assembles an Image in memory.
type Builder struct {
	im      Image
	spanSet bool
}

// NewBuilder starts an image for the given processor mode.
func NewBuilder(mode int) *Builder {
	return &Builder{im: Image{Format: "raw", Mode: mode}}
}

// AddSection adds a section whose size is len(data).
func (b *Builder) AddSection(name string, addr Address, data []byte, typ SectionType) *Builder {
	return b.AddSectionSize(name, addr, uint64(len(data)), data, typ)
}

// AddSectionSize adds a section with an explicit size, which may exceed len(data).
func (b *Builder) AddSectionSize(name string, addr Address, size uint64, data []byte, typ SectionType) *Builder {
	b.im.sections = append(b.im.sections, Section{
		Name:    name,
		Address: addr,
		Size:    size,
		Data:    data,
		Type:    typ,
	})
	return b
}

// AddSymbol adds a symbol. Empty names are ignored.
func (b *Builder) AddSymbol(name string, addr Address, size uint64) *Builder {
	if name == "" {
		return b
	}
	b.im.symbols = append(b.im.symbols, Symbol{Name: name, Address: addr, Size: size})
	return b
}

// SetImageSpan overrides the image span computed from the sections.
func (b *Builder) SetImageSpan(base, end Address) *Builder {
	b.im.base, b.im.end = base, end
	b.spanSet = true
	return b
}

// Build finalises the image. The builder must not be used afterwards.
func (b *Builder) Build() *Image {
	im := b.im
	sort.SliceStable(im.sections, func(i, j int) bool {
		return im.sections[i].Address < im.sections[j].Address
	})
	sort.SliceStable(im.symbols, func(i, j int) bool {
		return im.symbols[i].Address < im.symbols[j].Address
	})
	if !b.spanSet && len(im.sections) > 0 {
		im.base = im.sections[0].Address
		for _, s := range im.sections {
			if s.Address < im.base {
				im.base = s.Address
			}
			if s.End() > im.end {
				im.end = s.End()
			}
		}
	}
	return &im
}
