package disasm

import (
	"slices"
	"strconv"

	"unassemblize/internal/exe"
)

// LabelName returns the label used for addr: label_ followed by lowercase hex.
func LabelName(addr exe.Address) string {
	return "label_" + strconv.FormatUint(addr, 16)
}

// LabelTable maps addresses to label names. Keys are kept in address order.
type LabelTable struct {
	names map[exe.Address]string
	addrs []exe.Address
}

func NewLabelTable() *LabelTable {
	return &LabelTable{names: make(map[exe.Address]string)}
}

// Add creates the label for addr unless it exists. It reports whether a new
// label was created.
func (t *LabelTable) Add(addr exe.Address) (string, bool) {
	if name, ok := t.names[addr]; ok {
		return name, false
	}
	name := LabelName(addr)
	t.names[addr] = name
	i, _ := slices.BinarySearch(t.addrs, addr)
	t.addrs = slices.Insert(t.addrs, i, addr)
	return name, true
}

func (t *LabelTable) Lookup(addr exe.Address) (string, bool) {
	name, ok := t.names[addr]
	return name, ok
}

// Addresses returns the labelled addresses in increasing order.
func (t *LabelTable) Addresses() []exe.Address {
	return slices.Clone(t.addrs)
}

func (t *LabelTable) Len() int {
	return len(t.addrs)
}
