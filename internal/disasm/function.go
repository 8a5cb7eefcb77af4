package disasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"unassemblize/internal/exe"
	"unassemblize/internal/x86fmt"
)

// ErrRangeOutsideSection is returned when the requested range does not fit in
// the section containing its first address.
var ErrRangeOutsideSection = errors.New("address range outside section")

const tableEntrySize = 4

// Function is one disassembly run over [begin, end). A Function is not safe
// for concurrent use; run independent ranges on independent Functions.
type Function struct {
	begin, end   exe.Address
	section      exe.Section
	labels       *LabelTable
	pseudo       pseudoSymbols
	instructions []InstructionData
}

func NewFunction() *Function {
	f := &Function{labels: NewLabelTable()}
	f.pseudo.reset()
	return f
}

// Disassemble discovers labels in [begin, end) and then renders every
// instruction. Results of a previous call are discarded.
//
// A range whose first address lies in no section, or in an empty one,
// produces nothing and no error. Decoding stops quietly at the first bytes
// that do not decode; the failure is recorded as an invalid instruction.
func (f *Function) Disassemble(setup *FunctionSetup, begin, end exe.Address) error {
	f.begin, f.end = begin, end
	f.section = exe.Section{}
	f.labels = NewLabelTable()
	f.pseudo.reset()
	f.instructions = nil

	sec, ok := setup.exe.SectionAt(begin)
	if !ok || sec.Size == 0 {
		return nil
	}
	if begin > end || end > sec.End() {
		return fmt.Errorf("%w: [%#x, %#x) not within %s [%#x, %#x)",
			ErrRangeOutsideSection, begin, end, sec.Name, sec.Address, sec.End())
	}
	f.section = sec

	f.discover(setup)
	f.render(setup)
	return nil
}

func (f *Function) BeginAddress() exe.Address { return f.begin }

func (f *Function) EndAddress() exe.Address { return f.end }

// Section returns the section the last run read from.
func (f *Function) Section() exe.Section { return f.section }

func (f *Function) Labels() *LabelTable { return f.labels }

func (f *Function) Instructions() []InstructionData {
	return slices.Clone(f.instructions)
}

// Text renders the instructions of the last run.
func (f *Function) Text() string {
	return Text(f.instructions)
}

// cursor walks the section bytes of one pass. Every read is checked against
// the section buffer and never trusts the caller's range.
type cursor struct {
	f    *Function
	mode int
	pc   exe.Address
}

func (c *cursor) done() bool {
	return c.pc >= c.f.end
}

func (c *cursor) decode() (x86asm.Inst, error) {
	off := c.pc - c.f.section.Address
	if off >= uint64(len(c.f.section.Data)) {
		return x86asm.Inst{}, x86asm.ErrTruncated
	}
	return x86asm.Decode(c.f.section.Data[off:], c.mode)
}

// word reads the little-endian 32-bit value at the cursor when all four bytes
// lie inside both the function range and the section buffer.
func (c *cursor) word() (exe.Address, bool) {
	if c.pc+tableEntrySize > c.f.end {
		return 0, false
	}
	off := c.pc - c.f.section.Address
	if off+tableEntrySize > uint64(len(c.f.section.Data)) {
		return 0, false
	}
	return exe.Address(binary.LittleEndian.Uint32(c.f.section.Data[off:])), true
}

// tableEntry returns the next inline jump table entry, if the word at the
// cursor points into the function.
func (c *cursor) tableEntry() (exe.Address, bool) {
	v, ok := c.word()
	if !ok || !c.f.inRange(v) {
		return 0, false
	}
	return v, true
}

func (f *Function) inRange(addr exe.Address) bool {
	return addr >= f.begin && addr < f.end
}

// discover creates labels for branch targets inside the function and for
// inline jump tables found after a nop or jmp.
func (f *Function) discover(setup *FunctionSetup) {
	c := &cursor{f: f, mode: setup.mode, pc: f.begin}
	for !c.done() {
		inst, err := c.decode()
		if err != nil {
			return
		}
		if target, ok := x86fmt.BranchTarget(inst, c.pc); ok && f.inRange(target) {
			f.labels.Add(target)
		}
		c.pc += exe.Address(inst.Len)

		if !x86fmt.IsJumpTableAnchor(inst) {
			continue
		}
		inTable := false
		for {
			target, ok := c.tableEntry()
			if !ok {
				break
			}
			if !inTable {
				f.labels.Add(c.pc)
				inTable = true
			}
			f.labels.Add(target)
			c.pc += tableEntrySize
		}
	}
}

// render formats every instruction and emits jump tables as data directives
// naming the labels discover created.
func (f *Function) render(setup *FunctionSetup) {
	c := &cursor{f: f, mode: setup.mode, pc: f.begin}
	sym := &resolver{fn: f, exe: setup.exe}
	directive := setup.formatter.DataDirective()

	for !c.done() {
		label, _ := f.labels.Lookup(c.pc)
		inst, err := c.decode()
		var text string
		if err == nil {
			text, err = setup.formatter.Format(inst, c.pc, sym)
		}
		if err != nil {
			f.instructions = append(f.instructions, InstructionData{
				Address:   c.pc,
				IsInvalid: true,
				Text:      "(bad)",
				Label:     label,
			})
			return
		}
		f.instructions = append(f.instructions, InstructionData{
			Address: c.pc,
			Length:  inst.Len,
			IsJump:  x86fmt.IsJump(inst),
			Text:    text,
			Label:   label,
		})
		c.pc += exe.Address(inst.Len)

		if !x86fmt.IsJumpTableAnchor(inst) {
			continue
		}
		inTable := false
		var pending string
		for {
			target, ok := c.tableEntry()
			if !ok {
				break
			}
			if !inTable {
				pending, _ = f.labels.Lookup(c.pc)
				inTable = true
			}
			if name, ok := f.labels.Lookup(target); ok {
				f.instructions = append(f.instructions, InstructionData{
					Address: c.pc,
					Length:  tableEntrySize,
					Text:    directive + " " + name,
					Label:   pending,
				})
				pending = ""
			}
			c.pc += tableEntrySize
		}
	}
}

const indent = "    "

// AppendAsText writes insts to b, each label on its own line followed by a
// colon and each instruction indented.
func AppendAsText(b *strings.Builder, insts []InstructionData) {
	for _, in := range insts {
		if in.Label != "" {
			b.WriteString(in.Label)
			b.WriteString(":\n")
		}
		b.WriteString(indent)
		b.WriteString(in.Text)
		b.WriteByte('\n')
	}
}

func Text(insts []InstructionData) string {
	var b strings.Builder
	AppendAsText(&b, insts)
	return b.String()
}
