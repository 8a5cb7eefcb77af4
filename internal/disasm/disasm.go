// Package disasm turns one function's worth of x86 machine code into
// assembler-ready text. A run makes two walks over [begin, end): the first
// discovers branch targets and inline jump tables and names them with labels,
// the second formats every instruction with labels and symbols substituted for
// raw addresses.
package disasm

import "unassemblize/internal/exe"

// InstructionData is one decoded and formatted instruction, or one entry of an
// inline jump table rendered as a data directive.
type InstructionData struct {
	Address   exe.Address // address of the first byte
	Length    int         // encoded length in bytes; 4 for jump table entries
	IsJump    bool        // unconditional, conditional or loop jump
	IsInvalid bool        // decoding or formatting failed here
	Text      string      // mnemonic and operands with symbols substituted
	Label     string      // label to print before the instruction, if any
}

// End returns the address just past the instruction.
func (d InstructionData) End() exe.Address {
	return d.Address + exe.Address(d.Length)
}
