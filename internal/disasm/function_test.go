package disasm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"unassemblize/internal/exe"
	"unassemblize/internal/x86fmt"
)

const textBase = 0x401000

// scenarioB has a backward jmp at 0x401010 to 0x401005 and a forward jge.
var scenarioB = []byte{
	0x55,             // 401000 push ebp
	0x89, 0xe5,       // 401001 mov ebp, esp
	0x31, 0xc0,       // 401003 xor eax, eax
	0x40,             // 401005 inc eax
	0x83, 0xf8, 0x0a, // 401006 cmp eax, 0xa
	0x7d, 0x05, // 401009 jge 401010
	0xb9, 0x00, 0x00, 0x00, 0x00, // 40100b mov ecx, 0x0
	0xeb, 0xf3, // 401010 jmp 401005
	0xc3, // 401012 ret
	0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc,
}

// scenarioC has an indirect jmp at 0x401010 followed by an inline table whose
// fourth word points past the end of the function.
var scenarioC = []byte{
	0x55,       // 401000 push ebp
	0x89, 0xe5, // 401001 mov ebp, esp
	0x31, 0xc0, // 401003 xor eax, eax
	0xb8, 0x01, 0x00, 0x00, 0x00, // 401005 mov eax, 0x1
	0xb9, 0x02, 0x00, 0x00, 0x00, // 40100a mov ecx, 0x2
	0x40,                   // 40100f inc eax
	0xff, 0x64, 0x24, 0x04, // 401010 jmp dword ptr [esp+0x4]
	0x05, 0x10, 0x40, 0x00, // 401014
	0x0a, 0x10, 0x40, 0x00, // 401018
	0x05, 0x10, 0x40, 0x00, // 40101c
	0x20, 0x10, 0x40, 0x00, // 401020
}

func newImage(code []byte, syms ...exe.Symbol) *exe.Image {
	b := exe.NewBuilder(32).
		AddSection(".text", textBase, code, exe.SectionCode).
		SetImageSpan(0x400000, 0x500000)
	for _, s := range syms {
		b.AddSymbol(s.Name, s.Address, s.Size)
	}
	return b.Build()
}

func newSetup(t *testing.T, e Executable, d x86fmt.Dialect) *FunctionSetup {
	t.Helper()
	setup, err := NewFunctionSetup(e, d)
	if err != nil {
		t.Fatalf("NewFunctionSetup: %v", err)
	}
	return setup
}

func run(t *testing.T, setup *FunctionSetup, begin, end exe.Address) *Function {
	t.Helper()
	fn := NewFunction()
	if err := fn.Disassemble(setup, begin, end); err != nil {
		t.Fatalf("Disassemble(%#x, %#x): %v", begin, end, err)
	}
	return fn
}

func TestNoSymbolsRendersRawAddresses(t *testing.T) {
	code := []byte{
		0x55,                         // push ebp
		0xa1, 0x00, 0x00, 0x00, 0x00, // mov eax, [0x0]
		0xc3, // ret
	}
	fn := run(t, newSetup(t, newImage(code), x86fmt.Default), textBase, textBase+exe.Address(len(code)))

	want := []InstructionData{
		{Address: 0x401000, Length: 1, Text: "push ebp"},
		{Address: 0x401001, Length: 5, Text: "mov eax, dword ptr [0x0]"},
		{Address: 0x401006, Length: 1, Text: "ret"},
	}
	if diff := cmp.Diff(want, fn.Instructions()); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
	if fn.Labels().Len() != 0 {
		t.Errorf("labels = %v, want none", fn.Labels().Addresses())
	}
	if got := fn.PseudoSymbols(); len(got) != 0 {
		t.Errorf("pseudo symbols = %v, want none", got)
	}
}

func TestBranchTargetsGetLabels(t *testing.T) {
	fn := run(t, newSetup(t, newImage(scenarioB), x86fmt.Default), 0x401000, 0x401020)

	wantLabels := []exe.Address{0x401005, 0x401010}
	if diff := cmp.Diff(wantLabels, fn.Labels().Addresses()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	insts := fn.Instructions()
	if len(insts) != 22 {
		t.Fatalf("got %d instructions, want 22", len(insts))
	}
	byAddr := make(map[exe.Address]InstructionData)
	for _, in := range insts {
		byAddr[in.Address] = in
	}

	tests := []struct {
		addr   exe.Address
		text   string
		label  string
		isJump bool
	}{
		{0x401005, "inc eax", "label_401005", false},
		{0x401009, "jge label_401010", "", true},
		{0x40100b, "mov ecx, 0x0", "", false},
		{0x401010, "jmp label_401005", "label_401010", true},
		{0x401012, "ret", "", false},
		{0x401013, "int 0x3", "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%#x", tt.addr), func(t *testing.T) {
			in, ok := byAddr[tt.addr]
			if !ok {
				t.Fatalf("no instruction at %#x", tt.addr)
			}
			if in.Text != tt.text || in.Label != tt.label || in.IsJump != tt.isJump {
				t.Errorf("got {%q %q %v}, want {%q %q %v}",
					in.Text, in.Label, in.IsJump, tt.text, tt.label, tt.isJump)
			}
		})
	}
}

func TestInlineJumpTable(t *testing.T) {
	fn := run(t, newSetup(t, newImage(scenarioC), x86fmt.Default), 0x401000, 0x401020)

	wantLabels := []exe.Address{0x401005, 0x40100a, 0x401014}
	if diff := cmp.Diff(wantLabels, fn.Labels().Addresses()); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	want := []InstructionData{
		{Address: 0x401000, Length: 1, Text: "push ebp"},
		{Address: 0x401001, Length: 2, Text: "mov ebp, esp"},
		{Address: 0x401003, Length: 2, Text: "xor eax, eax"},
		{Address: 0x401005, Length: 5, Text: "mov eax, 0x1", Label: "label_401005"},
		{Address: 0x40100a, Length: 5, Text: "mov ecx, 0x2", Label: "label_40100a"},
		{Address: 0x40100f, Length: 1, Text: "inc eax"},
		{Address: 0x401010, Length: 4, Text: "jmp dword ptr [esp+0x4]", IsJump: true},
		{Address: 0x401014, Length: 4, Text: ".int label_401005", Label: "label_401014"},
		{Address: 0x401018, Length: 4, Text: ".int label_40100a"},
		{Address: 0x40101c, Length: 4, Text: ".int label_401005"},
	}
	if diff := cmp.Diff(want, fn.Instructions()); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}

	wantText := strings.Join([]string{
		"    push ebp",
		"    mov ebp, esp",
		"    xor eax, eax",
		"label_401005:",
		"    mov eax, 0x1",
		"label_40100a:",
		"    mov ecx, 0x2",
		"    inc eax",
		"    jmp dword ptr [esp+0x4]",
		"label_401014:",
		"    .int label_401005",
		"    .int label_40100a",
		"    .int label_401005",
		"",
	}, "\n")
	if diff := cmp.Diff(wantText, fn.Text()); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodingResumesAfterJumpTable(t *testing.T) {
	code := append([]byte{}, scenarioC[:0x20]...)
	code = append(code, 0xc3) // 401020 ret
	fn := run(t, newSetup(t, newImage(code), x86fmt.Default), 0x401000, 0x401021)

	insts := fn.Instructions()
	last := insts[len(insts)-1]
	if last.Address != 0x401020 || last.Text != "ret" {
		t.Errorf("last instruction = %+v, want ret at 0x401020", last)
	}
	if n := strings.Count(fn.Text(), ".int "); n != 3 {
		t.Errorf("got %d table entries, want 3", n)
	}
}

func TestJumpTableDialects(t *testing.T) {
	tests := []struct {
		dialect x86fmt.Dialect
		jmp     string
		entry   string
	}{
		{x86fmt.Default, "jmp dword ptr [esp+0x4]", ".int label_401005"},
		{x86fmt.IGAS, "jmp dword ptr [esp+0x4]", ".int label_401005"},
		{x86fmt.AGAS, "jmp *0x4(%esp)", ".int label_401005"},
		{x86fmt.MASM, "jmp dword ptr [esp+4h]", "dd label_401005"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect.String(), func(t *testing.T) {
			fn := run(t, newSetup(t, newImage(scenarioC), tt.dialect), 0x401000, 0x401020)
			insts := fn.Instructions()
			if got := insts[6].Text; got != tt.jmp {
				t.Errorf("jmp = %q, want %q", got, tt.jmp)
			}
			if got := insts[7].Text; got != tt.entry {
				t.Errorf("entry = %q, want %q", got, tt.entry)
			}
			// Labels are the same in every dialect.
			if diff := cmp.Diff([]exe.Address{0x401005, 0x40100a, 0x401014}, fn.Labels().Addresses()); diff != "" {
				t.Errorf("labels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSymbolResolution(t *testing.T) {
	code := []byte{
		0xa1, 0x00, 0x20, 0x40, 0x00, // 401000 mov eax, [0x402000]
		0x8b, 0x80, 0x08, 0x20, 0x40, 0x00, // 401005 mov eax, [eax+0x402008]
		0xa1, 0x18, 0x20, 0x40, 0x00, // 40100b mov eax, [0x402018]
		0x8b, 0x80, 0x10, 0x20, 0x40, 0x00, // 401010 mov eax, [eax+0x402010]
		0x68, 0x00, 0x18, 0x40, 0x00, // 401016 push 0x401800
		0xea, 0x00, 0x30, 0x40, 0x00, 0x08, 0x00, // 40101b ljmp 0x8:0x403000
		0x68, 0x00, 0x00, 0x00, 0x00, // 401022 push 0x0
		0xa1, 0x18, 0x20, 0x40, 0x00, // 401027 mov eax, [0x402018]
		0xc3, // 40102c ret
	}
	im := exe.NewBuilder(32).
		AddSectionSize(".text", textBase, 0x1000, code, exe.SectionCode).
		AddSection(".data", 0x402000, make([]byte, 0x20), exe.SectionData).
		AddSymbol("g_table", 0x402000, 0x10).
		SetImageSpan(0x400000, 0x500000).
		Build()

	fn := run(t, newSetup(t, im, x86fmt.Default), textBase, textBase+exe.Address(len(code)))

	var got []string
	for _, in := range fn.Instructions() {
		got = append(got, in.Text)
	}
	want := []string{
		"mov eax, dword ptr [g_table]",
		"mov eax, dword ptr [eax+g_table+0x8]",
		"mov eax, dword ptr [off_402018]",
		"mov eax, dword ptr [eax+off_402010]",
		"push sub_401800",
		"ljmp 0x8:unk_403000",
		"push 0x0",
		"mov eax, dword ptr [off_402018]",
		"ret",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}

	wantPseudo := []exe.Symbol{
		{Name: "off_402018", Address: 0x402018},
		{Name: "off_402010", Address: 0x402010},
		{Name: "sub_401800", Address: 0x401800},
		{Name: "unk_403000", Address: 0x403000},
	}
	if diff := cmp.Diff(wantPseudo, fn.PseudoSymbols()); diff != "" {
		t.Errorf("pseudo symbols mismatch (-want +got):\n%s", diff)
	}
}

func TestLabelsWinOverSymbols(t *testing.T) {
	im := newImage(scenarioB,
		exe.Symbol{Name: "loop_head", Address: 0x401005},
		exe.Symbol{Name: "main", Address: 0x401000, Size: 0x20},
	)
	fn := run(t, newSetup(t, im, x86fmt.Default), 0x401000, 0x401020)

	text := fn.Text()
	if !strings.Contains(text, "jmp label_401005") {
		t.Errorf("jmp does not use the label:\n%s", text)
	}
	for _, bad := range []string{"loop_head", "sub_", "off_", "unk_"} {
		if strings.Contains(text, bad) {
			t.Errorf("text contains %q:\n%s", bad, text)
		}
	}
}

func TestTextReferencesOnlyKnownLabels(t *testing.T) {
	for _, code := range [][]byte{scenarioB, scenarioC} {
		fn := run(t, newSetup(t, newImage(code), x86fmt.Default), 0x401000, 0x401020)
		known := make(map[string]bool)
		for _, addr := range fn.Labels().Addresses() {
			name, _ := fn.Labels().Lookup(addr)
			if known[name] {
				t.Errorf("label %s used for two addresses", name)
			}
			known[name] = true
		}
		for _, in := range fn.Instructions() {
			for _, field := range strings.FieldsFunc(in.Text, func(r rune) bool {
				return r == ' ' || r == ',' || r == '[' || r == ']' || r == '+'
			}) {
				if strings.HasPrefix(field, "label_") && !known[field] {
					t.Errorf("%q references unknown label %s", in.Text, field)
				}
			}
		}
	}
}

func TestMonotonicAddresses(t *testing.T) {
	for _, code := range [][]byte{scenarioB, scenarioC} {
		fn := run(t, newSetup(t, newImage(code), x86fmt.Default), 0x401000, 0x401020)
		insts := fn.Instructions()
		for i := 1; i < len(insts); i++ {
			if insts[i].Address != insts[i-1].End() {
				t.Errorf("instruction %d at %#x, previous ends at %#x", i, insts[i].Address, insts[i-1].End())
			}
		}
	}
}

func TestDeterministic(t *testing.T) {
	setup := newSetup(t, newImage(scenarioC), x86fmt.AGAS)
	a := run(t, setup, 0x401000, 0x401020)
	b := run(t, setup, 0x401000, 0x401020)
	if diff := cmp.Diff(a.Instructions(), b.Instructions()); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}

	// Reusing a Function discards the previous run.
	fn := NewFunction()
	for i := 0; i < 2; i++ {
		if err := fn.Disassemble(setup, 0x401000, 0x401020); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff(a.Instructions(), fn.Instructions()); diff != "" {
		t.Errorf("reused function differs (-fresh +reused):\n%s", diff)
	}
}

func TestConcurrentFunctionsShareSetup(t *testing.T) {
	setup := newSetup(t, newImage(scenarioC), x86fmt.Default)
	want := run(t, setup, 0x401000, 0x401020).Text()

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn := NewFunction()
			if err := fn.Disassemble(setup, 0x401000, 0x401020); err != nil {
				results[i] = err.Error()
				return
			}
			results[i] = fn.Text()
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if got != want {
			t.Errorf("goroutine %d produced different text:\n%s", i, got)
		}
	}
}

func TestEmptyAndUnknownSections(t *testing.T) {
	im := exe.NewBuilder(32).
		AddSection(".text", textBase, scenarioB, exe.SectionCode).
		AddSectionSize(".bss", 0x403000, 0, nil, exe.SectionData).
		Build()
	setup := newSetup(t, im, x86fmt.Default)

	tests := []struct {
		name       string
		begin, end exe.Address
	}{
		{"empty section", 0x403000, 0x403010},
		{"no section", 0x900000, 0x900010},
		{"empty range", 0x401000, 0x401000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := NewFunction()
			if err := fn.Disassemble(setup, tt.begin, tt.end); err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			if n := len(fn.Instructions()); n != 0 {
				t.Errorf("got %d instructions, want 0", n)
			}
		})
	}
}

func TestRangeOutsideSection(t *testing.T) {
	setup := newSetup(t, newImage(scenarioB), x86fmt.Default)
	tests := []struct {
		name       string
		begin, end exe.Address
	}{
		{"end past section", 0x401000, 0x401100},
		{"begin after end", 0x401010, 0x401000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := NewFunction()
			err := fn.Disassemble(setup, tt.begin, tt.end)
			if !errors.Is(err, ErrRangeOutsideSection) {
				t.Fatalf("err = %v, want ErrRangeOutsideSection", err)
			}
			if n := len(fn.Instructions()); n != 0 {
				t.Errorf("got %d instructions, want 0", n)
			}
		})
	}
}

func TestDecodeFailureMarksInvalid(t *testing.T) {
	// mov eax, imm32 cut short by the end of the section buffer.
	code := []byte{0x55, 0xb8, 0x01}
	fn := run(t, newSetup(t, newImage(code), x86fmt.Default), 0x401000, 0x401003)

	want := []InstructionData{
		{Address: 0x401000, Length: 1, Text: "push ebp"},
		{Address: 0x401001, IsInvalid: true, Text: "(bad)"},
	}
	if diff := cmp.Diff(want, fn.Instructions()); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
}

func TestNewFunctionSetupErrors(t *testing.T) {
	im := newImage(scenarioB)
	tests := []struct {
		name    string
		exe     Executable
		dialect x86fmt.Dialect
		opts    []Option
		wantErr error
	}{
		{"no executable", nil, x86fmt.Default, nil, ErrConfiguration},
		{"bad mode", im, x86fmt.Default, []Option{WithMode(8)}, ErrConfiguration},
		{"bad dialect", im, x86fmt.Dialect(9), nil, x86fmt.ErrUnknownDialect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFunctionSetup(tt.exe, tt.dialect, tt.opts...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("err = %v is not ErrConfiguration", err)
			}
		})
	}

	setup, err := NewFunctionSetup(im, x86fmt.MASM, WithMode(64))
	if err != nil {
		t.Fatal(err)
	}
	if setup.Mode() != 64 || setup.Dialect() != x86fmt.MASM {
		t.Errorf("setup = mode %d dialect %v", setup.Mode(), setup.Dialect())
	}
}
