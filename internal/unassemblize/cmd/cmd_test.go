package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"unassemblize/internal/exe"
	"unassemblize/internal/ui/colorize"
	"unassemblize/internal/x86fmt"
)

var testCode = []byte{
	0x55,                         // 401000 push ebp
	0xe8, 0x00, 0x00, 0x00, 0x00, // 401001 call 401006
	0xc3, // 401006 ret
}

func testImage(t *testing.T, names ...string) *exe.Image {
	t.Helper()
	if len(names) == 0 {
		names = []string{"main", "helper"}
	}
	b := exe.NewBuilder(32).
		AddSection(".text", 0x401000, testCode, exe.SectionCode).
		AddSymbol(names[0], 0x401000, 0).
		AddSymbol(names[1], 0x401006, 0)
	im := b.Build()
	im.Path = "/tmp/game.exe"
	return im
}

func TestRunDisasm(t *testing.T) {
	tests := []struct {
		name   string
		syntax string
		req    disasmRequest
		want   string
	}{
		{
			name:   "symbol",
			syntax: "default",
			req:    disasmRequest{Symbol: "main"},
			want:   "main:\n    push ebp\n    call helper\n",
		},
		{
			name:   "range without symbol",
			syntax: "masm",
			req:    disasmRequest{Start: 0x401001, End: 0x401006, HasStart: true, HasEnd: true},
			want:   "sub_401001:\n    call helper\n",
		},
		{
			name:   "start infers end",
			syntax: "default",
			req:    disasmRequest{Start: 0x401006, HasStart: true},
			want:   "helper:\n    ret\n",
		},
		{
			name:   "all in order",
			syntax: "agas",
			req:    disasmRequest{All: true},
			want:   "main:\n    push %ebp\n    call helper\n\nhelper:\n    ret\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Syntax = tt.syntax
			cfg.Jobs = 2
			var buf bytes.Buffer
			if err := runDisasm(context.Background(), &buf, testImage(t), cfg, tt.req); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, buf.String()); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunDisasmDemangle(t *testing.T) {
	im := testImage(t, "_Z3foov", "helper")
	for _, tt := range []struct {
		syntax string
		want   string
	}{
		{"default", "; foo()\n_Z3foov:\n"},
		{"igas", "# foo()\n_Z3foov:\n"},
	} {
		t.Run(tt.syntax, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Syntax = tt.syntax
			cfg.Demangle = true
			var buf bytes.Buffer
			if err := runDisasm(context.Background(), &buf, im, cfg, disasmRequest{Symbol: "_Z3foov"}); err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(buf.String(), tt.want) {
				t.Errorf("output %q does not start with %q", buf.String(), tt.want)
			}
		})
	}
}

func TestRunDisasmErrors(t *testing.T) {
	cfg := defaultConfig()
	if err := runDisasm(context.Background(), &bytes.Buffer{}, testImage(t), cfg, disasmRequest{Symbol: "missing"}); !errors.Is(err, errNoFunction) {
		t.Errorf("missing symbol: got %v, want errNoFunction", err)
	}

	cfg.Section = ".init"
	if err := runDisasm(context.Background(), &bytes.Buffer{}, testImage(t), cfg, disasmRequest{All: true}); !errors.Is(err, exe.ErrNoSection) {
		t.Errorf("missing section: got %v, want ErrNoSection", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(defaultConfig(), cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	cfg, err = loadConfig(write("masm.json", `{"syntax": "MASM", "jobs": 2}`))
	if err != nil {
		t.Fatal(err)
	}
	want := Config{Syntax: "MASM", Jobs: 2, Section: ".text"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.dialect() != x86fmt.MASM {
		t.Errorf("dialect = %v, want masm", cfg.dialect())
	}

	if _, err := loadConfig(write("jobs.json", `{"jobs": -1}`)); !errors.Is(err, errInvalidConfig) {
		t.Errorf("negative jobs: got %v, want errInvalidConfig", err)
	}
	if _, err := loadConfig(write("syntax.json", `{"syntax": "nasm"}`)); !errors.Is(err, x86fmt.ErrUnknownDialect) {
		t.Errorf("unknown syntax: got %v, want ErrUnknownDialect", err)
	}
	if _, err := loadConfig(write("broken.json", `{`)); err == nil {
		t.Error("broken JSON: expected error")
	}
	if _, err := loadConfig(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("absent file: expected error")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    exe.Address
		wantErr bool
	}{
		{"0x401000", 0x401000, false},
		{"401000", 0x401000, false},
		{" 0XFF ", 0xff, false},
		{"", 0, true},
		{"0x", 0, true},
		{"zz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseAddress(%q) = %#x, want %#x", tt.in, got, tt.want)
			}
		})
	}
}

func TestListSymbols(t *testing.T) {
	var buf bytes.Buffer
	if err := listSymbols(&buf, testImage(t, "_Z3foov", "helper"), ".text", true); err != nil {
		t.Fatal(err)
	}
	var got [][]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		got = append(got, strings.Fields(line))
	}
	want := [][]string{
		{"ADDRESS", "SIZE", "SECTION", "NAME"},
		{"00401000", "0", ".text", "foo()"},
		{"00401006", "0", ".text", "helper"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("symbols mismatch (-want +got):\n%s", diff)
	}

	if err := listSymbols(&buf, testImage(t), ".bss", false); !errors.Is(err, exe.ErrNoSection) {
		t.Errorf("got %v, want ErrNoSection", err)
	}
}

func TestInfoReport(t *testing.T) {
	report := infoReport(testImage(t))
	for _, want := range []string{
		"# game.exe",
		"- **Mode:** 32-bit",
		"- **Symbols:** 2",
		"| .text | code | `0x401000` | 7 | 2 |",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestColorizeSignatureKeepsText(t *testing.T) {
	for _, sig := range []string{
		"main",
		"foo(int)",
		"game::Player::update(float, unsigned int) const",
		"std::vector<int, std::allocator<int> >::push_back(int const&)",
		"void ns::f<int>(char*)",
	} {
		if got := colorize.StripANSI(colorizeSignature(sig)); got != sig {
			t.Errorf("colorizeSignature(%q) stripped = %q", sig, got)
		}
	}
}
