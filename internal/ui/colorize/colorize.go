// Package colorize highlights x86 assembly text for terminals.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"unassemblize/internal/x86fmt"
)

// Disabled reports whether colouring is turned off through UNASM_NO_COLOR.
func Disabled() bool {
	return os.Getenv("UNASM_NO_COLOR") != ""
}

// getAssemblyLexer returns a lexer matching the dialect's syntax with fallbacks
func getAssemblyLexer(d x86fmt.Dialect) chroma.Lexer {
	// GAS understands both of its syntaxes; nasm is the closest Intel lexer
	candidates := []string{"nasm", "gas"}
	if d == x86fmt.AGAS || d == x86fmt.IGAS {
		candidates = []string{"gas", "nasm"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	// Try high-color first, then fallback
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// ColorizeAssembly applies syntax highlighting to assembly text written in
// dialect d. The input is returned unchanged when colours are disabled or no
// lexer is available.
func ColorizeAssembly(code string, d x86fmt.Dialect) (string, error) {
	if Disabled() {
		return code, nil
	}

	lexer := getAssemblyLexer(d)
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
