package disasm

import (
	"errors"
	"fmt"

	"unassemblize/internal/exe"
	"unassemblize/internal/x86fmt"
)

// ErrConfiguration is returned when a FunctionSetup cannot be built.
var ErrConfiguration = errors.New("invalid disassembler configuration")

// Executable is the view of a loaded image the disassembler needs.
// *exe.Image implements it.
type Executable interface {
	SectionAt(addr exe.Address) (exe.Section, bool)
	BaseAddress() exe.Address
	EndAddress() exe.Address
	Symbol(addr exe.Address) exe.Symbol
	NearestSymbol(addr exe.Address) exe.Symbol
}

// FunctionSetup is the configuration shared by every Function disassembled
// from one executable in one dialect. It is immutable once built and may be
// used by many goroutines at once.
type FunctionSetup struct {
	exe       Executable
	dialect   x86fmt.Dialect
	mode      int
	formatter *x86fmt.Formatter
}

type Option func(*FunctionSetup)

// WithMode sets the processor mode in bits: 16, 32 or 64. The default is 32.
func WithMode(mode int) Option {
	return func(s *FunctionSetup) {
		s.mode = mode
	}
}

func NewFunctionSetup(e Executable, dialect x86fmt.Dialect, opts ...Option) (*FunctionSetup, error) {
	s := &FunctionSetup{exe: e, dialect: dialect, mode: 32}
	for _, opt := range opts {
		opt(s)
	}
	if e == nil {
		return nil, fmt.Errorf("%w: no executable", ErrConfiguration)
	}
	switch s.mode {
	case 16, 32, 64:
	default:
		return nil, fmt.Errorf("%w: unsupported mode %d", ErrConfiguration, s.mode)
	}
	f, err := x86fmt.New(dialect)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	s.formatter = f
	return s, nil
}

func (s *FunctionSetup) Executable() Executable { return s.exe }

func (s *FunctionSetup) Dialect() x86fmt.Dialect { return s.dialect }

func (s *FunctionSetup) Mode() int { return s.mode }
