package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"unassemblize/internal/disasm"
	"unassemblize/internal/exe"
	"unassemblize/internal/logging"
	"unassemblize/internal/ui/colorize"
	"unassemblize/internal/unassemblize/log"
	"unassemblize/internal/x86fmt"
)

var errNoFunction = errors.New("no function selected")

func init() {
	disasmCmd.Flags().String("start", "", "First address of the range (hex)")
	disasmCmd.Flags().String("end", "", "End address of the range, exclusive (hex)")
	disasmCmd.Flags().String("symbol", "", "Disassemble the function with this symbol name")
	disasmCmd.Flags().Bool("all", false, "Disassemble every function of --section")
	disasmCmd.Flags().String("section", ".text", "Section used by --all")
	disasmCmd.Flags().String("syntax", "default", "Output dialect: "+strings.Join(dialectNames(), ", "))
	disasmCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	disasmCmd.Flags().Bool("demangle", false, "Print demangled names as comments")
	disasmCmd.Flags().IntP("jobs", "j", 4, "Functions disassembled in parallel with --all")

	rootCmd.AddCommand(disasmCmd)
}

var disasmCmd = &cobra.Command{
	Use:   "disasm [file]",
	Short: "Disassemble functions to assembly text",
	Long: `Disassemble one function, an address range or a whole section.

Select exactly one of --symbol, --start/--end or --all. Without --end the
range ends where the function at --start ends.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromCommand(cmd)
		if err != nil {
			return err
		}
		req, err := disasmRequestFromFlags(cmd)
		if err != nil {
			return err
		}

		im, err := openImage(cmd, args[0])
		if err != nil {
			return err
		}
		defer im.Close()

		output, _ := cmd.Flags().GetString("output")
		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			w = f
		} else if cfg.Color == nil || *cfg.Color {
			req.Color = !colorize.Disabled()
		}

		return runDisasm(cmd.Context(), w, im, cfg, req)
	},
}

// disasmRequest selects what runDisasm prints.
type disasmRequest struct {
	Symbol   string
	Start    exe.Address
	End      exe.Address
	HasStart bool
	HasEnd   bool
	All      bool
	Color    bool
}

func disasmRequestFromFlags(cmd *cobra.Command) (disasmRequest, error) {
	var req disasmRequest
	flags := cmd.Flags()
	req.Symbol, _ = flags.GetString("symbol")
	req.All, _ = flags.GetBool("all")

	if s, _ := flags.GetString("start"); s != "" {
		addr, err := parseAddress(s)
		if err != nil {
			return req, fmt.Errorf("--start: %w", err)
		}
		req.Start, req.HasStart = addr, true
	}
	if s, _ := flags.GetString("end"); s != "" {
		addr, err := parseAddress(s)
		if err != nil {
			return req, fmt.Errorf("--end: %w", err)
		}
		req.End, req.HasEnd = addr, true
	}

	selected := 0
	for _, set := range []bool{req.Symbol != "", req.HasStart, req.All} {
		if set {
			selected++
		}
	}
	switch {
	case selected == 0:
		return req, fmt.Errorf("%w: use --symbol, --start or --all", errNoFunction)
	case selected > 1:
		return req, errors.New("--symbol, --start and --all are mutually exclusive")
	case req.HasEnd && !req.HasStart:
		return req, errors.New("--end requires --start")
	}
	return req, nil
}

// funcJob is one function to disassemble.
type funcJob struct {
	name       string
	begin, end exe.Address
}

func runDisasm(ctx context.Context, w io.Writer, im *exe.Image, cfg Config, req disasmRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dialect := cfg.dialect()
	setup, err := disasm.NewFunctionSetup(im, dialect, disasm.WithMode(im.Mode))
	if err != nil {
		return err
	}
	jobs, err := selectFunctions(im, cfg, req)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := disassembleAll(ctx, setup, jobs, cfg)
	if err != nil {
		return err
	}
	if logging.IsDebug() {
		lg := logging.NewLogger()
		lg.Debug("Disassembly complete", "functions", len(jobs), "elapsed", time.Since(start))
		lg.Close()
	}

	if req.Color {
		if colored, err := colorize.ColorizeAssembly(out, dialect); err == nil {
			out = colored
		} else {
			slog.Debug("Highlighting failed", "error", err)
		}
	}
	_, err = io.WriteString(w, out)
	return err
}

func selectFunctions(im *exe.Image, cfg Config, req disasmRequest) ([]funcJob, error) {
	switch {
	case req.All:
		sec, ok := im.Section(cfg.Section)
		if !ok {
			return nil, fmt.Errorf("%s: %w", cfg.Section, exe.ErrNoSection)
		}
		var jobs []funcJob
		for _, sym := range im.Functions(sec) {
			begin, end, err := im.FunctionRange(sym)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, funcJob{name: sym.Name, begin: begin, end: end})
		}
		if len(jobs) == 0 {
			// Nothing to split on, take the section as one function
			jobs = append(jobs, funcJob{name: functionName(sec.Address), begin: sec.Address, end: sec.End()})
		}
		return jobs, nil

	case req.Symbol != "":
		sym, ok := im.FindSymbol(req.Symbol)
		if !ok {
			return nil, fmt.Errorf("%w: symbol %q not found", errNoFunction, req.Symbol)
		}
		begin, end, err := im.FunctionRange(sym)
		if err != nil {
			return nil, err
		}
		return []funcJob{{name: sym.Name, begin: begin, end: end}}, nil

	default:
		name := functionName(req.Start)
		sym := im.Symbol(req.Start)
		if !sym.IsEmpty() {
			name = sym.Name
		}
		if req.HasEnd {
			return []funcJob{{name: name, begin: req.Start, end: req.End}}, nil
		}
		if sym.IsEmpty() {
			sym = exe.Symbol{Name: name, Address: req.Start}
		}
		begin, end, err := im.FunctionRange(sym)
		if err != nil {
			return nil, err
		}
		return []funcJob{{name: name, begin: begin, end: end}}, nil
	}
}

// functionName names a function that has no symbol.
func functionName(addr exe.Address) string {
	return fmt.Sprintf("sub_%x", addr)
}

// disassembleAll runs the jobs on up to cfg.Jobs goroutines sharing setup and
// joins the listings in job order.
func disassembleAll(ctx context.Context, setup *disasm.FunctionSetup, jobs []funcJob, cfg Config) (string, error) {
	results := make([]string, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for i, job := range jobs {
		g.Go(func() (err error) {
			defer log.RecoverPanic("disasm "+job.name, func() {
				err = fmt.Errorf("disassembling %s panicked", job.name)
			})
			if err := ctx.Err(); err != nil {
				return err
			}
			fn := disasm.NewFunction()
			if err := fn.Disassemble(setup, job.begin, job.end); err != nil {
				return fmt.Errorf("%s: %w", job.name, err)
			}
			var b strings.Builder
			renderFunction(&b, job.name, fn, setup.Dialect(), cfg.Demangle)
			results[i] = b.String()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(results, "\n"), nil
}

// renderFunction writes the listing of fn under a name header.
func renderFunction(b *strings.Builder, name string, fn *disasm.Function, d x86fmt.Dialect, demangle bool) {
	if demangle {
		if pretty := exe.Demangle(name); pretty != name {
			fmt.Fprintf(b, "%s %s\n", commentPrefix(d), pretty)
		}
	}
	b.WriteString(name)
	b.WriteString(":\n")
	b.WriteString(fn.Text())
}

// commentPrefix is the line comment marker of the dialect's assembler.
func commentPrefix(d x86fmt.Dialect) string {
	switch d {
	case x86fmt.IGAS, x86fmt.AGAS:
		return "#"
	}
	return ";"
}

func dialectNames() []string {
	var names []string
	for _, d := range x86fmt.Dialects() {
		names = append(names, d.String())
	}
	return names
}
