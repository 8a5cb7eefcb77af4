package cmd

import (
	"context"
	"fmt"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"unassemblize/internal/exe"
	"unassemblize/internal/logging"
	"unassemblize/internal/unassemblize/log"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("config", "", "JSON configuration file (see the schema command)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable syntax highlighting")
	rootCmd.PersistentFlags().Bool("raw", false, "Treat the input as a flat binary loaded at --base")
	rootCmd.PersistentFlags().String("base", "0x400000", "Load address of a --raw input")
	rootCmd.PersistentFlags().Int("mode", 32, "Processor mode of a --raw input: 16, 32 or 64")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
}

var rootCmd = &cobra.Command{
	Use:   "unassemblize",
	Short: "Disassemble x86 functions into assembler-ready text",
	Long: `Unassemblize turns functions of x86 ELF and PE executables back into assembly
source. Branch targets and inline jump tables become labels, and addresses that
point at known symbols are printed by name.`,
	Example: `
# Disassemble one function in AT&T syntax
unassemblize disasm --symbol main --syntax agas ./game.exe

# Disassemble every function of .text using 8 workers
unassemblize disasm --all --jobs 8 -o game.S ./game.exe

# Browse the functions interactively
unassemblize browse ./game.exe
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		if debug {
			os.Setenv("UNASM_LOG_LEVEL", "debug")
		}
		log.Setup(nil, debug || logging.IsDebug())

		// Colours only make sense on a terminal
		noColor, _ := cmd.Flags().GetBool("no-color")
		if noColor || !term.IsTerminal(os.Stdout.Fd()) {
			os.Setenv("UNASM_NO_COLOR", "1")
		}

		if _, err := ResolveCwd(cmd); err != nil {
			return err
		}

		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %w", err)
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				return fmt.Errorf("could not start CPU profile: %w", err)
			}
			profileFile = f
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profileFile != nil {
			pprof.StopCPUProfile()
			profileFile.Close()
			profileFile = nil
		}
	},
}

var profileFile *os.File

// openImage loads the executable named on the command line, honouring --raw.
func openImage(cmd *cobra.Command, file string) (*exe.Image, error) {
	absPath, err := pathpkg.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", file)
		}
		return nil, fmt.Errorf("cannot access file: %w", err)
	}

	raw, _ := cmd.Flags().GetBool("raw")
	if !raw {
		return exe.Open(absPath)
	}
	baseStr, _ := cmd.Flags().GetString("base")
	base, err := parseAddress(baseStr)
	if err != nil {
		return nil, fmt.Errorf("--base: %w", err)
	}
	mode, _ := cmd.Flags().GetInt("mode")
	return exe.OpenRaw(absPath, base, mode)
}

// parseAddress accepts hexadecimal addresses with or without a 0x prefix.
func parseAddress(s string) (exe.Address, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}

func Execute() {
	// Bypass fang's styled output when it is piped or fed from a script
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	// Use fang for enhanced CLI experience with markdown rendering
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %w", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}
