package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"unassemblize/internal/exe"
)

func init() {
	symbolsCmd.Flags().String("section", "", "Only list symbols of this section")
	symbolsCmd.Flags().Bool("demangle", false, "Show demangled names")

	rootCmd.AddCommand(symbolsCmd)
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols [file]",
	Short: "List the symbols of an executable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		im, err := openImage(cmd, args[0])
		if err != nil {
			return err
		}
		defer im.Close()

		section, _ := cmd.Flags().GetString("section")
		demangle, _ := cmd.Flags().GetBool("demangle")
		return listSymbols(cmd.OutOrStdout(), im, section, demangle)
	},
}

func listSymbols(w io.Writer, im *exe.Image, section string, demangle bool) error {
	syms := im.Symbols()
	if section != "" {
		sec, ok := im.Section(section)
		if !ok {
			return fmt.Errorf("%s: %w", section, exe.ErrNoSection)
		}
		syms = im.SymbolsIn(sec)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tSIZE\tSECTION\tNAME")
	for _, sym := range syms {
		secName := "-"
		if sec, ok := im.SectionAt(sym.Address); ok {
			secName = sec.Name
		}
		name := sym.Name
		if demangle {
			name = exe.Demangle(name)
		}
		fmt.Fprintf(tw, "%08x\t%d\t%s\t%s\n", sym.Address, sym.Size, secName, name)
	}
	return tw.Flush()
}
