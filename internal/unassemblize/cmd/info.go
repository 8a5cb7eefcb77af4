package cmd

import (
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"unassemblize/internal/exe"
	"unassemblize/internal/unassemblize/styles"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show format, sections and symbol counts of an executable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		im, err := openImage(cmd, args[0])
		if err != nil {
			return err
		}
		defer im.Close()

		report := infoReport(im)
		if !term.IsTerminal(os.Stdout.Fd()) {
			_, err := io.WriteString(cmd.OutOrStdout(), report)
			return err
		}

		width, _, err := term.GetSize(os.Stdout.Fd())
		if err != nil || width <= 0 {
			width = 80
		}
		renderer, err := styles.MarkdownRenderer(width - 2)
		if err != nil {
			return fmt.Errorf("create markdown renderer: %w", err)
		}
		rendered, err := renderer.Render(report)
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), rendered)
		return err
	},
}

// infoReport describes im as markdown.
func infoReport(im *exe.Image) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", pathpkg.Base(im.Path))
	fmt.Fprintf(&b, "- **Format:** %s\n", im.Format)
	fmt.Fprintf(&b, "- **Mode:** %d-bit\n", im.Mode)
	fmt.Fprintf(&b, "- **Image:** `0x%x` - `0x%x`\n", im.BaseAddress(), im.EndAddress())
	fmt.Fprintf(&b, "- **Symbols:** %d\n\n", len(im.Symbols()))

	b.WriteString("## Sections\n\n")
	b.WriteString("| Name | Type | Address | Size | Symbols |\n")
	b.WriteString("|------|------|---------|------|---------|\n")
	for _, sec := range im.Sections() {
		fmt.Fprintf(&b, "| %s | %s | `0x%x` | %d | %d |\n",
			sec.Name, sec.Type, sec.Address, sec.Size, len(im.SymbolsIn(sec)))
	}
	return b.String()
}
