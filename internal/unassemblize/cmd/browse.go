package cmd

import (
	"fmt"
	"io"
	"log/slog"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"unassemblize/internal/disasm"
	"unassemblize/internal/exe"
	"unassemblize/internal/ui/colorize"
	"unassemblize/internal/unassemblize/styles"
	"unassemblize/internal/x86fmt"
)

func init() {
	browseCmd.Flags().String("syntax", "default", "Output dialect: "+strings.Join(dialectNames(), ", "))
	browseCmd.Flags().String("section", ".text", "Section whose functions are listed")

	rootCmd.AddCommand(browseCmd)
}

var browseCmd = &cobra.Command{
	Use:   "browse [file]",
	Short: "Browse and disassemble functions interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromCommand(cmd)
		if err != nil {
			return err
		}
		file := args[0]
		load := func() (*exe.Image, error) { return openImage(cmd, file) }

		program := tea.NewProgram(
			newBrowseModel(file, cfg, load),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		final, err := program.Run()
		if m, ok := final.(browseModel); ok && m.image != nil {
			m.image.Close()
		}
		if err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

type viewMode int

const (
	viewAssembly viewMode = iota
	viewFunctions
)

type functionItem struct {
	sym        exe.Symbol
	demangled  string
	filterTerm string
}

func (i functionItem) Title() string       { return fmt.Sprintf("%x  %s", i.sym.Address, i.demangled) }
func (i functionItem) Description() string { return "" }
func (i functionItem) FilterValue() string { return i.filterTerm }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(functionItem)
	if !ok {
		return
	}

	var addrStyle lipgloss.Style
	indicator := " "
	if index == m.Index() {
		indicator = ">"
		addrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	} else {
		addrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	}

	fmt.Fprintf(w, " %s  %s  %s",
		indicator,
		addrStyle.Render(fmt.Sprintf("%08x", i.sym.Address)),
		colorizeSignature(i.demangled))
}

var (
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	funcStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	nsStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	keywordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))

	signatureWords = map[string]lipgloss.Style{
		"const":    keywordStyle,
		"virtual":  keywordStyle,
		"static":   keywordStyle,
		"void":     typeStyle,
		"int":      typeStyle,
		"bool":     typeStyle,
		"char":     typeStyle,
		"short":    typeStyle,
		"long":     typeStyle,
		"float":    typeStyle,
		"double":   typeStyle,
		"unsigned": typeStyle,
	}
)

// colorizeSignature highlights a demangled C++ name: namespaces in gray, the
// function name in orange and builtin types and qualifiers in the parameters.
func colorizeSignature(sig string) string {
	name, params, hasParams := strings.Cut(sig, "(")
	if hasParams {
		params = "(" + params
	}

	var ret string
	// Templates contain spaces, so only the part before the last space outside
	// angle brackets is a return type.
	if i := lastTopLevelSpace(name); i >= 0 {
		ret, name = name[:i], name[i+1:]
	}

	var b strings.Builder
	if ret != "" {
		b.WriteString(colorizeWords(ret))
		b.WriteByte(' ')
	}
	parts := strings.Split(name, "::")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(nsStyle.Render("::"))
		}
		if i < len(parts)-1 {
			b.WriteString(nsStyle.Render(part))
		} else {
			b.WriteString(funcStyle.Render(part))
		}
	}
	b.WriteString(colorizeWords(params))
	return b.String()
}

func lastTopLevelSpace(s string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '>':
			depth++
		case '<':
			depth--
		case ' ':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// colorizeWords styles whole identifiers found in signatureWords.
func colorizeWords(s string) string {
	var b strings.Builder
	start := -1
	flush := func(end int) {
		word := s[start:end]
		if st, ok := signatureWords[word]; ok {
			b.WriteString(st.Render(word))
		} else {
			b.WriteString(word)
		}
		start = -1
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ident := c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
		switch {
		case ident && start < 0:
			start = i
		case !ident && start >= 0:
			flush(i)
			b.WriteByte(c)
		case !ident:
			b.WriteByte(c)
		}
	}
	if start >= 0 {
		flush(len(s))
	}
	return b.String()
}

// Message types
type imageMsg struct {
	image *exe.Image
	funcs []exe.Symbol
	err   error
}

func loadImageCmd(load func() (*exe.Image, error), section string) tea.Cmd {
	return func() tea.Msg {
		im, err := load()
		if err != nil {
			return imageMsg{err: err}
		}
		sec, ok := im.Section(section)
		if !ok {
			im.Close()
			return imageMsg{err: fmt.Errorf("%s: %w", section, exe.ErrNoSection)}
		}
		return imageMsg{image: im, funcs: im.Functions(sec)}
	}
}

type browseModel struct {
	viewport     viewport.Model
	functionList list.Model
	spinner      spinner.Model
	mode         viewMode
	filepath     string
	cfg          Config
	load         func() (*exe.Image, error)
	image        *exe.Image
	setup        *disasm.FunctionSetup
	current      string // listing shown in the assembly view
	loadErr      error
	loading      bool
	width        int
	height       int
}

func newBrowseModel(filepath string, cfg Config, load func() (*exe.Image, error)) browseModel {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	functionList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	functionList.SetShowStatusBar(false)
	functionList.SetFilteringEnabled(true)
	functionList.Title = "Functions"
	functionList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	functionList.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	m := browseModel{
		viewport:     vp,
		functionList: functionList,
		spinner:      s,
		mode:         viewAssembly,
		filepath:     filepath,
		cfg:          cfg,
		load:         load,
		loading:      true,
		width:        80,
		height:       24,
	}
	m.updateContent()
	return m
}

func (m browseModel) Init() tea.Cmd {
	return tea.Batch(
		loadImageCmd(m.load, m.cfg.Section),
		m.spinner.Tick,
	)
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case imageMsg:
		m.loading = false
		m.loadErr = msg.err
		if msg.err == nil {
			m.image = msg.image
			m.setup, m.loadErr = disasm.NewFunctionSetup(m.image, m.cfg.dialect(), disasm.WithMode(m.image.Mode))
			m.updateFunctionList(msg.funcs)
			if len(msg.funcs) > 0 && m.loadErr == nil {
				m.mode = viewFunctions
			}
		}
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		if m.loading {
			m.updateContent()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.functionList.SetWidth(msg.Width)
			m.functionList.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		if m.mode == viewFunctions && m.functionList.FilterState() == list.Filtering {
			if s := msg.String(); s == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			if len(m.functionList.Items()) > 0 {
				m.mode = viewFunctions
			}
			return m, nil
		case "esc":
			if m.mode == viewAssembly && len(m.functionList.Items()) > 0 {
				m.mode = viewFunctions
				return m, nil
			}
		case "tab":
			switch m.mode {
			case viewAssembly:
				if len(m.functionList.Items()) > 0 {
					m.mode = viewFunctions
				}
			case viewFunctions:
				m.mode = viewAssembly
			}
			return m, nil
		case "enter":
			if m.mode == viewFunctions {
				if item, ok := m.functionList.SelectedItem().(functionItem); ok {
					m.showFunction(item.sym)
					m.mode = viewAssembly
				}
				return m, nil
			}
		}
	}

	switch m.mode {
	case viewFunctions:
		m.functionList, cmd = m.functionList.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m browseModel) View() string {
	var content string
	switch m.mode {
	case viewFunctions:
		content = m.functionList.View()
	default:
		content = m.viewport.View()
	}

	var menu string
	switch {
	case m.mode == viewFunctions:
		menu = " Enter: disassemble • /: filter • Tab: assembly • Q: quit "
	case len(m.functionList.Items()) > 0:
		menu = " S: functions • Esc: back • Tab: cycle • Q: quit "
	default:
		menu = " Q: quit "
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *browseModel) updateFunctionList(funcs []exe.Symbol) {
	items := make([]list.Item, 0, len(funcs))
	for _, sym := range funcs {
		demangled := exe.Demangle(sym.Name)
		items = append(items, functionItem{
			sym:        sym,
			demangled:  demangled,
			filterTerm: fmt.Sprintf("%x %s %s", sym.Address, sym.Name, demangled),
		})
	}
	m.functionList.SetItems(items)
	m.functionList.Title = fmt.Sprintf("Functions in %s (%d total)", m.cfg.Section, len(items))
}

// showFunction disassembles sym and puts the listing in the viewport.
func (m *browseModel) showFunction(sym exe.Symbol) {
	if m.setup == nil {
		return
	}
	begin, end, err := m.image.FunctionRange(sym)
	if err != nil {
		m.current = fmt.Sprintf("%s %s: %v\n", commentPrefix(m.setup.Dialect()), sym.Name, err)
	} else {
		fn := disasm.NewFunction()
		var b strings.Builder
		if err := fn.Disassemble(m.setup, begin, end); err != nil {
			fmt.Fprintf(&b, "%s %v\n", commentPrefix(m.setup.Dialect()), err)
		}
		renderFunction(&b, sym.Name, fn, m.setup.Dialect(), true)
		m.current = b.String()
	}
	m.updateContent()
	m.viewport.GotoTop()
}

func (m *browseModel) updateContent() {
	width := m.width
	if width == 0 {
		width = 80
	}

	markdown := fmt.Sprintf("# %s\n\n", pathpkg.Base(m.filepath))
	switch {
	case m.loading:
		markdown += fmt.Sprintf("%s Loading functions...", m.spinner.View())
	case m.loadErr != nil:
		markdown += fmt.Sprintf("Error: %v", m.loadErr)
	case m.current == "":
		markdown += fmt.Sprintf("%s image, %d-bit, %s syntax. Press S to pick a function.",
			m.image.Format, m.image.Mode, m.cfg.Syntax)
	}

	header := markdown
	if renderer, err := styles.MarkdownRenderer(width - 2); err == nil {
		if rendered, err := renderer.Render(markdown); err == nil {
			header = strings.TrimSuffix(rendered, "\n")
		}
	}

	if m.current == "" {
		m.viewport.SetContent(header)
		return
	}
	listing := m.current
	if colored, err := colorize.ColorizeAssembly(listing, dialectOf(m.setup)); err == nil {
		listing = colored
	}
	m.viewport.SetContent(header + "\n\n" + listing)
}

func dialectOf(s *disasm.FunctionSetup) x86fmt.Dialect {
	if s == nil {
		return x86fmt.Default
	}
	return s.Dialect()
}
