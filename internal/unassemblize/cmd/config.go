package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"unassemblize/internal/x86fmt"
)

// Config is the optional JSON configuration file. Command-line flags override
// every field.
type Config struct {
	Syntax   string `json:"syntax,omitempty" jsonschema:"title=Syntax,description=Assembly dialect of the output,enum=default,enum=igas,enum=agas,enum=masm,default=default"`
	Jobs     int    `json:"jobs,omitempty" jsonschema:"title=Jobs,description=Functions disassembled in parallel with --all,minimum=1"`
	Color    *bool  `json:"color,omitempty" jsonschema:"title=Color,description=Highlight output written to a terminal"`
	Section  string `json:"section,omitempty" jsonschema:"title=Section,description=Section disassembled by --all,default=.text"`
	Demangle bool   `json:"demangle,omitempty" jsonschema:"title=Demangle,description=Print demangled names as comments"`
}

var errInvalidConfig = errors.New("invalid configuration")

func defaultConfig() Config {
	return Config{Syntax: x86fmt.Default.String(), Jobs: 4, Section: ".text"}
}

// loadConfig reads the file at path over the defaults. An empty path yields
// the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := x86fmt.ParseDialect(c.Syntax); err != nil {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("%w: jobs must be at least 1, got %d", errInvalidConfig, c.Jobs)
	}
	return nil
}

// configFromCommand loads --config and applies the flags the user set.
// Changed is false for flags the command does not define.
func configFromCommand(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("syntax") {
		cfg.Syntax, _ = flags.GetString("syntax")
	}
	if flags.Changed("jobs") {
		cfg.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("section") {
		cfg.Section, _ = flags.GetString("section")
	}
	if flags.Changed("demangle") {
		cfg.Demangle, _ = flags.GetBool("demangle")
	}
	if flags.Changed("no-color") {
		noColor, _ := flags.GetBool("no-color")
		color := !noColor
		cfg.Color = &color
	}
	return cfg, cfg.validate()
}

func (c Config) dialect() x86fmt.Dialect {
	d, _ := x86fmt.ParseDialect(c.Syntax)
	return d
}
