// Package cmd provides the commands of the hearth binary.
package cmd

import (
	"github.com/urfave/cli/v2"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode (trace only).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (trace only)",
	}

	// ConfigFlag points at hearth.yaml.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to hearth.yaml",
		Value:   "/etc/hearth/hearth.yaml",
		EnvVars: []string{"HEARTH_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// --tui is accepted everywhere so unsupported commands can say so instead
// of failing with "flag provided but not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// resolveString prefers an explicitly set flag over the config value.
func resolveString(c *cli.Context, flag, configValue string) string {
	if c.IsSet(flag) {
		return c.String(flag)
	}
	return configValue
}

// rejectTUI fails commands that have no interactive view.
func rejectTUI(c *cli.Context, command string) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for "+command+" command", 1)
	}
	return nil
}
