// Package cli implements the khatt command-line interface.
//
// Commands:
//   - serve: run the live generator page
//   - render: write a PNG or SVG from flags, without a browser
//   - fonts: list the registered fonts
//   - version: print build information
//
// Every command reads the TOML configuration named by --config or by the
// KHATT_CONFIG environment variable, and falls back to defaults.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gogpu/gg"
	"github.com/spf13/cobra"

	"github.com/khattlab/khatt/internal/config"
	"github.com/khattlab/khatt/pkg/logging"
)

const appName = "khatt"

var (
	version = "dev" // semantic version, set with ldflags
	commit  string  // git commit SHA
	date    string  // build timestamp
)

// SetVersion sets the build information shown by --version and the
// version command.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// CLI holds state shared by all commands. Config and Logger are set by the
// root command before any subcommand runs.
type CLI struct {
	Out io.Writer
	Err io.Writer

	Config config.Config
	Logger *logging.SlogLogger

	configPath string
	verbose    bool
}

// New creates a CLI writing command output to out and logs to errw.
func New(out, errw io.Writer) *CLI {
	return &CLI{Out: out, Err: errw, Config: config.Default()}
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Khatt renders Arabic calligraphy",
		Long:          `Khatt serves a live Arabic calligraphy editor and renders the same designs to PNG and SVG from the command line.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}

	root.SetOut(c.Out)
	root.SetErr(c.Err)
	root.SetVersionTemplate(versionString() + "\n")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $"+config.EnvPath+")")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.fontsCommand())
	root.AddCommand(c.versionCommand())

	return root
}

// setup loads the configuration and installs the logger.
func (c *CLI) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.Config = cfg
	c.Logger = newLogger(c.Err, cfg.Logging, c.verbose)
	logging.SetDefault(c.Logger)
	gg.SetLogger(c.Logger.Slog())
	return nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig, verbose bool) *logging.SlogLogger {
	level := logging.ParseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := []logging.LoggerOption{logging.WithOutput(w), logging.WithLevel(level)}
	if cfg.Format == "json" {
		opts = append(opts, logging.WithJSON())
	}
	return logging.NewSlogLogger(opts...)
}

func versionString() string {
	s := appName + " " + version
	if commit != "" {
		s += fmt.Sprintf("\ncommit: %s", commit)
	}
	if date != "" {
		s += fmt.Sprintf("\nbuilt: %s", date)
	}
	return s
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(c.Out, versionString())
			return nil
		},
	}
}
