package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"calcore/internal/config"
	appLog "calcore/internal/log"
	"calcore/internal/source"
	"calcore/internal/wire"
)

// app carries state shared by subcommands once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "calcore",
		Short: "Translate, emit and expand iCalendar data",
		Long: `calcore reads calendars in iCalendar text, xCal or jCal form, maps them
onto an event graph and writes them back in any of the three encodings.

It can run as:
  - A one-shot converter (convert)
  - A recurrence expander (expand)
  - An HTTP service refreshing subscribed calendars (serve)`,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	root.SetVersionTemplate(`{{printf "calcore version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file (defaults apply when unset)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	root.AddCommand(newConvertCmd(a))
	root.AddCommand(newExpandCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	appLog.SetOutput(cmd.ErrOrStderr())
	if a.configPath == "" {
		a.cfg = config.DefaultConfig()
	} else {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg
	}
	level := a.cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return nil
}

// readInput loads a calendar from stdin ("-" or no argument), a local path
// or a URL. The returned format is the detected one unless forced.
func (a *app) readInput(ctx context.Context, cmd *cobra.Command, args []string, forced string) (io.Reader, wire.Format, error) {
	var format wire.Format
	if forced != "" {
		f, err := wire.ParseFormat(forced)
		if err != nil {
			return nil, "", err
		}
		format = f
	}
	if len(args) == 0 || args[0] == "-" {
		if format == "" {
			format = wire.FormatText
		}
		return cmd.InOrStdin(), format, nil
	}
	res, err := source.NewFetcher(a.cfg.CacheDir).Fetch(ctx, source.Source{ID: "input", URL: args[0], Format: format})
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(res.Body), res.Format, nil
}

// openOutput returns stdout for "" or "-", otherwise a created file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "calcore version %s\n", version)
		},
	}
}
