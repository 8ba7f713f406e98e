// Package cli implements the mechaway command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mechaway CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "mechaway",
		Short: "Mechaway workflow automation engine",
		Long:  "Mechaway executes DAGs of typed nodes on webhooks and cron schedules,\nwith project isolation and hot reload.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger builds the process logger: tint's human-readable handler
// on stderr, debug level under --verbose.
func newLogger(opts *RootOptions, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch {
	case opts.Verbose:
		logLevel = slog.LevelDebug
	case level == "debug":
		logLevel = slog.LevelDebug
	case level == "warn":
		logLevel = slog.LevelWarn
	case level == "error":
		logLevel = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel}))
}
