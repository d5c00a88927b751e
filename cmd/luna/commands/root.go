// Package commands implements the luna CLI commands using cobra.
package commands

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/app"
	"github.com/lunabadge/luna/internal/config"
	"github.com/lunabadge/luna/internal/logging"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "luna",
	Short: "Orchestration core for the Luna assistive badge",
	Long: `Luna turns what the wearer says and what the camera sees into
spoken guidance: it classifies speech into intents, plans routes to
facilities and destinations, remembers paths and warns about obstacles.

Without hardware attached, speech is read as text and replies are printed.
Configure routes and schedules in luna.yaml.`,
	Version:       Version,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		noColor, _ := cmd.Flags().GetBool("no-color")
		if noColor || !isInteractive() {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./luna.yaml merged over ~/.config/luna/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
}

// isInteractive reports whether stdout is a terminal. Override in tests.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func initLogging(cmd *cobra.Command, cfg *config.Config) error {
	lc := cfg.LoggingSettings()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		lc.Level = "debug"
		lc.Output = os.Stderr
	}
	if err := logging.Init(lc); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	return nil
}

// buildApp loads config, initializes logging and wires the core. Nothing
// is started.
func buildApp(cmd *cobra.Command, opts ...app.Option) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := initLogging(cmd, cfg); err != nil {
		return nil, err
	}
	a, err := app.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("init luna: %w", err)
	}
	return a, nil
}
