// AutoTouch Core - visual automation engine for Android devices.
//
// The engine drives a device over adb: it captures the screen, locates
// reference images with normalised cross-correlation and taps or swipes
// where they are found. Sequences of such steps are loaded from a template
// directory and started from the HTTP API, the overlay, MQTT or this CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "autotouch",
		Short:         "Visual automation engine for Android devices",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file (default $AUTOTOUCH_CONFIG or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(serveCmd(&flags))
	root.AddCommand(runCmd(&flags))
	root.AddCommand(catalogCmd(&flags))
	root.AddCommand(tokenCmd(&flags))
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "autotouch %s (commit %s, built %s)\n", version, commit, date)
			return err
		},
	}
}

// loadConfig resolves the configuration file and loads it.
//
// The path comes from --config, then AUTOTOUCH_CONFIG, then the default
// location. A missing default file is not an error: built-in defaults and
// environment overrides apply. An explicitly named file must exist.
//
// Parameters:
//   - flags: Persistent flags of the invoked command
//
// Returns:
//   - *config.Config: Validated configuration
//   - error: If the file cannot be read or the configuration is invalid
func loadConfig(flags *globalFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = os.Getenv("AUTOTOUCH_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the application logger. One-shot commands pass stderr so
// stdout carries only command output.
func newLogger(cfg *config.Config, w io.Writer) *logging.Logger {
	if w == nil {
		return logging.New(cfg.Logging, version)
	}
	return logging.NewWithWriter(cfg.Logging, version, w)
}
