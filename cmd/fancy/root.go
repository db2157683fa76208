package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fancyfn/fancy/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fancy",
	Short: "Fancy - deferred workflow execution",
	Long: `Fancy wires ordinary function calls into workflow blueprints and
executes them later: calls record steps instead of running, values live
in identity-bearing cells, and the engine resolves, broadcasts, and
finalizes everything when the workflow runs.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig is called before any command runs to load configuration
// and set up logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewConfigLoader(config.NewValidator()).LoadWithDefaults(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	logger = newLogger(cfg.Logging)
	slog.SetDefault(logger)
	return nil
}

// newLogger builds the structured logger the config asks for.
func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	rootCmd.AddCommand(workflowCmd)
}
