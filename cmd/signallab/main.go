// Command signallab ingests the token event stream, scores tokens and
// publishes ranked signal generations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"solana-signal-lab/internal/config"
	"solana-signal-lab/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	useMemory  bool
)

var rootCmd = &cobra.Command{
	Use:   "signallab",
	Short: "Real-time token scoring and signal generation",
	Long: `signallab keeps a subscription to the token event stream, enriches each
token with market data, scores it with heuristics blended with an AI judgment
and periodically publishes a ranked signal generation.

Configuration is read from defaults, an optional YAML file, .env and the
environment, in increasing order of precedence. Flags override all of them.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (default: $CONFIG_FILE)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (json|console)")
	pf.BoolVar(&useMemory, "use-memory", false, "Use in-memory stores instead of Postgres/ClickHouse")
}

// loadConfig builds the configuration and the root logger.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	if useMemory {
		// Validate depends on it.
		_ = os.Setenv("USE_MEMORY", "true")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("env", cfg.Environment).Logger()
	return cfg, log, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
