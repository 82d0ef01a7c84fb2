package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/mockd-chaos/pkg/logging"
)

var (
	// Persistent flags available to all subcommands
	logLevel   string
	logFormat  string
	logFile    string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mockd-chaos",
	Short: "mockd-chaos is a resilience and chaos-injection gateway for mock servers",
	Long: `mockd-chaos runs mock HTTP, GraphQL, WebSocket and gRPC endpoints behind a
single resilience pipeline: circuit breaker, bulkhead, rate limiting, traffic
shaping, latency injection and fault injection.

The pipeline is configured from a YAML or JSON file passed with --config.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("mockd-chaos %s (commit %s, built %s)\n", Version, Commit, BuildDate))
}

// newLogger builds the process logger from the persistent flags. The
// returned closer flushes and closes the log file, if any.
func newLogger(stderr io.Writer) (*slog.Logger, func() error, error) {
	cfg := logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Format: logging.ParseFormat(logFormat),
		Output: stderr,
	}
	closer := func() error { return nil }
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cfg.JSONSink = f
		closer = f.Close
	}
	return logging.New(cfg), closer, nil
}
