package main

import (
	"fmt"
	"os"

	"github.com/coderisk/reviewcore/internal/config"
	"github.com/coderisk/reviewcore/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crisk",
	Short: "CodeRisk - AI code review orchestrated over your repository's symbol graph",
	Long: `CodeRisk indexes a repository into a caller/callee symbol graph, then
drives an LLM-backed review against that graph's blast radius whenever a
pull or merge request changes.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize logger
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		// The llm and embedding packages log through log/slog rather than
		// logrus; wire the same verbosity into slog's default logger so a
		// single --verbose flag controls both.
		if _, err := logging.NewLogger(logging.Config{Level: slogLevel(verbose)}); err != nil {
			logger.WithError(err).Warn("failed to initialize slog logger, using library default")
		}

		// Load configuration
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
	},
}

func slogLevel(verbose bool) logging.LogLevel {
	if verbose {
		return logging.DEBUG
	}
	return logging.INFO
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .coderisk/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Set custom version template
	rootCmd.SetVersionTemplate(`CodeRisk {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	// Add subcommands
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
}
