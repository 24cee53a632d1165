// Package cli implements the mdmp command line: the evaluation server and
// offline tools for scoring scenarios and checking datasets.
package cli

import (
	"fmt"
	"os"

	"github.com/lauramurakaru/mdmp/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mdmp",
	Short: "Engagement decision evaluation engine",
	Long: "Scores engagement scenarios against the attribute table, applies the\n" +
		"override rules and settles the rest by threshold bands or a trained classifier.",
	SilenceUsage: true,
}

func init() {
	defaultConfig := os.Getenv("MDMP_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "mdmp.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to config YAML (missing file = defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, overlays the environment and flags, and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
