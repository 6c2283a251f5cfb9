// Command abaquiz is the operator CLI: seeding the question pool, checking
// its health and managing the study-material vector store.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/abaquiz/backend/internal/app"
	"github.com/abaquiz/backend/internal/config"
	"github.com/abaquiz/backend/internal/logging"
)

var (
	configPath string
	outputJSON bool
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "abaquiz",
	Short: "Operate the AbaQuiz question pool",
	Long: `abaquiz seeds and inspects the BCBA question pool and keeps the
study-material vector store in sync.

Configuration is read from --config, $ABAQUIZ_CONFIG or ./config.yaml,
with ABAQUIZ_* environment overrides.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")
}

// loadApp builds the application from configuration. Logs go to stderr so
// command output on stdout stays clean.
func loadApp() (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.Logging
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger, err := logging.NewLogger(&logCfg)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dollars(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}
