package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homora/internal/backend"
	"homora/internal/config"
	"homora/internal/logging"
)

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "homora",
	Short: "Due-diligence assistant client",
	Long: `homora fronts the due-diligence backend: it serves the browser API with
streamed chat turns and trash management, and offers the same workflows on the
command line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = logging.New(cfg.Log, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $HOMORA_CONFIG or config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, askCmd, trashCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newBackendClient() (*backend.Client, error) {
	return backend.NewClient(cfg.BasicConfig.BackendURL, cfg.BasicConfig.RequestTimeout(), backend.WithLogger(logger))
}

// printNotifier shows notices on the terminal.
type printNotifier struct {
	w io.Writer
}

func (p printNotifier) Success(msg string) { fmt.Fprintf(p.w, "✓ %s\n", msg) }

func (p printNotifier) Error(msg string) { fmt.Fprintf(p.w, "✗ %s\n", msg) }
