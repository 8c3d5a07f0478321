package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/logging"
)

var (
	cfgFile string
	verbose bool

	cfg    *common.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "planning-pipeline",
	Short: "Planning document pipeline: upload, queue, extract, analyse",
	Long: `planning-pipeline accepts UK planning documents, queues them for
processing and runs the summary and risk analysis extraction behind a signed
queue callback. Each subcommand loads .env, the optional YAML config file and
the environment, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := os.Setenv("CONFIG_FILE", cfgFile); err != nil {
				return err
			}
		}
		c, err := common.LoadConfig()
		if err != nil {
			return err
		}
		if verbose {
			c.Log.Level = "debug"
		}
		cfg = c
		logger = logging.New(cfg.Log, os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
