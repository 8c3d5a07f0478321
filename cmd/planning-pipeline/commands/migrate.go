package commands

import (
	"github.com/spf13/cobra"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the job and document tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		return repository.Migrate(cmd.Context(), st.drv, logger)
	},
}

var dbhealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Ping the configured database and exit non-zero if it is unreachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.ping(cmd.Context()); err != nil {
			return err
		}
		logger.Info("dbhealth.ok", "driver", cfg.Database.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(dbhealthCmd)
}
