package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/pipeline"
)

var reapRepublish bool

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one sweep over stuck jobs",
	Long: `reap times out jobs that have sat in processing longer than the stale
window. With --republish it also re-queues queued jobs whose message was never
picked up. Blob storage is not touched, so the republish path only needs the
database and the queue.`,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().BoolVar(&reapRepublish, "republish", false, "re-queue queued jobs that were never attempted")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var republisher pipeline.Republisher
	if reapRepublish {
		publisher, closePublisher, err := newPublisher()
		if err != nil {
			return err
		}
		defer func() { _ = closePublisher.Close() }()
		republisher = dispatch.New(nil, st.jobs, publisher, cfg.CallbackURL(), logger)
	}

	reaper := pipeline.NewReaper(st.jobs, republisher, logger,
		pipeline.WithStaleAfter(cfg.Pipeline.StaleAfter),
	)
	res, err := reaper.Sweep(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
