package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/export"
)

var (
	exportSite   string
	exportOwner  string
	exportStatus string
	exportFrom   string
	exportTo     string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export-jobs",
	Short: "Write a site's jobs to an XLSX workbook",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportSite, "site", "", "site id (required)")
	exportCmd.Flags().StringVar(&exportOwner, "owner", "", "only jobs uploaded by this owner")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "queued, processing, completed or failed")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "first day, YYYY-MM-DD")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "last day, YYYY-MM-DD (defaults to today when --from is set)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default jobs-<site>.xlsx)")
	_ = exportCmd.MarkFlagRequired("site")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	filter := export.Filter{SiteID: exportSite, UserID: exportOwner, Status: constants.JobStatus(exportStatus)}
	var err error
	if filter.From, err = parseDay("from", exportFrom); err != nil {
		return err
	}
	if filter.To, err = parseDay("to", exportTo); err != nil {
		return err
	}

	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	b, err := export.NewService(st.jobs, st.docs, logger).JobsXLSX(cmd.Context(), filter)
	if err != nil {
		return err
	}
	out := exportOut
	if out == "" {
		out = fmt.Sprintf("jobs-%s.xlsx", exportSite)
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("export.written", "path", out, "bytes", len(b))
	return nil
}

func parseDay(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, common.ValidationError(name + " must be YYYY-MM-DD")
	}
	return &t, nil
}
