package commands

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/ingest"
)

var (
	uploadSite       string
	uploadOwner      string
	uploadFocus      string
	uploadExts       []string
	uploadSkipHidden bool
	uploadWatch      bool
	uploadDebounce   time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload-dir <dir>...",
	Short: "Queue every PDF and image under the given directories",
	Long: `upload-dir stores each matching file and queues it for processing, the same
way an HTTP upload does. With --watch it keeps running and queues files as they
appear.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadSite, "site", "", "site id (required)")
	uploadCmd.Flags().StringVar(&uploadOwner, "owner", "", "owner id (required)")
	uploadCmd.Flags().StringVar(&uploadFocus, "focus", "", "focus hint for every document")
	uploadCmd.Flags().StringSliceVar(&uploadExts, "ext", nil, "extensions to include (default: every supported type)")
	uploadCmd.Flags().BoolVar(&uploadSkipHidden, "skip-hidden", true, "skip dot files and directories")
	uploadCmd.Flags().BoolVar(&uploadWatch, "watch", false, "keep watching for new files")
	uploadCmd.Flags().DurationVar(&uploadDebounce, "debounce", 2*time.Second, "quiet period before a changed file is queued")
	_ = uploadCmd.MarkFlagRequired("site")
	_ = uploadCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	v := common.NewValidator()
	v.Field("QUEUE_SIGNING_KEY", cfg.Queue.SigningKey, common.Required, common.MinLengthRule(16))
	if v.HasErrors() {
		return v.Error()
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	blobs, err := openBlobs(ctx)
	if err != nil {
		return err
	}
	publisher, closePublisher, err := newPublisher()
	if err != nil {
		return err
	}
	defer func() { _ = closePublisher.Close() }()

	dispatcher := dispatch.New(blobs, st.jobs, publisher, cfg.CallbackURL(), logger,
		dispatch.WithMaxUploadBytes(cfg.Pipeline.MaxUploadBytes),
	)
	opts := ingest.Options{
		OwnerID:    uploadOwner,
		SiteID:     uploadSite,
		Focus:      uploadFocus,
		Exts:       uploadExts,
		SkipHidden: uploadSkipHidden,
	}

	if uploadWatch {
		u := ingest.NewUploader(dispatcher, opts, logger)
		if err := u.Watch(ctx, args, uploadDebounce); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("queueing"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	opts.OnFile = func(ingest.FileResult) { _ = bar.Add(1) }
	u := ingest.NewUploader(dispatcher, opts, logger)

	type dirReport struct {
		Root    string              `json:"root"`
		Stats   ingest.DirStats     `json:"stats"`
		Results []ingest.FileResult `json:"results"`
	}
	var reports []dirReport
	for _, root := range args {
		results, stats, err := u.UploadDirectory(ctx, root)
		if err != nil {
			return err
		}
		reports = append(reports, dirReport{Root: root, Stats: stats, Results: results})
	}
	_ = bar.Finish()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}
