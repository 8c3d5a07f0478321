package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/dispatch"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
)

var (
	extractFocus    string
	extractMIME     string
	extractAnalysis bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Run the summary (and optionally analysis) extraction on a local file",
	Long: `extract runs the same adapter the worker uses against a local PDF or
image and prints the structured result as JSON. Nothing is written to the
database or blob store.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractFocus, "focus", "", "focus hint passed to the model")
	extractCmd.Flags().StringVar(&extractMIME, "mime", "", "override the detected MIME type")
	extractCmd.Flags().BoolVar(&extractAnalysis, "analysis", false, "also run the risk analysis")
	rootCmd.AddCommand(extractCmd)
}

type extractOutput struct {
	File      string                `json:"file"`
	MimeType  string                `json:"mime_type"`
	Model     string                `json:"model"`
	ElapsedMS int64                 `json:"elapsed_ms"`
	Summary   llm.PlanningSummary   `json:"summary"`
	Analysis  *llm.PlanningAnalysis `json:"analysis,omitempty"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	mimeType := dispatch.DetectMIME(extractMIME, name, data)

	adapter, err := newAdapter()
	if err != nil {
		return err
	}
	start := time.Now()
	content, err := adapter.Prepare(ctx, data, mimeType, extractFocus)
	if err != nil {
		return err
	}
	summary, raw, err := adapter.Summarize(ctx, content, name)
	if err != nil {
		return err
	}
	out := extractOutput{
		File:     name,
		MimeType: mimeType,
		Model:    adapter.ModelName(llm.ModeSummary),
		Summary:  summary,
	}
	if extractAnalysis {
		content.Summary = raw
		analysis, _, err := adapter.Analyze(ctx, content, name)
		if err != nil {
			return err
		}
		out.Analysis = &analysis
	}
	out.ElapsedMS = time.Since(start).Milliseconds()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
