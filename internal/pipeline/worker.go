package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/blob"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/entity"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/llm"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/metrics"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
)

const (
	DefaultTimeout      = 5 * time.Minute
	DefaultReclaimAfter = 15 * time.Minute

	// terminalWriteTimeout bounds the final complete/fail write, which runs
	// detached from the invocation deadline.
	terminalWriteTimeout = 10 * time.Second
)

// Adapter is the extraction surface the worker drives; *extract.Adapter
// satisfies it.
type Adapter interface {
	Prepare(ctx context.Context, data []byte, mimeType, focus string) (llm.Content, error)
	Summarize(ctx context.Context, content llm.Content, fileName string) (llm.PlanningSummary, []byte, error)
	Analyze(ctx context.Context, content llm.Content, fileName string) (llm.PlanningAnalysis, []byte, error)
	ModelName(mode llm.Mode) string
}

// Outcome is what a single Handle call did to the job.
type Outcome string

const (
	// OutcomeSkipped: the job was not claimable (terminal, owned elsewhere or unknown).
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeAbandoned: ownership was lost mid-run and nothing further was written.
	OutcomeAbandoned Outcome = "abandoned"
)

// Result summarises one invocation for the callback response and logs.
type Result struct {
	JobID          uuid.UUID                `json:"job_id"`
	Outcome        Outcome                  `json:"outcome"`
	Status         constants.JobStatus      `json:"status,omitempty"`
	AnalysisStatus constants.AnalysisStatus `json:"analysis_status,omitempty"`
	Steps          []Step                   `json:"steps,omitempty"`
}

var (
	errNotClaimed    = errors.New("job not claimable")
	errOwnershipLost = errors.New("job ownership lost")
)

// Worker advances one job per callback. The job store's conditional updates
// are the only synchronisation between concurrent invocations.
type Worker struct {
	jobs         repository.JobRepository
	docs         repository.DocumentRepository
	blobs        blob.Store
	adapter      Adapter
	timeout      time.Duration
	reclaimAfter time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
	logger       *slog.Logger
}

type Option func(*Worker)

// WithTimeout bounds one invocation; zero disables the budget.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) { w.timeout = d }
}

// WithReclaimAfter sets how long a processing job must sit untouched before a
// redelivery may take it over. Zero disables reclaiming.
func WithReclaimAfter(d time.Duration) Option {
	return func(w *Worker) { w.reclaimAfter = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWorker(jobs repository.JobRepository, docs repository.DocumentRepository, blobs blob.Store, adapter Adapter, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		jobs:         jobs,
		docs:         docs,
		blobs:        blobs,
		adapter:      adapter,
		timeout:      DefaultTimeout,
		reclaimAfter: DefaultReclaimAfter,
		now:          time.Now,
		logger:       logger,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// run is the per-invocation state threaded through the steps.
type run struct {
	id             uuid.UUID
	focus          string
	job            *entity.Job
	status         constants.JobStatus
	data           []byte
	content        llm.Content
	summaryRaw     []byte
	document       *entity.PlanningDocument
	analysisStatus constants.AnalysisStatus
	analysisErr    *string
	failure        string
	logger         *slog.Logger
}

// Handle processes one callback for jobID. focus overrides the hint stored on
// the job when non-empty. The returned error is non-nil only when the job
// could not be claimed because the store was unreachable, so the delivery
// should be retried; every other failure is recorded on the job.
func (w *Worker) Handle(ctx context.Context, jobID uuid.UUID, focus string) (res Result, err error) {
	start := w.now()
	res = Result{JobID: jobID}
	logger := w.logger.With("job_id", jobID)
	ctx = common.WithJobID(ctx, jobID.String())
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	r := &run{
		id:             jobID,
		focus:          focus,
		status:         constants.JobStatusQueued,
		analysisStatus: constants.AnalysisStatusPending,
		logger:         logger,
	}

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		logger.Error("pipeline.panic", "panic", rec, "steps", res.Steps)
		r.failure = fmt.Sprintf("unexpected error: %v", rec)
		res.Steps = append(res.Steps, StepFail)
		if ferr := w.fail(ctx, r); ferr != nil && !errors.Is(ferr, errOwnershipLost) {
			logger.Error("pipeline.fail.write_failed", "error", ferr)
		}
		res.Outcome = OutcomeFailed
		res.Status = constants.JobStatusFailed
		w.metrics.Finished(string(constants.JobStatusFailed), string(r.analysisStatus))
		err = nil
	}()

	step := StepClaim
	for step != StepDone {
		res.Steps = append(res.Steps, step)
		t := Transitions[step]
		if !t.Allows(r.status) {
			logger.Error("pipeline.transition.illegal", "step", step, "from", r.status, "to", t.To)
			res.Outcome = OutcomeAbandoned
			res.Status = r.status
			return res, nil
		}
		stepStart := w.now()
		stepErr := w.exec(ctx, step, r)
		w.metrics.ObserveStage(string(step), stepStart)

		if stepErr == nil {
			r.status = t.To
			step = t.Next
			continue
		}

		switch {
		case errors.Is(stepErr, errNotClaimed):
			res.Outcome = OutcomeSkipped
			if r.job != nil {
				res.Status = r.job.Status
				res.AnalysisStatus = r.job.AnalysisStatus
			}
			logger.Info("pipeline.claim.skipped", "status", res.Status)
			return res, nil
		case errors.Is(stepErr, errOwnershipLost):
			res.Outcome = OutcomeAbandoned
			logger.Warn("pipeline.ownership_lost", "step", step)
			return res, nil
		case step == StepClaim:
			logger.Error("pipeline.claim.failed", "error", stepErr)
			return res, stepErr
		case step == StepFail:
			logger.Error("pipeline.fail.write_failed", "error", stepErr)
			res.Outcome = OutcomeFailed
			return res, nil
		}

		w.metrics.StageError(string(step), string(common.KindOf(stepErr)))
		if step.Fatal() {
			r.failure = failureMessage(step, stepErr)
			logger.Warn("pipeline.step.failed", "step", step, "kind", common.KindOf(stepErr), "error", stepErr)
		} else {
			logger.Warn("pipeline.step.degraded", "step", step, "kind", common.KindOf(stepErr), "error", stepErr)
		}
		step = t.OnError
	}

	if r.failure != "" {
		res.Outcome = OutcomeFailed
		res.Status = constants.JobStatusFailed
	} else {
		res.Outcome = OutcomeCompleted
		res.Status = constants.JobStatusCompleted
		res.AnalysisStatus = r.analysisStatus
	}
	w.metrics.Finished(string(res.Status), string(r.analysisStatus))
	logger.Info("pipeline.done",
		"outcome", res.Outcome,
		"analysis_status", r.analysisStatus,
		"elapsed_ms", w.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

func (w *Worker) exec(ctx context.Context, step Step, r *run) error {
	switch step {
	case StepClaim:
		return w.claim(ctx, r)
	case StepDownload:
		return w.download(ctx, r)
	case StepSummarize:
		return w.summarize(ctx, r)
	case StepPersistSummary:
		return w.persistSummary(ctx, r)
	case StepAnalyze:
		return w.analyze(ctx, r)
	case StepFinalize:
		return w.finalize(ctx, r)
	case StepFail:
		return w.fail(ctx, r)
	}
	return fmt.Errorf("unknown step %q", step)
}

func (w *Worker) claim(ctx context.Context, r *run) error {
	var staleBefore time.Time
	if w.reclaimAfter > 0 {
		staleBefore = w.now().Add(-w.reclaimAfter)
	}
	job, claimed, err := w.jobs.Claim(ctx, r.id, staleBefore)
	if common.IsKind(err, common.KindNotFound) {
		return errNotClaimed
	}
	if err != nil {
		return err
	}
	r.job = job
	if !claimed {
		return errNotClaimed
	}
	if r.focus == "" {
		r.focus = job.FocusHint()
	}
	r.logger.Info("pipeline.claim.ok", "attempts", job.Attempts, "progress", job.Progress)
	return nil
}

func (w *Worker) download(ctx context.Context, r *run) error {
	data, err := w.blobs.Get(ctx, r.job.StoragePath)
	if errors.Is(err, blob.ErrNotFound) {
		return common.ContentError("document not found in storage")
	}
	if err != nil {
		return common.UpstreamError("could not download document", err)
	}
	r.data = data
	r.logger.Info("pipeline.download.ok", "bytes", len(data), "sha256", blob.ContentHash(data))
	return w.checkpoint(ctx, r, StepDownload)
}

func (w *Worker) summarize(ctx context.Context, r *run) error {
	content, err := w.adapter.Prepare(ctx, r.data, r.job.MimeType, r.focus)
	if err != nil {
		return err
	}
	r.content = content

	// A reclaimed job may already carry its summary; reuse it.
	if r.job.PlanningDocumentID != nil {
		doc, err := w.docs.GetSummary(ctx, *r.job.PlanningDocumentID)
		if err != nil {
			return fmt.Errorf("load existing summary: %w", err)
		}
		r.document = doc
		r.logger.Info("pipeline.summary.reused", "planning_document_id", doc.ID)
		return nil
	}

	_, raw, err := w.adapter.Summarize(ctx, content, r.job.FileName)
	if err != nil {
		return err
	}
	r.summaryRaw = raw
	return nil
}

func (w *Worker) persistSummary(ctx context.Context, r *run) error {
	if r.document != nil {
		return w.checkpoint(ctx, r, StepPersistSummary)
	}
	doc, err := w.docs.CreateSummaryAndLink(ctx, repository.NewDocument{
		JobID:     r.job.ID,
		UserID:    r.job.UserID,
		SiteID:    r.job.SiteID,
		FileName:  r.job.FileName,
		Summary:   r.summaryRaw,
		ModelName: w.adapter.ModelName(llm.ModeSummary),
	})
	if errors.Is(err, repository.ErrJobNotProcessing) {
		return errOwnershipLost
	}
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	r.document = doc
	r.logger.Info("pipeline.summary.saved", "planning_document_id", doc.ID)
	return nil
}

func (w *Worker) analyze(ctx context.Context, r *run) error {
	existing, err := w.docs.FindAnalysisByJob(ctx, r.job.ID)
	if err == nil {
		r.analysisStatus = constants.AnalysisStatusReady
		r.logger.Info("pipeline.analysis.reused", "analysis_id", existing.ID)
		return nil
	}
	if !common.IsKind(err, common.KindNotFound) {
		return w.analysisFailed(r, fmt.Errorf("look up analysis: %w", err))
	}

	content := r.content
	content.Summary = r.document.Summary
	analysis, raw, err := w.adapter.Analyze(ctx, content, r.job.FileName)
	if err != nil {
		return w.analysisFailed(r, err)
	}

	var risk *string
	if analysis.RiskLevel != nil {
		if level, ok := constants.CanonicalizeRisk(*analysis.RiskLevel); ok {
			s := string(level)
			risk = &s
		}
	}
	saved, err := w.docs.CreateAnalysis(ctx, repository.NewAnalysis{
		PlanningDocumentID: r.document.ID,
		JobID:              r.job.ID,
		Analysis:           raw,
		RiskLevel:          risk,
		ModelName:          w.adapter.ModelName(llm.ModeAnalysis),
	})
	if err != nil {
		return w.analysisFailed(r, fmt.Errorf("failed to save analysis: %w", err))
	}
	r.analysisStatus = constants.AnalysisStatusReady
	r.logger.Info("pipeline.analysis.saved", "analysis_id", saved.ID, "risk_level", risk)
	return nil
}

func (w *Worker) analysisFailed(r *run, err error) error {
	msg := failureMessage(StepAnalyze, err)
	r.analysisStatus = constants.AnalysisStatusError
	r.analysisErr = &msg
	return err
}

// finalize marks the job completed. Like fail, the write is detached from the
// invocation deadline so a budget spent in analysis cannot fail the job.
func (w *Worker) finalize(ctx context.Context, r *run) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	ok, err := w.jobs.Complete(ctx, r.job.ID, r.analysisStatus, r.analysisErr)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if !ok {
		return errOwnershipLost
	}
	return nil
}

// fail records r.failure. The write uses its own budget so an expired
// invocation deadline still leaves the job terminal.
func (w *Worker) fail(ctx context.Context, r *run) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	ok, err := w.jobs.MarkFailed(ctx, r.id, r.failure)
	if err != nil {
		return err
	}
	if !ok {
		return errOwnershipLost
	}
	return nil
}

func (w *Worker) checkpoint(ctx context.Context, r *run, step Step) error {
	t := Transitions[step]
	ok, err := w.jobs.UpdateProgress(ctx, r.id, t.Progress, t.Message)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if ok {
		return nil
	}
	// A reclaimed job can already be past this checkpoint; progress stays put.
	job, err := w.jobs.Get(ctx, r.id)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	if job.Status != constants.JobStatusProcessing {
		return errOwnershipLost
	}
	return nil
}

// failureMessage is what ends up in error_message / analysis_error. Content
// errors already read as a sentence for the user; the rest get the stage.
// Errors without an AppError in the chain get a fixed message and their text
// stays in the logs.
func failureMessage(step Step, err error) string {
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		return fallbackMessage(step)
	}
	msg := common.UserMessage(err)
	if common.IsKind(err, common.KindContent) {
		return msg
	}
	switch step {
	case StepDownload:
		return "download failed: " + msg
	case StepSummarize:
		return "summary extraction failed: " + msg
	case StepPersistSummary:
		return msg
	case StepAnalyze:
		return "analysis failed: " + msg
	}
	return fmt.Sprintf("%s failed: %s", step, msg)
}

func fallbackMessage(step Step) string {
	switch step {
	case StepDownload:
		return "download failed: could not download document"
	case StepSummarize:
		return "summary extraction failed: unexpected error"
	case StepPersistSummary:
		return "could not save summary"
	case StepAnalyze:
		return "analysis failed: unexpected error"
	case StepFinalize:
		return "could not complete job"
	}
	return fmt.Sprintf("%s failed: unexpected error", step)
}
