package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/entity"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/metrics"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
)

const (
	DefaultStaleAfter = 30 * time.Minute
	defaultSweepBatch = 100
)

// Republisher puts a queued job back on the queue; *dispatch.Dispatcher
// satisfies it.
type Republisher interface {
	Republish(ctx context.Context, job *entity.Job) error
}

// SweepResult counts what one Sweep changed.
type SweepResult struct {
	TimedOut    int `json:"timed_out"`
	Republished int `json:"republished"`
}

// Reaper finishes jobs that no callback will ever finish: processing jobs
// whose worker died, and queued jobs whose message never arrived.
type Reaper struct {
	jobs        repository.JobRepository
	republisher Republisher
	staleAfter  time.Duration
	batch       int
	now         func() time.Time
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type ReaperOption func(*Reaper)

func WithStaleAfter(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

func WithSweepBatch(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

func WithReaperMetrics(m *metrics.Metrics) ReaperOption {
	return func(r *Reaper) { r.metrics = m }
}

// NewReaper builds a Reaper. A nil republisher disables republishing.
func NewReaper(jobs repository.JobRepository, republisher Republisher, logger *slog.Logger, opts ...ReaperOption) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		jobs:        jobs,
		republisher: republisher,
		staleAfter:  DefaultStaleAfter,
		batch:       defaultSweepBatch,
		now:         time.Now,
		logger:      logger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sweep runs one pass. Errors on individual jobs are logged and skipped;
// only a failed listing aborts the sweep.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	start := r.now()
	cutoff := start.Add(-r.staleAfter)

	stuck, err := r.jobs.ListStale(ctx, constants.JobStatusProcessing, cutoff, r.batch)
	if err != nil {
		return res, err
	}
	for _, job := range stuck {
		ok, err := r.jobs.TimeOut(ctx, job.ID, cutoff)
		if err != nil {
			r.logger.Error("reaper.timeout.failed", "job_id", job.ID, "error", err)
			continue
		}
		if ok {
			res.TimedOut++
			r.metrics.Finished(string(constants.JobStatusFailed), string(job.AnalysisStatus))
			r.logger.Warn("reaper.timed_out", "job_id", job.ID, "attempts", job.Attempts, "updated_at", job.UpdatedAt)
		}
	}

	if r.republisher != nil {
		waiting, err := r.jobs.ListStale(ctx, constants.JobStatusQueued, cutoff, r.batch)
		if err != nil {
			return res, err
		}
		for _, job := range waiting {
			if job.Attempts > 0 {
				continue
			}
			if err := r.republisher.Republish(ctx, job); err != nil {
				r.logger.Error("reaper.republish.failed", "job_id", job.ID, "error", err)
				continue
			}
			if _, err := r.jobs.Touch(ctx, job.ID); err != nil {
				r.logger.Warn("reaper.touch.failed", "job_id", job.ID, "error", err)
			}
			res.Republished++
			r.logger.Info("reaper.republished", "job_id", job.ID, "created_at", job.CreatedAt)
		}
	}

	r.logger.Info("reaper.sweep.ok",
		"timed_out", res.TimedOut,
		"republished", res.Republished,
		"elapsed_ms", r.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper.sweep.failed", "error", err)
			}
		}
	}
}
