// Package dispatch accepts uploads: it stores the document, records the job
// and wakes the worker through the queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/blob"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/entity"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/metrics"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/queue"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
)

const maxFocusChars = 500

type EnqueueRequest struct {
	File     []byte
	OwnerID  string
	SiteID   string
	FileName string
	MimeType string
	Focus    string
}

type Dispatcher struct {
	blobs       blob.Store
	jobs        repository.JobRepository
	publisher   queue.Publisher
	callbackURL string
	maxBytes    int64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Dispatcher)

func WithMaxUploadBytes(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBytes = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(blobs blob.Store, jobs repository.JobRepository, publisher queue.Publisher, callbackURL string, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		blobs:       blobs,
		jobs:        jobs,
		publisher:   publisher,
		callbackURL: callbackURL,
		maxBytes:    constants.DefaultMaxUploadBytes,
		logger:      logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Enqueue validates the upload, stores it, creates a queued job and publishes
// the processing message. Validation failures create no state. A failed
// publish marks the job failed so it is never left queued with nothing to
// wake it.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	start := time.Now()
	mimeType, err := d.validate(req)
	if err != nil {
		d.logger.Info("dispatch.enqueue.rejected", "site_id", req.SiteID, "file", req.FileName, "error", err)
		return uuid.Nil, err
	}

	jobID := uuid.New()
	path := blob.DocumentPath(req.SiteID, jobID.String(), req.FileName)
	l := d.logger.With("job_id", jobID, "site_id", req.SiteID)

	if err := d.blobs.Put(ctx, path, req.File, mimeType); err != nil {
		l.Error("dispatch.enqueue.blob_put_failed", "path", path, "error", err)
		return uuid.Nil, common.UpstreamError("store document", err)
	}

	var focus *string
	if f := strings.TrimSpace(req.Focus); f != "" {
		focus = &f
	}
	job, err := d.jobs.Create(ctx, repository.NewJob{
		ID:          jobID,
		UserID:      req.OwnerID,
		SiteID:      req.SiteID,
		StoragePath: path,
		FileName:    req.FileName,
		MimeType:    mimeType,
		Focus:       focus,
	})
	if err != nil {
		l.Error("dispatch.enqueue.job_create_failed", "error", err)
		return uuid.Nil, common.UpstreamError("create processing job", err)
	}

	if err := d.publish(ctx, job); err != nil {
		msg := fmt.Sprintf("failed to enqueue processing job: %v", err)
		if _, mErr := d.jobs.MarkFailed(context.WithoutCancel(ctx), jobID, msg); mErr != nil {
			l.Error("dispatch.enqueue.compensate_failed", "error", mErr)
		}
		l.Error("dispatch.enqueue.publish_failed", "error", err)
		return jobID, common.UpstreamError("publish processing job", err)
	}

	d.metrics.Enqueued()
	l.Info("dispatch.enqueue.ok",
		"path", path,
		"mime", mimeType,
		"bytes", len(req.File),
		"sha256", blob.ContentHash(req.File),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return jobID, nil
}

// Republish wakes an existing queued job again; used by the reaper for jobs
// whose message never arrived.
func (d *Dispatcher) Republish(ctx context.Context, job *entity.Job) error {
	if job.Status != constants.JobStatusQueued {
		return fmt.Errorf("job %s is %s, not queued", job.ID, job.Status)
	}
	return d.publish(ctx, job)
}

func (d *Dispatcher) publish(ctx context.Context, job *entity.Job) error {
	return d.publisher.Publish(ctx, queue.Message{
		JobID:       job.ID,
		Focus:       job.FocusHint(),
		CallbackURL: d.callbackURL,
		PublishedAt: time.Now().UTC(),
	})
}

func (d *Dispatcher) validate(req EnqueueRequest) (string, error) {
	mimeType := DetectMIME(req.MimeType, req.FileName, req.File)

	v := common.NewValidator()
	v.Field("owner_id", req.OwnerID, common.Required, common.MaxLengthRule(128))
	v.Field("site_id", req.SiteID, common.Required, common.MaxLengthRule(128))
	v.Field("file_name", req.FileName, common.Required, common.MaxLengthRule(255))
	v.Field("file", req.File, common.Required, common.MaxBytes(d.maxBytes))
	v.Field("focus", req.Focus, common.MaxLengthRule(maxFocusChars))
	if !constants.IsSupportedUpload(mimeType) {
		v.Field("mime_type", mimeType, common.Fail("must be application/pdf or a png, jpeg, webp or gif image"))
	}
	return mimeType, v.Error()
}

// DetectMIME trusts a specific declared type. An empty or generic one is
// resolved from the content, then from the file extension.
func DetectMIME(declared, fileName string, data []byte) string {
	mt := constants.NormalizeMIME(declared)
	if mt != "" && mt != constants.MIMEOctetStream {
		return mt
	}
	if len(data) > 0 {
		if sniffed := constants.NormalizeMIME(http.DetectContentType(data)); constants.IsSupportedUpload(sniffed) {
			return sniffed
		}
	}
	if byExt := constants.MIMEFromFileName(fileName); byExt != "" {
		return byExt
	}
	if mt == "" {
		return constants.MIMEOctetStream
	}
	return mt
}
