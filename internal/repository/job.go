package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/entity"
)

// NewJob is the input for JobRepository.Create.
type NewJob struct {
	ID          uuid.UUID
	UserID      string
	SiteID      string
	StoragePath string
	FileName    string
	MimeType    string
	Focus       *string
}

// JobFilter narrows JobRepository.List. Zero values match everything.
type JobFilter struct {
	SiteID string
	UserID string
	Status constants.JobStatus
	Limit  int
}

// JobRepository persists processing jobs. Every mutation is a conditional
// update on the current status, so a stale writer changes nothing and
// reports false instead of regressing the row.
type JobRepository interface {
	Create(ctx context.Context, in NewJob) (*entity.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	// Claim moves a queued job (or a processing job last touched before staleBefore)
	// into processing and counts the attempt. claimed=false means another
	// invocation owns it or it is already terminal.
	Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (job *entity.Job, claimed bool, err error)
	// UpdateProgress never lowers progress and only touches processing jobs.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) (bool, error)
	// Complete requires a linked summary; analysisErr is recorded when status is error.
	Complete(ctx context.Context, id uuid.UUID, analysis constants.AnalysisStatus, analysisErr *string) (bool, error)
	// TimeOut fails a processing job whose updated_at is older than staleBefore.
	TimeOut(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error)
	// Touch bumps updated_at on a queued job, e.g. after republishing it.
	Touch(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, f JobFilter) ([]*entity.Job, error)
	ListStale(ctx context.Context, status constants.JobStatus, staleBefore time.Time, limit int) ([]*entity.Job, error)
}

var jobColumns = []string{
	"id", "user_id", "site_id", "storage_path", "file_name", "mime_type", "focus",
	"status", "progress", "progress_message", "attempts", "error_message",
	"analysis_status", "analysis_error", "planning_document_id",
	"started_at", "completed_at", "created_at", "updated_at",
}

type jobRepo struct {
	drv  *entsql.Driver
	log  *slog.Logger
	opts options
}

func NewJobRepository(drv *entsql.Driver, log *slog.Logger, opts ...Option) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{drv: drv, log: log, opts: buildOptions(opts)}
}

func (r *jobRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *jobRepo) now() time.Time {
	return stamp(r.opts.now())
}

func (r *jobRepo) Create(ctx context.Context, in NewJob) (*entity.Job, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := r.now()
	query, args := r.builder().Insert(jobsTable).
		Columns("id", "user_id", "site_id", "storage_path", "file_name", "mime_type", "focus",
			"status", "progress", "progress_message", "attempts", "analysis_status",
			"created_at", "updated_at").
		Values(in.ID, in.UserID, in.SiteID, in.StoragePath, in.FileName, in.MimeType, nullString(in.Focus),
			string(constants.JobStatusQueued), constants.ProgressQueued, constants.MessageQueued, 0,
			string(constants.AnalysisStatusPending), now, now).
		Query()
	if _, err := r.drv.DB().ExecContext(ctx, query, args...); err != nil {
		r.log.Error("processing_job create failed", "job_id", in.ID, "site_id", in.SiteID, "err", err)
		return nil, fmt.Errorf("insert job: %w", err)
	}
	r.log.Info("processing_job created", "job_id", in.ID, "site_id", in.SiteID, "mime_type", in.MimeType)
	return &entity.Job{
		ID:              in.ID,
		UserID:          in.UserID,
		SiteID:          in.SiteID,
		StoragePath:     in.StoragePath,
		FileName:        in.FileName,
		MimeType:        in.MimeType,
		Focus:           in.Focus,
		Status:          constants.JobStatusQueued,
		Progress:        constants.ProgressQueued,
		ProgressMessage: constants.MessageQueued,
		AnalysisStatus:  constants.AnalysisStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *jobRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return getJob(ctx, r.drv.DB(), r.builder(), id)
}

func getJob(ctx context.Context, q querier, b *entsql.DialectBuilder, id uuid.UUID) (*entity.Job, error) {
	query, args := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	job, err := scanJob(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound(fmt.Sprintf("job %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (r *jobRepo) Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*entity.Job, bool, error) {
	now := r.now()
	b := r.builder()

	// Fresh claim: queued -> processing.
	query, args := b.Update(jobsTable).
		Set("status", string(constants.JobStatusProcessing)).
		Set("progress", constants.ProgressDownloading).
		Set("progress_message", constants.MessageDownloading).
		Add("attempts", 1).
		Set("started_at", now).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusQueued)),
		)).
		Query()
	res, err := r.drv.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("processing_job claim failed", "job_id", id, "err", err)
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return nil, false, err
	}

	// Reclaim: a processing job nobody has touched since staleBefore.
	// Progress is left alone so it never goes backwards.
	if !ok && !staleBefore.IsZero() {
		query, args = b.Update(jobsTable).
			Add("attempts", 1).
			Set("updated_at", now).
			Where(entsql.And(
				entsql.EQ("id", id),
				entsql.EQ("status", string(constants.JobStatusProcessing)),
				entsql.LT("updated_at", stamp(staleBefore)),
			)).
			Query()
		res, err = r.drv.DB().ExecContext(ctx, query, args...)
		if err != nil {
			r.log.Error("processing_job reclaim failed", "job_id", id, "err", err)
			return nil, false, fmt.Errorf("reclaim job: %w", err)
		}
		if ok, err = affected(res); err != nil {
			return nil, false, err
		}
		if ok {
			r.log.Warn("processing_job reclaimed", "job_id", id, "stale_before", staleBefore)
		}
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ok {
		r.log.Info("processing_job claimed", "job_id", id, "attempts", job.Attempts)
	}
	return job, ok, nil
}

func (r *jobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, message string) (bool, error) {
	query, args := r.builder().Update(jobsTable).
		Set("progress", progress).
		Set("progress_message", message).
		Set("updated_at", r.now()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusProcessing)),
			entsql.LTE("progress", progress),
		)).
		Query()
	return r.exec(ctx, "progress", id, query, args)
}

func (r *jobRepo) MarkFailed(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	now := r.now()
	query, args := r.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("progress", constants.ProgressDone).
		Set("progress_message", constants.MessageProcessingFailed).
		Set("error_message", truncateMessage(message)).
		Set("completed_at", now).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", string(constants.JobStatusQueued), string(constants.JobStatusProcessing)),
		)).
		Query()
	ok, err := r.exec(ctx, "failed", id, query, args)
	if ok {
		r.log.Warn("processing_job finished (failed)", "job_id", id, "error", message)
	}
	return ok, err
}

func (r *jobRepo) Complete(ctx context.Context, id uuid.UUID, analysis constants.AnalysisStatus, analysisErr *string) (bool, error) {
	message := constants.MessageAnalysisComplete
	if analysis != constants.AnalysisStatusReady {
		message = constants.MessageSummaryReady
	}
	var errText any
	if analysisErr != nil {
		errText = truncateMessage(*analysisErr)
	}
	now := r.now()
	query, args := r.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusCompleted)).
		Set("progress", constants.ProgressDone).
		Set("progress_message", message).
		Set("analysis_status", string(analysis)).
		Set("analysis_error", errText).
		Set("completed_at", now).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusProcessing)),
			entsql.NotNull("planning_document_id"),
		)).
		Query()
	ok, err := r.exec(ctx, "completed", id, query, args)
	if ok {
		r.log.Info("processing_job finished (completed)", "job_id", id, "analysis_status", analysis)
	}
	return ok, err
}

func (r *jobRepo) TimeOut(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	now := r.now()
	query, args := r.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("progress", constants.ProgressDone).
		Set("progress_message", constants.MessageProcessingFailed).
		Set("error_message", constants.MessageProcessingTimeout).
		Set("completed_at", now).
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusProcessing)),
			entsql.LT("updated_at", stamp(staleBefore)),
		)).
		Query()
	return r.exec(ctx, "timeout", id, query, args)
}

func (r *jobRepo) Touch(ctx context.Context, id uuid.UUID) (bool, error) {
	query, args := r.builder().Update(jobsTable).
		Set("updated_at", r.now()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusQueued)),
		)).
		Query()
	return r.exec(ctx, "touch", id, query, args)
}

func (r *jobRepo) List(ctx context.Context, f JobFilter) ([]*entity.Job, error) {
	b := r.builder()
	sel := b.Select(jobColumns...).From(b.Table(jobsTable))
	var preds []*entsql.Predicate
	if f.SiteID != "" {
		preds = append(preds, entsql.EQ("site_id", f.SiteID))
	}
	if f.UserID != "" {
		preds = append(preds, entsql.EQ("user_id", f.UserID))
	}
	if f.Status != "" {
		preds = append(preds, entsql.EQ("status", string(f.Status)))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	sel.OrderBy(entsql.Desc("created_at"))
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	query, args := sel.Query()
	return r.queryJobs(ctx, query, args)
}

func (r *jobRepo) ListStale(ctx context.Context, status constants.JobStatus, staleBefore time.Time, limit int) ([]*entity.Job, error) {
	b := r.builder()
	sel := b.Select(jobColumns...).
		From(b.Table(jobsTable)).
		Where(entsql.And(
			entsql.EQ("status", string(status)),
			entsql.LT("updated_at", stamp(staleBefore)),
		)).
		OrderBy("updated_at")
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()
	return r.queryJobs(ctx, query, args)
}

func (r *jobRepo) queryJobs(ctx context.Context, query string, args []any) ([]*entity.Job, error) {
	rows, err := r.drv.DB().QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("processing_job list failed", "err", err)
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *jobRepo) exec(ctx context.Context, op string, id uuid.UUID, query string, args []any) (bool, error) {
	res, err := r.drv.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("processing_job update failed", "op", op, "job_id", id, "err", err)
		return false, fmt.Errorf("update job (%s): %w", op, err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, err
	}
	if !ok {
		r.log.Debug("processing_job update skipped", "op", op, "job_id", id)
	}
	return ok, nil
}

func scanJob(s rowScanner) (*entity.Job, error) {
	var (
		j           entity.Job
		status      string
		analysis    string
		focus       sql.NullString
		errMsg      sql.NullString
		analysisErr sql.NullString
		docID       uuid.NullUUID
		started     sql.NullTime
		completed   sql.NullTime
		progress    int64
		attempts    int64
		created     time.Time
		updated     time.Time
	)
	err := s.Scan(
		&j.ID, &j.UserID, &j.SiteID, &j.StoragePath, &j.FileName, &j.MimeType, &focus,
		&status, &progress, &j.ProgressMessage, &attempts, &errMsg,
		&analysis, &analysisErr, &docID,
		&started, &completed, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	j.Status = constants.JobStatus(status)
	j.AnalysisStatus = constants.AnalysisStatus(analysis)
	j.Progress = int(progress)
	j.Attempts = int(attempts)
	j.Focus = strPtr(focus)
	j.ErrorMessage = strPtr(errMsg)
	j.AnalysisError = strPtr(analysisErr)
	j.PlanningDocumentID = uuidPtr(docID)
	j.StartedAt = timePtr(started)
	j.CompletedAt = timePtr(completed)
	j.CreatedAt = created.UTC()
	j.UpdatedAt = updated.UTC()
	return &j, nil
}
