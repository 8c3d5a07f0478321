package repository

import (
	"context"
	"database/sql"
	"encoding/json"
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

// ErrJobNotProcessing is returned when a summary is persisted for a job that
// another invocation already finished.
var ErrJobNotProcessing = errors.New("job is no longer processing")

type NewDocument struct {
	JobID     uuid.UUID
	UserID    string
	SiteID    string
	FileName  string
	Summary   json.RawMessage
	ModelName string
}

type NewAnalysis struct {
	PlanningDocumentID uuid.UUID
	JobID              uuid.UUID
	Analysis           json.RawMessage
	RiskLevel          *string
	ModelName          string
}

// DocumentRepository stores the append-only summary and analysis artifacts.
type DocumentRepository interface {
	// CreateSummaryAndLink inserts the summary and points the job at it in one
	// transaction, advancing the job's progress to the analysis checkpoint.
	CreateSummaryAndLink(ctx context.Context, in NewDocument) (*entity.PlanningDocument, error)
	GetSummary(ctx context.Context, id uuid.UUID) (*entity.PlanningDocument, error)
	CreateAnalysis(ctx context.Context, in NewAnalysis) (*entity.PlanningAnalysis, error)
	// GetAnalysisByDocument returns the newest analysis for a summary.
	GetAnalysisByDocument(ctx context.Context, documentID uuid.UUID) (*entity.PlanningAnalysis, error)
	FindAnalysisByJob(ctx context.Context, jobID uuid.UUID) (*entity.PlanningAnalysis, error)
	CountByJob(ctx context.Context, jobID uuid.UUID) (summaries, analyses int, err error)
}

var (
	documentColumns = []string{"id", "job_id", "user_id", "site_id", "file_name", "summary", "model_name", "created_at"}
	analysisColumns = []string{"id", "planning_document_id", "job_id", "analysis", "risk_level", "model_name", "created_at"}
)

type documentRepo struct {
	drv  *entsql.Driver
	log  *slog.Logger
	opts options
}

func NewDocumentRepository(drv *entsql.Driver, log *slog.Logger, opts ...Option) DocumentRepository {
	if log == nil {
		log = slog.Default()
	}
	return &documentRepo{drv: drv, log: log, opts: buildOptions(opts)}
}

func (r *documentRepo) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *documentRepo) CreateSummaryAndLink(ctx context.Context, in NewDocument) (*entity.PlanningDocument, error) {
	doc := &entity.PlanningDocument{
		ID:        uuid.New(),
		JobID:     in.JobID,
		UserID:    in.UserID,
		SiteID:    in.SiteID,
		FileName:  in.FileName,
		Summary:   in.Summary,
		ModelName: in.ModelName,
		CreatedAt: stamp(r.opts.now()),
	}

	tx, err := r.drv.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b := r.builder()
	query, args := b.Insert(documentsTable).
		Columns(documentColumns...).
		Values(doc.ID, doc.JobID, doc.UserID, doc.SiteID, doc.FileName, string(doc.Summary), doc.ModelName, doc.CreatedAt).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.log.Error("planning_document create failed", "job_id", in.JobID, "err", err)
		return nil, fmt.Errorf("insert summary: %w", err)
	}

	query, args = b.Update(jobsTable).
		Set("planning_document_id", doc.ID).
		Set("progress", constants.ProgressAnalyzing).
		Set("progress_message", constants.MessageAnalyzing).
		Set("updated_at", doc.CreatedAt).
		Where(entsql.And(
			entsql.EQ("id", in.JobID),
			entsql.EQ("status", string(constants.JobStatusProcessing)),
		)).
		Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("planning_document link failed", "job_id", in.JobID, "err", err)
		return nil, fmt.Errorf("link summary: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit summary: %w", err)
	}
	r.log.Info("planning_document created", "job_id", in.JobID, "planning_document_id", doc.ID)
	return doc, nil
}

func (r *documentRepo) GetSummary(ctx context.Context, id uuid.UUID) (*entity.PlanningDocument, error) {
	return r.oneDocument(ctx, entsql.EQ("id", id), fmt.Sprintf("planning document %s not found", id))
}

func (r *documentRepo) oneDocument(ctx context.Context, p *entsql.Predicate, notFound string) (*entity.PlanningDocument, error) {
	b := r.builder()
	query, args := b.Select(documentColumns...).
		From(b.Table(documentsTable)).
		Where(p).
		OrderBy(entsql.Desc("created_at")).
		Limit(1).
		Query()

	var (
		d       entity.PlanningDocument
		summary []byte
		created time.Time
	)
	err := r.drv.DB().QueryRowContext(ctx, query, args...).
		Scan(&d.ID, &d.JobID, &d.UserID, &d.SiteID, &d.FileName, &summary, &d.ModelName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound(notFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get planning document: %w", err)
	}
	d.Summary = json.RawMessage(summary)
	d.CreatedAt = created.UTC()
	return &d, nil
}

func (r *documentRepo) CreateAnalysis(ctx context.Context, in NewAnalysis) (*entity.PlanningAnalysis, error) {
	a := &entity.PlanningAnalysis{
		ID:                 uuid.New(),
		PlanningDocumentID: in.PlanningDocumentID,
		JobID:              in.JobID,
		Analysis:           in.Analysis,
		RiskLevel:          in.RiskLevel,
		ModelName:          in.ModelName,
		CreatedAt:          stamp(r.opts.now()),
	}
	query, args := r.builder().Insert(analysesTable).
		Columns(analysisColumns...).
		Values(a.ID, a.PlanningDocumentID, a.JobID, string(a.Analysis), nullString(a.RiskLevel), a.ModelName, a.CreatedAt).
		Query()
	if _, err := r.drv.DB().ExecContext(ctx, query, args...); err != nil {
		r.log.Error("planning_analysis create failed", "job_id", in.JobID, "err", err)
		return nil, fmt.Errorf("insert analysis: %w", err)
	}
	r.log.Info("planning_analysis created", "job_id", in.JobID, "planning_document_id", in.PlanningDocumentID)
	return a, nil
}

func (r *documentRepo) GetAnalysisByDocument(ctx context.Context, documentID uuid.UUID) (*entity.PlanningAnalysis, error) {
	return r.oneAnalysis(ctx, entsql.EQ("planning_document_id", documentID), fmt.Sprintf("no analysis for planning document %s", documentID))
}

func (r *documentRepo) FindAnalysisByJob(ctx context.Context, jobID uuid.UUID) (*entity.PlanningAnalysis, error) {
	return r.oneAnalysis(ctx, entsql.EQ("job_id", jobID), fmt.Sprintf("no analysis for job %s", jobID))
}

func (r *documentRepo) oneAnalysis(ctx context.Context, p *entsql.Predicate, notFound string) (*entity.PlanningAnalysis, error) {
	b := r.builder()
	query, args := b.Select(analysisColumns...).
		From(b.Table(analysesTable)).
		Where(p).
		OrderBy(entsql.Desc("created_at")).
		Limit(1).
		Query()

	var (
		a        entity.PlanningAnalysis
		analysis []byte
		risk     sql.NullString
		created  time.Time
	)
	err := r.drv.DB().QueryRowContext(ctx, query, args...).
		Scan(&a.ID, &a.PlanningDocumentID, &a.JobID, &analysis, &risk, &a.ModelName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound(notFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get planning analysis: %w", err)
	}
	a.Analysis = json.RawMessage(analysis)
	a.RiskLevel = strPtr(risk)
	a.CreatedAt = created.UTC()
	return &a, nil
}

func (r *documentRepo) CountByJob(ctx context.Context, jobID uuid.UUID) (int, int, error) {
	count := func(table string) (int, error) {
		b := r.builder()
		query, args := b.Select(entsql.Count("*")).
			From(b.Table(table)).
			Where(entsql.EQ("job_id", jobID)).
			Query()
		var n int
		if err := r.drv.DB().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", table, err)
		}
		return n, nil
	}
	summaries, err := count(documentsTable)
	if err != nil {
		return 0, 0, err
	}
	analyses, err := count(analysesTable)
	if err != nil {
		return 0, 0, err
	}
	return summaries, analyses, nil
}
