// Package status answers polling clients from the job store. It never writes.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/entity"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
)

var (
	// ErrAnalysisPending: the summary exists but its analysis has not been written yet.
	ErrAnalysisPending = errors.New("analysis not yet available")
	// ErrAnalysisUnavailable: analysis failed for this summary and will never exist.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
)

// AnalysisError carries the recorded reason behind ErrAnalysisUnavailable.
type AnalysisError struct {
	Reason string
}

func (e *AnalysisError) Error() string {
	if e.Reason == "" {
		return ErrAnalysisUnavailable.Error()
	}
	return ErrAnalysisUnavailable.Error() + ": " + e.Reason
}

func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisUnavailable }

type Reader struct {
	jobs   repository.JobRepository
	docs   repository.DocumentRepository
	logger *slog.Logger
}

func NewReader(jobs repository.JobRepository, docs repository.DocumentRepository, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{jobs: jobs, docs: docs, logger: logger}
}

func (r *Reader) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return r.jobs.Get(ctx, id)
}

func (r *Reader) GetSummary(ctx context.Context, documentID uuid.UUID) (*entity.PlanningDocument, error) {
	return r.docs.GetSummary(ctx, documentID)
}

// GetAnalysis returns the analysis for a summary. When none is stored the
// owning job decides between ErrAnalysisPending and an *AnalysisError.
func (r *Reader) GetAnalysis(ctx context.Context, documentID uuid.UUID) (*entity.PlanningAnalysis, error) {
	analysis, err := r.docs.GetAnalysisByDocument(ctx, documentID)
	if err == nil {
		return analysis, nil
	}
	if !common.IsKind(err, common.KindNotFound) {
		return nil, err
	}

	doc, err := r.docs.GetSummary(ctx, documentID)
	if err != nil {
		return nil, err
	}
	job, err := r.jobs.Get(ctx, doc.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job for document %s: %w", documentID, err)
	}

	switch {
	case job.AnalysisStatus == constants.AnalysisStatusError:
		reason := ""
		if job.AnalysisError != nil {
			reason = *job.AnalysisError
		}
		return nil, &AnalysisError{Reason: reason}
	case job.Status == constants.JobStatusFailed:
		// The job died after the summary was stored; nothing will write the analysis.
		reason := ""
		if job.ErrorMessage != nil {
			reason = *job.ErrorMessage
		}
		return nil, &AnalysisError{Reason: reason}
	}
	r.logger.Debug("status.analysis.pending", "planning_document_id", documentID, "job_id", job.ID)
	return nil, ErrAnalysisPending
}
