package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/common"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/entity"
	"github.com/PlanSureAI/plansureai-risk-web-sub001/internal/repository"
)

const sheet = "Jobs"

// Filter selects jobs for an export. From/To are inclusive calendar days on
// created_at; if only From is provided the window ends today.
type Filter struct {
	SiteID string
	UserID string
	Status constants.JobStatus
	From   *time.Time
	To     *time.Time
	Limit  int
}

// Service is a tiny façade over the repositories that produces XLSX bytes for audit exports.
type Service struct {
	jobs   repository.JobRepository
	docs   repository.DocumentRepository
	now    func() time.Time
	logger *slog.Logger
}

func NewService(jobs repository.JobRepository, docs repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, docs: docs, now: time.Now, logger: logger}
}

var headers = []string{
	"Job ID",
	"Site",
	"File",
	"Status",
	"Progress",
	"Analysis Status",
	"Risk Level",
	"Attempts",
	"Error",
	"Created At",
	"Started At",
	"Completed At",
}

// JobsXLSX returns a workbook with one row per matching job, newest first.
func (s *Service) JobsXLSX(ctx context.Context, filter Filter) ([]byte, error) {
	start := time.Now()

	fromDate, toDate := s.window(filter.From, filter.To)
	if fromDate != nil && toDate != nil && toDate.Before(*fromDate) {
		return nil, common.ValidationError("to date must not be before from date")
	}

	jobs, err := s.jobs.List(ctx, repository.JobFilter{
		SiteID: filter.SiteID,
		UserID: filter.UserID,
		Status: filter.Status,
		Limit:  filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range jobs {
		if !inWindow(j.CreatedAt, fromDate, toDate) {
			continue
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, j.ID.String())
		write(2, j.SiteID)
		write(3, j.FileName)
		write(4, string(j.Status))
		write(5, j.Progress)
		write(6, string(j.AnalysisStatus))
		write(7, s.riskLevel(ctx, j))
		write(8, j.Attempts)
		write(9, truncate(errorText(j), 140))
		write(10, j.CreatedAt.UTC().Format(time.RFC3339))
		write(11, formatTime(j.StartedAt))
		write(12, formatTime(j.CompletedAt))
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "C", 28) // site, file
	_ = f.SetColWidth(sheet, "D", "H", 14)
	_ = f.SetColWidth(sheet, "I", "I", 60) // error
	_ = f.SetColWidth(sheet, "J", "L", 22) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"site_id", filter.SiteID,
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) riskLevel(ctx context.Context, j *entity.Job) string {
	if j.AnalysisStatus != constants.AnalysisStatusReady {
		return ""
	}
	a, err := s.docs.FindAnalysisByJob(ctx, j.ID)
	if err != nil {
		s.logger.Warn("export.risk_level.lookup_failed", "job_id", j.ID, "err", err)
		return ""
	}
	if a.RiskLevel == nil {
		return ""
	}
	return *a.RiskLevel
}

// window normalises the date bounds to UTC calendar days.
func (s *Service) window(from, to *time.Time) (*time.Time, *time.Time) {
	var fromDate, toDate *time.Time
	if from != nil {
		f := dateOnly(*from)
		fromDate = &f
	}
	if to != nil {
		t := dateOnly(*to)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := dateOnly(s.now())
		toDate = &t
	}
	return fromDate, toDate
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func inWindow(created time.Time, from, to *time.Time) bool {
	day := dateOnly(created)
	if from != nil && day.Before(*from) {
		return false
	}
	if to != nil && day.After(*to) {
		return false
	}
	return true
}

func errorText(j *entity.Job) string {
	if j.ErrorMessage != nil {
		return *j.ErrorMessage
	}
	if j.AnalysisError != nil {
		return *j.AnalysisError
	}
	return ""
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
