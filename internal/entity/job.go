package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/PlanSureAI/plansureai-risk-web-sub001/constants"
)

// Job represents a processing job for data transfer between layers.
type Job struct {
	ID                 uuid.UUID                `json:"id"`
	UserID             string                   `json:"user_id"`
	SiteID             string                   `json:"site_id"`
	StoragePath        string                   `json:"storage_path"`
	FileName           string                   `json:"file_name"`
	MimeType           string                   `json:"mime_type"`
	Focus              *string                  `json:"focus,omitempty"`
	Status             constants.JobStatus      `json:"status"`
	Progress           int                      `json:"progress"`
	ProgressMessage    string                   `json:"progress_message"`
	Attempts           int                      `json:"attempts"`
	ErrorMessage       *string                  `json:"error_message,omitempty"`
	AnalysisStatus     constants.AnalysisStatus `json:"analysis_status"`
	AnalysisError      *string                  `json:"analysis_error,omitempty"`
	PlanningDocumentID *uuid.UUID               `json:"planning_document_id,omitempty"`
	StartedAt          *time.Time               `json:"started_at,omitempty"`
	CompletedAt        *time.Time               `json:"completed_at,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// FocusHint returns the focus hint or "".
func (j *Job) FocusHint() string {
	if j == nil || j.Focus == nil {
		return ""
	}
	return *j.Focus
}
