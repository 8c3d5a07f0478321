package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PlanningDocument is the persisted summary artifact. Rows are append-only.
type PlanningDocument struct {
	ID        uuid.UUID       `json:"id"`
	JobID     uuid.UUID       `json:"job_id"`
	UserID    string          `json:"user_id"`
	SiteID    string          `json:"site_id"`
	FileName  string          `json:"file_name"`
	Summary   json.RawMessage `json:"summary"`
	ModelName string          `json:"model_name"`
	CreatedAt time.Time       `json:"created_at"`
}

// PlanningAnalysis is the persisted risk analysis for a PlanningDocument.
type PlanningAnalysis struct {
	ID                 uuid.UUID       `json:"id"`
	PlanningDocumentID uuid.UUID       `json:"planning_document_id"`
	JobID              uuid.UUID       `json:"job_id"`
	Analysis           json.RawMessage `json:"analysis"`
	RiskLevel          *string         `json:"risk_level,omitempty"`
	ModelName          string          `json:"model_name"`
	CreatedAt          time.Time       `json:"created_at"`
}
