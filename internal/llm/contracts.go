package llm

import (
	"context"
	"encoding/json"
)

// Mode selects which structured document the model is asked for.
type Mode string

const (
	ModeSummary  Mode = "summary"
	ModeAnalysis Mode = "analysis"
)

// Content is what the extraction adapter hands to the model: either text
// extracted from a PDF or an image payload with an optional focus hint.
type Content struct {
	Text      string
	Image     []byte
	ImageMIME string
	Focus     string
	// Summary carries the persisted summary JSON into analysis mode.
	Summary json.RawMessage
}

func (c Content) IsImage() bool { return len(c.Image) > 0 }

type Site struct {
	Address        *string `json:"address"`
	LocalAuthority *string `json:"localAuthority"`
	Postcode       *string `json:"postcode"`
	SiteArea       *string `json:"siteArea"`
	UPRN           *string `json:"uprn"`
}

type Proposal struct {
	Description     *string `json:"description"`
	DevelopmentType *string `json:"developmentType"`
	NumberOfUnits   *int    `json:"numberOfUnits"`
	UseClass        *string `json:"useClass"`
}

type Process struct {
	Stage                 *string `json:"stage"`
	ApplicationReference  *string `json:"applicationReference"`
	ValidationDate        *string `json:"validationDate"`
	DeterminationDeadline *string `json:"determinationDeadline"`
	Decision              *string `json:"decision"`
}

type Fee struct {
	Amount   *float64 `json:"amount"`
	Currency *string  `json:"currency"`
	Basis    *string  `json:"basis"`
}

type OtherFee struct {
	Name     *string  `json:"name"`
	Amount   *float64 `json:"amount"`
	Currency *string  `json:"currency"`
	Notes    *string  `json:"notes"`
}

type Fees struct {
	PlanningAuthorityFee Fee        `json:"planningAuthorityFee"`
	OtherFees            []OtherFee `json:"otherFees"`
	TotalEstimated       *float64   `json:"totalEstimated"`
}

type RequiredDocument struct {
	Name      *string `json:"name"`
	Mandatory *bool   `json:"mandatory"`
	Notes     *string `json:"notes"`
}

type KeyDate struct {
	Label *string `json:"label"`
	Date  *string `json:"date"`
}

// PlanningSummary is the structured extraction the rest of the product reads.
type PlanningSummary struct {
	Site              Site               `json:"site"`
	Proposal          Proposal           `json:"proposal"`
	Process           Process            `json:"process"`
	Fees              Fees               `json:"fees"`
	RequiredDocuments []RequiredDocument `json:"requiredDocuments"`
	KeyDates          []KeyDate          `json:"keyDates"`
	Confidence        *float64           `json:"confidence"`
}

type KeyIssue struct {
	Title    *string `json:"title"`
	Detail   *string `json:"detail"`
	Severity *string `json:"severity"`
}

type PolicyReference struct {
	Reference *string `json:"reference"`
	Title     *string `json:"title"`
	Relevance *string `json:"relevance"`
}

type RecommendedAction struct {
	Action   *string `json:"action"`
	Priority *string `json:"priority"`
	Owner    *string `json:"owner"`
}

// PlanningAnalysis is the risk assessment derived from a planning document.
type PlanningAnalysis struct {
	Headline           *string             `json:"headline"`
	RiskLevel          *string             `json:"riskLevel"`
	KeyIssues          []KeyIssue          `json:"keyIssues"`
	PolicyReferences   []PolicyReference   `json:"policyReferences"`
	RecommendedActions []RecommendedAction `json:"recommendedActions"`
	TimelineNotes      []string            `json:"timelineNotes"`
}

// Extractor is the interface the pipeline depends on. Implementations are
// pure with respect to pipeline state: one model call, no persistence.
// The raw JSON returned alongside the typed value is what gets stored.
type Extractor interface {
	Summarize(ctx context.Context, content Content, fileName string) (PlanningSummary, []byte, error)
	Analyze(ctx context.Context, content Content, fileName string) (PlanningAnalysis, []byte, error)
	ModelName(mode Mode) string
}
