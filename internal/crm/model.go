// Package crm holds the sales opportunity domain: persistence through the
// stored functions, a cached data-access port, per-screen list and board
// controllers and the JSON endpoints that drive them.
package crm

import (
	"time"

	"github.com/odyssey-erp/odyssey-crm/internal/pipeline"
)

// Funnel stages, in board order.
const (
	StageProspecting   pipeline.Stage = "prospecting"
	StageQualification pipeline.Stage = "qualification"
	StageProposal      pipeline.Stage = "proposal"
	StageNegotiation   pipeline.Stage = "negotiation"
	StageClosing       pipeline.Stage = "closing"
)

// Stages is the fixed funnel order rendered as board columns.
var Stages = pipeline.MustStages(
	StageProspecting,
	StageQualification,
	StageProposal,
	StageNegotiation,
	StageClosing,
)

var stageLabels = map[pipeline.Stage]string{
	StageProspecting:   "Prospecting",
	StageQualification: "Qualification",
	StageProposal:      "Proposal",
	StageNegotiation:   "Negotiation",
	StageClosing:       "Closing",
}

// StageLabel returns the display name of a stage.
func StageLabel(s pipeline.Stage) string {
	if label, ok := stageLabels[s]; ok {
		return label
	}
	return string(s)
}

// Status is the commercial outcome of an opportunity.
type Status string

const (
	StatusOpen      Status = "open"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusWon, StatusLost, StatusCancelled:
		return true
	}
	return false
}

// Opportunity is a potential sale tracked through the funnel.
type Opportunity struct {
	ID                string            `json:"id" db:"id"`
	TenantID          string            `json:"tenant_id" db:"tenant_id"`
	Title             string            `json:"title" db:"title"`
	Value             float64           `json:"value" db:"value"`
	Stage             pipeline.Stage    `json:"stage" db:"stage"`
	Status            Status            `json:"status" db:"status"`
	ExpectedCloseDate *time.Time        `json:"expected_close_date,omitempty" db:"expected_close_date"`
	ActualCloseDate   *time.Time        `json:"actual_close_date,omitempty" db:"actual_close_date"`
	CustomerID        string            `json:"customer_id" db:"customer_id"`
	SellerID          *string           `json:"seller_id,omitempty" db:"seller_id"`
	Notes             *string           `json:"notes,omitempty" db:"notes"`
	Items             []OpportunityItem `json:"items" db:"-"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// OpportunityItem is a product or service line quoted on an opportunity.
type OpportunityItem struct {
	ID          string  `json:"id" db:"id"`
	ProductID   *string `json:"product_id,omitempty" db:"product_id"`
	ServiceID   *string `json:"service_id,omitempty" db:"service_id"`
	Description string  `json:"description" db:"description"`
	Quantity    float64 `json:"quantity" db:"quantity"`
	UnitPrice   float64 `json:"unit_price" db:"unit_price"`
	Total       float64 `json:"total" db:"total"`
}

func (o Opportunity) PipelineID() string            { return o.ID }
func (o Opportunity) PipelineStage() pipeline.Stage { return o.Stage }
func (o Opportunity) PipelineValue() float64        { return o.Value }
