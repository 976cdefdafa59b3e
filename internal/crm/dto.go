package crm

import (
	"math"
	"time"

	"github.com/odyssey-erp/odyssey-crm/internal/pipeline"
)

type CreateOpportunityRequest struct {
	Title             string         `json:"title" validate:"required,max=200"`
	Value             float64        `json:"value" validate:"gte=0"`
	Stage             pipeline.Stage `json:"stage" validate:"omitempty,crm_stage"`
	Status            Status         `json:"status" validate:"omitempty,crm_status"`
	ExpectedCloseDate *time.Time     `json:"expected_close_date,omitempty"`
	ActualCloseDate   *time.Time     `json:"actual_close_date,omitempty"`
	CustomerID        string         `json:"customer_id" validate:"required,uuid"`
	SellerID          *string        `json:"seller_id,omitempty" validate:"omitempty,uuid"`
	Notes             *string        `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Items             []ItemRequest  `json:"items,omitempty" validate:"omitempty,dive"`
}

type UpdateOpportunityRequest struct {
	Title             *string         `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Value             *float64        `json:"value,omitempty" validate:"omitempty,gte=0"`
	Stage             *pipeline.Stage `json:"stage,omitempty" validate:"omitempty,crm_stage"`
	Status            *Status         `json:"status,omitempty" validate:"omitempty,crm_status"`
	ExpectedCloseDate *time.Time      `json:"expected_close_date,omitempty"`
	ActualCloseDate   *time.Time      `json:"actual_close_date,omitempty"`
	CustomerID        *string         `json:"customer_id,omitempty" validate:"omitempty,uuid"`
	SellerID          *string         `json:"seller_id,omitempty" validate:"omitempty,uuid"`
	Notes             *string         `json:"notes,omitempty" validate:"omitempty,max=2000"`
	// Items replaces every line when non-nil.
	Items []ItemRequest `json:"items,omitempty" validate:"omitempty,dive"`
}

type ItemRequest struct {
	ProductID   *string `json:"product_id,omitempty" validate:"omitempty,uuid,excluded_with=ServiceID"`
	ServiceID   *string `json:"service_id,omitempty" validate:"omitempty,uuid"`
	Description string  `json:"description" validate:"required,max=500"`
	Quantity    float64 `json:"quantity" validate:"gt=0"`
	UnitPrice   float64 `json:"unit_price" validate:"gte=0"`
}

// LineTotal is quantity times unit price rounded to cents.
func (i ItemRequest) LineTotal() float64 {
	return math.Round(i.Quantity*i.UnitPrice*100) / 100
}

// Normalize fills defaults: first stage, open status, and the value from the
// line totals when no explicit value was given.
func (r *CreateOpportunityRequest) Normalize() {
	if r.Stage == "" {
		r.Stage = Stages[0]
	}
	if r.Status == "" {
		r.Status = StatusOpen
	}
	if r.Value == 0 && len(r.Items) > 0 {
		r.Value = itemsTotal(r.Items)
	}
}

// StagePatch is the update issued by a board drop.
func StagePatch(to pipeline.Stage) UpdateOpportunityRequest {
	return UpdateOpportunityRequest{Stage: &to}
}

func itemsTotal(items []ItemRequest) float64 {
	var sum float64
	for _, it := range items {
		sum += it.LineTotal()
	}
	return math.Round(sum*100) / 100
}
