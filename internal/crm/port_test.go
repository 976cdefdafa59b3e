package crm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-crm/internal/listctl"
	"github.com/odyssey-erp/odyssey-crm/internal/pipeline"
	"github.com/odyssey-erp/odyssey-crm/internal/shared"
	"github.com/odyssey-erp/odyssey-crm/jobs"
)

const (
	testTenant   = "6f1c2b0e-8a4e-4e43-9b1f-3f3c1e2a7d10"
	testCustomer = "0b6c1a52-58b5-4c1b-8d0e-1d8a4f7a9e21"
)

// memPort is an in-memory OpportunityPort. Rows are kept newest first.
type memPort struct {
	mu        sync.Mutex
	rows      []Opportunity
	finds     int
	findErr   error
	updateErr error
	deleteErr error

	// When block is set, FindAll signals entered and waits for block to close.
	block   chan struct{}
	entered chan struct{}
}

var _ OpportunityPort = (*memPort)(nil)

func newMemPort() *memPort { return &memPort{} }

// seed inserts n opportunities in stage for the test tenant.
func (p *memPort) seed(n int, stage pipeline.Stage) []Opportunity {
	out := make([]Opportunity, 0, n)
	for i := 0; i < n; i++ {
		opp, _ := p.Create(context.Background(), testTenant, CreateOpportunityRequest{
			Title:      fmt.Sprintf("Deal %d", i+1),
			Value:      float64(100 * (i + 1)),
			Stage:      stage,
			Status:     StatusOpen,
			CustomerID: testCustomer,
		})
		out = append(out, opp)
	}
	return out
}

func (p *memPort) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finds
}

func (p *memPort) FindAll(ctx context.Context, tenantID string, req listctl.PageRequest) (listctl.Page[Opportunity], error) {
	p.mu.Lock()
	block, entered := p.block, p.entered
	p.block, p.entered = nil, nil
	p.mu.Unlock()
	if block != nil {
		close(entered)
		<-block
	}
	if err := ctx.Err(); err != nil {
		return listctl.Page[Opportunity]{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds++
	if p.findErr != nil {
		return listctl.Page[Opportunity]{}, p.findErr
	}
	var scoped []Opportunity
	for _, row := range p.rows {
		if row.TenantID == tenantID {
			scoped = append(scoped, row)
		}
	}
	start := (req.Page - 1) * req.PageSize
	if start > len(scoped) {
		start = len(scoped)
	}
	end := start + req.PageSize
	if end > len(scoped) {
		end = len(scoped)
	}
	return listctl.Page[Opportunity]{Data: append([]Opportunity(nil), scoped[start:end]...), Count: len(scoped)}, nil
}

// hold makes the next FindAll block until the returned release is called.
func (p *memPort) hold() (entered <-chan struct{}, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block = make(chan struct{})
	p.entered = make(chan struct{})
	block := p.block
	return p.entered, func() { close(block) }
}

func (p *memPort) FindByID(ctx context.Context, tenantID, id string) (Opportunity, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, row := range p.rows {
		if row.ID == id && row.TenantID == tenantID {
			return row, true, nil
		}
	}
	return Opportunity{}, false, nil
}

func (p *memPort) Create(ctx context.Context, tenantID string, data CreateOpportunityRequest) (Opportunity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	opp := Opportunity{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Title:      data.Title,
		Value:      data.Value,
		Stage:      data.Stage,
		Status:     data.Status,
		CustomerID: data.CustomerID,
		Items:      []OpportunityItem{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	p.rows = append([]Opportunity{opp}, p.rows...)
	return opp, nil
}

func (p *memPort) Update(ctx context.Context, tenantID, id string, patch UpdateOpportunityRequest) (Opportunity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return Opportunity{}, p.updateErr
	}
	for i, row := range p.rows {
		if row.ID != id || row.TenantID != tenantID {
			continue
		}
		if patch.Title != nil {
			row.Title = *patch.Title
		}
		if patch.Value != nil {
			row.Value = *patch.Value
		}
		if patch.Stage != nil {
			row.Stage = *patch.Stage
		}
		if patch.Status != nil {
			row.Status = *patch.Status
		}
		row.UpdatedAt = time.Now().UTC()
		p.rows[i] = row
		return row, nil
	}
	return Opportunity{}, shared.ErrNotFound
}

func (p *memPort) Delete(ctx context.Context, tenantID, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	for i, row := range p.rows {
		if row.ID == id && row.TenantID == tenantID {
			p.rows = append(p.rows[:i], p.rows[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

// recordingEnqueuer captures stage change payloads.
type recordingEnqueuer struct {
	mu       sync.Mutex
	payloads []jobs.StageChangedPayload
	err      error
}

func (e *recordingEnqueuer) EnqueueStageChanged(ctx context.Context, payload jobs.StageChangedPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, payload)
	return e.err
}

func (e *recordingEnqueuer) recorded() []jobs.StageChangedPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]jobs.StageChangedPayload(nil), e.payloads...)
}
