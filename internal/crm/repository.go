package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-crm/internal/listctl"
	"github.com/odyssey-erp/odyssey-crm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-crm/internal/shared"
	"github.com/odyssey-erp/odyssey-crm/jobs"
)

// OpportunityPort is the data-access contract the list controllers use.
type OpportunityPort = listctl.Port[Opportunity, CreateOpportunityRequest, UpdateOpportunityRequest]

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository persists opportunities in Postgres. Writes go through the
// create/update/delete stored functions so an opportunity and its items
// change atomically.
type Repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

var _ OpportunityPort = (*Repository)(nil)

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// WithTx runs fn against a repository bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, *Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx, pool: r.pool})
	})
}

const opportunityColumns = `
	id::text AS id, tenant_id::text AS tenant_id, title, value::float8 AS value,
	stage, status, expected_close_date, actual_close_date,
	customer_id::text AS customer_id, seller_id::text AS seller_id, notes,
	created_at, updated_at`

// FindAll returns one page of a tenant's opportunities, newest first.
func (r *Repository) FindAll(ctx context.Context, tenantID string, req listctl.PageRequest) (listctl.Page[Opportunity], error) {
	tenant, err := parseID(tenantID)
	if err != nil {
		return listctl.Page[Opportunity]{}, err
	}
	pg := shared.NewPagination(req.Page, req.PageSize, 0)

	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crm_opportunities WHERE tenant_id = $1`, tenant,
	).Scan(&total); err != nil {
		return listctl.Page[Opportunity]{}, db.TranslateError(err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+opportunityColumns+`
		FROM crm_opportunities
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		tenant, pg.PerPage, pg.Offset())
	if err != nil {
		return listctl.Page[Opportunity]{}, db.TranslateError(err)
	}
	opps, err := pgx.CollectRows(rows, pgx.RowToStructByName[Opportunity])
	if err != nil {
		return listctl.Page[Opportunity]{}, db.TranslateError(err)
	}
	if err := r.attachItems(ctx, opps); err != nil {
		return listctl.Page[Opportunity]{}, err
	}
	return listctl.Page[Opportunity]{Data: opps, Count: total}, nil
}

// FindByID loads one of tenantID's opportunities with its items. Rows of
// other tenants are reported as absent.
func (r *Repository) FindByID(ctx context.Context, tenantID, id string) (Opportunity, bool, error) {
	tenant, err := parseID(tenantID)
	if err != nil {
		return Opportunity{}, false, err
	}
	oid, err := uuid.Parse(id)
	if err != nil {
		return Opportunity{}, false, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+opportunityColumns+` FROM crm_opportunities WHERE id = $1 AND tenant_id = $2`,
		oid, tenant)
	if err != nil {
		return Opportunity{}, false, db.TranslateError(err)
	}
	opp, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Opportunity])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Opportunity{}, false, nil
		}
		return Opportunity{}, false, db.TranslateError(err)
	}
	list := []Opportunity{opp}
	if err := r.attachItems(ctx, list); err != nil {
		return Opportunity{}, false, err
	}
	return list[0], true, nil
}

// Create inserts an opportunity and its items through create_crm_opportunity.
func (r *Repository) Create(ctx context.Context, tenantID string, data CreateOpportunityRequest) (Opportunity, error) {
	tenant, err := parseID(tenantID)
	if err != nil {
		return Opportunity{}, err
	}
	data.Normalize()
	payload, err := json.Marshal(newCreatePayload(data))
	if err != nil {
		return Opportunity{}, err
	}

	var created Opportunity
	err = r.WithTx(ctx, func(ctx context.Context, tx *Repository) error {
		var id string
		if err := tx.db.QueryRow(ctx,
			`SELECT create_crm_opportunity($1, $2::jsonb)::text`, tenant, payload,
		).Scan(&id); err != nil {
			return db.TranslateError(err)
		}
		opp, found, err := tx.FindByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("crm: created opportunity %s vanished: %w", id, shared.ErrNotFound)
		}
		created = opp
		return nil
	})
	return created, err
}

// Update applies a partial patch through update_crm_opportunity. An id owned
// by another tenant is reported as not found.
func (r *Repository) Update(ctx context.Context, tenantID, id string, patch UpdateOpportunityRequest) (Opportunity, error) {
	tenant, err := parseID(tenantID)
	if err != nil {
		return Opportunity{}, err
	}
	oid, err := uuid.Parse(id)
	if err != nil {
		return Opportunity{}, fmt.Errorf("crm: opportunity %q: %w", id, shared.ErrNotFound)
	}
	payload, err := json.Marshal(newUpdatePayload(patch))
	if err != nil {
		return Opportunity{}, err
	}

	var updated Opportunity
	err = r.WithTx(ctx, func(ctx context.Context, tx *Repository) error {
		var ok bool
		if err := tx.db.QueryRow(ctx,
			`SELECT update_crm_opportunity($1, $2, $3::jsonb)`, tenant, oid, payload,
		).Scan(&ok); err != nil {
			return db.TranslateError(err)
		}
		if !ok {
			return fmt.Errorf("crm: opportunity %s: %w", id, shared.ErrNotFound)
		}
		opp, found, err := tx.FindByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("crm: opportunity %s: %w", id, shared.ErrNotFound)
		}
		updated = opp
		return nil
	})
	return updated, err
}

// Delete removes one of tenantID's opportunities and its items through
// delete_crm_opportunity.
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	tenant, err := parseID(tenantID)
	if err != nil {
		return err
	}
	oid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("crm: opportunity %q: %w", id, shared.ErrNotFound)
	}
	var ok bool
	if err := r.db.QueryRow(ctx, `SELECT delete_crm_opportunity($1, $2)`, tenant, oid).Scan(&ok); err != nil {
		return db.TranslateError(err)
	}
	if !ok {
		return fmt.Errorf("crm: opportunity %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

// RecordStageChange appends a row to the stage history. Replays of the same
// move are ignored.
func (r *Repository) RecordStageChange(ctx context.Context, p jobs.StageChangedPayload) error {
	oid, err := uuid.Parse(p.OpportunityID)
	if err != nil {
		return fmt.Errorf("crm: stage change for %q: %w", p.OpportunityID, shared.ErrValidation)
	}
	changedAt := p.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO crm_opportunity_stage_history
			(opportunity_id, tenant_id, from_stage, to_stage, changed_by, changed_at)
		SELECT o.id, o.tenant_id, NULLIF($2, ''), $3, NULLIF($4, ''), $5
		FROM crm_opportunities o
		WHERE o.id = $1
		ON CONFLICT (opportunity_id, to_stage, changed_at) DO NOTHING`,
		oid, p.FromStage, p.ToStage, p.ChangedBy, changedAt)
	return db.TranslateError(err)
}

type itemRow struct {
	OpportunityID string `db:"opportunity_id"`
	OpportunityItem
}

func (r *Repository) attachItems(ctx context.Context, opps []Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	ids := make([]string, len(opps))
	index := make(map[string]int, len(opps))
	for i := range opps {
		ids[i] = opps[i].ID
		index[opps[i].ID] = i
		opps[i].Items = []OpportunityItem{}
	}
	rows, err := r.db.Query(ctx, `
		SELECT opportunity_id::text AS opportunity_id, id::text AS id,
		       product_id::text AS product_id, service_id::text AS service_id,
		       description, quantity::float8 AS quantity,
		       unit_price::float8 AS unit_price, total::float8 AS total
		FROM crm_opportunity_items
		WHERE opportunity_id = ANY($1::uuid[])
		ORDER BY opportunity_id, position`, ids)
	if err != nil {
		return db.TranslateError(err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[itemRow])
	if err != nil {
		return db.TranslateError(err)
	}
	for _, it := range items {
		if i, ok := index[it.OpportunityID]; ok {
			opps[i].Items = append(opps[i].Items, it.OpportunityItem)
		}
	}
	return nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("crm: tenant %q: %w", raw, shared.ErrValidation)
	}
	return id, nil
}

// itemPayload is the item shape the stored functions expect.
type itemPayload struct {
	ProductID   *string `json:"product_id,omitempty"`
	ServiceID   *string `json:"service_id,omitempty"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

type opportunityPayload struct {
	Title             *string        `json:"title,omitempty"`
	Value             *float64       `json:"value,omitempty"`
	Stage             *string        `json:"stage,omitempty"`
	Status            *string        `json:"status,omitempty"`
	ExpectedCloseDate *time.Time     `json:"expected_close_date,omitempty"`
	ActualCloseDate   *time.Time     `json:"actual_close_date,omitempty"`
	CustomerID        *string        `json:"customer_id,omitempty"`
	SellerID          *string        `json:"seller_id,omitempty"`
	Notes             *string        `json:"notes,omitempty"`
	Items             *[]itemPayload `json:"items,omitempty"`
}

func newCreatePayload(r CreateOpportunityRequest) opportunityPayload {
	stage := string(r.Stage)
	status := string(r.Status)
	items := toItemPayloads(r.Items)
	return opportunityPayload{
		Title:             &r.Title,
		Value:             &r.Value,
		Stage:             &stage,
		Status:            &status,
		ExpectedCloseDate: r.ExpectedCloseDate,
		ActualCloseDate:   r.ActualCloseDate,
		CustomerID:        &r.CustomerID,
		SellerID:          r.SellerID,
		Notes:             r.Notes,
		Items:             &items,
	}
}

func newUpdatePayload(r UpdateOpportunityRequest) opportunityPayload {
	p := opportunityPayload{
		Title:             r.Title,
		Value:             r.Value,
		ExpectedCloseDate: r.ExpectedCloseDate,
		ActualCloseDate:   r.ActualCloseDate,
		CustomerID:        r.CustomerID,
		SellerID:          r.SellerID,
		Notes:             r.Notes,
	}
	if r.Stage != nil {
		stage := string(*r.Stage)
		p.Stage = &stage
	}
	if r.Status != nil {
		status := string(*r.Status)
		p.Status = &status
	}
	if r.Items != nil {
		items := toItemPayloads(r.Items)
		p.Items = &items
	}
	return p
}

func toItemPayloads(items []ItemRequest) []itemPayload {
	out := make([]itemPayload, 0, len(items))
	for _, it := range items {
		out = append(out, itemPayload{
			ProductID:   it.ProductID,
			ServiceID:   it.ServiceID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.LineTotal(),
		})
	}
	return out
}
