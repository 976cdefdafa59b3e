package listctl

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// State is the display-side view of one paginated collection. Items always
// hold the last successfully fetched page.
type State[T any] struct {
	Items       []T    `json:"items"`
	CurrentPage int    `json:"current_page"`
	TotalPages  int    `json:"total_pages"`
	Total       int    `json:"total"`
	Loading     bool   `json:"loading"`
	Error       string `json:"error,omitempty"`
}

// Options configures a Controller.
type Options struct {
	// Entity names the collection in logs.
	Entity string
	// Label is the human name used in notices, e.g. "Opportunity".
	Label    string
	PageSize int
	Tenant   TenantSource
	Notifier shared.Notifier
	Logger   *slog.Logger
}

// Controller mediates between a remote paginated collection and its
// displayed list. All methods are safe for concurrent use; concurrent loads
// resolve last-issued-wins via a monotonically increasing request token.
type Controller[T, C, P any] struct {
	port     Port[T, C, P]
	entity   string
	label    string
	pageSize int
	tenant   TenantSource
	notifier shared.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	state   State[T]
	issued  uint64
	applied uint64
	// loaded is set once a page has been applied, so TotalPages is known.
	loaded bool
}

// New constructs a controller for one mounted screen.
func New[T, C, P any](port Port[T, C, P], opts Options) *Controller[T, C, P] {
	if opts.PageSize <= 0 {
		opts.PageSize = shared.DefaultPageSize
	}
	if opts.Label == "" {
		opts.Label = "Record"
	}
	if opts.Tenant == nil {
		opts.Tenant = TenantFunc(shared.TenantFromContext)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller[T, C, P]{
		port:     port,
		entity:   opts.Entity,
		label:    opts.Label,
		pageSize: opts.PageSize,
		tenant:   opts.Tenant,
		notifier: opts.Notifier,
		logger:   opts.Logger.With(slog.String("entity", opts.Entity)),
		state:    State[T]{Items: []T{}, CurrentPage: 1, TotalPages: 1},
	}
}

// State returns a copy of the current list state.
func (c *Controller[T, C, P]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	st.Items = slices.Clone(c.state.Items)
	if st.Items == nil {
		st.Items = []T{}
	}
	return st
}

// Items returns a copy of the displayed items.
func (c *Controller[T, C, P]) Items() []T {
	return c.State().Items
}

// PageSize reports the configured page size.
func (c *Controller[T, C, P]) PageSize() int {
	return c.pageSize
}

// Load fetches page (1-indexed) for the active tenant. A response that
// resolves after a later-issued load has already been applied is discarded
// without touching state and Load returns nil. A failed fetch keeps the
// previous items, records the error and returns it.
func (c *Controller[T, C, P]) Load(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	tenantID, ok := c.tenant.Tenant(ctx)

	c.mu.Lock()
	c.issued++
	token := c.issued
	if !ok {
		c.applied = token
		c.loaded = false
		c.state = State[T]{Items: []T{}, CurrentPage: 1, TotalPages: 1}
		c.mu.Unlock()
		return nil
	}
	c.state.Loading = true
	c.mu.Unlock()

	res, err := c.port.FindAll(ctx, tenantID, PageRequest{Page: page, PageSize: c.pageSize})

	c.mu.Lock()
	if token < c.applied {
		c.mu.Unlock()
		c.logger.Debug("discard stale page", slog.Int("page", page), slog.Uint64("token", token))
		return nil
	}
	c.applied = token
	if token == c.issued {
		c.state.Loading = false
	}
	if err != nil {
		err = asRemote("load", fmt.Sprintf("Could not load %s list.", c.label), err)
		c.state.Error = shared.UserSafeMessage(err)
		c.mu.Unlock()
		c.logger.Warn("load page", slog.Int("page", page), slog.Any("error", err))
		shared.Notify(ctx, c.notifier, shared.NoticeError, shared.UserSafeMessage(err))
		return err
	}
	p := shared.NewPagination(page, c.pageSize, res.Count)
	items := res.Data
	if items == nil {
		items = []T{}
	}
	c.state.Items = items
	c.state.CurrentPage = page
	c.state.TotalPages = p.TotalPages
	c.state.Total = p.Total
	c.state.Error = ""
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// GoToPage clamps n to [1, TotalPages] and loads it. Before the first
// successful load the page count is unknown, so n is fetched as asked and
// the last page is loaded instead when n turns out to be past it.
func (c *Controller[T, C, P]) GoToPage(ctx context.Context, n int) error {
	c.mu.Lock()
	loaded := c.loaded
	target := shared.ClampPage(n, c.state.TotalPages)
	c.mu.Unlock()
	if loaded {
		return c.Load(ctx, target)
	}

	if n < 1 {
		n = 1
	}
	if err := c.Load(ctx, n); err != nil {
		return err
	}
	c.mu.Lock()
	current, total := c.state.CurrentPage, c.state.TotalPages
	c.mu.Unlock()
	if current > total {
		return c.Load(ctx, total)
	}
	return nil
}

// Reload fetches the current page again.
func (c *Controller[T, C, P]) Reload(ctx context.Context) error {
	c.mu.Lock()
	page := c.state.CurrentPage
	c.mu.Unlock()
	return c.Load(ctx, page)
}

// activeTenant resolves the tenant for a mutation or lookup. Absence is
// reported to the user and returned as shared.ErrNoTenant.
func (c *Controller[T, C, P]) activeTenant(ctx context.Context) (string, error) {
	tenantID, ok := c.tenant.Tenant(ctx)
	if !ok {
		shared.Notify(ctx, c.notifier, shared.NoticeError, shared.UserSafeMessage(shared.ErrNoTenant))
		return "", shared.ErrNoTenant
	}
	return tenantID, nil
}

// FindByID fetches a single entity of the active tenant. Absence, including
// an id owned by another tenant, is reported as shared.ErrNotFound.
func (c *Controller[T, C, P]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T
	tenantID, err := c.activeTenant(ctx)
	if err != nil {
		return zero, err
	}
	entity, found, err := c.port.FindByID(ctx, tenantID, id)
	if err != nil {
		err = asRemote("find", fmt.Sprintf("Could not load %s details.", c.label), err)
		shared.Notify(ctx, c.notifier, shared.NoticeError, shared.UserSafeMessage(err))
		return entity, err
	}
	if !found {
		shared.Notify(ctx, c.notifier, shared.NoticeError, fmt.Sprintf("%s not found.", c.label))
		return entity, fmt.Errorf("%s %s: %w", c.entity, id, shared.ErrNotFound)
	}
	return entity, nil
}

// Create inserts data for the active tenant and reloads page 1. The created
// entity, including its server-assigned id, is returned so dependent work can
// proceed. Failures leave the list untouched and are returned.
func (c *Controller[T, C, P]) Create(ctx context.Context, data C) (T, error) {
	var zero T
	tenantID, err := c.activeTenant(ctx)
	if err != nil {
		return zero, err
	}
	created, err := c.port.Create(ctx, tenantID, data)
	if err != nil {
		err = asRemote("create", fmt.Sprintf("Could not create %s.", c.label), err)
		c.logger.Warn("create", slog.Any("error", err))
		shared.Notify(ctx, c.notifier, shared.NoticeError, shared.UserSafeMessage(err))
		return zero, err
	}
	shared.Notify(ctx, c.notifier, shared.NoticeSuccess, fmt.Sprintf("%s created.", c.label))
	_ = c.Load(ctx, 1)
	return created, nil
}

// Update applies patch remotely and reloads the current page. The displayed
// list never reflects the change before the remote store confirms it.
func (c *Controller[T, C, P]) Update(ctx context.Context, id string, patch P) (T, error) {
	var zero T
	tenantID, err := c.activeTenant(ctx)
	if err != nil {
		return zero, err
	}
	updated, err := c.port.Update(ctx, tenantID, id, patch)
	if err != nil {
		err = asRemote("update", fmt.Sprintf("Could not update %s.", c.label), err)
		c.logger.Warn("update", slog.String("id", id), slog.Any("error", err))
		shared.Notify(ctx, c.notifier, shared.NoticeError, shared.UserSafeMessage(err))
		return zero, err
	}
	shared.Notify(ctx, c.notifier, shared.NoticeSuccess, fmt.Sprintf("%s updated.", c.label))
	_ = c.Reload(ctx)
	return updated, nil
}

// Delete removes id remotely and reloads. When the removed row was the last
// one shown on a page past the first, the previous page is loaded instead so
// the list never lands beyond the new page count. Callers confirm with the
// user before reaching Delete.
func (c *Controller[T, C, P]) Delete(ctx context.Context, id string) error {
	tenantID, err := c.activeTenant(ctx)
	if err != nil {
		return err
	}
	if err := c.port.Delete(ctx, tenantID, id); err != nil {
		err = asRemote("delete", fmt.Sprintf("Could not delete %s.", c.label), err)
		c.logger.Warn("delete", slog.String("id", id), slog.Any("error", err))
		shared.Notify(ctx, c.notifier, shared.NoticeError, shared.UserSafeMessage(err))
		return err
	}
	shared.Notify(ctx, c.notifier, shared.NoticeSuccess, fmt.Sprintf("%s deleted.", c.label))

	c.mu.Lock()
	target := c.state.CurrentPage
	if target > 1 && len(c.state.Items) <= 1 {
		target--
	}
	c.mu.Unlock()
	_ = c.Load(ctx, target)
	return nil
}
