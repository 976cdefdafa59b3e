package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-crm/internal/listctl"
	"github.com/odyssey-erp/odyssey-crm/internal/pipeline"
	"github.com/odyssey-erp/odyssey-crm/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-crm/internal/rbac"
	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// IdempotencyKeyHeader lets clients retry a create without duplicating it.
const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyModule = "crm.opportunity.create"

// GateFactory returns the confirmation gate answering for request r.
type GateFactory func(r *http.Request) shared.ConfirmationGate

// IdempotencyGuard claims request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler serves the opportunity list and pipeline board endpoints.
type Handler struct {
	logger      *slog.Logger
	screens     *Screens
	validator   *Validator
	rbac        rbac.Middleware
	gate        GateFactory
	idempotency IdempotencyGuard
	audit       AuditRecorder
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithIdempotency deduplicates creates carrying an Idempotency-Key header.
func WithIdempotency(g IdempotencyGuard) HandlerOption {
	return func(h *Handler) { h.idempotency = g }
}

// WithAudit records every confirmed mutation.
func WithAudit(a AuditRecorder) HandlerOption {
	return func(h *Handler) { h.audit = a }
}

// NewHandler constructs the CRM handler. A nil gate accepts the
// X-Confirm-Delete header as the user's confirmation.
func NewHandler(logger *slog.Logger, screens *Screens, validator *Validator, rbac rbac.Middleware, gate GateFactory, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = NewValidator()
	}
	if gate == nil {
		gate = func(r *http.Request) shared.ConfirmationGate {
			return shared.HeaderConfirmation(r, shared.ConfirmDeleteHeader)
		}
	}
	h := &Handler{logger: logger, screens: screens, validator: validator, rbac: rbac, gate: gate}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type response struct {
	Data    any                         `json:"data,omitempty"`
	List    *listctl.State[Opportunity] `json:"list,omitempty"`
	Board   *pipeline.View[Opportunity] `json:"board,omitempty"`
	Notices []shared.Notice             `json:"notices"`
}

type problemResponse struct {
	httpx.ProblemDetail
	Notices []shared.Notice `json:"notices"`
}

type pointerRequest struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type releaseRequest struct {
	Over pipeline.Stage `json:"over"`
}

type moveResult struct {
	Active bool `json:"active"`
}

type releaseResult struct {
	Outcome pipeline.Outcome `json:"outcome"`
}

func (h *Handler) listOpportunities(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	page := httpx.QueryInt(r, "page", 1)
	if err := screen.List.GoToPage(r.Context(), page); err != nil {
		// the failure is recorded in the list state and the notices
		h.logger.Warn("crm list load", slog.Any("error", err))
	}
	h.respondList(w, screen, http.StatusOK, nil)
}

func (h *Handler) showOpportunity(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	opp, err := screen.List.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, screen, err)
		return
	}
	h.respond(w, screen, http.StatusOK, response{Data: opp})
}

func (h *Handler) createOpportunity(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	var req CreateOpportunityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, screen, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, screen, err)
		return
	}
	req.Normalize()

	key := r.Header.Get(IdempotencyKeyHeader)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				err = fmt.Errorf("%w: %v", shared.ErrConflict, err)
			}
			h.fail(w, screen, err)
			return
		}
	}
	created, err := screen.List.Create(r.Context(), req)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if relErr := h.idempotency.Delete(r.Context(), key, idempotencyModule); relErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", relErr))
			}
		}
		h.fail(w, screen, err)
		return
	}
	h.record(r, "crm.opportunity.create", created.ID, map[string]any{"title": created.Title, "value": created.Value})
	h.refreshBoard(r, screen)
	h.respondList(w, screen, http.StatusCreated, created)
}

func (h *Handler) updateOpportunity(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	var req UpdateOpportunityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, screen, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, screen, err)
		return
	}
	updated, err := screen.List.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, screen, err)
		return
	}
	h.record(r, "crm.opportunity.update", updated.ID, map[string]any{"stage": updated.Stage, "status": updated.Status})
	h.refreshBoard(r, screen)
	h.respondList(w, screen, http.StatusOK, updated)
}

func (h *Handler) deleteOpportunity(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	prompt := shared.Prompt{
		Title:   "Delete opportunity",
		Message: "This opportunity and its items will be removed permanently.",
	}
	err := shared.ConfirmThen(r.Context(), h.gate(r), prompt, func(ctx context.Context) error {
		return screen.List.Delete(ctx, id)
	})
	if err != nil {
		h.fail(w, screen, err)
		return
	}
	h.record(r, "crm.opportunity.delete", id, nil)
	h.refreshBoard(r, screen)
	h.respondList(w, screen, http.StatusOK, nil)
}

func (h *Handler) showBoard(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	if err := screen.EnsureBoard(r.Context()); err != nil {
		h.logger.Warn("crm board load", slog.Any("error", err))
	}
	h.respondBoard(w, screen, nil)
}

func (h *Handler) reloadBoard(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	if err := screen.Board.Reload(r.Context()); err != nil {
		h.logger.Warn("crm board reload", slog.Any("error", err))
	}
	h.respondBoard(w, screen, nil)
}

func (h *Handler) dragStart(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	var req pointerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, screen, err)
		return
	}
	if err := screen.Board.Press(r.Context(), req.ID, pipeline.Point{X: req.X, Y: req.Y}); err != nil {
		h.fail(w, screen, boardError(err))
		return
	}
	h.respondBoard(w, screen, nil)
}

func (h *Handler) dragMove(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	var req pointerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, screen, err)
		return
	}
	active, err := screen.Board.Move(r.Context(), pipeline.Point{X: req.X, Y: req.Y})
	if err != nil {
		h.fail(w, screen, boardError(err))
		return
	}
	h.respondBoard(w, screen, moveResult{Active: active})
}

func (h *Handler) dragEnd(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, screen, err)
		return
	}
	outcome, err := screen.Board.Release(r.Context(), req.Over)
	if err != nil && outcome != pipeline.OutcomeRolledBack {
		h.fail(w, screen, boardError(err))
		return
	}
	h.respondBoard(w, screen, releaseResult{Outcome: outcome})
}

func (h *Handler) dragCancel(w http.ResponseWriter, r *http.Request) {
	screen, ok := h.screen(w, r)
	if !ok {
		return
	}
	screen.Board.Cancel(r.Context())
	h.respondBoard(w, screen, nil)
}

func (h *Handler) unmount(w http.ResponseWriter, r *http.Request) {
	key, _, err := screenKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.screens.Unmount(key)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) screen(w http.ResponseWriter, r *http.Request) (*Screen, bool) {
	key, user, err := screenKey(r)
	if err != nil {
		httpx.RespondError(w, err)
		return nil, false
	}
	return h.screens.Mount(key, user), true
}

func screenKey(r *http.Request) (ScreenKey, string, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return ScreenKey{}, "", shared.ErrForbidden
	}
	tenant, _ := shared.TenantFromContext(r.Context())
	return ScreenKey{Session: sess.ID, Tenant: tenant}, sess.User(), nil
}

// record writes an audit entry. Audit failures never fail the request.
func (h *Handler) record(r *http.Request, action, entityID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	entry := shared.AuditLog{Action: action, Entity: "crm_opportunity", EntityID: entityID, Meta: meta}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		entry.ActorID = sess.User()
	}
	entry.TenantID, _ = shared.TenantFromContext(r.Context())
	if err := h.audit.Record(r.Context(), entry); err != nil {
		h.logger.Warn("crm audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (h *Handler) refreshBoard(r *http.Request, screen *Screen) {
	if err := screen.RefreshBoard(r.Context()); err != nil {
		h.logger.Warn("crm board refresh", slog.Any("error", err))
	}
}

func (h *Handler) respondList(w http.ResponseWriter, screen *Screen, status int, data any) {
	state := screen.List.State()
	h.respond(w, screen, status, response{Data: data, List: &state})
}

func (h *Handler) respondBoard(w http.ResponseWriter, screen *Screen, data any) {
	view := screen.Board.View()
	h.respond(w, screen, http.StatusOK, response{Data: data, Board: &view})
}

func (h *Handler) respond(w http.ResponseWriter, screen *Screen, status int, body response) {
	body.Notices = screen.Notices.Drain()
	httpx.JSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, screen *Screen, err error) {
	problem := httpx.ProblemFor(err)
	if problem.Status >= http.StatusInternalServerError {
		h.logger.Error("crm request failed", slog.Any("error", err))
	}
	httpx.JSON(w, problem.Status, problemResponse{
		ProblemDetail: problem,
		Notices:       screen.Notices.Drain(),
	})
}

// boardError maps gesture errors onto the shared sentinels.
func boardError(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrCommitInFlight):
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	case errors.Is(err, pipeline.ErrUnknownItem):
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	return err
}
