package app

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-crm/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

type sessionHandler struct {
	csrf   *shared.CSRFManager
	logger *slog.Logger
}

type sessionRequest struct {
	UserID       string                     `json:"user_id"`
	TenantID     string                     `json:"tenant_id"`
	Capabilities map[string]json.RawMessage `json:"capabilities"`
}

type sessionResponse struct {
	UserID       string              `json:"user_id"`
	TenantID     string              `json:"tenant_id,omitempty"`
	Capabilities []shared.Capability `json:"capabilities"`
	CSRFToken    string              `json:"csrf_token"`
}

func (h *sessionHandler) create(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	var req sessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.UserID == "" {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "user_id is required")
		return
	}
	if req.TenantID != "" {
		if _, err := uuid.Parse(req.TenantID); err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", "tenant_id must be a uuid")
			return
		}
	}
	caps, err := shared.ParseCapabilities(req.Capabilities)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
		return
	}

	sess.SetUser(req.UserID)
	sess.SetTenant(req.TenantID)
	sess.SetCapabilities(caps)
	token, err := h.csrf.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("session seeded", slog.String("user", req.UserID), slog.String("tenant", req.TenantID))
	httpx.JSON(w, http.StatusOK, sessionResponse{
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		Capabilities: caps.Granted(),
		CSRFToken:    token,
	})
}

func (h *sessionHandler) token(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrf.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}
