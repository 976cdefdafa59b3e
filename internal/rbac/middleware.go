// Package rbac guards HTTP routes with the capabilities granted to the
// current session.
package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-crm/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// Middleware wires capability checks for HTTP handlers.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAny ensures the session holds at least one of caps.
func (m Middleware) RequireAny(caps ...shared.Capability) func(http.Handler) http.Handler {
	return m.require("rbac require any", caps, hasAny)
}

// RequireAll ensures the session holds every capability in caps.
func (m Middleware) RequireAll(caps ...shared.Capability) func(http.Handler) http.Handler {
	return m.require("rbac require all", caps, hasAll)
}

func (m Middleware) require(op string, required []shared.Capability, check func(shared.Capabilities, []shared.Capability) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted, err := m.granted(r)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error(op, slog.Any("error", err))
				}
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			if check(granted, required) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, shared.ErrForbidden)
		})
	}
}

// Capabilities returns the validated capability map of the request's session.
func Capabilities(r *http.Request) (shared.Capabilities, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || !sess.Ready() {
		return shared.Capabilities{}, shared.ErrForbidden
	}
	return sess.Capabilities()
}

func (m Middleware) granted(r *http.Request) (shared.Capabilities, error) {
	return Capabilities(r)
}

func hasAny(granted shared.Capabilities, required []shared.Capability) bool {
	for _, c := range required {
		if granted.Has(c) {
			return true
		}
	}
	return false
}

func hasAll(granted shared.Capabilities, required []shared.Capability) bool {
	for _, c := range required {
		if !granted.Has(c) {
			return false
		}
	}
	return true
}
