package crm

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-crm/internal/shared"
)

// MountRoutes attaches the CRM endpoints to r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapCRMRead))
		r.Get("/opportunities", h.listOpportunities)
		r.Get("/opportunities/{id}", h.showOpportunity)
		r.Get("/board", h.showBoard)
		r.Post("/board/reload", h.reloadBoard)
		r.Delete("/screen", h.unmount)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapCRMRead, shared.CapCRMWrite))
		r.Post("/opportunities", h.createOpportunity)
		r.Patch("/opportunities/{id}", h.updateOpportunity)
		r.Post("/board/drag/start", h.dragStart)
		r.Post("/board/drag/move", h.dragMove)
		r.Post("/board/drag/end", h.dragEnd)
		r.Post("/board/drag/cancel", h.dragCancel)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapCRMDelete))
		r.Delete("/opportunities/{id}", h.deleteOpportunity)
	})
}
