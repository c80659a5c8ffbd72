package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rxgateway/internal/audit"
	"rxgateway/internal/platform/middleware"
)

// PharmacyHandler serves the partner-facing handoff route, gated by a bearer
// token rather than a wallet proof.
type PharmacyHandler struct {
	deps Deps
}

// Register mounts the pharmacy routes.
func (h *PharmacyHandler) Register(r chi.Router) {
	r.Use(middleware.RequireAuth(h.deps.JWTValidator, h.deps.Logger))
	r.Get("/handoff/{attestationID}", h.handoff)
}

func (h *PharmacyHandler) handoff(w http.ResponseWriter, r *http.Request) {
	attestationID := chi.URLParam(r, "attestationID")
	res, err := h.deps.Service.PharmacyHandoff(r.Context(), attestationID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.deps.Audit.Emit(audit.Event{
		Type:          audit.TypeHandoffSealed,
		Actor:         middleware.GetPartnerID(r.Context()),
		AttestationID: res.AttestationID,
		Details: map[string]any{
			"status": res.Status,
		},
	})
	writeJSON(w, http.StatusOK, res)
}
