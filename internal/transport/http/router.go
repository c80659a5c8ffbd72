// Package http wires the attestation service behind a chi router. Handlers
// validate request shape, run the wallet-proof or partner-token gate for
// their role, and translate service results into JSON responses.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rxgateway/internal/attestation"
	"rxgateway/internal/audit"
	"rxgateway/internal/platform/metrics"
	"rxgateway/internal/platform/middleware"
	"rxgateway/internal/protocol"
)

// Deps carries everything the router needs. All fields are required except
// Metrics.
type Deps struct {
	Service       *attestation.Service
	Authenticator *protocol.Authenticator
	Audit         *audit.Publisher
	JWTValidator  middleware.JWTValidator
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// NewRouter builds the full route tree.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	doctor := &DoctorHandler{deps: deps}
	patient := &PatientHandler{deps: deps}
	pharmacy := &PharmacyHandler{deps: deps}

	r.Route("/doctor", doctor.Register)
	r.Route("/patient", patient.Register)
	r.Route("/pharmacy", pharmacy.Register)
	return r
}
