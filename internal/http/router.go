package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"live-transcript-service/internal/app"
)

// NewRouter constructs the HTTP router for the service. ready reports
// whether the service should receive traffic.
func NewRouter(application *app.Application, ready func() bool) http.Handler {
	h := &handlers{app: application}
	r := chi.NewRouter()

	// Basic middleware
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if application.Cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Provider deliveries
	r.Method(http.MethodPost, "/webhooks/transcript", application.Webhook)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Post("/", h.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", h.destroySession)
			r.Get("/transcript", h.transcript)
			r.Get("/stream", h.stream)
			r.Get("/export", h.export)
			r.Get("/summary-input", h.summaryInput)
			r.Get("/ws", h.websocket)
		})
	})

	return r
}
