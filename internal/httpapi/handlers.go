package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"go-idea-jobs/internal/ideas"
	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/playerpool"
	"go-idea-jobs/internal/registry"
	"go-idea-jobs/internal/version"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Registry *registry.Registry
	Grid     *playerpool.Grid
	Ideas    ideas.Lookup
	Logger   logger.Logger
	Gatherer prometheus.Gatherer

	watches watchTable
}

// NewRouter builds the HTTP router with routes bound to our handlers.
func NewRouter(h *Handler) http.Handler {
	if h.Logger == nil {
		h.Logger = logger.NewNop()
	}
	r := mux.NewRouter()

	r.Use(versionHeaderMiddleware)

	r.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/retry", h.RetryJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", h.RemoveJob).Methods("DELETE")

	r.HandleFunc("/watches", h.StartWatch).Methods("POST")
	r.HandleFunc("/watches/{token}", h.StopWatch).Methods("DELETE")

	r.HandleFunc("/players", h.ListPlayers).Methods("GET")
	r.HandleFunc("/players/{card}", h.SetVisibility).Methods("PUT")
	r.HandleFunc("/players/{card}", h.RemoveCard).Methods("DELETE")

	r.HandleFunc("/ideas/{id}", h.GetIdea).Methods("GET")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods("GET")

	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return otelhttp.NewHandler(r, "ideajobs.http")
}

func versionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-App-Version", version.Version)
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps registry and lookup errors onto status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, ideas.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrNotRetryable):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrSubmissionFailed),
		errors.Is(err, registry.ErrRetryFailed),
		errors.Is(err, registry.ErrRemovalFailed):
		status = http.StatusBadGateway
	case errors.Is(err, registry.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", logger.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
