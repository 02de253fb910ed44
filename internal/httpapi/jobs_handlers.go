package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"go-idea-jobs/internal/storage"
)

type submitRequest struct {
	URL     string `json:"url"`
	GroupID string `json:"group_id"`
}

type jobsResponse struct {
	Scope string        `json:"scope"`
	Jobs  []storage.Job `json:"jobs"`
}

// SubmitJob accepts {"url": ..., "group_id": ...} and returns the queued job.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	defer r.Body.Close()

	var req submitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	job, err := h.Registry.Submit(r.Context(), req.URL, req.GroupID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// ListJobs returns a scope's jobs; ?active=true limits it to running ones.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)

	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid active flag %q", v)})
			return
		}
		activeOnly = b
	}

	var jobs []storage.Job
	if activeOnly {
		jobs = h.Registry.ActiveJobs(scope)
	} else {
		jobs = h.Registry.AllJobs(scope)
	}
	if jobs == nil {
		jobs = []storage.Job{}
	}
	writeJSON(w, http.StatusOK, jobsResponse{Scope: scope.String(), Jobs: jobs})
}

// GetJob returns job metadata so clients can poll status and progress.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := h.Registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// RetryJob resubmits a failed, retryable job.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Registry.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// RemoveJob dismisses a job locally and deletes it remotely.
func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetIdea resolves a completed job's result id.
func (h *Handler) GetIdea(w http.ResponseWriter, r *http.Request) {
	idea, err := h.Ideas.Idea(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func scopeFromQuery(r *http.Request) storage.Scope {
	return storage.GroupScope(r.URL.Query().Get("group"))
}
