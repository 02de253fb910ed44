package httpapi

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/registry"
)

// watchTable holds the claims taken over HTTP, keyed by the token handed
// back to the client. Only the holder of a token can release its claim.
type watchTable struct {
	mu      sync.Mutex
	handles map[string]*registry.WatchHandle
}

func (t *watchTable) put(h *registry.WatchHandle) string {
	token := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handles == nil {
		t.handles = make(map[string]*registry.WatchHandle)
	}
	t.handles[token] = h
	return token
}

func (t *watchTable) take(token string) (*registry.WatchHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[token]
	delete(t.handles, token)
	return h, ok
}

type watchResponse struct {
	Token    string `json:"token"`
	Scope    string `json:"scope"`
	Watchers int    `json:"watchers"`
}

// StartWatch claims a watch on a scope and returns the token that releases it.
func (h *Handler) StartWatch(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)
	handle, err := h.Registry.Watch(r.Context(), scope)
	if err != nil {
		h.writeError(w, err)
		return
	}
	token := h.watches.put(handle)
	h.Logger.Debug("watch claimed", logger.String("scope", scope.String()), logger.String("token", token))
	writeJSON(w, http.StatusOK, watchResponse{
		Token:    token,
		Scope:    scope.String(),
		Watchers: h.Registry.Watchers(scope),
	})
}

// StopWatch releases the claim behind a token.
func (h *Handler) StopWatch(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.watches.take(mux.Vars(r)["token"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown watch token"})
		return
	}
	handle.Stop()
	w.WriteHeader(http.StatusNoContent)
}
