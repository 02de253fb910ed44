package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"go-idea-jobs/internal/playerpool"
)

type visibilityRequest struct {
	Visibility *float64 `json:"visibility"`
}

type playersResponse struct {
	Capacity int                    `json:"capacity"`
	Leased   int                    `json:"leased"`
	Cards    []playerpool.CardState `json:"cards"`
}

// ListPlayers reports pool usage and every card's state.
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	pool := h.Grid.Pool()
	writeJSON(w, http.StatusOK, playersResponse{
		Capacity: pool.Capacity(),
		Leased:   pool.Leased(),
		Cards:    h.Grid.Snapshot(),
	})
}

// SetVisibility takes {"visibility": 0..1} for a card.
func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Visibility == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "visibility is required"})
		return
	}
	if v := *req.Visibility; v < 0 || v > 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "visibility must be between 0 and 1"})
		return
	}

	card := mux.Vars(r)["card"]
	state := h.Grid.SetVisibility(card, *req.Visibility)
	writeJSON(w, http.StatusOK, playerpool.CardState{CardID: card, State: state})
}

// RemoveCard tears a card down.
func (h *Handler) RemoveCard(w http.ResponseWriter, r *http.Request) {
	if !h.Grid.Remove(mux.Vars(r)["card"]) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "card not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
