package handlers

import (
	"context"
	"net/http"

	"finplay/services/episodes"
)

// adjacencyResolver is the slice of the episode resolver the handler consumes.
type adjacencyResolver interface {
	ResolveAdjacent(ctx context.Context, seriesID, seasonID, currentEpisodeID string) (episodes.Adjacent, error)
}

var _ adjacencyResolver = (*episodes.Resolver)(nil)

// EpisodesHandler serves next/previous episode lookups for skip affordances.
type EpisodesHandler struct {
	Resolver adjacencyResolver
}

func NewEpisodesHandler(r adjacencyResolver) *EpisodesHandler {
	return &EpisodesHandler{Resolver: r}
}

// Adjacent resolves the neighbors of the given episode within its season.
// A current episode missing from the listing yields both sides null, not an
// error.
func (h *EpisodesHandler) Adjacent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seriesID := q.Get("seriesId")
	seasonID := q.Get("seasonId")
	episodeID := q.Get("episodeId")
	if seriesID == "" || episodeID == "" {
		http.Error(w, "seriesId and episodeId are required", http.StatusBadRequest)
		return
	}

	adj, err := h.Resolver.ResolveAdjacent(r.Context(), seriesID, seasonID, episodeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, adj)
}
