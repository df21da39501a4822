package handlers

import (
	"net/http"
	"strconv"

	"finplay/internal/database"
)

// historyService is the slice of the history store the handler consumes.
type historyService interface {
	Recent(limit int) ([]database.HistoryEntry, error)
}

// HistoryHandler serves the local playback history.
type HistoryHandler struct {
	Service historyService
}

func NewHistoryHandler(s historyService) *HistoryHandler {
	return &HistoryHandler{Service: s}
}

// Recent lists the most recently played items, newest first.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.Service.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type entryResponse struct {
		ItemID          string  `json:"itemId"`
		PositionSeconds float64 `json:"positionSeconds"`
		DurationSeconds float64 `json:"durationSeconds"`
		Watched         bool    `json:"watched"`
		UpdatedAt       string  `json:"updatedAt"`
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ItemID:          e.ItemID,
			PositionSeconds: e.PositionSeconds,
			DurationSeconds: e.DurationSeconds,
			Watched:         e.Watched,
			UpdatedAt:       e.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, out)
}
