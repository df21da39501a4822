// Package history keeps a local record of playback positions. It backs the
// resume path when the server has no stored position and survives offline
// sessions.
package history

import (
	"log"

	"finplay/internal/database"
)

// WatchedThreshold marks an item watched once this fraction of its duration
// has been played.
const WatchedThreshold = 0.9

// Service is the local playback history store.
type Service struct {
	repo *database.HistoryRepository
}

// NewService creates a history service on the given repository.
func NewService(repo *database.HistoryRepository) *Service {
	return &Service{repo: repo}
}

// Record stores the latest playback position for an item, flipping the
// watched flag when the position crosses the threshold.
func (s *Service) Record(itemID string, positionSeconds, durationSeconds float64) error {
	watched := durationSeconds > 0 && positionSeconds/durationSeconds >= WatchedThreshold
	return s.repo.Upsert(database.HistoryEntry{
		ItemID:          itemID,
		PositionSeconds: positionSeconds,
		DurationSeconds: durationSeconds,
		Watched:         watched,
	})
}

// ResumePosition returns the locally stored resume point for an item, or 0
// when there is none or the item was finished.
func (s *Service) ResumePosition(itemID string) float64 {
	entry, err := s.repo.Get(itemID)
	if err != nil {
		log.Printf("[history] lookup failed for %s: %v", itemID, err)
		return 0
	}
	if entry == nil || entry.Watched {
		return 0
	}
	return entry.PositionSeconds
}

// Recent lists the most recently played items.
func (s *Service) Recent(limit int) ([]database.HistoryEntry, error) {
	return s.repo.Recent(limit)
}
