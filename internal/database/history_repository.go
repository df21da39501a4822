package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HistoryEntry is one row of local playback history.
type HistoryEntry struct {
	ItemID          string
	PositionSeconds float64
	DurationSeconds float64
	Watched         bool
	UpdatedAt       time.Time
}

// HistoryRepository reads and writes local playback history.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a repository on the given connection.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Upsert writes the latest position for an item, replacing any prior row.
func (r *HistoryRepository) Upsert(entry HistoryEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(`
		INSERT INTO playback_history (item_id, position_seconds, duration_seconds, watched, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			position_seconds = excluded.position_seconds,
			duration_seconds = excluded.duration_seconds,
			watched          = excluded.watched,
			updated_at       = excluded.updated_at`,
		entry.ItemID, entry.PositionSeconds, entry.DurationSeconds, entry.Watched, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

// Get returns the history row for an item, or nil if none exists.
func (r *HistoryRepository) Get(itemID string) (*HistoryEntry, error) {
	row := r.db.QueryRow(`
		SELECT item_id, position_seconds, duration_seconds, watched, updated_at
		FROM playback_history WHERE item_id = ?`, itemID)

	var entry HistoryEntry
	err := row.Scan(&entry.ItemID, &entry.PositionSeconds, &entry.DurationSeconds, &entry.Watched, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &entry, nil
}

// Recent returns up to limit rows ordered by most recently updated.
func (r *HistoryRepository) Recent(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`
		SELECT item_id, position_seconds, duration_seconds, watched, updated_at
		FROM playback_history ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.ItemID, &entry.PositionSeconds, &entry.DurationSeconds, &entry.Watched, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes the history row for an item.
func (r *HistoryRepository) Delete(itemID string) error {
	if _, err := r.db.Exec(`DELETE FROM playback_history WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}
