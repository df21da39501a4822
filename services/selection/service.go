// Package selection holds the user's audio/subtitle/resolution choices:
// per-item track pairs and the user-wide streaming preferences, each
// persisted as a JSON file under the storage directory.
package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"finplay/models"
	"finplay/services/tracks"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrItemIDRequired     = errors.New("item id is required")
)

// Service manages persistence of track selections and stream settings.
type Service struct {
	mu             sync.RWMutex
	selectionsPath string
	settingsPath   string
	selections     map[string]models.PersistedSelection
	settings       models.StreamSettings
}

// NewService creates a selection service storing data inside storageDir.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create selection dir: %w", err)
	}

	svc := &Service{
		selectionsPath: filepath.Join(storageDir, "selections.json"),
		settingsPath:   filepath.Join(storageDir, "stream_settings.json"),
		selections:     make(map[string]models.PersistedSelection),
	}
	if err := svc.load(); err != nil {
		return nil, err
	}
	return svc, nil
}

// Resolve returns the track selection to use for an item, validating any
// stored choice against the current catalog. A stored audio index that no
// longer exists falls back to the preferred audio language, then the catalog
// default; a stored subtitle index that no longer exists falls back to off.
// Local subtitle selections are never restored from storage.
func (s *Service) Resolve(itemID string, catalog tracks.Catalog) (int, models.SubtitleSelection) {
	s.mu.RLock()
	stored, ok := s.selections[itemID]
	preferred := s.settings.PreferredAudioLanguage
	s.mu.RUnlock()

	audio := catalog.DefaultAudioIndex()
	if preferred != "" {
		if idx := catalog.FindAudioByLanguage(preferred); idx >= 0 {
			audio = idx
		}
	}
	subtitle := models.NoSubtitles()
	if !ok {
		return audio, subtitle
	}

	if catalog.HasAudioIndex(stored.Audio) {
		audio = stored.Audio
	} else {
		log.Printf("[selection] stored audio index %d missing for item %s, using default %d", stored.Audio, itemID, audio)
	}
	if stored.Subtitle != nil {
		if catalog.HasSubtitleIndex(*stored.Subtitle) {
			subtitle = models.ServerTrack(*stored.Subtitle)
		} else {
			log.Printf("[selection] stored subtitle index %d missing for item %s, subtitles off", *stored.Subtitle, itemID)
		}
	}
	return audio, subtitle
}

// Save persists the audio/subtitle pair for an item as one unit. A local
// subtitle selection is normalized to null before storage; file handles do
// not survive a restart.
func (s *Service) Save(itemID string, audio int, subtitle models.SubtitleSelection) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return ErrItemIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[itemID] = models.PersistedSelection{
		Audio:    audio,
		Subtitle: subtitle.TrackIndexOrNil(),
	}
	return s.saveSelectionsLocked()
}

// Get returns the raw stored selection for an item, if any.
func (s *Service) Get(itemID string) (models.PersistedSelection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selections[itemID]
	return sel, ok
}

// StreamSettings returns the user-wide streaming preferences.
func (s *Service) StreamSettings() models.StreamSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetMaxStreamingHeight persists the resolution cap. The cap is a user-wide
// preference, stored separately from per-item selections.
func (s *Service) SetMaxStreamingHeight(height int) error {
	if height < 0 {
		height = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.MaxStreamingHeight = height
	return s.saveSettingsLocked()
}

// SetPreferredAudioLanguage persists the language used to pick audio tracks
// for items without a stored selection. Empty clears the preference.
func (s *Service) SetPreferredAudioLanguage(lang string) error {
	lang = strings.ToLower(strings.TrimSpace(lang))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.PreferredAudioLanguage == lang {
		return nil
	}
	s.settings.PreferredAudioLanguage = lang
	return s.saveSettingsLocked()
}

func (s *Service) load() error {
	if err := loadJSON(s.selectionsPath, &s.selections); err != nil {
		return fmt.Errorf("load selections: %w", err)
	}
	if s.selections == nil {
		s.selections = make(map[string]models.PersistedSelection)
	}
	if err := loadJSON(s.settingsPath, &s.settings); err != nil {
		return fmt.Errorf("load stream settings: %w", err)
	}
	return nil
}

// saveSelectionsLocked writes the selections file. Must be called with mu held.
func (s *Service) saveSelectionsLocked() error {
	return writeJSONAtomic(s.selectionsPath, s.selections)
}

// saveSettingsLocked writes the settings file. Must be called with mu held.
func (s *Service) saveSettingsLocked() error {
	return writeJSONAtomic(s.settingsPath, s.settings)
}

func loadJSON(path string, out any) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(out)
}

// writeJSONAtomic writes to a temp file first, then renames over the target.
func writeJSONAtomic(path string, value any) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}
