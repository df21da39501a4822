package models

import "time"

// SubtitleMode describes where the active subtitle track comes from.
type SubtitleMode string

const (
	// SubtitleOff disables subtitles.
	SubtitleOff SubtitleMode = "off"
	// SubtitleTrack selects a server-side subtitle stream by index.
	SubtitleTrack SubtitleMode = "track"
	// SubtitleLocal selects cues parsed from an uploaded file. Local
	// selections are never persisted; file contents do not survive restarts.
	SubtitleLocal SubtitleMode = "local"
)

// SubtitleSelection names the subtitle track in effect for a session.
// TrackIndex is meaningful only when Mode is SubtitleTrack.
type SubtitleSelection struct {
	Mode       SubtitleMode `json:"mode"`
	TrackIndex int          `json:"trackIndex,omitempty"`
}

// NoSubtitles is the zero selection.
func NoSubtitles() SubtitleSelection {
	return SubtitleSelection{Mode: SubtitleOff}
}

// ServerTrack selects the subtitle stream with the given server index.
func ServerTrack(index int) SubtitleSelection {
	return SubtitleSelection{Mode: SubtitleTrack, TrackIndex: index}
}

// IsOff reports whether no subtitle track is selected.
func (s SubtitleSelection) IsOff() bool {
	return s.Mode == SubtitleOff || s.Mode == ""
}

// TrackIndexOrNil returns the server track index, or nil when the selection
// is off or local. Used for progress reports and persistence.
func (s SubtitleSelection) TrackIndexOrNil() *int {
	if s.Mode != SubtitleTrack {
		return nil
	}
	idx := s.TrackIndex
	return &idx
}

// PlaybackSession identifies one active stream attempt. Owned exclusively by
// the session manager; a new session supersedes the old on every track or
// resolution change.
type PlaybackSession struct {
	ItemID          string            `json:"itemId"`
	MediaSourceID   string            `json:"mediaSourceId"`
	PlaySessionID   string            `json:"playSessionId"`
	AudioIndex      int               `json:"audioIndex"`
	Subtitle        SubtitleSelection `json:"subtitle"`
	MaxHeight       int               `json:"maxHeight,omitempty"` // 0 = uncapped
	StartedAt       time.Time         `json:"startedAt"`
	LastReportedSec float64           `json:"lastReportedSec"`
}

// ProgressReport is the telemetry payload sent to the media server.
// Field names follow the server's session-reporting convention.
type ProgressReport struct {
	ItemID         string `json:"ItemId"`
	MediaSourceID  string `json:"MediaSourceId"`
	PlaySessionID  string `json:"PlaySessionId"`
	PositionTicks  int64  `json:"PositionTicks"`
	AudioStreamIdx int    `json:"AudioStreamIndex"`
	SubtitleStream *int   `json:"SubtitleStreamIndex,omitempty"`
	IsPaused       bool   `json:"IsPaused"`
	PlayMethod     string `json:"PlayMethod"`
}
