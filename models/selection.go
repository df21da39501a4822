package models

// PersistedSelection is the per-item track choice stored on disk, keyed by
// item id. Subtitle is nil when subtitles are off; a local-file selection is
// normalized to nil before storage.
type PersistedSelection struct {
	Audio    int  `json:"audio"`
	Subtitle *int `json:"subtitle"`
}

// StreamSettings holds user-wide streaming preferences, independent of any
// single item.
type StreamSettings struct {
	// MaxStreamingHeight caps the vertical resolution requested from the
	// server. 0 means uncapped.
	MaxStreamingHeight int `json:"maxStreamingHeight"`
	// PreferredAudioLanguage picks the audio track for items without a
	// stored selection. Empty defers to the server default.
	PreferredAudioLanguage string `json:"preferredAudioLanguage,omitempty"`
}
