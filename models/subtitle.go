package models

// SubtitleCue is one timestamped subtitle fragment. EndTicks of 0 means the
// cue has no explicit end; the renderer infers one from the following cue or
// falls back to a fixed duration.
type SubtitleCue struct {
	StartTicks int64  `json:"startPositionTicks"`
	EndTicks   int64  `json:"endPositionTicks,omitempty"`
	Text       string `json:"text"`
}
