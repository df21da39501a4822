// Package subtitles projects a cue set against the live playback clock and
// produces the single active cue's sanitized text. It never mutates the
// clock; evaluation is a pure read on every tick.
package subtitles

import (
	"sort"
	"time"

	"finplay/models"
)

// DefaultCueFallback is the assumed duration of a cue with no explicit end
// and no successor. A heuristic, not a server-specified value, so it stays
// configurable.
const DefaultCueFallback = 5 * time.Second

// CueSet is an ordered sequence of subtitle cues for one track.
type CueSet struct {
	cues          []models.SubtitleCue
	fallbackTicks int64
}

// Option adjusts CueSet construction.
type Option func(*CueSet)

// WithFallbackDuration overrides the inferred duration for tail cues that
// lack an explicit end.
func WithFallbackDuration(d time.Duration) Option {
	return func(s *CueSet) {
		if d > 0 {
			s.fallbackTicks = int64(d / 100) // 100ns per tick
		}
	}
}

// NewCueSet builds a cue set, sorting cues ascending by start tick and
// sanitizing each cue's text once up front.
func NewCueSet(cues []models.SubtitleCue, opts ...Option) *CueSet {
	s := &CueSet{
		cues:          make([]models.SubtitleCue, len(cues)),
		fallbackTicks: int64(DefaultCueFallback / 100),
	}
	copy(s.cues, cues)
	for _, opt := range opts {
		opt(s)
	}
	sort.SliceStable(s.cues, func(i, j int) bool {
		return s.cues[i].StartTicks < s.cues[j].StartTicks
	})
	for i := range s.cues {
		s.cues[i].Text = Sanitize(s.cues[i].Text)
	}
	return s
}

// Len returns the number of cues.
func (s *CueSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.cues)
}

// ActiveCue returns the cue text active at the given playback time, after
// applying the user delay offset in milliseconds (positive shows cues later).
// A cue is active when the effective time in ticks falls in [start, end),
// where end defaults to the next cue's start, or start plus the fallback
// duration for the last cue. Extreme offsets can push the effective time
// negative; nothing matches then.
func (s *CueSet) ActiveCue(seconds float64, offsetMs int) (string, bool) {
	if s == nil || len(s.cues) == 0 {
		return "", false
	}

	ticks := models.SecondsToTicks(seconds) - int64(offsetMs)*models.TicksPerSecond/1000
	if ticks < 0 {
		return "", false
	}

	for i, cue := range s.cues {
		if ticks < cue.StartTicks {
			// Cues are sorted; nothing later can match.
			return "", false
		}
		end := cue.EndTicks
		if end <= 0 {
			if i+1 < len(s.cues) {
				end = s.cues[i+1].StartTicks
			} else {
				end = cue.StartTicks + s.fallbackTicks
			}
		}
		if ticks < end {
			return cue.Text, true
		}
	}
	return "", false
}
