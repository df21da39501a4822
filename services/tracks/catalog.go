// Package tracks derives the selectable audio/subtitle track catalog for a
// media source. The catalog is read-only and rebuilt whenever the underlying
// item metadata changes.
package tracks

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"finplay/models"
)

// AudioTrack is one selectable audio stream.
type AudioTrack struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Language string `json:"language,omitempty"`
	Codec    string `json:"codec,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// SubtitleTrack is one selectable subtitle stream.
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Language string `json:"language,omitempty"`
	Codec    string `json:"codec,omitempty"`
	Forced   bool   `json:"forced,omitempty"`
	// External reports whether the server can deliver the track as a
	// standalone cue stream rather than burning it in.
	External bool `json:"external,omitempty"`
}

// Catalog is the set of selectable tracks for one media source.
type Catalog struct {
	Audio     []AudioTrack    `json:"audio"`
	Subtitles []SubtitleTrack `json:"subtitles"`
}

// Build derives the catalog from a media source's streams. A nil source
// yields an empty catalog.
func Build(source *models.MediaSource) Catalog {
	var c Catalog
	if source == nil {
		return c
	}
	for _, s := range source.MediaStreams {
		switch s.Type {
		case models.StreamTypeAudio:
			c.Audio = append(c.Audio, AudioTrack{
				Index:    s.Index,
				Label:    audioLabel(s),
				Language: s.Language,
				Codec:    s.Codec,
				Default:  s.IsDefault,
			})
		case models.StreamTypeSubtitle:
			c.Subtitles = append(c.Subtitles, SubtitleTrack{
				Index:    s.Index,
				Title:    subtitleTitle(s),
				Language: s.Language,
				Codec:    s.Codec,
				Forced:   s.IsForced || titleSaysForced(s.Title),
				External: s.IsExternal || s.DeliveryMethod == "External",
			})
		}
	}
	return c
}

// HasAudioIndex reports whether the catalog contains an audio track with the
// given server stream index.
func (c Catalog) HasAudioIndex(index int) bool {
	for _, t := range c.Audio {
		if t.Index == index {
			return true
		}
	}
	return false
}

// HasSubtitleIndex reports whether the catalog contains a subtitle track with
// the given server stream index.
func (c Catalog) HasSubtitleIndex(index int) bool {
	for _, t := range c.Subtitles {
		if t.Index == index {
			return true
		}
	}
	return false
}

// DefaultAudioIndex returns the stream marked default by the server, else the
// first audio track, else -1 for a source without audio.
func (c Catalog) DefaultAudioIndex() int {
	for _, t := range c.Audio {
		if t.Default {
			return t.Index
		}
	}
	if len(c.Audio) > 0 {
		return c.Audio[0].Index
	}
	return -1
}

// FindAudioByLanguage returns the index of the first non-commentary audio
// track matching the preferred language, falling back to a commentary match.
// Returns -1 when nothing matches.
func (c Catalog) FindAudioByLanguage(preferred string) int {
	pref := strings.ToLower(strings.TrimSpace(preferred))
	if pref == "" {
		return -1
	}
	for _, t := range c.Audio {
		if matchesLanguage(t.Language, t.Label, pref) && !isCommentaryTrack(t.Label) {
			return t.Index
		}
	}
	for _, t := range c.Audio {
		if matchesLanguage(t.Language, t.Label, pref) {
			return t.Index
		}
	}
	return -1
}

// audioLabel prefers the server's display title, otherwise composes
// "<Language> (<codec>, <channels>)" from stream metadata.
func audioLabel(s models.MediaStream) string {
	if s.DisplayTitle != "" {
		return s.DisplayTitle
	}
	name := languageName(s.Language)
	if s.Codec == "" {
		return name
	}
	if s.Channels > 0 {
		return fmt.Sprintf("%s (%s %dch)", name, strings.ToUpper(s.Codec), s.Channels)
	}
	return fmt.Sprintf("%s (%s)", name, strings.ToUpper(s.Codec))
}

// subtitleTitle prefers explicit titles, then display title, then language.
func subtitleTitle(s models.MediaStream) string {
	if s.Title != "" {
		return s.Title
	}
	if s.DisplayTitle != "" {
		return s.DisplayTitle
	}
	return languageName(s.Language)
}

// languageName maps a language code ("eng", "fr") to an English display name.
// Unrecognized codes come back verbatim; empty input becomes "Unknown".
func languageName(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "Unknown"
	}
	tag := language.Make(code)
	if tag == language.Und {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// matchesLanguage checks a stream's language or label against the preference,
// allowing partial matches in both directions.
func matchesLanguage(lang, label, normalizedPref string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	label = strings.ToLower(strings.TrimSpace(label))
	if lang == normalizedPref || label == normalizedPref {
		return true
	}
	if lang != "" && (strings.Contains(lang, normalizedPref) || strings.Contains(normalizedPref, lang)) {
		return true
	}
	if label != "" && strings.Contains(label, normalizedPref) {
		return true
	}
	return false
}

// isCommentaryTrack flags commentary and isolated-score audio tracks by title.
func isCommentaryTrack(title string) bool {
	lower := strings.ToLower(strings.TrimSpace(title))
	for _, indicator := range []string{"commentary", "isolated score", "music only", "score only"} {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// titleSaysForced catches forced tracks whose disposition flag is unset but
// whose title carries the word.
func titleSaysForced(title string) bool {
	return strings.Contains(strings.ToLower(title), "forced")
}
