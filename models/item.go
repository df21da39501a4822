package models

// TicksPerSecond is the media server's timestamp resolution.
const TicksPerSecond = 10_000_000

// SecondsToTicks converts playback seconds to server ticks.
func SecondsToTicks(seconds float64) int64 {
	return int64(seconds * TicksPerSecond)
}

// TicksToSeconds converts server ticks to playback seconds.
func TicksToSeconds(ticks int64) float64 {
	return float64(ticks) / TicksPerSecond
}

// MediaItem is a playable item as returned by the media server.
// JSON field names follow the server's PascalCase convention.
type MediaItem struct {
	ID                string        `json:"Id"`
	Name              string        `json:"Name"`
	Type              string        `json:"Type"` // Movie, Episode, Series, Season
	RunTimeTicks      int64         `json:"RunTimeTicks,omitempty"`
	SeriesID          string        `json:"SeriesId,omitempty"`
	SeriesName        string        `json:"SeriesName,omitempty"`
	SeasonID          string        `json:"SeasonId,omitempty"`
	IndexNumber       *int          `json:"IndexNumber,omitempty"`       // episode number
	ParentIndexNumber *int          `json:"ParentIndexNumber,omitempty"` // season number
	MediaSources      []MediaSource `json:"MediaSources,omitempty"`
	UserData          *UserData     `json:"UserData,omitempty"`
}

// RunTimeSeconds returns the item duration in seconds, or 0 if unknown.
func (m MediaItem) RunTimeSeconds() float64 {
	return TicksToSeconds(m.RunTimeTicks)
}

// DefaultSource returns the first media source, or nil if the item has none.
func (m *MediaItem) DefaultSource() *MediaSource {
	if len(m.MediaSources) == 0 {
		return nil
	}
	return &m.MediaSources[0]
}

// MediaSource is one encode of an item (container, streams).
type MediaSource struct {
	ID           string        `json:"Id"`
	Container    string        `json:"Container,omitempty"`
	RunTimeTicks int64         `json:"RunTimeTicks,omitempty"`
	Bitrate      int           `json:"Bitrate,omitempty"`
	MediaStreams []MediaStream `json:"MediaStreams,omitempty"`
}

// Stream type constants as used by the server.
const (
	StreamTypeVideo    = "Video"
	StreamTypeAudio    = "Audio"
	StreamTypeSubtitle = "Subtitle"
)

// MediaStream is a single video, audio, or subtitle stream inside a source.
type MediaStream struct {
	Index          int    `json:"Index"`
	Type           string `json:"Type"`
	Codec          string `json:"Codec,omitempty"`
	Language       string `json:"Language,omitempty"`
	DisplayTitle   string `json:"DisplayTitle,omitempty"`
	Title          string `json:"Title,omitempty"`
	IsDefault      bool   `json:"IsDefault,omitempty"`
	IsForced       bool   `json:"IsForced,omitempty"`
	IsExternal     bool   `json:"IsExternal,omitempty"`
	Height         int    `json:"Height,omitempty"`
	Width          int    `json:"Width,omitempty"`
	Channels       int    `json:"Channels,omitempty"`
	DeliveryMethod string `json:"DeliveryMethod,omitempty"` // External, Embed, Encode
}

// UserData carries the server-side watch state for an item.
type UserData struct {
	PlaybackPositionTicks int64   `json:"PlaybackPositionTicks"`
	PlayCount             int     `json:"PlayCount"`
	Played                bool    `json:"Played"`
	PlayedPercentage      float64 `json:"PlayedPercentage,omitempty"`
}

// Episode is the slim shape used for season adjacency lookups.
type Episode struct {
	ID                string `json:"Id"`
	Name              string `json:"Name"`
	SeriesID          string `json:"SeriesId,omitempty"`
	SeasonID          string `json:"SeasonId,omitempty"`
	IndexNumber       *int   `json:"IndexNumber,omitempty"`
	ParentIndexNumber *int   `json:"ParentIndexNumber,omitempty"`
}
