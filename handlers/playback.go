package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"finplay/internal/jellyfin"
	"finplay/models"
	"finplay/services/session"
)

// maxSubtitleUpload caps uploaded subtitle files at 10MB.
const maxSubtitleUpload = 10 << 20

// sessionManager is the slice of the session manager the handler consumes.
type sessionManager interface {
	Start(ctx context.Context, itemID string, opts session.StartOptions) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	SwitchAudio(ctx context.Context, index int) error
	SwitchSubtitle(ctx context.Context, sel models.SubtitleSelection) error
	SwitchResolution(ctx context.Context, maxHeight int) error
	SetLocalSubtitles(name string, data []byte) error
	SetSubtitleOffset(offsetMs int)
	End()
	Status() session.Status
}

var _ sessionManager = (*session.Manager)(nil)

// autoplayCanceller cancels a pending next-episode countdown.
type autoplayCanceller interface {
	CancelPending()
}

// PlaybackHandler exposes the playback session over the local control API.
type PlaybackHandler struct {
	Manager  sessionManager
	Autoplay autoplayCanceller // optional
}

func NewPlaybackHandler(m sessionManager) *PlaybackHandler {
	return &PlaybackHandler{Manager: m}
}

// SetAutoplay wires the auto-advance canceller so user interaction clears a
// pending countdown.
func (h *PlaybackHandler) SetAutoplay(a autoplayCanceller) {
	h.Autoplay = a
}

// Start begins playback of an item, superseding any active session.
func (h *PlaybackHandler) Start(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ItemID     string                    `json:"itemId"`
		AudioIndex *int                      `json:"audioIndex,omitempty"`
		Subtitle   *models.SubtitleSelection `json:"subtitle,omitempty"`
		MaxHeight  *int                      `json:"maxHeight,omitempty"`
		StartAt    *float64                  `json:"startAtSeconds,omitempty"`
	}
	if err := decodeJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.ItemID == "" {
		http.Error(w, "itemId is required", http.StatusBadRequest)
		return
	}

	h.cancelAutoplay()
	err := h.Manager.Start(r.Context(), request.ItemID, session.StartOptions{
		AudioIndex:     request.AudioIndex,
		Subtitle:       request.Subtitle,
		MaxHeight:      request.MaxHeight,
		StartAtSeconds: request.StartAt,
	})
	if err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, h.Manager.Status())
}

// Pause suspends playback.
func (h *PlaybackHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.cancelAutoplay()
	if err := h.Manager.Pause(); err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, h.Manager.Status())
}

// Resume continues playback after a pause.
func (h *PlaybackHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.cancelAutoplay()
	if err := h.Manager.Play(); err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, h.Manager.Status())
}

// Seek jumps to an absolute position in seconds.
func (h *PlaybackHandler) Seek(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Seconds float64 `json:"seconds"`
	}
	if err := decodeJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.cancelAutoplay()
	if err := h.Manager.Seek(request.Seconds); err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, h.Manager.Status())
}

// Stop ends the active session. Always succeeds; End is idempotent.
func (h *PlaybackHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.cancelAutoplay()
	h.Manager.End()
	writeJSON(w, h.Manager.Status())
}

// SwitchAudio rebuilds the session with a different audio track.
func (h *PlaybackHandler) SwitchAudio(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Index int `json:"index"`
	}
	if err := decodeJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.cancelAutoplay()
	if err := h.Manager.SwitchAudio(r.Context(), request.Index); err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, h.Manager.Status())
}

// SwitchSubtitle rebuilds the session with a different subtitle selection.
// Local-file subtitles go through UploadSubtitle instead.
func (h *PlaybackHandler) SwitchSubtitle(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Mode  models.SubtitleMode `json:"mode"`
		Index int                 `json:"index,omitempty"`
	}
	if err := decodeJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Mode == models.SubtitleLocal {
		http.Error(w, "upload a subtitle file to select a local track", http.StatusBadRequest)
		return
	}

	sel := models.SubtitleSelection{Mode: request.Mode, TrackIndex: request.Index}
	h.cancelAutoplay()
	if err := h.Manager.SwitchSubtitle(r.Context(), sel); err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, h.Manager.Status())
}

// SwitchQuality rebuilds the session under a new resolution cap and stores
// the cap as the user-wide preference. 0 removes the cap.
func (h *PlaybackHandler) SwitchQuality(w http.ResponseWriter, r *http.Request) {
	var request struct {
		MaxHeight int `json:"maxHeight"`
	}
	if err := decodeJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.cancelAutoplay()
	if err := h.Manager.SwitchResolution(r.Context(), request.MaxHeight); err != nil {
		h.writePlaybackError(w, err)
		return
	}
	writeJSON(w, h.Manager.Status())
}

// UploadSubtitle accepts a subtitle file (multipart field "file") and
// activates it as a local track for the running session.
func (h *PlaybackHandler) UploadSubtitle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSubtitleUpload); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing subtitle file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSubtitleUpload))
	if err != nil {
		http.Error(w, "read subtitle file", http.StatusBadRequest)
		return
	}

	if err := h.Manager.SetLocalSubtitles(header.Filename, data); err != nil {
		h.writePlaybackError(w, err)
		return
	}
	log.Printf("[playback-handler] local subtitles loaded from %s (%d bytes)", header.Filename, len(data))
	writeJSON(w, h.Manager.Status())
}

// SubtitleOffset sets the cue timing offset in milliseconds.
func (h *PlaybackHandler) SubtitleOffset(w http.ResponseWriter, r *http.Request) {
	var request struct {
		OffsetMs int `json:"offsetMs"`
	}
	if err := decodeJSON(r, &request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Manager.SetSubtitleOffset(request.OffsetMs)
	writeJSON(w, h.Manager.Status())
}

// Status reports the current session snapshot including the active cue.
func (h *PlaybackHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Manager.Status())
}

func (h *PlaybackHandler) cancelAutoplay() {
	if h.Autoplay != nil {
		h.Autoplay.CancelPending()
	}
}

// writePlaybackError maps session errors onto HTTP statuses.
func (h *PlaybackHandler) writePlaybackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jellyfin.ErrItemNotFound), errors.Is(err, session.ErrNoVideoStream):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrSuperseded):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrPlayback):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}
