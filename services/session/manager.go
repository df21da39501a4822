// Package session owns the playback session lifecycle: it negotiates
// playback with the media server, attaches exactly one streaming pipeline at
// a time, drives the playback clock, reports progress, and rebuilds the
// pipeline on track or resolution changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"finplay/internal/hls"
	"finplay/models"
	"finplay/services/subtitles"
	"finplay/services/tracks"
)

var (
	// ErrPlayback marks a fatal pipeline failure. The session is left in
	// the Error state; the caller may retry with a lower resolution cap.
	ErrPlayback = errors.New("playback pipeline failed")
	// ErrNoVideoStream rejects items without a playable video stream.
	ErrNoVideoStream = errors.New("item has no video stream")
	// ErrSuperseded reports that a newer Start call won the race.
	ErrSuperseded = errors.New("session superseded")
	// ErrNoSession reports an operation that requires an active session.
	ErrNoSession = errors.New("no active session")
)

// seekThreshold suppresses redundant restore seeks: a restore within this
// distance of the current position is a no-op.
const seekThreshold = 0.5

// apiClient is the slice of the media server client the manager consumes.
type apiClient interface {
	GetItem(ctx context.Context, itemID string) (*models.MediaItem, error)
	PlaybackInfo(ctx context.Context, itemID string) ([]models.MediaSource, string, error)
	StreamURL(itemID, mediaSourceID, playSessionID string, audioIndex int, subtitleIndex *int, maxHeight int) string
	ReportPlaying(ctx context.Context, report models.ProgressReport) error
	ReportProgress(ctx context.Context, report models.ProgressReport) error
	ReportStopped(ctx context.Context, report models.ProgressReport) error
	GetSubtitleCues(ctx context.Context, itemID, mediaSourceID string, subtitleIndex int) ([]models.SubtitleCue, error)
}

// selectionStore persists the user's track and quality choices.
type selectionStore interface {
	Resolve(itemID string, catalog tracks.Catalog) (int, models.SubtitleSelection)
	Save(itemID string, audio int, subtitle models.SubtitleSelection) error
	StreamSettings() models.StreamSettings
	SetMaxStreamingHeight(height int) error
}

// historyStore records local playback positions.
type historyStore interface {
	Record(itemID string, positionSeconds, durationSeconds float64) error
	ResumePosition(itemID string) float64
}

// Options tunes manager behavior.
type Options struct {
	// ClockInterval is the playback clock resolution. Default 250ms.
	ClockInterval time.Duration
	// ReportInterval is the media time between progress reports. Default 2s.
	ReportInterval time.Duration
	// CueFallback is the inferred duration of tail subtitle cues.
	CueFallback time.Duration
}

func (o *Options) fill() {
	if o.ClockInterval <= 0 {
		o.ClockInterval = 250 * time.Millisecond
	}
	if o.ReportInterval <= 0 {
		o.ReportInterval = 2 * time.Second
	}
	if o.CueFallback <= 0 {
		o.CueFallback = subtitles.DefaultCueFallback
	}
}

// StartOptions override the persisted defaults for one Start call. Nil
// fields fall back to the stored selection / settings.
type StartOptions struct {
	AudioIndex     *int
	Subtitle       *models.SubtitleSelection
	MaxHeight      *int
	StartAtSeconds *float64
}

// Manager is the playback session manager. All exported methods are safe for
// concurrent use; internally a single mutex plus a session generation counter
// enforce "last switch wins".
type Manager struct {
	client      apiClient
	selections  selectionStore
	history     historyStore
	newPipeline func() hls.Pipeline
	opts        Options

	mu        sync.Mutex
	gen       uint64
	state     State
	lastErr   error
	session   models.PlaybackSession
	item      *models.MediaItem
	catalog   tracks.Catalog
	pipeline  hls.Pipeline
	duration  float64
	position  float64
	cues      *subtitles.CueSet
	offsetMs  int
	clockStop chan struct{}
}

// NewManager wires a session manager. newPipeline produces a fresh pipeline
// per session instance; history may be nil to disable local resume.
func NewManager(client apiClient, selections selectionStore, history historyStore, newPipeline func() hls.Pipeline, opts Options) *Manager {
	opts.fill()
	return &Manager{
		client:      client,
		selections:  selections,
		history:     history,
		newPipeline: newPipeline,
		opts:        opts,
		state:       StateIdle,
	}
}

// Start negotiates playback for an item and attaches a fresh pipeline,
// returning once the manifest is parsed (Ready) or the pipeline fails
// (Error). Any prior session is fully torn down first. resumePlaying
// is false for a fresh start; switch rebuilds pass true to resume playback
// automatically.
func (m *Manager) Start(ctx context.Context, itemID string, opts StartOptions) error {
	return m.start(ctx, itemID, opts, false)
}

func (m *Manager) start(ctx context.Context, itemID string, opts StartOptions, resumePlaying bool) error {
	// Supersede and dispose the previous pipeline before anything else:
	// two attached pipelines would mean duplicate listeners and reports.
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.detachLocked()
	m.state = StateLoading
	m.lastErr = nil
	// A rebuild of the same item carrying a local subtitle selection keeps
	// its cue set: the cues live in memory and the rebuild does not
	// invalidate them.
	keepCues := opts.Subtitle != nil && opts.Subtitle.Mode == models.SubtitleLocal && itemID == m.session.ItemID
	if !keepCues {
		m.cues = nil
	}
	m.mu.Unlock()

	// Item metadata and playback negotiation are independent calls.
	var (
		item    *models.MediaItem
		itemErr error
		sources []models.MediaSource
		playSID string
		infoErr error
	)
	var wg conc.WaitGroup
	wg.Go(func() { item, itemErr = m.client.GetItem(ctx, itemID) })
	wg.Go(func() { sources, playSID, infoErr = m.client.PlaybackInfo(ctx, itemID) })
	wg.Wait()
	if itemErr != nil {
		return m.fail(gen, fmt.Errorf("fetch item: %w", itemErr))
	}
	if infoErr != nil {
		return m.fail(gen, fmt.Errorf("negotiate playback: %w", infoErr))
	}

	source := pickSource(item, sources)
	if source == nil || !hasVideoStream(source) {
		return m.fail(gen, ErrNoVideoStream)
	}
	if playSID == "" {
		playSID = uuid.NewString()
	}

	catalog := tracks.Build(source)
	audio, subtitle := m.selections.Resolve(itemID, catalog)
	if opts.AudioIndex != nil && catalog.HasAudioIndex(*opts.AudioIndex) {
		audio = *opts.AudioIndex
	}
	if opts.Subtitle != nil {
		subtitle = *opts.Subtitle
	}
	maxHeight := m.selections.StreamSettings().MaxStreamingHeight
	if opts.MaxHeight != nil {
		maxHeight = *opts.MaxHeight
	}

	manifestURL := m.client.StreamURL(itemID, source.ID, playSID, audio, subtitle.TrackIndexOrNil(), maxHeight)

	pipeline := m.newPipeline()
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		pipeline.Detach()
		return ErrSuperseded
	}
	m.pipeline = pipeline
	m.item = item
	m.catalog = catalog
	m.session = models.PlaybackSession{
		ItemID:        itemID,
		MediaSourceID: source.ID,
		PlaySessionID: playSID,
		AudioIndex:    audio,
		Subtitle:      subtitle,
		MaxHeight:     maxHeight,
		StartedAt:     time.Now().UTC(),
	}
	m.mu.Unlock()

	// The cue fetch is unordered with respect to manifest parsing; the
	// renderer shows nothing until cues arrive. It runs on its own context:
	// the caller's request context ends as soon as the response is written,
	// long before a slow cue fetch completes.
	if subtitle.Mode == models.SubtitleTrack {
		go m.fetchCues(gen, itemID, source.ID, subtitle.TrackIndex)
	}

	events := pipeline.Attach(ctx, manifestURL, maxHeight)
	ev, ok := waitEvent(ctx, events)
	if !ok {
		pipeline.Detach()
		if err := ctx.Err(); err != nil {
			return m.fail(gen, err)
		}
		// Channel closed without a terminal event: a newer session
		// detached this pipeline mid-parse.
		return ErrSuperseded
	}
	if ev.Type == hls.EventFatal {
		pipeline.Detach()
		return m.fail(gen, fmt.Errorf("%w: %v", ErrPlayback, ev.Err))
	}

	duration := ev.Duration
	if duration <= 0 {
		duration = item.RunTimeSeconds()
	}

	startAt := m.resumePoint(item, opts)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		pipeline.Detach()
		return ErrSuperseded
	}
	m.duration = duration
	m.state = StateReady
	// Restore happens exactly once, before the progress loop starts
	// sampling, so restoration and reporting never race.
	m.restoreLocked(startAt)
	if resumePlaying {
		m.state = StatePlaying
	}
	stop := make(chan struct{})
	m.clockStop = stop
	go m.runClock(gen, stop)
	report := m.progressReportLocked()
	m.mu.Unlock()

	go func() {
		if err := m.client.ReportPlaying(context.Background(), report); err != nil {
			log.Printf("[session] report playing failed: %v", err)
		}
	}()

	log.Printf("[session] started item %s source %s audio=%d subtitle=%s cap=%d at %.1fs",
		itemID, source.ID, audio, subtitle.Mode, maxHeight, startAt)
	return nil
}

// fail records a fatal start error unless a newer session already took over.
func (m *Manager) fail(gen uint64, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrSuperseded
	}
	m.state = StateError
	m.lastErr = err
	m.pipeline = nil
	log.Printf("[session] start failed: %v", err)
	return err
}

// resumePoint picks the position to restore: explicit request, then the
// server's stored position, then local history.
func (m *Manager) resumePoint(item *models.MediaItem, opts StartOptions) float64 {
	if opts.StartAtSeconds != nil {
		return *opts.StartAtSeconds
	}
	if item.UserData != nil && item.UserData.PlaybackPositionTicks > 0 {
		return models.TicksToSeconds(item.UserData.PlaybackPositionTicks)
	}
	if m.history != nil {
		return m.history.ResumePosition(item.ID)
	}
	return 0
}

// restoreLocked seeks to the resume point, skipping redundant seeks within
// the threshold. Must be called with mu held.
func (m *Manager) restoreLocked(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	delta := seconds - m.position
	if delta < 0 {
		delta = -delta
	}
	if delta > seekThreshold {
		m.position = seconds
	}
	m.session.LastReportedSec = m.position
}

// fetchCues loads a server subtitle track once per activation. Failures are
// best-effort: logged, and the renderer simply shows nothing.
func (m *Manager) fetchCues(gen uint64, itemID, sourceID string, index int) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	cues, err := m.client.GetSubtitleCues(ctx, itemID, sourceID, index)
	if err != nil {
		log.Printf("[session] subtitle fetch failed for %s track %d: %v", itemID, index, err)
		return
	}
	set := subtitles.NewCueSet(cues, subtitles.WithFallbackDuration(m.opts.CueFallback))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.cues = set
	log.Printf("[session] loaded %d subtitle cues for %s track %d", set.Len(), itemID, index)
}

// Play resumes playback. Valid from Ready or Paused.
func (m *Manager) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateReady, StatePaused, StatePlaying:
		m.state = StatePlaying
		return nil
	default:
		return fmt.Errorf("%w: cannot play from %s", ErrNoSession, m.state)
	}
}

// Pause suspends the playback clock.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StatePlaying, StatePaused, StateReady:
		if m.state == StatePlaying {
			m.state = StatePaused
		}
		return nil
	default:
		return fmt.Errorf("%w: cannot pause from %s", ErrNoSession, m.state)
	}
}

// Seek moves the playback position. Clamped to [0, duration].
func (m *Manager) Seek(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.active() || m.state == StateLoading {
		return ErrNoSession
	}
	if seconds < 0 {
		seconds = 0
	}
	if m.duration > 0 && seconds > m.duration {
		seconds = m.duration
	}
	m.position = seconds
	m.session.LastReportedSec = seconds
	return nil
}

// SwitchAudio tears down the pipeline and rebuilds it with a new audio
// track, preserving position and play state. The choice is persisted.
func (m *Manager) SwitchAudio(ctx context.Context, index int) error {
	return m.rebuild(ctx, func(s *models.PlaybackSession) error {
		if !m.catalog.HasAudioIndex(index) {
			return fmt.Errorf("audio track %d not in catalog", index)
		}
		s.AudioIndex = index
		return nil
	})
}

// SwitchSubtitle rebuilds the session with a new subtitle selection. Local
// selections must be loaded separately via SetLocalSubtitles.
func (m *Manager) SwitchSubtitle(ctx context.Context, sel models.SubtitleSelection) error {
	return m.rebuild(ctx, func(s *models.PlaybackSession) error {
		if sel.Mode == models.SubtitleTrack && !m.catalog.HasSubtitleIndex(sel.TrackIndex) {
			return fmt.Errorf("subtitle track %d not in catalog", sel.TrackIndex)
		}
		s.Subtitle = sel
		return nil
	})
}

// SwitchResolution rebuilds the session under a new resolution cap and
// persists the cap as a user-wide setting.
func (m *Manager) SwitchResolution(ctx context.Context, maxHeight int) error {
	if err := m.selections.SetMaxStreamingHeight(maxHeight); err != nil {
		log.Printf("[session] persist resolution cap failed: %v", err)
	}
	return m.rebuild(ctx, func(s *models.PlaybackSession) error {
		s.MaxHeight = maxHeight
		return nil
	})
}

// rebuild implements the switch path: capture live position and play state,
// apply the mutation, persist the track pair, and restart with the live
// position rather than the server resume point.
func (m *Manager) rebuild(ctx context.Context, mutate func(*models.PlaybackSession) error) error {
	m.mu.Lock()
	if !m.state.active() || m.state == StateLoading {
		m.mu.Unlock()
		return ErrNoSession
	}
	next := m.session
	if err := mutate(&next); err != nil {
		m.mu.Unlock()
		return err
	}
	wasPlaying := m.state == StatePlaying
	position := m.position
	m.state = StateSwitching
	m.mu.Unlock()

	if err := m.selections.Save(next.ItemID, next.AudioIndex, next.Subtitle); err != nil {
		log.Printf("[session] persist selection failed: %v", err)
	}

	return m.start(ctx, next.ItemID, StartOptions{
		AudioIndex:     &next.AudioIndex,
		Subtitle:       &next.Subtitle,
		MaxHeight:      &next.MaxHeight,
		StartAtSeconds: &position,
	}, wasPlaying)
}

// SetLocalSubtitles parses an uploaded subtitle file and activates it for
// the current session. No pipeline rebuild: local cues are rendered client
// side. The selection is persisted with the subtitle normalized to null.
func (m *Manager) SetLocalSubtitles(name string, data []byte) error {
	cues, err := subtitles.ParseFile(name, data)
	if err != nil {
		return err
	}
	set := subtitles.NewCueSet(cues, subtitles.WithFallbackDuration(m.opts.CueFallback))

	m.mu.Lock()
	if !m.state.active() {
		m.mu.Unlock()
		return ErrNoSession
	}
	m.cues = set
	m.session.Subtitle = models.SubtitleSelection{Mode: models.SubtitleLocal}
	itemID, audio, sel := m.session.ItemID, m.session.AudioIndex, m.session.Subtitle
	m.mu.Unlock()

	if err := m.selections.Save(itemID, audio, sel); err != nil {
		log.Printf("[session] persist selection failed: %v", err)
	}
	log.Printf("[session] loaded %d local subtitle cues from %s", set.Len(), name)
	return nil
}

// SetSubtitleOffset adjusts the cue timing offset in milliseconds. Positive
// shows cues later. Unclamped: extreme offsets may render no cue at all.
func (m *Manager) SetSubtitleOffset(offsetMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsetMs = offsetMs
}

// ActiveCue returns the sanitized text of the subtitle cue active at the
// current playback position, if any.
func (m *Manager) ActiveCue() (string, bool) {
	m.mu.Lock()
	cues, pos, offset := m.cues, m.position, m.offsetMs
	off := m.session.Subtitle.IsOff()
	m.mu.Unlock()
	if off || cues == nil {
		return "", false
	}
	return cues.ActiveCue(pos, offset)
}

// End tears the session down: pipeline detached, clock stopped, final
// position reported and recorded. Idempotent; safe on an Idle manager, and a
// second call performs no side effects.
func (m *Manager) End() {
	m.mu.Lock()
	if !m.state.active() {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.detachLocked()
	m.state = StateEnded
	report := m.progressReportLocked()
	itemID, position, duration := m.session.ItemID, m.position, m.duration
	m.mu.Unlock()

	m.finalize(itemID, position, duration, report)
}

// finalize sends the stop report and writes local history. Best-effort.
func (m *Manager) finalize(itemID string, position, duration float64, report models.ProgressReport) {
	if m.history != nil && itemID != "" {
		if err := m.history.Record(itemID, position, duration); err != nil {
			log.Printf("[session] record history failed: %v", err)
		}
	}
	if itemID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.client.ReportStopped(ctx, report); err != nil {
			log.Printf("[session] report stopped failed: %v", err)
		}
	}
	log.Printf("[session] ended item %s at %.1fs", itemID, position)
}

// detachLocked disposes the current pipeline and clock. Must be called with
// mu held.
func (m *Manager) detachLocked() {
	if m.pipeline != nil {
		m.pipeline.Detach()
		m.pipeline = nil
	}
	if m.clockStop != nil {
		close(m.clockStop)
		m.clockStop = nil
	}
}

// runClock advances the playback position while in Playing and emits
// throttled progress reports. One clock goroutine exists per session
// generation; a stale clock exits on its stop channel.
func (m *Manager) runClock(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(m.opts.ClockInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			m.advance(gen, now.Sub(last).Seconds())
			last = now
		}
	}
}

func (m *Manager) advance(gen uint64, elapsed float64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StatePlaying {
		m.mu.Unlock()
		return
	}
	m.position += elapsed
	ended := m.duration > 0 && m.position >= m.duration
	if ended {
		m.position = m.duration
	}

	// Progress is reported only while actively playing, roughly once per
	// ReportInterval of media time, plus a final report at end of media.
	shouldReport := ended || m.position-m.session.LastReportedSec >= m.opts.ReportInterval.Seconds()
	var report models.ProgressReport
	if shouldReport {
		m.session.LastReportedSec = m.position
		report = m.progressReportLocked()
	}

	var (
		itemID   string
		position float64
		duration float64
	)
	if ended {
		m.gen++
		m.detachLocked()
		m.state = StateEnded
		itemID, position, duration = m.session.ItemID, m.position, m.duration
	}
	m.mu.Unlock()

	if shouldReport && !ended {
		// Fire-and-forget: telemetry never blocks playback.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.client.ReportProgress(ctx, report); err != nil {
				log.Printf("[session] report progress failed: %v", err)
			}
		}()
	}
	if ended {
		go m.finalize(itemID, position, duration, report)
	}
}

// progressReportLocked snapshots the telemetry payload. Must be called with
// mu held.
func (m *Manager) progressReportLocked() models.ProgressReport {
	return models.ProgressReport{
		ItemID:         m.session.ItemID,
		MediaSourceID:  m.session.MediaSourceID,
		PlaySessionID:  m.session.PlaySessionID,
		PositionTicks:  models.SecondsToTicks(m.position),
		AudioStreamIdx: m.session.AudioIndex,
		SubtitleStream: m.session.Subtitle.TrackIndexOrNil(),
		IsPaused:       m.state != StatePlaying,
		PlayMethod:     "Transcode",
	}
}

// Status is a read-only snapshot of the session for the control API.
type Status struct {
	State            State                    `json:"state"`
	ItemID           string                   `json:"itemId,omitempty"`
	PlaySessionID    string                   `json:"playSessionId,omitempty"`
	Position         float64                  `json:"position"`
	Duration         float64                  `json:"duration"`
	AudioIndex       int                      `json:"audioIndex"`
	Subtitle         models.SubtitleSelection `json:"subtitle"`
	SubtitleOffsetMs int                      `json:"subtitleOffsetMs"`
	MaxHeight        int                      `json:"maxHeight"`
	ActiveCue        string                   `json:"activeCue,omitempty"`
	Catalog          tracks.Catalog           `json:"catalog"`
	Error            string                   `json:"error,omitempty"`
}

// Status returns the current session snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	st := Status{
		State:            m.state,
		ItemID:           m.session.ItemID,
		PlaySessionID:    m.session.PlaySessionID,
		Position:         m.position,
		Duration:         m.duration,
		AudioIndex:       m.session.AudioIndex,
		Subtitle:         m.session.Subtitle,
		SubtitleOffsetMs: m.offsetMs,
		MaxHeight:        m.session.MaxHeight,
		Catalog:          m.catalog,
	}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	cues, pos, offset := m.cues, m.position, m.offsetMs
	subOff := m.session.Subtitle.IsOff()
	m.mu.Unlock()

	if !subOff && cues != nil {
		if text, ok := cues.ActiveCue(pos, offset); ok {
			st.ActiveCue = text
		}
	}
	return st
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Item returns the item attached to the current session, or nil.
func (m *Manager) Item() *models.MediaItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.item
}

// pickSource prefers the negotiated source matching the item's default, else
// the first negotiated source.
func pickSource(item *models.MediaItem, sources []models.MediaSource) *models.MediaSource {
	if len(sources) == 0 {
		return nil
	}
	if def := item.DefaultSource(); def != nil {
		for i := range sources {
			if sources[i].ID == def.ID {
				return &sources[i]
			}
		}
	}
	return &sources[0]
}

func hasVideoStream(source *models.MediaSource) bool {
	for _, s := range source.MediaStreams {
		if s.Type == models.StreamTypeVideo {
			return true
		}
	}
	return false
}

// waitEvent blocks for the pipeline's terminal event or context cancellation.
func waitEvent(ctx context.Context, events <-chan hls.Event) (hls.Event, bool) {
	select {
	case ev, ok := <-events:
		if !ok {
			return hls.Event{}, false
		}
		return ev, true
	case <-ctx.Done():
		return hls.Event{}, false
	}
}
