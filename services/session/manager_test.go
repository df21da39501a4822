package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"finplay/internal/hls"
	"finplay/models"
	"finplay/services/selection"
)

// fakeClient is an in-memory media server.
type fakeClient struct {
	mu sync.Mutex

	item     *models.MediaItem
	sources  []models.MediaSource
	playSID  string
	itemErr  error
	infoErr  error
	cues     []models.SubtitleCue
	cueDelay time.Duration

	playing  []models.ProgressReport
	progress []models.ProgressReport
	stopped  []models.ProgressReport
}

func (f *fakeClient) GetItem(ctx context.Context, itemID string) (*models.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	return f.item, nil
}

func (f *fakeClient) PlaybackInfo(ctx context.Context, itemID string) ([]models.MediaSource, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, "", f.infoErr
	}
	return f.sources, f.playSID, nil
}

func (f *fakeClient) StreamURL(itemID, mediaSourceID, playSessionID string, audioIndex int, subtitleIndex *int, maxHeight int) string {
	return fmt.Sprintf("http://server/Videos/%s/master.m3u8?source=%s", itemID, mediaSourceID)
}

func (f *fakeClient) ReportPlaying(ctx context.Context, report models.ProgressReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = append(f.playing, report)
	return nil
}

func (f *fakeClient) ReportProgress(ctx context.Context, report models.ProgressReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, report)
	return nil
}

func (f *fakeClient) ReportStopped(ctx context.Context, report models.ProgressReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, report)
	return nil
}

func (f *fakeClient) GetSubtitleCues(ctx context.Context, itemID, mediaSourceID string, subtitleIndex int) ([]models.SubtitleCue, error) {
	f.mu.Lock()
	delay := f.cueDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cues, nil
}

func (f *fakeClient) stoppedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

// fakePipeline delivers one canned event per attach.
type fakePipeline struct {
	event hls.Event

	mu       sync.Mutex
	detached bool
}

func (p *fakePipeline) Attach(ctx context.Context, manifestURL string, maxHeight int) <-chan hls.Event {
	ch := make(chan hls.Event, 1)
	p.mu.Lock()
	detached := p.detached
	p.mu.Unlock()
	if !detached {
		ch <- p.event
	}
	close(ch)
	return ch
}

func (p *fakePipeline) Detach() {
	p.mu.Lock()
	p.detached = true
	p.mu.Unlock()
}

// fakeHistory records Record calls in memory.
type fakeHistory struct {
	mu       sync.Mutex
	resume   float64
	recorded []float64
}

func (f *fakeHistory) Record(itemID string, positionSeconds, durationSeconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, positionSeconds)
	return nil
}

func (f *fakeHistory) ResumePosition(itemID string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resume
}

func testItem() *models.MediaItem {
	return &models.MediaItem{
		ID:           "item-1",
		Name:         "A Movie",
		Type:         "Movie",
		RunTimeTicks: models.SecondsToTicks(3600),
		MediaSources: []models.MediaSource{{ID: "source-1"}},
	}
}

func testSources() []models.MediaSource {
	return []models.MediaSource{{
		ID: "source-1",
		MediaStreams: []models.MediaStream{
			{Index: 0, Type: models.StreamTypeVideo, Codec: "h264"},
			{Index: 1, Type: models.StreamTypeAudio, Language: "eng", IsDefault: true},
			{Index: 2, Type: models.StreamTypeAudio, Language: "fra"},
			{Index: 3, Type: models.StreamTypeSubtitle, Language: "eng"},
		},
	}}
}

type testEnv struct {
	client  *fakeClient
	manager *Manager
	store   *selection.Service
	history *fakeHistory
}

func newTestEnv(t *testing.T, event hls.Event, opts Options) *testEnv {
	t.Helper()
	client := &fakeClient{item: testItem(), sources: testSources(), playSID: "ps-1"}
	store, err := selection.NewService(t.TempDir())
	if err != nil {
		t.Fatalf("selection.NewService: %v", err)
	}
	hist := &fakeHistory{}
	manager := NewManager(client, store, hist, func() hls.Pipeline {
		return &fakePipeline{event: event}
	}, opts)
	t.Cleanup(manager.End)
	return &testEnv{client: client, manager: manager, store: store, history: hist}
}

func parsedEvent(duration float64) hls.Event {
	return hls.Event{Type: hls.EventManifestParsed, Duration: duration, Variant: hls.Variant{Height: 1080}}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStart_ReachesReady(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})

	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := env.manager.Status()
	if st.State != StateReady {
		t.Errorf("state = %s, want ready", st.State)
	}
	if st.Duration != 3600 {
		t.Errorf("duration = %v, want 3600", st.Duration)
	}
	if st.AudioIndex != 1 {
		t.Errorf("audio = %d, want server default 1", st.AudioIndex)
	}
	if !st.Subtitle.IsOff() {
		t.Errorf("subtitle = %+v, want off", st.Subtitle)
	}
	if st.PlaySessionID != "ps-1" {
		t.Errorf("playSessionId = %s, want the negotiated ps-1", st.PlaySessionID)
	}

	waitFor(t, "playing report", func() bool {
		env.client.mu.Lock()
		defer env.client.mu.Unlock()
		return len(env.client.playing) == 1
	})
}

func TestStart_DurationFallsBackToItemRuntime(t *testing.T) {
	env := newTestEnv(t, parsedEvent(0), Options{})

	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := env.manager.Status().Duration; got != 3600 {
		t.Errorf("duration = %v, want the item runtime 3600", got)
	}
}

func TestStart_FatalPipeline(t *testing.T) {
	env := newTestEnv(t, hls.Event{Type: hls.EventFatal, Err: errors.New("bad manifest")}, Options{})

	err := env.manager.Start(context.Background(), "item-1", StartOptions{})
	if !errors.Is(err, ErrPlayback) {
		t.Fatalf("got %v, want ErrPlayback", err)
	}

	st := env.manager.Status()
	if st.State != StateError {
		t.Errorf("state = %s, want error", st.State)
	}
	if !strings.Contains(st.Error, "bad manifest") {
		t.Errorf("status error = %q, want the pipeline failure", st.Error)
	}
}

func TestStart_ItemLookupFails(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.client.itemErr = errors.New("offline")

	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err == nil {
		t.Fatal("Start should fail when the item lookup fails")
	}
	if got := env.manager.State(); got != StateError {
		t.Errorf("state = %s, want error", got)
	}
}

func TestStart_NoVideoStream(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.client.sources = []models.MediaSource{{
		ID:           "source-1",
		MediaStreams: []models.MediaStream{{Index: 0, Type: models.StreamTypeAudio}},
	}}

	err := env.manager.Start(context.Background(), "item-1", StartOptions{})
	if !errors.Is(err, ErrNoVideoStream) {
		t.Errorf("got %v, want ErrNoVideoStream", err)
	}
}

func TestStart_GeneratesPlaySessionID(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.client.playSID = ""

	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if env.manager.Status().PlaySessionID == "" {
		t.Error("manager should generate a play session id when the server omits one")
	}
}

func TestStart_ResumesFromServerPosition(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.client.item.UserData = &models.UserData{PlaybackPositionTicks: models.SecondsToTicks(600)}

	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := env.manager.Status().Position; got != 600 {
		t.Errorf("position = %v, want the server resume point 600", got)
	}
}

func TestStart_ResumesFromLocalHistory(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.history.resume = 450

	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := env.manager.Status().Position; got != 450 {
		t.Errorf("position = %v, want the local resume point 450", got)
	}
}

func TestStart_RestoreSkipsTinySeek(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	startAt := 0.3

	if err := env.manager.Start(context.Background(), "item-1", StartOptions{StartAtSeconds: &startAt}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := env.manager.Status().Position; got != 0 {
		t.Errorf("position = %v, want 0: restores within the seek threshold are dropped", got)
	}
}

func TestPlayPauseSeek(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := env.manager.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := env.manager.State(); got != StatePlaying {
		t.Errorf("state = %s, want playing", got)
	}

	if err := env.manager.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := env.manager.State(); got != StatePaused {
		t.Errorf("state = %s, want paused", got)
	}

	if err := env.manager.Seek(100); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := env.manager.Status().Position; got != 100 {
		t.Errorf("position = %v, want 100", got)
	}
}

func TestSeek_Clamped(t *testing.T) {
	env := newTestEnv(t, parsedEvent(100), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := env.manager.Seek(-5); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := env.manager.Status().Position; got != 0 {
		t.Errorf("position = %v, want clamp to 0", got)
	}

	if err := env.manager.Seek(500); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := env.manager.Status().Position; got != 100 {
		t.Errorf("position = %v, want clamp to duration 100", got)
	}
}

func TestOperations_RequireSession(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})

	if err := env.manager.Play(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Play on idle = %v, want ErrNoSession", err)
	}
	if err := env.manager.Seek(10); !errors.Is(err, ErrNoSession) {
		t.Errorf("Seek on idle = %v, want ErrNoSession", err)
	}
	if err := env.manager.SwitchAudio(context.Background(), 2); !errors.Is(err, ErrNoSession) {
		t.Errorf("SwitchAudio on idle = %v, want ErrNoSession", err)
	}
}

func TestSwitchAudio_PreservesPositionAndPlayState(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.manager.Seek(500); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := env.manager.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if err := env.manager.SwitchAudio(context.Background(), 2); err != nil {
		t.Fatalf("SwitchAudio: %v", err)
	}

	st := env.manager.Status()
	if st.AudioIndex != 2 {
		t.Errorf("audio = %d, want 2", st.AudioIndex)
	}
	if st.State != StatePlaying {
		t.Errorf("state = %s, want playing preserved across the switch", st.State)
	}
	if st.Position < 499.5 || st.Position > 501 {
		t.Errorf("position = %v, want ~500 preserved across the switch", st.Position)
	}

	stored, ok := env.store.Get("item-1")
	if !ok || stored.Audio != 2 {
		t.Errorf("stored selection = %+v, want audio 2 persisted", stored)
	}
}

func TestSwitchAudio_UnknownTrack(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := env.manager.SwitchAudio(context.Background(), 42); err == nil {
		t.Error("SwitchAudio with an unknown index should fail")
	}
	if got := env.manager.Status().AudioIndex; got != 1 {
		t.Errorf("audio = %d, the failed switch must not change the session", got)
	}
}

func TestSwitchSubtitle_LoadsCues(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.client.cues = []models.SubtitleCue{
		{StartTicks: 0, EndTicks: models.SecondsToTicks(10), Text: "hello"},
	}
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := env.manager.SwitchSubtitle(context.Background(), models.ServerTrack(3)); err != nil {
		t.Fatalf("SwitchSubtitle: %v", err)
	}

	waitFor(t, "subtitle cues", func() bool {
		_, ok := env.manager.ActiveCue()
		return ok
	})
	if text, _ := env.manager.ActiveCue(); text != "hello" {
		t.Errorf("active cue = %q, want \"hello\"", text)
	}
}

func TestStart_CueFetchOutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.client.cues = []models.SubtitleCue{
		{StartTicks: 0, EndTicks: models.SecondsToTicks(10), Text: "hello"},
	}
	env.client.cueDelay = 50 * time.Millisecond

	sel := models.ServerTrack(3)
	ctx, cancel := context.WithCancel(context.Background())
	if err := env.manager.Start(ctx, "item-1", StartOptions{Subtitle: &sel}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The request context ends as soon as the caller has its response; the
	// slower cue fetch must still complete.
	cancel()

	waitFor(t, "subtitle cues after caller cancel", func() bool {
		_, ok := env.manager.ActiveCue()
		return ok
	})
	if text, _ := env.manager.ActiveCue(); text != "hello" {
		t.Errorf("active cue = %q, want \"hello\"", text)
	}
}

func TestSwitchSubtitle_UnknownTrack(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := env.manager.SwitchSubtitle(context.Background(), models.ServerTrack(42)); err == nil {
		t.Error("SwitchSubtitle with an unknown index should fail")
	}
}

func TestSwitchResolution_PersistsCap(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := env.manager.SwitchResolution(context.Background(), 720); err != nil {
		t.Fatalf("SwitchResolution: %v", err)
	}
	if got := env.manager.Status().MaxHeight; got != 720 {
		t.Errorf("maxHeight = %d, want 720", got)
	}
	if got := env.store.StreamSettings().MaxStreamingHeight; got != 720 {
		t.Errorf("persisted cap = %d, want 720", got)
	}
}

func TestSetLocalSubtitles(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srt := "1\n00:00:00,000 --> 00:00:10,000\nlocal cue\n"
	if err := env.manager.SetLocalSubtitles("upload.srt", []byte(srt)); err != nil {
		t.Fatalf("SetLocalSubtitles: %v", err)
	}

	st := env.manager.Status()
	if st.Subtitle.Mode != models.SubtitleLocal {
		t.Errorf("subtitle mode = %s, want local", st.Subtitle.Mode)
	}
	if text, ok := env.manager.ActiveCue(); !ok || text != "local cue" {
		t.Errorf("active cue = (%q, %v), want the uploaded cue", text, ok)
	}

	// Local selections persist as "no subtitle": file handles are gone after
	// a restart.
	stored, ok := env.store.Get("item-1")
	if !ok || stored.Subtitle != nil {
		t.Errorf("stored selection = %+v, want null subtitle", stored)
	}
}

func TestSwitchResolution_PreservesLocalCues(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srt := "1\n00:00:00,000 --> 00:00:10,000\nlocal cue\n"
	if err := env.manager.SetLocalSubtitles("upload.srt", []byte(srt)); err != nil {
		t.Fatalf("SetLocalSubtitles: %v", err)
	}
	if err := env.manager.Seek(5); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if err := env.manager.SwitchResolution(context.Background(), 720); err != nil {
		t.Fatalf("SwitchResolution: %v", err)
	}

	st := env.manager.Status()
	if st.Subtitle.Mode != models.SubtitleLocal {
		t.Fatalf("subtitle mode = %s, want local carried across the rebuild", st.Subtitle.Mode)
	}
	if text, ok := env.manager.ActiveCue(); !ok || text != "local cue" {
		t.Errorf("active cue = (%q, %v), local cues must survive the rebuild", text, ok)
	}
}

func TestSubtitleOffset(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srt := "1\n00:00:05,000 --> 00:00:07,000\ncue\n"
	if err := env.manager.SetLocalSubtitles("upload.srt", []byte(srt)); err != nil {
		t.Fatalf("SetLocalSubtitles: %v", err)
	}
	if err := env.manager.Seek(6); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if _, ok := env.manager.ActiveCue(); !ok {
		t.Fatal("cue should be active at 6s with no offset")
	}

	env.manager.SetSubtitleOffset(3000)
	if _, ok := env.manager.ActiveCue(); ok {
		t.Error("cue should not be active at 6s with +3000ms offset")
	}

	// An offset larger than the position pushes the effective time negative.
	env.manager.SetSubtitleOffset(10000)
	if _, ok := env.manager.ActiveCue(); ok {
		t.Error("negative effective time should render no cue")
	}
}

func TestEnd_Idempotent(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.manager.Seek(1000); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	env.manager.End()
	env.manager.End()

	if got := env.manager.State(); got != StateEnded {
		t.Errorf("state = %s, want ended", got)
	}
	if got := env.client.stoppedCount(); got != 1 {
		t.Errorf("stopped reports = %d, want exactly 1", got)
	}

	env.history.mu.Lock()
	defer env.history.mu.Unlock()
	if len(env.history.recorded) != 1 || env.history.recorded[0] != 1000 {
		t.Errorf("history = %v, want one record at 1000s", env.history.recorded)
	}
}

func TestEnd_OnIdleManager(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	env.manager.End()
	if got := env.manager.State(); got != StateIdle {
		t.Errorf("state = %s, End on idle must be a no-op", got)
	}
	if got := env.client.stoppedCount(); got != 0 {
		t.Errorf("stopped reports = %d, want none", got)
	}
}

func TestClock_ReachesEndOfMedia(t *testing.T) {
	env := newTestEnv(t, parsedEvent(0.2), Options{ClockInterval: 10 * time.Millisecond})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := env.manager.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	waitFor(t, "end of media", func() bool {
		return env.manager.State() == StateEnded
	})
	if got := env.manager.Status().Position; got != 0.2 {
		t.Errorf("position = %v, want clamped to duration 0.2", got)
	}
	waitFor(t, "stop report", func() bool {
		return env.client.stoppedCount() == 1
	})
}

func TestClock_DoesNotAdvanceWhilePaused(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{ClockInterval: 10 * time.Millisecond})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if got := env.manager.Status().Position; got != 0 {
		t.Errorf("position = %v, clock must not advance in ready state", got)
	}

	env.client.mu.Lock()
	reports := len(env.client.progress)
	env.client.mu.Unlock()
	if reports != 0 {
		t.Errorf("progress reports = %d, want none while not playing", reports)
	}
}

func TestStart_SupersedesPreviousSession(t *testing.T) {
	env := newTestEnv(t, parsedEvent(3600), Options{})
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := env.manager.Start(context.Background(), "item-1", StartOptions{}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := env.manager.State(); got != StateReady {
		t.Errorf("state = %s, want ready after the superseding start", got)
	}
}
