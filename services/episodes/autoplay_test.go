package episodes

import (
	"context"
	"sync"
	"testing"
	"time"

	"finplay/models"
	"finplay/services/session"
)

// fakeController is an in-memory session manager for the watcher.
type fakeController struct {
	mu      sync.Mutex
	status  session.Status
	item    *models.MediaItem
	started []string
	played  int
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) Item() *models.MediaItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.item
}

func (f *fakeController) Start(ctx context.Context, itemID string, opts session.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, itemID)
	return nil
}

func (f *fakeController) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played++
	return nil
}

func TestAutoplay_AdvanceResumesPlayback(t *testing.T) {
	ctrl := &fakeController{
		status: session.Status{State: session.StateEnded, ItemID: "e1"},
		item: &models.MediaItem{
			ID:       "e1",
			Type:     "Episode",
			SeriesID: "s1",
			SeasonID: "se1",
		},
	}
	resolver := NewResolver(&fakeLister{episodes: []models.Episode{
		{ID: "e1", IndexNumber: intPtr(1)},
		{ID: "e2", IndexNumber: intPtr(2)},
	}})
	a := NewAutoplay(resolver, ctrl, 10*time.Millisecond)

	a.check()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ctrl.mu.Lock()
		done := len(ctrl.started) == 1 && ctrl.played == 1
		ctrl.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.started) != 1 || ctrl.started[0] != "e2" {
		t.Errorf("started = %v, want [e2]", ctrl.started)
	}
	if ctrl.played != 1 {
		t.Errorf("played = %d, the next episode must resume playback after Start", ctrl.played)
	}
}

func TestAutoplay_MovieIsIgnored(t *testing.T) {
	ctrl := &fakeController{
		status: session.Status{State: session.StateEnded, ItemID: "m1"},
		item:   &models.MediaItem{ID: "m1", Type: "Movie"},
	}
	a := NewAutoplay(NewResolver(&fakeLister{}), ctrl, 10*time.Millisecond)

	a.check()

	time.Sleep(50 * time.Millisecond)
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.started) != 0 {
		t.Errorf("started = %v, movies must not auto-advance", ctrl.started)
	}
}

func TestAutoplay_StopConcurrent(t *testing.T) {
	a := NewAutoplay(NewResolver(&fakeLister{}), &fakeController{}, time.Minute)
	go a.Run()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Stop()
		}()
	}
	wg.Wait()
}
