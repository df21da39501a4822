package episodes

import (
	"context"
	"log"
	"sync"
	"time"

	"finplay/models"
	"finplay/services/session"
)

// sessionController is the slice of the session manager autoplay drives.
type sessionController interface {
	Status() session.Status
	Item() *models.MediaItem
	Start(ctx context.Context, itemID string, opts session.StartOptions) error
	Play() error
}

// Autoplay watches the session for end-of-episode and arms the auto-advance
// countdown toward the next episode. User interaction cancels the pending
// countdown through CancelPending.
type Autoplay struct {
	resolver *Resolver
	advance  *AutoAdvance
	ctrl     sessionController
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once

	lastHandled string
}

// NewAutoplay creates the watcher. delay is the countdown before the next
// episode starts.
func NewAutoplay(resolver *Resolver, ctrl sessionController, delay time.Duration) *Autoplay {
	return &Autoplay{
		resolver: resolver,
		advance:  NewAutoAdvance(delay),
		ctrl:     ctrl,
		interval: time.Second,
		stop:     make(chan struct{}),
	}
}

// Run polls the session until Stop is called. Intended as a goroutine.
func (a *Autoplay) Run() {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.check()
		}
	}
}

func (a *Autoplay) check() {
	st := a.ctrl.Status()
	if st.State != session.StateEnded || st.ItemID == "" || st.ItemID == a.lastHandled {
		return
	}
	a.lastHandled = st.ItemID

	item := a.ctrl.Item()
	if item == nil || item.Type != "Episode" || item.SeriesID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	adj, err := a.resolver.ResolveAdjacent(ctx, item.SeriesID, item.SeasonID, item.ID)
	cancel()
	if err != nil {
		log.Printf("[autoplay] adjacency lookup failed for %s: %v", item.ID, err)
		return
	}
	if adj.Next == nil {
		log.Printf("[autoplay] %s is the last episode of its season", item.ID)
		return
	}

	log.Printf("[autoplay] advancing to %s (%s) after countdown", adj.Next.ID, adj.Next.Name)
	a.advance.Schedule(*adj.Next, func(next models.Episode) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.ctrl.Start(ctx, next.ID, session.StartOptions{}); err != nil {
			log.Printf("[autoplay] start next episode failed: %v", err)
			return
		}
		// Start leaves the session in Ready; the advance resumes playback.
		if err := a.ctrl.Play(); err != nil {
			log.Printf("[autoplay] resume next episode failed: %v", err)
		}
	})
}

// CancelPending clears any armed countdown. Called on user interaction.
func (a *Autoplay) CancelPending() {
	a.advance.Cancel()
}

// Stop halts the watcher and cancels any pending countdown. Deterministic:
// after Stop returns no late navigation can fire. Safe for concurrent use.
func (a *Autoplay) Stop() {
	a.advance.Cancel()
	a.stopOnce.Do(func() { close(a.stop) })
}
