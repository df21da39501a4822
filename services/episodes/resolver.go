// Package episodes resolves next/previous episodes within a season and
// drives the optional auto-advance countdown.
package episodes

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"finplay/models"
)

// episodeLister is the slice of the API client this package consumes.
type episodeLister interface {
	GetEpisodes(ctx context.Context, seriesID, seasonID string) ([]models.Episode, error)
}

// Adjacent holds the episodes surrounding the current one. Either side is
// nil at the edge of a season or when the current episode cannot be located.
type Adjacent struct {
	Next     *models.Episode `json:"next"`
	Previous *models.Episode `json:"previous"`
}

// Resolver computes episode adjacency from the server's season listing.
type Resolver struct {
	client episodeLister
}

// NewResolver creates a resolver backed by the given API client.
func NewResolver(client episodeLister) *Resolver {
	return &Resolver{client: client}
}

// ResolveAdjacent fetches the season's episode list, locates the current
// episode, and returns its neighbors in index-number order. A current episode
// missing from the listing (stale cache on the server side) resolves to
// neither neighbor rather than an error.
func (r *Resolver) ResolveAdjacent(ctx context.Context, seriesID, seasonID, currentEpisodeID string) (Adjacent, error) {
	episodes, err := r.client.GetEpisodes(ctx, seriesID, seasonID)
	if err != nil {
		return Adjacent{}, fmt.Errorf("list episodes: %w", err)
	}

	// The server returns episodes ordered by index number, but sorting is
	// cheap and protects adjacency against an out-of-order response.
	sort.SliceStable(episodes, func(i, j int) bool {
		return indexOf(episodes[i]) < indexOf(episodes[j])
	})

	pos := -1
	for i := range episodes {
		if episodes[i].ID == currentEpisodeID {
			pos = i
			break
		}
	}
	if pos < 0 {
		log.Printf("[episodes] episode %s not found in season %s listing", currentEpisodeID, seasonID)
		return Adjacent{}, nil
	}

	var adj Adjacent
	if pos > 0 {
		adj.Previous = &episodes[pos-1]
	}
	if pos+1 < len(episodes) {
		adj.Next = &episodes[pos+1]
	}
	return adj, nil
}

func indexOf(ep models.Episode) int {
	if ep.IndexNumber == nil {
		// Unnumbered specials sort last.
		return 1 << 30
	}
	return *ep.IndexNumber
}

// AutoAdvance owns the cancellable countdown that navigates to the next
// episode. The timer handle is explicit: teardown cancels deterministically,
// so a late navigation can never fire after the view is gone.
type AutoAdvance struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewAutoAdvance creates a countdown with the given delay.
func NewAutoAdvance(delay time.Duration) *AutoAdvance {
	return &AutoAdvance{delay: delay}
}

// Schedule arms the countdown for the given episode, superseding any pending
// one. navigate runs on the timer goroutine unless cancelled first.
func (a *AutoAdvance) Schedule(next models.Episode, navigate func(models.Episode)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopLocked()
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.delay, func() {
		a.mu.Lock()
		live := gen == a.gen
		a.mu.Unlock()
		if !live {
			// Cancelled between firing and acquiring the lock.
			return
		}
		navigate(next)
	})
}

// Cancel stops any pending countdown. Safe to call repeatedly and with no
// countdown armed.
func (a *AutoAdvance) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	a.stopLocked()
}

func (a *AutoAdvance) stopLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
