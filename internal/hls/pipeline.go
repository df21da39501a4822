// Package hls fetches and parses adaptive-streaming playlists and exposes a
// pipeline abstraction the session manager attaches to the playback surface.
package hls

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// EventType labels pipeline lifecycle events.
type EventType int

const (
	// EventManifestParsed signals the pipeline is ready to play.
	EventManifestParsed EventType = iota
	// EventFatal signals an unrecoverable pipeline failure. Terminal for
	// this pipeline instance; a new attach starts fresh.
	EventFatal
)

// Event is one pipeline lifecycle notification.
type Event struct {
	Type     EventType
	Duration float64 // seconds, set on EventManifestParsed
	Variant  Variant // chosen rendition, set on EventManifestParsed
	Err      error   // set on EventFatal
}

// Pipeline is an adaptive-streaming pipeline that can be attached to the
// playback surface. Exactly one pipeline may be attached at a time; Detach
// must complete before a new Attach.
type Pipeline interface {
	// Attach loads the manifest at manifestURL and reports progress on the
	// returned channel. The channel is closed after a terminal event or
	// after Detach.
	Attach(ctx context.Context, manifestURL string, maxHeight int) <-chan Event
	// Detach cancels any in-flight work and releases resources. Idempotent.
	Detach()
}

// ManifestPipeline is the production Pipeline: it fetches the master
// playlist, picks a variant under the resolution cap, and reads the variant's
// media playlist to learn the stream duration.
type ManifestPipeline struct {
	httpClient *http.Client

	mu       sync.Mutex
	cancel   context.CancelFunc
	detached bool
}

// NewManifestPipeline creates a pipeline using the given HTTP client, or a
// default client with a 30s timeout when nil.
func NewManifestPipeline(httpClient *http.Client) *ManifestPipeline {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ManifestPipeline{httpClient: httpClient}
}

// Attach fetches and parses the manifest asynchronously. Exactly one terminal
// event is delivered: EventManifestParsed or EventFatal.
func (p *ManifestPipeline) Attach(ctx context.Context, manifestURL string, maxHeight int) <-chan Event {
	events := make(chan Event, 1)

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.detached = false
	p.cancel = cancel
	p.mu.Unlock()

	go func() {
		defer close(events)

		variants, err := p.fetchMaster(ctx, manifestURL)
		if err != nil {
			p.deliver(events, Event{Type: EventFatal, Err: err})
			return
		}

		variant := SelectVariant(variants, maxHeight)
		log.Printf("[hls] selected variant %dx%d @%d bps (cap %d)", variant.Width, variant.Height, variant.Bandwidth, maxHeight)

		info, err := p.fetchMedia(ctx, resolveURI(manifestURL, variant.URI))
		if err != nil {
			p.deliver(events, Event{Type: EventFatal, Err: err})
			return
		}

		p.deliver(events, Event{Type: EventManifestParsed, Duration: info.Duration, Variant: variant})
	}()

	return events
}

// Detach cancels any in-flight manifest work. Safe to call repeatedly and
// after the pipeline has already finished.
func (p *ManifestPipeline) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return
	}
	p.detached = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// deliver drops the event if the pipeline was detached while parsing, so a
// torn-down pipeline never reports into a superseding session.
func (p *ManifestPipeline) deliver(events chan<- Event, ev Event) {
	p.mu.Lock()
	detached := p.detached
	p.mu.Unlock()
	if detached {
		return
	}
	events <- ev
}

func (p *ManifestPipeline) fetchMaster(ctx context.Context, rawURL string) ([]Variant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch master playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch master playlist: status %d", resp.StatusCode)
	}
	return ParseMasterPlaylist(resp.Body)
}

func (p *ManifestPipeline) fetchMedia(ctx context.Context, rawURL string) (MediaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("build playlist request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("fetch media playlist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return MediaInfo{}, fmt.Errorf("fetch media playlist: status %d", resp.StatusCode)
	}
	return ParseMediaPlaylist(resp.Body)
}

// resolveURI resolves a variant URI against the master playlist URL.
func resolveURI(base, uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return uri
	}
	rel, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return parsed.ResolveReference(rel).String()
}
