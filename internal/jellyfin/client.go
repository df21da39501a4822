// Package jellyfin is a thin authenticated client for the media server's
// REST API: item metadata, playback negotiation, telemetry reports, season
// listings, and subtitle cue delivery.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"finplay/models"
)

var (
	ErrItemNotFound  = errors.New("item not found")
	ErrNotPlayable   = errors.New("item has no playable media source")
	ErrServerFailure = errors.New("media server request failed")
)

const (
	requestTimeout = 15 * time.Second
	getRetries     = 3
)

// Client issues authenticated calls against one media server.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

// New creates a client for the server at baseURL authenticating with token.
// userID scopes item lookups to a server user.
func New(baseURL, token, userID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// GetItem fetches full item metadata including media sources and streams.
func (c *Client) GetItem(ctx context.Context, itemID string) (*models.MediaItem, error) {
	endpoint := fmt.Sprintf("%s/Users/%s/Items/%s", c.baseURL, url.PathEscape(c.userID), url.PathEscape(itemID))
	q := url.Values{}
	q.Set("Fields", "MediaSources,MediaStreams")

	var item models.MediaItem
	if err := c.getJSON(ctx, endpoint+"?"+q.Encode(), &item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		return nil, ErrItemNotFound
	}
	return &item, nil
}

type playbackInfoResponse struct {
	MediaSources  []models.MediaSource `json:"MediaSources"`
	PlaySessionID string               `json:"PlaySessionId"`
}

// PlaybackInfo negotiates playback for an item and returns the server's media
// sources together with the server-issued play session id.
func (c *Client) PlaybackInfo(ctx context.Context, itemID string) ([]models.MediaSource, string, error) {
	endpoint := fmt.Sprintf("%s/Items/%s/PlaybackInfo", c.baseURL, url.PathEscape(itemID))
	q := url.Values{}
	q.Set("UserId", c.userID)

	var resp playbackInfoResponse
	if err := c.postJSON(ctx, endpoint+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, "", err
	}
	if len(resp.MediaSources) == 0 {
		return nil, "", ErrNotPlayable
	}
	return resp.MediaSources, resp.PlaySessionID, nil
}

// StreamURL builds the adaptive-streaming manifest URL for the given source
// and track selections. subtitleIndex nil omits subtitle burn-in/delivery;
// maxHeight 0 leaves the resolution uncapped. URL construction is purely
// local, no network call.
func (c *Client) StreamURL(itemID, mediaSourceID, playSessionID string, audioIndex int, subtitleIndex *int, maxHeight int) string {
	q := url.Values{}
	q.Set("MediaSourceId", mediaSourceID)
	q.Set("PlaySessionId", playSessionID)
	q.Set("AudioStreamIndex", strconv.Itoa(audioIndex))
	if subtitleIndex != nil {
		q.Set("SubtitleStreamIndex", strconv.Itoa(*subtitleIndex))
	}
	if maxHeight > 0 {
		q.Set("MaxHeight", strconv.Itoa(maxHeight))
	}
	q.Set("api_key", c.token)
	return fmt.Sprintf("%s/Videos/%s/master.m3u8?%s", c.baseURL, url.PathEscape(itemID), q.Encode())
}

// ReportPlaying tells the server a session has started. Telemetry: callers
// treat failures as log-only.
func (c *Client) ReportPlaying(ctx context.Context, report models.ProgressReport) error {
	return c.postJSON(ctx, c.baseURL+"/Sessions/Playing", report, nil)
}

// ReportProgress sends a position update for an active session.
func (c *Client) ReportProgress(ctx context.Context, report models.ProgressReport) error {
	return c.postJSON(ctx, c.baseURL+"/Sessions/Playing/Progress", report, nil)
}

// ReportStopped tells the server a session has ended at the given position.
func (c *Client) ReportStopped(ctx context.Context, report models.ProgressReport) error {
	return c.postJSON(ctx, c.baseURL+"/Sessions/Playing/Stopped", report, nil)
}

type episodesResponse struct {
	Items []models.Episode `json:"Items"`
}

// GetEpisodes lists a season's episodes ordered by index number.
func (c *Client) GetEpisodes(ctx context.Context, seriesID, seasonID string) ([]models.Episode, error) {
	endpoint := fmt.Sprintf("%s/Shows/%s/Episodes", c.baseURL, url.PathEscape(seriesID))
	q := url.Values{}
	q.Set("SeasonId", seasonID)
	q.Set("UserId", c.userID)

	var resp episodesResponse
	if err := c.getJSON(ctx, endpoint+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type trackEventsResponse struct {
	TrackEvents []trackEvent `json:"TrackEvents"`
}

type trackEvent struct {
	Text               string `json:"Text"`
	StartPositionTicks int64  `json:"StartPositionTicks"`
	EndPositionTicks   int64  `json:"EndPositionTicks"`
}

// GetSubtitleCues fetches the cue list for a server subtitle stream. Cues are
// returned in the order the server emits them (ascending start ticks).
func (c *Client) GetSubtitleCues(ctx context.Context, itemID, mediaSourceID string, subtitleIndex int) ([]models.SubtitleCue, error) {
	endpoint := fmt.Sprintf("%s/Videos/%s/%s/Subtitles/%d/Stream.js",
		c.baseURL, url.PathEscape(itemID), url.PathEscape(mediaSourceID), subtitleIndex)

	var resp trackEventsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	cues := make([]models.SubtitleCue, 0, len(resp.TrackEvents))
	for _, ev := range resp.TrackEvents {
		cues = append(cues, models.SubtitleCue{
			StartTicks: ev.StartPositionTicks,
			EndTicks:   ev.EndPositionTicks,
			Text:       ev.Text,
		})
	}
	return cues, nil
}

// getJSON performs an authenticated GET with retries. Only idempotent reads
// go through here; reports are posted once and never retried.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	return retry.Do(
		func() error { return c.doJSON(ctx, http.MethodGet, rawURL, nil, out) },
		retry.Context(ctx),
		retry.Attempts(getRetries),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// 4xx responses will not improve on retry.
			return !errors.Is(err, ErrItemNotFound) && !errors.Is(err, errClientStatus)
		}),
	)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, rawURL, body, out)
}

var errClientStatus = errors.New("rejected by server")

func (c *Client) doJSON(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrItemNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", errClientStatus, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrServerFailure, resp.StatusCode)
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
