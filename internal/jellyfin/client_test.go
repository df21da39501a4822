package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finplay/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-token", "user-1")
}

func TestGetItem(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Users/user-1/Items/item-1", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Emby-Token"))
		assert.Equal(t, "MediaSources,MediaStreams", r.URL.Query().Get("Fields"))
		json.NewEncoder(w).Encode(models.MediaItem{ID: "item-1", Name: "A Movie", Type: "Movie"})
	}))

	item, err := client.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, "A Movie", item.Name)
}

func TestGetItem_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestGetItem_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(models.MediaItem{ID: "item-1"})
	}))

	item, err := client.GetItem(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetItem_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))

	_, err := client.GetItem(context.Background(), "item-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestPlaybackInfo(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Items/item-1/PlaybackInfo", r.URL.Path)
		fmt.Fprint(w, `{"MediaSources":[{"Id":"source-1"}],"PlaySessionId":"ps-1"}`)
	}))

	sources, playSessionID, err := client.PlaybackInfo(context.Background(), "item-1")
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "source-1", sources[0].ID)
	assert.Equal(t, "ps-1", playSessionID)
}

func TestPlaybackInfo_NoSources(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"MediaSources":[]}`)
	}))

	_, _, err := client.PlaybackInfo(context.Background(), "item-1")
	assert.ErrorIs(t, err, ErrNotPlayable)
}

func TestStreamURL(t *testing.T) {
	client := New("http://server/", "tok", "user-1")

	sub := 4
	raw := client.StreamURL("item-1", "source-1", "ps-1", 1, &sub, 720)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/Videos/item-1/master.m3u8", parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "source-1", q.Get("MediaSourceId"))
	assert.Equal(t, "ps-1", q.Get("PlaySessionId"))
	assert.Equal(t, "1", q.Get("AudioStreamIndex"))
	assert.Equal(t, "4", q.Get("SubtitleStreamIndex"))
	assert.Equal(t, "720", q.Get("MaxHeight"))
	assert.Equal(t, "tok", q.Get("api_key"))
}

func TestStreamURL_OmitsOptionalParams(t *testing.T) {
	client := New("http://server", "tok", "user-1")

	raw := client.StreamURL("item-1", "source-1", "ps-1", 1, nil, 0)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	q := parsed.Query()
	assert.False(t, q.Has("SubtitleStreamIndex"))
	assert.False(t, q.Has("MaxHeight"))
}

func TestReportProgress(t *testing.T) {
	var got models.ProgressReport
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Sessions/Playing/Progress", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))

	report := models.ProgressReport{ItemID: "item-1", PositionTicks: 123456, IsPaused: true}
	require.NoError(t, client.ReportProgress(context.Background(), report))
	assert.Equal(t, "item-1", got.ItemID)
	assert.Equal(t, int64(123456), got.PositionTicks)
	assert.True(t, got.IsPaused)
}

func TestGetEpisodes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Shows/series-1/Episodes", r.URL.Path)
		assert.Equal(t, "season-1", r.URL.Query().Get("SeasonId"))
		fmt.Fprint(w, `{"Items":[{"Id":"ep-1","IndexNumber":1},{"Id":"ep-2","IndexNumber":2}]}`)
	}))

	episodes, err := client.GetEpisodes(context.Background(), "series-1", "season-1")
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, "ep-2", episodes[1].ID)
}

func TestGetSubtitleCues(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Videos/item-1/source-1/Subtitles/4/Stream.js", r.URL.Path)
		fmt.Fprint(w, `{"TrackEvents":[{"Text":"Hello","StartPositionTicks":10000000,"EndPositionTicks":30000000}]}`)
	}))

	cues, err := client.GetSubtitleCues(context.Background(), "item-1", "source-1", 4)
	require.NoError(t, err)
	require.Len(t, cues, 1)
	assert.Equal(t, "Hello", cues[0].Text)
	assert.Equal(t, int64(10000000), cues[0].StartTicks)
	assert.Equal(t, int64(30000000), cues[0].EndTicks)
}
