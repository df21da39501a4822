package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"finplay/models"
	"finplay/services/episodes"
)

type fakeResolver struct {
	adjacent episodes.Adjacent
	err      error
	series   string
	season   string
	episode  string
}

func (f *fakeResolver) ResolveAdjacent(ctx context.Context, seriesID, seasonID, currentEpisodeID string) (episodes.Adjacent, error) {
	f.series, f.season, f.episode = seriesID, seasonID, currentEpisodeID
	return f.adjacent, f.err
}

func getAdjacent(t *testing.T, h *EpisodesHandler, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/episodes/adjacent?"+query, nil)
	rec := httptest.NewRecorder()
	h.Adjacent(rec, req)
	return rec
}

func TestAdjacentHandler(t *testing.T) {
	resolver := &fakeResolver{adjacent: episodes.Adjacent{
		Next: &models.Episode{ID: "ep-3", Name: "Third"},
	}}
	h := NewEpisodesHandler(resolver)

	rec := getAdjacent(t, h, "seriesId=s1&seasonId=se1&episodeId=ep-2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if resolver.series != "s1" || resolver.season != "se1" || resolver.episode != "ep-2" {
		t.Errorf("resolver called with (%s, %s, %s)", resolver.series, resolver.season, resolver.episode)
	}

	var adj episodes.Adjacent
	if err := json.Unmarshal(rec.Body.Bytes(), &adj); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if adj.Next == nil || adj.Next.ID != "ep-3" {
		t.Errorf("next = %+v, want ep-3", adj.Next)
	}
	if adj.Previous != nil {
		t.Errorf("previous = %+v, want null", adj.Previous)
	}
}

func TestAdjacentHandler_MissingParams(t *testing.T) {
	h := NewEpisodesHandler(&fakeResolver{})

	if rec := getAdjacent(t, h, "seasonId=se1"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without seriesId and episodeId", rec.Code)
	}
}

func TestAdjacentHandler_ResolverError(t *testing.T) {
	h := NewEpisodesHandler(&fakeResolver{err: errors.New("server down")})

	rec := getAdjacent(t, h, "seriesId=s1&episodeId=ep-1")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
