package newsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pressfeed/newspipe/internal/models"
)

func TestClient_FetchArticles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "technology" {
			t.Errorf("Expected query technology, got %q", got)
		}
		if got := r.URL.Query().Get("apikey"); got != "test-key" {
			t.Errorf("Expected api key, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"totalPages": 3,
			"results": [
				{"title": "Chips get faster", "content": "Fresh silicon arrives next quarter.", "slug": "chips-get-faster",
				 "article_id": "abc123", "source_name": "example.com", "pubDate": "2026-03-14 10:00:00"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	page, err := c.FetchArticles(context.Background(), models.SyncSetting{ID: 5, Query: "technology"}, 1)
	if err != nil {
		t.Fatalf("FetchArticles failed: %v", err)
	}
	if page.Pages != 3 {
		t.Errorf("Expected 3 pages, got %d", page.Pages)
	}
	if len(page.Results) != 1 {
		t.Fatalf("Expected 1 article, got %d", len(page.Results))
	}
	a := page.Results[0]
	if a.Title != "Chips get faster" || a.Slug != "chips-get-faster" || a.URI != "abc123" {
		t.Errorf("Article fields mismatch: %+v", a)
	}
	if a.SyncSettingID != 5 {
		t.Errorf("Expected sync setting ID 5, got %d", a.SyncSettingID)
	}
	if a.PublishedAt.IsZero() {
		t.Error("Expected published timestamp to parse")
	}
	if a.WordCount != 5 {
		t.Errorf("Expected word count 5, got %d", a.WordCount)
	}
}

func TestClient_FetchArticles_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	_, err := c.FetchArticles(context.Background(), models.SyncSetting{Query: "x"}, 1)
	if err == nil {
		t.Fatal("Expected error on 429")
	}
	if models.KindOf(err) != models.ErrorKindTooManyRequests {
		t.Errorf("Expected too_many_requests, got %v", models.KindOf(err))
	}
}

func TestClient_FetchArticles_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error", "message": "invalid query"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	if _, err := c.FetchArticles(context.Background(), models.SyncSetting{Query: "x"}, 1); err == nil {
		t.Fatal("Expected error on upstream error status")
	}
}
