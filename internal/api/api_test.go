package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pressfeed/newspipe/internal/completion"
	"github.com/pressfeed/newspipe/internal/kv"
	"github.com/pressfeed/newspipe/internal/llm"
	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/newsapi"
	"github.com/pressfeed/newspipe/internal/pipeline"
	"github.com/pressfeed/newspipe/internal/policy"
	"github.com/pressfeed/newspipe/internal/ratelimit"
	"github.com/pressfeed/newspipe/internal/store"
	"github.com/pressfeed/newspipe/internal/webhook"
)

type stubLLM struct{}

func (stubLLM) Complete(ctx context.Context, system, user string) (llm.Result, error) {
	return llm.Result{Text: "stub", TotalTokens: 1}, nil
}

type stubFetcher struct{}

func (stubFetcher) FetchArticles(ctx context.Context, setting models.SyncSetting, page int) (newsapi.Page, error) {
	return newsapi.Page{}, nil
}

type stubSender struct{}

var _ webhook.Sender = stubSender{}

func (stubSender) Send(ctx context.Context, site models.RemoteSite, item *models.NewsItem) (models.Delivery, error) {
	return models.Delivery{NewsID: item.ID, SiteID: site.ID, SentAt: time.Now()}, nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	kvs := kv.NewMemoryStore()
	gate := ratelimit.NewGate(kvs, ratelimit.Limits{})
	client := stubLLM{}
	engine := completion.NewEngine(st, kvs, gate, client, nil)
	ctrl := pipeline.NewController(st, kvs, gate, policy.New(kvs, gate), client, engine,
		stubFetcher{}, stubSender{}, pipeline.Config{})
	return NewServer(ctrl, gate, st), st
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response envelope: %v", err)
	}
	return resp
}

func TestStatusHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/status", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Status != "ok" {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
}

func TestQueuesHandler_ListsAllStages(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/queues", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Result []pipeline.StageCount `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode queues response: %v", err)
	}
	if len(resp.Result) != len(pipeline.StageOrder) {
		t.Errorf("expected %d stages, got %d", len(pipeline.StageOrder), len(resp.Result))
	}
}

func TestRunQueueHandler_UnknownStage(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/queues/nonexistent/run", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown stage, got %d", rr.Code)
	}
}

func TestRunQueueHandler_EmptyStage(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/api/queues/ingest/run", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeEnvelope(t, rr)
	if resp.Status != "ok" {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
}

func TestPauseAndResumeQueueHandlers(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/queues/ingest/pause", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest("POST", "/api/queues/ingest/resume", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rr.Code)
	}
}

func TestGetNewsHandler(t *testing.T) {
	srv, st := newTestServer(t)
	item := &models.NewsItem{Title: "Stored item", Status: models.SyncStatusInProgress}
	if err := st.CreateNewsItem(item); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/news/1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/news/999", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing item, got %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/news/abc", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rr.Code)
	}
}

func TestListNewsHandler_FiltersByStatus(t *testing.T) {
	srv, st := newTestServer(t)
	done := &models.NewsItem{Title: "Done", Status: models.SyncStatusInProgress}
	if err := st.CreateNewsItem(done); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}
	if err := st.SetSyncStatus(done.ID, models.SyncStatusComplete); err != nil {
		t.Fatalf("SetSyncStatus failed: %v", err)
	}
	pending := &models.NewsItem{Title: "Pending", Status: models.SyncStatusInProgress}
	if err := st.CreateNewsItem(pending); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/news?status=complete", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Result []models.NewsItem `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode news list: %v", err)
	}
	if len(resp.Result) != 1 || resp.Result[0].Title != "Done" {
		t.Errorf("expected only the complete item, got %+v", resp.Result)
	}
}

func TestResyncHandler(t *testing.T) {
	srv, st := newTestServer(t)
	item := &models.NewsItem{Title: "Resync me", Status: models.SyncStatusInProgress}
	if err := st.CreateNewsItem(item); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/resync/1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest("POST", "/api/resync/999", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing item, got %d", rr.Code)
	}
}
