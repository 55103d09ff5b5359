package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pressfeed/newspipe/internal/models"
)

// The memory store must honor the same claim and status semantics the
// SQL stores do, since tests of higher layers rely on it.

func TestMemoryStore_ClaimSemantics(t *testing.T) {
	s := NewMemoryStore()

	items := []json.RawMessage{json.RawMessage(`{"news_id":1}`)}
	key, err := s.SaveBatch("ingest", items)
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	now := time.Now()
	stale := now.Add(-5 * time.Minute)
	if ok, _ := s.ClaimBatch(key, now, stale); !ok {
		t.Fatal("First claim should succeed")
	}
	if ok, _ := s.ClaimBatch(key, now, stale); ok {
		t.Fatal("Second claim should lose")
	}
	if err := s.ReleaseBatch(key); err != nil {
		t.Fatalf("ReleaseBatch failed: %v", err)
	}
	if ok, _ := s.ClaimBatch(key, now, stale); !ok {
		t.Fatal("Claim after release should succeed")
	}
}

func TestMemoryStore_StatusIsMonotonic(t *testing.T) {
	s := NewMemoryStore()

	n := &models.NewsItem{Title: "A headline", Status: models.SyncStatusInProgress}
	if err := s.CreateNewsItem(n); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}
	if err := s.SetSyncStatus(n.ID, models.SyncStatusComplete); err != nil {
		t.Fatalf("SetSyncStatus failed: %v", err)
	}
	if err := s.SetNewsError(n.ID, "late failure"); err != nil {
		t.Fatalf("SetNewsError failed: %v", err)
	}

	got, _ := s.GetNewsItem(n.ID)
	if got.Status != models.SyncStatusComplete {
		t.Errorf("Expected status complete, got %q", got.Status)
	}
}

func TestMemoryStore_UpdateDoesNotTouchStatus(t *testing.T) {
	s := NewMemoryStore()

	n := &models.NewsItem{Title: "A headline", Status: models.SyncStatusInProgress}
	if err := s.CreateNewsItem(n); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}
	if err := s.SetSyncStatus(n.ID, models.SyncStatusComplete); err != nil {
		t.Fatalf("SetSyncStatus failed: %v", err)
	}

	n.Body = "updated body"
	n.Status = models.SyncStatusInProgress
	if err := s.UpdateNewsItem(n); err != nil {
		t.Fatalf("UpdateNewsItem failed: %v", err)
	}

	got, _ := s.GetNewsItem(n.ID)
	if got.Status != models.SyncStatusComplete {
		t.Errorf("UpdateNewsItem must not change status, got %q", got.Status)
	}
	if got.Body != "updated body" {
		t.Errorf("Expected updated body, got %q", got.Body)
	}
}
