package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pressfeed/newspipe/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "sqlite_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "test.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rawItems(t *testing.T, items ...models.QueueItem) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			t.Fatalf("marshal queue item: %v", err)
		}
		out = append(out, b)
	}
	return out
}

// --- Batch repo tests ---

func TestSQLiteStore_SaveBatch_KeysAreSequential(t *testing.T) {
	s := newTestSQLiteStore(t)

	k1, err := s.SaveBatch("body_rewrite", rawItems(t, models.QueueItem{NewsID: 1}))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	k2, err := s.SaveBatch("body_rewrite", rawItems(t, models.QueueItem{NewsID: 2}))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	if k1 != "body_rewrite_batch_000000001" {
		t.Errorf("Expected first key body_rewrite_batch_000000001, got %q", k1)
	}
	if k2 != "body_rewrite_batch_000000002" {
		t.Errorf("Expected second key body_rewrite_batch_000000002, got %q", k2)
	}
}

func TestSQLiteStore_SaveBatch_RejectsEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)

	if _, err := s.SaveBatch("body_rewrite", nil); err == nil {
		t.Fatal("Expected error saving empty batch, got nil")
	}
}

func TestSQLiteStore_GetBatches_OldestFirst(t *testing.T) {
	s := newTestSQLiteStore(t)

	for i := int64(1); i <= 3; i++ {
		if _, err := s.SaveBatch("ingest", rawItems(t, models.QueueItem{NewsID: i})); err != nil {
			t.Fatalf("SaveBatch failed: %v", err)
		}
	}
	// A batch on another queue must not leak into the listing.
	if _, err := s.SaveBatch("outbound_send", rawItems(t, models.QueueItem{NewsID: 99})); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	batches, err := s.GetBatches("ingest")
	if err != nil {
		t.Fatalf("GetBatches failed: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(batches))
	}
	for i, b := range batches {
		if b.Seq != int64(i+1) {
			t.Errorf("Batch %d: expected seq %d, got %d", i, i+1, b.Seq)
		}
	}
}

func TestSQLiteStore_ClaimBatch_SecondClaimerLoses(t *testing.T) {
	s := newTestSQLiteStore(t)

	key, err := s.SaveBatch("ingest", rawItems(t, models.QueueItem{NewsID: 1}))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	now := time.Now()
	stale := now.Add(-5 * time.Minute)

	ok, err := s.ClaimBatch(key, now, stale)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if !ok {
		t.Fatal("First claim should succeed")
	}

	ok, err = s.ClaimBatch(key, now, stale)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if ok {
		t.Fatal("Second claim should lose while the first is fresh")
	}
}

func TestSQLiteStore_ClaimBatch_StaleClaimIsTakenOver(t *testing.T) {
	s := newTestSQLiteStore(t)

	key, err := s.SaveBatch("ingest", rawItems(t, models.QueueItem{NewsID: 1}))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	old := time.Now().Add(-time.Hour)
	if ok, err := s.ClaimBatch(key, old, old.Add(-5*time.Minute)); err != nil || !ok {
		t.Fatalf("Initial claim failed: ok=%v err=%v", ok, err)
	}

	now := time.Now()
	ok, err := s.ClaimBatch(key, now, now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if !ok {
		t.Fatal("Stale claim should be taken over")
	}
}

func TestSQLiteStore_ReleaseBatch_MakesClaimableAgain(t *testing.T) {
	s := newTestSQLiteStore(t)

	key, err := s.SaveBatch("ingest", rawItems(t, models.QueueItem{NewsID: 1}))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	now := time.Now()
	stale := now.Add(-5 * time.Minute)
	if ok, _ := s.ClaimBatch(key, now, stale); !ok {
		t.Fatal("First claim should succeed")
	}
	if err := s.ReleaseBatch(key); err != nil {
		t.Fatalf("ReleaseBatch failed: %v", err)
	}
	if ok, _ := s.ClaimBatch(key, now, stale); !ok {
		t.Fatal("Claim after release should succeed")
	}
}

func TestSQLiteStore_UpdateBatch_PersistsRemainingItems(t *testing.T) {
	s := newTestSQLiteStore(t)

	key, err := s.SaveBatch("ingest", rawItems(t,
		models.QueueItem{NewsID: 1},
		models.QueueItem{NewsID: 2},
		models.QueueItem{NewsID: 3},
	))
	if err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	if err := s.UpdateBatch(key, rawItems(t, models.QueueItem{NewsID: 3})); err != nil {
		t.Fatalf("UpdateBatch failed: %v", err)
	}

	batches, err := s.GetBatches("ingest")
	if err != nil {
		t.Fatalf("GetBatches failed: %v", err)
	}
	if len(batches) != 1 || len(batches[0].Items) != 1 {
		t.Fatalf("Expected 1 batch with 1 item, got %d batches", len(batches))
	}

	var item models.QueueItem
	if err := json.Unmarshal(batches[0].Items[0], &item); err != nil {
		t.Fatalf("Unmarshal item failed: %v", err)
	}
	if item.NewsID != 3 {
		t.Errorf("Expected remaining item NewsID 3, got %d", item.NewsID)
	}
}

func TestSQLiteStore_DeleteBatch_AndCountItems(t *testing.T) {
	s := newTestSQLiteStore(t)

	k1, _ := s.SaveBatch("tags", rawItems(t, models.QueueItem{TagID: 1}, models.QueueItem{TagID: 2}))
	if _, err := s.SaveBatch("tags", rawItems(t, models.QueueItem{TagID: 3})); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	n, err := s.CountItems("tags")
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 items, got %d", n)
	}

	if err := s.DeleteBatch(k1); err != nil {
		t.Fatalf("DeleteBatch failed: %v", err)
	}
	n, err = s.CountItems("tags")
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 item after delete, got %d", n)
	}
}

// --- Entity repo tests ---

func TestSQLiteStore_ArticleRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)

	a := &models.SourceArticle{
		SyncSettingID: 7,
		Title:         "Quarterly results beat expectations",
		Body:          "The company reported strong growth.",
		Slug:          "quarterly-results-beat-expectations",
		URI:           "https://example.com/quarterly",
		SourceName:    "example.com",
		WordCount:     6,
		PublishedAt:   time.Now().Add(-time.Hour),
	}
	if err := s.CreateArticle(a); err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("CreateArticle did not assign an ID")
	}

	got, err := s.GetArticle(a.ID)
	if err != nil {
		t.Fatalf("GetArticle failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetArticle returned nil")
	}
	if got.Title != a.Title || got.Slug != a.Slug || got.URI != a.URI {
		t.Errorf("Round trip mismatch: got %+v", got)
	}

	exists, err := s.ArticleExists(a.Slug, "")
	if err != nil {
		t.Fatalf("ArticleExists failed: %v", err)
	}
	if !exists {
		t.Error("Expected ArticleExists true by slug")
	}
	exists, err = s.ArticleExists("", a.URI)
	if err != nil {
		t.Fatalf("ArticleExists failed: %v", err)
	}
	if !exists {
		t.Error("Expected ArticleExists true by URI")
	}
	exists, err = s.ArticleExists("other-slug", "https://example.com/other")
	if err != nil {
		t.Fatalf("ArticleExists failed: %v", err)
	}
	if exists {
		t.Error("Expected ArticleExists false for unknown article")
	}
}

func TestSQLiteStore_ArticleExists_IgnoresEmptyIdentifiers(t *testing.T) {
	s := newTestSQLiteStore(t)

	a := &models.SourceArticle{Title: "Slugless story", Slug: "", URI: "uri-a"}
	if err := s.CreateArticle(a); err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}

	// A different slugless article must not match on the shared empty slug.
	exists, err := s.ArticleExists("", "uri-b")
	if err != nil {
		t.Fatalf("ArticleExists failed: %v", err)
	}
	if exists {
		t.Error("Empty slug must not match another empty-slug article")
	}

	exists, err = s.ArticleExists("", "uri-a")
	if err != nil {
		t.Fatalf("ArticleExists failed: %v", err)
	}
	if !exists {
		t.Error("Expected ArticleExists true by URI for slugless article")
	}

	exists, err = s.ArticleExists("some-slug", "")
	if err != nil {
		t.Fatalf("ArticleExists failed: %v", err)
	}
	if exists {
		t.Error("Empty URI must not match another empty-URI article")
	}
}

func TestSQLiteStore_GetArticle_MissingReturnsNil(t *testing.T) {
	s := newTestSQLiteStore(t)

	got, err := s.GetArticle(12345)
	if err != nil {
		t.Fatalf("GetArticle failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing article, got %+v", got)
	}
}

func TestSQLiteStore_NewsItem_StatusIsMonotonic(t *testing.T) {
	s := newTestSQLiteStore(t)

	n := &models.NewsItem{ArticleID: 1, Title: "A headline", Status: models.SyncStatusInProgress}
	if err := s.CreateNewsItem(n); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}

	if err := s.SetSyncStatus(n.ID, models.SyncStatusComplete); err != nil {
		t.Fatalf("SetSyncStatus failed: %v", err)
	}
	// Neither a status downgrade nor a late error may undo completion.
	if err := s.SetSyncStatus(n.ID, models.SyncStatusInProgress); err != nil {
		t.Fatalf("SetSyncStatus failed: %v", err)
	}
	if err := s.SetNewsError(n.ID, "late failure"); err != nil {
		t.Fatalf("SetNewsError failed: %v", err)
	}

	got, err := s.GetNewsItem(n.ID)
	if err != nil {
		t.Fatalf("GetNewsItem failed: %v", err)
	}
	if got.Status != models.SyncStatusComplete {
		t.Errorf("Expected status complete, got %q", got.Status)
	}
	if got.Error != "" {
		t.Errorf("Expected no error on completed item, got %q", got.Error)
	}
}

func TestSQLiteStore_SetNewsError_MarksFailed(t *testing.T) {
	s := newTestSQLiteStore(t)

	n := &models.NewsItem{ArticleID: 1, Title: "Doomed headline", Status: models.SyncStatusInProgress}
	if err := s.CreateNewsItem(n); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}
	if err := s.SetNewsError(n.ID, "model rejected input"); err != nil {
		t.Fatalf("SetNewsError failed: %v", err)
	}

	got, err := s.GetNewsItem(n.ID)
	if err != nil {
		t.Fatalf("GetNewsItem failed: %v", err)
	}
	if got.Status != models.SyncStatusFail {
		t.Errorf("Expected status fail, got %q", got.Status)
	}
	if got.Error != "model rejected input" {
		t.Errorf("Expected error message, got %q", got.Error)
	}
}

func TestSQLiteStore_UpdateNewsItem_PersistsFields(t *testing.T) {
	s := newTestSQLiteStore(t)

	n := &models.NewsItem{ArticleID: 1, Title: "Original", Status: models.SyncStatusInProgress}
	if err := s.CreateNewsItem(n); err != nil {
		t.Fatalf("CreateNewsItem failed: %v", err)
	}

	n.Body = "<p>Rewritten body</p>"
	n.FocusKeyphrase = "rewritten body"
	n.TotalRequests = 4
	n.TotalTokens = 1200
	if err := s.UpdateNewsItem(n); err != nil {
		t.Fatalf("UpdateNewsItem failed: %v", err)
	}

	got, err := s.GetNewsItem(n.ID)
	if err != nil {
		t.Fatalf("GetNewsItem failed: %v", err)
	}
	if got.Body != n.Body || got.FocusKeyphrase != n.FocusKeyphrase {
		t.Errorf("Content fields not persisted: %+v", got)
	}
	if got.TotalRequests != 4 || got.TotalTokens != 1200 {
		t.Errorf("Usage totals not persisted: %+v", got)
	}
}

func TestSQLiteStore_RecentTitles(t *testing.T) {
	s := newTestSQLiteStore(t)

	for _, title := range []string{"First headline", "Second headline"} {
		n := &models.NewsItem{ArticleID: 1, Title: title, Status: models.SyncStatusInProgress}
		if err := s.CreateNewsItem(n); err != nil {
			t.Fatalf("CreateNewsItem failed: %v", err)
		}
	}

	titles, err := s.RecentTitles(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("RecentTitles failed: %v", err)
	}
	if len(titles) != 2 {
		t.Errorf("Expected 2 recent titles, got %d: %v", len(titles), titles)
	}

	titles, err = s.RecentTitles(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("RecentTitles failed: %v", err)
	}
	if len(titles) != 0 {
		t.Errorf("Expected no titles after future cutoff, got %v", titles)
	}
}

func TestSQLiteStore_ListNews_FiltersAndLimits(t *testing.T) {
	s := newTestSQLiteStore(t)

	for i := 0; i < 3; i++ {
		n := &models.NewsItem{ArticleID: int64(i + 1), Title: "Headline", Status: models.SyncStatusInProgress}
		if err := s.CreateNewsItem(n); err != nil {
			t.Fatalf("CreateNewsItem failed: %v", err)
		}
		if i == 0 {
			if err := s.SetSyncStatus(n.ID, models.SyncStatusComplete); err != nil {
				t.Fatalf("SetSyncStatus failed: %v", err)
			}
		}
	}

	complete, err := s.ListNews(NewsFilter{Status: models.SyncStatusComplete})
	if err != nil {
		t.Fatalf("ListNews failed: %v", err)
	}
	if len(complete) != 1 {
		t.Errorf("Expected 1 complete item, got %d", len(complete))
	}

	limited, err := s.ListNews(NewsFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListNews failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit 2, got %d", len(limited))
	}
}

func TestSQLiteStore_UpsertTag_IncrementsUsage(t *testing.T) {
	s := newTestSQLiteStore(t)

	t1, err := s.UpsertTag("Economy", "economy")
	if err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}
	t2, err := s.UpsertTag("Economy", "economy")
	if err != nil {
		t.Fatalf("UpsertTag failed: %v", err)
	}
	if t1.ID != t2.ID {
		t.Errorf("Expected same tag ID, got %d and %d", t1.ID, t2.ID)
	}
	if t2.UsageCount != 2 {
		t.Errorf("Expected usage count 2, got %d", t2.UsageCount)
	}

	if err := s.SetTagMetaDescription(t1.ID, "All things economy."); err != nil {
		t.Fatalf("SetTagMetaDescription failed: %v", err)
	}
	got, err := s.GetTag(t1.ID)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if got.MetaDescription != "All things economy." {
		t.Errorf("Expected meta description, got %q", got.MetaDescription)
	}
}

func TestSQLiteStore_Sites_UpsertAndListEnabled(t *testing.T) {
	s := newTestSQLiteStore(t)

	site := &models.RemoteSite{Name: "Alpha", BaseURL: "https://alpha.example.com", APIKey: "k1", Enabled: true}
	if err := s.UpsertSite(site); err != nil {
		t.Fatalf("UpsertSite failed: %v", err)
	}
	disabled := &models.RemoteSite{Name: "Beta", BaseURL: "https://beta.example.com", APIKey: "k2", Enabled: false}
	if err := s.UpsertSite(disabled); err != nil {
		t.Fatalf("UpsertSite failed: %v", err)
	}

	// Upsert on the same base URL updates in place.
	site.APIKey = "k1-rotated"
	if err := s.UpsertSite(site); err != nil {
		t.Fatalf("UpsertSite failed: %v", err)
	}

	sites, err := s.ListEnabledSites()
	if err != nil {
		t.Fatalf("ListEnabledSites failed: %v", err)
	}
	if len(sites) != 1 {
		t.Fatalf("Expected 1 enabled site, got %d", len(sites))
	}
	if sites[0].APIKey != "k1-rotated" {
		t.Errorf("Expected rotated API key, got %q", sites[0].APIKey)
	}
}

func TestSQLiteStore_Deliveries_RecordOnce(t *testing.T) {
	s := newTestSQLiteStore(t)

	d := models.Delivery{ID: "d-1", NewsID: 10, SiteID: 20, RemoteID: 555, RemoteURL: "https://alpha.example.com/news/555"}
	if err := s.RecordDelivery(d); err != nil {
		t.Fatalf("RecordDelivery failed: %v", err)
	}
	// Duplicate records are ignored, not errors.
	if err := s.RecordDelivery(d); err != nil {
		t.Fatalf("RecordDelivery duplicate failed: %v", err)
	}

	ok, err := s.HasDelivery(10, 20)
	if err != nil {
		t.Fatalf("HasDelivery failed: %v", err)
	}
	if !ok {
		t.Error("Expected HasDelivery true after record")
	}
	ok, err = s.HasDelivery(10, 21)
	if err != nil {
		t.Fatalf("HasDelivery failed: %v", err)
	}
	if ok {
		t.Error("Expected HasDelivery false for other site")
	}
}

func TestSQLiteStore_SyncSettings_UpsertAndListEnabled(t *testing.T) {
	s := newTestSQLiteStore(t)

	setting := &models.SyncSetting{Name: "tech", Query: "technology", Enabled: true, MaxAgeHours: 48}
	if err := s.UpsertSetting(setting); err != nil {
		t.Fatalf("UpsertSetting failed: %v", err)
	}
	if setting.ID == 0 {
		t.Fatal("UpsertSetting did not assign an ID")
	}

	setting.Query = "technology OR software"
	if err := s.UpsertSetting(setting); err != nil {
		t.Fatalf("UpsertSetting failed: %v", err)
	}

	got, err := s.GetSetting(setting.ID)
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if got.Query != "technology OR software" {
		t.Errorf("Expected updated query, got %q", got.Query)
	}

	enabled, err := s.ListEnabledSettings()
	if err != nil {
		t.Fatalf("ListEnabledSettings failed: %v", err)
	}
	if len(enabled) != 1 {
		t.Errorf("Expected 1 enabled setting, got %d", len(enabled))
	}
}
