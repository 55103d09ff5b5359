package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pressfeed/newspipe/internal/models"
)

// Compile-time check that MemoryStore implements the aggregate Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store used by tests and as a fallback when
// no database DSN is configured.
type MemoryStore struct {
	mu sync.Mutex

	batches   map[string]*Batch // key -> batch
	batchSeqs map[string]int64  // queue -> last seq

	articles  map[int64]*models.SourceArticle
	news      map[int64]*models.NewsItem
	tags      map[string]*models.Tag // name|slug -> tag
	sites     map[string]*models.RemoteSite
	delivered map[string]models.Delivery // newsID|siteID
	settings  map[string]*models.SyncSetting

	nextArticleID int64
	nextNewsID    int64
	nextTagID     int64
	nextSiteID    int64
	nextSettingID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:   make(map[string]*Batch),
		batchSeqs: make(map[string]int64),
		articles:  make(map[int64]*models.SourceArticle),
		news:      make(map[int64]*models.NewsItem),
		tags:      make(map[string]*models.Tag),
		sites:     make(map[string]*models.RemoteSite),
		delivered: make(map[string]models.Delivery),
		settings:  make(map[string]*models.SyncSetting),
	}
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// --- batches ---

func (m *MemoryStore) SaveBatch(queue string, items []json.RawMessage) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("refusing to save empty batch for queue %s", queue)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchSeqs[queue]++
	seq := m.batchSeqs[queue]
	key := batchKey(queue, seq)
	m.batches[key] = &Batch{
		Key:       key,
		Queue:     queue,
		Seq:       seq,
		Items:     cloneItems(items),
		CreatedAt: time.Now(),
	}
	return key, nil
}

func (m *MemoryStore) GetBatches(queue string) ([]Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Batch
	for _, b := range m.batches {
		if b.Queue == queue {
			cp := *b
			cp.Items = cloneItems(b.Items)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) ClaimBatch(key string, now time.Time, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[key]
	if !ok {
		return false, nil
	}
	if b.ClaimedAt != nil && !b.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	t := now
	b.ClaimedAt = &t
	return true, nil
}

func (m *MemoryStore) ReleaseBatch(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[key]; ok {
		b.ClaimedAt = nil
	}
	return nil
}

func (m *MemoryStore) UpdateBatch(key string, items []json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[key]
	if !ok {
		return fmt.Errorf("batch %s not found", key)
	}
	b.Items = cloneItems(items)
	return nil
}

func (m *MemoryStore) DeleteBatch(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, key)
	return nil
}

func (m *MemoryStore) CountItems(queue string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, b := range m.batches {
		if b.Queue == queue {
			total += len(b.Items)
		}
	}
	return total, nil
}

func cloneItems(items []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		cp := make(json.RawMessage, len(it))
		copy(cp, it)
		out[i] = cp
	}
	return out
}

// --- articles ---

func (m *MemoryStore) CreateArticle(a *models.SourceArticle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextArticleID++
	a.ID = m.nextArticleID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	m.articles[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetArticle(id int64) (*models.SourceArticle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ArticleExists(slug, uri string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.articles {
		if (slug != "" && a.Slug == slug) || (uri != "" && a.URI == uri) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SetArticleError(id int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.articles[id]; ok {
		a.Error = msg
	}
	return nil
}

func (m *MemoryStore) LinkNewsItem(articleID, newsID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.articles[articleID]; ok {
		a.NewsItemID = newsID
	}
	return nil
}

// --- news items ---

func (m *MemoryStore) CreateNewsItem(n *models.NewsItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNewsID++
	n.ID = m.nextNewsID
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = models.SyncStatusInProgress
	}
	cp := *n
	m.news[n.ID] = &cp
	return nil
}

func (m *MemoryStore) GetNewsItem(id int64) (*models.NewsItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.news[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) UpdateNewsItem(n *models.NewsItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.news[n.ID]
	if !ok {
		return fmt.Errorf("news item %d not found", n.ID)
	}
	status := stored.Status
	created := stored.CreatedAt
	cp := *n
	cp.Status = status
	cp.CreatedAt = created
	cp.UpdatedAt = time.Now()
	m.news[n.ID] = &cp
	n.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *MemoryStore) SetSyncStatus(id int64, status models.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.news[id]
	if !ok {
		return nil
	}
	// Completed items never regress.
	if n.Status == models.SyncStatusComplete {
		return nil
	}
	n.Status = status
	n.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetNewsError(id int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.news[id]
	if !ok {
		return nil
	}
	if n.Status == models.SyncStatusComplete {
		return nil
	}
	n.Error = msg
	n.Status = models.SyncStatusFail
	n.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) RecentTitles(since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var titles []string
	for _, n := range m.news {
		if n.Title != "" && !n.CreatedAt.Before(since) {
			titles = append(titles, n.Title)
		}
	}
	return titles, nil
}

func (m *MemoryStore) ListNews(f NewsFilter) ([]models.NewsItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NewsItem
	for _, n := range m.news {
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if !f.CreatedAfter.IsZero() && n.CreatedAt.Before(f.CreatedAfter) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// --- tags ---

func (m *MemoryStore) UpsertTag(name, slug string) (*models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name + "|" + slug
	if t, ok := m.tags[key]; ok {
		t.UsageCount++
		cp := *t
		return &cp, nil
	}
	m.nextTagID++
	t := &models.Tag{ID: m.nextTagID, Name: name, Slug: slug, UsageCount: 1}
	m.tags[key] = t
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTag(id int64) (*models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tags {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) SetTagMetaDescription(id int64, meta string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tags {
		if t.ID == id {
			t.MetaDescription = meta
			return nil
		}
	}
	return nil
}

// --- sites ---

func (m *MemoryStore) UpsertSite(site *models.RemoteSite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sites[site.BaseURL]; ok {
		existing.Name = site.Name
		existing.APIKey = site.APIKey
		existing.Enabled = site.Enabled
		site.ID = existing.ID
		return nil
	}
	m.nextSiteID++
	site.ID = m.nextSiteID
	cp := *site
	m.sites[site.BaseURL] = &cp
	return nil
}

func (m *MemoryStore) ListEnabledSites() ([]models.RemoteSite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RemoteSite
	for _, s := range m.sites {
		if s.Enabled {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- deliveries ---

func deliveryKey(newsID, siteID int64) string {
	return fmt.Sprintf("%d|%d", newsID, siteID)
}

func (m *MemoryStore) RecordDelivery(d models.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deliveryKey(d.NewsID, d.SiteID)
	if _, ok := m.delivered[key]; ok {
		return nil
	}
	if d.SentAt.IsZero() {
		d.SentAt = time.Now()
	}
	m.delivered[key] = d
	return nil
}

func (m *MemoryStore) HasDelivery(newsID, siteID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.delivered[deliveryKey(newsID, siteID)]
	return ok, nil
}

// --- sync settings ---

func (m *MemoryStore) UpsertSetting(s *models.SyncSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(s.Name)
	if existing, ok := m.settings[key]; ok {
		s.ID = existing.ID
		cp := *s
		m.settings[key] = &cp
		return nil
	}
	m.nextSettingID++
	s.ID = m.nextSettingID
	cp := *s
	m.settings[key] = &cp
	return nil
}

func (m *MemoryStore) GetSetting(id int64) (*models.SyncSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.settings {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListEnabledSettings() ([]models.SyncSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncSetting
	for _, s := range m.settings {
		if s.Enabled {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
