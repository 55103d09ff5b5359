package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/pressfeed/newspipe/internal/models"
)

var (
	_ ArticleRepo     = (*SQLiteStore)(nil)
	_ NewsRepo        = (*SQLiteStore)(nil)
	_ TagRepo         = (*SQLiteStore)(nil)
	_ SiteRepo        = (*SQLiteStore)(nil)
	_ DeliveryRepo    = (*SQLiteStore)(nil)
	_ SyncSettingRepo = (*SQLiteStore)(nil)
)

// --- articles ---

func (s *SQLiteStore) CreateArticle(a *models.SourceArticle) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO articles (sync_setting_id, title, body, slug, uri, source_name, word_count, published_at, news_item_id, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)`,
		a.SyncSettingID, a.Title, a.Body, a.Slug, a.URI, a.SourceName, a.WordCount, nilIfZeroTime(a.PublishedAt), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("article id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetArticle(id int64) (*models.SourceArticle, error) {
	row := s.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	a, err := scanArticle(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article %d: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteStore) ArticleExists(slug, uri string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM articles WHERE (slug <> '' AND slug = ?) OR (uri <> '' AND uri = ?) LIMIT 1`, slug, uri).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("article exists check: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) SetArticleError(id int64, msg string) error {
	_, err := s.db.Exec(`UPDATE articles SET error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("set article error: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LinkNewsItem(articleID, newsID int64) error {
	_, err := s.db.Exec(`UPDATE articles SET news_item_id = ? WHERE id = ?`, newsID, articleID)
	if err != nil {
		return fmt.Errorf("link news item: %w", err)
	}
	return nil
}

// --- news items ---

func (s *SQLiteStore) CreateNewsItem(n *models.NewsItem) error {
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = models.SyncStatusInProgress
	}
	res, err := s.db.Exec(
		`INSERT INTO news_items (article_id, sync_status, title, slug, body, summary, meta_title, meta_description,
		   focus_keyphrase, tags, category, country, image_url, instagram_post, twitter_post, linkedin_post,
		   facebook_post, newsletter_intro, total_time, total_requests, total_tokens, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ArticleID, n.Status, n.Title, n.Slug, n.Body, n.Summary, n.MetaTitle, n.MetaDescription,
		n.FocusKeyphrase, n.Tags, n.Category, n.Country, n.ImageURL, n.InstagramPost, n.TwitterPost, n.LinkedInPost,
		n.FacebookPost, n.NewsletterIntro, n.TotalTime, n.TotalRequests, n.TotalTokens, n.Error, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert news item: %w", err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("news item id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNewsItem(id int64) (*models.NewsItem, error) {
	row := s.db.QueryRow(`SELECT `+newsColumns+` FROM news_items WHERE id = ?`, id)
	n, err := scanNewsItem(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get news item %d: %w", id, err)
	}
	return &n, nil
}

func (s *SQLiteStore) UpdateNewsItem(n *models.NewsItem) error {
	n.UpdatedAt = time.Now()
	_, err := s.db.Exec(
		`UPDATE news_items SET title = ?, slug = ?, body = ?, summary = ?, meta_title = ?, meta_description = ?,
		   focus_keyphrase = ?, tags = ?, category = ?, country = ?, image_url = ?, instagram_post = ?,
		   twitter_post = ?, linkedin_post = ?, facebook_post = ?, newsletter_intro = ?, total_time = ?,
		   total_requests = ?, total_tokens = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		n.Title, n.Slug, n.Body, n.Summary, n.MetaTitle, n.MetaDescription,
		n.FocusKeyphrase, n.Tags, n.Category, n.Country, n.ImageURL, n.InstagramPost,
		n.TwitterPost, n.LinkedInPost, n.FacebookPost, n.NewsletterIntro, n.TotalTime,
		n.TotalRequests, n.TotalTokens, n.Error, n.UpdatedAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("update news item %d: %w", n.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SetSyncStatus(id int64, status models.SyncStatus) error {
	// Completed items never regress.
	_, err := s.db.Exec(
		`UPDATE news_items SET sync_status = ?, updated_at = ? WHERE id = ? AND sync_status != ?`,
		status, time.Now(), id, models.SyncStatusComplete,
	)
	if err != nil {
		return fmt.Errorf("set sync status %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SetNewsError(id int64, msg string) error {
	_, err := s.db.Exec(
		`UPDATE news_items SET error = ?, sync_status = ?, updated_at = ? WHERE id = ? AND sync_status != ?`,
		msg, models.SyncStatusFail, time.Now(), id, models.SyncStatusComplete,
	)
	if err != nil {
		return fmt.Errorf("set news error %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RecentTitles(since time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT title FROM news_items WHERE created_at >= ? AND title != ''`, since)
	if err != nil {
		return nil, fmt.Errorf("recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate titles: %w", err)
	}
	return titles, nil
}

func (s *SQLiteStore) ListNews(f NewsFilter) ([]models.NewsItem, error) {
	q := sq.Select(newsColumns).From("news_items").OrderBy("created_at DESC")
	if f.Status != "" {
		q = q.Where(sq.Eq{"sync_status": string(f.Status)})
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": f.CreatedAfter})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list news query: %w", err)
	}

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()

	var items []models.NewsItem
	for rows.Next() {
		n, err := scanNewsItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news: %w", err)
	}
	return items, nil
}

// --- tags ---

func (s *SQLiteStore) UpsertTag(name, slug string) (*models.Tag, error) {
	_, err := s.db.Exec(
		`INSERT INTO tags (name, slug, usage_count) VALUES (?, ?, 1)
		 ON CONFLICT(name, slug) DO UPDATE SET usage_count = usage_count + 1`,
		name, slug,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert tag %s: %w", name, err)
	}

	var t models.Tag
	err = s.db.QueryRow(
		`SELECT id, name, slug, meta_description, usage_count FROM tags WHERE name = ? AND slug = ?`,
		name, slug,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.MetaDescription, &t.UsageCount)
	if err != nil {
		return nil, fmt.Errorf("read upserted tag %s: %w", name, err)
	}
	return &t, nil
}

func (s *SQLiteStore) GetTag(id int64) (*models.Tag, error) {
	var t models.Tag
	err := s.db.QueryRow(
		`SELECT id, name, slug, meta_description, usage_count FROM tags WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.MetaDescription, &t.UsageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag %d: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) SetTagMetaDescription(id int64, meta string) error {
	_, err := s.db.Exec(`UPDATE tags SET meta_description = ? WHERE id = ?`, meta, id)
	if err != nil {
		return fmt.Errorf("set tag meta %d: %w", id, err)
	}
	return nil
}

// --- sites ---

func (s *SQLiteStore) UpsertSite(site *models.RemoteSite) error {
	_, err := s.db.Exec(
		`INSERT INTO sites (name, base_url, api_key, enabled) VALUES (?, ?, ?, ?)
		 ON CONFLICT(base_url) DO UPDATE SET name = excluded.name, api_key = excluded.api_key, enabled = excluded.enabled`,
		site.Name, site.BaseURL, site.APIKey, boolToInt(site.Enabled),
	)
	if err != nil {
		return fmt.Errorf("upsert site %s: %w", site.BaseURL, err)
	}
	return s.db.QueryRow(`SELECT id FROM sites WHERE base_url = ?`, site.BaseURL).Scan(&site.ID)
}

func (s *SQLiteStore) ListEnabledSites() ([]models.RemoteSite, error) {
	rows, err := s.db.Query(`SELECT id, name, base_url, api_key, enabled FROM sites WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []models.RemoteSite
	for rows.Next() {
		var site models.RemoteSite
		var enabled int
		if err := rows.Scan(&site.ID, &site.Name, &site.BaseURL, &site.APIKey, &enabled); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		site.Enabled = enabled != 0
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// --- deliveries ---

func (s *SQLiteStore) RecordDelivery(d models.Delivery) error {
	if d.SentAt.IsZero() {
		d.SentAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO deliveries (id, news_id, site_id, remote_id, remote_url, error, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(news_id, site_id) DO NOTHING`,
		d.ID, d.NewsID, d.SiteID, d.RemoteID, d.RemoteURL, d.Error, d.SentAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery news=%d site=%d: %w", d.NewsID, d.SiteID, err)
	}
	return nil
}

func (s *SQLiteStore) HasDelivery(newsID, siteID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM deliveries WHERE news_id = ? AND site_id = ? LIMIT 1`, newsID, siteID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delivery check: %w", err)
	}
	return true, nil
}

// --- sync settings ---

func (s *SQLiteStore) UpsertSetting(set *models.SyncSetting) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_settings (name, query, enabled, max_age_hours, interest_filter, interest_prompt,
		   similarity_threshold, lookback_hours, language, country)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET query = excluded.query, enabled = excluded.enabled,
		   max_age_hours = excluded.max_age_hours, interest_filter = excluded.interest_filter,
		   interest_prompt = excluded.interest_prompt, similarity_threshold = excluded.similarity_threshold,
		   lookback_hours = excluded.lookback_hours, language = excluded.language, country = excluded.country`,
		set.Name, set.Query, boolToInt(set.Enabled), set.MaxAgeHours, boolToInt(set.InterestFilter), set.InterestPrompt,
		set.SimilarityThreshold, set.LookbackHours, set.Language, set.Country,
	)
	if err != nil {
		return fmt.Errorf("upsert sync setting %s: %w", set.Name, err)
	}
	return s.db.QueryRow(`SELECT id FROM sync_settings WHERE name = ?`, set.Name).Scan(&set.ID)
}

func (s *SQLiteStore) GetSetting(id int64) (*models.SyncSetting, error) {
	row := s.db.QueryRow(`SELECT `+settingColumns+` FROM sync_settings WHERE id = ?`, id)
	set, err := scanSetting(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync setting %d: %w", id, err)
	}
	return &set, nil
}

func (s *SQLiteStore) ListEnabledSettings() ([]models.SyncSetting, error) {
	rows, err := s.db.Query(`SELECT ` + settingColumns + ` FROM sync_settings WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sync settings: %w", err)
	}
	defer rows.Close()

	var settings []models.SyncSetting
	for rows.Next() {
		set, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync settings: %w", err)
	}
	return settings, nil
}
