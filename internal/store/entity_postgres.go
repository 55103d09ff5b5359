package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/pressfeed/newspipe/internal/models"
)

var (
	_ ArticleRepo     = (*PostgresStore)(nil)
	_ NewsRepo        = (*PostgresStore)(nil)
	_ TagRepo         = (*PostgresStore)(nil)
	_ SiteRepo        = (*PostgresStore)(nil)
	_ DeliveryRepo    = (*PostgresStore)(nil)
	_ SyncSettingRepo = (*PostgresStore)(nil)
)

// --- articles ---

func (s *PostgresStore) CreateArticle(a *models.SourceArticle) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	err := s.db.QueryRow(
		`INSERT INTO articles (sync_setting_id, title, body, slug, uri, source_name, word_count, published_at, news_item_id, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, '', $9) RETURNING id`,
		a.SyncSettingID, a.Title, a.Body, a.Slug, a.URI, a.SourceName, a.WordCount, nilIfZeroTime(a.PublishedAt), a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetArticle(id int64) (*models.SourceArticle, error) {
	row := s.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)
	a, err := scanArticle(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article %d: %w", id, err)
	}
	return &a, nil
}

func (s *PostgresStore) ArticleExists(slug, uri string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM articles WHERE (slug <> '' AND slug = $1) OR (uri <> '' AND uri = $2) LIMIT 1`, slug, uri).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("article exists check: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SetArticleError(id int64, msg string) error {
	_, err := s.db.Exec(`UPDATE articles SET error = $1 WHERE id = $2`, msg, id)
	if err != nil {
		return fmt.Errorf("set article error: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinkNewsItem(articleID, newsID int64) error {
	_, err := s.db.Exec(`UPDATE articles SET news_item_id = $1 WHERE id = $2`, newsID, articleID)
	if err != nil {
		return fmt.Errorf("link news item: %w", err)
	}
	return nil
}

// --- news items ---

func (s *PostgresStore) CreateNewsItem(n *models.NewsItem) error {
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = models.SyncStatusInProgress
	}
	err := s.db.QueryRow(
		`INSERT INTO news_items (article_id, sync_status, title, slug, body, summary, meta_title, meta_description,
		   focus_keyphrase, tags, category, country, image_url, instagram_post, twitter_post, linkedin_post,
		   facebook_post, newsletter_intro, total_time, total_requests, total_tokens, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		 RETURNING id`,
		n.ArticleID, n.Status, n.Title, n.Slug, n.Body, n.Summary, n.MetaTitle, n.MetaDescription,
		n.FocusKeyphrase, n.Tags, n.Category, n.Country, n.ImageURL, n.InstagramPost, n.TwitterPost, n.LinkedInPost,
		n.FacebookPost, n.NewsletterIntro, n.TotalTime, n.TotalRequests, n.TotalTokens, n.Error, n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert news item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNewsItem(id int64) (*models.NewsItem, error) {
	row := s.db.QueryRow(`SELECT `+newsColumns+` FROM news_items WHERE id = $1`, id)
	n, err := scanNewsItem(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get news item %d: %w", id, err)
	}
	return &n, nil
}

func (s *PostgresStore) UpdateNewsItem(n *models.NewsItem) error {
	n.UpdatedAt = time.Now()
	_, err := s.db.Exec(
		`UPDATE news_items SET title = $1, slug = $2, body = $3, summary = $4, meta_title = $5, meta_description = $6,
		   focus_keyphrase = $7, tags = $8, category = $9, country = $10, image_url = $11, instagram_post = $12,
		   twitter_post = $13, linkedin_post = $14, facebook_post = $15, newsletter_intro = $16, total_time = $17,
		   total_requests = $18, total_tokens = $19, error = $20, updated_at = $21
		 WHERE id = $22`,
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

func (s *PostgresStore) SetSyncStatus(id int64, status models.SyncStatus) error {
	// Completed items never regress.
	_, err := s.db.Exec(
		`UPDATE news_items SET sync_status = $1, updated_at = $2 WHERE id = $3 AND sync_status != $4`,
		status, time.Now(), id, models.SyncStatusComplete,
	)
	if err != nil {
		return fmt.Errorf("set sync status %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) SetNewsError(id int64, msg string) error {
	_, err := s.db.Exec(
		`UPDATE news_items SET error = $1, sync_status = $2, updated_at = $3 WHERE id = $4 AND sync_status != $5`,
		msg, models.SyncStatusFail, time.Now(), id, models.SyncStatusComplete,
	)
	if err != nil {
		return fmt.Errorf("set news error %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RecentTitles(since time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT title FROM news_items WHERE created_at >= $1 AND title != ''`, since)
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

func (s *PostgresStore) ListNews(f NewsFilter) ([]models.NewsItem, error) {
	q := sq.Select(newsColumns).From("news_items").
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar)
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

func (s *PostgresStore) UpsertTag(name, slug string) (*models.Tag, error) {
	var t models.Tag
	err := s.db.QueryRow(
		`INSERT INTO tags (name, slug, usage_count) VALUES ($1, $2, 1)
		 ON CONFLICT (name, slug) DO UPDATE SET usage_count = tags.usage_count + 1
		 RETURNING id, name, slug, meta_description, usage_count`,
		name, slug,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.MetaDescription, &t.UsageCount)
	if err != nil {
		return nil, fmt.Errorf("upsert tag %s: %w", name, err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTag(id int64) (*models.Tag, error) {
	var t models.Tag
	err := s.db.QueryRow(
		`SELECT id, name, slug, meta_description, usage_count FROM tags WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.MetaDescription, &t.UsageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag %d: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) SetTagMetaDescription(id int64, meta string) error {
	_, err := s.db.Exec(`UPDATE tags SET meta_description = $1 WHERE id = $2`, meta, id)
	if err != nil {
		return fmt.Errorf("set tag meta %d: %w", id, err)
	}
	return nil
}

// --- sites ---

func (s *PostgresStore) UpsertSite(site *models.RemoteSite) error {
	err := s.db.QueryRow(
		`INSERT INTO sites (name, base_url, api_key, enabled) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (base_url) DO UPDATE SET name = excluded.name, api_key = excluded.api_key, enabled = excluded.enabled
		 RETURNING id`,
		site.Name, site.BaseURL, site.APIKey, site.Enabled,
	).Scan(&site.ID)
	if err != nil {
		return fmt.Errorf("upsert site %s: %w", site.BaseURL, err)
	}
	return nil
}

func (s *PostgresStore) ListEnabledSites() ([]models.RemoteSite, error) {
	rows, err := s.db.Query(`SELECT id, name, base_url, api_key, enabled FROM sites WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []models.RemoteSite
	for rows.Next() {
		var site models.RemoteSite
		if err := rows.Scan(&site.ID, &site.Name, &site.BaseURL, &site.APIKey, &site.Enabled); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// --- deliveries ---

func (s *PostgresStore) RecordDelivery(d models.Delivery) error {
	if d.SentAt.IsZero() {
		d.SentAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO deliveries (id, news_id, site_id, remote_id, remote_url, error, sent_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (news_id, site_id) DO NOTHING`,
		d.ID, d.NewsID, d.SiteID, d.RemoteID, d.RemoteURL, d.Error, d.SentAt,
	)
	if err != nil {
		return fmt.Errorf("record delivery news=%d site=%d: %w", d.NewsID, d.SiteID, err)
	}
	return nil
}

func (s *PostgresStore) HasDelivery(newsID, siteID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM deliveries WHERE news_id = $1 AND site_id = $2 LIMIT 1`, newsID, siteID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delivery check: %w", err)
	}
	return true, nil
}

// --- sync settings ---

func (s *PostgresStore) UpsertSetting(set *models.SyncSetting) error {
	err := s.db.QueryRow(
		`INSERT INTO sync_settings (name, query, enabled, max_age_hours, interest_filter, interest_prompt,
		   similarity_threshold, lookback_hours, language, country)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (name) DO UPDATE SET query = excluded.query, enabled = excluded.enabled,
		   max_age_hours = excluded.max_age_hours, interest_filter = excluded.interest_filter,
		   interest_prompt = excluded.interest_prompt, similarity_threshold = excluded.similarity_threshold,
		   lookback_hours = excluded.lookback_hours, language = excluded.language, country = excluded.country
		 RETURNING id`,
		set.Name, set.Query, set.Enabled, set.MaxAgeHours, set.InterestFilter, set.InterestPrompt,
		set.SimilarityThreshold, set.LookbackHours, set.Language, set.Country,
	).Scan(&set.ID)
	if err != nil {
		return fmt.Errorf("upsert sync setting %s: %w", set.Name, err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(id int64) (*models.SyncSetting, error) {
	row := s.db.QueryRow(`SELECT `+settingColumns+` FROM sync_settings WHERE id = $1`, id)
	set, err := scanSetting(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync setting %d: %w", id, err)
	}
	return &set, nil
}

func (s *PostgresStore) ListEnabledSettings() ([]models.SyncSetting, error) {
	rows, err := s.db.Query(`SELECT ` + settingColumns + ` FROM sync_settings WHERE enabled ORDER BY id`)
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
