package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressfeed/newspipe/internal/models"
)

// isNoRows reports whether err is sql.ErrNoRows, possibly wrapped.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// nilIfZeroTime returns nil for the zero time, for nullable columns.
func nilIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner abstracts sql.Row and sql.Rows for the shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// newsColumns is the column list every news item query selects, in the
// order the scan helper expects.
const newsColumns = `id, article_id, sync_status, title, slug, body, summary, meta_title,
	meta_description, focus_keyphrase, tags, category, country, image_url,
	instagram_post, twitter_post, linkedin_post, facebook_post, newsletter_intro,
	total_time, total_requests, total_tokens, error, created_at, updated_at`

func scanNewsItem(r rowScanner) (models.NewsItem, error) {
	var n models.NewsItem
	err := r.Scan(
		&n.ID, &n.ArticleID, &n.Status, &n.Title, &n.Slug, &n.Body, &n.Summary, &n.MetaTitle,
		&n.MetaDescription, &n.FocusKeyphrase, &n.Tags, &n.Category, &n.Country, &n.ImageURL,
		&n.InstagramPost, &n.TwitterPost, &n.LinkedInPost, &n.FacebookPost, &n.NewsletterIntro,
		&n.TotalTime, &n.TotalRequests, &n.TotalTokens, &n.Error, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return n, fmt.Errorf("scan news item: %w", err)
	}
	return n, nil
}

const articleColumns = `id, sync_setting_id, title, body, slug, uri, source_name, word_count,
	published_at, news_item_id, error, created_at`

func scanArticle(r rowScanner) (models.SourceArticle, error) {
	var a models.SourceArticle
	var publishedAt sql.NullTime
	err := r.Scan(
		&a.ID, &a.SyncSettingID, &a.Title, &a.Body, &a.Slug, &a.URI, &a.SourceName, &a.WordCount,
		&publishedAt, &a.NewsItemID, &a.Error, &a.CreatedAt,
	)
	if err != nil {
		return a, fmt.Errorf("scan article: %w", err)
	}
	if publishedAt.Valid {
		a.PublishedAt = publishedAt.Time
	}
	return a, nil
}

const settingColumns = `id, name, query, enabled, max_age_hours, interest_filter, interest_prompt,
	similarity_threshold, lookback_hours, language, country`

func scanSetting(r rowScanner) (models.SyncSetting, error) {
	var s models.SyncSetting
	err := r.Scan(
		&s.ID, &s.Name, &s.Query, &s.Enabled, &s.MaxAgeHours, &s.InterestFilter, &s.InterestPrompt,
		&s.SimilarityThreshold, &s.LookbackHours, &s.Language, &s.Country,
	)
	if err != nil {
		return s, fmt.Errorf("scan sync setting: %w", err)
	}
	return s, nil
}
