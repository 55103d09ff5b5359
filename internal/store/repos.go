// Package store: entity repository interfaces.
package store

import (
	"time"

	"github.com/pressfeed/newspipe/internal/models"
)

// ArticleRepo persists raw ingested articles.
type ArticleRepo interface {
	// CreateArticle inserts the article and assigns its ID.
	CreateArticle(a *models.SourceArticle) error

	// GetArticle returns the article or nil when absent.
	GetArticle(id int64) (*models.SourceArticle, error)

	// ArticleExists reports whether an article with the same slug or URI
	// has already been ingested.
	ArticleExists(slug, uri string) (bool, error)

	// SetArticleError records a permanent error on the article.
	SetArticleError(id int64, msg string) error

	// LinkNewsItem sets the article's news item foreign key.
	LinkNewsItem(articleID, newsID int64) error
}

// NewsRepo persists rewritten news items.
type NewsRepo interface {
	// CreateNewsItem inserts the item and assigns its ID.
	CreateNewsItem(n *models.NewsItem) error

	// GetNewsItem returns the item or nil when absent.
	GetNewsItem(id int64) (*models.NewsItem, error)

	// UpdateNewsItem persists all mutable columns of the item.
	UpdateNewsItem(n *models.NewsItem) error

	// SetSyncStatus transitions the item's status. Completed items never
	// regress: the update is a no-op once the status is complete.
	SetSyncStatus(id int64, status models.SyncStatus) error

	// SetNewsError records an error message and marks the item failed,
	// unless it has already completed.
	SetNewsError(id int64, msg string) error

	// RecentTitles returns accepted titles created at or after since,
	// for duplicate detection.
	RecentTitles(since time.Time) ([]string, error)

	// ListNews returns items matching the filter, newest first.
	ListNews(f NewsFilter) ([]models.NewsItem, error)
}

// NewsFilter narrows ListNews results. Zero values mean "any".
type NewsFilter struct {
	Status       models.SyncStatus
	CreatedAfter time.Time
	Limit        int
}

// TagRepo persists unique content tags.
type TagRepo interface {
	// UpsertTag inserts the tag or, when (name, slug) already exists,
	// increments its usage counter. Returns the stored tag.
	UpsertTag(name, slug string) (*models.Tag, error)

	// GetTag returns the tag or nil when absent.
	GetTag(id int64) (*models.Tag, error)

	// SetTagMetaDescription stores the generated meta description.
	SetTagMetaDescription(id int64, meta string) error
}

// SiteRepo persists remote subscriber sites.
type SiteRepo interface {
	// UpsertSite inserts or updates a site keyed by base URL.
	UpsertSite(s *models.RemoteSite) error

	// ListEnabledSites returns all enabled subscriber sites.
	ListEnabledSites() ([]models.RemoteSite, error)
}

// DeliveryRepo persists the outbound delivery log.
type DeliveryRepo interface {
	// RecordDelivery stores one successful outbound post.
	RecordDelivery(d models.Delivery) error

	// HasDelivery reports whether (news, site) has already been delivered.
	HasDelivery(newsID, siteID int64) (bool, error)
}

// SyncSettingRepo persists ingestion source settings.
type SyncSettingRepo interface {
	// UpsertSetting inserts or updates a setting keyed by name.
	UpsertSetting(s *models.SyncSetting) error

	// GetSetting returns the setting or nil when absent.
	GetSetting(id int64) (*models.SyncSetting, error)

	// ListEnabledSettings returns all enabled sync settings.
	ListEnabledSettings() ([]models.SyncSetting, error)
}

// Store aggregates every repository a fully wired pipeline needs.
type Store interface {
	BatchRepo
	ArticleRepo
	NewsRepo
	TagRepo
	SiteRepo
	DeliveryRepo
	SyncSettingRepo
	Close() error
}
