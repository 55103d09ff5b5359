// Package models defines the core data structures used throughout NewsPipe.
//
// It contains the source article and rewritten news entities, sync settings,
// remote subscriber sites, delivery records, and the queue item payloads
// exchanged between pipeline stages.
package models

import (
	"time"
)

// SyncStatus represents the lifecycle state of a rewritten news item.
type SyncStatus string

const (
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusComplete   SyncStatus = "complete"
	SyncStatusFail       SyncStatus = "fail"
)

// ArticleState classifies a freshly fetched article relative to storage.
type ArticleState string

const (
	ArticleStateNew      ArticleState = "new"
	ArticleStateExisting ArticleState = "existing"
	ArticleStateTooOld   ArticleState = "too_old"
)

// SourceArticle is a raw ingested article from the news API.
type SourceArticle struct {
	ID            int64     `json:"id"`
	SyncSettingID int64     `json:"sync_setting_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Slug          string    `json:"slug"`
	URI           string    `json:"uri"`
	SourceName    string    `json:"source_name"`
	WordCount     int       `json:"word_count"`
	PublishedAt   time.Time `json:"published_at"`
	// NewsItemID is 0 until the article is accepted into the pipeline.
	NewsItemID int64     `json:"news_item_id"`
	Error      string    `json:"error"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewsItem is the enrichment target entity: one row per accepted article.
// Its content fields are filled independently by the field completion engine.
type NewsItem struct {
	ID        int64      `json:"id"`
	ArticleID int64      `json:"article_id"`
	Status    SyncStatus `json:"sync_status"`

	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Body            string `json:"body"`
	Summary         string `json:"summary"`
	MetaTitle       string `json:"meta_title"`
	MetaDescription string `json:"meta_description"`
	FocusKeyphrase  string `json:"focus_keyphrase"`
	Tags            string `json:"tags"`
	Category        string `json:"category"`
	Country         string `json:"country"`
	ImageURL        string `json:"image_url"`
	InstagramPost   string `json:"instagram_post"`
	TwitterPost     string `json:"twitter_post"`
	LinkedInPost    string `json:"linkedin_post"`
	FacebookPost    string `json:"facebook_post"`
	NewsletterIntro string `json:"newsletter_intro"`

	TotalTime     float64   `json:"total_time"`
	TotalRequests int       `json:"total_requests"`
	TotalTokens   int64     `json:"total_tokens"`
	Error         string    `json:"error"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ContentField identifies one independently generatable content attribute
// of a NewsItem. Generators are registered per field in a typed table at
// startup rather than looked up by arbitrary strings at runtime.
type ContentField string

const (
	FieldBody            ContentField = "body"
	FieldSummary         ContentField = "summary"
	FieldMetaTitle       ContentField = "meta_title"
	FieldMetaDescription ContentField = "meta_description"
	FieldFocusKeyphrase  ContentField = "focus_keyphrase"
	FieldTags            ContentField = "tags"
	FieldCategory        ContentField = "category"
	FieldCountry         ContentField = "country"
	FieldSlug            ContentField = "slug"
	FieldImage           ContentField = "image"
	FieldInstagramPost   ContentField = "instagram_post"
	FieldTwitterPost     ContentField = "twitter_post"
	FieldLinkedInPost    ContentField = "linkedin_post"
	FieldFacebookPost    ContentField = "facebook_post"
	FieldNewsletterIntro ContentField = "newsletter_intro"
)

// CompletableFields lists every field the completion engine can fill,
// in fan-out order.
func CompletableFields() []ContentField {
	return []ContentField{
		FieldBody,
		FieldSummary,
		FieldMetaTitle,
		FieldMetaDescription,
		FieldFocusKeyphrase,
		FieldTags,
		FieldCategory,
		FieldCountry,
		FieldSlug,
		FieldImage,
		FieldInstagramPost,
		FieldTwitterPost,
		FieldLinkedInPost,
		FieldFacebookPost,
		FieldNewsletterIntro,
	}
}

// SocialFields lists the social variants handled by the social fan-out stage.
func SocialFields() []ContentField {
	return []ContentField{FieldInstagramPost, FieldTwitterPost, FieldLinkedInPost, FieldFacebookPost}
}

// FieldValue returns the current value of the given content field.
func (n *NewsItem) FieldValue(f ContentField) string {
	switch f {
	case FieldBody:
		return n.Body
	case FieldSummary:
		return n.Summary
	case FieldMetaTitle:
		return n.MetaTitle
	case FieldMetaDescription:
		return n.MetaDescription
	case FieldFocusKeyphrase:
		return n.FocusKeyphrase
	case FieldTags:
		return n.Tags
	case FieldCategory:
		return n.Category
	case FieldCountry:
		return n.Country
	case FieldSlug:
		return n.Slug
	case FieldImage:
		return n.ImageURL
	case FieldInstagramPost:
		return n.InstagramPost
	case FieldTwitterPost:
		return n.TwitterPost
	case FieldLinkedInPost:
		return n.LinkedInPost
	case FieldFacebookPost:
		return n.FacebookPost
	case FieldNewsletterIntro:
		return n.NewsletterIntro
	}
	return ""
}

// SetFieldValue assigns the given content field. Unknown fields are ignored.
func (n *NewsItem) SetFieldValue(f ContentField, v string) {
	switch f {
	case FieldBody:
		n.Body = v
	case FieldSummary:
		n.Summary = v
	case FieldMetaTitle:
		n.MetaTitle = v
	case FieldMetaDescription:
		n.MetaDescription = v
	case FieldFocusKeyphrase:
		n.FocusKeyphrase = v
	case FieldTags:
		n.Tags = v
	case FieldCategory:
		n.Category = v
	case FieldCountry:
		n.Country = v
	case FieldSlug:
		n.Slug = v
	case FieldImage:
		n.ImageURL = v
	case FieldInstagramPost:
		n.InstagramPost = v
	case FieldTwitterPost:
		n.TwitterPost = v
	case FieldLinkedInPost:
		n.LinkedInPost = v
	case FieldFacebookPost:
		n.FacebookPost = v
	case FieldNewsletterIntro:
		n.NewsletterIntro = v
	}
}

// FilledFieldCount returns how many completable fields are non-empty.
func (n *NewsItem) FilledFieldCount() int {
	count := 0
	for _, f := range CompletableFields() {
		if n.FieldValue(f) != "" {
			count++
		}
	}
	return count
}

// SyncSetting configures one recurring ingestion source.
type SyncSetting struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Query   string `json:"query"`
	Enabled bool   `json:"enabled"`
	// MaxAgeHours rejects articles older than this at ingest time.
	MaxAgeHours int `json:"max_age_hours"`
	// InterestFilter enables the LLM-based interest selection stage.
	InterestFilter bool `json:"interest_filter"`
	// InterestPrompt describes what the operator considers interesting.
	InterestPrompt string `json:"interest_prompt"`
	// SimilarityThreshold is the duplicate-detection cutoff in [0,1].
	// Zero means use the default.
	SimilarityThreshold float64 `json:"similarity_threshold"`
	// LookbackHours bounds the duplicate-detection window. Zero means default.
	LookbackHours int    `json:"lookback_hours"`
	Language      string `json:"language"`
	Country       string `json:"country"`
}

// RemoteSite is a subscriber site that receives completed news items.
type RemoteSite struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Enabled bool   `json:"enabled"`
}

// Delivery records one successful outbound post of a news item to a site.
// Absence of a (news, site) row means delivery is still pending.
type Delivery struct {
	ID        string    `json:"id"`
	NewsID    int64     `json:"news_id"`
	SiteID    int64     `json:"site_id"`
	RemoteID  int64     `json:"remote_id"`
	RemoteURL string    `json:"remote_url"`
	// Error marks a permanently failed send. The row still counts as
	// delivered for scheduling, so the pair is never retried.
	Error  string    `json:"error,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Tag is a unique content tag shared across news items.
type Tag struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	MetaDescription string `json:"meta_description"`
	UsageCount      int    `json:"usage_count"`
}

// QueueItem is the payload carried through the stage queues. Only the
// fields relevant to a given stage are set.
type QueueItem struct {
	ArticleID     int64        `json:"article_id,omitempty"`
	NewsID        int64        `json:"news_id,omitempty"`
	SyncSettingID int64        `json:"sync_setting_id,omitempty"`
	SiteID        int64        `json:"site_id,omitempty"`
	Field         ContentField `json:"field,omitempty"`
	TagID         int64        `json:"tag_id,omitempty"`
	Attempts      int          `json:"attempts,omitempty"`
	CreatedAt     int64        `json:"created_at,omitempty"`
}
