// Package webhook posts completed news items to subscriber sites.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pressfeed/newspipe/internal/models"
)

// Sender delivers one news item to one remote site and returns the
// delivery record to store.
type Sender interface {
	Send(ctx context.Context, site models.RemoteSite, item *models.NewsItem) (models.Delivery, error)
}

// Client is the HTTP-backed Sender.
type Client struct {
	http *http.Client
}

var _ Sender = (*Client)(nil)

// NewClient creates a reusable webhook client.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 30 * time.Second}}
}

// newsPayload is the projection subscriber sites receive.
type newsPayload struct {
	ID              int64  `json:"id"`
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
}

type sendResponse struct {
	Data struct {
		NewsID  int64  `json:"news_id"`
		NewsURL string `json:"news_url"`
	} `json:"data"`
}

// Send posts the item to the site's news webhook. A successful
// response yields a Delivery carrying the remote id and URL.
func (c *Client) Send(ctx context.Context, site models.RemoteSite, item *models.NewsItem) (models.Delivery, error) {
	payload := newsPayload{
		ID:              item.ID,
		Title:           item.Title,
		Slug:            item.Slug,
		Body:            item.Body,
		Summary:         item.Summary,
		MetaTitle:       item.MetaTitle,
		MetaDescription: item.MetaDescription,
		FocusKeyphrase:  item.FocusKeyphrase,
		Tags:            item.Tags,
		Category:        item.Category,
		Country:         item.Country,
		ImageURL:        item.ImageURL,
		InstagramPost:   item.InstagramPost,
		TwitterPost:     item.TwitterPost,
		LinkedInPost:    item.LinkedInPost,
		FacebookPost:    item.FacebookPost,
		NewsletterIntro: item.NewsletterIntro,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Delivery{}, fmt.Errorf("marshal news payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, site.BaseURL+"/webhook/news", bytes.NewReader(body))
	if err != nil {
		return models.Delivery{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if site.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+site.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Delivery{}, fmt.Errorf("post to %s: %w", site.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Delivery{}, fmt.Errorf("post to %s: unexpected status %s", site.BaseURL, resp.Status)
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return models.Delivery{}, fmt.Errorf("decode response from %s: %w", site.BaseURL, err)
	}
	if sr.Data.NewsID == 0 {
		return models.Delivery{}, fmt.Errorf("post to %s: response missing news id", site.BaseURL)
	}

	return models.Delivery{
		ID:        uuid.NewString(),
		NewsID:    item.ID,
		SiteID:    site.ID,
		RemoteID:  sr.Data.NewsID,
		RemoteURL: sr.Data.NewsURL,
		SentAt:    time.Now(),
	}, nil
}
