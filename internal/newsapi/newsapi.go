// Package newsapi fetches raw articles from the upstream news source.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pressfeed/newspipe/internal/models"
)

// Page is one fetch result: articles plus how many pages the source
// reports for the query.
type Page struct {
	Results []models.SourceArticle
	Pages   int
}

// Fetcher pulls articles for a sync setting's query.
type Fetcher interface {
	FetchArticles(ctx context.Context, setting models.SyncSetting, page int) (Page, error)
}

// Client is the HTTP-backed Fetcher.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a reusable client for the source API.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// wire types of the source API.
type articlePayload struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Slug        string `json:"slug"`
	URI         string `json:"article_id"`
	SourceName  string `json:"source_name"`
	PublishedAt string `json:"pubDate"`
}

type fetchResponse struct {
	Status  string           `json:"status"`
	Results []articlePayload `json:"results"`
	Pages   int              `json:"totalPages"`
	Message string           `json:"message"`
}

// FetchArticles pulls one page of articles matching the setting's query.
func (c *Client) FetchArticles(ctx context.Context, setting models.SyncSetting, page int) (Page, error) {
	q := url.Values{}
	q.Set("q", setting.Query)
	if setting.Language != "" {
		q.Set("language", setting.Language)
	}
	if setting.Country != "" {
		q.Set("country", setting.Country)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("new request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch articles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Page{}, models.NewCallError(models.ErrorKindTooManyRequests, "news source: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("news source: unexpected status %s", resp.Status)
	}

	var body fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return Page{}, fmt.Errorf("news source: %s: %s", body.Status, body.Message)
	}

	out := Page{Pages: body.Pages}
	for _, a := range body.Results {
		article := models.SourceArticle{
			SyncSettingID: setting.ID,
			Title:         a.Title,
			Body:          a.Content,
			Slug:          a.Slug,
			URI:           a.URI,
			SourceName:    a.SourceName,
			WordCount:     len(strings.Fields(a.Content)),
		}
		if ts, err := parsePublished(a.PublishedAt); err == nil {
			article.PublishedAt = ts
		}
		out.Results = append(out.Results, article)
	}
	return out, nil
}

func parsePublished(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
