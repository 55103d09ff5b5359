package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/store"
)

// Seed refills the entry-point queues before a dispatch tick: one
// ingest item per enabled sync setting, outbound pairs for completed
// items, and social fan-out for completed items missing variants.
func (c *Controller) Seed(ctx context.Context) error {
	if err := c.SeedIngest(ctx); err != nil {
		return fmt.Errorf("seed ingest: %w", err)
	}
	if err := c.SeedOutbound(ctx); err != nil {
		return fmt.Errorf("seed outbound: %w", err)
	}
	if err := c.SeedSocial(ctx); err != nil {
		return fmt.Errorf("seed social: %w", err)
	}
	return nil
}

// SeedIngest enqueues one fetch item per enabled sync setting, unless
// the ingest queue already has work.
func (c *Controller) SeedIngest(ctx context.Context) error {
	pending, err := c.stages[StageIngest].queue.Pending()
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}

	settings, err := c.store.ListEnabledSettings()
	if err != nil {
		return err
	}
	items := make([]models.QueueItem, 0, len(settings))
	for _, s := range settings {
		items = append(items, models.QueueItem{SyncSettingID: s.ID})
	}
	if len(items) == 0 {
		return nil
	}
	raw, err := store.EncodeItems(items)
	if err != nil {
		return err
	}
	if _, err := c.stages[StageIngest].queue.Enqueue(raw); err != nil {
		return err
	}
	slog.Debug("Controller.SeedIngest: settings enqueued", "count", len(items))
	return nil
}

// SeedOutbound enqueues one send item per (completed news, enabled
// site) pair not yet in the delivery log and not already queued.
func (c *Controller) SeedOutbound(ctx context.Context) error {
	sites, err := c.store.ListEnabledSites()
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		return nil
	}
	complete, err := c.store.ListNews(store.NewsFilter{Status: models.SyncStatusComplete})
	if err != nil {
		return err
	}
	queued, err := c.queuedPairs(StageOutboundSend)
	if err != nil {
		return err
	}

	var items []models.QueueItem
	for _, n := range complete {
		for _, s := range sites {
			if queued[pairKey(n.ID, s.ID)] {
				continue
			}
			delivered, err := c.store.HasDelivery(n.ID, s.ID)
			if err != nil {
				return err
			}
			if delivered {
				continue
			}
			items = append(items, models.QueueItem{NewsID: n.ID, SiteID: s.ID})
		}
	}
	if len(items) == 0 {
		return nil
	}
	raw, err := store.EncodeItems(items)
	if err != nil {
		return err
	}
	if _, err := c.stages[StageOutboundSend].queue.Enqueue(raw); err != nil {
		return err
	}
	slog.Info("Controller.SeedOutbound: deliveries enqueued", "count", len(items))
	return nil
}

// SeedSocial fans out missing social variants for completed items.
func (c *Controller) SeedSocial(ctx context.Context) error {
	complete, err := c.store.ListNews(store.NewsFilter{Status: models.SyncStatusComplete})
	if err != nil {
		return err
	}
	queued, err := c.queuedFields(StageSocialFields)
	if err != nil {
		return err
	}

	var items []models.QueueItem
	for i := range complete {
		n := &complete[i]
		for _, f := range models.SocialFields() {
			if n.FieldValue(f) != "" || queued[fieldKey(n.ID, f)] {
				continue
			}
			items = append(items, models.QueueItem{NewsID: n.ID, Field: f})
		}
	}
	if len(items) == 0 {
		return nil
	}
	raw, err := store.EncodeItems(items)
	if err != nil {
		return err
	}
	if _, err := c.stages[StageSocialFields].queue.Enqueue(raw); err != nil {
		return err
	}
	slog.Info("Controller.SeedSocial: variants enqueued", "count", len(items))
	return nil
}

// ResyncNews clears the item's response caches and fans its empty
// fields back out for completion. Operator action.
func (c *Controller) ResyncNews(ctx context.Context, newsID int64) (int, error) {
	news, err := c.store.GetNewsItem(newsID)
	if err != nil {
		return 0, err
	}
	if news == nil {
		return 0, fmt.Errorf("news item %d not found", newsID)
	}
	if err := c.engine.ClearCaches(ctx, newsID); err != nil {
		return 0, err
	}

	missing := c.engine.MissingFields(news)
	if len(missing) == 0 {
		return 0, nil
	}
	items := make([]models.QueueItem, 0, len(missing))
	for _, f := range missing {
		items = append(items, models.QueueItem{NewsID: newsID, Field: f})
	}
	raw, err := store.EncodeItems(items)
	if err != nil {
		return 0, err
	}
	if _, err := c.stages[StageFieldCompletion].queue.Enqueue(raw); err != nil {
		return 0, err
	}
	return len(items), nil
}

func pairKey(newsID, siteID int64) string { return fmt.Sprintf("%d_%d", newsID, siteID) }
func fieldKey(newsID int64, f models.ContentField) string {
	return fmt.Sprintf("%d_%s", newsID, f)
}

func (c *Controller) queuedPairs(stageName string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := c.eachQueuedItem(stageName, func(item models.QueueItem) {
		out[pairKey(item.NewsID, item.SiteID)] = true
	})
	return out, err
}

func (c *Controller) queuedFields(stageName string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := c.eachQueuedItem(stageName, func(item models.QueueItem) {
		out[fieldKey(item.NewsID, item.Field)] = true
	})
	return out, err
}

func (c *Controller) eachQueuedItem(stageName string, fn func(models.QueueItem)) error {
	batches, err := c.stages[stageName].queue.Batches()
	if err != nil {
		return err
	}
	for _, b := range batches {
		for _, raw := range b.Items {
			var item models.QueueItem
			if err := json.Unmarshal(raw, &item); err != nil {
				continue
			}
			fn(item)
		}
	}
	return nil
}
