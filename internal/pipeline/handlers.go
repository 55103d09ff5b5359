package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pressfeed/newspipe/internal/completion"
	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/policy"
	"github.com/pressfeed/newspipe/internal/similarity"
	"github.com/pressfeed/newspipe/internal/store"
	"github.com/pressfeed/newspipe/internal/util"
)

// interestBatch is the payload of one interest-filter call: all
// candidates fetched together, judged in a single request.
type interestBatch struct {
	BatchID       string  `json:"batch_id"`
	SyncSettingID int64   `json:"sync_setting_id"`
	ArticleIDs    []int64 `json:"article_ids"`
}

// minInterestBatch is the smallest candidate set worth an LLM call;
// below it everything passes through.
const minInterestBatch = 3

// interestMatchThreshold matches returned titles back to candidates.
const interestMatchThreshold = 0.9

// titleMinLen and titleMaxLen bound accepted rewritten titles, in runes.
const (
	titleMinLen = 20
	titleMaxLen = 200
)

// socialSendAttempts bounds how often a social item waits for its
// prerequisite fields.
const socialSendAttempts = 3

func decodeItem(payload []byte) (models.QueueItem, bool) {
	var item models.QueueItem
	if err := json.Unmarshal(payload, &item); err != nil {
		slog.Error("pipeline: undecodable queue item dropped", "error", err, "payload", string(payload))
		return item, false
	}
	return item, true
}

// retry converts a task failure into the processor's requeue/drop
// contract. Budget exhaustion requeues unchanged; the policy decides
// everything else, and permanent failures run onFail with the message.
func (c *Controller) retry(ctx context.Context, scope string, id int64, payload []byte, err error, onFail func(msg string)) []byte {
	if errors.Is(err, completion.ErrBudgetExhausted) {
		return payload
	}
	d, perr := c.policy.Decide(ctx, scope, id, err)
	if perr != nil {
		slog.Error("pipeline: policy decision failed", "scope", scope, "id", id, "error", perr)
		return payload
	}
	if d == policy.Fail {
		if onFail != nil {
			onFail(err.Error())
		}
		return nil
	}
	return payload
}

func (c *Controller) failArticle(id int64) func(string) {
	return func(msg string) {
		if err := c.store.SetArticleError(id, msg); err != nil {
			slog.Error("pipeline: record article error failed", "articleID", id, "error", err)
		}
	}
}

func (c *Controller) failNews(id int64) func(string) {
	return func(msg string) {
		if err := c.store.SetNewsError(id, msg); err != nil {
			slog.Error("pipeline: record news error failed", "newsID", id, "error", err)
		}
	}
}

// failDelivery records a dead (news, site) pair. The row counts as
// delivered, so neither the seed sweep nor the send task touches the
// pair again.
func (c *Controller) failDelivery(newsID, siteID int64) func(string) {
	return func(msg string) {
		d := models.Delivery{
			ID:     uuid.NewString(),
			NewsID: newsID,
			SiteID: siteID,
			Error:  msg,
			SentAt: time.Now(),
		}
		if err := c.store.RecordDelivery(d); err != nil {
			slog.Error("pipeline: record dead delivery failed", "newsID", newsID, "siteID", siteID, "error", err)
		}
	}
}

// --- Stage 1: ingest ---

// ingestTask fetches one sync setting's articles, dedupes them against
// storage and routes accepted candidates onward.
func (c *Controller) ingestTask(ctx context.Context, payload []byte) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	setting, err := c.store.GetSetting(item.SyncSettingID)
	if err != nil {
		slog.Error("Controller.ingestTask: load setting failed", "settingID", item.SyncSettingID, "error", err)
		return payload
	}
	if setting == nil || !setting.Enabled {
		return nil
	}

	page, err := c.fetcher.FetchArticles(ctx, *setting, 1)
	if err != nil {
		return c.retry(ctx, StageIngest, setting.ID, payload, err, nil)
	}

	maxAge := time.Duration(setting.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge)

	var accepted []int64
	for i := range page.Results {
		a := page.Results[i]
		state, err := c.classifyArticle(&a, cutoff)
		if err != nil {
			slog.Error("Controller.ingestTask: classify failed", "uri", a.URI, "error", err)
			continue
		}
		if state != models.ArticleStateNew {
			slog.Debug("Controller.ingestTask: article skipped", "uri", a.URI, "state", state)
			continue
		}
		if err := c.store.CreateArticle(&a); err != nil {
			slog.Error("Controller.ingestTask: store article failed", "uri", a.URI, "error", err)
			continue
		}
		accepted = append(accepted, a.ID)
	}

	slog.Info("Controller.ingestTask: fetched",
		"setting", setting.Name, "results", len(page.Results), "accepted", len(accepted))
	if len(accepted) == 0 {
		return nil
	}

	if setting.InterestFilter && len(accepted) >= minInterestBatch {
		batch := interestBatch{
			BatchID:       util.GenerateInterestBatchID(),
			SyncSettingID: setting.ID,
			ArticleIDs:    accepted,
		}
		if err := c.enqueue(StageInterestFilter, batch); err != nil {
			slog.Error("Controller.ingestTask: enqueue interest batch failed", "error", err)
			return payload
		}
		return nil
	}

	if err := c.enqueueArticles(setting.ID, accepted); err != nil {
		slog.Error("Controller.ingestTask: enqueue rewrite items failed", "error", err)
		return payload
	}
	return nil
}

func (c *Controller) classifyArticle(a *models.SourceArticle, cutoff time.Time) (models.ArticleState, error) {
	exists, err := c.store.ArticleExists(a.Slug, a.URI)
	if err != nil {
		return "", err
	}
	if exists {
		return models.ArticleStateExisting, nil
	}
	if !a.PublishedAt.IsZero() && a.PublishedAt.Before(cutoff) {
		return models.ArticleStateTooOld, nil
	}
	return models.ArticleStateNew, nil
}

func (c *Controller) enqueueArticles(settingID int64, articleIDs []int64) error {
	items := make([]models.QueueItem, 0, len(articleIDs))
	for _, id := range articleIDs {
		items = append(items, models.QueueItem{ArticleID: id, SyncSettingID: settingID})
	}
	raw, err := store.EncodeItems(items)
	if err != nil {
		return err
	}
	_, err = c.stages[StageTitleRewrite].queue.Enqueue(raw)
	return err
}

// --- Stage 2: interest filter ---

// interestFilterTask asks the model which candidates are worth
// rewriting. Tiny batches skip the call; selections are matched back
// against candidate titles, and the rest are marked as filtered.
func (c *Controller) interestFilterTask(ctx context.Context, payload []byte) []byte {
	var batch interestBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		slog.Error("Controller.interestFilterTask: undecodable batch dropped", "error", err)
		return nil
	}
	acquired, err := c.guard.TryAcquire(ctx, StageInterestFilter, payload)
	if err != nil || !acquired {
		return payload
	}
	defer c.guard.Release(ctx, StageInterestFilter, payload)

	setting, err := c.store.GetSetting(batch.SyncSettingID)
	if err != nil || setting == nil {
		slog.Error("Controller.interestFilterTask: load setting failed", "settingID", batch.SyncSettingID, "error", err)
		return nil
	}

	articles := make([]*models.SourceArticle, 0, len(batch.ArticleIDs))
	titles := make([]string, 0, len(batch.ArticleIDs))
	for _, id := range batch.ArticleIDs {
		a, err := c.store.GetArticle(id)
		if err != nil || a == nil {
			continue
		}
		articles = append(articles, a)
		titles = append(titles, a.Title)
	}
	if len(articles) < minInterestBatch {
		ids := make([]int64, len(articles))
		for i, a := range articles {
			ids[i] = a.ID
		}
		if err := c.enqueueArticles(setting.ID, ids); err != nil {
			return payload
		}
		return nil
	}

	allowed, err := c.gate.CanSendMoreRequests(ctx)
	if err != nil || !allowed {
		return payload
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Criteria: %s\n\nCandidates:\n", setting.InterestPrompt)
	for i, title := range titles {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
	}
	sb.WriteString("\nReturn only the titles worth publishing, one per line, copied exactly.")

	if err := c.gate.IncreaseRequestCount(ctx); err != nil {
		slog.Error("Controller.interestFilterTask: counter update failed", "error", err)
	}
	res, err := c.llm.Complete(ctx,
		"You are a news desk editor selecting which stories to publish.", sb.String())
	if err != nil {
		return c.retry(ctx, StageInterestFilter, setting.ID, payload, err, nil)
	}
	if err := c.gate.IncreaseTokenCount(ctx, res.TotalTokens); err != nil {
		slog.Error("Controller.interestFilterTask: counter update failed", "error", err)
	}

	selected := make(map[int]bool)
	for _, line := range strings.Split(res.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx, score := similarity.BestMatch(line, titles)
		if idx >= 0 && score > interestMatchThreshold {
			selected[idx] = true
		}
	}

	var keep []int64
	for i, a := range articles {
		if selected[i] {
			keep = append(keep, a.ID)
			continue
		}
		if err := c.store.SetArticleError(a.ID, "not selected by interest filter"); err != nil {
			slog.Error("Controller.interestFilterTask: mark article failed", "articleID", a.ID, "error", err)
		}
	}

	slog.Info("Controller.interestFilterTask: selection done",
		"batch", batch.BatchID, "candidates", len(articles), "selected", len(keep))
	if len(keep) == 0 {
		return nil
	}
	if err := c.enqueueArticles(setting.ID, keep); err != nil {
		return payload
	}
	return nil
}

// --- Stage 3: title rewrite ---

// titleRewriteTask rejects duplicate stories, rewrites the title and
// creates the news item that the later stages enrich.
func (c *Controller) titleRewriteTask(ctx context.Context, payload []byte) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	acquired, err := c.guard.TryAcquire(ctx, StageTitleRewrite, payload)
	if err != nil || !acquired {
		return payload
	}
	defer c.guard.Release(ctx, StageTitleRewrite, payload)

	article, err := c.store.GetArticle(item.ArticleID)
	if err != nil {
		slog.Error("Controller.titleRewriteTask: load article failed", "articleID", item.ArticleID, "error", err)
		return payload
	}
	if article == nil || article.NewsItemID != 0 {
		return nil
	}

	threshold, lookback := c.dupSettings(item.SyncSettingID)
	dup, against, err := c.isDuplicateTitle(ctx, article, threshold, lookback)
	if err != nil {
		return payload
	}
	if dup {
		c.failArticle(article.ID)(fmt.Sprintf("duplicate of %q", against))
		return nil
	}

	allowed, err := c.gate.CanSendMoreRequests(ctx)
	if err != nil || !allowed {
		return payload
	}
	if err := c.gate.IncreaseRequestCount(ctx); err != nil {
		slog.Error("Controller.titleRewriteTask: counter update failed", "error", err)
	}
	res, err := c.llm.Complete(ctx,
		"You rewrite news headlines. Answer with the new headline only, no quotes.",
		"Rewrite this headline with fresh wording but the same meaning:\n\n"+article.Title)
	if err != nil {
		return c.retry(ctx, StageTitleRewrite, article.ID, payload, err, c.failArticle(article.ID))
	}
	if err := c.gate.IncreaseTokenCount(ctx, res.TotalTokens); err != nil {
		slog.Error("Controller.titleRewriteTask: counter update failed", "error", err)
	}

	title := strings.TrimSpace(res.Text)
	if n := len([]rune(title)); n < titleMinLen || n > titleMaxLen {
		err := models.NewCallError(models.ErrorKindContentInvalid,
			"rewritten title length %d outside [%d, %d]", n, titleMinLen, titleMaxLen)
		return c.retry(ctx, StageTitleRewrite, article.ID, payload, err, c.failArticle(article.ID))
	}

	news := &models.NewsItem{
		ArticleID: article.ID,
		Status:    models.SyncStatusInProgress,
		Title:     title,
		Slug:      article.Slug,
	}
	if err := c.store.CreateNewsItem(news); err != nil {
		slog.Error("Controller.titleRewriteTask: create news item failed", "articleID", article.ID, "error", err)
		return payload
	}
	if err := c.store.LinkNewsItem(article.ID, news.ID); err != nil {
		slog.Error("Controller.titleRewriteTask: link news item failed", "articleID", article.ID, "error", err)
	}
	if err := c.enqueue(StageFocusKeyphrase, models.QueueItem{NewsID: news.ID}); err != nil {
		slog.Error("Controller.titleRewriteTask: enqueue failed", "newsID", news.ID, "error", err)
	}
	return nil
}

func (c *Controller) dupSettings(settingID int64) (float64, time.Duration) {
	threshold := c.cfg.SimilarityThreshold
	lookback := c.cfg.Lookback
	if settingID == 0 {
		return threshold, lookback
	}
	setting, err := c.store.GetSetting(settingID)
	if err != nil || setting == nil {
		return threshold, lookback
	}
	if setting.SimilarityThreshold > 0 {
		threshold = setting.SimilarityThreshold
	}
	if setting.LookbackHours > 0 {
		lookback = time.Duration(setting.LookbackHours) * time.Hour
	}
	return threshold, lookback
}

// isDuplicateTitle checks the candidate against accepted titles inside
// the lookback window and against titles still waiting in the rewrite
// queue.
func (c *Controller) isDuplicateTitle(ctx context.Context, article *models.SourceArticle, threshold float64, lookback time.Duration) (bool, string, error) {
	stored, err := c.store.RecentTitles(time.Now().Add(-lookback))
	if err != nil {
		return false, "", err
	}
	pending, err := c.pendingRewriteTitles(article.ID)
	if err != nil {
		return false, "", err
	}
	for _, t := range append(stored, pending...) {
		if similarity.Match(article.Title, t, threshold) {
			return true, t, nil
		}
	}
	return false, "", nil
}

func (c *Controller) pendingRewriteTitles(excludeArticleID int64) ([]string, error) {
	batches, err := c.stages[StageTitleRewrite].queue.Batches()
	if err != nil {
		return nil, err
	}
	var titles []string
	for _, b := range batches {
		for _, raw := range b.Items {
			var item models.QueueItem
			if err := json.Unmarshal(raw, &item); err != nil || item.ArticleID == 0 || item.ArticleID == excludeArticleID {
				continue
			}
			a, err := c.store.GetArticle(item.ArticleID)
			if err != nil || a == nil {
				continue
			}
			titles = append(titles, a.Title)
		}
	}
	return titles, nil
}

// --- Stages 4-6: enrichment chain ---

func (c *Controller) focusKeyphraseTask(ctx context.Context, payload []byte) []byte {
	return c.enrichmentStep(ctx, StageFocusKeyphrase, payload, models.FieldFocusKeyphrase, StageBodyRewrite)
}

func (c *Controller) bodyRewriteTask(ctx context.Context, payload []byte) []byte {
	return c.enrichmentStep(ctx, StageBodyRewrite, payload, models.FieldBody, StageImageCopy)
}

// enrichmentStep generates one field and hands the item to the next
// stage on success.
func (c *Controller) enrichmentStep(ctx context.Context, stageName string, payload []byte, field models.ContentField, next string) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	acquired, err := c.guard.TryAcquire(ctx, stageName, payload)
	if err != nil || !acquired {
		return payload
	}
	defer c.guard.Release(ctx, stageName, payload)

	if _, err := c.engine.GenerateField(ctx, item.NewsID, field); err != nil {
		return c.retry(ctx, stageName, item.NewsID, payload, err, c.failNews(item.NewsID))
	}
	if err := c.policy.ClearAttempts(ctx, stageName, item.NewsID); err != nil {
		slog.Error("pipeline: clear attempts failed", "stage", stageName, "newsID", item.NewsID, "error", err)
	}
	if next != "" {
		if err := c.enqueue(next, models.QueueItem{NewsID: item.NewsID}); err != nil {
			slog.Error("pipeline: enqueue next stage failed", "stage", next, "newsID", item.NewsID, "error", err)
		}
	}
	return nil
}

// imageCopyTask records the source article's lead image and fans out
// the remaining empty fields for completion.
func (c *Controller) imageCopyTask(ctx context.Context, payload []byte) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	news, err := c.store.GetNewsItem(item.NewsID)
	if err != nil {
		slog.Error("Controller.imageCopyTask: load news item failed", "newsID", item.NewsID, "error", err)
		return payload
	}
	if news == nil {
		return nil
	}

	if news.ImageURL == "" && news.ArticleID != 0 {
		article, err := c.store.GetArticle(news.ArticleID)
		if err != nil {
			return payload
		}
		if article != nil {
			if src := extractImageURL(article.Body); src != "" {
				news.ImageURL = src
				if err := c.store.UpdateNewsItem(news); err != nil {
					slog.Error("Controller.imageCopyTask: persist image failed", "newsID", news.ID, "error", err)
					return payload
				}
			}
		}
	}

	missing := c.engine.MissingFields(news)
	fanout := make([]models.QueueItem, 0, len(missing))
	for _, f := range missing {
		fanout = append(fanout, models.QueueItem{NewsID: news.ID, Field: f})
	}
	if len(fanout) == 0 {
		return nil
	}
	raw, err := store.EncodeItems(fanout)
	if err != nil {
		slog.Error("Controller.imageCopyTask: encode fan-out failed", "error", err)
		return nil
	}
	if _, err := c.stages[StageFieldCompletion].queue.Enqueue(raw); err != nil {
		slog.Error("Controller.imageCopyTask: enqueue fan-out failed", "error", err)
		return payload
	}
	slog.Info("Controller.imageCopyTask: fields fanned out", "newsID", news.ID, "fields", len(fanout))
	return nil
}

// --- Stage 7: field completion ---

func (c *Controller) fieldCompletionTask(ctx context.Context, payload []byte) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	acquired, err := c.guard.TryAcquire(ctx, StageFieldCompletion, payload)
	if err != nil || !acquired {
		return payload
	}
	defer c.guard.Release(ctx, StageFieldCompletion, payload)

	scope := StageFieldCompletion + "_" + string(item.Field)
	value, err := c.engine.GenerateField(ctx, item.NewsID, item.Field)
	if err != nil {
		return c.retry(ctx, scope, item.NewsID, payload, err, c.failNews(item.NewsID))
	}
	if err := c.policy.ClearAttempts(ctx, scope, item.NewsID); err != nil {
		slog.Error("pipeline: clear attempts failed", "scope", scope, "newsID", item.NewsID, "error", err)
	}

	if item.Field == models.FieldTags {
		c.enqueueTags(ctx, value)
	}
	return nil
}

// enqueueTags upserts each parsed tag and queues the new ones for
// meta-description generation.
func (c *Controller) enqueueTags(ctx context.Context, tagList string) {
	var fanout []models.QueueItem
	seen := make(map[string]bool)
	for _, name := range strings.Split(tagList, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		slug := util.Slugify(name)
		if seen[slug] {
			continue
		}
		seen[slug] = true
		tag, err := c.store.UpsertTag(name, slug)
		if err != nil {
			slog.Error("Controller.enqueueTags: upsert failed", "tag", name, "error", err)
			continue
		}
		if tag.MetaDescription == "" {
			fanout = append(fanout, models.QueueItem{TagID: tag.ID})
		}
	}
	if len(fanout) == 0 {
		return
	}
	raw, err := store.EncodeItems(fanout)
	if err != nil {
		slog.Error("Controller.enqueueTags: encode failed", "error", err)
		return
	}
	if _, err := c.stages[StageTagProcessing].queue.Enqueue(raw); err != nil {
		slog.Error("Controller.enqueueTags: enqueue failed", "error", err)
	}
}

// --- Stage 8: tag processing ---

func (c *Controller) tagProcessingTask(ctx context.Context, payload []byte) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	acquired, err := c.guard.TryAcquire(ctx, StageTagProcessing, payload)
	if err != nil || !acquired {
		return payload
	}
	defer c.guard.Release(ctx, StageTagProcessing, payload)

	tag, err := c.store.GetTag(item.TagID)
	if err != nil {
		return payload
	}
	if tag == nil || tag.MetaDescription != "" {
		return nil
	}

	allowed, err := c.gate.CanSendMoreRequests(ctx)
	if err != nil || !allowed {
		return payload
	}
	if err := c.gate.IncreaseRequestCount(ctx); err != nil {
		slog.Error("Controller.tagProcessingTask: counter update failed", "error", err)
	}
	res, err := c.llm.Complete(ctx,
		"You write SEO meta descriptions for news topic pages. Answer with the description only, at most 155 characters.",
		"Write a meta description for the tag page: "+tag.Name)
	if err != nil {
		return c.retry(ctx, StageTagProcessing, tag.ID, payload, err, nil)
	}
	if err := c.gate.IncreaseTokenCount(ctx, res.TotalTokens); err != nil {
		slog.Error("Controller.tagProcessingTask: counter update failed", "error", err)
	}

	if err := c.store.SetTagMetaDescription(tag.ID, strings.TrimSpace(res.Text)); err != nil {
		slog.Error("Controller.tagProcessingTask: persist failed", "tagID", tag.ID, "error", err)
		return payload
	}
	return nil
}

// --- Stage 9: outbound send ---

func (c *Controller) outboundSendTask(ctx context.Context, payload []byte) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	acquired, err := c.guard.TryAcquire(ctx, StageOutboundSend, payload)
	if err != nil || !acquired {
		return payload
	}
	defer c.guard.Release(ctx, StageOutboundSend, payload)

	news, err := c.store.GetNewsItem(item.NewsID)
	if err != nil {
		return payload
	}
	// Only completed items leave the system.
	if news == nil || news.Status != models.SyncStatusComplete {
		return nil
	}
	delivered, err := c.store.HasDelivery(item.NewsID, item.SiteID)
	if err != nil {
		return payload
	}
	if delivered {
		return nil
	}

	site, err := c.findSite(item.SiteID)
	if err != nil {
		return payload
	}
	if site == nil {
		return nil
	}

	scope := fmt.Sprintf("%s_site_%d", StageOutboundSend, item.SiteID)
	delivery, err := c.sender.Send(ctx, *site, news)
	if err != nil {
		return c.retry(ctx, scope, item.NewsID, payload, err, c.failDelivery(item.NewsID, item.SiteID))
	}
	if err := c.store.RecordDelivery(delivery); err != nil {
		slog.Error("Controller.outboundSendTask: record delivery failed", "newsID", item.NewsID, "siteID", item.SiteID, "error", err)
		return payload
	}
	if err := c.policy.ClearAttempts(ctx, scope, item.NewsID); err != nil {
		slog.Error("pipeline: clear attempts failed", "scope", scope, "newsID", item.NewsID, "error", err)
	}
	slog.Info("Controller.outboundSendTask: delivered",
		"newsID", item.NewsID, "site", site.Name, "remoteID", delivery.RemoteID)
	return nil
}

func (c *Controller) findSite(id int64) (*models.RemoteSite, error) {
	sites, err := c.store.ListEnabledSites()
	if err != nil {
		return nil, err
	}
	for i := range sites {
		if sites[i].ID == id {
			return &sites[i], nil
		}
	}
	return nil, nil
}

// --- Stage 10: social fields ---

// socialFieldsTask generates one social variant. Items whose
// prerequisite fields are still empty wait, bounded to three attempts.
func (c *Controller) socialFieldsTask(ctx context.Context, payload []byte) []byte {
	item, ok := decodeItem(payload)
	if !ok {
		return nil
	}
	acquired, err := c.guard.TryAcquire(ctx, StageSocialFields, payload)
	if err != nil || !acquired {
		return payload
	}
	defer c.guard.Release(ctx, StageSocialFields, payload)

	news, err := c.store.GetNewsItem(item.NewsID)
	if err != nil {
		return payload
	}
	if news == nil {
		return nil
	}
	if news.FieldValue(item.Field) != "" {
		return nil
	}

	if news.Title == "" || news.Summary == "" {
		if item.Attempts+1 >= socialSendAttempts {
			slog.Warn("Controller.socialFieldsTask: prerequisites never filled",
				"newsID", item.NewsID, "field", item.Field, "attempts", item.Attempts+1)
			return nil
		}
		item.Attempts++
		out, err := json.Marshal(item)
		if err != nil {
			return nil
		}
		return out
	}

	scope := StageSocialFields + "_" + string(item.Field)
	if _, err := c.engine.GenerateField(ctx, item.NewsID, item.Field); err != nil {
		return c.retry(ctx, scope, item.NewsID, payload, err, nil)
	}
	if err := c.policy.ClearAttempts(ctx, scope, item.NewsID); err != nil {
		slog.Error("pipeline: clear attempts failed", "scope", scope, "newsID", item.NewsID, "error", err)
	}
	return nil
}
