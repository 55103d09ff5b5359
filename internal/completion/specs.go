package completion

import (
	"strings"

	"github.com/pressfeed/newspipe/internal/models"
	"github.com/pressfeed/newspipe/internal/util"
)

// FieldSpec describes how one content field is generated: the prompts,
// the output limits and the phrases that must never appear.
type FieldSpec struct {
	Field        models.ContentField
	SystemPrompt string
	// UserTemplate is rendered with {{placeholder}} substitution from
	// the news item and its source article.
	UserTemplate string
	// MaxLength truncates the filtered output, in runes. Zero means
	// unlimited.
	MaxLength int
	// Blacklist lines containing (or closely resembling) these phrases
	// are removed from the output.
	Blacklist []string
}

// Registry maps each completable field to its spec. Fields without a
// spec are configuration errors at generation time.
type Registry map[models.ContentField]FieldSpec

// Register adds or replaces a field spec.
func (r Registry) Register(spec FieldSpec) { r[spec.Field] = spec }

var defaultBlacklist = []string{
	"as an ai language model",
	"i cannot",
	"here is the",
	"here's the",
	"sure, ",
}

// DefaultRegistry returns the built-in spec for every completable field.
func DefaultRegistry() Registry {
	specs := []FieldSpec{
		{
			Field:        models.FieldBody,
			SystemPrompt: "You are a news editor. Rewrite articles into original, well-structured HTML body text. Keep the facts, change the wording.",
			UserTemplate: "Rewrite this article as HTML paragraphs.\n\nTitle: {{title}}\n\n{{source_body}}",
		},
		{
			Field:        models.FieldSummary,
			SystemPrompt: "You are a news editor. Write a neutral one-paragraph summary.",
			UserTemplate: "Summarize this article in 2-3 sentences.\n\nTitle: {{title}}\n\n{{body}}",
			MaxLength:    500,
		},
		{
			Field:        models.FieldMetaTitle,
			SystemPrompt: "You write SEO page titles. Answer with the title only.",
			UserTemplate: "Write an SEO title of at most 60 characters for:\n\n{{title}}",
			MaxLength:    70,
		},
		{
			Field:        models.FieldMetaDescription,
			SystemPrompt: "You write SEO meta descriptions. Answer with the description only.",
			UserTemplate: "Write a meta description of at most 155 characters for this article.\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    160,
		},
		{
			Field:        models.FieldFocusKeyphrase,
			SystemPrompt: "You pick SEO focus keyphrases. Answer with the keyphrase only, 2-4 words, lowercase.",
			UserTemplate: "Pick the focus keyphrase for:\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    60,
		},
		{
			Field:        models.FieldTags,
			SystemPrompt: "You tag news articles. Answer with 3-6 comma-separated tags, no numbering.",
			UserTemplate: "Tag this article.\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    200,
		},
		{
			Field:        models.FieldCategory,
			SystemPrompt: "You classify news articles. Answer with a single category name.",
			UserTemplate: "Classify this article into one category (e.g. Politics, Business, Sports, Technology, Culture).\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    50,
		},
		{
			Field:        models.FieldCountry,
			SystemPrompt: "You identify which country a news story is about. Answer with the country name only, or 'International'.",
			UserTemplate: "Which country is this story about?\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    60,
		},
		{
			Field:        models.FieldSlug,
			SystemPrompt: "You write URL slugs. Answer with the slug only: lowercase words joined by hyphens.",
			UserTemplate: "Write a URL slug for:\n\n{{title}}",
			MaxLength:    100,
		},
		{
			Field:        models.FieldImage,
			SystemPrompt: "You describe news images. Answer with a short photo caption.",
			UserTemplate: "Write a one-line caption for the lead image of:\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    200,
		},
		{
			Field:        models.FieldInstagramPost,
			SystemPrompt: "You write Instagram captions for a news account. Engaging, 2-3 hashtags, no links.",
			UserTemplate: "Write an Instagram caption for:\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    2200,
		},
		{
			Field:        models.FieldTwitterPost,
			SystemPrompt: "You write posts for X (Twitter). At most 270 characters, at most 2 hashtags.",
			UserTemplate: "Write a post for:\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    280,
		},
		{
			Field:        models.FieldLinkedInPost,
			SystemPrompt: "You write LinkedIn posts for a news publisher. Professional tone, short paragraphs.",
			UserTemplate: "Write a LinkedIn post for:\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    3000,
		},
		{
			Field:        models.FieldFacebookPost,
			SystemPrompt: "You write Facebook posts for a news page. Conversational, one short paragraph.",
			UserTemplate: "Write a Facebook post for:\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    2000,
		},
		{
			Field:        models.FieldNewsletterIntro,
			SystemPrompt: "You write newsletter blurbs. Two sentences, direct address to the reader.",
			UserTemplate: "Write a newsletter intro for:\n\nTitle: {{title}}\n\n{{summary}}",
			MaxLength:    400,
		},
	}

	r := make(Registry, len(specs))
	for _, s := range specs {
		s.Blacklist = append(s.Blacklist, defaultBlacklist...)
		r.Register(s)
	}
	return r
}

// renderTemplate substitutes {{placeholder}} tokens from the item and
// its source article.
func renderTemplate(tmpl string, item *models.NewsItem, article *models.SourceArticle) string {
	pairs := []string{
		"{{title}}", item.Title,
		"{{slug}}", item.Slug,
		"{{body}}", item.Body,
		"{{summary}}", item.Summary,
		"{{keyphrase}}", item.FocusKeyphrase,
		"{{tags}}", item.Tags,
		"{{category}}", item.Category,
		"{{country}}", item.Country,
	}
	if article != nil {
		pairs = append(pairs,
			"{{source_body}}", article.Body,
			"{{source_title}}", article.Title,
			"{{source_name}}", article.SourceName,
		)
	} else {
		// Fall back to the item's own body when the source is gone.
		pairs = append(pairs, "{{source_body}}", item.Body, "{{source_title}}", item.Title, "{{source_name}}", "")
	}
	out := strings.NewReplacer(pairs...).Replace(tmpl)
	return out
}

// promptWordCount sizes the rendered prompts for the token budget check.
func promptWordCount(system, user string) int {
	return util.WordCount(system) + util.WordCount(user)
}
