package pipeline

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractImageURL returns the first usable image source in the article
// HTML. Tracking pixels and data URIs are skipped.
func extractImageURL(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var found string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src, ok := sel.Attr("src")
		if !ok {
			return true
		}
		src = strings.TrimSpace(src)
		if !usableImageSrc(src) {
			return true
		}
		found = src
		return false
	})
	return found
}

func usableImageSrc(src string) bool {
	if src == "" || strings.HasPrefix(src, "data:") {
		return false
	}
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return false
	}
	lower := strings.ToLower(src)
	// 1x1 trackers commonly advertise themselves in the filename.
	if strings.Contains(lower, "pixel") || strings.Contains(lower, "tracker") {
		return false
	}
	return true
}
