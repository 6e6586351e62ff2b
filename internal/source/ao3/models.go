package ao3

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// worksPage is what discovery reads from a tag's works listing.
type worksPage struct {
	FeedPath string
	TagID    int64
	TagName  string
}

var errNoFeedLink = errors.New("no RSS feed link")

// parseWorksPage extracts the feed link (/tags/<id>/feed.atom) and the
// canonical tag name from a works listing.
func parseWorksPage(doc *goquery.Document) (worksPage, error) {
	href, ok := doc.Find(`a[title="RSS Feed"]`).First().Attr("href")
	if !ok || href == "" {
		return worksPage{}, errNoFeedLink
	}

	id, err := tagIDFromFeedPath(href)
	if err != nil {
		return worksPage{}, err
	}

	return worksPage{
		FeedPath: href,
		TagID:    id,
		TagName:  strings.TrimSpace(doc.Find("a.tag").First().Text()),
	}, nil
}

func tagIDFromFeedPath(href string) (int64, error) {
	parts := strings.Split(strings.Trim(href, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "tags" {
			id, err := strconv.ParseInt(parts[i+1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("feed link %q: bad tag id: %w", href, err)
			}
			return id, nil
		}
	}
	return 0, fmt.Errorf("feed link %q: no tag id", href)
}
