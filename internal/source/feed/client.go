// Package feed fetches a topic's syndication feed and returns its entries
// unparsed, leaving the interpretation of ids and dates to the caller.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"tag_ingester/internal/domain"
)

// Config holds feed client configuration.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Client fetches and parses one feed snapshot per call.
type Client struct {
	parser *gofeed.Parser
}

func NewClient(cfg Config) *Client {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.Timeout}
	parser.UserAgent = cfg.UserAgent

	return &Client{parser: parser}
}

// Fetch downloads and parses the feed at url. Any failure is returned as a
// *domain.FetchError.
func (c *Client) Fetch(ctx context.Context, url string) (*domain.Snapshot, error) {
	parsed, err := c.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			err = fmt.Errorf("unexpected status: %d", httpErr.StatusCode)
		}
		return nil, &domain.FetchError{URL: url, Err: err}
	}

	snapshot := &domain.Snapshot{
		Title:   parsed.Title,
		Entries: make([]domain.Entry, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		externalID := item.GUID
		if externalID == "" {
			externalID = item.Link
		}

		published, publishedAt := item.Published, item.PublishedParsed
		if published == "" {
			published, publishedAt = item.Updated, item.UpdatedParsed
		}

		entry := domain.Entry{
			Title:      item.Title,
			ExternalID: externalID,
			Published:  published,
		}
		if publishedAt != nil {
			entry.PublishedAt = publishedAt.UTC()
		}
		snapshot.Entries = append(snapshot.Entries, entry)
	}

	return snapshot, nil
}

// ParseItemID extracts the numeric item id from the last path segment of an
// entry id such as "tag:archiveofourown.org,2005:Work/12345".
func ParseItemID(externalID string) (int64, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(externalID), "/")
	segment := trimmed[strings.LastIndex(trimmed, "/")+1:]

	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse item id %q: %w", externalID, err)
	}
	return id, nil
}

// publishedLayouts covers the ISO-8601 extended and basic forms, with or
// without a zone, plus the RFC 1123 dates some RSS feeds use. Values with
// no zone are read as UTC. Fractional seconds are accepted by every layout
// that has a seconds field.
var publishedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"20060102T150405Z0700",
	"20060102T150405",
	"2006-01-02",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
}

// ParsePublished parses an ISO-8601 timestamp.
func ParsePublished(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse published time %q: unsupported format", value)
}

// TopicNameFromTitle extracts the topic name from a feed title of the form
// "AO3 works tagged 'Name'". Everything between the first and the last
// quote is the name, so apostrophes inside it survive.
func TopicNameFromTitle(title string) (string, bool) {
	first := strings.Index(title, "'")
	last := strings.LastIndex(title, "'")
	if first < 0 || last <= first {
		return "", false
	}
	name := strings.TrimSpace(title[first+1 : last])
	if name == "" {
		return "", false
	}
	return name, true
}
