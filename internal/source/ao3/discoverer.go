package ao3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"tag_ingester/internal/domain"
	"tag_ingester/internal/metrics"
)

const SourceID = "ao3"

// Config holds discovery configuration.
type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	MinInterval    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Discoverer finds a tag's feed by reading the tag's works listing page.
type Discoverer struct {
	httpClient     *http.Client
	baseURL        *url.URL
	userAgent      string
	limiter        *rate.Limiter
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// New creates a Discoverer.
func New(cfg Config, logger *slog.Logger) (*Discoverer, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Discoverer{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        base,
		userAgent:      cfg.UserAgent,
		limiter:        rate.NewLimiter(limit, 1),
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
	}, nil
}

// FeedURL returns the Atom feed URL of a tag id.
func (d *Discoverer) FeedURL(id int64) string {
	return d.baseURL.JoinPath("tags", strconv.FormatInt(id, 10), "feed.atom").String()
}

// Discover looks up the feed URL, canonical name and id of a tag. A tag
// without a feed link yields *domain.NoFeedFoundError.
func (d *Discoverer) Discover(ctx context.Context, name string) (domain.Discovery, error) {
	pageURL := d.worksURL(name)

	doc, err := d.fetchPage(ctx, pageURL)
	if err != nil {
		if errors.Is(err, errNotFound) {
			metrics.DiscoveryRequests.WithLabelValues("not_found").Inc()
			return domain.Discovery{}, &domain.NoFeedFoundError{Name: name}
		}
		metrics.DiscoveryRequests.WithLabelValues("error").Inc()
		return domain.Discovery{}, &domain.FetchError{URL: pageURL, Err: err}
	}

	page, err := parseWorksPage(doc)
	if err != nil {
		metrics.DiscoveryRequests.WithLabelValues("not_found").Inc()
		d.logger.Warn("tag page has no feed", "tag", name, "error", err)
		return domain.Discovery{}, &domain.NoFeedFoundError{Name: name}
	}
	metrics.DiscoveryRequests.WithLabelValues("success").Inc()

	canonical := page.TagName
	if canonical == "" {
		canonical = name
	}

	feedURL, err := d.baseURL.Parse(page.FeedPath)
	if err != nil {
		return domain.Discovery{}, &domain.FetchError{URL: pageURL, Err: fmt.Errorf("resolve feed link: %w", err)}
	}

	d.logger.Debug("discovered tag", "tag", name, "canonical", canonical, "tag_id", page.TagID)

	return domain.Discovery{
		FeedURL: feedURL.String(),
		Name:    canonical,
		ID:      page.TagID,
	}, nil
}

// worksURL escapes the tag name the way the site does: periods become "*d*".
func (d *Discoverer) worksURL(name string) string {
	escaped := strings.ReplaceAll(name, ".", "*d*")
	return d.baseURL.JoinPath("tags", url.PathEscape(escaped), "works").String()
}

var errNotFound = errors.New("page not found")

func (d *Discoverer) fetchPage(ctx context.Context, pageURL string) (*goquery.Document, error) {
	attempts := 0
	doc, err := backoff.RetryNotifyWithData(func() (*goquery.Document, error) {
		attempts++
		doc, err := d.doRequest(ctx, pageURL)
		if errors.Is(err, errNotFound) {
			return nil, backoff.Permanent(err)
		}
		return doc, err
	}, d.retryPolicy(ctx), func(err error, next time.Duration) {
		d.logger.Warn("request failed, retrying",
			"attempt", attempts,
			"backoff", next,
			"error", err,
		)
	})
	if err != nil {
		if errors.Is(err, errNotFound) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return doc, nil
}

// retryPolicy doubles the wait from initialBackoff up to maxBackoff and
// allows maxAttempts requests in total.
func (d *Discoverer) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.initialBackoff
	exp.MaxInterval = d.maxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.maxAttempts-1)), ctx)
}

func (d *Discoverer) doRequest(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	return doc, nil
}
