// Package fetcher handles RSS/Atom feed downloading, parsing, and normalization.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"frontpage/internal/metrics"
	"frontpage/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls fetch behaviour. It replaces any process-wide parser state.
type Config struct {
	// Timeout bounds the feed download and parse.
	Timeout time.Duration
	// ImageTimeout bounds each og:image page lookup and the whole lookup pass
	// of one feed.
	ImageTimeout time.Duration
	// ScrapeImages enables the og:image page lookup for items without an image.
	ScrapeImages bool
	// ImageConcurrency caps parallel og:image lookups within one feed.
	ImageConcurrency int
	UserAgent        string
	MaxBodyBytes     int64
}

// DefaultConfig returns the reference settings: 5s feed timeout, 3s image timeout.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		ImageTimeout:     3 * time.Second,
		ScrapeImages:     true,
		ImageConcurrency: 4,
		UserAgent:        "Frontpage/1.0 (+https://github.com/frontpage)",
		MaxBodyBytes:     5 * 1024 * 1024,
	}
}

// Fetcher downloads, parses, and normalizes feeds.
type Fetcher struct {
	client HTTPClient
	cfg    Config
	strip  *bluemonday.Policy
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Fetcher. Zero-valued Config fields fall back to DefaultConfig.
func New(client HTTPClient, cfg Config, log *slog.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = def.ImageTimeout
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = def.ImageConcurrency
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	return &Fetcher{
		client: client,
		cfg:    cfg,
		strip:  bluemonday.StripTagsPolicy(),
		log:    log,
		now:    time.Now,
	}
}

// Fetch downloads the feed at url and returns its normalized form.
// Every error returned is a *model.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*model.NormalizedFeed, error) {
	return f.fetch(ctx, url, f.cfg.ScrapeImages)
}

// FetchMetadata is Fetch without the og:image page lookups. Item images come
// from the feed document alone.
func (f *Fetcher) FetchMetadata(ctx context.Context, url string) (*model.NormalizedFeed, error) {
	return f.fetch(ctx, url, false)
}

func (f *Fetcher) fetch(ctx context.Context, url string, scrapeImages bool) (*model.NormalizedFeed, error) {
	start := time.Now()
	parsed, err := f.download(ctx, url)
	metrics.FeedFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		fe := classify(url, err)
		if fe.Kind == model.FetchTimeout {
			metrics.FeedFetches.WithLabelValues(metrics.ResultTimeout).Inc()
		} else {
			metrics.FeedFetches.WithLabelValues(metrics.ResultError).Inc()
		}
		return nil, fe
	}
	metrics.FeedFetches.WithLabelValues(metrics.ResultOK).Inc()

	feed := Normalize(parsed, url, f.now(), f.strip)
	if scrapeImages {
		f.fillPageImages(ctx, feed.Items)
	}
	return feed, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

func classify(url string, err error) *model.FetchError {
	kind := model.FetchParseOrNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = model.FetchTimeout
	}
	return &model.FetchError{Kind: kind, URL: url, Err: err}
}
