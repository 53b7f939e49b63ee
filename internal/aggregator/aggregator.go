// Package aggregator fans a feed fetch out over many URLs and merges the results.
package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"frontpage/internal/metrics"
	"frontpage/internal/model"
)

// Fetcher fetches and normalizes a single feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.NormalizedFeed, error)
}

// MetadataFetcher is a Fetcher that can also fetch a feed without per-item
// page lookups.
type MetadataFetcher interface {
	Fetcher
	FetchMetadata(ctx context.Context, url string) (*model.NormalizedFeed, error)
}

// WithoutImages returns a Fetcher that calls FetchMetadata when f supports it
// and f itself otherwise.
func WithoutImages(f Fetcher) Fetcher {
	if m, ok := f.(MetadataFetcher); ok {
		return metadataOnly{m}
	}
	return f
}

type metadataOnly struct {
	f MetadataFetcher
}

func (m metadataOnly) Fetch(ctx context.Context, url string) (*model.NormalizedFeed, error) {
	return m.f.FetchMetadata(ctx, url)
}

// Outcome is the settled result of one fetch. Exactly one of Feed and Err is set.
type Outcome struct {
	URL  string
	Feed *model.NormalizedFeed
	Err  error
}

// Result is a merged, newest-first item list plus the URLs that failed.
type Result struct {
	Items  []model.AggregatedItem
	Failed []string
}

// Aggregator runs fetches concurrently and never aborts a batch on failure.
type Aggregator struct {
	fetcher Fetcher
	log     *slog.Logger
}

// New creates an Aggregator.
func New(f Fetcher, log *slog.Logger) *Aggregator {
	return &Aggregator{fetcher: f, log: log}
}

// FetchAll fetches every URL concurrently and waits for all of them to settle.
// Outcomes are returned in input order.
func (a *Aggregator) FetchAll(ctx context.Context, urls []string) []Outcome {
	out := make([]Outcome, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed, err := a.fetcher.Fetch(ctx, u)
			out[i] = Outcome{URL: u, Feed: feed, Err: err}
		}()
	}
	wg.Wait()
	return out
}

// Aggregate fetches every URL and pools the items of the successful feeds,
// newest first. Failed feeds contribute no items and are listed in Failed.
func (a *Aggregator) Aggregate(ctx context.Context, urls []string) Result {
	return Merge(a.FetchAll(ctx, urls), a.log)
}

// Merge pools settled outcomes. Each item is annotated with its feed's title
// and the requested URL. Ordering is by pubDate descending; ties keep arrival
// order, and unparsable dates sort as oldest.
func Merge(outcomes []Outcome, log *slog.Logger) Result {
	var res Result
	for _, o := range outcomes {
		if o.Err != nil || o.Feed == nil {
			res.Failed = append(res.Failed, o.URL)
			metrics.AggregateFailedFeeds.Inc()
			if log != nil {
				log.Warn("feed dropped from aggregate", "url", o.URL, "error", o.Err)
			}
			continue
		}
		for _, item := range o.Feed.Items {
			res.Items = append(res.Items, model.AggregatedItem{
				NormalizedItem: item,
				FeedTitle:      o.Feed.Title,
				FeedURL:        o.URL,
			})
		}
	}
	SortNewestFirst(res.Items)
	return res
}

// SortNewestFirst orders items by parsed pubDate descending, stably.
func SortNewestFirst(items []model.AggregatedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Published().After(items[j].Published())
	})
}
