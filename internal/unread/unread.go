// Package unread derives unread counts from a feed and a read-state marker pair.
package unread

import (
	"context"
	"log/slog"

	"frontpage/internal/aggregator"
	"frontpage/internal/model"
)

// ComputeUnread counts items whose guid is not in the explicit read set and
// whose pubDate is strictly after LastReadAt. A zero LastReadAt is the epoch.
func ComputeUnread(feed *model.NormalizedFeed, state model.ReadState) int {
	if feed == nil {
		return 0
	}
	n := 0
	for _, item := range feed.Items {
		if IsUnread(item, state) {
			n++
		}
	}
	return n
}

// IsUnread applies the unread rule to a single item.
func IsUnread(item model.NormalizedItem, state model.ReadState) bool {
	if state.HasRead(item.GUID) {
		return false
	}
	return item.Published().After(state.LastReadAt)
}

// CountItems is the guest contract: every item counts.
func CountItems(feed *model.NormalizedFeed) int {
	if feed == nil {
		return 0
	}
	return len(feed.Items)
}

// Target is one subscription to resolve.
type Target struct {
	SubscriptionID int64
	FeedURL        string
	State          model.ReadState
}

// Resolver computes unread counts for many subscriptions in one pass.
type Resolver struct {
	agg *aggregator.Aggregator
}

// NewResolver creates a Resolver over f. Counting never needs item images,
// so feeds are fetched without og:image page lookups.
func NewResolver(f aggregator.Fetcher, log *slog.Logger) *Resolver {
	return &Resolver{agg: aggregator.New(aggregator.WithoutImages(f), log)}
}

// Counts returns an unread count per subscription id. Fetch failures report 0.
func (r *Resolver) Counts(ctx context.Context, targets []Target) map[int64]int {
	urls := make([]string, len(targets))
	for i, t := range targets {
		urls[i] = t.FeedURL
	}
	outcomes := r.agg.FetchAll(ctx, urls)

	counts := make(map[int64]int, len(targets))
	for i, t := range targets {
		if outcomes[i].Err != nil {
			counts[t.SubscriptionID] = 0
			continue
		}
		counts[t.SubscriptionID] = ComputeUnread(outcomes[i].Feed, t.State)
	}
	return counts
}

// GuestCounts returns the raw item count per feed URL. Fetch failures report 0.
func (r *Resolver) GuestCounts(ctx context.Context, urls []string) map[string]int {
	counts := make(map[string]int, len(urls))
	for _, o := range r.agg.FetchAll(ctx, urls) {
		if o.Err != nil {
			counts[o.URL] = 0
			continue
		}
		counts[o.URL] = CountItems(o.Feed)
	}
	return counts
}
