// Package scheduler periodically refreshes stored feed metadata.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"frontpage/internal/aggregator"
	"frontpage/internal/model"
	"frontpage/internal/storage"
)

// Scheduler refetches every subscribed feed on a fixed interval and records
// its title, description, site URL, and fetch time.
type Scheduler struct {
	store storage.Storage
	agg   *aggregator.Aggregator
	log   *slog.Logger
	tick  time.Duration
	now   func() time.Time
}

// New creates a Scheduler with a 30-minute refresh interval. Feeds are
// fetched without og:image page lookups.
func New(store storage.Storage, f aggregator.Fetcher, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store: store,
		agg:   aggregator.New(aggregator.WithoutImages(f), log),
		log:   log,
		tick:  30 * time.Minute,
		now:   time.Now,
	}
}

// SetTickInterval overrides the default refresh interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.refreshAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *Scheduler) refreshAll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	feeds, err := s.store.ListSubscribedFeeds(ctx)
	if err != nil {
		s.log.Error("list subscribed feeds", "error", err)
		return
	}
	if len(feeds) == 0 {
		return
	}

	urls := make([]string, len(feeds))
	for i, f := range feeds {
		urls[i] = f.URL
	}

	refreshed := 0
	for i, o := range s.agg.FetchAll(ctx, urls) {
		if o.Err != nil {
			s.log.Warn("refresh feed", "feed_id", feeds[i].ID, "url", o.URL, "error", o.Err)
			continue
		}
		if s.updateMetadata(ctx, feeds[i], o.Feed) {
			refreshed++
		}
	}
	s.log.Info("refreshed feeds", "ok", refreshed, "total", len(feeds))
}

func (s *Scheduler) updateMetadata(ctx context.Context, feed model.Feed, fetched *model.NormalizedFeed) bool {
	if fetched.Title != "" {
		feed.Title = fetched.Title
	}
	if fetched.Description != "" {
		feed.Description = fetched.Description
	}
	if fetched.SiteURL != "" {
		feed.SiteURL = fetched.SiteURL
	}
	now := s.now().UTC()
	feed.LastFetchedAt = &now

	if err := s.store.UpdateFeedMetadata(ctx, &feed); err != nil {
		s.log.Error("update feed metadata", "feed_id", feed.ID, "error", err)
		return false
	}
	return true
}
