// Package reader is the application service shared by the HTTP API and the bot.
// It runs the fetch, aggregation, unread, search, and OPML core over storage.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"frontpage/internal/aggregator"
	"frontpage/internal/model"
	"frontpage/internal/search"
	"frontpage/internal/storage"
	"frontpage/internal/unread"
)

// Service implements the reader operations for one store and one fetcher.
// Flows that never show item images fetch through meta.
type Service struct {
	store      storage.Storage
	fetcher    aggregator.Fetcher
	meta       aggregator.Fetcher
	agg        *aggregator.Aggregator
	resolver   *unread.Resolver
	guestFeeds []string
	log        *slog.Logger
	now        func() time.Time
}

// New creates a Service. guestFeeds is the fixed feed list used for callers
// without an identity.
func New(store storage.Storage, f aggregator.Fetcher, guestFeeds []string, log *slog.Logger) *Service {
	meta := aggregator.WithoutImages(f)
	return &Service{
		store:      store,
		fetcher:    f,
		meta:       meta,
		agg:        aggregator.New(f, log),
		resolver:   unread.NewResolver(f, log),
		guestFeeds: guestFeeds,
		log:        log,
		now:        time.Now,
	}
}

// UnreadCount is the unread figure for one subscription.
type UnreadCount struct {
	SubscriptionID int64 `json:"subscriptionId"`
	UnreadCount    int   `json:"unreadCount"`
}

// GuestUnreadCount is the raw item count for one guest feed.
type GuestUnreadCount struct {
	FeedURL     string `json:"feedUrl"`
	UnreadCount int    `json:"unreadCount"`
}

// FetchFeed fetches a single feed directly. Unlike aggregation, failure is an error.
func (s *Service) FetchFeed(ctx context.Context, url string) (*model.NormalizedFeed, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, model.NewValidationError(model.MissingField, "feed URL is required")
	}
	return s.fetcher.Fetch(ctx, url)
}

// AllItems aggregates every feed the user subscribes to.
func (s *Service) AllItems(ctx context.Context, userID string) (aggregator.Result, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return aggregator.Result{}, fmt.Errorf("list subscriptions: %w", err)
	}
	return s.agg.Aggregate(ctx, feedURLs(subs)), nil
}

// Search validates q, then aggregates the user's feeds and ranks the matches.
func (s *Service) Search(ctx context.Context, userID, q string) (search.Result, error) {
	if _, err := search.NormalizeQuery(q); err != nil {
		return search.Result{}, err
	}
	res, err := s.AllItems(ctx, userID)
	if err != nil {
		return search.Result{}, err
	}
	return search.Search(res.Items, q)
}

// UnreadCounts resolves an unread count per subscription from its last-read
// marker and the explicitly read guids. Unreachable feeds report 0.
func (s *Service) UnreadCounts(ctx context.Context, userID string) ([]UnreadCount, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	read, err := s.store.ReadGUIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load read items: %w", err)
	}

	targets := lo.Map(subs, func(sub model.Subscription, _ int) unread.Target {
		return unread.Target{
			SubscriptionID: sub.ID,
			FeedURL:        sub.FeedURL,
			State: model.ReadState{
				SubscriptionID: sub.ID,
				LastReadAt:     lo.FromPtr(sub.LastReadAt),
				ReadGUIDs:      read[sub.FeedID],
			},
		}
	})
	counts := s.resolver.Counts(ctx, targets)

	return lo.Map(subs, func(sub model.Subscription, _ int) UnreadCount {
		return UnreadCount{SubscriptionID: sub.ID, UnreadCount: counts[sub.ID]}
	}), nil
}

// GuestUnreadCounts reports raw item counts for the configured guest feeds.
func (s *Service) GuestUnreadCounts(ctx context.Context) []GuestUnreadCount {
	counts := s.resolver.GuestCounts(ctx, s.guestFeeds)
	return lo.Map(s.guestFeeds, func(u string, _ int) GuestUnreadCount {
		return GuestUnreadCount{FeedURL: u, UnreadCount: counts[u]}
	})
}

// GuestFeeds returns the configured guest feed URLs.
func (s *Service) GuestFeeds() []string {
	return s.guestFeeds
}

// Subscribe validates the feed by fetching it, records the feed globally by
// URL, and links it to the user.
func (s *Service) Subscribe(ctx context.Context, userID, url string, categoryID *int64) (*model.Subscription, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, model.NewValidationError(model.MissingField, "URL is required")
	}
	if categoryID != nil {
		if err := s.ownCategory(ctx, userID, *categoryID); err != nil {
			return nil, err
		}
	}

	parsed, err := s.meta.Fetch(ctx, url)
	if err != nil {
		s.log.Info("subscribe rejected feed", "url", url, "error", err)
		return nil, model.NewValidationError(model.InvalidFeed,
			"invalid feed URL: please ensure it is a valid RSS or Atom feed")
	}

	feed := &model.Feed{
		URL:         url,
		Title:       parsed.Title,
		Description: parsed.Description,
		SiteURL:     parsed.SiteURL,
	}
	if err := s.store.UpsertFeed(ctx, feed); err != nil {
		return nil, fmt.Errorf("save feed: %w", err)
	}

	sub := &model.Subscription{UserID: userID, FeedID: feed.ID, CategoryID: categoryID}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return s.store.GetSubscription(ctx, userID, sub.ID)
}

// ListSubscriptions returns the user's subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	return s.store.ListSubscriptions(ctx, userID)
}

// MarkSubscriptionRead moves the subscription's last-read marker to now.
func (s *Service) MarkSubscriptionRead(ctx context.Context, userID string, id int64) error {
	return s.store.MarkSubscriptionRead(ctx, userID, id, s.now())
}

// SetFavorite flags or unflags a subscription.
func (s *Service) SetFavorite(ctx context.Context, userID string, id int64, favorite bool) error {
	return s.store.SetFavorite(ctx, userID, id, favorite)
}

// Unsubscribe removes a subscription. The global feed record stays.
func (s *Service) Unsubscribe(ctx context.Context, userID string, id int64) error {
	return s.store.DeleteSubscription(ctx, userID, id)
}

// MarkItemRead stores the item under its feed and marks it read for the user.
// The feed must already be known.
func (s *Service) MarkItemRead(ctx context.Context, userID, feedURL string, item model.NormalizedItem) error {
	stored, err := s.storeItem(ctx, feedURL, item)
	if err != nil {
		return err
	}
	return s.store.MarkItemRead(ctx, userID, stored.ID, s.now())
}

// SetBookmark stores the item under its feed and saves or unsaves it.
func (s *Service) SetBookmark(ctx context.Context, userID, feedURL string, item model.NormalizedItem, saved bool) error {
	stored, err := s.storeItem(ctx, feedURL, item)
	if err != nil {
		return err
	}
	return s.store.SetItemSaved(ctx, userID, stored.ID, saved, s.now())
}

func (s *Service) storeItem(ctx context.Context, feedURL string, item model.NormalizedItem) (*model.StoredItem, error) {
	if strings.TrimSpace(feedURL) == "" || strings.TrimSpace(item.GUID) == "" {
		return nil, model.NewValidationError(model.MissingField, "item and feedUrl are required")
	}
	feed, err := s.store.GetFeedByURL(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	stored := model.StoredItemFrom(feed.ID, item)
	if err := s.store.UpsertItem(ctx, &stored); err != nil {
		return nil, fmt.Errorf("save item: %w", err)
	}
	return &stored, nil
}

// Bookmarks returns the user's saved items, most recently saved first.
func (s *Service) Bookmarks(ctx context.Context, userID string) ([]model.AggregatedItem, error) {
	bms, err := s.store.ListBookmarks(ctx, userID)
	if err != nil {
		return nil, err
	}
	return lo.Map(bms, func(b model.Bookmark, _ int) model.AggregatedItem {
		return b.Aggregated()
	}), nil
}

// Categories lists the user's categories by name.
func (s *Service) Categories(ctx context.Context, userID string) ([]model.Category, error) {
	return s.store.ListCategories(ctx, userID)
}

// CreateCategory creates a category with a trimmed, non-empty name.
func (s *Service) CreateCategory(ctx context.Context, userID, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError(model.MissingField, "category name is required")
	}
	c := &model.Category{UserID: userID, Name: name}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RenameCategory renames one of the user's categories.
func (s *Service) RenameCategory(ctx context.Context, userID string, id int64, name string) error {
	name = strings.TrimSpace(name)
	if id == 0 || name == "" {
		return model.NewValidationError(model.MissingField, "id and name are required")
	}
	return s.store.RenameCategory(ctx, userID, id, name)
}

// DeleteCategory removes a category; its subscriptions become uncategorized.
func (s *Service) DeleteCategory(ctx context.Context, userID string, id int64) error {
	if id == 0 {
		return model.NewValidationError(model.MissingField, "id is required")
	}
	return s.store.DeleteCategory(ctx, userID, id)
}

// AssignCategory moves a subscription into a category, or to the top level
// when categoryID is nil.
func (s *Service) AssignCategory(ctx context.Context, userID string, subscriptionID int64, categoryID *int64) error {
	if subscriptionID == 0 {
		return model.NewValidationError(model.MissingField, "subscriptionId is required")
	}
	return s.store.SetSubscriptionCategory(ctx, userID, subscriptionID, categoryID)
}

func (s *Service) ownCategory(ctx context.Context, userID string, id int64) error {
	cats, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if !lo.ContainsBy(cats, func(c model.Category) bool { return c.ID == id }) {
		return storage.ErrNotFound
	}
	return nil
}

func feedURLs(subs []model.Subscription) []string {
	return lo.Uniq(lo.Map(subs, func(sub model.Subscription, _ int) string {
		return sub.FeedURL
	}))
}

// IsUserError reports whether err is caused by the caller rather than the system.
func IsUserError(err error) bool {
	var ve *model.ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrAlreadySubscribed) ||
		errors.Is(err, storage.ErrCategoryExists)
}
