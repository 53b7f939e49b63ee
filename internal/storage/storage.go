// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"frontpage/internal/model"
)

var (
	// ErrNotFound is returned when a row addressed by id or key does not exist
	// or belongs to another user.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySubscribed is returned when a user already follows the feed.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrCategoryExists is returned when a user already has a category with that name.
	ErrCategoryExists = errors.New("category already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	UpsertFeed(ctx context.Context, feed *model.Feed) error
	GetFeedByURL(ctx context.Context, url string) (*model.Feed, error)
	ListSubscribedFeeds(ctx context.Context) ([]model.Feed, error)
	UpdateFeedMetadata(ctx context.Context, feed *model.Feed) error

	CreateCategory(ctx context.Context, c *model.Category) error
	EnsureCategory(ctx context.Context, userID, name string) (*model.Category, error)
	ListCategories(ctx context.Context, userID string) ([]model.Category, error)
	RenameCategory(ctx context.Context, userID string, id int64, name string) error
	DeleteCategory(ctx context.Context, userID string, id int64) error

	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, userID string, id int64) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	SetSubscriptionCategory(ctx context.Context, userID string, id int64, categoryID *int64) error
	SetFavorite(ctx context.Context, userID string, id int64, favorite bool) error
	MarkSubscriptionRead(ctx context.Context, userID string, id int64, at time.Time) error
	DeleteSubscription(ctx context.Context, userID string, id int64) error

	UpsertItem(ctx context.Context, item *model.StoredItem) error
	MarkItemRead(ctx context.Context, userID string, itemID int64, at time.Time) error
	SetItemSaved(ctx context.Context, userID string, itemID int64, saved bool, at time.Time) error
	ReadGUIDs(ctx context.Context, userID string) (map[int64]map[string]struct{}, error)
	ListBookmarks(ctx context.Context, userID string) ([]model.Bookmark, error)

	Close() error
}
