// Package model defines the domain types used across the application.
package model

import (
	"time"

	"github.com/araddon/dateparse"
)

// NormalizedFeed is a fetched RSS/Atom feed reduced to the canonical shape.
// FeedURL is always the requested URL, never the feed's self-declared link.
type NormalizedFeed struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	SiteURL       string           `json:"siteUrl"`
	FeedURL       string           `json:"feedUrl"`
	LastBuildDate string           `json:"lastBuildDate,omitempty"`
	Items         []NormalizedItem `json:"items"`
}

// NormalizedItem is a single feed entry with every gap resolved to a default.
type NormalizedItem struct {
	GUID           string   `json:"guid"`
	Title          string   `json:"title"`
	Link           string   `json:"link"`
	PubDate        string   `json:"pubDate"`
	Content        string   `json:"content"`
	ContentSnippet string   `json:"contentSnippet"`
	Author         string   `json:"author,omitempty"`
	ImageURL       string   `json:"imageUrl,omitempty"`
	Categories     []string `json:"categories,omitempty"`
}

// Published parses PubDate. Unparsable or empty values yield the zero time,
// which orders as the oldest possible item.
func (i NormalizedItem) Published() time.Time {
	return ParseTimestamp(i.PubDate)
}

// AggregatedItem is an item annotated with the feed it came from.
type AggregatedItem struct {
	NormalizedItem
	FeedTitle string `json:"feedTitle"`
	FeedURL   string `json:"feedUrl"`
}

// ReadState is the per-subscription read marker pair consumed by unread counting.
// A zero LastReadAt behaves as the epoch.
type ReadState struct {
	SubscriptionID int64
	LastReadAt     time.Time
	ReadGUIDs      map[string]struct{}
}

// HasRead reports whether guid is in the explicit read set.
func (s ReadState) HasRead(guid string) bool {
	_, ok := s.ReadGUIDs[guid]
	return ok
}

// OPMLFeed is a feed descriptor extracted from, or rendered into, an OPML outline.
// An empty Category means the feed sits at the top level.
type OPMLFeed struct {
	XMLURL      string `json:"xmlUrl"`
	Title       string `json:"title"`
	HTMLURL     string `json:"htmlUrl,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Feed is a globally unique (by URL) feed record in storage.
type Feed struct {
	ID            int64
	URL           string
	Title         string
	Description   string
	SiteURL       string
	LastFetchedAt *time.Time
	CreatedAt     time.Time
}

// Category is a user-owned folder for subscriptions.
type Category struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subscription links a user to a feed.
type Subscription struct {
	ID           int64      `json:"id"`
	UserID       string     `json:"userId"`
	FeedID       int64      `json:"feedId"`
	CategoryID   *int64     `json:"categoryId"`
	CustomTitle  string     `json:"customTitle,omitempty"`
	IsFavorite   bool       `json:"isFavorite"`
	LastReadAt   *time.Time `json:"lastReadAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	FeedURL      string     `json:"feedUrl"`
	FeedTitle    string     `json:"feedTitle"`
	FeedSiteURL  string     `json:"feedSiteUrl,omitempty"`
	FeedDesc     string     `json:"feedDescription,omitempty"`
	CategoryName string     `json:"categoryName,omitempty"`
}

// DisplayTitle returns the custom title, falling back to the feed title.
func (s Subscription) DisplayTitle() string {
	if s.CustomTitle != "" {
		return s.CustomTitle
	}
	return s.FeedTitle
}

// StoredItem is a feed item persisted once a user interacts with it.
type StoredItem struct {
	ID          int64
	FeedID      int64
	GUID        string
	URL         string
	Title       string
	Description string
	Content     string
	Author      string
	ImageURL    string
	PublishedAt string
}

// Bookmark is a saved item together with the feed it came from.
type Bookmark struct {
	Item      StoredItem
	FeedTitle string
	FeedURL   string
	SavedAt   time.Time
}

// Aggregated flattens a bookmark into the shape used by item lists.
func (b Bookmark) Aggregated() AggregatedItem {
	return AggregatedItem{
		NormalizedItem: NormalizedItem{
			GUID:           b.Item.GUID,
			Title:          b.Item.Title,
			Link:           b.Item.URL,
			PubDate:        b.Item.PublishedAt,
			Content:        b.Item.Content,
			ContentSnippet: b.Item.Description,
			Author:         b.Item.Author,
			ImageURL:       b.Item.ImageURL,
		},
		FeedTitle: b.FeedTitle,
		FeedURL:   b.FeedURL,
	}
}

// StoredItemFrom converts a fetched item into its stored form for feedID.
func StoredItemFrom(feedID int64, item NormalizedItem) StoredItem {
	return StoredItem{
		FeedID:      feedID,
		GUID:        item.GUID,
		URL:         item.Link,
		Title:       item.Title,
		Description: item.ContentSnippet,
		Content:     item.Content,
		Author:      item.Author,
		ImageURL:    item.ImageURL,
		PublishedAt: item.PubDate,
	}
}

// ParseTimestamp parses RFC 3339 first and falls back to dateparse for the
// zoo of formats feeds use. It returns the zero time on failure.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
