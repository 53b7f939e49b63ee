package fetcher

import (
	"html"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"frontpage/internal/model"
)

const (
	untitledItem = "Untitled"
	unknownFeed  = "Unknown Feed"
)

// Normalize converts a parsed feed into the canonical model. It resolves image
// cascade steps 1-4 only; no network access happens here. The feed URL is
// taken from the caller, never from the document.
func Normalize(feed *gofeed.Feed, feedURL string, now time.Time, strip *bluemonday.Policy) *model.NormalizedFeed {
	if strip == nil {
		strip = bluemonday.StripTagsPolicy()
	}

	title := strings.TrimSpace(feed.Title)
	if title == "" {
		title = unknownFeed
	}

	out := &model.NormalizedFeed{
		Title:       title,
		Description: feed.Description,
		SiteURL:     feed.Link,
		FeedURL:     feedURL,
		Items:       make([]model.NormalizedItem, 0, len(feed.Items)),
	}
	if feed.UpdatedParsed != nil {
		out.LastBuildDate = feed.UpdatedParsed.UTC().Format(time.RFC3339)
	} else if feed.Updated != "" {
		out.LastBuildDate = feed.Updated
	}

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		out.Items = append(out.Items, normalizeItem(item, now, strip))
	}
	return out
}

func normalizeItem(item *gofeed.Item, now time.Time, strip *bluemonday.Policy) model.NormalizedItem {
	snippet := Snippet(item.Description, strip)
	if snippet == "" {
		snippet = Snippet(item.Content, strip)
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	if content == "" {
		content = snippet
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = untitledItem
	}

	return model.NormalizedItem{
		GUID:           ItemGUID(item),
		Title:          title,
		Link:           item.Link,
		PubDate:        pubDate(item, now),
		Content:        content,
		ContentSnippet: snippet,
		Author:         Author(item),
		ImageURL:       ResolveImage(item),
		Categories:     item.Categories,
	}
}

// ItemGUID returns the first non-empty of the declared guid, the link, and the
// title. Items with none of those get a random UUID.
func ItemGUID(item *gofeed.Item) string {
	for _, v := range []string{item.GUID, item.Link, item.Title} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// Author prefers the dc:creator field over the author element.
func Author(item *gofeed.Item) string {
	if item.DublinCoreExt != nil {
		for _, c := range item.DublinCoreExt.Creator {
			if c = strings.TrimSpace(c); c != "" {
				return c
			}
		}
	}
	if item.Author != nil {
		if name := strings.TrimSpace(item.Author.Name); name != "" {
			return name
		}
		return strings.TrimSpace(item.Author.Email)
	}
	return ""
}

// Snippet reduces an HTML fragment to collapsed plain text.
func Snippet(s string, strip *bluemonday.Policy) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(strip.Sanitize(s))
	return strings.Join(strings.Fields(text), " ")
}

// pubDate always yields an RFC 3339 timestamp, defaulting to now.
func pubDate(item *gofeed.Item, now time.Time) string {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC().Format(time.RFC3339)
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseIn(raw, time.UTC); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return now.UTC().Format(time.RFC3339)
}
