package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"frontpage/internal/model"
)

const feedURL = "https://devops.example.com/rss"

var fixedNow = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

type mockResponse struct {
	status int
	body   string
	err    error
	block  bool
}

type mockTransport struct {
	mu       sync.Mutex
	routes   map[string]mockResponse
	requests []string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req.URL.String())
	r, ok := m.routes[req.URL.String()]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no route for %s", req.URL)
	}
	if r.block {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

func (m *mockTransport) requested() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(tr *mockTransport, cfg Config) *Fetcher {
	f := New(tr, cfg, discardLogger())
	f.now = func() time.Time { return fixedNow }
	return f
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")

	tests := []struct {
		name      string
		route     mockResponse
		wantTitle string
		wantItems int
		wantKind  model.FetchErrorKind
	}{
		{
			name:      "successful fetch",
			route:     mockResponse{body: xml},
			wantTitle: "DevOps Weekly",
			wantItems: 6,
		},
		{
			name:     "http error status",
			route:    mockResponse{status: 404, body: "not found"},
			wantKind: model.FetchParseOrNetwork,
		},
		{
			name:     "network error",
			route:    mockResponse{err: io.ErrUnexpectedEOF},
			wantKind: model.FetchParseOrNetwork,
		},
		{
			name:     "invalid xml",
			route:    mockResponse{body: "not xml at all"},
			wantKind: model.FetchParseOrNetwork,
		},
		{
			name:     "timeout",
			route:    mockResponse{block: true},
			wantKind: model.FetchTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &mockTransport{routes: map[string]mockResponse{feedURL: tt.route}}
			f := newTestFetcher(tr, Config{Timeout: 50 * time.Millisecond})

			feed, err := f.Fetch(context.Background(), feedURL)

			if tt.wantKind != "" {
				var fe *model.FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("expected *model.FetchError, got %v", err)
				}
				if diff := cmp.Diff(tt.wantKind, fe.Kind); diff != "" {
					t.Errorf("error kind mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(feedURL, fe.URL); diff != "" {
					t.Errorf("error url mismatch (-want +got):\n%s", diff)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantTitle, feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(feedURL, feed.FeedURL); diff != "" {
				t.Errorf("feed url must be the requested url (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchNormalizesSample(t *testing.T) {
	tr := &mockTransport{routes: map[string]mockResponse{
		feedURL: {body: loadFixture(t, "../../testdata/sample.xml")},
	}}
	f := newTestFetcher(tr, Config{ScrapeImages: false})

	feed, err := f.Fetch(context.Background(), feedURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	wantFeed := &model.NormalizedFeed{
		Title:         "DevOps Weekly",
		Description:   "News for operators",
		SiteURL:       "https://devops.example.com/",
		FeedURL:       feedURL,
		LastBuildDate: "2025-01-08T12:00:00Z",
		Items: []model.NormalizedItem{
			{
				GUID:           "item-1",
				Title:          "Kubernetes 1.32 Released",
				Link:           "https://devops.example.com/posts/1",
				PubDate:        "2025-01-06T10:00:00Z",
				Content:        "<p>Big <b>news</b> for clusters &amp; nodes</p>",
				ContentSnippet: "Big news for clusters & nodes",
				Author:         "Alice Ops",
				ImageURL:       "https://cdn.example.com/enclosure1.jpg",
				Categories:     []string{"kubernetes", "release"},
			},
			{
				GUID:           "item-2",
				Title:          "Docker Desktop Update",
				Link:           "https://devops.example.com/posts/2",
				PubDate:        "2025-01-07T09:30:00Z",
				Content:        "Containers, faster.",
				ContentSnippet: "Containers, faster.",
				Author:         "Bob Builder",
				ImageURL:       "https://cdn.example.com/media2.jpg",
			},
			{
				GUID:           "https://devops.example.com/posts/3",
				Title:          "Weekly News Roundup",
				Link:           "https://devops.example.com/posts/3",
				PubDate:        "2025-01-05T08:00:00Z",
				Content:        "All the news that fits.",
				ContentSnippet: "All the news that fits.",
				ImageURL:       "https://cdn.example.com/thumb3.jpg",
			},
			{
				GUID:           "Helm Chart Best Practices",
				Title:          "Helm Chart Best Practices",
				PubDate:        "2025-01-08T11:00:00Z",
				Content:        `<div><p>Intro</p><img alt="chart" src="https://cdn.example.com/content4.png"/></div>`,
				ContentSnippet: "Summary of kubernetes charts",
				ImageURL:       "https://cdn.example.com/content4.png",
			},
			{
				GUID:           "item-5",
				Title:          "Online Course: K8s Training for Beginners",
				Link:           "https://devops.example.com/posts/5",
				PubDate:        "2025-01-10T00:00:00Z",
				Content:        "Learn kubernetes from scratch.",
				ContentSnippet: "Learn kubernetes from scratch.",
			},
			{
				Title:          "Untitled",
				PubDate:        "2025-01-10T00:00:00Z",
				Content:        "Untitled note without a link",
				ContentSnippet: "Untitled note without a link",
			},
		},
	}

	opts := cmpopts.IgnoreFields(model.NormalizedItem{}, "GUID")
	if diff := cmp.Diff(wantFeed, feed, opts, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("normalized feed mismatch (-want +got):\n%s", diff)
	}

	for i, item := range feed.Items[:5] {
		if diff := cmp.Diff(wantFeed.Items[i].GUID, item.GUID); diff != "" {
			t.Errorf("item %d guid mismatch (-want +got):\n%s", i, diff)
		}
	}
	if feed.Items[5].GUID == "" {
		t.Error("expected generated guid for item without guid, link, or title")
	}
	if diff := cmp.Diff([]string{feedURL}, tr.requested()); diff != "" {
		t.Errorf("no page lookups expected when scraping is off (-want +got):\n%s", diff)
	}
}

func TestFetchAtom(t *testing.T) {
	const atomURL = "https://gazette.example.org/feed.atom"
	tr := &mockTransport{routes: map[string]mockResponse{
		atomURL: {body: loadFixture(t, "../../testdata/atom.xml")},
	}}
	f := newTestFetcher(tr, Config{})

	feed, err := f.Fetch(context.Background(), atomURL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	type row struct {
		GUID, Title, PubDate, Author, ImageURL, Snippet string
	}
	var got []row
	for _, it := range feed.Items {
		got = append(got, row{it.GUID, it.Title, it.PubDate, it.Author, it.ImageURL, it.ContentSnippet})
	}
	want := []row{
		{
			GUID:     "urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a",
			Title:    "Morning Edition",
			PubDate:  "2025-01-09T07:00:00Z",
			Author:   "Carol Writer",
			ImageURL: "https://gazette.example.org/morning.png",
			Snippet:  "The morning news.",
		},
		{
			GUID:     "urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6b",
			Title:    "Evening Edition",
			PubDate:  "2025-01-09T18:00:00Z",
			ImageURL: "https://gazette.example.org/evening.jpg",
			Snippet:  "Tonight",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("atom items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Atom Gazette", feed.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(atomURL, feed.FeedURL); diff != "" {
		t.Errorf("feed url mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchPageImageFallback(t *testing.T) {
	xml := loadFixture(t, "../../testdata/sample.xml")
	const postURL = "https://devops.example.com/posts/5"

	tests := []struct {
		name      string
		page      mockResponse
		wantImage string
	}{
		{
			name:      "og:image found and resolved",
			page:      mockResponse{body: `<html><head><meta property="og:image" content="/img/og5.jpg"></head></html>`},
			wantImage: "https://devops.example.com/img/og5.jpg",
		},
		{
			name:      "og:image by name attribute",
			page:      mockResponse{body: `<html><head><meta name="og:image" content="https://cdn.example.com/og5.jpg"></head></html>`},
			wantImage: "https://cdn.example.com/og5.jpg",
		},
		{
			name: "page without og:image",
			page: mockResponse{body: `<html><head><title>nothing</title></head></html>`},
		},
		{
			name: "page returns error status",
			page: mockResponse{status: 500},
		},
		{
			name: "page lookup fails",
			page: mockResponse{err: errors.New("connection reset")},
		},
		{
			name: "page lookup times out",
			page: mockResponse{block: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &mockTransport{routes: map[string]mockResponse{
				feedURL: {body: xml},
				postURL: tt.page,
			}}
			f := newTestFetcher(tr, Config{ScrapeImages: true, ImageTimeout: 20 * time.Millisecond})

			feed, err := f.Fetch(context.Background(), feedURL)
			if err != nil {
				t.Fatalf("page lookup must never fail the feed: %v", err)
			}
			if diff := cmp.Diff(tt.wantImage, feed.Items[4].ImageURL); diff != "" {
				t.Errorf("image mismatch (-want +got):\n%s", diff)
			}
			// Items with declared images and items without links are never looked up.
			if diff := cmp.Diff([]string{feedURL, postURL}, tr.requested()); diff != "" {
				t.Errorf("requests mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchPageImagesShareOneDeadline(t *testing.T) {
	const items = 32
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Slow pages</title>`)
	routes := map[string]mockResponse{}
	for i := range items {
		link := fmt.Sprintf("https://slow.example.com/posts/%d", i)
		fmt.Fprintf(&b, `<item><title>Post %d</title><link>%s</link><guid>p%d</guid></item>`, i, link, i)
		routes[link] = mockResponse{block: true}
	}
	b.WriteString(`</channel></rss>`)
	routes[feedURL] = mockResponse{body: b.String()}

	const imageTimeout = 100 * time.Millisecond
	tr := &mockTransport{routes: routes}
	f := newTestFetcher(tr, Config{ScrapeImages: true, ImageTimeout: imageTimeout, ImageConcurrency: 4})

	start := time.Now()
	feed, err := f.Fetch(context.Background(), feedURL)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// Eight rounds of four blocking lookups would take 8 x imageTimeout.
	if elapsed > 3*imageTimeout {
		t.Errorf("fetch took %v, want about %v", elapsed, imageTimeout)
	}
	if len(feed.Items) != items {
		t.Fatalf("expected %d items, got %d", items, len(feed.Items))
	}
	for _, item := range feed.Items {
		if item.ImageURL != "" {
			t.Errorf("item %s: expected no image, got %q", item.GUID, item.ImageURL)
		}
	}
}

func TestFetchMetadataSkipsPageLookups(t *testing.T) {
	tr := &mockTransport{routes: map[string]mockResponse{
		feedURL: {body: loadFixture(t, "../../testdata/sample.xml")},
		"https://devops.example.com/posts/5": {
			body: `<html><head><meta property="og:image" content="/img/og5.jpg"></head></html>`,
		},
	}}
	f := newTestFetcher(tr, Config{ScrapeImages: true, ImageTimeout: time.Second})

	feed, err := f.FetchMetadata(context.Background(), feedURL)
	if err != nil {
		t.Fatalf("fetch metadata: %v", err)
	}
	if diff := cmp.Diff([]string{feedURL}, tr.requested()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if got := feed.Items[4].ImageURL; got != "" {
		t.Errorf("expected no page image, got %q", got)
	}
}

func TestResolveImage(t *testing.T) {
	media := func(name, url string) ext.Extensions {
		return ext.Extensions{"media": {name: {{Name: name, Attrs: map[string]string{"url": url}}}}}
	}

	tests := []struct {
		name string
		item *gofeed.Item
		want string
	}{
		{
			name: "enclosure wins over everything",
			item: &gofeed.Item{
				Enclosures: []*gofeed.Enclosure{{URL: "https://x/enc.jpg"}},
				Extensions: media("content", "https://x/media.jpg"),
				Content:    `<img src="https://x/content.jpg">`,
			},
			want: "https://x/enc.jpg",
		},
		{
			name: "media content",
			item: &gofeed.Item{Extensions: media("content", "https://x/media.jpg")},
			want: "https://x/media.jpg",
		},
		{
			name: "media thumbnail",
			item: &gofeed.Item{Extensions: media("thumbnail", "https://x/thumb.jpg")},
			want: "https://x/thumb.jpg",
		},
		{
			name: "media content inside group",
			item: &gofeed.Item{Extensions: ext.Extensions{"media": {"group": {{
				Name:     "group",
				Children: map[string][]ext.Extension{"content": {{Name: "content", Attrs: map[string]string{"url": "https://x/grouped.jpg"}}}},
			}}}}},
			want: "https://x/grouped.jpg",
		},
		{
			name: "full content preferred over description",
			item: &gofeed.Item{
				Content:     `<p>text</p><img class="hero" src="https://x/content.jpg" />`,
				Description: `<img src="https://x/desc.jpg">`,
			},
			want: "https://x/content.jpg",
		},
		{
			name: "description when no content",
			item: &gofeed.Item{Description: `<IMG SRC="https://x/desc.jpg">`},
			want: "https://x/desc.jpg",
		},
		{
			name: "nothing declared",
			item: &gofeed.Item{Description: "plain text"},
			want: "",
		},
		{
			name: "empty enclosure url skipped",
			item: &gofeed.Item{
				Enclosures: []*gofeed.Enclosure{{URL: ""}},
				Extensions: media("thumbnail", "https://x/thumb.jpg"),
			},
			want: "https://x/thumb.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveImage(tt.item)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ResolveImage mismatch (-want +got):\n%s", diff)
			}
			if again := ResolveImage(tt.item); again != got {
				t.Errorf("ResolveImage not deterministic: %q then %q", got, again)
			}
		})
	}
}

func TestItemGUID(t *testing.T) {
	tests := []struct {
		name     string
		item     *gofeed.Item
		wantGUID string
	}{
		{name: "declared guid", item: &gofeed.Item{GUID: "abc-123", Link: "https://x/1"}, wantGUID: "abc-123"},
		{name: "falls back to link", item: &gofeed.Item{Link: "https://x/1", Title: "t"}, wantGUID: "https://x/1"},
		{name: "falls back to title", item: &gofeed.Item{Title: "Only a title"}, wantGUID: "Only a title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.wantGUID, ItemGUID(tt.item)); diff != "" {
				t.Errorf("GUID mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("generated guids are unique", func(t *testing.T) {
		a, b := ItemGUID(&gofeed.Item{}), ItemGUID(&gofeed.Item{})
		if a == "" || b == "" || a == b {
			t.Errorf("expected two distinct non-empty guids, got %q and %q", a, b)
		}
	})
}

func TestAuthor(t *testing.T) {
	tests := []struct {
		name string
		item *gofeed.Item
		want string
	}{
		{
			name: "creator preferred",
			item: &gofeed.Item{
				DublinCoreExt: &ext.DublinCoreExtension{Creator: []string{"Creator"}},
				Author:        &gofeed.Person{Name: "Author"},
			},
			want: "Creator",
		},
		{name: "author name", item: &gofeed.Item{Author: &gofeed.Person{Name: "Author"}}, want: "Author"},
		{name: "author email only", item: &gofeed.Item{Author: &gofeed.Person{Email: "a@example.com"}}, want: "a@example.com"},
		{name: "none", item: &gofeed.Item{}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Author(tt.item)); diff != "" {
				t.Errorf("Author mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	feed := &gofeed.Feed{Items: []*gofeed.Item{
		{Title: "Odd date", Published: "2025-01-02 15:04:05"},
		{Title: "Broken date", Published: "not a date"},
	}}

	got := Normalize(feed, "https://x/feed", fixedNow, nil)

	if diff := cmp.Diff("Unknown Feed", got.Title); diff != "" {
		t.Errorf("feed title mismatch (-want +got):\n%s", diff)
	}
	wantDates := []string{"2025-01-02T15:04:05Z", "2025-01-10T00:00:00Z"}
	var gotDates []string
	for _, it := range got.Items {
		gotDates = append(gotDates, it.PubDate)
	}
	if diff := cmp.Diff(wantDates, gotDates); diff != "" {
		t.Errorf("pubDate mismatch (-want +got):\n%s", diff)
	}
}
