package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"golang.org/x/sync/errgroup"

	"frontpage/internal/metrics"
	"frontpage/internal/model"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxPageBytes     = 2 * 1024 * 1024
)

// ResolveImage walks the declared-field part of the image cascade:
// enclosure, media:content, media:thumbnail, then the first <img> in the
// full content (falling back to the description). It is deterministic.
func ResolveImage(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && strings.TrimSpace(enc.URL) != "" {
			return strings.TrimSpace(enc.URL)
		}
	}
	if u := mediaURL(item.Extensions, "content"); u != "" {
		return u
	}
	if u := mediaURL(item.Extensions, "thumbnail"); u != "" {
		return u
	}
	body := item.Content
	if body == "" {
		body = item.Description
	}
	return FirstImage(body)
}

// mediaURL returns the url attribute of the first media:<name> element,
// looking inside media:group when the item has none at the top level.
func mediaURL(exts ext.Extensions, name string) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}
	if u := firstURLAttr(media[name]); u != "" {
		return u
	}
	for _, group := range media["group"] {
		if u := firstURLAttr(group.Children[name]); u != "" {
			return u
		}
	}
	return ""
}

func firstURLAttr(elems []ext.Extension) string {
	for _, e := range elems {
		if u := strings.TrimSpace(e.Attrs["url"]); u != "" {
			return u
		}
	}
	return ""
}

// FirstImage returns the src of the first <img> in an HTML fragment.
func FirstImage(fragment string) string {
	if !strings.Contains(strings.ToLower(fragment), "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// fillPageImages runs the og:image lookup for every item that still has no
// image. The whole pass shares one ImageTimeout budget; lookups still running
// at the deadline leave their item without an image.
func (f *Fetcher) fillPageImages(ctx context.Context, items []model.NormalizedItem) {
	type lookup struct {
		index int
		link  string
	}
	var pending []lookup
	for i, item := range items {
		if item.ImageURL == "" && item.Link != "" {
			pending = append(pending, lookup{index: i, link: item.Link})
		}
	}
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ImageTimeout)
	defer cancel()

	type result struct {
		index int
		image string
	}
	found := make(chan result, len(pending))
	go func() {
		var g errgroup.Group
		g.SetLimit(f.cfg.ImageConcurrency)
		for _, l := range pending {
			g.Go(func() error {
				found <- result{index: l.index, image: f.pageImage(ctx, l.link)}
				return nil
			})
		}
		_ = g.Wait()
		close(found)
	}()

	for {
		select {
		case r, ok := <-found:
			if !ok {
				return
			}
			items[r.index].ImageURL = r.image
		case <-ctx.Done():
			f.log.Debug("og:image lookups cut short", "pending", len(pending), "error", ctx.Err())
			return
		}
	}
}

func (f *Fetcher) pageImage(ctx context.Context, link string) string {
	base, err := url.Parse(link)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return ""
	}
	if ctx.Err() != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ImageScrapes.WithLabelValues(metrics.ImageError).Inc()
		f.log.Debug("og:image lookup", "url", link, "error", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.ImageScrapes.WithLabelValues(metrics.ImageError).Inc()
		f.log.Debug("og:image lookup", "url", link, "status", resp.StatusCode)
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		metrics.ImageScrapes.WithLabelValues(metrics.ImageError).Inc()
		f.log.Debug("og:image parse", "url", link, "error", err)
		return ""
	}

	img := OpenGraphImage(doc)
	if img == "" {
		metrics.ImageScrapes.WithLabelValues(metrics.ImageMiss).Inc()
		return ""
	}
	metrics.ImageScrapes.WithLabelValues(metrics.ImageFound).Inc()

	ref, err := url.Parse(img)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// OpenGraphImage returns the og:image meta content of a page, if any.
func OpenGraphImage(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="og:image"]`, `meta[name="og:image"]`, `meta[property="og:image:url"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
