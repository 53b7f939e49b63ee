// Package opml reads and writes OPML subscription lists.
//
// Parse is a lenient outline scanner rather than a conforming XML parser: it
// accepts attributes in any order or quoting style and stray markup. Category
// inference follows the innermost open container outline; feed outlines with
// children of their own are not categories. A feed outline that is opened but
// never closed is a known approximation: the next end tag is taken as its own,
// so its container stays open until </body>.
package opml

import (
	"strings"

	"frontpage/internal/model"
)

// frame is one open outline. Feed outlines are tracked so their end tags
// match, but they never label the feeds nested under them.
type frame struct {
	label string
	feed  bool
}

// Parse extracts every outline carrying an xmlUrl attribute. Outlines without
// one are either containers (pushed as categories) or skipped.
func Parse(src string) []model.OPMLFeed {
	var (
		feeds []model.OPMLFeed
		open  []frame
	)

	sc := &scanner{src: src}
	for {
		t, ok := sc.next()
		if !ok {
			break
		}

		switch t.kind {
		case tagOpen:
			if t.name != "outline" {
				continue
			}
			rawURL, isFeed := t.attrs["xmlurl"]
			if strings.TrimSpace(rawURL) != "" {
				feeds = append(feeds, model.OPMLFeed{
					XMLURL:      rawURL,
					Title:       firstNonEmpty(t.attrs["title"], t.attrs["text"]),
					HTMLURL:     t.attrs["htmlurl"],
					Description: t.attrs["description"],
					Category:    innermost(open),
				})
			}
			if t.selfClosing {
				continue
			}
			if isFeed {
				// An empty xmlUrl is a broken feed entry, never a container.
				open = append(open, frame{feed: true})
				continue
			}
			open = append(open, frame{label: firstNonEmpty(t.attrs["text"], t.attrs["title"])})

		case tagClose:
			switch t.name {
			case "outline":
				if len(open) > 0 {
					open = open[:len(open)-1]
				}
			case "body", "opml":
				open = open[:0]
			}
		}
	}
	return feeds
}

// innermost returns the label of the closest open container that has one.
func innermost(open []frame) string {
	for i := len(open) - 1; i >= 0; i-- {
		if !open[i].feed && open[i].label != "" {
			return open[i].label
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
