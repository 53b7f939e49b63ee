package opml

import (
	"net/http"
	"strings"
	"time"

	"frontpage/internal/model"
)

const (
	exportTitle   = "Frontpage Subscriptions"
	uncategorized = "Uncategorized"
)

// Group is a named set of feeds rendered under one container outline.
// Groups named "" or "Uncategorized" render at the top level.
type Group struct {
	Name  string
	Feeds []model.OPMLFeed
}

// GroupByCategory buckets feeds by Category. The uncategorized group comes
// first, followed by categories in order of first appearance.
func GroupByCategory(feeds []model.OPMLFeed) []Group {
	groups := []Group{{Name: ""}}
	index := map[string]int{}
	for _, f := range feeds {
		name := f.Category
		if name == uncategorized {
			name = ""
		}
		if name == "" {
			groups[0].Feeds = append(groups[0].Feeds, f)
			continue
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Feeds = append(groups[i].Feeds, f)
	}
	if len(groups[0].Feeds) == 0 {
		groups = groups[1:]
	}
	return groups
}

// Render serializes groups as an OPML 2.0 document.
func Render(groups []Group, created time.Time) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<opml version="2.0">` + "\n")
	b.WriteString("  <head>\n")
	b.WriteString("    <title>" + exportTitle + "</title>\n")
	b.WriteString("    <dateCreated>" + created.UTC().Format(http.TimeFormat) + "</dateCreated>\n")
	b.WriteString("  </head>\n")
	b.WriteString("  <body>\n")

	for _, g := range groups {
		if g.Name == "" || g.Name == uncategorized {
			for _, f := range g.Feeds {
				writeFeed(&b, f, "    ")
			}
			continue
		}
		name := escape(g.Name)
		b.WriteString(`    <outline text="` + name + `" title="` + name + `">` + "\n")
		for _, f := range g.Feeds {
			writeFeed(&b, f, "      ")
		}
		b.WriteString("    </outline>\n")
	}

	b.WriteString("  </body>\n")
	b.WriteString("</opml>\n")
	return b.String()
}

func writeFeed(b *strings.Builder, f model.OPMLFeed, indent string) {
	title := escape(f.Title)
	b.WriteString(indent)
	b.WriteString(`<outline type="rss" text="` + title + `" title="` + title + `" xmlUrl="` + escape(f.XMLURL) + `"`)
	if f.HTMLURL != "" {
		b.WriteString(` htmlUrl="` + escape(f.HTMLURL) + `"`)
	}
	if f.Description != "" {
		b.WriteString(` description="` + escape(f.Description) + `"`)
	}
	b.WriteString("/>\n")
}
