package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"frontpage/internal/model"
	"frontpage/internal/reader"
)

const maxListedItems = 10

// FormatItem formats a single aggregated item as a short message block.
func FormatItem(item model.AggregatedItem, now time.Time) string {
	var b strings.Builder
	title := item.Title
	if title == "" {
		title = "Untitled"
	}
	b.WriteString(title)

	meta := []string{}
	if item.FeedTitle != "" {
		meta = append(meta, item.FeedTitle)
	}
	if pub := item.Published(); !pub.IsZero() {
		meta = append(meta, humanize.RelTime(pub, now, "ago", "from now"))
	}
	if len(meta) > 0 {
		fmt.Fprintf(&b, "\n%s", strings.Join(meta, " · "))
	}
	if item.Link != "" {
		fmt.Fprintf(&b, "\n%s", item.Link)
	}
	return b.String()
}

// FormatItems formats up to maxListedItems items under a header.
func FormatItems(header string, items []model.AggregatedItem, now time.Time) string {
	var b strings.Builder
	b.WriteString(header)
	for i, item := range items {
		if i == maxListedItems {
			fmt.Fprintf(&b, "\n\n…and %d more", len(items)-maxListedItems)
			break
		}
		b.WriteString("\n\n")
		b.WriteString(FormatItem(item, now))
	}
	return b.String()
}

// FormatSubscriptionList formats the user's subscriptions with unread counts.
func FormatSubscriptionList(subs []model.Subscription, unread map[int64]int, now time.Time) string {
	if len(subs) == 0 {
		return "You have no subscriptions yet. Use /add <url> to add one."
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for _, s := range subs {
		fmt.Fprintf(&b, "\n#%d %s", s.ID, s.DisplayTitle())
		if s.IsFavorite {
			b.WriteString(" ★")
		}
		fmt.Fprintf(&b, "  (%d unread)\n", unread[s.ID])
		if s.CategoryName != "" {
			fmt.Fprintf(&b, "   in %s\n", s.CategoryName)
		}
		if s.LastReadAt != nil {
			fmt.Fprintf(&b, "   last read %s\n", humanize.RelTime(*s.LastReadAt, now, "ago", "from now"))
		} else {
			b.WriteString("   never read\n")
		}
	}
	return b.String()
}

// FormatUnread lists subscriptions with unread items and the total.
func FormatUnread(subs []model.Subscription, unread map[int64]int) string {
	var b strings.Builder
	total := 0
	for _, s := range subs {
		n := unread[s.ID]
		if n == 0 {
			continue
		}
		total += n
		fmt.Fprintf(&b, "#%d %s: %d\n", s.ID, s.DisplayTitle(), n)
	}
	if total == 0 {
		return "You're all caught up."
	}
	return fmt.Sprintf("%s unread:\n\n%s", humanize.Comma(int64(total)), b.String())
}

// FormatImportResult summarizes an OPML import.
func FormatImportResult(res reader.ImportResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Imported %d of %d feeds", res.Imported, res.Total)
	if res.Skipped > 0 {
		fmt.Fprintf(&b, " (%d already subscribed)", res.Skipped)
	}
	b.WriteString(".")
	if len(res.Errors) > 0 {
		b.WriteString("\n\nErrors:")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "\n- %s", e)
		}
	}
	return b.String()
}
