package search

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"frontpage/internal/model"
)

func agg(guid, title, snippet, author, pubDate string) model.AggregatedItem {
	return model.AggregatedItem{NormalizedItem: model.NormalizedItem{
		GUID:           guid,
		Title:          title,
		ContentSnippet: snippet,
		Author:         author,
		PubDate:        pubDate,
	}}
}

func guids(items []model.AggregatedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.GUID)
	}
	return out
}

func TestSearch(t *testing.T) {
	items := []model.AggregatedItem{
		agg("snippet-new", "Weekly roundup", "All about Kubernetes", "", "2025-01-09T00:00:00Z"),
		agg("title-old", "Kubernetes 1.32 Released", "", "", "2025-01-01T00:00:00Z"),
		agg("author", "Release notes", "", "Kube Rnetes", "2025-01-05T00:00:00Z"),
		agg("title-new", "Learning KUBERNETES", "", "", "2025-01-08T00:00:00Z"),
		agg("nothing", "Docker tips", "containers", "Bob", "2025-01-10T00:00:00Z"),
		agg("author-match", "Misc", "", "Kubernetes Team", "2025-01-07T00:00:00Z"),
	}

	tests := []struct {
		name      string
		query     string
		wantQuery string
		wantGUIDs []string
	}{
		{
			name:      "title matches first, then recency",
			query:     "  Kubernetes ",
			wantQuery: "kubernetes",
			wantGUIDs: []string{"title-new", "title-old", "snippet-new", "author-match"},
		},
		{
			name:      "author match",
			query:     "bob",
			wantQuery: "bob",
			wantGUIDs: []string{"nothing"},
		},
		{
			name:      "no matches",
			query:     "rust",
			wantQuery: "rust",
			wantGUIDs: []string{},
		},
		{
			name:      "two characters accepted",
			query:     "ku",
			wantQuery: "ku",
			wantGUIDs: []string{"title-new", "title-old", "snippet-new", "author-match", "author"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Search(items, tt.query)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantQuery, got.Query); diff != "" {
				t.Errorf("query mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantGUIDs, guids(got.Items)); diff != "" {
				t.Errorf("ranking mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(len(tt.wantGUIDs), got.Count); diff != "" {
				t.Errorf("count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearchRejectsShortQuery(t *testing.T) {
	for _, q := range []string{"", " ", "a", "  k  "} {
		t.Run(fmt.Sprintf("%q", q), func(t *testing.T) {
			_, err := Search(nil, q)
			if !errors.Is(err, model.ErrQueryTooShort) {
				t.Errorf("expected ErrQueryTooShort, got %v", err)
			}
		})
	}
}

func TestSearchCapsResults(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var items []model.AggregatedItem
	for i := range 75 {
		items = append(items, agg(
			fmt.Sprintf("item-%02d", i),
			"golang weekly",
			"",
			"",
			base.Add(time.Duration(i)*time.Hour).Format(time.RFC3339),
		))
	}

	got, err := Search(items, "golang")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(MaxResults, got.Count); diff != "" {
		t.Errorf("count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(MaxResults, len(got.Items)); diff != "" {
		t.Errorf("items length mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("item-74", got.Items[0].GUID); diff != "" {
		t.Errorf("newest item must rank first (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("item-00", items[0].GUID); diff != "" {
		t.Errorf("input must not be reordered (-want +got):\n%s", diff)
	}
}
