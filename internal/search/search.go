// Package search implements the item matching and ranking engine.
package search

import (
	"sort"
	"strings"

	"frontpage/internal/model"
)

const (
	// MinQueryLen is the shortest accepted query after trimming.
	MinQueryLen = 2
	// MaxResults caps a ranked result list.
	MaxResults = 50
)

// Result is a ranked, capped match list. Count is the size after capping.
type Result struct {
	Query string                 `json:"query"`
	Count int                    `json:"count"`
	Items []model.AggregatedItem `json:"items"`
}

// NormalizeQuery trims and lower-cases q, rejecting anything too short.
func NormalizeQuery(q string) (string, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if len([]rune(q)) < MinQueryLen {
		return "", model.NewValidationError(model.QueryTooShort, "search query must be at least 2 characters")
	}
	return q, nil
}

// Match reports whether the normalized query occurs in the title, snippet, or
// author of the item.
func Match(item model.AggregatedItem, query string) bool {
	return titleMatch(item, query) ||
		strings.Contains(strings.ToLower(item.ContentSnippet), query) ||
		strings.Contains(strings.ToLower(item.Author), query)
}

func titleMatch(item model.AggregatedItem, query string) bool {
	return strings.Contains(strings.ToLower(item.Title), query)
}

// Search filters items by query and ranks title matches above the rest,
// newest first within each group. The input slice is not modified.
func Search(items []model.AggregatedItem, query string) (Result, error) {
	q, err := NormalizeQuery(query)
	if err != nil {
		return Result{}, err
	}

	matched := make([]model.AggregatedItem, 0)
	for _, item := range items {
		if Match(item, q) {
			matched = append(matched, item)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := titleMatch(matched[i], q), titleMatch(matched[j], q)
		if ti != tj {
			return ti
		}
		return matched[i].Published().After(matched[j].Published())
	})

	if len(matched) > MaxResults {
		matched = matched[:MaxResults]
	}
	return Result{Query: q, Count: len(matched), Items: matched}, nil
}
