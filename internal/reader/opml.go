package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"frontpage/internal/model"
	"frontpage/internal/opml"
	"frontpage/internal/storage"
)

const maxImportErrors = 5

// ImportResult summarizes an OPML import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Total    int      `json:"total"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportOPML subscribes the user to every feed in the document, creating
// categories on demand. Feeds are recorded without being fetched. Existing
// subscriptions count as skipped; other per-feed failures are collected.
func (s *Service) ImportOPML(ctx context.Context, userID, src string) (ImportResult, error) {
	if strings.TrimSpace(src) == "" {
		return ImportResult{}, model.NewValidationError(model.MissingField, "OPML content required")
	}
	feeds := opml.Parse(src)
	if len(feeds) == 0 {
		return ImportResult{}, model.NewValidationError(model.MissingXMLURL, "no feeds found in the OPML file")
	}

	res := ImportResult{Total: len(feeds)}
	categories := map[string]int64{}
	for _, f := range feeds {
		err := s.importFeed(ctx, userID, f, categories)
		switch {
		case err == nil:
			res.Imported++
		case errors.Is(err, storage.ErrAlreadySubscribed):
			res.Skipped++
		default:
			s.log.Warn("import feed", "user", userID, "url", f.XMLURL, "error", err)
			if len(res.Errors) < maxImportErrors {
				res.Errors = append(res.Errors, fmt.Sprintf("failed to import %s: %v", f.XMLURL, err))
			}
		}
	}
	s.log.Info("opml import", "user", userID, "imported", res.Imported, "skipped", res.Skipped, "total", res.Total)
	return res, nil
}

func (s *Service) importFeed(ctx context.Context, userID string, f model.OPMLFeed, categories map[string]int64) error {
	var categoryID *int64
	if f.Category != "" {
		id, ok := categories[f.Category]
		if !ok {
			c, err := s.store.EnsureCategory(ctx, userID, f.Category)
			if err != nil {
				return fmt.Errorf("ensure category: %w", err)
			}
			id = c.ID
			categories[f.Category] = id
		}
		categoryID = &id
	}

	feed := &model.Feed{URL: strings.TrimSpace(f.XMLURL), Title: f.Title, SiteURL: f.HTMLURL, Description: f.Description}
	if err := s.store.UpsertFeed(ctx, feed); err != nil {
		return fmt.Errorf("save feed: %w", err)
	}
	return s.store.CreateSubscription(ctx, &model.Subscription{
		UserID:      userID,
		FeedID:      feed.ID,
		CategoryID:  categoryID,
		CustomTitle: f.Title,
	})
}

// ExportOPML renders the user's subscriptions grouped by category.
func (s *Service) ExportOPML(ctx context.Context, userID string) (string, error) {
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list subscriptions: %w", err)
	}
	feeds := lo.Map(subs, func(sub model.Subscription, _ int) model.OPMLFeed {
		return model.OPMLFeed{
			XMLURL:      sub.FeedURL,
			Title:       sub.DisplayTitle(),
			HTMLURL:     sub.FeedSiteURL,
			Description: sub.FeedDesc,
			Category:    sub.CategoryName,
		}
	})
	return opml.Render(opml.GroupByCategory(feeds), s.now()), nil
}
