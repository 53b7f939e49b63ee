package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"frontpage/internal/model"
	"frontpage/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// UpsertFeed inserts the feed by URL or refreshes its non-empty metadata,
// then populates ID and CreatedAt.
func (s *SQLite) UpsertFeed(ctx context.Context, feed *model.Feed) error {
	now := s.now().UTC().Format(timeLayout)
	var created string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO feeds (url, title, description, site_url, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET
		   title       = COALESCE(NULLIF(excluded.title, ''), feeds.title),
		   description = COALESCE(NULLIF(excluded.description, ''), feeds.description),
		   site_url    = COALESCE(NULLIF(excluded.site_url, ''), feeds.site_url)
		 RETURNING id, created_at`,
		feed.URL, feed.Title, feed.Description, feed.SiteURL, now,
	).Scan(&feed.ID, &created)
	if err != nil {
		return fmt.Errorf("upsert feed: %w", err)
	}
	feed.CreatedAt, _ = time.Parse(timeLayout, created)
	return nil
}

// GetFeedByURL returns a single feed by its unique URL.
func (s *SQLite) GetFeedByURL(ctx context.Context, url string) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, title, description, site_url, last_fetched_at, created_at
		 FROM feeds WHERE url = ?`, url,
	)
	return scanFeed(row)
}

// ListSubscribedFeeds returns every feed that at least one user follows.
func (s *SQLite) ListSubscribedFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.url, f.title, f.description, f.site_url, f.last_fetched_at, f.created_at
		 FROM feeds f
		 WHERE EXISTS (SELECT 1 FROM subscriptions s WHERE s.feed_id = f.id)
		 ORDER BY f.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// UpdateFeedMetadata persists refreshed metadata and the last fetch time.
func (s *SQLite) UpdateFeedMetadata(ctx context.Context, feed *model.Feed) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET title = ?, description = ?, site_url = ?, last_fetched_at = ? WHERE id = ?`,
		feed.Title, feed.Description, feed.SiteURL, formatTimePtr(feed.LastFetchedAt), feed.ID,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return expectAffected(res)
}

// CreateCategory inserts a new category and populates its ID and CreatedAt.
func (s *SQLite) CreateCategory(ctx context.Context, c *model.Category) error {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, name) DO NOTHING`,
		c.UserID, c.Name, now,
	)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrCategoryExists
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	c.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// EnsureCategory returns the user's category with the given name, creating it if needed.
func (s *SQLite) EnsureCategory(ctx context.Context, userID, name string) (*model.Category, error) {
	now := s.now().UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, name) DO NOTHING`,
		userID, name, now,
	); err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}

	var c model.Category
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM categories WHERE user_id = ? AND name = ?`,
		userID, name,
	).Scan(&c.ID, &c.UserID, &c.Name, &created)
	if err != nil {
		return nil, fmt.Errorf("scan category: %w", err)
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	return &c, nil
}

// ListCategories returns the user's categories ordered by name.
func (s *SQLite) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at FROM categories WHERE user_id = ? ORDER BY name, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		var created string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &created); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// RenameCategory changes a category name, keeping names unique per user.
func (s *SQLite) RenameCategory(ctx context.Context, userID string, id int64, name string) error {
	var clash int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM categories WHERE user_id = ? AND name = ? AND id != ?`,
		userID, name, id,
	).Scan(&clash)
	if err != nil {
		return fmt.Errorf("check category name: %w", err)
	}
	if clash > 0 {
		return ErrCategoryExists
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE categories SET name = ? WHERE id = ? AND user_id = ?`, name, id, userID,
	)
	if err != nil {
		return fmt.Errorf("rename category: %w", err)
	}
	return expectAffected(res)
}

// DeleteCategory detaches the category's subscriptions and removes it.
func (s *SQLite) DeleteCategory(ctx context.Context, userID string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET category_id = NULL WHERE user_id = ? AND category_id = ?`, userID, id,
	); err != nil {
		return fmt.Errorf("detach subscriptions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateSubscription inserts a subscription and populates its ID and CreatedAt.
// A second subscription to the same feed returns ErrAlreadySubscribed.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	now := s.now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, feed_id, category_id, custom_title, is_favorite, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, feed_id) DO NOTHING`,
		sub.UserID, sub.FeedID, sub.CategoryID, sub.CustomTitle, boolToInt(sub.IsFavorite), now,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrAlreadySubscribed
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

func subscriptionQuery(userID string) *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(
		"s.id", "s.user_id", "s.feed_id", "s.category_id", "s.custom_title", "s.is_favorite",
		"s.last_read_at", "s.created_at",
		"f.url", "f.title", "f.site_url", "f.description", "COALESCE(c.name, '')",
	)
	sb.From("subscriptions s")
	sb.Join("feeds f", "f.id = s.feed_id")
	sb.JoinWithOption(sqlbuilder.LeftJoin, "categories c", "c.id = s.category_id")
	sb.Where(sb.Equal("s.user_id", userID))
	return sb
}

// GetSubscription returns one of the user's subscriptions.
func (s *SQLite) GetSubscription(ctx context.Context, userID string, id int64) (*model.Subscription, error) {
	sb := subscriptionQuery(userID)
	sb.Where(sb.Equal("s.id", id))
	query, args := sb.Build()
	return scanSubscription(s.db.QueryRowContext(ctx, query, args...))
}

// ListSubscriptions returns the user's subscriptions in creation order.
func (s *SQLite) ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error) {
	sb := subscriptionQuery(userID)
	sb.OrderBy("s.id")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// SetSubscriptionCategory moves a subscription into a category, or out of
// any category when categoryID is nil.
func (s *SQLite) SetSubscriptionCategory(ctx context.Context, userID string, id int64, categoryID *int64) error {
	if categoryID != nil {
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM categories WHERE id = ? AND user_id = ?`, *categoryID, userID,
		).Scan(&n); err != nil {
			return fmt.Errorf("check category: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET category_id = ? WHERE id = ? AND user_id = ?`, categoryID, id, userID,
	)
	if err != nil {
		return fmt.Errorf("update subscription category: %w", err)
	}
	return expectAffected(res)
}

// SetFavorite flags or unflags a subscription as favorite.
func (s *SQLite) SetFavorite(ctx context.Context, userID string, id int64, favorite bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET is_favorite = ? WHERE id = ? AND user_id = ?`, boolToInt(favorite), id, userID,
	)
	if err != nil {
		return fmt.Errorf("update favorite: %w", err)
	}
	return expectAffected(res)
}

// MarkSubscriptionRead moves the subscription's last-read marker to at.
func (s *SQLite) MarkSubscriptionRead(ctx context.Context, userID string, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_read_at = ? WHERE id = ? AND user_id = ?`,
		at.UTC().Format(timeLayout), id, userID,
	)
	if err != nil {
		return fmt.Errorf("mark subscription read: %w", err)
	}
	return expectAffected(res)
}

// DeleteSubscription removes one of the user's subscriptions.
func (s *SQLite) DeleteSubscription(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return expectAffected(res)
}

// UpsertItem inserts or refreshes an item by (feed, guid) and populates its ID.
func (s *SQLite) UpsertItem(ctx context.Context, item *model.StoredItem) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO feed_items (feed_id, guid, url, title, description, content, author, image_url, published_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (feed_id, guid) DO UPDATE SET
		   url = excluded.url,
		   title = excluded.title,
		   description = excluded.description,
		   content = excluded.content,
		   author = excluded.author,
		   image_url = excluded.image_url,
		   published_at = excluded.published_at
		 RETURNING id`,
		item.FeedID, item.GUID, item.URL, item.Title, item.Description, item.Content,
		item.Author, item.ImageURL, item.PublishedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// MarkItemRead records an explicit read of an item.
func (s *SQLite) MarkItemRead(ctx context.Context, userID string, itemID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_states (user_id, item_id, is_read, read_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (user_id, item_id) DO UPDATE SET is_read = 1, read_at = excluded.read_at`,
		userID, itemID, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("mark item read: %w", err)
	}
	return nil
}

// SetItemSaved bookmarks or un-bookmarks an item.
func (s *SQLite) SetItemSaved(ctx context.Context, userID string, itemID int64, saved bool, at time.Time) error {
	var savedAt *string
	if saved {
		v := at.UTC().Format(timeLayout)
		savedAt = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO item_states (user_id, item_id, is_saved, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, item_id) DO UPDATE SET is_saved = excluded.is_saved, saved_at = excluded.saved_at`,
		userID, itemID, boolToInt(saved), savedAt,
	)
	if err != nil {
		return fmt.Errorf("set item saved: %w", err)
	}
	return nil
}

// ReadGUIDs returns the explicitly read item guids of a user, keyed by feed id.
func (s *SQLite) ReadGUIDs(ctx context.Context, userID string) (map[int64]map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.feed_id, i.guid
		 FROM item_states st
		 JOIN feed_items i ON i.id = st.item_id
		 WHERE st.user_id = ? AND st.is_read = 1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query read items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]map[string]struct{})
	for rows.Next() {
		var feedID int64
		var guid string
		if err := rows.Scan(&feedID, &guid); err != nil {
			return nil, fmt.Errorf("scan read item: %w", err)
		}
		if out[feedID] == nil {
			out[feedID] = make(map[string]struct{})
		}
		out[feedID][guid] = struct{}{}
	}
	return out, rows.Err()
}

// ListBookmarks returns the user's saved items, most recently saved first.
func (s *SQLite) ListBookmarks(ctx context.Context, userID string) ([]model.Bookmark, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(
		"i.id", "i.feed_id", "i.guid", "i.url", "i.title", "i.description", "i.content",
		"i.author", "i.image_url", "i.published_at", "f.title", "f.url", "st.saved_at",
	)
	sb.From("item_states st")
	sb.Join("feed_items i", "i.id = st.item_id")
	sb.Join("feeds f", "f.id = i.feed_id")
	sb.Where(sb.Equal("st.user_id", userID), sb.Equal("st.is_saved", 1))
	sb.OrderBy("st.saved_at DESC", "st.item_id DESC")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Bookmark
	for rows.Next() {
		var b model.Bookmark
		var savedAt sql.NullString
		it := &b.Item
		if err := rows.Scan(&it.ID, &it.FeedID, &it.GUID, &it.URL, &it.Title, &it.Description, &it.Content,
			&it.Author, &it.ImageURL, &it.PublishedAt, &b.FeedTitle, &b.FeedURL, &savedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		if savedAt.Valid {
			b.SavedAt, _ = time.Parse(timeLayout, savedAt.String)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var lastFetched, created sql.NullString
	err := row.Scan(&f.ID, &f.URL, &f.Title, &f.Description, &f.SiteURL, &lastFetched, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.LastFetchedAt = parseTimePtr(lastFetched)
	if created.Valid {
		f.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &f, nil
}

func scanSubscription(row scannable) (*model.Subscription, error) {
	var sub model.Subscription
	var categoryID sql.NullInt64
	var isFavorite int
	var lastRead, created sql.NullString
	err := row.Scan(&sub.ID, &sub.UserID, &sub.FeedID, &categoryID, &sub.CustomTitle, &isFavorite,
		&lastRead, &created, &sub.FeedURL, &sub.FeedTitle, &sub.FeedSiteURL, &sub.FeedDesc, &sub.CategoryName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	if categoryID.Valid {
		id := categoryID.Int64
		sub.CategoryID = &id
	}
	sub.IsFavorite = isFavorite == 1
	sub.LastReadAt = parseTimePtr(lastRead)
	if created.Valid {
		sub.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &sub, nil
}
