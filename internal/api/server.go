// Package api is the JSON HTTP surface over the reader service.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"frontpage/internal/aggregator"
	"frontpage/internal/model"
	"frontpage/internal/reader"
	"frontpage/internal/search"
)

// Service is the set of reader operations the API exposes.
type Service interface {
	FetchFeed(ctx context.Context, url string) (*model.NormalizedFeed, error)
	AllItems(ctx context.Context, userID string) (aggregator.Result, error)
	Search(ctx context.Context, userID, q string) (search.Result, error)
	UnreadCounts(ctx context.Context, userID string) ([]reader.UnreadCount, error)
	GuestUnreadCounts(ctx context.Context) []reader.GuestUnreadCount

	Subscribe(ctx context.Context, userID, url string, categoryID *int64) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]model.Subscription, error)
	MarkSubscriptionRead(ctx context.Context, userID string, id int64) error
	SetFavorite(ctx context.Context, userID string, id int64, favorite bool) error
	Unsubscribe(ctx context.Context, userID string, id int64) error

	MarkItemRead(ctx context.Context, userID, feedURL string, item model.NormalizedItem) error
	SetBookmark(ctx context.Context, userID, feedURL string, item model.NormalizedItem, saved bool) error
	Bookmarks(ctx context.Context, userID string) ([]model.AggregatedItem, error)

	Categories(ctx context.Context, userID string) ([]model.Category, error)
	CreateCategory(ctx context.Context, userID, name string) (*model.Category, error)
	RenameCategory(ctx context.Context, userID string, id int64, name string) error
	DeleteCategory(ctx context.Context, userID string, id int64) error
	AssignCategory(ctx context.Context, userID string, subscriptionID int64, categoryID *int64) error

	ImportOPML(ctx context.Context, userID, src string) (reader.ImportResult, error)
	ExportOPML(ctx context.Context, userID string) (string, error)
}

// Server routes HTTP requests to the service.
type Server struct {
	svc  Service
	auth Authenticator
	log  *slog.Logger
}

// New creates a Server.
func New(svc Service, auth Authenticator, log *slog.Logger) *Server {
	return &Server{svc: svc, auth: auth, log: log}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.identify)

		r.Get("/feed", s.handle(s.getFeed))
		r.Get("/feeds/content", s.handle(s.getContent))
		r.Get("/feeds/unread-counts", s.handle(s.getUnreadCounts))

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Get("/feeds/list", s.handle(s.listSubscriptions))
			r.Post("/feeds/add", s.handle(s.addFeed))
			r.Post("/feeds/mark-read", s.handle(s.markRead))
			r.Post("/feeds/mark-item-read", s.handle(s.markItemRead))
			r.Post("/feeds/favorite", s.handle(s.favorite))
			r.Post("/feeds/unsubscribe", s.handle(s.unsubscribe))
			r.Get("/feeds/search", s.handle(s.search))

			r.Get("/categories", s.handle(s.listCategories))
			r.Post("/categories", s.handle(s.categoryAction))

			r.Get("/bookmarks", s.handle(s.listBookmarks))
			r.Post("/bookmarks", s.handle(s.setBookmark))

			r.Get("/opml", s.handle(s.exportOPML))
			r.Post("/opml", s.handle(s.importOPML))
		})
	})
	return r
}

func (s *Server) handle(h appHandler) http.HandlerFunc {
	return makeHandler(s.log, h)
}
