package api

import (
	"net/http"
	"strings"

	"frontpage/internal/model"
)

const allFeeds = "all"

type addFeedRequest struct {
	URL        string `json:"url"`
	CategoryID *int64 `json:"categoryId"`
}

type subscriptionRequest struct {
	SubscriptionID int64 `json:"subscriptionId"`
	IsFavorite     bool  `json:"isFavorite"`
}

type itemRequest struct {
	FeedURL string                `json:"feedUrl"`
	Item    *model.NormalizedItem `json:"item"`
	Saved   *bool                 `json:"saved"`
}

type categoryRequest struct {
	Action         string `json:"action"`
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	SubscriptionID int64  `json:"subscriptionId"`
	CategoryID     *int64 `json:"categoryId"`
}

type opmlRequest struct {
	OPMLContent string `json:"opmlContent"`
}

type allItemsResponse struct {
	Title  string                 `json:"title"`
	Items  []model.AggregatedItem `json:"items"`
	Failed []string               `json:"failed,omitempty"`
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) error {
	feed, err := s.svc.FetchFeed(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, feed)
	return nil
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) error {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		return errBadRequest("Feed URL is required")
	}
	if url != allFeeds {
		return s.getFeed(w, r)
	}

	user := userFrom(r.Context())
	if user == "" {
		return errUnauthorized()
	}
	res, err := s.svc.AllItems(r.Context(), user)
	if err != nil {
		return err
	}
	items := res.Items
	if items == nil {
		items = []model.AggregatedItem{}
	}
	respondJSON(w, http.StatusOK, allItemsResponse{Title: "All Subscriptions", Items: items, Failed: res.Failed})
	return nil
}

func (s *Server) getUnreadCounts(w http.ResponseWriter, r *http.Request) error {
	user := userFrom(r.Context())
	if user == "" {
		respondJSON(w, http.StatusOK, s.svc.GuestUnreadCounts(r.Context()))
		return nil
	}
	counts, err := s.svc.UnreadCounts(r.Context(), user)
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, counts)
	return nil
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) error {
	subs, err := s.svc.ListSubscriptions(r.Context(), userFrom(r.Context()))
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	respondJSON(w, http.StatusOK, subs)
	return nil
}

func (s *Server) addFeed(w http.ResponseWriter, r *http.Request) error {
	var req addFeedRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	sub, err := s.svc.Subscribe(r.Context(), userFrom(r.Context()), req.URL, req.CategoryID)
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusCreated, sub)
	return nil
}

func (s *Server) decodeSubscription(r *http.Request) (subscriptionRequest, error) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.SubscriptionID == 0 {
		return req, errBadRequest("subscriptionId is required")
	}
	return req, nil
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) error {
	req, err := s.decodeSubscription(r)
	if err != nil {
		return err
	}
	if err := s.svc.MarkSubscriptionRead(r.Context(), userFrom(r.Context()), req.SubscriptionID); err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, success)
	return nil
}

func (s *Server) favorite(w http.ResponseWriter, r *http.Request) error {
	req, err := s.decodeSubscription(r)
	if err != nil {
		return err
	}
	if err := s.svc.SetFavorite(r.Context(), userFrom(r.Context()), req.SubscriptionID, req.IsFavorite); err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, success)
	return nil
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) error {
	req, err := s.decodeSubscription(r)
	if err != nil {
		return err
	}
	if err := s.svc.Unsubscribe(r.Context(), userFrom(r.Context()), req.SubscriptionID); err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, success)
	return nil
}

func (s *Server) decodeItem(r *http.Request) (itemRequest, error) {
	var req itemRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if req.Item == nil || req.FeedURL == "" {
		return req, errBadRequest("Item and feedUrl are required")
	}
	return req, nil
}

func (s *Server) markItemRead(w http.ResponseWriter, r *http.Request) error {
	req, err := s.decodeItem(r)
	if err != nil {
		return err
	}
	if err := s.svc.MarkItemRead(r.Context(), userFrom(r.Context()), req.FeedURL, *req.Item); err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, success)
	return nil
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) error {
	res, err := s.svc.Search(r.Context(), userFrom(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		return err
	}
	if res.Items == nil {
		res.Items = []model.AggregatedItem{}
	}
	respondJSON(w, http.StatusOK, res)
	return nil
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) error {
	cats, err := s.svc.Categories(r.Context(), userFrom(r.Context()))
	if err != nil {
		return err
	}
	if cats == nil {
		cats = []model.Category{}
	}
	respondJSON(w, http.StatusOK, cats)
	return nil
}

func (s *Server) categoryAction(w http.ResponseWriter, r *http.Request) error {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	ctx, user := r.Context(), userFrom(r.Context())

	switch req.Action {
	case "create":
		c, err := s.svc.CreateCategory(ctx, user, req.Name)
		if err != nil {
			return err
		}
		respondJSON(w, http.StatusCreated, c)
		return nil
	case "rename":
		if err := s.svc.RenameCategory(ctx, user, req.ID, req.Name); err != nil {
			return err
		}
	case "delete":
		if err := s.svc.DeleteCategory(ctx, user, req.ID); err != nil {
			return err
		}
	case "assign":
		if err := s.svc.AssignCategory(ctx, user, req.SubscriptionID, req.CategoryID); err != nil {
			return err
		}
	default:
		return errBadRequest("Invalid action")
	}
	respondJSON(w, http.StatusOK, success)
	return nil
}

func (s *Server) listBookmarks(w http.ResponseWriter, r *http.Request) error {
	items, err := s.svc.Bookmarks(r.Context(), userFrom(r.Context()))
	if err != nil {
		return err
	}
	if items == nil {
		items = []model.AggregatedItem{}
	}
	respondJSON(w, http.StatusOK, items)
	return nil
}

func (s *Server) setBookmark(w http.ResponseWriter, r *http.Request) error {
	req, err := s.decodeItem(r)
	if err != nil {
		return err
	}
	saved := req.Saved == nil || *req.Saved
	if err := s.svc.SetBookmark(r.Context(), userFrom(r.Context()), req.FeedURL, *req.Item, saved); err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, success)
	return nil
}

func (s *Server) exportOPML(w http.ResponseWriter, r *http.Request) error {
	doc, err := s.svc.ExportOPML(r.Context(), userFrom(r.Context()))
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", `attachment; filename="frontpage-subscriptions.opml"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
	return nil
}

func (s *Server) importOPML(w http.ResponseWriter, r *http.Request) error {
	var req opmlRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	res, err := s.svc.ImportOPML(r.Context(), userFrom(r.Context()), req.OPMLContent)
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, res)
	return nil
}
