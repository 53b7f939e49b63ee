package bot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"frontpage/internal/config"
	"frontpage/internal/model"
	"frontpage/internal/reader"
	"frontpage/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID    int64
	Text      string
	FileName  string
	FileData  []byte
	HasMarkup bool
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, HasMarkup: msg.ReplyMarkup != nil})
	case tgbotapi.DocumentConfig:
		fb, _ := msg.File.(tgbotapi.FileBytes)
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Caption, FileName: fb.Name, FileData: fb.Bytes})
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.example.com/" + fileID, nil
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.last().Text
}

func (m *mockAPI) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockHTTPClient struct {
	body string
	err  error
}

func (m *mockHTTPClient) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

type stubFetcher map[string]*model.NormalizedFeed

func (s stubFetcher) Fetch(_ context.Context, url string) (*model.NormalizedFeed, error) {
	if f, ok := s[url]; ok {
		return f, nil
	}
	return nil, &model.FetchError{Kind: model.FetchParseOrNetwork, URL: url, Err: errors.New("unreachable")}
}

// --- helpers ---

const (
	goFeed   = "https://go.example.com/rss"
	newsFeed = "https://news.example.com/rss"
)

var fixedNow = time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

func newTestBot(t *testing.T) (*Bot, *mockAPI, *mockHTTPClient) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := stubFetcher{
		goFeed: {
			Title: "Go Blog",
			Items: []model.NormalizedItem{
				{GUID: "g1", Title: "Generics in practice", PubDate: "2025-01-02T00:00:00Z", Link: "https://go.example.com/generics"},
				{GUID: "g2", Title: "Profiling with pprof", PubDate: "2025-01-03T00:00:00Z"},
			},
		},
		newsFeed: {
			Title: "News",
			Items: []model.NormalizedItem{{GUID: "n1", Title: "Morning headlines", PubDate: "2025-01-04T00:00:00Z"}},
		},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	api := &mockAPI{}
	files := &mockHTTPClient{}
	b := &Bot{
		api:   api,
		svc:   reader.New(store, f, nil, log),
		cfg:   &config.Config{},
		files: files,
		log:   log,
		now:   func() time.Time { return fixedNow },
	}
	return b, api, files
}

func subscribe(t *testing.T, b *Bot, chatID int64, url string) {
	t.Helper()
	if _, err := b.svc.Subscribe(context.Background(), UserID(chatID), url, nil); err != nil {
		t.Fatalf("subscribe %s: %v", url, err)
	}
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Welcome to Frontpage")
}

func TestHandleHelp(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleHelp(100)
	for _, cmd := range []string{"/add", "/latest", "/search", "/export"} {
		requireContains(t, api.lastText(), cmd)
	}
}

func TestHandleAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("empty args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleAdd(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /add")
	})

	t.Run("unreachable feed", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleAdd(ctx, 100, "https://bad.example.com/rss")
		requireContains(t, api.lastText(), "invalid feed URL")
	})

	t.Run("success", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleAdd(ctx, 100, goFeed)
		got := api.last()
		requireContains(t, got.Text, "Subscribed!")
		requireContains(t, got.Text, "#1 Go Blog")
		if !got.HasMarkup {
			t.Error("expected inline keyboard on subscribe reply")
		}

		subs, err := b.svc.ListSubscriptions(ctx, "tg:100")
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(1, len(subs)); diff != "" {
			t.Errorf("subscription count (-want +got):\n%s", diff)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		b.handleAdd(ctx, 100, goFeed)
		requireContains(t, api.lastText(), "already subscribed")
	})
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleList(ctx, 100)
		requireContains(t, api.lastText(), "no subscriptions yet")
	})

	t.Run("with subscriptions", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		subscribe(t, b, 100, newsFeed)
		subscribe(t, b, 200, newsFeed)

		b.handleList(ctx, 100)
		reply := api.lastText()
		requireContains(t, reply, "#1 Go Blog  (2 unread)")
		requireContains(t, reply, "#2 News  (1 unread)")
		if strings.Contains(reply, "#3") {
			t.Errorf("list leaked another chat's subscription:\n%s", reply)
		}
	})
}

func TestHandleLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing subscribed", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleLatest(ctx, 100)
		requireContains(t, api.lastText(), "Nothing to show yet")
	})

	t.Run("newest first", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		subscribe(t, b, 100, newsFeed)

		b.handleLatest(ctx, 100)
		reply := api.lastText()
		news := strings.Index(reply, "Morning headlines")
		pprof := strings.Index(reply, "Profiling with pprof")
		generics := strings.Index(reply, "Generics in practice")
		if news < 0 || pprof < 0 || generics < 0 || !(news < pprof && pprof < generics) {
			t.Errorf("items missing or out of order:\n%s", reply)
		}
		requireContains(t, reply, "Go Blog · 3 days ago")
	})
}

func TestHandleUnread(t *testing.T) {
	ctx := context.Background()

	t.Run("no subscriptions", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUnread(ctx, 100)
		requireContains(t, api.lastText(), "no subscriptions yet")
	})

	t.Run("counts then caught up", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)

		b.handleUnread(ctx, 100)
		requireContains(t, api.lastText(), "2 unread")

		b.handleRead(ctx, 100, "1")
		b.handleUnread(ctx, 100)
		requireContains(t, api.lastText(), "all caught up")
	})
}

func TestHandleSearch(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)
	subscribe(t, b, 100, goFeed)

	tests := []struct {
		name     string
		args     string
		contains string
	}{
		{name: "empty", args: "", contains: "Usage: /search"},
		{name: "too short", args: "g", contains: "at least 2 characters"},
		{name: "no results", args: "rust", contains: `No results for "rust"`},
		{name: "match", args: "pprof", contains: `1 result(s) for "pprof"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api.reset()
			b.handleSearch(ctx, 100, tt.args)
			requireContains(t, api.lastText(), tt.contains)
		})
	}
}

func TestHandleRead(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRead(ctx, 100, "abc")
		requireContains(t, api.lastText(), "Usage: /read")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRead(ctx, 100, "999")
		requireContains(t, api.lastText(), "not found")
	})

	t.Run("other chat", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 200, goFeed)
		b.handleRead(ctx, 100, "1")
		requireContains(t, api.lastText(), "not found")
	})

	t.Run("success", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		b.handleRead(ctx, 100, "1")
		requireContains(t, api.lastText(), "#1 marked as read")
	})
}

func TestHandleRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleRemove(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /remove")
	})

	t.Run("other chat", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 200, goFeed)
		b.handleRemove(ctx, 100, "1")
		requireContains(t, api.lastText(), "Subscription #1 not found")
	})

	t.Run("success", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		b.handleRemove(ctx, 100, "1")
		requireContains(t, api.lastText(), `Unsubscribed from #1 "Go Blog"`)

		subs, _ := b.svc.ListSubscriptions(ctx, "tg:100")
		if diff := cmp.Diff(0, len(subs)); diff != "" {
			t.Errorf("subscriptions should be empty (-want +got):\n%s", diff)
		}
	})
}

func TestHandleExport(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing to export", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleExport(ctx, 100)
		requireContains(t, api.lastText(), "no subscriptions to export")
	})

	t.Run("sends document", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		b.handleExport(ctx, 100)

		got := api.last()
		if diff := cmp.Diff(exportFileName, got.FileName); diff != "" {
			t.Errorf("file name (-want +got):\n%s", diff)
		}
		requireContains(t, got.Text, "1 subscription(s)")
		requireContains(t, string(got.FileData), `xmlUrl="`+goFeed+`"`)
	})
}

func TestHandleDocument(t *testing.T) {
	ctx := context.Background()
	opmlDoc := `<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="Dev"><outline text="Go Blog" xmlUrl="` + goFeed + `"/></outline>
  <outline text="News" xmlUrl="` + newsFeed + `"/>
</body></opml>`

	t.Run("not opml", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleDocument(ctx, 100, &tgbotapi.Document{FileID: "f1", FileName: "photo.jpg"})
		requireContains(t, api.lastText(), "Send an OPML file")
	})

	t.Run("too large", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleDocument(ctx, 100, &tgbotapi.Document{FileID: "f1", FileName: "subs.opml", FileSize: maxUploadBytes + 1})
		requireContains(t, api.lastText(), "too large")
	})

	t.Run("download error", func(t *testing.T) {
		b, api, files := newTestBot(t)
		files.err = errors.New("connection reset")
		b.handleDocument(ctx, 100, &tgbotapi.Document{FileID: "f1", FileName: "subs.opml"})
		requireContains(t, api.lastText(), "Failed to download")
	})

	t.Run("no feeds", func(t *testing.T) {
		b, api, files := newTestBot(t)
		files.body = "<opml><body></body></opml>"
		b.handleDocument(ctx, 100, &tgbotapi.Document{FileID: "f1", FileName: "subs.opml"})
		requireContains(t, api.lastText(), "no feeds found")
	})

	t.Run("imports then skips", func(t *testing.T) {
		b, api, files := newTestBot(t)
		files.body = opmlDoc

		b.handleDocument(ctx, 100, &tgbotapi.Document{FileID: "f1", FileName: "subs.opml"})
		if diff := cmp.Diff("Imported 2 of 2 feeds.", api.lastText()); diff != "" {
			t.Errorf("first import (-want +got):\n%s", diff)
		}

		b.handleDocument(ctx, 100, &tgbotapi.Document{FileID: "f1", FileName: "subs.xml"})
		if diff := cmp.Diff("Imported 0 of 2 feeds (2 already subscribed).", api.lastText()); diff != "" {
			t.Errorf("second import (-want +got):\n%s", diff)
		}
	})
}

func TestHandleUpdate(t *testing.T) {
	ctx := context.Background()

	command := func(from int64, text string) tgbotapi.Update {
		cmd, _, _ := strings.Cut(text, " ")
		return tgbotapi.Update{Message: &tgbotapi.Message{
			From:     &tgbotapi.User{ID: from},
			Chat:     &tgbotapi.Chat{ID: from},
			Text:     text,
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
		}}
	}

	t.Run("denied user", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.cfg = &config.Config{AllowedUsers: []int64{1}}
		b.handleUpdate(ctx, command(100, "/list"))
		requireContains(t, api.lastText(), "Access denied")
	})

	t.Run("plain text ignored", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 100},
			Chat: &tgbotapi.Chat{ID: 100},
			Text: "hello",
		}})
		if diff := cmp.Diff(0, api.count()); diff != "" {
			t.Errorf("expected no replies (-want +got):\n%s", diff)
		}
	})

	t.Run("document routed to import", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
			From:     &tgbotapi.User{ID: 100},
			Chat:     &tgbotapi.Chat{ID: 100},
			Document: &tgbotapi.Document{FileID: "f1", FileName: "notes.txt"},
		}})
		requireContains(t, api.lastText(), "Send an OPML file")
	})

	t.Run("allowed command dispatched", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.cfg = &config.Config{AllowedUsers: []int64{100}}
		b.handleUpdate(ctx, command(100, "/add "+goFeed))
		requireContains(t, api.lastText(), "Subscribed!")
	})
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	makeMsg := func(cmd, args string) *tgbotapi.Message {
		text := "/" + cmd
		if args != "" {
			text += " " + args
		}
		return &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 100},
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}
	}

	b, api, _ := newTestBot(t)
	cmds := []struct {
		cmd      string
		args     string
		contains string
	}{
		{"start", "", "Welcome"},
		{"help", "", "/add"},
		{"list", "", "no subscriptions yet"},
		{"latest", "", "Nothing to show yet"},
		{"unread", "", "no subscriptions yet"},
		{"search", "", "Usage: /search"},
		{"read", "", "Usage: /read"},
		{"remove", "", "Usage: /remove"},
		{"export", "", "no subscriptions to export"},
		{"add", goFeed, "Subscribed!"},
		{"unknown_cmd", "", "Unknown command"},
	}
	for _, tc := range cmds {
		t.Run(tc.cmd, func(t *testing.T) {
			api.reset()
			b.handleCommand(ctx, makeMsg(tc.cmd, tc.args))
			requireContains(t, api.lastText(), tc.contains)
		})
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	callback := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCallback(ctx, callback("nocolon"))
		if diff := cmp.Diff(0, api.count()); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleCallback(ctx, callback("read:abc"))
		if diff := cmp.Diff(0, api.count()); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("read callback", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		b.handleCallback(ctx, callback("read:1"))
		requireContains(t, api.lastText(), "#1 marked as read")
	})

	t.Run("delete_confirm callback", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		b.handleCallback(ctx, callback("delete_confirm:1"))
		got := api.last()
		requireContains(t, got.Text, `Unsubscribe from #1 "Go Blog"?`)
		if !got.HasMarkup {
			t.Error("expected confirmation keyboard")
		}
	})

	t.Run("delete callback", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		subscribe(t, b, 100, goFeed)
		b.handleCallback(ctx, callback("delete:1"))
		requireContains(t, api.lastText(), "Unsubscribed")
	})
}
