// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr       string
	DatabasePath     string
	LogLevel         string
	APITokens        map[string]string
	TelegramBotToken string
	AllowedUsers     []int64
	FetchTimeout     time.Duration
	ImageTimeout     time.Duration
	ScrapeImages     bool
	ImageConcurrency int
	RefreshInterval  time.Duration
	GuestFeeds       []GuestFeed
}

// GuestFeed is one entry of the feed list shown to callers without an identity.
type GuestFeed struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category,omitempty"`
}

type guestFeedFile struct {
	Feeds []GuestFeed `yaml:"feeds"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		DatabasePath:     envOr("DATABASE_PATH", "./data/frontpage.db"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var err error
	if cfg.APITokens, err = parseTokens(os.Getenv("API_TOKENS")); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ALLOWED_USERS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			uid, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
			}
			cfg.AllowedUsers = append(cfg.AllowedUsers, uid)
		}
	}

	if cfg.FetchTimeout, err = envDuration("FETCH_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ImageTimeout, err = envDuration("IMAGE_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = envDuration("REFRESH_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.ScrapeImages = true
	if raw := os.Getenv("SCRAPE_IMAGES"); raw != "" {
		if cfg.ScrapeImages, err = strconv.ParseBool(raw); err != nil {
			return nil, fmt.Errorf("invalid SCRAPE_IMAGES %q: %w", raw, err)
		}
	}

	cfg.ImageConcurrency = 4
	if raw := os.Getenv("IMAGE_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid IMAGE_CONCURRENCY %q", raw)
		}
		cfg.ImageConcurrency = n
	}

	cfg.GuestFeeds = DefaultGuestFeeds()
	if path := os.Getenv("GUEST_FEEDS_FILE"); path != "" {
		if cfg.GuestFeeds, err = LoadGuestFeeds(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

// GuestFeedURLs returns the URLs of the guest feed list in order.
func (c *Config) GuestFeedURLs() []string {
	urls := make([]string, 0, len(c.GuestFeeds))
	for _, f := range c.GuestFeeds {
		urls = append(urls, f.URL)
	}
	return urls
}

// LoadGuestFeeds reads a YAML guest feed list. Entries without a URL are dropped.
func LoadGuestFeeds(path string) ([]GuestFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guest feeds file: %w", err)
	}

	var file guestFeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse guest feeds file: %w", err)
	}

	feeds := make([]GuestFeed, 0, len(file.Feeds))
	for _, f := range file.Feeds {
		f.URL = strings.TrimSpace(f.URL)
		if f.URL == "" {
			continue
		}
		feeds = append(feeds, f)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("guest feeds file %s lists no feeds", path)
	}
	return feeds, nil
}

// DefaultGuestFeeds is the built-in guest feed list.
func DefaultGuestFeeds() []GuestFeed {
	return []GuestFeed{
		{Name: "Hacker News", URL: "https://hnrss.org/frontpage", Category: "Tech"},
		{Name: "Lobsters", URL: "https://lobste.rs/rss", Category: "Tech"},
		{Name: "The Go Blog", URL: "https://go.dev/blog/feed.atom", Category: "Programming"},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}

// parseTokens parses "token:user,token2:user2" into a token to user-id table.
func parseTokens(raw string) (map[string]string, error) {
	tokens := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid entry %q in API_TOKENS: want token:user", pair)
		}
		tokens[token] = user
	}
	return tokens, nil
}
