// Package metrics holds the prometheus collectors shared by the fetch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch results.
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// Image scrape results.
const (
	ImageFound = "found"
	ImageMiss  = "miss"
	ImageError = "error"
)

var (
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frontpage_feed_fetch_total",
		Help: "Feed fetches by result",
	}, []string{"result"})

	FeedFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frontpage_feed_fetch_duration_seconds",
		Help:    "Time spent fetching and parsing a single feed",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms .. 6.4s
	})

	ImageScrapes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frontpage_image_scrape_total",
		Help: "og:image page lookups by result",
	}, []string{"result"})

	AggregateFailedFeeds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frontpage_aggregate_failed_feeds_total",
		Help: "Feeds dropped from an aggregate because their fetch failed",
	})
)
