// Package metrics exposes Prometheus instrumentation for the bot's core
// loops. Collectors use low-cardinality labels only: pool names, queue
// names, and small closed enums of reasons. All collectors are safe for
// concurrent use and registered once at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// StreamItems counts things pulled from reddit streams, by stream kind.
	StreamItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_stream_items_total",
			Help: "Total number of things consumed from reddit streams.",
		},
		[]string{"stream"},
	)

	// HitsRecorded counts rate-limit ledger hits, by pool.
	HitsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_ratelimit_hits_total",
			Help: "Total number of network hits recorded in the rate-limit ledger.",
		},
		[]string{"pool"},
	)

	// RepliesSent counts comments successfully posted.
	RepliesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_replies_sent_total",
			Help: "Total number of reply comments posted.",
		},
	)

	// RepliesSkipped counts reply jobs dropped before posting, by reason
	// (blacklisted, duplicate, thread_cap, unparseable, dropped, error).
	RepliesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_replies_skipped_total",
			Help: "Total number of reply jobs dropped before posting.",
		},
		[]string{"reason"},
	)

	// RateLimitEvents counts reddit rate-limit responses observed.
	RateLimitEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_ratelimit_events_total",
			Help: "Total number of reddit rate-limit responses encountered.",
		},
	)

	// QueueDepth gauges the number of entries in each persistent work queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_queue_depth",
			Help: "Current number of entries in each persistent work queue.",
		},
		[]string{"queue"},
	)

	// MediaFetches counts Instagram profile fetch attempts, by outcome
	// (ok, private, nonexistent, deferred, error).
	MediaFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_media_fetches_total",
			Help: "Total number of Instagram media fetch attempts.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		StreamItems,
		HitsRecorded,
		RepliesSent,
		RepliesSkipped,
		RateLimitEvents,
		QueueDepth,
		MediaFetches,
	)
}
