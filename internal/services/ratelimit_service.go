// Package services – rate-limit ledgers.
//
// One Ledger per external quota pool. Every accounted request appends a hit;
// expired hits are pruned lazily on each read and write, so the resident
// count is always the rolling-window usage. The answer to "how long until a
// slot frees" is computed from the oldest resident hit (soonest-available-
// slot policy; the source implementations disagreed on sort order, this one
// does not).
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/metrics"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
)

// Pool describes one external quota window.
type Pool struct {
	// Name keys the pool's hits in storage (e.g. "reddit", "imgur_user").
	Name string
	// Limit is the number of requests allowed per window.
	Limit int
	// MaxAge is the rolling window size.
	MaxAge time.Duration
}

// Default pool definitions; all overridable through config.
var (
	PoolReddit      = Pool{Name: "reddit", Limit: 600, MaxAge: 10 * time.Minute}
	PoolInstagram   = Pool{Name: "instagram", Limit: 200, MaxAge: time.Hour}
	PoolImgurClient = Pool{Name: "imgur_client", Limit: 12500, MaxAge: 24 * time.Hour}
	PoolImgurUser   = Pool{Name: "imgur_user", Limit: 500, MaxAge: time.Hour}
	PoolImgurPost   = Pool{Name: "imgur_post", Limit: 1250, MaxAge: time.Hour}
	PoolGfycat      = Pool{Name: "gfycat", Limit: 1000, MaxAge: 24 * time.Hour}
)

// Ledger tracks a rolling window of timestamped hits against one pool.
// Safe for use from independent processes: all state lives in the shared
// hits table and mutation races are benign (worst case a request is counted
// that a concurrent prune would have allowed).
type Ledger struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Pool is the quota window this ledger accounts for.
	Pool Pool
	// Now is the clock; tests inject a virtual one.
	Now func() time.Time

	log zerolog.Logger
}

// NewLedger constructs a Ledger for pool.
func NewLedger(db *gorm.DB, pool Pool, log zerolog.Logger) *Ledger {
	return &Ledger{
		DB:   db,
		Pool: pool,
		Now:  time.Now,
		log:  log.With().Str("component", "ratelimit").Str("pool", pool.Name).Logger(),
	}
}

// RecordHit prunes expired hits, then appends a hit for the request. It is
// side effect only: storage failures are logged and never fail the caller's
// request.
func (l *Ledger) RecordHit(ctx context.Context, url, method string) {
	l.prune(ctx)
	ts := repo.UnixSeconds(l.Now())
	if err := repo.InsertHit(ctx, l.DB, l.Pool.Name, url, method, ts); err != nil {
		l.log.Error().Err(err).Str("url", url).Msg("failed to record hit")
		return
	}
	metrics.HitsRecorded.WithLabelValues(l.Pool.Name).Inc()
}

// Remaining prunes, then returns limit - resident count, clamped to zero.
// A negative internal count means a bug or race, not a caller problem.
func (l *Ledger) Remaining(ctx context.Context) int {
	l.prune(ctx)
	n, err := repo.CountHits(ctx, l.DB, l.Pool.Name)
	if err != nil {
		l.log.Error().Err(err).Msg("failed to count hits")
		return 0
	}
	remaining := l.Pool.Limit - int(n)
	if remaining < 0 {
		l.log.Warn().Int("overshoot", -remaining).Msg("ledger accounting went negative, clamping")
		return 0
	}
	return remaining
}

// TimeUntilAvailable returns 0 when capacity remains (or the pool is empty,
// which means "should not be rate-limited" and reports no wait). Otherwise
// it returns the duration until the oldest resident hit ages out.
func (l *Ledger) TimeUntilAvailable(ctx context.Context) time.Duration {
	if l.Remaining(ctx) > 0 {
		return 0
	}
	oldest, err := repo.OldestHit(ctx, l.DB, l.Pool.Name)
	if err != nil {
		if !repo.IsNotFound(err) {
			l.log.Error().Err(err).Msg("failed to read oldest hit")
		}
		return 0
	}
	elapsed := repo.UnixSeconds(l.Now()) - oldest.Timestamp
	wait := l.Pool.MaxAge - time.Duration(elapsed*float64(time.Second))
	if wait < 0 {
		return 0
	}
	return wait
}

// prune removes hits that have aged out of the window.
func (l *Ledger) prune(ctx context.Context) {
	cutoff := repo.UnixSeconds(l.Now().Add(-l.Pool.MaxAge))
	if _, err := repo.PruneHits(ctx, l.DB, l.Pool.Name, cutoff); err != nil {
		l.log.Error().Err(err).Msg("failed to prune hits")
	}
}

// LedgerSet groups the ledgers a worker must clear before an external call,
// ordered most-restrictive-first so the cheap check runs first and the rest
// are only probed when it passes.
type LedgerSet struct {
	ledgers []*Ledger
}

// NewLedgerSet builds a set; callers list pools most-restrictive-first.
func NewLedgerSet(ledgers ...*Ledger) *LedgerSet {
	return &LedgerSet{ledgers: ledgers}
}

// TimeUntilAvailable returns the first nonzero wait found, probing ledgers
// in order, or 0 when every pool has capacity.
func (s *LedgerSet) TimeUntilAvailable(ctx context.Context) time.Duration {
	for _, l := range s.ledgers {
		if wait := l.TimeUntilAvailable(ctx); wait > 0 {
			return wait
		}
	}
	return 0
}

// RecordHit records the request against every pool in the set.
func (s *LedgerSet) RecordHit(ctx context.Context, url, method string) {
	for _, l := range s.ledgers {
		l.RecordHit(ctx, url, method)
	}
}
