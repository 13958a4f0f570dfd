// Package bot composes the worker fleet: four stream watchers, the reply
// consumer, the submitter, and the rate-limit handler, all sharing one
// SQLite store, one set of persistent queues, and one cross-process
// rate-limit flag. Shutdown is ordered: every worker is asked to stop and
// joined, then the rate-limit handler is joined last so parked replies are
// never orphaned.
package bot

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/backoff"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/config"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/media"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/metrics"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/ops"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/services"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/sharedflag"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/workers"
)

// Collaborator factories. The reddit and media clients are external
// adapters; an embedding build registers concrete constructors here (the
// database/sql driver pattern). The run command fails startup when they
// are unset.
var (
	NewRedditClient func(cfg config.Config) (reddit.Client, error)
	NewMediaClient  func(cfg config.Config) (media.Client, error)
	// ExtractUsers pulls Instagram usernames out of a thing's body and
	// links. Text extraction is a peripheral concern; the default finds
	// nothing, which turns the bot into a watch-only process.
	ExtractUsers = func(*reddit.Thing) []string { return nil }
)

// queueDepthInterval paces the queue-depth gauge refresh.
const queueDepthInterval = 15 * time.Second

// Bot owns the composed worker fleet.
type Bot struct {
	cfg config.Config
	db  *gorm.DB
	log zerolog.Logger

	flag   *sharedflag.Flag
	queues []*services.WorkQueue

	fleet     []*workers.Worker // everything except the rate-limit handler
	rlHandler *workers.Worker

	ops *ops.Server
}

// New wires the full fleet from config and the injected collaborators.
func New(cfg config.Config, db *gorm.DB, rc reddit.Client, mc media.Client,
	extract func(*reddit.Thing) []string, log zerolog.Logger) *Bot {

	lockDir := filepath.Join(cfg.DataDir, "locks")
	signalDir := filepath.Join(cfg.DataDir, "signals")

	flag := sharedflag.New(cfg.FlagPath, "bot", log)

	replyQ := services.NewWorkQueue(db, services.QueueReply, signalDir, log)
	fetchQ := services.NewWorkQueue(db, services.QueueIGFetch, signalDir, log)
	retryQ := services.NewWorkQueue(db, services.QueueRetry, signalDir, log)
	submitQ := services.NewWorkQueue(db, services.QueueSubmissions, signalDir, log)

	redditLedger := services.NewLedger(db, poolFromConfig(cfg, services.PoolReddit), log)
	mediaLedgers := services.NewLedgerSet(
		services.NewLedger(db, poolFromConfig(cfg, services.PoolInstagram), log),
		services.NewLedger(db, poolFromConfig(cfg, services.PoolImgurClient), log),
		services.NewLedger(db, poolFromConfig(cfg, services.PoolImgurUser), log),
		services.NewLedger(db, poolFromConfig(cfg, services.PoolImgurPost), log),
		services.NewLedger(db, poolFromConfig(cfg, services.PoolGfycat), log),
	)

	dedup := services.NewDedupService(db, log)
	blacklist := services.NewBlacklistService(db, cfg.TempBanDuration, log)

	b := &Bot{
		cfg:    cfg,
		db:     db,
		log:    log.With().Str("component", "bot").Logger(),
		flag:   flag,
		queues: []*services.WorkQueue{replyQ, fetchQ, retryQ, submitQ},
	}

	for _, kind := range []reddit.StreamKind{
		reddit.StreamSubmissions,
		reddit.StreamMentions,
		reddit.StreamMessages,
		reddit.StreamControversial,
	} {
		watcher := &workers.StreamWatcher{
			Client:       rc,
			Kind:         kind,
			Dedup:        dedup,
			Blacklist:    blacklist,
			ReplyQueue:   replyQ,
			Ledger:       redditLedger,
			Flag:         flag,
			Extract:      extract,
			PollInterval: cfg.PollInterval,
			Limiter:      rate.NewLimiter(rate.Limit(cfg.StreamRPS), 1),
			Backoff:      backoff.New(),
			Log:          log,
		}
		b.fleet = append(b.fleet, workers.NewWorker(watcher, lockDir, log))
	}

	replier := &workers.Replier{
		Client:              rc,
		Media:               mc,
		DB:                  db,
		Dedup:               dedup,
		Blacklist:           blacklist,
		ReplyQueue:          replyQ,
		FetchQueue:          fetchQ,
		RetryQueue:          retryQ,
		RedditLedger:        redditLedger,
		MediaLedgers:        mediaLedgers,
		Flag:                flag,
		MaxRepliesPerThread: cfg.MaxRepliesPerThread,
		Format:              workers.DefaultFormat,
		Log:                 log,
	}
	b.fleet = append(b.fleet, workers.NewWorker(replier, lockDir, log))

	submitter := &workers.Submitter{
		Client:       rc,
		Queue:        submitQ,
		RedditLedger: redditLedger,
		Flag:         flag,
		Backoff:      backoff.New(),
		Log:          log,
	}
	b.fleet = append(b.fleet, workers.NewWorker(submitter, lockDir, log))

	rl := &workers.RateLimitHandler{
		Client:       rc,
		DB:           db,
		Dedup:        dedup,
		RetryQueue:   retryQ,
		RedditLedger: redditLedger,
		Flag:         flag,
		Log:          log,
	}
	b.rlHandler = workers.NewWorker(rl, lockDir, log)

	if cfg.Ops.Enabled {
		b.ops = ops.New(db, cfg, log)
	}

	return b
}

// Run starts the fleet and blocks until ctx is cancelled, then performs the
// ordered shutdown. A panic anywhere in the run path is logged and routed
// through the same graceful shutdown.
func (b *Bot) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Msg("run loop panicked, shutting down")
			b.shutdown()
		}
	}()

	if b.ops != nil {
		b.ops.Start()
	}

	if err := b.rlHandler.Start(ctx); err != nil {
		return err
	}
	for _, w := range b.fleet {
		if err := w.Start(ctx); err != nil {
			b.log.Error().Err(err).Str("worker", w.Name()).Msg("worker failed to start")
			b.shutdown()
			return err
		}
	}
	b.log.Info().Int("workers", len(b.fleet)+1).Msg("bot running")

	b.refreshQueueDepths(ctx)

	<-ctx.Done()
	b.shutdown()
	return nil
}

// shutdown: stop-request everything, join the fleet, join the rate-limit
// handler last.
func (b *Bot) shutdown() {
	b.log.Info().Msg("shutting down")

	for _, w := range b.fleet {
		w.Stop(false)
	}
	b.rlHandler.Stop(false)

	for _, w := range b.fleet {
		w.Join()
	}
	b.rlHandler.Join()

	if b.ops != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.ops.Shutdown(ctx); err != nil {
			b.log.Warn().Err(err).Msg("ops shutdown")
		}
	}
	b.log.Info().Msg("bot stopped")
}

// refreshQueueDepths keeps the queue-depth gauges current in the
// background until ctx is done.
func (b *Bot) refreshQueueDepths(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(queueDepthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, q := range b.queues {
					n, err := q.Len(ctx)
					if err != nil {
						continue
					}
					metrics.QueueDepth.WithLabelValues(q.Name).Set(float64(n))
				}
			}
		}
	}()
}

// poolFromConfig applies any configured override to a default pool.
func poolFromConfig(cfg config.Config, def services.Pool) services.Pool {
	override, ok := cfg.Pools[def.Name]
	if !ok {
		return def
	}
	if override.Limit > 0 {
		def.Limit = override.Limit
	}
	if override.MaxAge > 0 {
		def.MaxAge = override.MaxAge
	}
	return def
}
