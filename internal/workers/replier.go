package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/media"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/metrics"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/services"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/sharedflag"
)

// getTimeout bounds each blocking queue read so stop requests are observed
// promptly.
const getTimeout = time.Second

// deferredRetry is how long a media fetch deferred by the source waits
// before its next attempt.
const deferredRetry = 10 * time.Minute

// Replier drains the reply queue: fetches each detected user's top media
// (gated by the media rate-limit ledgers), posts one reply per user, and
// records the reply for at-most-once semantics. Reddit 429s move the
// formatted reply onto the retry queue and raise the shared flag.
type Replier struct {
	Client reddit.Client
	Media  media.Client
	DB     *gorm.DB

	Dedup     *services.DedupService
	Blacklist *services.BlacklistService

	ReplyQueue *services.WorkQueue
	FetchQueue *services.WorkQueue
	RetryQueue *services.WorkQueue

	RedditLedger *services.Ledger
	MediaLedgers *services.LedgerSet

	Flag *sharedflag.Flag

	// MaxRepliesPerThread caps bot comments per submission; 0 disables.
	MaxRepliesPerThread int
	// Format renders a reply body from a media list. Injected because
	// presentation is not this worker's concern.
	Format func(*media.MediaList) string

	Now func() time.Time
	Log zerolog.Logger
}

func (r *Replier) Name() string { return "replier" }

func (r *Replier) Run(ctx context.Context) {
	for ctx.Err() == nil {
		// Deferred fetches first; their ready times predate fresh work.
		if entry, err := r.FetchQueue.Get(ctx, false, 0); err == nil {
			r.processFetch(ctx, entry)
			continue
		} else if !errors.Is(err, services.ErrQueueEmpty) {
			r.Log.Warn().Err(err).Msg("fetch queue read failed")
		}

		entry, err := r.ReplyQueue.Get(ctx, true, getTimeout)
		if errors.Is(err, services.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.Log.Warn().Err(err).Msg("reply queue read failed")
			_ = sleepCtx(ctx, getTimeout)
			continue
		}
		r.process(ctx, entry)
	}
}

var tracer = otel.Tracer("github.com/lv10wizard/ig-highlights-bot-sub000/internal/workers")

func (r *Replier) process(ctx context.Context, entry *services.Entry) {
	ctx, span := tracer.Start(ctx, "reply.process",
		trace.WithAttributes(attribute.String("queue.key", entry.Key)))
	defer span.End()

	var job services.ReplyJob
	if err := entry.Decode(&job); err != nil {
		metrics.RepliesSkipped.WithLabelValues("unparseable").Inc()
		r.Log.Warn().Err(err).Str("key", entry.Key).Msg("dropping unparseable reply job")
		r.deleteEntry(ctx, r.ReplyQueue, entry.Key)
		return
	}

	name, banned, err := r.Blacklist.IsBlacklisted(ctx, &job.Thing)
	if err != nil {
		r.Log.Warn().Err(err).Msg("blacklist lookup failed")
	}
	if banned {
		// Blacklisted since enqueue.
		metrics.RepliesSkipped.WithLabelValues("blacklisted").Inc()
		r.Log.Debug().Str("blacklisted", name).Msg("dropping reply job")
		r.deleteEntry(ctx, r.ReplyQueue, entry.Key)
		return
	}

	for _, user := range job.IGUsers {
		if ctx.Err() != nil {
			return
		}
		r.replyOne(ctx, &job.Thing, user)
	}
	r.deleteEntry(ctx, r.ReplyQueue, entry.Key)
}

// replyOne handles a single (thing, ig user) pair end to end. Failures are
// terminal for the pair unless explicitly deferred.
func (r *Replier) replyOne(ctx context.Context, thing *reddit.Thing, user string) {
	replied, err := r.Dedup.HasReplied(ctx, thing.SubmissionID, user)
	if err != nil {
		r.Log.Warn().Err(err).Msg("reply dedup lookup failed")
		return
	}
	if replied {
		metrics.RepliesSkipped.WithLabelValues("duplicate").Inc()
		return
	}

	if r.MaxRepliesPerThread > 0 {
		count, err := r.Dedup.RepliesInSubmission(ctx, thing.SubmissionID)
		if err != nil {
			r.Log.Warn().Err(err).Msg("thread reply count failed")
		} else if count >= int64(r.MaxRepliesPerThread) {
			metrics.RepliesSkipped.WithLabelValues("thread_cap").Inc()
			r.Log.Debug().
				Str("submission", thing.SubmissionID).
				Int64("count", count).
				Msg("thread reply cap reached")
			return
		}
	}

	list, outcome := r.fetchMedia(ctx, thing, user)
	if outcome != fetchOK {
		return
	}
	r.deliver(ctx, thing, user, r.Format(list))
}

type fetchOutcome int

const (
	fetchOK fetchOutcome = iota
	fetchSkip
	fetchDeferred
)

// fetchMedia fetches the user's top media. A blocked ledger or a deferred
// source result parks the pair on the fetch queue instead of stalling the
// reply loop.
func (r *Replier) fetchMedia(ctx context.Context, thing *reddit.Thing, user string) (*media.MediaList, fetchOutcome) {
	if wait := r.MediaLedgers.TimeUntilAvailable(ctx); wait > 0 {
		r.deferFetch(ctx, thing, user, wait)
		return nil, fetchDeferred
	}

	list, err := r.Media.FetchTopMedia(ctx, user)
	r.MediaLedgers.RecordHit(ctx, user, "GET")

	switch {
	case errors.Is(err, media.ErrPrivateAccount):
		metrics.MediaFetches.WithLabelValues("private").Inc()
		r.Log.Debug().Str("ig_user", user).Msg("private account, skipping")
		return nil, fetchSkip
	case errors.Is(err, media.ErrNonexistent):
		metrics.MediaFetches.WithLabelValues("nonexistent").Inc()
		r.Log.Debug().Str("ig_user", user).Msg("nonexistent user, skipping")
		return nil, fetchSkip
	case errors.Is(err, media.ErrDeferred):
		metrics.MediaFetches.WithLabelValues("deferred").Inc()
		r.deferFetch(ctx, thing, user, deferredRetry)
		return nil, fetchDeferred
	case err != nil:
		if ctx.Err() == nil {
			metrics.MediaFetches.WithLabelValues("error").Inc()
			r.Log.Warn().Err(err).Str("ig_user", user).Msg("media fetch failed")
		}
		return nil, fetchSkip
	}

	metrics.MediaFetches.WithLabelValues("ok").Inc()
	if len(list.Items) == 0 {
		r.Log.Debug().Str("ig_user", user).Msg("no media, skipping")
		return nil, fetchSkip
	}
	return list, fetchOK
}

func (r *Replier) deferFetch(ctx context.Context, thing *reddit.Thing, user string, wait time.Duration) {
	key := thing.Fullname + ":" + user
	readyAt := repo.UnixSeconds(r.now().Add(wait))
	job := services.FetchJob{IGUser: user, Thing: *thing}
	if err := r.FetchQueue.PutReadyAt(ctx, key, job, readyAt); err != nil {
		r.Log.Warn().Err(err).Str("key", key).Msg("defer fetch failed")
		return
	}
	r.Log.Debug().Str("key", key).Dur("wait", wait).Msg("media fetch deferred")
}

func (r *Replier) processFetch(ctx context.Context, entry *services.Entry) {
	var job services.FetchJob
	if err := entry.Decode(&job); err != nil {
		r.Log.Warn().Err(err).Str("key", entry.Key).Msg("dropping unparseable fetch job")
		r.deleteEntry(ctx, r.FetchQueue, entry.Key)
		return
	}

	replied, err := r.Dedup.HasReplied(ctx, job.Thing.SubmissionID, job.IGUser)
	if err == nil && replied {
		r.deleteEntry(ctx, r.FetchQueue, entry.Key)
		return
	}

	list, outcome := r.fetchMedia(ctx, &job.Thing, job.IGUser)
	switch outcome {
	case fetchDeferred:
		// Re-put under the same key refreshed the row; leave it resident.
		return
	case fetchSkip:
		if ctx.Err() == nil {
			r.deleteEntry(ctx, r.FetchQueue, entry.Key)
		}
		return
	}
	r.deliver(ctx, &job.Thing, job.IGUser, r.Format(list))
	r.deleteEntry(ctx, r.FetchQueue, entry.Key)
}

// deliver posts the reply and records it. A 429 raises the shared flag and
// parks the formatted body on the retry queue for the rate-limit handler.
func (r *Replier) deliver(ctx context.Context, thing *reddit.Thing, user, body string) {
	if err := r.Flag.Wait(ctx); err != nil {
		return
	}

	posted, err := r.Client.DoReply(ctx, thing, body)
	r.RedditLedger.RecordHit(ctx, thing.Fullname, "POST")

	var rl *reddit.RateLimitedError
	if errors.As(err, &rl) {
		metrics.RateLimitEvents.Inc()
		resetAt := r.now().Add(rl.RetryAfter)
		if ferr := r.Flag.Set(resetAt); ferr != nil && !errors.Is(ferr, sharedflag.ErrAlreadySet) {
			r.Log.Warn().Err(ferr).Msg("set ratelimit flag failed")
		}
		retry := services.RetryJob{
			Thing:   *thing,
			IGUser:  user,
			Body:    body,
			ResetAt: repo.UnixSeconds(resetAt),
		}
		key := thing.Fullname + ":" + user
		if qerr := r.RetryQueue.PutReadyAt(ctx, key, retry, retry.ResetAt); qerr != nil {
			r.Log.Error().Err(qerr).Str("key", key).Msg("park ratelimited reply failed")
			return
		}
		r.Log.Info().Str("key", key).Time("reset_at", resetAt).Msg("reply ratelimited, parked for retry")
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			metrics.RepliesSkipped.WithLabelValues("error").Inc()
			r.Log.Warn().Err(err).Str("fullname", thing.Fullname).Msg("reply failed")
		}
		return
	}
	if !posted {
		// Thing deleted or locked meanwhile: dropped, nothing to record.
		metrics.RepliesSkipped.WithLabelValues("dropped").Inc()
		r.Log.Debug().Str("fullname", thing.Fullname).Msg("reply dropped")
		return
	}

	recordReply(ctx, r.DB, r.Dedup, thing, user, r.Log)
}

func (r *Replier) deleteEntry(ctx context.Context, q *services.WorkQueue, key string) {
	if err := q.Delete(ctx, key); err != nil {
		r.Log.Warn().Err(err).Str("key", key).Msg("queue delete failed")
	}
}

func (r *Replier) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// recordReply persists the at-most-once reply record. A duplicate means
// another process beat us to it; the reply is treated as satisfied.
func recordReply(ctx context.Context, db *gorm.DB, dedup *services.DedupService, thing *reddit.Thing, user string, log zerolog.Logger) {
	err := repo.WithTx(ctx, db, func(tx *gorm.DB) error {
		return dedup.RecordReply(ctx, tx, thing.SubmissionID, user, thing.Fullname)
	})
	if errors.Is(err, services.ErrAlreadyRecorded) {
		log.Debug().
			Str("submission", thing.SubmissionID).
			Str("ig_user", user).
			Msg("reply already recorded elsewhere")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("record reply failed")
		return
	}
	metrics.RepliesSent.Inc()
	log.Info().
		Str("submission", thing.SubmissionID).
		Str("ig_user", user).
		Msg("reply posted")
}

// DefaultFormat is the stock reply body renderer.
func DefaultFormat(list *media.MediaList) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Top media for @%s:\n\n", list.User)
	for i, item := range list.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.URL)
	}
	return b.String()
}
