package workers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/metrics"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/services"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/sharedflag"
)

// defaultCooldown is slept when the flag file carries no usable reset time.
const defaultCooldown = time.Minute

// RateLimitHandler owns the shared flag's timer side: it sleeps out an
// in-flight cooldown, clears the flag, and replays replies parked on the
// retry queue. It is the only worker allowed to call Flag.Clear, and the
// orchestrator joins it last so parked replies are never orphaned.
type RateLimitHandler struct {
	Client reddit.Client
	DB     *gorm.DB

	Dedup      *services.DedupService
	RetryQueue *services.WorkQueue

	RedditLedger *services.Ledger
	Flag         *sharedflag.Flag

	Now func() time.Time
	Log zerolog.Logger
}

func (h *RateLimitHandler) Name() string { return "ratelimit_handler" }

func (h *RateLimitHandler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		// A raised flag (including one recovered from a previous run)
		// takes priority over queue work.
		if set, resetAt := h.Flag.IsSet(); set {
			if h.sleepUntil(ctx, resetAt) != nil {
				return
			}
			if err := h.Flag.Clear(); err != nil {
				h.Log.Error().Err(err).Msg("clear ratelimit flag failed")
			}
			continue
		}

		entry, err := h.RetryQueue.Get(ctx, true, getTimeout)
		if errors.Is(err, services.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.Log.Warn().Err(err).Msg("retry queue read failed")
			_ = sleepCtx(ctx, getTimeout)
			continue
		}
		h.replay(ctx, entry)
	}
}

func (h *RateLimitHandler) sleepUntil(ctx context.Context, resetAt time.Time) error {
	wait := defaultCooldown
	if !resetAt.IsZero() {
		wait = resetAt.Sub(h.now())
	}
	if wait <= 0 {
		return ctx.Err()
	}
	h.Log.Info().Dur("wait", wait).Msg("sleeping out reddit cooldown")
	return sleepCtx(ctx, wait)
}

func (h *RateLimitHandler) replay(ctx context.Context, entry *services.Entry) {
	var job services.RetryJob
	if err := entry.Decode(&job); err != nil {
		metrics.RepliesSkipped.WithLabelValues("unparseable").Inc()
		h.Log.Warn().Err(err).Str("key", entry.Key).Msg("dropping unparseable retry job")
		h.deleteEntry(ctx, entry.Key)
		return
	}

	// A crash between a posted replay and its ack leaves the entry
	// resident; the reply record is what keeps this pass from posting the
	// same reply twice.
	replied, err := h.Dedup.HasReplied(ctx, job.Thing.SubmissionID, job.IGUser)
	if err != nil {
		h.Log.Warn().Err(err).Str("key", entry.Key).Msg("reply dedup lookup failed")
		return
	}
	if replied {
		metrics.RepliesSkipped.WithLabelValues("duplicate").Inc()
		h.Log.Debug().Str("key", entry.Key).Msg("parked reply already recorded, dropping")
		h.deleteEntry(ctx, entry.Key)
		return
	}

	posted, err := h.Client.DoReply(ctx, &job.Thing, job.Body)
	h.RedditLedger.RecordHit(ctx, job.Thing.Fullname, "POST")

	var rl *reddit.RateLimitedError
	if errors.As(err, &rl) {
		// Still throttled: raise the flag again and push the ready time out.
		metrics.RateLimitEvents.Inc()
		resetAt := h.now().Add(rl.RetryAfter)
		if ferr := h.Flag.Set(resetAt); ferr != nil && !errors.Is(ferr, sharedflag.ErrAlreadySet) {
			h.Log.Warn().Err(ferr).Msg("set ratelimit flag failed")
		}
		job.ResetAt = repo.UnixSeconds(resetAt)
		if qerr := h.RetryQueue.PutReadyAt(ctx, entry.Key, job, job.ResetAt); qerr != nil {
			h.Log.Error().Err(qerr).Str("key", entry.Key).Msg("re-park ratelimited reply failed")
		}
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			metrics.RepliesSkipped.WithLabelValues("error").Inc()
			h.Log.Warn().Err(err).Str("key", entry.Key).Msg("replay failed, dropping")
			h.deleteEntry(ctx, entry.Key)
		}
		return
	}
	if !posted {
		metrics.RepliesSkipped.WithLabelValues("dropped").Inc()
		h.Log.Debug().Str("key", entry.Key).Msg("replay target gone, dropping")
		h.deleteEntry(ctx, entry.Key)
		return
	}

	h.commitReplay(ctx, entry.Key, &job)
}

// commitReplay records the replayed reply and acks the queue entry in one
// transaction, so a crash cannot leave a posted reply resident.
func (h *RateLimitHandler) commitReplay(ctx context.Context, key string, job *services.RetryJob) {
	err := repo.WithTx(ctx, h.DB, func(tx *gorm.DB) error {
		err := h.Dedup.RecordReply(ctx, tx, job.Thing.SubmissionID, job.IGUser, job.Thing.Fullname)
		if err != nil && !errors.Is(err, services.ErrAlreadyRecorded) {
			return err
		}
		return h.RetryQueue.DeleteTx(ctx, tx, key)
	})
	if err != nil {
		h.Log.Error().Err(err).Str("key", key).Msg("record replayed reply failed")
		return
	}
	metrics.RepliesSent.Inc()
	h.Log.Info().
		Str("submission", job.Thing.SubmissionID).
		Str("ig_user", job.IGUser).
		Msg("parked reply posted")
}

func (h *RateLimitHandler) deleteEntry(ctx context.Context, key string) {
	if err := h.RetryQueue.Delete(ctx, key); err != nil {
		h.Log.Warn().Err(err).Str("key", key).Msg("retry queue delete failed")
	}
}

func (h *RateLimitHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
