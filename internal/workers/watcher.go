package workers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/backoff"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/metrics"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/services"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/sharedflag"
)

// StreamWatcher pulls things from one reddit stream, runs them through the
// dedup and blacklist gates, and enqueues replyable things. Username
// extraction is a collaborator concern injected as Extract.
type StreamWatcher struct {
	Client     reddit.Client
	Kind       reddit.StreamKind
	Dedup      *services.DedupService
	Blacklist  *services.BlacklistService
	ReplyQueue *services.WorkQueue
	Ledger     *services.Ledger
	Flag       *sharedflag.Flag
	Extract    func(*reddit.Thing) []string

	// PollInterval is the idle sleep when the stream is drained.
	PollInterval time.Duration
	// Limiter paces stream polls process-locally, on top of the shared
	// ledger accounting.
	Limiter *rate.Limiter
	Backoff *backoff.Exponential
	Log     zerolog.Logger
}

func (w *StreamWatcher) Name() string { return "watcher_" + string(w.Kind) }

func (w *StreamWatcher) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		if err := w.Flag.Wait(ctx); err != nil {
			return
		}
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return
			}
		}

		thing, err := w.Client.StreamNext(ctx, w.Kind)
		w.Ledger.RecordHit(ctx, string(w.Kind), "GET")

		var rl *reddit.RateLimitedError
		switch {
		case errors.As(err, &rl):
			metrics.RateLimitEvents.Inc()
			w.raiseFlag(rl.RetryAfter)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			attempt++
			w.Log.Debug().Err(err).Int("attempt", attempt).Msg("stream error, backing off")
			if w.Backoff.Sleep(ctx, attempt) != nil {
				return
			}
			continue
		}
		attempt = 0

		if thing == nil {
			if sleepCtx(ctx, w.PollInterval) != nil {
				return
			}
			continue
		}

		metrics.StreamItems.WithLabelValues(string(w.Kind)).Inc()
		w.handle(ctx, thing)
	}
}

// handle runs one thing through the gates. Seen-state is recorded before
// any side effect so a crash cannot cause reprocessing into a double post.
func (w *StreamWatcher) handle(ctx context.Context, thing *reddit.Thing) {
	seen, err := w.Dedup.HasSeen(ctx, thing.Fullname)
	if err != nil {
		w.Log.Warn().Err(err).Str("fullname", thing.Fullname).Msg("seen lookup failed")
		return
	}
	if seen {
		return
	}

	err = w.Dedup.RecordSeen(ctx, thing.Fullname, thing.SubmissionID, thing.Author)
	if errors.Is(err, services.ErrAlreadyRecorded) {
		// Another watcher process got there first.
		w.Log.Debug().Str("fullname", thing.Fullname).Msg("lost seen race")
		return
	}
	if err != nil {
		w.Log.Warn().Err(err).Str("fullname", thing.Fullname).Msg("record seen failed")
		return
	}

	name, banned, err := w.Blacklist.IsBlacklisted(ctx, thing)
	if err != nil {
		w.Log.Warn().Err(err).Msg("blacklist lookup failed")
		return
	}
	if banned {
		metrics.RepliesSkipped.WithLabelValues("blacklisted").Inc()
		w.Log.Debug().Str("blacklisted", name).Str("fullname", thing.Fullname).Msg("skipping blacklisted thing")
		return
	}

	users := w.Extract(thing)
	if len(users) == 0 {
		return
	}

	job := services.ReplyJob{Thing: *thing, IGUsers: users}
	if w.Kind == reddit.StreamMentions {
		job.MentionID = thing.Fullname
	}
	if err := w.ReplyQueue.Put(ctx, thing.Fullname, job); err != nil {
		w.Log.Warn().Err(err).Str("fullname", thing.Fullname).Msg("enqueue reply job failed")
		return
	}
	w.Log.Info().
		Str("fullname", thing.Fullname).
		Strs("ig_users", users).
		Msg("reply job enqueued")
}

func (w *StreamWatcher) raiseFlag(retryAfter time.Duration) {
	err := w.Flag.Set(time.Now().Add(retryAfter))
	if err != nil && !errors.Is(err, sharedflag.ErrAlreadySet) {
		w.Log.Warn().Err(err).Msg("set ratelimit flag failed")
	}
}
