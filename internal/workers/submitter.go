package workers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/backoff"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/metrics"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/reddit"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/services"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/sharedflag"
)

// Submitter drains the submission queue and posts link submissions. Failed
// submits stay resident and are retried on the next pass with backoff.
type Submitter struct {
	Client reddit.Client
	Queue  *services.WorkQueue

	RedditLedger *services.Ledger
	Flag         *sharedflag.Flag

	Backoff *backoff.Exponential
	Now     func() time.Time
	Log     zerolog.Logger
}

func (s *Submitter) Name() string { return "submitter" }

func (s *Submitter) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		entry, err := s.Queue.Get(ctx, true, getTimeout)
		if errors.Is(err, services.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.Log.Warn().Err(err).Msg("submission queue read failed")
			_ = sleepCtx(ctx, getTimeout)
			continue
		}

		if s.submit(ctx, entry) {
			attempt = 0
			continue
		}
		attempt++
		if s.Backoff.Sleep(ctx, attempt) != nil {
			return
		}
	}
}

// submit posts one queued submission. Returns false when the entry stays
// resident for retry.
func (s *Submitter) submit(ctx context.Context, entry *services.Entry) bool {
	var job services.SubmitJob
	if err := entry.Decode(&job); err != nil {
		s.Log.Warn().Err(err).Str("key", entry.Key).Msg("dropping unparseable submit job")
		s.deleteEntry(ctx, entry.Key)
		return true
	}

	banned, err := s.Client.IsBannedFrom(ctx, job.Subreddit)
	if err != nil {
		// Advisory only; a wrong answer just costs one rejected submit.
		s.Log.Warn().Err(err).Str("subreddit", job.Subreddit).Msg("ban check failed")
	} else if banned {
		s.Log.Info().Str("subreddit", job.Subreddit).Msg("banned from subreddit, dropping submission")
		s.deleteEntry(ctx, entry.Key)
		return true
	}

	if err := s.Flag.Wait(ctx); err != nil {
		return false
	}

	id, err := s.Client.DoSubmit(ctx, job.Subreddit, job.Title, job.URL)
	s.RedditLedger.RecordHit(ctx, job.Subreddit, "POST")

	var rl *reddit.RateLimitedError
	if errors.As(err, &rl) {
		metrics.RateLimitEvents.Inc()
		resetAt := s.now().Add(rl.RetryAfter)
		if ferr := s.Flag.Set(resetAt); ferr != nil && !errors.Is(ferr, sharedflag.ErrAlreadySet) {
			s.Log.Warn().Err(ferr).Msg("set ratelimit flag failed")
		}
		return false
	}
	if err != nil {
		if ctx.Err() == nil {
			s.Log.Warn().Err(err).Str("subreddit", job.Subreddit).Msg("submit failed, will retry")
		}
		return false
	}

	s.Log.Info().
		Str("subreddit", job.Subreddit).
		Str("id", id).
		Str("title", job.Title).
		Msg("submission posted")
	s.deleteEntry(ctx, entry.Key)
	return true
}

func (s *Submitter) deleteEntry(ctx context.Context, key string) {
	if err := s.Queue.Delete(ctx, key); err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("submission queue delete failed")
	}
}

func (s *Submitter) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
