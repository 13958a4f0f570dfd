// Package services – dedup registry.
//
// Thin layer over the seen_things and reply_history stores. Duplicate
// inserts are an expected outcome of racing workers and restarts, so they
// surface as ErrAlreadyRecorded, which every caller logs at debug and treats
// as success.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
)

// DedupService records "already processed" facts.
type DedupService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	log zerolog.Logger
}

// NewDedupService constructs the registry.
func NewDedupService(db *gorm.DB, log zerolog.Logger) *DedupService {
	return &DedupService{DB: db, log: log.With().Str("component", "dedup").Logger()}
}

// HasSeen reports whether the stream item was already observed.
func (s *DedupService) HasSeen(ctx context.Context, fullname string) (bool, error) {
	return repo.HasSeenThing(ctx, s.DB, fullname)
}

// RecordSeen marks a stream item observed. Recording happens before any
// side-effecting action so a crash cannot cause reprocessing. Returns
// ErrAlreadyRecorded when another worker (or a previous run) got there
// first.
func (s *DedupService) RecordSeen(ctx context.Context, fullname, submission, author string) error {
	err := repo.InsertSeenThing(ctx, s.DB, fullname, submission, author)
	if errors.Is(err, repo.ErrDuplicate) {
		s.log.Debug().Str("fullname", fullname).Msg("already seen")
		return ErrAlreadyRecorded
	}
	return err
}

// HasReplied reports whether a reply for (submission, ig_user) was posted.
func (s *DedupService) HasReplied(ctx context.Context, submissionID, igUser string) (bool, error) {
	return repo.HasReplyRecord(ctx, s.DB, submissionID, igUser)
}

// RecordReply records a posted reply inside tx (the caller pairs it with the
// queue-entry delete). ErrAlreadyRecorded means the reply is already
// satisfied: log and move on, never double-post.
func (s *DedupService) RecordReply(ctx context.Context, tx *gorm.DB, submissionID, igUser, commentID string) error {
	err := repo.InsertReplyRecord(ctx, tx, submissionID, igUser, commentID)
	if errors.Is(err, repo.ErrDuplicate) {
		s.log.Debug().Str("submission", submissionID).Str("ig_user", igUser).
			Msg("reply already recorded")
		return ErrAlreadyRecorded
	}
	return err
}

// RepliesInSubmission returns how many replies the bot has posted in the
// submission. Cached bookkeeping stands in for the source's per-reply
// ancestor walk over the network.
func (s *DedupService) RepliesInSubmission(ctx context.Context, submissionID string) (int64, error) {
	return repo.CountRepliesInSubmission(ctx, s.DB, submissionID)
}
