// Package repo – dedup records.
//
// Two stores back the at-most-once guarantees: seen_things (stream items
// observed, keyed by fullname) and reply_history (replies posted, keyed by
// the compound (submission_id, ig_user)). Both rely on unique indexes so
// racing worker processes collapse into one winner and one ErrDuplicate.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
)

// InsertSeenThing records that a stream item was observed. Returns
// ErrDuplicate if the fullname was already recorded.
func InsertSeenThing(ctx context.Context, db *gorm.DB, fullname, submission, author string) error {
	rec := &domain.SeenThing{
		ID:         uuid.NewString(),
		Fullname:   fullname,
		Submission: submission,
		Author:     author,
		SeenAt:     time.Now().UTC(),
	}
	return mapInsertErr(db.WithContext(ctx).Create(rec).Error)
}

// HasSeenThing reports whether fullname was already recorded.
func HasSeenThing(ctx context.Context, db *gorm.DB, fullname string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.SeenThing{}).
		Where("fullname = ?", fullname).
		Count(&n).Error
	return n > 0, err
}

// InsertReplyRecord records a posted reply. Returns ErrDuplicate if the
// (submission, ig_user) pair already exists — the second poster lost the
// race and must treat the reply as already satisfied.
func InsertReplyRecord(ctx context.Context, db *gorm.DB, submissionID, igUser, commentID string) error {
	rec := &domain.ReplyRecord{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		IGUser:       igUser,
		CommentID:    commentID,
		RepliedAt:    time.Now().UTC(),
	}
	return mapInsertErr(db.WithContext(ctx).Create(rec).Error)
}

// HasReplyRecord reports whether a reply for (submission, ig_user) exists.
func HasReplyRecord(ctx context.Context, db *gorm.DB, submissionID, igUser string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ReplyRecord{}).
		Where("submission_id = ? AND ig_user = ?", submissionID, igUser).
		Count(&n).Error
	return n > 0, err
}

// CountRepliesInSubmission returns how many replies the bot has posted in a
// submission, used by the per-thread reply cap.
func CountRepliesInSubmission(ctx context.Context, db *gorm.DB, submissionID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.ReplyRecord{}).
		Where("submission_id = ?", submissionID).
		Count(&n).Error
	return n, err
}
