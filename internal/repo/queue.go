// Package repo – persistent work-queue rows.
//
// One table holds every queue; the Queue column namespaces them. Key is
// unique per queue while resident, which is what makes Put idempotent:
// a duplicate Put becomes an UPDATE of payload and timestamps, never a
// second row.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
)

// UpsertQueueEntry inserts the entry or, if (queue, key) is already
// resident, refreshes its payload, enqueued-at and ready-at.
func UpsertQueueEntry(ctx context.Context, db *gorm.DB, e *domain.QueueEntry) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"enqueued_at", "ready_at", "payload"}),
	}).Create(e).Error
}

// OldestQueueEntry returns the resident entry with the smallest enqueued-at
// (FIFO order) without removing it, or ErrNotFound if the queue is empty.
func OldestQueueEntry(ctx context.Context, db *gorm.DB, queue string) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).
		Where("queue = ?", queue).
		Order("enqueued_at ASC").
		First(&e).Error
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return &e, nil
}

// NextReadyQueueEntry returns the entry with the smallest ready-at,
// regardless of whether it is ready yet, or ErrNotFound if empty. The
// caller decides whether to sleep out the remainder.
func NextReadyQueueEntry(ctx context.Context, db *gorm.DB, queue string) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := db.WithContext(ctx).
		Where("queue = ?", queue).
		Order("ready_at ASC, enqueued_at ASC").
		First(&e).Error
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return &e, nil
}

// DeleteQueueEntry removes (queue, key). Returns ErrNotFound if nothing was
// resident — a second consumer already acked it.
func DeleteQueueEntry(ctx context.Context, db *gorm.DB, queue, key string) error {
	res := db.WithContext(ctx).
		Where("queue = ? AND key = ?", queue, key).
		Delete(&domain.QueueEntry{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountQueueEntries returns the number of resident entries in queue.
func CountQueueEntries(ctx context.Context, db *gorm.DB, queue string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.QueueEntry{}).
		Where("queue = ?", queue).
		Count(&n).Error
	return n, err
}

// IsNotFound reports whether err is the repo's not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
