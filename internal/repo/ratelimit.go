// Package repo – rate-limit ledger rows.
//
// One logical ledger per external quota pool (reddit, instagram, the three
// imgur windows, gfycat). Hits are appended on every accounted request and
// removed only by age-based pruning, which happens lazily on every read and
// write so no background sweep is needed.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
)

// InsertHit appends a hit for pool at the given unix-seconds timestamp.
func InsertHit(ctx context.Context, db *gorm.DB, pool, url, method string, ts float64) error {
	hit := &domain.Hit{
		ID:        uuid.NewString(),
		Pool:      pool,
		URL:       url,
		Method:    method,
		Timestamp: ts,
	}
	return db.WithContext(ctx).Create(hit).Error
}

// PruneHits deletes every hit of pool older than cutoff (timestamp <= cutoff)
// and returns the number removed.
func PruneHits(ctx context.Context, db *gorm.DB, pool string, cutoff float64) (int64, error) {
	res := db.WithContext(ctx).
		Where("pool = ? AND timestamp <= ?", pool, cutoff).
		Delete(&domain.Hit{})
	return res.RowsAffected, res.Error
}

// CountHits returns the number of resident hits for pool.
func CountHits(ctx context.Context, db *gorm.DB, pool string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Hit{}).
		Where("pool = ?", pool).
		Count(&n).Error
	return n, err
}

// OldestHit returns the resident hit with the smallest timestamp for pool,
// or ErrNotFound if the pool is empty. Ascending order is the
// soonest-available-slot policy: the oldest hit is the next one to expire.
func OldestHit(ctx context.Context, db *gorm.DB, pool string) (*domain.Hit, error) {
	var hit domain.Hit
	err := db.WithContext(ctx).
		Where("pool = ?", pool).
		Order("timestamp ASC").
		First(&hit).Error
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return &hit, nil
}

// UnixSeconds converts t to the fractional unix-seconds representation the
// ledger stores.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
