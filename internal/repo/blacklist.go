// Package repo – blacklist rows.
//
// State transitions (temporary → permanent upgrades, expiry-on-read) live in
// the blacklist service; this file is plain row access with the unique
// (name, kind) constraint doing the concurrency work.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
)

// InsertBlacklistEntry inserts a ban row. Returns ErrDuplicate when
// (name, kind) already exists.
func InsertBlacklistEntry(ctx context.Context, db *gorm.DB, name string, kind domain.ThingKind, start float64) error {
	rec := &domain.BlacklistEntry{Name: name, Kind: kind, Start: start}
	return mapInsertErr(db.WithContext(ctx).Create(rec).Error)
}

// GetBlacklistEntry fetches the row for (name, kind) or ErrNotFound.
func GetBlacklistEntry(ctx context.Context, db *gorm.DB, name string, kind domain.ThingKind) (*domain.BlacklistEntry, error) {
	var rec domain.BlacklistEntry
	err := db.WithContext(ctx).
		Where("name = ? AND kind = ?", name, kind).
		First(&rec).Error
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return &rec, nil
}

// UpdateBlacklistStart persists a new Start value for an existing row
// (temporary → permanent upgrade flips it to the sentinel).
func UpdateBlacklistStart(ctx context.Context, db *gorm.DB, rec *domain.BlacklistEntry) error {
	return db.WithContext(ctx).Model(rec).Update("start", rec.Start).Error
}

// DeleteBlacklistEntry removes the row for (name, kind). Deleting a missing
// row is not an error.
func DeleteBlacklistEntry(ctx context.Context, db *gorm.DB, name string, kind domain.ThingKind) error {
	return db.WithContext(ctx).
		Where("name = ? AND kind = ?", name, kind).
		Delete(&domain.BlacklistEntry{}).Error
}

// ListBlacklistEntries returns every ban row, permanent first then by name.
func ListBlacklistEntries(ctx context.Context, db *gorm.DB) ([]domain.BlacklistEntry, error) {
	var recs []domain.BlacklistEntry
	err := db.WithContext(ctx).
		Order("start ASC, name ASC").
		Find(&recs).Error
	return recs, err
}
