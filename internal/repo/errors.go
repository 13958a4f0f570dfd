// Package repo – shared error values and helpers.
//
// Inserts into tables with unique indexes distinguish "already present" from
// real storage failures: duplicate-key violations map to ErrDuplicate so
// callers can treat them as an expected, non-fatal condition.
package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate indicates a row with the same unique key already exists.
var ErrDuplicate = errors.New("duplicate")

// mapInsertErr converts driver-level unique violations to ErrDuplicate and
// passes everything else through.
func mapInsertErr(err error) error {
	if err == nil {
		return nil
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") {
		return ErrDuplicate
	}
	return err
}

// mapLookupErr converts gorm's record-not-found to ErrNotFound.
func mapLookupErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
