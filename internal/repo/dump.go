// Package repo – debug/CLI table dumps.
package repo

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// dumpableTables maps CLI-facing table names to themselves; only the bot's
// own tables may be dumped so a caller-supplied name is never concatenated
// into SQL unchecked.
var dumpableTables = map[string]bool{
	"hits":          true,
	"blacklist":     true,
	"seen_things":   true,
	"reply_history": true,
	"queue_entries": true,
}

// DumpTable returns every row of the named table as generic maps, ordered by
// rowid for stable output. Unknown names return an error rather than being
// interpolated into the query.
func DumpTable(ctx context.Context, db *gorm.DB, table string) ([]map[string]any, error) {
	if !dumpableTables[table] {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	var rows []map[string]any
	err := db.WithContext(ctx).Table(table).Order("rowid ASC").Find(&rows).Error
	return rows, err
}

// TableNames returns the dumpable table names in no particular order.
func TableNames() []string {
	names := make([]string, 0, len(dumpableTables))
	for n := range dumpableTables {
		names = append(names, n)
	}
	return names
}

// WipeAll deletes every row of every bookkeeping table inside one
// transaction. Only the delete-all-data CLI calls this.
func WipeAll(ctx context.Context, db *gorm.DB) error {
	return WithTx(ctx, db, func(tx *gorm.DB) error {
		for table := range dumpableTables {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
