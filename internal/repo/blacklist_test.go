package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
)

func TestInsertBlacklistEntry_UniqueNameKind(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := InsertBlacklistEntry(ctx, db, "evil_user", domain.KindUser, 100); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := InsertBlacklistEntry(ctx, db, "evil_user", domain.KindUser, 200)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same name, different kind, is a distinct row.
	if err := InsertBlacklistEntry(ctx, db, "evil_user", domain.KindSubreddit, 100); err != nil {
		t.Fatalf("different kind should insert: %v", err)
	}
}

func TestUpdateBlacklistStart_PersistsSentinel(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := InsertBlacklistEntry(ctx, db, "spam_sub", domain.KindSubreddit, 100); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec, err := GetBlacklistEntry(ctx, db, "spam_sub", domain.KindSubreddit)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	rec.Start = domain.PermanentStart
	if err := UpdateBlacklistStart(ctx, db, rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := GetBlacklistEntry(ctx, db, "spam_sub", domain.KindSubreddit)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if !got.Permanent() {
		t.Fatalf("Start = %v, want permanent sentinel", got.Start)
	}
}

func TestDeleteBlacklistEntry_MissingIsNotAnError(t *testing.T) {
	db := newTestDB(t)
	if err := DeleteBlacklistEntry(context.Background(), db, "nobody", domain.KindUser); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}
