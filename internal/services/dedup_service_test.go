package services

import (
	"context"
	"errors"
	"testing"
)

func TestDedup_RecordSeenTwice(t *testing.T) {
	s := NewDedupService(newTestDB(t), testLogger())
	ctx := context.Background()

	if err := s.RecordSeen(ctx, "t4_m1", "t3_s1", "alice"); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := s.RecordSeen(ctx, "t4_m1", "t3_s1", "alice"); !errors.Is(err, ErrAlreadyRecorded) {
		t.Fatalf("second record = %v, want ErrAlreadyRecorded", err)
	}

	seen, err := s.HasSeen(ctx, "t4_m1")
	if err != nil || !seen {
		t.Fatalf("HasSeen = (%v, %v), want (true, nil)", seen, err)
	}
}

func TestDedup_RecordReplyCompoundKey(t *testing.T) {
	db := newTestDB(t)
	s := NewDedupService(db, testLogger())
	ctx := context.Background()

	if err := s.RecordReply(ctx, db, "t3_s1", "ig_user", "t1_c1"); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if err := s.RecordReply(ctx, db, "t3_s1", "ig_user", "t1_c2"); !errors.Is(err, ErrAlreadyRecorded) {
		t.Fatalf("duplicate reply = %v, want ErrAlreadyRecorded", err)
	}
	// Same user, different submission: allowed.
	if err := s.RecordReply(ctx, db, "t3_s2", "ig_user", "t1_c3"); err != nil {
		t.Fatalf("different submission: %v", err)
	}

	n, err := s.RepliesInSubmission(ctx, "t3_s1")
	if err != nil || n != 1 {
		t.Fatalf("RepliesInSubmission = (%d, %v), want (1, nil)", n, err)
	}
}
