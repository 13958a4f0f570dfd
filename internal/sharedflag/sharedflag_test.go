package sharedflag

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newFlag(t *testing.T) (*Flag, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratelimit.flag")
	return New(path, "test", zerolog.Nop()), path
}

func TestFlag_FirstSetterWins(t *testing.T) {
	f, path := newFlag(t)
	reset := time.Now().Add(10 * time.Minute)

	if err := f.Set(reset); err != nil {
		t.Fatalf("first set: %v", err)
	}

	// A second setter — same path, different handle, as a second process
	// would have — detects "already set".
	other := New(path, "other", zerolog.Nop())
	if err := other.Set(time.Now().Add(time.Hour)); !errors.Is(err, ErrAlreadySet) {
		t.Fatalf("second set = %v, want ErrAlreadySet", err)
	}

	set, got := f.IsSet()
	if !set {
		t.Fatal("flag not set after Set")
	}
	if got.Sub(reset).Abs() > time.Millisecond {
		t.Fatalf("reset time = %v, want ≈ %v (first setter's value)", got, reset)
	}
}

func TestFlag_RestartRecoversCooldown(t *testing.T) {
	f, path := newFlag(t)
	reset := time.Now().Add(5 * time.Minute)
	if err := f.Set(reset); err != nil {
		t.Fatalf("set: %v", err)
	}

	// A fresh handle on the same path (process restart) sees the cooldown.
	restarted := New(path, "restarted", zerolog.Nop())
	set, got := restarted.IsSet()
	if !set {
		t.Fatal("restart forgot the in-flight cooldown")
	}
	if got.Sub(reset).Abs() > time.Millisecond {
		t.Fatalf("recovered reset time = %v, want ≈ %v", got, reset)
	}
}

func TestFlag_ClearIsIdempotent(t *testing.T) {
	f, _ := newFlag(t)
	if err := f.Set(time.Now()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if set, _ := f.IsSet(); set {
		t.Fatal("flag still set after clear")
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}

func TestFlag_WaitReturnsWhenCleared(t *testing.T) {
	f, _ := newFlag(t)
	if err := f.Set(time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("set: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Wait(ctx) }()

	time.Sleep(100 * time.Millisecond)
	if err := f.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(9 * time.Second):
		t.Fatal("Wait never observed the clear")
	}
}

func TestFlag_WaitOnUnsetFlagReturnsImmediately(t *testing.T) {
	f, _ := newFlag(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.Wait(ctx); err != nil {
		t.Fatalf("wait on unset flag: %v", err)
	}
}
