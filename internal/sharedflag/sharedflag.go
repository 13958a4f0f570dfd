// Package sharedflag implements the cross-process "globally rate-limited"
// coordination primitive. The flag is a small JSON file: its presence means
// a cooldown is in flight, its contents say when it ends. Persisting it
// means a restart recovers the cooldown instead of hammering Reddit again.
//
// Exactly one worker (the rate-limit handler) clears the flag; any worker
// that sees a 429 sets it. Set is first-setter-wins via O_EXCL file
// creation — losers get ErrAlreadySet and wait like everyone else.
package sharedflag

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ErrAlreadySet indicates another worker set the flag first. Callers should
// fall through to Wait.
var ErrAlreadySet = errors.New("sharedflag: already set")

// pollGranularity bounds how long Wait can miss a clear before re-checking.
const pollGranularity = time.Second

// state is the persisted flag payload.
type state struct {
	ResetAt float64 `json:"reset_at"` // unix seconds; 0 means unknown
	SetBy   string  `json:"set_by,omitempty"`
}

// Flag is a handle to the shared cooldown flag. Construct one per worker
// (dependency-injected), all pointing at the same path.
type Flag struct {
	// Now is the clock; tests inject a virtual one.
	Now func() time.Time

	path string
	role string
	log  zerolog.Logger
}

// New returns a handle to the flag file at path. role names the worker in
// the persisted payload for debugging.
func New(path, role string, log zerolog.Logger) *Flag {
	return &Flag{
		Now:  time.Now,
		path: path,
		role: role,
		log:  log.With().Str("component", "sharedflag").Str("role", role).Logger(),
	}
}

// Set raises the flag with the given reset time. The first setter wins;
// concurrent setters get ErrAlreadySet and should Wait instead.
func (f *Flag) Set(resetAt time.Time) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	fd, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadySet
		}
		return err
	}
	defer fd.Close()

	payload := state{SetBy: f.role}
	if !resetAt.IsZero() {
		payload.ResetAt = float64(resetAt.UnixNano()) / float64(time.Second)
	}
	if err := json.NewEncoder(fd).Encode(&payload); err != nil {
		return err
	}
	f.log.Info().Time("reset_at", resetAt).Msg("global ratelimit flag set")
	return nil
}

// IsSet reports whether a cooldown is in flight and, if known, when it ends.
// A corrupt flag file still counts as set (zero reset time): better to wait
// out a default cooldown than to ignore one.
func (f *Flag) IsSet() (bool, time.Time) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return false, time.Time{}
	}
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		f.log.Warn().Err(err).Msg("unreadable flag payload")
		return true, time.Time{}
	}
	if s.ResetAt == 0 {
		return true, time.Time{}
	}
	return true, time.Unix(0, int64(s.ResetAt*float64(time.Second)))
}

// Clear lowers the flag. Only the rate-limit handler calls this, after
// sleeping out the reset time. Clearing an unset flag is a no-op.
func (f *Flag) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil {
		f.log.Info().Msg("global ratelimit flag cleared")
	}
	return nil
}

// Wait blocks until the flag is cleared or ctx is done. Workers call this
// before touching the Reddit API while a cooldown is in flight.
func (f *Flag) Wait(ctx context.Context) error {
	set, _ := f.IsSet()
	if !set {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(f.path)); err != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}

	for {
		if set, _ := f.IsSet(); !set {
			return nil
		}
		if watcher == nil {
			if err := sleepCtx(ctx, pollGranularity); err != nil {
				return err
			}
			continue
		}
		t := time.NewTimer(pollGranularity)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		case ev := <-watcher.Events:
			t.Stop()
			if ev.Name != f.path || !ev.Op.Has(fsnotify.Remove|fsnotify.Rename) {
				continue
			}
		case <-watcher.Errors:
			t.Stop()
		}
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
