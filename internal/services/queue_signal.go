// Package services – cross-process queue wake signal.
//
// Blocking queue consumers in other processes cannot see an INSERT commit,
// so producers pulse a per-queue file and consumers watch it with fsnotify.
// The signal is advisory: waiters also wake on a bounded timeout, so a
// missed event costs at most one poll interval.
package services

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
)

// wakeSignal is a file-backed "has elements" pulse for one queue.
type wakeSignal struct {
	dir  string
	path string
}

func newWakeSignal(dir, queue string) *wakeSignal {
	return &wakeSignal{dir: dir, path: filepath.Join(dir, queue+".signal")}
}

// Pulse touches the signal file. Failures are ignored: waiters fall back to
// their poll timeout.
func (w *wakeSignal) Pulse() {
	_ = os.MkdirAll(w.dir, 0o755)
	_ = os.WriteFile(w.path, []byte(strconv.FormatInt(time.Now().UnixNano(), 10)), 0o644)
}

// Wait blocks until the signal file changes, timeout elapses, or ctx is
// done. A watcher setup failure degrades to a plain interruptible sleep.
func (w *wakeSignal) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sleepCtx(ctx, timeout)
	}
	defer watcher.Close()

	// Watch the directory: the file may not exist yet, and some editors of
	// the signal replace rather than write in place.
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return sleepCtx(ctx, timeout)
	}
	if err := watcher.Add(w.dir); err != nil {
		return sleepCtx(ctx, timeout)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return sleepCtx(ctx, timeout)
			}
			if ev.Name == w.path && ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				return nil
			}
		case <-watcher.Errors:
			// Watcher errors are non-fatal; keep waiting out the timeout.
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
