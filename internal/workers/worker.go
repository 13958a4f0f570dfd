// Package workers contains the bot's long-running loops: four stream
// watchers, the reply consumer, the rate-limit handler, and the submitter.
// Each loop is a Runner wrapped in a Worker that provides the lifecycle
// contract (Start, Stop, Join) and a per-role single-instance lock so two
// bot processes never run the same role concurrently.
package workers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// State is a worker's lifecycle state.
type State int32

const (
	Stopped State = iota
	Running
	StopRequested
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrAlreadyStarted = errors.New("workers: already started")
	ErrRoleLocked     = errors.New("workers: role lock held by another process")
)

// Runner is one worker loop. Run blocks until ctx is done; it must observe
// cancellation at every sleep point.
type Runner interface {
	Name() string
	Run(ctx context.Context)
}

// Worker wraps a Runner with lifecycle management and a cross-process role
// lock. Pass lockDir "" to skip locking (tests, embedded use).
type Worker struct {
	runner  Runner
	lockDir string
	log     zerolog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	lock   *flock.Flock
}

// NewWorker wraps runner. The role lock file lives at
// <lockDir>/<name>.lock.
func NewWorker(r Runner, lockDir string, log zerolog.Logger) *Worker {
	return &Worker{
		runner:  r,
		lockDir: lockDir,
		log:     log.With().Str("worker", r.Name()).Logger(),
	}
}

// Name returns the wrapped runner's role name.
func (w *Worker) Name() string { return w.runner.Name() }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start acquires the role lock and launches the runner in its own
// goroutine. A second Start while running returns ErrAlreadyStarted; a
// held lock in another process returns ErrRoleLocked.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Stopped {
		return ErrAlreadyStarted
	}

	if w.lockDir != "" {
		if err := os.MkdirAll(w.lockDir, 0o755); err != nil {
			return err
		}
		lock := flock.New(filepath.Join(w.lockDir, w.runner.Name()+".lock"))
		held, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire role lock: %w", err)
		}
		if !held {
			return ErrRoleLocked
		}
		w.lock = lock
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = Running
	w.log.Info().Msg("worker starting")

	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.log.Error().Interface("panic", r).Msg("worker panicked")
			}
			w.mu.Lock()
			w.state = Stopped
			if w.lock != nil {
				if err := w.lock.Unlock(); err != nil {
					w.log.Warn().Err(err).Msg("release role lock")
				}
				w.lock = nil
			}
			w.mu.Unlock()
			w.log.Info().Msg("worker stopped")
		}()
		w.runner.Run(runCtx)
	}()

	return nil
}

// Stop requests graceful termination, optionally waiting for exit.
func (w *Worker) Stop(blocking bool) {
	w.mu.Lock()
	if w.state != Running {
		w.mu.Unlock()
		if blocking {
			w.Join()
		}
		return
	}
	w.state = StopRequested
	cancel := w.cancel
	w.mu.Unlock()

	w.log.Debug().Msg("stop requested")
	cancel()
	if blocking {
		w.Join()
	}
}

// Join waits until the worker has exited. Joining a never-started worker
// returns immediately.
func (w *Worker) Join() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

// sleepCtx is an interruptible sleep shared by the worker loops.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
