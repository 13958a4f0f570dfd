// Package services – persistent work queues.
//
// Two flavors share one table: strict oldest-first FIFO (reply and
// submission queues) and a ratelimit-aware variant ordered by ready-at (the
// Reddit-429 retry queue). Reads never remove; consumers ack with an
// explicit Delete after handling, so a crash between the two reprocesses the
// entry and the dedup layer absorbs it.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gorm.io/gorm"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/domain"
	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/repo"
)

// Queue names. One row namespace per logical queue.
const (
	QueueReply       = "reply"
	QueueSubmissions = "submissions"
	QueueIGFetch     = "ig_fetch"
	QueueRetry       = "ratelimit_retry"
)

// pollGranularity bounds how long a blocked Get can ignore ctx or a missed
// wake signal.
const pollGranularity = time.Second

// Entry is a queue read result: the identity key plus the decoded-on-demand
// payload.
type Entry struct {
	Key        string
	EnqueuedAt float64
	ReadyAt    float64
	payload    []byte
}

// Decode unmarshals the entry's payload into v.
func (e *Entry) Decode(v any) error {
	return msgpack.Unmarshal(e.payload, v)
}

// WorkQueue is one persistent queue. Safe for concurrent use from
// independent processes: residency is a unique (queue, key) row and the
// wake signal is a shared file.
type WorkQueue struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Name namespaces this queue's rows.
	Name string
	// Now is the clock; tests inject a virtual one.
	Now func() time.Time

	signal *wakeSignal
	log    zerolog.Logger
}

// NewWorkQueue constructs the queue. signalDir holds the cross-process wake
// files; pass "" to disable signaling (non-blocking consumers).
func NewWorkQueue(db *gorm.DB, name, signalDir string, log zerolog.Logger) *WorkQueue {
	var sig *wakeSignal
	if signalDir != "" {
		sig = newWakeSignal(signalDir, name)
	}
	return &WorkQueue{
		DB:     db,
		Name:   name,
		Now:    time.Now,
		signal: sig,
		log:    log.With().Str("component", "queue").Str("queue", name).Logger(),
	}
}

// Put enqueues (or refreshes) an item. Re-putting a resident key updates its
// payload and enqueued-at rather than duplicating, which is what makes
// retried handling safe. The payload is msgpack-encoded.
func (q *WorkQueue) Put(ctx context.Context, key string, payload any) error {
	return q.PutReadyAt(ctx, key, payload, 0)
}

// PutReadyAt enqueues an item that only becomes retriable at readyAt (unix
// seconds). FIFO queues pass 0.
func (q *WorkQueue) PutReadyAt(ctx context.Context, key string, payload any, readyAt float64) error {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return err
	}
	e := &domain.QueueEntry{
		Queue:      q.Name,
		Key:        key,
		EnqueuedAt: repo.UnixSeconds(q.Now()),
		ReadyAt:    readyAt,
		Payload:    raw,
	}
	if err := repo.UpsertQueueEntry(ctx, q.DB, e); err != nil {
		return err
	}
	if q.signal != nil {
		q.signal.Pulse()
	}
	return nil
}

// PeekOldest returns the oldest resident entry without removing it, or
// ErrQueueEmpty.
func (q *WorkQueue) PeekOldest(ctx context.Context) (*Entry, error) {
	e, err := repo.OldestQueueEntry(ctx, q.DB, q.Name)
	if repo.IsNotFound(err) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	return fromRow(e), nil
}

// Get returns the entry with the soonest ready-at. In blocking mode it
// waits — for an entry to arrive (woken by the cross-process signal) or for
// the earliest entry's ready-at to pass — up to timeout; non-blocking mode
// returns ErrQueueEmpty immediately instead. The entry is not removed.
func (q *WorkQueue) Get(ctx context.Context, block bool, timeout time.Duration) (*Entry, error) {
	deadline := q.Now().Add(timeout)
	for {
		e, err := repo.NextReadyQueueEntry(ctx, q.DB, q.Name)
		switch {
		case repo.IsNotFound(err):
			if !block {
				return nil, ErrQueueEmpty
			}
			if err := q.waitForWake(ctx, q.untilDeadline(deadline)); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			now := repo.UnixSeconds(q.Now())
			if e.ReadyAt <= now {
				return fromRow(e), nil
			}
			if !block {
				return nil, ErrQueueEmpty
			}
			// Sleep out the remainder in bounded slices so shutdown and
			// timeout stay responsive.
			remainder := time.Duration((e.ReadyAt - now) * float64(time.Second))
			if err := q.sleep(ctx, minDuration(remainder, q.untilDeadline(deadline))); err != nil {
				return nil, err
			}
		}
		if !q.Now().Before(deadline) {
			return nil, ErrQueueEmpty
		}
	}
}

// Delete acks (removes) the entry for key. Removing an already-acked key is
// a no-op: another consumer finished it first.
func (q *WorkQueue) Delete(ctx context.Context, key string) error {
	err := repo.DeleteQueueEntry(ctx, q.DB, q.Name, key)
	if repo.IsNotFound(err) {
		q.log.Debug().Str("key", key).Msg("entry already removed")
		return nil
	}
	return err
}

// DeleteTx is Delete running inside the caller's transaction, for pairing
// with a dedup-record insert.
func (q *WorkQueue) DeleteTx(ctx context.Context, tx *gorm.DB, key string) error {
	err := repo.DeleteQueueEntry(ctx, tx, q.Name, key)
	if repo.IsNotFound(err) {
		return nil
	}
	return err
}

// Len returns the number of resident entries.
func (q *WorkQueue) Len(ctx context.Context) (int64, error) {
	return repo.CountQueueEntries(ctx, q.DB, q.Name)
}

// waitForWake blocks until the wake signal pulses, the poll granularity
// elapses, or ctx is done.
func (q *WorkQueue) waitForWake(ctx context.Context, max time.Duration) error {
	wait := minDuration(max, pollGranularity)
	if wait <= 0 {
		return nil
	}
	if q.signal != nil {
		return q.signal.Wait(ctx, wait)
	}
	return q.sleep(ctx, wait)
}

// sleep is an interruptible sleep bounded by the poll granularity.
func (q *WorkQueue) sleep(ctx context.Context, d time.Duration) error {
	d = minDuration(d, pollGranularity)
	if d <= 0 {
		return nil
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

func (q *WorkQueue) untilDeadline(deadline time.Time) time.Duration {
	return deadline.Sub(q.Now())
}

func fromRow(e *domain.QueueEntry) *Entry {
	return &Entry{
		Key:        e.Key,
		EnqueuedAt: e.EnqueuedAt,
		ReadyAt:    e.ReadyAt,
		payload:    e.Payload,
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
