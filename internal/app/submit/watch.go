package submit

import (
	"context"
	"fmt"

	"github.com/MyFanss/MyFans-sub002/internal/app/domain/payment"
)

// Watch is a lazy, restartable view of one submission's status snapshots.
// It replays every snapshot recorded so far and then delivers new ones, one
// per state transition. The stream ends at a terminal state, at a surfaced
// transient failure, or when the pipeline is cancelled.
type Watch struct {
	coordinator *Coordinator
	hash        string
	id          int
	ch          chan payment.Snapshot
}

// newWatchLocked registers a watcher; c.mu must be held.
func (c *Coordinator) newWatchLocked(e *entry) *Watch {
	ch := make(chan payment.Snapshot, len(e.history)+32)
	for _, snap := range e.history {
		ch <- snap
	}

	id := e.nextID
	e.nextID++
	if e.running || !e.record.Status.Terminal() && e.record.Err == nil {
		e.watchers[id] = ch
	} else {
		// Nothing more will ever arrive; the replayed history is complete.
		close(ch)
	}

	return &Watch{
		coordinator: c,
		hash:        e.record.EnvelopeHash,
		id:          id,
		ch:          ch,
	}
}

// Watch re-attaches to an existing submission's stream. The second return
// value is false when no record exists for the hash.
func (c *Coordinator) Watch(hash string) (*Watch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	return c.newWatchLocked(e), true
}

// Updates returns the snapshot channel. It is closed when no further
// snapshots can arrive.
func (w *Watch) Updates() <-chan payment.Snapshot { return w.ch }

// Record returns the submission record as of now.
func (w *Watch) Record() payment.SubmissionRecord {
	record, _ := w.coordinator.Record(w.hash)
	return record
}

// Close detaches the watch without affecting the pipeline.
func (w *Watch) Close() {
	w.coordinator.mu.Lock()
	e, ok := w.coordinator.entries[w.hash]
	if ok {
		if ch, exists := e.watchers[w.id]; exists {
			close(ch)
			delete(e.watchers, w.id)
		}
	}
	w.coordinator.mu.Unlock()
}

// Await blocks until the watch's submission reaches a terminal state or a
// surfaced failure, and returns the final record. Intended for scripted and
// test use; interactive callers consume Updates incrementally instead.
func (w *Watch) Await(ctx context.Context) (payment.SubmissionRecord, error) {
	for {
		select {
		case <-ctx.Done():
			return w.Record(), ctx.Err()
		case snap, ok := <-w.ch:
			if !ok {
				record := w.Record()
				if record.Err != nil && !record.Status.Terminal() {
					return record, record.Err
				}
				return record, nil
			}
			if snap.State.Terminal() {
				// Drain continues via channel close; the record is final.
				record := w.Record()
				if snap.Err != nil && snap.State != payment.StatusConfirmed {
					return record, snap.Err
				}
				return record, nil
			}
			if snap.Err != nil && !snap.State.Terminal() {
				return w.Record(), snap.Err
			}
		}
	}
}

// AwaitTerminal is a convenience for callers holding only a hash.
func (c *Coordinator) AwaitTerminal(ctx context.Context, hash string) (payment.SubmissionRecord, error) {
	watch, ok := c.Watch(hash)
	if !ok {
		return payment.SubmissionRecord{}, fmt.Errorf("no submission record for hash %s", abbrev(hash))
	}
	defer watch.Close()
	return watch.Await(ctx)
}
