package trace

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ardnew/partner64/bridge"
	"github.com/ardnew/partner64/pkg"
)

// DefaultBacklog is the number of records a Recorder queues before
// dropping.
const DefaultBacklog = 4096

// flushInterval bounds how long a partial batch waits before it is
// written.
const flushInterval = 250 * time.Millisecond

// maxBatch is the largest number of records written per transaction.
const maxBatch = 512

// Recorder writes engine records to a Store session.
type Recorder struct {
	store   *Store
	session int64
	ch      chan bridge.Record
	done    chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewRecorder starts a session on store. backlog <= 0 selects
// DefaultBacklog.
func NewRecorder(store *Store, transport, notes string, backlog int) (*Recorder, error) {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	id, err := store.StartSession(transport, notes)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		store:   store,
		session: id,
		ch:      make(chan bridge.Record, backlog),
		done:    make(chan struct{}),
	}, nil
}

// Session returns the session id.
func (r *Recorder) Session() int64 {
	return r.session
}

// Observe queues rec without blocking. Its signature matches
// bridge.Observer.
func (r *Recorder) Observe(rec bridge.Record) {
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
	}
}

var _ bridge.Observer = (*Recorder)(nil).Observe

// Run writes queued records until ctx is cancelled, then drains the queue
// and closes the session. It must be called once.
func (r *Recorder) Run(ctx context.Context) error {
	defer close(r.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]bridge.Record, 0, maxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.Insert(r.session, batch); err != nil {
			pkg.LogWarn(pkg.ComponentTrace, "trace write failed", "records", len(batch), "error", err)
			r.dropped.Add(uint64(len(batch)))
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case rec := <-r.ch:
					batch = append(batch, rec)
					if len(batch) == maxBatch {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			pkg.LogInfo(pkg.ComponentTrace, "trace session closed",
				"session", r.session,
				"written", r.written.Load(),
				"dropped", r.dropped.Load())
			return r.store.EndSession(r.session, r.dropped.Load())

		case rec := <-r.ch:
			batch = append(batch, rec)
			if len(batch) == maxBatch {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// Done is closed when Run returns.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Written returns the number of records stored.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Dropped returns the number of records lost to a full queue or a failed
// write.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}
