package queue

import (
	"context"
	"sync"

	"github.com/ardnew/partner64/pkg"
)

// MinCapacity is the smallest permitted queue capacity. It matches the
// full-speed bulk max packet size so one USB packet always fits.
const MinCapacity = 64

// DefaultCapacity is the capacity used when none is configured.
const DefaultCapacity = 4096

// Queue is a bounded, lock-protected FIFO of bytes.
type Queue struct {
	mutex sync.Mutex
	buf   []byte
	head  int
	count int

	closed    bool
	highWater int
	epoch     uint64 // Incremented by Reset

	readable chan struct{}
	writable chan struct{}
	done     chan struct{}
}

// New creates a queue holding up to capacity bytes.
// Capacities below MinCapacity are raised to MinCapacity.
func New(capacity int) *Queue {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Queue{
		buf:      make([]byte, capacity),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Cap returns the fixed capacity of the queue.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Len returns the number of buffered bytes.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.count
}

// Free returns the number of bytes that can be pushed without blocking.
func (q *Queue) Free() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.buf) - q.count
}

// HighWater returns the largest length the queue has reached since creation.
func (q *Queue) HighWater() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.highWater
}

// Readable returns a channel signalled when bytes may be available.
func (q *Queue) Readable() <-chan struct{} {
	return q.readable
}

// Writable returns a channel signalled when space may be available.
func (q *Queue) Writable() <-chan struct{} {
	return q.writable
}

// Done returns a channel closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.closed
}

// TryPush appends b if space is available and reports whether it did.
func (q *Queue) TryPush(b byte) bool {
	var one [1]byte
	one[0] = b
	return q.Write(one[:]) == 1
}

// TryPop removes the oldest byte if one is available.
func (q *Queue) TryPop() (byte, bool) {
	var one [1]byte
	if q.Read(one[:]) == 0 {
		return 0, false
	}
	return one[0], true
}

// Write appends as many bytes of p as fit without blocking and returns the
// number appended. Nothing is appended once the queue is closed.
func (q *Queue) Write(p []byte) int {
	n, _ := q.write(p, nil)
	return n
}

// write appends what fits of p. With a non-nil epoch nothing is appended
// and pkg.ErrReset is returned if the queue was reset since *epoch was read.
func (q *Queue) write(p []byte, epoch *uint64) (int, error) {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return 0, nil
	}
	if epoch != nil && *epoch != q.epoch {
		q.mutex.Unlock()
		return 0, pkg.ErrReset
	}
	n := len(q.buf) - q.count
	if n > len(p) {
		n = len(p)
	}
	tail := (q.head + q.count) % len(q.buf)
	for i := 0; i < n; i++ {
		q.buf[tail] = p[i]
		tail++
		if tail == len(q.buf) {
			tail = 0
		}
	}
	q.count += n
	if q.count > q.highWater {
		q.highWater = q.count
	}
	q.mutex.Unlock()

	if n > 0 {
		signal(q.readable)
	}
	return n, nil
}

// Read removes up to len(p) of the oldest bytes into p without blocking and
// returns the number removed.
func (q *Queue) Read(p []byte) int {
	q.mutex.Lock()
	n := q.count
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = q.buf[q.head]
		q.head++
		if q.head == len(q.buf) {
			q.head = 0
		}
	}
	q.count -= n
	remaining := q.count
	q.mutex.Unlock()

	if n > 0 {
		signal(q.writable)
	}
	if remaining > 0 && n > 0 {
		// Notifications coalesce; keep a second consumer from parking on
		// bytes that are still buffered.
		signal(q.readable)
	}
	return n
}

// Push appends b, blocking while the queue is full. It fails with
// [pkg.ErrReset] if the queue is reset first.
func (q *Queue) Push(ctx context.Context, b byte) error {
	one := [1]byte{b}
	return q.PushAll(ctx, one[:])
}

// PushAll appends every byte of p in order, blocking whenever the queue is
// full. On error the bytes already appended remain queued. A Reset while
// PushAll is under way discards the rest of p and PushAll fails with
// [pkg.ErrReset].
func (q *Queue) PushAll(ctx context.Context, p []byte) error {
	q.mutex.Lock()
	epoch := q.epoch
	q.mutex.Unlock()

	for len(p) > 0 {
		n, err := q.write(p, &epoch)
		if err != nil {
			return err
		}
		p = p[n:]
		if len(p) == 0 {
			return nil
		}
		if err := q.waitWritable(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Pop removes the oldest byte, blocking while the queue is empty.
// A closed queue is drained before Pop reports [pkg.ErrClosed].
func (q *Queue) Pop(ctx context.Context) (byte, error) {
	for {
		if b, ok := q.TryPop(); ok {
			return b, nil
		}
		if err := q.waitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadAvailable blocks until at least one byte is buffered, then removes up
// to len(p) bytes into p.
func (q *Queue) ReadAvailable(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if n := q.Read(p); n > 0 {
			return n, nil
		}
		if err := q.waitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// Reset discards every buffered byte and returns how many were dropped.
// Pushes in progress are abandoned: blocked producers wake and fail with
// [pkg.ErrReset].
func (q *Queue) Reset() int {
	q.mutex.Lock()
	n := q.count
	q.head = 0
	q.count = 0
	q.epoch++
	q.mutex.Unlock()

	if n > 0 {
		pkg.LogDebug(pkg.ComponentQueue, "queue reset", "discarded", n)
	}
	signal(q.writable)
	return n
}

// Close marks the queue closed. Pending and future pushes fail with
// [pkg.ErrClosed]; pops drain what remains and then fail the same way.
func (q *Queue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) waitWritable(ctx context.Context) error {
	q.mutex.Lock()
	closed := q.closed
	full := q.count == len(q.buf)
	q.mutex.Unlock()
	if closed {
		return pkg.ErrClosed
	}
	if !full {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return pkg.ErrClosed
	case <-q.writable:
		return nil
	}
}

func (q *Queue) waitReadable(ctx context.Context) error {
	q.mutex.Lock()
	closed := q.closed
	empty := q.count == 0
	q.mutex.Unlock()
	if !empty {
		return nil
	}
	if closed {
		return pkg.ErrClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return nil
	case <-q.readable:
		return nil
	}
}

// signal performs a non-blocking send on a one-slot notification channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
