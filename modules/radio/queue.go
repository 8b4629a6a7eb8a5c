package radio

import (
	"context"
	"sync"
	"time"
)

// Chunk is a piece of encoded audio from one item. Data is never modified
// after the chunk is pushed.
type Chunk struct {
	Item  string
	Title string
	Data  []byte
}

// Queue is the bounded chunk buffer of a channel. Every Reader sees every
// chunk it keeps up with. The producer is paced by the fastest reader: a
// full queue only blocks Push while no reader has moved past the oldest
// chunk. Otherwise the oldest chunk is dropped and readers still waiting on
// it skip ahead. With no readers the queue simply fills up and Push waits.
type Queue struct {
	capacity int

	mu      sync.Mutex
	ring    []Chunk
	head    uint64 // sequence of the next chunk pushed
	tail    uint64 // sequence of the oldest retained chunk
	dropped uint64
	readers map[*Reader]struct{}
	changed chan struct{} // closed and replaced on every change
	closed  bool
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		ring:     make([]Chunk, capacity),
		readers:  map[*Reader]struct{}{},
		changed:  make(chan struct{}),
	}
}

func (q *Queue) Cap() int {
	return q.capacity
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.head - q.tail)
}

func (q *Queue) Readers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.readers)
}

// Dropped is the number of chunks lagging readers missed.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Push appends c, waiting while the queue is full and no reader is ahead of
// the oldest chunk.
func (q *Queue) Push(ctx context.Context, c Chunk) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			return err
		}
		if q.fullLocked() && q.leaderLocked() {
			q.dropOldestLocked()
		}
		if !q.fullLocked() {
			q.ring[q.head%uint64(q.capacity)] = c
			q.head++
			q.notifyLocked()
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Clear discards every buffered chunk and moves all readers to the head.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int(q.head - q.tail)
	q.releaseLocked(q.head)
	for r := range q.readers {
		r.next = q.head
	}
	q.notifyLocked()
	return n
}

// Close ends the queue. Pending and future calls return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.releaseLocked(q.head)
	q.notifyLocked()
}

// Subscribe adds a reader positioned at the oldest buffered chunk.
func (q *Queue) Subscribe() *Reader {
	q.mu.Lock()
	defer q.mu.Unlock()

	r := &Reader{q: q, next: q.tail}
	q.readers[r] = struct{}{}
	return r
}

func (q *Queue) fullLocked() bool {
	return q.head-q.tail >= uint64(q.capacity)
}

// leaderLocked reports whether any reader has consumed the oldest chunk.
func (q *Queue) leaderLocked() bool {
	for r := range q.readers {
		if r.next > q.tail {
			return true
		}
	}
	return false
}

// dropOldestLocked forgets the oldest chunk and moves the readers that had
// not read it yet past it.
func (q *Queue) dropOldestLocked() {
	lagging := false
	for r := range q.readers {
		if r.next == q.tail {
			r.next++
			lagging = true
		}
	}
	q.releaseLocked(q.tail + 1)
	if lagging {
		q.dropped++
	}
}

// advanceLocked moves the tail up to the slowest reader.
func (q *Queue) advanceLocked() {
	if len(q.readers) == 0 {
		return
	}
	slowest := q.head
	for r := range q.readers {
		if r.next < slowest {
			slowest = r.next
		}
	}
	if slowest > q.tail {
		q.releaseLocked(slowest)
		q.notifyLocked()
	}
}

// releaseLocked forgets every chunk before seq.
func (q *Queue) releaseLocked(seq uint64) {
	for ; q.tail < seq; q.tail++ {
		q.ring[q.tail%uint64(q.capacity)] = Chunk{}
	}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Reader is one listener's position in a Queue.
type Reader struct {
	q    *Queue
	next uint64
}

// Buffered is the number of chunks available to r.
func (r *Reader) Buffered() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return int(r.q.head - r.next)
}

// WaitBuffered blocks until n chunks are available to r or timeout elapses,
// and returns how many are available.
func (r *Reader) WaitBuffered(ctx context.Context, n int, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q := r.q
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrClosed
		}
		buffered := int(q.head - r.next)
		changed := q.changed
		q.mu.Unlock()

		if buffered >= n {
			return buffered, nil
		}

		select {
		case <-ctx.Done():
			return buffered, ctx.Err()
		case <-timer.C:
			return r.Buffered(), nil
		case <-changed:
		}
	}
}

// Next returns the next chunk for r, waiting for the producer if needed.
func (r *Reader) Next(ctx context.Context) (Chunk, error) {
	q := r.q
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Chunk{}, ErrClosed
		}
		if r.next < q.head {
			c := q.ring[r.next%uint64(q.capacity)]
			leaving := r.next == q.tail
			r.next++
			q.advanceLocked()
			if leaving {
				// A reader past the tail may unblock a full Push.
				q.notifyLocked()
			}
			q.mu.Unlock()
			return c, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		case <-changed:
		}
	}
}

// Close detaches r. Chunks r already read are released; the rest stay
// buffered for the next reader.
func (r *Reader) Close() {
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.readers[r]; !ok {
		return
	}
	delete(q.readers, r)

	if len(q.readers) == 0 {
		if r.next > q.tail {
			q.releaseLocked(r.next)
			q.notifyLocked()
		}
		return
	}
	q.advanceLocked()
}
