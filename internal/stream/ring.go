package stream

import "sync"

// msgRing is a thread-safe fixed-capacity FIFO of recent data messages.
// When full, the oldest entry is evicted. The lifetime counter survives
// both eviction and Clear so buffer pressure stays observable.
type msgRing struct {
	mu       sync.Mutex
	buf      []Message
	head     int // read position
	count    int
	capacity int

	totalReceived int64
}

// newMsgRing creates a ring with the given capacity.
func newMsgRing(capacity int) *msgRing {
	if capacity < 1 {
		capacity = 1
	}
	return &msgRing{
		buf:      make([]Message, capacity),
		capacity: capacity,
	}
}

// Push appends a message, evicting the oldest if the ring is full.
func (r *msgRing) Push(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % r.capacity
	r.buf[tail] = msg
	if r.count == r.capacity {
		r.head = (r.head + 1) % r.capacity
	} else {
		r.count++
	}
	r.totalReceived++
}

// Recent returns up to limit of the most recent messages, oldest first.
func (r *msgRing) Recent(limit int) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.count
	if limit >= 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	// last n messages in arrival order
	start := (r.head + r.count - n) % r.capacity
	out := make([]Message, n)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}
	return out
}

// Clear drops all buffered messages. The lifetime counter is preserved.
func (r *msgRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero Message
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.count = 0
}

// Stats returns lifetime and retention counters.
func (r *msgRing) Stats() MessageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return MessageStats{
		TotalReceived:  r.totalReceived,
		Buffered:       r.count,
		BufferCapacity: r.capacity,
	}
}
