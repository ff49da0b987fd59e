package queue

import "sync"

// Bounded is a thread-safe fixed-capacity FIFO ring. When full, Push
// evicts the oldest item so the newest data is kept.
type Bounded[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	// Stats
	totalPushed  int64
	totalPopped  int64
	totalEvicted int64
}

// Stats contains queue statistics.
type Stats struct {
	Count        int
	Capacity     int
	TotalPushed  int64
	TotalPopped  int64
	TotalEvicted int64
}

// NewBounded creates a queue holding at most capacity items.
// A capacity below 1 creates a queue that retains nothing.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Bounded[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item. If the queue is full the oldest item is removed and
// returned with evicted=true. With zero capacity the pushed item itself is
// reported as evicted.
func (q *Bounded[T]) Push(item T) (dropped T, evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.totalPushed++

	if q.capacity == 0 {
		q.totalEvicted++
		return item, true
	}

	if q.count == q.capacity {
		dropped = q.buf[q.head]
		var zero T
		q.buf[q.head] = zero
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.totalEvicted++
		evicted = true
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++

	return dropped, evicted
}

// Peek returns the oldest item without removing it.
func (q *Bounded[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// Pop removes and returns the oldest item.
func (q *Bounded[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}

	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalPopped++

	return item, true
}

// PushFront puts item back at the head, ahead of everything queued. When
// the queue is full item would be the oldest entry, so it is dropped and
// false is returned.
func (q *Bounded[T]) PushFront(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.totalPushed++

	if q.count == q.capacity {
		q.totalEvicted++
		return false
	}

	q.head = (q.head - 1 + q.capacity) % q.capacity
	q.buf[q.head] = item
	q.count++

	return true
}

// Items returns a copy of the queued items, oldest first.
func (q *Bounded[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]T, q.count)
	for i := 0; i < q.count; i++ {
		result[i] = q.buf[(q.head+i)%q.capacity]
	}
	return result
}

// Clear drops every queued item.
func (q *Bounded[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for i := range q.buf {
		q.buf[i] = zero
	}
	q.head = 0
	q.tail = 0
	q.count = 0
}

// Len returns the current number of items.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Bounded[T]) Cap() int {
	return q.capacity
}

// Stats returns queue statistics.
func (q *Bounded[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:        q.count,
		Capacity:     q.capacity,
		TotalPushed:  q.totalPushed,
		TotalPopped:  q.totalPopped,
		TotalEvicted: q.totalEvicted,
	}
}
