package reconciler

import (
	"context"
	"errors"
	"sync"

	"github.com/bibsdb/bibselv/fbs"
)

const defaultQueueCapacity = 1024

// QueueDepthMetric is a gauge carrying the number of buffered entries.
const QueueDepthMetric = "fbs_reconciliation_queue_depth"

var (
	// ErrQueueFull occurs when the queue is at capacity. The durable record
	// of the entry exists regardless; a full queue only delays replay until
	// the records are recovered from the store.
	ErrQueueFull = errors.New("reconciliation queue is full")

	// ErrInvalidCapacity occurs when a queue is constructed with a
	// non-positive capacity.
	ErrInvalidCapacity = errors.New("queue capacity must be positive")
)

// Queue is a bounded in-memory FIFO of persisted offline entries,
// implementing fbs.ReconciliationQueue. It is safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	entries  []fbs.QueueEntry
	capacity int
	metrics  fbs.MetricsCollector
}

// QueueOption configures a Queue.
type QueueOption func(*Queue) error

// WithQueueCapacity sets the maximum number of buffered entries.
func WithQueueCapacity(capacity int) QueueOption {
	return func(q *Queue) error {
		if capacity <= 0 {
			return ErrInvalidCapacity
		}

		q.capacity = capacity

		return nil
	}
}

// WithQueueMetrics sets the metrics collector reporting the queue depth.
func WithQueueMetrics(collector fbs.MetricsCollector) QueueOption {
	return func(q *Queue) error {
		q.metrics = collector
		return nil
	}
}

// NewQueue creates an empty Queue.
func NewQueue(options ...QueueOption) (*Queue, error) {
	queue := &Queue{capacity: defaultQueueCapacity}

	for _, option := range options {
		if err := option(queue); err != nil {
			return nil, err
		}
	}

	return queue, nil
}

// Enqueue buffers one entry for replay.
func (q *Queue) Enqueue(_ context.Context, entry fbs.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		return ErrQueueFull
	}

	q.entries = append(q.entries, entry)
	q.recordDepth()

	return nil
}

// Dequeue removes and returns the oldest entry.
func (q *Queue) Dequeue() (fbs.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return fbs.QueueEntry{}, false
	}

	entry := q.entries[0]
	q.entries = q.entries[1:]
	q.recordDepth()

	return entry, true
}

// Requeue puts an entry back at the front of the queue, preserving replay
// order after a failed attempt. It ignores the capacity bound: the entry was
// already admitted once.
func (q *Queue) Requeue(entry fbs.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append([]fbs.QueueEntry{entry}, q.entries...)
	q.recordDepth()
}

// Len reports the number of buffered entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// recordDepth must be called with the lock held.
func (q *Queue) recordDepth() {
	if q.metrics != nil {
		q.metrics.RecordValue(QueueDepthMetric, float64(len(q.entries)), nil)
	}
}
