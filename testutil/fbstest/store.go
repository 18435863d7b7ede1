package fbstest

import (
	"context"
	"sync"

	"github.com/bibsdb/bibselv/fbs"
)

// InMemoryStore is an fbs.AppendOnlyStore keeping appended payloads per file
// key. FailWith injects append failures.
type InMemoryStore struct {
	mu       sync.Mutex
	appends  map[string][][]byte
	order    []string
	FailWith error
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{appends: make(map[string][][]byte)}
}

func (s *InMemoryStore) Append(_ context.Context, fileKey string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	copied := make([]byte, len(payload))
	copy(copied, payload)

	s.appends[fileKey] = append(s.appends[fileKey], copied)
	s.order = append(s.order, fileKey)

	return nil
}

// Appends returns the payloads appended under the given file key, in order.
func (s *InMemoryStore) Appends(fileKey string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appends[fileKey]
}

// AppendCount returns the total number of appends across all file keys.
func (s *InMemoryStore) AppendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.order)
}

// FileKeys returns the file keys in append order, with duplicates.
func (s *InMemoryStore) FileKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]string, len(s.order))
	copy(copied, s.order)

	return copied
}

// QueueSpy is an fbs.ReconciliationQueue recording enqueued entries.
// FailWith injects enqueue failures.
type QueueSpy struct {
	mu       sync.Mutex
	entries  []fbs.QueueEntry
	FailWith error
}

// NewQueueSpy creates an empty spy.
func NewQueueSpy() *QueueSpy {
	return &QueueSpy{}
}

func (q *QueueSpy) Enqueue(_ context.Context, entry fbs.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.FailWith != nil {
		return q.FailWith
	}

	q.entries = append(q.entries, entry)

	return nil
}

// Entries returns a copy of all enqueued entries.
func (q *QueueSpy) Entries() []fbs.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	copied := make([]fbs.QueueEntry, len(q.entries))
	copy(copied, q.entries)

	return copied
}

// StatusPublisherSpy forwards monitor notifications to a buffered channel so
// tests can synchronize on poll completion.
type StatusPublisherSpy struct {
	Notifications chan fbs.StatusNotification
}

// NewStatusPublisherSpy creates a spy with room for the given number of
// notifications.
func NewStatusPublisherSpy(buffer int) *StatusPublisherSpy {
	return &StatusPublisherSpy{Notifications: make(chan fbs.StatusNotification, buffer)}
}

func (s *StatusPublisherSpy) PublishStatus(notification fbs.StatusNotification) {
	select {
	case s.Notifications <- notification:
	default:
	}
}
