package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrNilHandler occurs when a subscription is attempted with a nil handler.
	ErrNilHandler = errors.New("handler must not be nil")

	// ErrNoSubscribers occurs when a request is published on a subject
	// nothing is bound to; without a handler the request could never be
	// answered.
	ErrNoSubscribers = errors.New("no subscriber bound to subject")

	// ErrRequestFailed wraps the failure payload a handler published on the
	// request's error subject.
	ErrRequestFailed = errors.New("request failed on the handling side")
)

const (
	replySubjectInfix = ".reply."
	errorSubjectInfix = ".error."
)

// Envelope is one published message. ReplyTo and ErrorTo are set on request
// envelopes only; they name the unique subjects the handler must answer on.
type Envelope struct {
	Subject string
	ReplyTo string
	ErrorTo string
	Payload []byte
}

// Handler consumes one envelope. Handlers run in the publisher's goroutine;
// long-running work belongs in a goroutine of the handler's own.
type Handler func(ctx context.Context, envelope Envelope)

// Failure is the payload published on an error subject.
type Failure struct {
	Message string `json:"message"`
}

type subscription struct {
	handler Handler
	once    bool
}

// Bus is an in-process publish/subscribe message bus. Any number of handlers
// may be bound to a subject; publishing dispatches to every one of them. The
// zero value is not usable, construct with New.
type Bus struct {
	mu            sync.Mutex
	subscriptions map[string]map[uint64]subscription
	nextID        uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscriptions: make(map[string]map[uint64]subscription)}
}

// Subscribe binds the handler to the subject until the returned unsubscribe
// function is called. Unsubscribing more than once is harmless.
func (b *Bus) Subscribe(subject string, handler Handler) (func(), error) {
	return b.subscribe(subject, handler, false)
}

// SubscribeOnce binds the handler for at most one envelope; the subscription
// removes itself atomically when claimed, so a burst of publishes delivers
// to it exactly once. The returned unsubscribe function releases the
// subscription early if it never fired.
func (b *Bus) SubscribeOnce(subject string, handler Handler) (func(), error) {
	return b.subscribe(subject, handler, true)
}

func (b *Bus) subscribe(subject string, handler Handler, once bool) (func(), error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	if b.subscriptions[subject] == nil {
		b.subscriptions[subject] = make(map[uint64]subscription)
	}
	b.subscriptions[subject][id] = subscription{handler: handler, once: once}

	return func() { b.remove(subject, id) }, nil
}

func (b *Bus) remove(subject string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.subscriptions[subject]
	delete(handlers, id)

	if len(handlers) == 0 {
		delete(b.subscriptions, subject)
	}
}

// Publish dispatches the envelope to every handler bound to its subject and
// reports how many were reached. One-shot subscriptions are claimed under
// the lock; the handlers themselves run without it, so a handler may publish
// or subscribe freely.
func (b *Bus) Publish(ctx context.Context, envelope Envelope) int {
	b.mu.Lock()

	bound := b.subscriptions[envelope.Subject]
	claimed := make([]Handler, 0, len(bound))

	for id, sub := range bound {
		claimed = append(claimed, sub.handler)

		if sub.once {
			delete(bound, id)
		}
	}

	if len(bound) == 0 {
		delete(b.subscriptions, envelope.Subject)
	}

	b.mu.Unlock()

	for _, handler := range claimed {
		handler(ctx, envelope)
	}

	return len(claimed)
}

// SubscriberCount reports how many handlers are bound to the subject.
func (b *Bus) SubscriberCount(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subscriptions[subject])
}

// Request publishes the payload on the subject and waits for the answer.
// Each call derives a unique reply/error subject pair from a fresh UUID, so
// concurrent requests on the same subject are correlated to their own
// answers. Both one-shot subscriptions are released when Request returns,
// whether it was answered, failed or timed out; an abandoned request leaks
// nothing.
//
// The request lives exactly as long as ctx: the caller bounds the wait with
// a deadline on the context.
func (b *Bus) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	correlationID := uuid.New().String()
	replyTo := subject + replySubjectInfix + correlationID
	errorTo := subject + errorSubjectInfix + correlationID

	replies := make(chan []byte, 1)
	failures := make(chan []byte, 1)

	unsubscribeReply, err := b.SubscribeOnce(replyTo, func(_ context.Context, envelope Envelope) {
		replies <- envelope.Payload
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribeReply()

	unsubscribeError, err := b.SubscribeOnce(errorTo, func(_ context.Context, envelope Envelope) {
		failures <- envelope.Payload
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribeError()

	delivered := b.Publish(ctx, Envelope{
		Subject: subject,
		ReplyTo: replyTo,
		ErrorTo: errorTo,
		Payload: payload,
	})
	if delivered == 0 {
		return nil, ErrNoSubscribers
	}

	select {
	case reply := <-replies:
		return reply, nil

	case failure := <-failures:
		return nil, decodeFailure(failure)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeFailure(payload []byte) error {
	var failure Failure
	if err := jsoniter.ConfigFastest.Unmarshal(payload, &failure); err != nil || failure.Message == "" {
		return ErrRequestFailed
	}

	return errors.Join(ErrRequestFailed, errors.New(failure.Message))
}
