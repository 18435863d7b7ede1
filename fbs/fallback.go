package fbs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// DefaultNoBlockDuePeriod is applied to checkouts accepted offline when no
// explicit due date was supplied, so that the later forced no-block replay
// carries a sane due date.
const DefaultNoBlockDuePeriod = 31 * 24 * time.Hour

const (
	okValue = "1"

	labelAction = "action"

	logMsgOfflineAccepted    = "transaction accepted offline"
	logMsgAppendFailed       = "durable append of offline transaction failed"
	logMsgEnqueueFailed      = "handing offline transaction to reconciliation queue failed"
	logAttrAction            = "action"
	logAttrItemIdentifier    = "item_identifier"
	logAttrFileKey           = "file_key"
)

// QueueAction identifies the circulation action of an offline record.
type QueueAction string

const (
	ActionCheckout QueueAction = "checkout"
	ActionCheckin  QueueAction = "checkin"
)

// QueueEntry is the durable record of a circulation action accepted while
// the back end was unreachable. FileKey determines the reconciliation stream
// the entry belongs to: the patron identifier for checkouts, the transaction
// identifier for check-ins. Once persisted and enqueued, ownership passes
// entirely to the reconciliation collaborator; this layer never re-reads it.
type QueueEntry struct {
	Action         QueueAction `json:"action"`
	Username       string      `json:"username,omitempty"`
	Password       string      `json:"password,omitempty"`
	ItemIdentifier string      `json:"itemIdentifier"`
	Date           time.Time   `json:"date"`
	FileKey        string      `json:"file"`
}

// AppendOnlyStore persists queue entries durably. Appends to the same file
// key must be mutually exclusive across concurrent writers: the engine holds
// a per-key lock for the duration of the append.
type AppendOnlyStore interface {
	Append(ctx context.Context, fileKey string, payload []byte) error
}

// ReconciliationQueue accepts persisted entries for later replay against the
// back end. Retrying replays that fail offline again is the queue owner's
// responsibility, never the Fallback's.
type ReconciliationQueue interface {
	Enqueue(ctx context.Context, entry QueueEntry) error
}

// Fallback degrades checkout and check-in gracefully when the back end is
// unreachable: it synthesizes a provisional success, durably records the
// attempted transaction, and hands it to the reconciliation queue. It
// applies only to failures matching ErrBackendUnavailable on original
// requests (Queued=false); every other failure, and every failure of a
// replay, propagates unchanged.
type Fallback struct {
	store   AppendOnlyStore
	queue   ReconciliationQueue
	clock   Clock
	logger  Logger
	metrics MetricsCollector

	// transactionID generates the file key for check-in entries.
	transactionID func() string
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback) error

// WithFallbackLogger sets the logger for the Fallback.
func WithFallbackLogger(logger Logger) FallbackOption {
	return func(f *Fallback) error {
		f.logger = logger
		return nil
	}
}

// WithFallbackMetrics sets the metrics collector for the Fallback.
func WithFallbackMetrics(collector MetricsCollector) FallbackOption {
	return func(f *Fallback) error {
		f.metrics = collector
		return nil
	}
}

// WithFallbackClock sets the time source used for timestamp defaulting.
func WithFallbackClock(clock Clock) FallbackOption {
	return func(f *Fallback) error {
		f.clock = clock
		return nil
	}
}

// WithTransactionIDGenerator overrides the check-in transaction identifier
// source. Intended for tests that need deterministic file keys.
func WithTransactionIDGenerator(generate func() string) FallbackOption {
	return func(f *Fallback) error {
		f.transactionID = generate
		return nil
	}
}

// NewFallback creates a Fallback persisting through the given store and
// handing entries to the given reconciliation queue.
func NewFallback(store AppendOnlyStore, queue ReconciliationQueue, options ...FallbackOption) (Fallback, error) {
	if store == nil {
		return Fallback{}, ErrNilStore
	}
	if queue == nil {
		return Fallback{}, ErrNilReconciliationQueue
	}

	fallback := Fallback{
		store: store,
		queue: queue,
		clock: SystemClock(),
		transactionID: func() string {
			return uuid.New().String()
		},
	}

	for _, option := range options {
		if err := option(&fallback); err != nil {
			return Fallback{}, err
		}
	}

	return fallback, nil
}

// Checkout runs the checkout through the facade, intercepting back end
// unavailability for original requests. Defaults are applied before the
// call: TransactionDate to "now" and NoBlockDueDate to 31 days from now.
// A replay (Queued=true) supplies its own historical timestamps and is
// never defaulted into "now" semantics, because its dates are already set.
func (f Fallback) Checkout(ctx context.Context, facade Facade, request CheckoutRequest) (CheckoutResult, error) {
	request = f.applyCheckoutDefaults(request)

	result, err := facade.Checkout(ctx, request)
	if err == nil {
		return result, nil
	}

	if request.Queued || !errors.Is(err, ErrBackendUnavailable) {
		return CheckoutResult{}, err
	}

	entry := QueueEntry{
		Action:         ActionCheckout,
		Username:       request.Username,
		Password:       request.Password,
		ItemIdentifier: request.ItemIdentifier,
		Date:           request.TransactionDate,
		FileKey:        request.Username,
	}

	if persistErr := f.persistAndEnqueue(ctx, entry); persistErr != nil {
		return CheckoutResult{}, persistErr
	}

	return CheckoutResult{
		OK:               okValue,
		ItemIdentifier:   request.ItemIdentifier,
		DueDate:          request.NoBlockDueDate,
		Offline:          true,
		PatronIdentifier: request.Username,
	}, nil
}

// CheckIn runs the check-in through the facade, intercepting back end
// unavailability for original requests. CheckedInDate defaults to "now".
func (f Fallback) CheckIn(ctx context.Context, facade Facade, request CheckinRequest) (CheckinResult, error) {
	request = f.applyCheckinDefaults(request)

	result, err := facade.CheckIn(ctx, request)
	if err == nil {
		return result, nil
	}

	if request.Queued || !errors.Is(err, ErrBackendUnavailable) {
		return CheckinResult{}, err
	}

	entry := QueueEntry{
		Action:         ActionCheckin,
		ItemIdentifier: request.ItemIdentifier,
		Date:           request.CheckedInDate,
		FileKey:        f.transactionID(),
	}

	if persistErr := f.persistAndEnqueue(ctx, entry); persistErr != nil {
		return CheckinResult{}, persistErr
	}

	return CheckinResult{
		OK:             okValue,
		ItemIdentifier: request.ItemIdentifier,
		Offline:        true,
	}, nil
}

// persistAndEnqueue writes the durable record and, only after persistence
// confirms success, hands the entry to the reconciliation queue. A failed
// append surfaces as ErrPersistenceFailed: a provisional success must never
// be reported without a matching durable record. A failed enqueue is logged
// but does not revoke the provisional success - the record is durable, and
// recovery of unenqueued records belongs to the queue owner.
func (f Fallback) persistAndEnqueue(ctx context.Context, entry QueueEntry) error {
	payload, marshalErr := jsoniter.ConfigFastest.Marshal(entry)
	if marshalErr != nil {
		return errors.Join(ErrPersistenceFailed, marshalErr)
	}

	if appendErr := f.store.Append(ctx, entry.FileKey, payload); appendErr != nil {
		f.logError(logMsgAppendFailed,
			logAttrError, appendErr.Error(),
			logAttrAction, string(entry.Action),
			logAttrFileKey, entry.FileKey,
		)

		return errors.Join(ErrPersistenceFailed, appendErr)
	}

	if enqueueErr := f.queue.Enqueue(ctx, entry); enqueueErr != nil {
		f.logError(logMsgEnqueueFailed,
			logAttrError, enqueueErr.Error(),
			logAttrAction, string(entry.Action),
			logAttrFileKey, entry.FileKey,
		)
	}

	f.logInfo(logMsgOfflineAccepted,
		logAttrAction, string(entry.Action),
		logAttrItemIdentifier, entry.ItemIdentifier,
		logAttrFileKey, entry.FileKey,
	)

	if f.metrics != nil {
		f.metrics.IncrementCounter(OfflineQueuedMetric, map[string]string{
			labelAction: string(entry.Action),
		})
	}

	return nil
}

func (f Fallback) applyCheckoutDefaults(request CheckoutRequest) CheckoutRequest {
	now := f.clock.Now()

	if request.TransactionDate.IsZero() {
		request.TransactionDate = now
	}

	if request.NoBlockDueDate.IsZero() {
		request.NoBlockDueDate = now.Add(DefaultNoBlockDuePeriod)
	}

	return request
}

func (f Fallback) applyCheckinDefaults(request CheckinRequest) CheckinRequest {
	if request.CheckedInDate.IsZero() {
		request.CheckedInDate = f.clock.Now()
	}

	return request
}

func (f Fallback) logInfo(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Info(msg, args...)
	}
}

func (f Fallback) logError(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Error(msg, args...)
	}
}
