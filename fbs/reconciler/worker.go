package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/bibsdb/bibselv/fbs"
)

const (
	// ReplayMetric counts replay outcomes. Labels: action, outcome
	// ("replayed"/"failed"/"rejected").
	ReplayMetric = "fbs_replay_total"

	labelReplayAction  = "action"
	labelReplayOutcome = "outcome"
	outcomeReplayed    = "replayed"
	outcomeFailed      = "failed"
	outcomeRejected    = "rejected"

	logMsgReplaySucceeded  = "offline transaction replayed"
	logMsgReplayFailed     = "replaying an offline transaction failed"
	logMsgReplayRejected   = "offline transaction rejected by the back end, dropping it"
	logMsgDrainInterrupted = "replay interrupted, back end unreachable again"
	logMsgDrainFinished    = "reconciliation drain finished"
	logAttrAction          = "action"
	logAttrItemIdentifier  = "item_identifier"
	logAttrFileKey         = "file_key"
	logAttrError           = "error"
	logAttrReplayed        = "replayed"
	logAttrRemaining       = "remaining"
)

// Worker replays buffered entries whenever the online signal is published.
// It implements fbs.StatusPublisher so it can be fanned in next to the bus
// adapter via fbs.StatusPublishers.
//
// Replays are forced: NoBlock is set so the back end accepts the historical
// transaction unconditionally, and Queued marks the request as a replay so
// the offline fallback never intercepts its failure.
type Worker struct {
	queue    *Queue
	provider fbs.ConfigProvider
	factory  fbs.TransportFactory
	logger   fbs.Logger
	metrics  fbs.MetricsCollector

	maxAttempts int
	baseDelay   time.Duration

	online chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker) error

// WithWorkerLogger sets the logger for the Worker.
func WithWorkerLogger(logger fbs.Logger) WorkerOption {
	return func(w *Worker) error {
		w.logger = logger
		return nil
	}
}

// WithWorkerMetrics sets the metrics collector for the Worker.
func WithWorkerMetrics(collector fbs.MetricsCollector) WorkerOption {
	return func(w *Worker) error {
		w.metrics = collector
		return nil
	}
}

// WithReplayAttempts sets how often one entry is attempted per drain before
// it goes back to the front of the queue.
func WithReplayAttempts(attempts int) WorkerOption {
	return func(w *Worker) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		w.maxAttempts = attempts

		return nil
	}
}

// WithReplayBaseDelay sets the base delay of the per-entry retry backoff.
func WithReplayBaseDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		w.baseDelay = delay

		return nil
	}
}

// NewWorker creates a Worker replaying entries of the given queue through
// fresh facades.
func NewWorker(queue *Queue, provider fbs.ConfigProvider, factory fbs.TransportFactory, options ...WorkerOption) (*Worker, error) {
	if queue == nil {
		return nil, fbs.ErrNilReconciliationQueue
	}
	if provider == nil {
		return nil, fbs.ErrNilConfigProvider
	}
	if factory == nil {
		return nil, fbs.ErrNilTransportFactory
	}

	worker := &Worker{
		queue:       queue,
		provider:    provider,
		factory:     factory,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		online:      make(chan struct{}, 1),
	}

	for _, option := range options {
		if err := option(worker); err != nil {
			return nil, err
		}
	}

	return worker, nil
}

// PublishStatus wakes the Worker on online signals, implementing
// fbs.StatusPublisher. It never blocks; repeated signals while a drain is
// pending coalesce into one.
func (w *Worker) PublishStatus(notification fbs.StatusNotification) {
	if !notification.Online {
		return
	}

	select {
	case w.online <- struct{}{}:
	default:
	}
}

// Run drives the Worker until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-w.online:
			w.drain(ctx)

		case <-ctx.Done():
			return
		}
	}
}

// drain replays entries in order until the queue is empty or the back end
// becomes unreachable again. Only unavailability interrupts the drain; the
// interrupting entry goes back to the front, keeping the stream order intact
// for the next online signal. An entry the back end rejects outright is
// dropped so it cannot block the entries behind it; its durable record
// remains in the append-only store.
func (w *Worker) drain(ctx context.Context) {
	replayed := 0

	for {
		if ctx.Err() != nil {
			return
		}

		entry, ok := w.queue.Dequeue()
		if !ok {
			break
		}

		if err := w.replay(ctx, entry); err != nil {
			if errors.Is(err, fbs.ErrBackendUnavailable) {
				w.queue.Requeue(entry)
				w.recordReplay(entry.Action, outcomeFailed)
				w.logWarn(logMsgDrainInterrupted,
					logAttrAction, string(entry.Action),
					logAttrFileKey, entry.FileKey,
					logAttrError, err.Error(),
				)

				break
			}

			w.recordReplay(entry.Action, outcomeRejected)
			w.logWarn(logMsgReplayRejected,
				logAttrAction, string(entry.Action),
				logAttrItemIdentifier, entry.ItemIdentifier,
				logAttrFileKey, entry.FileKey,
				logAttrError, err.Error(),
			)

			continue
		}

		replayed++
		w.recordReplay(entry.Action, outcomeReplayed)
		w.logInfo(logMsgReplaySucceeded,
			logAttrAction, string(entry.Action),
			logAttrItemIdentifier, entry.ItemIdentifier,
			logAttrFileKey, entry.FileKey,
		)
	}

	w.logInfo(logMsgDrainFinished, logAttrReplayed, replayed, logAttrRemaining, w.queue.Len())
}

// replay performs one forced no-block replay with backoff.
func (w *Worker) replay(ctx context.Context, entry fbs.QueueEntry) error {
	options := []fbs.FacadeOption{
		fbs.WithLogger(w.logger),
		fbs.WithMetricsCollector(w.metrics),
	}
	if ctxLogger, ok := w.logger.(fbs.ContextualLogger); ok {
		options = append(options, fbs.WithContextualLogger(ctxLogger))
	}

	return RetryWithExponentialBackoff(ctx,
		func(ctx context.Context) error {
			facade, err := fbs.NewFacade(ctx, w.provider, w.factory, options...)
			if err != nil {
				return err
			}

			switch entry.Action {
			case fbs.ActionCheckin:
				_, err = facade.CheckIn(ctx, fbs.CheckinRequest{
					ItemIdentifier: entry.ItemIdentifier,
					CheckedInDate:  entry.Date,
					NoBlock:        true,
					Queued:         true,
				})

			default:
				_, err = facade.Checkout(ctx, fbs.CheckoutRequest{
					Username:        entry.Username,
					Password:        entry.Password,
					ItemIdentifier:  entry.ItemIdentifier,
					TransactionDate: entry.Date,
					NoBlockDueDate:  entry.Date.Add(fbs.DefaultNoBlockDuePeriod),
					NoBlock:         true,
					Queued:          true,
				})
			}

			if err != nil {
				w.logWarn(logMsgReplayFailed,
					logAttrAction, string(entry.Action),
					logAttrItemIdentifier, entry.ItemIdentifier,
					logAttrError, err.Error(),
				)
			}

			return err
		},
		WithMaxAttempts(w.maxAttempts),
		WithBaseDelay(w.baseDelay),
		w.retryMetricsOption(entry.Action),
	)
}

// retryMetricsOption is a no-op when no collector is configured.
func (w *Worker) retryMetricsOption(action fbs.QueueAction) RetryOption {
	if w.metrics == nil {
		return func(*retryConfig) error { return nil }
	}

	return WithRetryMetrics(w.metrics, string(action))
}

func (w *Worker) recordReplay(action fbs.QueueAction, outcome string) {
	if w.metrics != nil {
		w.metrics.IncrementCounter(ReplayMetric, map[string]string{
			labelReplayAction:  string(action),
			labelReplayOutcome: outcome,
		})
	}
}

func (w *Worker) logInfo(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Info(msg, args...)
	}
}

func (w *Worker) logWarn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}
