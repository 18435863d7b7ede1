package fbs

import (
	"context"
	"errors"
	"time"
)

const (
	OpLibraryStatus     = "libraryStatus"
	OpLogin             = "login"
	OpPatronInformation = "patronInformation"
	OpCheckout          = "checkout"
	OpCheckin           = "checkin"
	OpRenew             = "renew"
	OpRenewAll          = "renewAll"
	OpBlock             = "block"

	labelOperation = "operation"
	labelFailed    = "failed"

	spanNamePrefix    = "fbs."
	spanStatusSuccess = "success"
	spanStatusError   = "error"

	logMsgConfigFetchFailed = "fetching configuration failed"
	logMsgTransportFailed   = "transport construction failed"
	logAttrError            = "error"
	logAttrOperation        = "operation"
)

// Facade wraps a protocol Transport for exactly the lifetime of one logical
// call. It owns no state between calls: construct a fresh Facade per call so
// that configuration changes take effect immediately.
//
// Every operation, regardless of outcome, reports the operation name and a
// failure flag to the configured MetricsCollector and ActionReporter. These
// notifications are fire-and-forget and never awaited.
type Facade struct {
	cfg       Config
	transport Transport
	logger    Logger
	ctxLogger ContextualLogger
	metrics   MetricsCollector
	reporter  ActionReporter
	tracing   TracingCollector
	clock     Clock
}

// FacadeOption configures a Facade during construction.
type FacadeOption func(*Facade) error

// WithLogger sets the logger for the Facade.
func WithLogger(logger Logger) FacadeOption {
	return func(f *Facade) error {
		f.logger = logger
		return nil
	}
}

// WithContextualLogger sets the context-aware logger for the Facade. When
// set, it takes precedence over the plain logger so log lines carry trace
// correlation.
func WithContextualLogger(logger ContextualLogger) FacadeOption {
	return func(f *Facade) error {
		f.ctxLogger = logger
		return nil
	}
}

// WithMetricsCollector sets the metrics collector for the Facade.
func WithMetricsCollector(collector MetricsCollector) FacadeOption {
	return func(f *Facade) error {
		f.metrics = collector
		return nil
	}
}

// WithActionReporter sets the per-operation outcome reporter for the Facade.
func WithActionReporter(reporter ActionReporter) FacadeOption {
	return func(f *Facade) error {
		f.reporter = reporter
		return nil
	}
}

// WithTracingCollector sets the tracing collector for the Facade.
func WithTracingCollector(collector TracingCollector) FacadeOption {
	return func(f *Facade) error {
		f.tracing = collector
		return nil
	}
}

// WithClock sets the time source for the Facade.
func WithClock(clock Clock) FacadeOption {
	return func(f *Facade) error {
		f.clock = clock
		return nil
	}
}

// NewFacade fetches the current configuration through the provider and opens
// a Transport for it. It fails with ErrConfigurationMissing when no endpoint
// is configured, and with ErrBackendUnavailable when the Transport cannot be
// opened.
func NewFacade(
	ctx context.Context,
	provider ConfigProvider,
	factory TransportFactory,
	options ...FacadeOption,
) (Facade, error) {

	if provider == nil {
		return Facade{}, ErrNilConfigProvider
	}
	if factory == nil {
		return Facade{}, ErrNilTransportFactory
	}

	facade := Facade{clock: SystemClock()}

	for _, option := range options {
		if err := option(&facade); err != nil {
			return Facade{}, err
		}
	}

	cfg, cfgErr := provider.Config(ctx)
	if cfgErr != nil {
		facade.logError(ctx, logMsgConfigFetchFailed, logAttrError, cfgErr.Error())
		return Facade{}, errors.Join(ErrConfigurationMissing, cfgErr)
	}

	if cfg.Endpoint == "" {
		return Facade{}, ErrConfigurationMissing
	}

	facade.cfg = cfg.withDefaults()

	transport, dialErr := factory(facade.cfg)
	if dialErr != nil {
		facade.logError(ctx, logMsgTransportFailed, logAttrError, dialErr.Error())
		return Facade{}, classifyTransportError(dialErr)
	}

	facade.transport = transport

	return facade, nil
}

// Config returns the configuration snapshot this Facade was built with.
func (f Facade) Config() Config {
	return f.cfg
}

// LibraryStatus asks the back end for its self-reported status, including
// the online flag the Monitor's hysteresis is driven by.
func (f Facade) LibraryStatus(ctx context.Context) (LibraryStatus, error) {
	ctx, span := f.startTraceSpan(ctx, OpLibraryStatus)
	start := time.Now()
	status, err := f.transport.LibraryStatus(ctx)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpLibraryStatus, err != nil, time.Since(start))

	if err != nil {
		return LibraryStatus{}, classifyTransportError(err)
	}

	return status, nil
}

// Login validates the patron/password pair. It succeeds iff the back end
// reports the patron and password valid AND at least one of the charge,
// renewal, recall and hold privileges is not denied. A rejected pair fails
// with ErrInvalidCredentials; a patron with all four privileges denied fails
// with ErrLoginBlocked.
func (f Facade) Login(ctx context.Context, username string, password string) (PatronStatus, error) {
	ctx, span := f.startTraceSpan(ctx, OpLogin)
	start := time.Now()
	status, err := f.transport.PatronStatus(ctx, username, password)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpLogin, err != nil, time.Since(start))

	if err != nil {
		return PatronStatus{}, classifyTransportError(err)
	}

	if !status.ValidPatron || !status.ValidPatronPassword {
		return PatronStatus{}, ErrInvalidCredentials
	}

	allPrivilegesDenied := status.ChargePrivDenied &&
		status.RenewalPrivDenied &&
		status.RecallPrivDenied &&
		status.HoldPrivDenied

	if allPrivilegesDenied {
		return PatronStatus{}, ErrLoginBlocked
	}

	return status, nil
}

// PatronInformation fetches the full patron record.
func (f Facade) PatronInformation(ctx context.Context, username string, password string) (Patron, error) {
	ctx, span := f.startTraceSpan(ctx, OpPatronInformation)
	start := time.Now()
	patron, err := f.transport.PatronInformation(ctx, username, password)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpPatronInformation, err != nil, time.Since(start))

	if err != nil {
		return Patron{}, classifyTransportError(err)
	}

	return patron, nil
}

// Checkout charges an item to a patron.
func (f Facade) Checkout(ctx context.Context, request CheckoutRequest) (CheckoutResult, error) {
	ctx, span := f.startTraceSpan(ctx, OpCheckout)
	start := time.Now()
	result, err := f.transport.Checkout(ctx, request)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpCheckout, err != nil, time.Since(start))

	if err != nil {
		return CheckoutResult{}, classifyTransportError(err)
	}

	return result, nil
}

// CheckIn returns an item.
func (f Facade) CheckIn(ctx context.Context, request CheckinRequest) (CheckinResult, error) {
	ctx, span := f.startTraceSpan(ctx, OpCheckin)
	start := time.Now()
	result, err := f.transport.CheckIn(ctx, request)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpCheckin, err != nil, time.Since(start))

	if err != nil {
		return CheckinResult{}, classifyTransportError(err)
	}

	return result, nil
}

// Renew renews a single charged item.
func (f Facade) Renew(ctx context.Context, username string, password string, itemIdentifier string) (RenewResult, error) {
	ctx, span := f.startTraceSpan(ctx, OpRenew)
	start := time.Now()
	result, err := f.transport.Renew(ctx, username, password, itemIdentifier)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpRenew, err != nil, time.Since(start))

	if err != nil {
		return RenewResult{}, classifyTransportError(err)
	}

	return result, nil
}

// RenewAll renews every charged item of a patron.
func (f Facade) RenewAll(ctx context.Context, username string, password string) (RenewAllResult, error) {
	ctx, span := f.startTraceSpan(ctx, OpRenewAll)
	start := time.Now()
	result, err := f.transport.RenewAll(ctx, username, password)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpRenewAll, err != nil, time.Since(start))

	if err != nil {
		return RenewAllResult{}, classifyTransportError(err)
	}

	return result, nil
}

// BlockPatron places a block on a patron record.
func (f Facade) BlockPatron(ctx context.Context, username string, reason string) (BlockResult, error) {
	ctx, span := f.startTraceSpan(ctx, OpBlock)
	start := time.Now()
	result, err := f.transport.BlockPatron(ctx, username, reason)
	f.finishTraceSpan(span, err != nil)
	f.reportAction(OpBlock, err != nil, time.Since(start))

	if err != nil {
		return BlockResult{}, classifyTransportError(err)
	}

	return result, nil
}

// reportAction emits the per-operation outcome notification. It never blocks
// the result path and tolerates missing collaborators.
func (f Facade) reportAction(operation string, failed bool, duration time.Duration) {
	if f.metrics != nil {
		failedLabel := "false"
		if failed {
			failedLabel = "true"
		}

		labels := map[string]string{
			labelOperation: operation,
			labelFailed:    failedLabel,
		}

		f.metrics.IncrementCounter(ActionResultMetric, labels)
		f.metrics.RecordDuration(ActionDurationMetric, duration, labels)
	}

	if f.reporter != nil {
		f.reporter.ReportAction(operation, failed)
	}
}

// startTraceSpan starts a tracing span for an operation if a collector is
// configured.
func (f Facade) startTraceSpan(ctx context.Context, operation string) (context.Context, SpanContext) {
	if f.tracing == nil {
		return ctx, nil
	}

	return f.tracing.StartSpan(ctx, spanNamePrefix+operation, map[string]string{
		labelOperation: operation,
	})
}

// finishTraceSpan finishes a tracing span if one was started.
func (f Facade) finishTraceSpan(spanCtx SpanContext, failed bool) {
	if f.tracing == nil || spanCtx == nil {
		return
	}

	status := spanStatusSuccess
	if failed {
		status = spanStatusError
	}

	f.tracing.FinishSpan(spanCtx, status, nil)
}

// logError prefers the context-aware logger so failures correlate with the
// active trace.
func (f Facade) logError(ctx context.Context, msg string, args ...any) {
	if f.ctxLogger != nil {
		f.ctxLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if f.logger != nil {
		f.logger.Error(msg, args...)
	}
}

// classifyTransportError keeps already-typed failures intact and folds every
// unclassified transport failure into the unavailable class, per the
// Transport error contract.
func classifyTransportError(err error) error {
	if errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrLoginBlocked) ||
		errors.Is(err, ErrConfigurationMissing) {
		return err
	}

	return errors.Join(ErrBackendUnavailable, err)
}
