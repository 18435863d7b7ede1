package bus

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/bibsdb/bibselv/fbs"
)

// Subjects the adapter binds circulation operations to, and the subjects it
// publishes notifications on.
const (
	SubjectLogin         = "fbs.login"
	SubjectLibraryStatus = "fbs.library.status"
	SubjectPatron        = "fbs.patron"
	SubjectCheckout      = "fbs.checkout"
	SubjectCheckin       = "fbs.checkin"
	SubjectRenew         = "fbs.renew"
	SubjectRenewAll      = "fbs.renew.all"
	SubjectBlock         = "fbs.block"

	SubjectOnline       = "fbs.online"
	SubjectOffline      = "fbs.offline"
	SubjectActionResult = "fbs.action.result"
)

// Failure message keys published on error subjects. Raw error strings never
// cross the bus; the terminal translates these keys for its screens.
const (
	FailureBackendUnavailable   = "backend.unavailable"
	FailureInvalidCredentials   = "invalid.credentials"
	FailureLoginBlocked         = "login.blocked"
	FailureConfigurationMissing = "configuration.missing"
	FailurePersistenceFailed    = "persistence.failed"
	FailureBadRequest           = "bad.request"
	FailureInternal             = "internal.error"
)

var (
	// ErrNilBus occurs when an Adapter is constructed without a bus.
	ErrNilBus = errors.New("bus must not be nil")
)

const (
	logMsgRequestDecodeFailed = "decoding a bus request payload failed"
	logMsgReplyEncodeFailed   = "encoding a bus reply payload failed"
	logAttrSubject            = "subject"
	logAttrError              = "error"
)

// CredentialsPayload carries the patron credentials of a login, patron
// information or renew-all request.
type CredentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CheckoutPayload is the request payload on SubjectCheckout. The date fields
// default when absent: TransactionDate to "now", NoBlockDueDate to 31 days
// from now. Queued marks a reconciliation replay, which bypasses the offline
// fallback and the defaulting.
type CheckoutPayload struct {
	Username        string    `json:"username"`
	Password        string    `json:"password"`
	ItemIdentifier  string    `json:"itemIdentifier"`
	NoBlockDueDate  time.Time `json:"noBlockDueDate,omitempty"`
	NoBlock         bool      `json:"noBlock,omitempty"`
	TransactionDate time.Time `json:"transactionDate,omitempty"`
	Queued          bool      `json:"queued,omitempty"`
}

// CheckinPayload is the request payload on SubjectCheckin. CheckedInDate
// defaults to "now" when absent; see CheckoutPayload for NoBlock and Queued.
type CheckinPayload struct {
	ItemIdentifier string    `json:"itemIdentifier"`
	CheckedInDate  time.Time `json:"checkedInDate,omitempty"`
	NoBlock        bool      `json:"noBlock,omitempty"`
	Queued         bool      `json:"queued,omitempty"`
}

// RenewPayload is the request payload on SubjectRenew.
type RenewPayload struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	ItemIdentifier string `json:"itemIdentifier"`
}

// BlockPayload is the request payload on SubjectBlock.
type BlockPayload struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// ActionResultPayload is published on SubjectActionResult once per facade
// operation.
type ActionResultPayload struct {
	Operation string `json:"operation"`
	Failed    bool   `json:"failed"`
}

// Reply is the success envelope published on reply subjects. Every reply
// carries the timestamp it was produced at. Library status fills Results,
// patron information fills Patron, circulation operations fill Result;
// a login reply carries the timestamp alone.
type Reply struct {
	Timestamp time.Time `json:"timestamp"`
	Results   any       `json:"results,omitempty"`
	Patron    any       `json:"patron,omitempty"`
	Result    any       `json:"result,omitempty"`
}

// Adapter binds the circulation operations to bus subjects. Every handled
// request constructs a fresh facade, so configuration changes take effect on
// the next request. Checkout and check-in run through the offline fallback;
// everything else is online-only and fails with a translated message key
// when the back end is unreachable.
//
// The Adapter is also the bus-facing sink for the health monitor
// (fbs.StatusPublisher) and for per-operation outcomes (fbs.ActionReporter).
type Adapter struct {
	bus      *Bus
	provider fbs.ConfigProvider
	factory  fbs.TransportFactory
	fallback fbs.Fallback
	logger   fbs.Logger
	metrics  fbs.MetricsCollector
	tracing  fbs.TracingCollector
	clock    fbs.Clock
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter) error

// WithAdapterLogger sets the logger for the Adapter and the facades it
// constructs.
func WithAdapterLogger(logger fbs.Logger) AdapterOption {
	return func(a *Adapter) error {
		a.logger = logger
		return nil
	}
}

// WithAdapterMetrics sets the metrics collector for the facades the Adapter
// constructs.
func WithAdapterMetrics(collector fbs.MetricsCollector) AdapterOption {
	return func(a *Adapter) error {
		a.metrics = collector
		return nil
	}
}

// WithAdapterTracing sets the tracing collector for the facades the Adapter
// constructs.
func WithAdapterTracing(collector fbs.TracingCollector) AdapterOption {
	return func(a *Adapter) error {
		a.tracing = collector
		return nil
	}
}

// WithAdapterClock sets the time source used to stamp reply envelopes.
func WithAdapterClock(clock fbs.Clock) AdapterOption {
	return func(a *Adapter) error {
		a.clock = clock
		return nil
	}
}

// NewAdapter creates an Adapter serving requests on the given bus through
// fresh facades and the given offline fallback.
func NewAdapter(
	messageBus *Bus,
	provider fbs.ConfigProvider,
	factory fbs.TransportFactory,
	fallback fbs.Fallback,
	options ...AdapterOption,
) (*Adapter, error) {

	if messageBus == nil {
		return nil, ErrNilBus
	}
	if provider == nil {
		return nil, fbs.ErrNilConfigProvider
	}
	if factory == nil {
		return nil, fbs.ErrNilTransportFactory
	}

	adapter := &Adapter{
		bus:      messageBus,
		provider: provider,
		factory:  factory,
		fallback: fallback,
		clock:    fbs.SystemClock(),
	}

	for _, option := range options {
		if err := option(adapter); err != nil {
			return nil, err
		}
	}

	return adapter, nil
}

// Bind subscribes the adapter to every operation subject. The returned
// release function removes all bindings.
func (a *Adapter) Bind() (func(), error) {
	bindings := map[string]Handler{
		SubjectLibraryStatus: a.handleLibraryStatus,
		SubjectLogin:         a.handleLogin,
		SubjectPatron:        a.handlePatron,
		SubjectCheckout:      a.handleCheckout,
		SubjectCheckin:       a.handleCheckin,
		SubjectRenew:         a.handleRenew,
		SubjectRenewAll:      a.handleRenewAll,
		SubjectBlock:         a.handleBlock,
	}

	unsubscribes := make([]func(), 0, len(bindings))
	release := func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
	}

	for subject, handler := range bindings {
		unsubscribe, err := a.bus.Subscribe(subject, handler)
		if err != nil {
			release()
			return nil, err
		}

		unsubscribes = append(unsubscribes, unsubscribe)
	}

	return release, nil
}

// PublishStatus forwards a monitor notification to SubjectOnline or
// SubjectOffline, implementing fbs.StatusPublisher.
func (a *Adapter) PublishStatus(notification fbs.StatusNotification) {
	subject := SubjectOffline
	if notification.Online {
		subject = SubjectOnline
	}

	payload, err := jsoniter.ConfigFastest.Marshal(notification)
	if err != nil {
		a.logError(logMsgReplyEncodeFailed, logAttrSubject, subject, logAttrError, err.Error())
		return
	}

	a.bus.Publish(context.Background(), Envelope{Subject: subject, Payload: payload})
}

// ReportAction publishes one outcome per facade operation on
// SubjectActionResult, implementing fbs.ActionReporter.
func (a *Adapter) ReportAction(operation string, failed bool) {
	payload, err := jsoniter.ConfigFastest.Marshal(ActionResultPayload{Operation: operation, Failed: failed})
	if err != nil {
		return
	}

	a.bus.Publish(context.Background(), Envelope{Subject: SubjectActionResult, Payload: payload})
}

func (a *Adapter) handleLibraryStatus(ctx context.Context, envelope Envelope) {
	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	status, err := facade.LibraryStatus(ctx)
	a.answer(ctx, envelope, Reply{Results: status}, err)
}

func (a *Adapter) handleLogin(ctx context.Context, envelope Envelope) {
	var request CredentialsPayload
	if !a.decode(ctx, envelope, &request) {
		return
	}

	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	_, err = facade.Login(ctx, request.Username, request.Password)
	a.answer(ctx, envelope, Reply{}, err)
}

func (a *Adapter) handlePatron(ctx context.Context, envelope Envelope) {
	var request CredentialsPayload
	if !a.decode(ctx, envelope, &request) {
		return
	}

	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	patron, err := facade.PatronInformation(ctx, request.Username, request.Password)
	a.answer(ctx, envelope, Reply{Patron: patron}, err)
}

func (a *Adapter) handleCheckout(ctx context.Context, envelope Envelope) {
	var request CheckoutPayload
	if !a.decode(ctx, envelope, &request) {
		return
	}

	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	result, err := a.fallback.Checkout(ctx, facade, fbs.CheckoutRequest{
		Username:        request.Username,
		Password:        request.Password,
		ItemIdentifier:  request.ItemIdentifier,
		NoBlockDueDate:  request.NoBlockDueDate,
		NoBlock:         request.NoBlock,
		TransactionDate: request.TransactionDate,
		Queued:          request.Queued,
	})
	a.answer(ctx, envelope, Reply{Result: result}, err)
}

func (a *Adapter) handleCheckin(ctx context.Context, envelope Envelope) {
	var request CheckinPayload
	if !a.decode(ctx, envelope, &request) {
		return
	}

	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	result, err := a.fallback.CheckIn(ctx, facade, fbs.CheckinRequest{
		ItemIdentifier: request.ItemIdentifier,
		CheckedInDate:  request.CheckedInDate,
		NoBlock:        request.NoBlock,
		Queued:         request.Queued,
	})
	a.answer(ctx, envelope, Reply{Result: result}, err)
}

func (a *Adapter) handleRenew(ctx context.Context, envelope Envelope) {
	var request RenewPayload
	if !a.decode(ctx, envelope, &request) {
		return
	}

	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	result, err := facade.Renew(ctx, request.Username, request.Password, request.ItemIdentifier)
	a.answer(ctx, envelope, Reply{Result: result}, err)
}

func (a *Adapter) handleRenewAll(ctx context.Context, envelope Envelope) {
	var request CredentialsPayload
	if !a.decode(ctx, envelope, &request) {
		return
	}

	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	result, err := facade.RenewAll(ctx, request.Username, request.Password)
	a.answer(ctx, envelope, Reply{Result: result}, err)
}

func (a *Adapter) handleBlock(ctx context.Context, envelope Envelope) {
	var request BlockPayload
	if !a.decode(ctx, envelope, &request) {
		return
	}

	facade, err := a.newFacade(ctx)
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	result, err := facade.BlockPatron(ctx, request.Username, request.Reason)
	a.answer(ctx, envelope, Reply{Result: result}, err)
}

func (a *Adapter) newFacade(ctx context.Context) (fbs.Facade, error) {
	options := []fbs.FacadeOption{
		fbs.WithLogger(a.logger),
		fbs.WithMetricsCollector(a.metrics),
		fbs.WithTracingCollector(a.tracing),
		fbs.WithActionReporter(a),
	}

	// a logger that is context-aware (slog, for instance) gets the request
	// context for trace correlation
	if ctxLogger, ok := a.logger.(fbs.ContextualLogger); ok {
		options = append(options, fbs.WithContextualLogger(ctxLogger))
	}

	return fbs.NewFacade(ctx, a.provider, a.factory, options...)
}

// decode unmarshals the request payload, answering with a bad.request
// failure when it cannot.
func (a *Adapter) decode(ctx context.Context, envelope Envelope, request any) bool {
	if err := jsoniter.ConfigFastest.Unmarshal(envelope.Payload, request); err != nil {
		a.logError(logMsgRequestDecodeFailed,
			logAttrSubject, envelope.Subject,
			logAttrError, err.Error(),
		)
		a.publishFailure(ctx, envelope, FailureBadRequest)

		return false
	}

	return true
}

// answer stamps the reply envelope and publishes it on the reply subject, or
// publishes the translated failure key on the error subject.
func (a *Adapter) answer(ctx context.Context, envelope Envelope, reply Reply, err error) {
	if err != nil {
		a.fail(ctx, envelope, err)
		return
	}

	reply.Timestamp = a.clock.Now()

	payload, marshalErr := jsoniter.ConfigFastest.Marshal(reply)
	if marshalErr != nil {
		a.logError(logMsgReplyEncodeFailed,
			logAttrSubject, envelope.ReplyTo,
			logAttrError, marshalErr.Error(),
		)
		a.publishFailure(ctx, envelope, FailureInternal)

		return
	}

	a.bus.Publish(ctx, Envelope{Subject: envelope.ReplyTo, Payload: payload})
}

func (a *Adapter) fail(ctx context.Context, envelope Envelope, err error) {
	a.publishFailure(ctx, envelope, failureKey(err))
}

func (a *Adapter) publishFailure(ctx context.Context, envelope Envelope, key string) {
	if envelope.ErrorTo == "" {
		return
	}

	payload, err := jsoniter.ConfigFastest.Marshal(Failure{Message: key})
	if err != nil {
		return
	}

	a.bus.Publish(ctx, Envelope{Subject: envelope.ErrorTo, Payload: payload})
}

// failureKey maps an internal error to the message key published on the
// error subject.
func failureKey(err error) string {
	switch {
	case errors.Is(err, fbs.ErrInvalidCredentials):
		return FailureInvalidCredentials
	case errors.Is(err, fbs.ErrLoginBlocked):
		return FailureLoginBlocked
	case errors.Is(err, fbs.ErrConfigurationMissing):
		return FailureConfigurationMissing
	case errors.Is(err, fbs.ErrPersistenceFailed):
		return FailurePersistenceFailed
	case errors.Is(err, fbs.ErrBackendUnavailable):
		return FailureBackendUnavailable
	default:
		return FailureInternal
	}
}

func (a *Adapter) logError(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Error(msg, args...)
	}
}
