package fbs

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	logMsgPollConfigFailed     = "monitor poll could not obtain configuration"
	logMsgPollCallFailed       = "library status call failed"
	logMsgPollReportedOffline  = "back end reports offline status"
	logMsgWatchdogForcedPoll   = "watchdog fired, forcing a new poll cycle"
	logMsgWatchdogPollStalled  = "watchdog fired while a poll was still in flight"
	logMsgChecksDisabled       = "online checks disabled, pinning signal online"
	logAttrSuccessfulChecks    = "successful_checks"
	logAttrThreshold           = "threshold"
	logAttrNextPollIn          = "next_poll_in"
	logMsgSignalTransition     = "online signal transition"
	logAttrOnline              = "online"
	onlineGaugeValueOnline     = 1
	onlineGaugeValueOffline    = 0
)

// StatusNotification is published after every poll, even when the signal is
// unchanged; consumers may rely on it as a periodic liveness beat, not only
// on edge transitions.
type StatusNotification struct {
	Timestamp time.Time
	Online    bool
	State     OnlineStateSnapshot
}

// OnlineStateSnapshot is a value copy of the monitor's state for publishing.
type OnlineStateSnapshot struct {
	Online                   bool
	Threshold                int
	SuccessfulOnlineChecks   int
	OnlineTimeout            time.Duration
	OfflineTimeout           time.Duration
	EnsureOnlineCheckTimeout time.Duration
}

// StatusPublisher receives the monitor's status notifications.
// Implementations must not block; a slow publisher would wedge the poll
// chain the watchdog protects.
type StatusPublisher interface {
	PublishStatus(notification StatusNotification)
}

// StatusPublishers fans a notification out to several publishers.
type StatusPublishers []StatusPublisher

func (p StatusPublishers) PublishStatus(notification StatusNotification) {
	for _, publisher := range p {
		publisher.PublishStatus(notification)
	}
}

// onlineState holds the mutable monitor state. It is owned exclusively by
// the Run goroutine; everything other components see is a published copy.
type onlineState struct {
	online                   bool
	threshold                int
	successfulOnlineChecks   int
	onlineTimeout            time.Duration
	offlineTimeout           time.Duration
	ensureOnlineCheckTimeout time.Duration
}

func newOnlineState() onlineState {
	return onlineState{
		threshold:                defaultThreshold,
		onlineTimeout:            defaultOnlineTimeout,
		offlineTimeout:           defaultOfflineTimeout,
		ensureOnlineCheckTimeout: defaultEnsureOnlineCheckTimeout,
	}
}

func (s *onlineState) updateFromConfig(cfg Config) {
	s.threshold = cfg.OnlineState.Threshold
	s.onlineTimeout = cfg.OnlineState.OnlineTimeout
	s.offlineTimeout = cfg.OnlineState.OfflineTimeout
	s.ensureOnlineCheckTimeout = cfg.OnlineState.EnsureOnlineCheckTimeout
}

func (s *onlineState) goOffline() {
	s.online = false
	s.successfulOnlineChecks = 0
}

// recordSuccessfulCheck counts one successful-and-online poll and reports
// whether the threshold is reached, flipping the signal online on exactly
// the Nth consecutive success.
func (s *onlineState) recordSuccessfulCheck() {
	if s.successfulOnlineChecks < s.threshold {
		s.successfulOnlineChecks++
	}

	if s.successfulOnlineChecks >= s.threshold {
		s.online = true
	}
}

func (s *onlineState) nextPollDelay() time.Duration {
	if s.online {
		return s.onlineTimeout
	}

	return s.offlineTimeout
}

func (s *onlineState) watchdogInterval() time.Duration {
	return s.onlineTimeout + s.ensureOnlineCheckTimeout
}

func (s *onlineState) snapshot() OnlineStateSnapshot {
	return OnlineStateSnapshot{
		Online:                   s.online,
		Threshold:                s.threshold,
		SuccessfulOnlineChecks:   s.successfulOnlineChecks,
		OnlineTimeout:            s.onlineTimeout,
		OfflineTimeout:           s.offlineTimeout,
		EnsureOnlineCheckTimeout: s.ensureOnlineCheckTimeout,
	}
}

// pollOutcome is what one poll cycle observed. It carries no state mutation:
// the Run goroutine applies transitions, so a poll abandoned by the watchdog
// can never race the state machine.
type pollOutcome struct {
	configOK      bool
	cfg           Config
	checksEnabled bool
	callErr       error
	onlineStatus  bool
}

// Monitor is the perpetual online/offline health monitor. It periodically
// calls LibraryStatus through a fresh Facade, applies hysteresis to avoid
// flapping, and publishes the resulting signal after every poll.
//
// Exactly one Run goroutine owns the state machine. At most one poll timer
// and one watchdog timer are armed at any instant; re-arming always stops
// the prior instance. The watchdog fires after
// onlineTimeout+ensureOnlineCheckTimeout and forces a new poll cycle, so the
// monitor cannot become permanently stuck even if a poll hangs forever
// inside the transport.
type Monitor struct {
	provider  ConfigProvider
	factory   TransportFactory
	clock     Clock
	logger    Logger
	metrics   MetricsCollector
	publisher StatusPublisher

	published atomic.Pointer[StatusNotification]
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor) error

// WithMonitorLogger sets the logger for the Monitor.
func WithMonitorLogger(logger Logger) MonitorOption {
	return func(m *Monitor) error {
		m.logger = logger
		return nil
	}
}

// WithMonitorMetrics sets the metrics collector for the Monitor.
func WithMonitorMetrics(collector MetricsCollector) MonitorOption {
	return func(m *Monitor) error {
		m.metrics = collector
		return nil
	}
}

// WithMonitorClock sets the time source for the Monitor.
func WithMonitorClock(clock Clock) MonitorOption {
	return func(m *Monitor) error {
		m.clock = clock
		return nil
	}
}

// WithStatusPublisher sets the publisher receiving status notifications.
func WithStatusPublisher(publisher StatusPublisher) MonitorOption {
	return func(m *Monitor) error {
		m.publisher = publisher
		return nil
	}
}

// NewMonitor creates a Monitor polling through the given provider and
// transport factory.
func NewMonitor(provider ConfigProvider, factory TransportFactory, options ...MonitorOption) (*Monitor, error) {
	if provider == nil {
		return nil, ErrNilConfigProvider
	}
	if factory == nil {
		return nil, ErrNilTransportFactory
	}

	monitor := &Monitor{
		provider: provider,
		factory:  factory,
		clock:    SystemClock(),
	}

	for _, option := range options {
		if err := option(monitor); err != nil {
			return nil, err
		}
	}

	return monitor, nil
}

// Online reports the currently published signal. Before the first poll has
// completed the signal is offline.
func (m *Monitor) Online() bool {
	if notification := m.published.Load(); notification != nil {
		return notification.Online
	}

	return false
}

// Snapshot returns the most recently published state copy.
func (m *Monitor) Snapshot() OnlineStateSnapshot {
	if notification := m.published.Load(); notification != nil {
		return notification.State
	}

	return OnlineStateSnapshot{}
}

// Run drives the state machine until the context is canceled. The first
// poll happens immediately. Run never returns early because of back end,
// configuration or transport failures - every branch resolves to a
// scheduled retry.
func (m *Monitor) Run(ctx context.Context) {
	state := newOnlineState()

	var pollTimer Timer
	var watchdog Timer

	stopTimer := func(t Timer) {
		if t != nil {
			t.Stop()
		}
	}

	defer func() {
		stopTimer(pollTimer)
		stopTimer(watchdog)
	}()

	for {
		// Re-arm the watchdog for this cycle; only one may be live.
		stopTimer(watchdog)
		watchdog = m.clock.NewTimer(state.watchdogInterval())

		outcomes := make(chan pollOutcome, 1)
		go func() {
			outcomes <- m.poll(ctx)
		}()

		select {
		case outcome := <-outcomes:
			nextPollIn := m.apply(&state, outcome)

			stopTimer(pollTimer)
			pollTimer = m.clock.NewTimer(nextPollIn)

			select {
			case <-pollTimer.C():
				// Primary chain.
			case <-watchdog.C():
				m.logWarn(logMsgWatchdogForcedPoll)
			case <-ctx.Done():
				return
			}

		case <-watchdog.C():
			// The in-flight poll is stuck inside the transport; its
			// outcome is discarded when it eventually completes. There is
			// no cancellation of in-flight protocol calls.
			m.logWarn(logMsgWatchdogPollStalled)

		case <-ctx.Done():
			return
		}
	}
}

// poll performs one health check: fetch configuration, construct a fresh
// Facade, call LibraryStatus. It only observes; apply owns the transitions.
func (m *Monitor) poll(ctx context.Context) pollOutcome {
	facade, err := NewFacade(ctx, m.provider, m.factory,
		WithLogger(m.logger),
		WithMetricsCollector(m.metrics),
		WithClock(m.clock),
	)
	if err != nil {
		m.logWarn(logMsgPollConfigFailed, logAttrError, err.Error())
		return pollOutcome{}
	}

	cfg := facade.Config()

	if !cfg.EnableOnlineChecks {
		m.logDebug(logMsgChecksDisabled)
		return pollOutcome{configOK: true, cfg: cfg}
	}

	status, callErr := facade.LibraryStatus(ctx)
	if callErr != nil {
		m.logWarn(logMsgPollCallFailed, logAttrError, callErr.Error())
		return pollOutcome{configOK: true, cfg: cfg, checksEnabled: true, callErr: callErr}
	}

	if !status.OnlineStatus {
		m.logDebug(logMsgPollReportedOffline)
	}

	return pollOutcome{configOK: true, cfg: cfg, checksEnabled: true, onlineStatus: status.OnlineStatus}
}

// apply evaluates the transition function for one poll outcome, publishes
// the resulting signal, and returns the delay until the next poll.
func (m *Monitor) apply(state *onlineState, outcome pollOutcome) time.Duration {
	if outcome.configOK {
		state.updateFromConfig(outcome.cfg)
	}

	wasOnline := state.online

	switch {
	case !outcome.configOK:
		state.goOffline()

	case !outcome.checksEnabled:
		state.online = true
		state.successfulOnlineChecks = state.threshold

	case outcome.callErr != nil:
		state.goOffline()

	case !outcome.onlineStatus:
		state.goOffline()

	default:
		state.recordSuccessfulCheck()
	}

	if state.online != wasOnline {
		m.logInfo(logMsgSignalTransition,
			logAttrOnline, state.online,
			logAttrSuccessfulChecks, state.successfulOnlineChecks,
			logAttrThreshold, state.threshold,
		)
	}

	m.publish(state)

	nextPollIn := state.nextPollDelay()
	m.logDebug(logMsgSignalTransition, logAttrOnline, state.online, logAttrNextPollIn, nextPollIn.String())

	return nextPollIn
}

// publish delivers the signal after every poll, even when unchanged.
func (m *Monitor) publish(state *onlineState) {
	notification := StatusNotification{
		Timestamp: m.clock.Now(),
		Online:    state.online,
		State:     state.snapshot(),
	}

	m.published.Store(&notification)

	if m.metrics != nil {
		value := float64(onlineGaugeValueOffline)
		if state.online {
			value = onlineGaugeValueOnline
		}

		m.metrics.RecordValue(OnlineStatusMetric, value, nil)
	}

	if m.publisher != nil {
		m.publisher.PublishStatus(notification)
	}
}

func (m *Monitor) logDebug(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Monitor) logInfo(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

func (m *Monitor) logWarn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
