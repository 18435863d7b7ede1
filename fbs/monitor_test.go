package fbs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibsdb/bibselv/fbs"
	"github.com/bibsdb/bibselv/testutil/fbstest"
)

const (
	testOnlineTimeout  = 30 * time.Second
	testOfflineTimeout = 10 * time.Second
	testEnsureTimeout  = 60 * time.Second
	waitTimeout        = 2 * time.Second
)

func monitorConfig(threshold int) fbs.Config {
	return fbs.Config{
		Endpoint:           "sip2://backend.example:6001",
		EnableOnlineChecks: true,
		OnlineState: fbs.OnlineStateConfig{
			Threshold:                threshold,
			OnlineTimeout:            testOnlineTimeout,
			OfflineTimeout:           testOfflineTimeout,
			EnsureOnlineCheckTimeout: testEnsureTimeout,
		},
	}
}

type monitorHarness struct {
	monitor   *fbs.Monitor
	clock     *fbstest.FakeClock
	publisher *fbstest.StatusPublisherSpy
	cancel    context.CancelFunc
}

func startMonitor(t *testing.T, provider fbs.ConfigProvider, transport fbs.Transport) monitorHarness {
	t.Helper()

	clock := fbstest.NewFakeClock(time.Date(2026, time.August, 26, 9, 0, 0, 0, time.UTC))
	publisher := fbstest.NewStatusPublisherSpy(100)

	monitor, err := fbs.NewMonitor(provider, fbstest.StaticTransportFactory(transport),
		fbs.WithMonitorClock(clock),
		fbs.WithStatusPublisher(publisher),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go monitor.Run(ctx)
	t.Cleanup(cancel)

	return monitorHarness{monitor: monitor, clock: clock, publisher: publisher, cancel: cancel}
}

// nextNotification waits for the monitor to finish one poll cycle.
func (h monitorHarness) nextNotification(t *testing.T) fbs.StatusNotification {
	t.Helper()

	select {
	case notification := <-h.publisher.Notifications:
		return notification
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a status notification")
		return fbs.StatusNotification{}
	}
}

// advanceToNextPoll waits until the poll and watchdog timers are armed, then
// moves the clock past the poll deadline.
func (h monitorHarness) advanceToNextPoll(t *testing.T, pollDelay time.Duration) {
	t.Helper()

	require.True(t, h.clock.WaitForActiveTimers(2, waitTimeout),
		"Monitor should have exactly one poll timer and one watchdog armed")
	h.clock.Advance(pollDelay)
}

func Test_Monitor_FlipsOnlineOnExactlyTheNthSuccessfulPoll(t *testing.T) {
	// arrange - back end always reachable and online, threshold 5
	provider := fbstest.StaticConfigProvider{Cfg: monitorConfig(5)}
	harness := startMonitor(t, provider, &fbstest.ScriptedTransport{})

	// act + assert - polls 1..4 stay offline, poll 5 flips
	for poll := 1; poll <= 4; poll++ {
		notification := harness.nextNotification(t)
		assert.Falsef(t, notification.Online, "Poll %d should still publish offline", poll)
		assert.Equal(t, poll, notification.State.SuccessfulOnlineChecks)

		harness.advanceToNextPoll(t, testOfflineTimeout)
	}

	notification := harness.nextNotification(t)
	assert.True(t, notification.Online, "The 5th consecutive successful poll should flip the signal online")
	assert.True(t, harness.monitor.Online())
}

func Test_Monitor_TransportFailure_ForcesOfflineAndResetsCounter(t *testing.T) {
	// arrange - two successes, then a failure, then successes again
	calls := 0
	transport := &fbstest.ScriptedTransport{
		LibraryStatusFunc: func(context.Context) (fbs.LibraryStatus, error) {
			calls++
			if calls == 3 {
				return fbs.LibraryStatus{}, errors.New("connection refused")
			}
			return fbs.LibraryStatus{OnlineStatus: true}, nil
		},
	}
	provider := fbstest.StaticConfigProvider{Cfg: monitorConfig(5)}
	harness := startMonitor(t, provider, transport)

	// act
	first := harness.nextNotification(t)
	harness.advanceToNextPoll(t, testOfflineTimeout)
	second := harness.nextNotification(t)
	harness.advanceToNextPoll(t, testOfflineTimeout)
	third := harness.nextNotification(t)

	// assert
	assert.Equal(t, 1, first.State.SuccessfulOnlineChecks)
	assert.Equal(t, 2, second.State.SuccessfulOnlineChecks)
	assert.False(t, third.Online)
	assert.Equal(t, 0, third.State.SuccessfulOnlineChecks,
		"A single failed poll should reset the consecutive success counter")
}

func Test_Monitor_BackendReportsOffline_ForcesOffline(t *testing.T) {
	// arrange
	transport := &fbstest.ScriptedTransport{
		LibraryStatusFunc: func(context.Context) (fbs.LibraryStatus, error) {
			return fbs.LibraryStatus{OnlineStatus: false}, nil
		},
	}
	provider := fbstest.StaticConfigProvider{Cfg: monitorConfig(5)}
	harness := startMonitor(t, provider, transport)

	// act
	notification := harness.nextNotification(t)

	// assert
	assert.False(t, notification.Online)
	assert.Equal(t, 0, notification.State.SuccessfulOnlineChecks)
}

func Test_Monitor_ConfigFetchFailure_SchedulesRetryInsteadOfCrashing(t *testing.T) {
	// arrange
	provider := fbstest.StaticConfigProvider{Err: errors.New("config service down")}
	harness := startMonitor(t, provider, &fbstest.ScriptedTransport{})

	// act - the bootstrap poll fails, a retry is scheduled with defaults
	first := harness.nextNotification(t)
	harness.advanceToNextPoll(t, first.State.OfflineTimeout)
	second := harness.nextNotification(t)

	// assert
	assert.False(t, first.Online)
	assert.False(t, second.Online)
	assert.Equal(t, 0, second.State.SuccessfulOnlineChecks)
}

func Test_Monitor_MissingEndpoint_TreatedAsPermanentlyOffline(t *testing.T) {
	// arrange
	cfg := monitorConfig(5)
	cfg.Endpoint = ""
	provider := fbstest.StaticConfigProvider{Cfg: cfg}
	harness := startMonitor(t, provider, &fbstest.ScriptedTransport{})

	// act
	notification := harness.nextNotification(t)

	// assert
	assert.False(t, notification.Online)
}

func Test_Monitor_ChecksDisabled_PinsSignalOnline(t *testing.T) {
	// arrange
	cfg := monitorConfig(5)
	cfg.EnableOnlineChecks = false
	provider := fbstest.StaticConfigProvider{Cfg: cfg}
	harness := startMonitor(t, provider, &fbstest.ScriptedTransport{})

	// act
	notification := harness.nextNotification(t)

	// assert
	assert.True(t, notification.Online)
	assert.True(t, harness.monitor.Online())
}

func Test_Monitor_PublishesEveryPoll_EvenWhenUnchanged(t *testing.T) {
	// arrange - back end permanently dead, signal never changes
	transport := &fbstest.ScriptedTransport{
		LibraryStatusFunc: func(context.Context) (fbs.LibraryStatus, error) {
			return fbs.LibraryStatus{}, errors.New("connection refused")
		},
	}
	provider := fbstest.StaticConfigProvider{Cfg: monitorConfig(5)}
	harness := startMonitor(t, provider, transport)

	// act + assert - three consecutive polls each publish a liveness beat
	for poll := 1; poll <= 3; poll++ {
		notification := harness.nextNotification(t)
		assert.False(t, notification.Online)
		if poll < 3 {
			harness.advanceToNextPoll(t, testOfflineTimeout)
		}
	}
}

func Test_Monitor_AtMostOnePollTimerAndOneWatchdogArmed(t *testing.T) {
	// arrange
	provider := fbstest.StaticConfigProvider{Cfg: monitorConfig(2)}
	harness := startMonitor(t, provider, &fbstest.ScriptedTransport{})

	// act - run a handful of poll cycles
	for poll := 1; poll <= 5; poll++ {
		harness.nextNotification(t)
		harness.advanceToNextPoll(t, testOnlineTimeout)
	}

	// assert - re-arming supersedes, never compounds
	assert.LessOrEqual(t, harness.clock.MaxActiveTimerCount(), 2,
		"No more than one poll timer and one watchdog may ever be armed")
}

func Test_Monitor_WatchdogForcesPollWhenPrimaryChainStalls(t *testing.T) {
	// arrange - the first library status call hangs forever
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var calls atomic.Int32
	transport := &fbstest.ScriptedTransport{
		LibraryStatusFunc: func(context.Context) (fbs.LibraryStatus, error) {
			if calls.Add(1) == 1 {
				<-release
				return fbs.LibraryStatus{}, errors.New("abandoned")
			}
			return fbs.LibraryStatus{OnlineStatus: true}, nil
		},
	}
	provider := fbstest.StaticConfigProvider{Cfg: monitorConfig(1)}
	harness := startMonitor(t, provider, transport)

	// act - only the watchdog is armed while the poll is stuck
	require.True(t, harness.clock.WaitForActiveTimers(1, waitTimeout),
		"Only the watchdog should be armed while the poll is in flight")
	harness.clock.Advance(testOnlineTimeout + testEnsureTimeout)

	// assert - the watchdog forced a fresh poll cycle
	notification := harness.nextNotification(t)
	assert.True(t, notification.Online,
		"The forced poll should complete and publish, despite the stalled first poll")
}
