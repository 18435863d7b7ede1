package bus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibsdb/bibselv/fbs"
	"github.com/bibsdb/bibselv/fbs/bus"
	"github.com/bibsdb/bibselv/testutil/fbstest"
)

type adapterFixture struct {
	bus   *bus.Bus
	store *fbstest.InMemoryStore
	queue *fbstest.QueueSpy
}

func bindAdapter(t *testing.T, transport fbs.Transport, options ...bus.AdapterOption) adapterFixture {
	t.Helper()

	cfg := fbs.Config{
		Endpoint:           "sip2://backend.example:6001",
		EnableOnlineChecks: true,
	}

	return bindAdapterWith(t, fbstest.StaticConfigProvider{Cfg: cfg}, transport, options...)
}

func bindAdapterWith(t *testing.T, provider fbs.ConfigProvider, transport fbs.Transport, options ...bus.AdapterOption) adapterFixture {
	t.Helper()

	messageBus := bus.New()
	store := fbstest.NewInMemoryStore()
	queue := fbstest.NewQueueSpy()

	fallback, err := fbs.NewFallback(store, queue)
	require.NoError(t, err)

	adapter, err := bus.NewAdapter(messageBus, provider, fbstest.StaticTransportFactory(transport), fallback, options...)
	require.NoError(t, err)

	release, err := adapter.Bind()
	require.NoError(t, err)
	t.Cleanup(release)

	return adapterFixture{bus: messageBus, store: store, queue: queue}
}

func requestCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	return ctx
}

func mustMarshal(t *testing.T, value any) []byte {
	t.Helper()

	payload, err := jsoniter.ConfigFastest.Marshal(value)
	require.NoError(t, err)

	return payload
}

func offlineCirculationTransport() *fbstest.ScriptedTransport {
	unavailable := errors.Join(fbs.ErrBackendUnavailable, errors.New("connection refused"))

	return &fbstest.ScriptedTransport{
		CheckoutFunc: func(context.Context, fbs.CheckoutRequest) (fbs.CheckoutResult, error) {
			return fbs.CheckoutResult{}, unavailable
		},
		CheckInFunc: func(context.Context, fbs.CheckinRequest) (fbs.CheckinResult, error) {
			return fbs.CheckinResult{}, unavailable
		},
	}
}

func Test_Adapter_Login_Success(t *testing.T) {
	// arrange
	clock := fbstest.NewFakeClock(time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC))
	fixture := bindAdapter(t, &fbstest.ScriptedTransport{}, bus.WithAdapterClock(clock))
	payload := mustMarshal(t, bus.CredentialsPayload{Username: "patron-0042", Password: "pin"})

	// act
	reply, err := fixture.bus.Request(requestCtx(t), bus.SubjectLogin, payload)

	// assert - a login answer is the timestamp alone, no patron data leaves
	// the subsystem
	require.NoError(t, err)

	var envelope struct {
		Timestamp time.Time `json:"timestamp"`
		Patron    any       `json:"patron"`
		Result    any       `json:"result"`
	}
	require.NoError(t, jsoniter.ConfigFastest.Unmarshal(reply, &envelope))
	assert.True(t, clock.Now().Equal(envelope.Timestamp))
	assert.Nil(t, envelope.Patron)
	assert.Nil(t, envelope.Result)
}

func Test_Adapter_Login_Error_InvalidCredentials(t *testing.T) {
	// arrange
	transport := &fbstest.ScriptedTransport{
		PatronStatusFunc: func(_ context.Context, username, _ string) (fbs.PatronStatus, error) {
			return fbs.PatronStatus{PatronIdentifier: username, ValidPatron: false}, nil
		},
	}
	fixture := bindAdapter(t, transport)
	payload := mustMarshal(t, bus.CredentialsPayload{Username: "patron-0042", Password: "wrong"})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectLogin, payload)

	// assert - only the translated key crosses the bus
	require.ErrorIs(t, err, bus.ErrRequestFailed)
	assert.Contains(t, err.Error(), bus.FailureInvalidCredentials)
}

func Test_Adapter_LibraryStatus_Success(t *testing.T) {
	// arrange
	fixture := bindAdapter(t, &fbstest.ScriptedTransport{})

	// act
	reply, err := fixture.bus.Request(requestCtx(t), bus.SubjectLibraryStatus, nil)

	// assert
	require.NoError(t, err)

	var envelope struct {
		Timestamp time.Time         `json:"timestamp"`
		Results   fbs.LibraryStatus `json:"results"`
	}
	require.NoError(t, jsoniter.ConfigFastest.Unmarshal(reply, &envelope))
	assert.False(t, envelope.Timestamp.IsZero())
	assert.True(t, envelope.Results.OnlineStatus)
}

func Test_Adapter_Checkout_BackendDown_AnswersProvisionally(t *testing.T) {
	// arrange
	fixture := bindAdapter(t, offlineCirculationTransport())
	payload := mustMarshal(t, bus.CheckoutPayload{
		Username:       "patron-0042",
		Password:       "pin",
		ItemIdentifier: "book-1001",
	})

	// act
	reply, err := fixture.bus.Request(requestCtx(t), bus.SubjectCheckout, payload)

	// assert - the terminal sees a provisional success, the record is durable
	require.NoError(t, err)

	var envelope struct {
		Timestamp time.Time          `json:"timestamp"`
		Result    fbs.CheckoutResult `json:"result"`
	}
	require.NoError(t, jsoniter.ConfigFastest.Unmarshal(reply, &envelope))
	assert.False(t, envelope.Timestamp.IsZero())
	assert.Equal(t, "1", envelope.Result.OK)
	assert.True(t, envelope.Result.Offline)
	assert.Equal(t, "book-1001", envelope.Result.ItemIdentifier)

	assert.Equal(t, 1, fixture.store.AppendCount())
	assert.Len(t, fixture.queue.Entries(), 1)
}

func Test_Adapter_Checkout_PersistenceFailure_AnswersWithPersistenceKey(t *testing.T) {
	// arrange
	fixture := bindAdapter(t, offlineCirculationTransport())
	fixture.store.FailWith = errors.New("disk full")
	payload := mustMarshal(t, bus.CheckoutPayload{Username: "patron-0042", ItemIdentifier: "book-1001"})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectCheckout, payload)

	// assert
	require.ErrorIs(t, err, bus.ErrRequestFailed)
	assert.Contains(t, err.Error(), bus.FailurePersistenceFailed)
	assert.Empty(t, fixture.queue.Entries())
}

func Test_Adapter_Checkout_ForwardsDatesAndNoBlock(t *testing.T) {
	// arrange - a caller supplies its own historical dates, they must reach
	// the back end untouched
	var seen fbs.CheckoutRequest
	transport := &fbstest.ScriptedTransport{
		CheckoutFunc: func(_ context.Context, request fbs.CheckoutRequest) (fbs.CheckoutResult, error) {
			seen = request
			return fbs.CheckoutResult{OK: "1", ItemIdentifier: request.ItemIdentifier}, nil
		},
	}
	fixture := bindAdapter(t, transport)

	transactionDate := time.Date(2026, time.January, 5, 14, 0, 0, 0, time.UTC)
	dueDate := transactionDate.Add(fbs.DefaultNoBlockDuePeriod)
	payload := mustMarshal(t, bus.CheckoutPayload{
		Username:        "patron-0042",
		Password:        "pin",
		ItemIdentifier:  "book-1001",
		NoBlockDueDate:  dueDate,
		NoBlock:         true,
		TransactionDate: transactionDate,
	})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectCheckout, payload)

	// assert
	require.NoError(t, err)
	assert.True(t, seen.NoBlock)
	assert.True(t, seen.TransactionDate.Equal(transactionDate))
	assert.True(t, seen.NoBlockDueDate.Equal(dueDate))
}

func Test_Adapter_Checkout_QueuedReplay_BypassesOfflineFallback(t *testing.T) {
	// arrange - a replay must not answer provisionally or re-persist itself
	// when the back end is still down
	fixture := bindAdapter(t, offlineCirculationTransport())
	payload := mustMarshal(t, bus.CheckoutPayload{
		Username:       "patron-0042",
		Password:       "pin",
		ItemIdentifier: "book-1001",
		NoBlock:        true,
		Queued:         true,
	})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectCheckout, payload)

	// assert
	require.ErrorIs(t, err, bus.ErrRequestFailed)
	assert.Contains(t, err.Error(), bus.FailureBackendUnavailable)
	assert.Zero(t, fixture.store.AppendCount())
	assert.Empty(t, fixture.queue.Entries())
}

func Test_Adapter_Checkin_ForwardsCheckedInDateAndQueued(t *testing.T) {
	// arrange
	var seen fbs.CheckinRequest
	transport := &fbstest.ScriptedTransport{
		CheckInFunc: func(_ context.Context, request fbs.CheckinRequest) (fbs.CheckinResult, error) {
			seen = request
			return fbs.CheckinResult{OK: "1", ItemIdentifier: request.ItemIdentifier}, nil
		},
	}
	fixture := bindAdapter(t, transport)

	checkedInDate := time.Date(2026, time.January, 5, 14, 0, 0, 0, time.UTC)
	payload := mustMarshal(t, bus.CheckinPayload{
		ItemIdentifier: "book-1001",
		CheckedInDate:  checkedInDate,
		NoBlock:        true,
		Queued:         true,
	})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectCheckin, payload)

	// assert
	require.NoError(t, err)
	assert.True(t, seen.NoBlock)
	assert.True(t, seen.Queued)
	assert.True(t, seen.CheckedInDate.Equal(checkedInDate))
}

func Test_Adapter_Renew_Error_BackendUnavailable(t *testing.T) {
	// arrange - renew has no offline fallback
	transport := &fbstest.ScriptedTransport{
		RenewFunc: func(context.Context, string, string, string) (fbs.RenewResult, error) {
			return fbs.RenewResult{}, errors.Join(fbs.ErrBackendUnavailable, errors.New("connection refused"))
		},
	}
	fixture := bindAdapter(t, transport)
	payload := mustMarshal(t, bus.RenewPayload{Username: "patron-0042", ItemIdentifier: "book-1001"})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectRenew, payload)

	// assert
	require.ErrorIs(t, err, bus.ErrRequestFailed)
	assert.Contains(t, err.Error(), bus.FailureBackendUnavailable)
}

func Test_Adapter_MissingConfiguration_AnswersWithConfigurationKey(t *testing.T) {
	// arrange
	provider := fbstest.StaticConfigProvider{Cfg: fbs.Config{Endpoint: ""}}
	fixture := bindAdapterWith(t, provider, &fbstest.ScriptedTransport{})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectLibraryStatus, nil)

	// assert
	require.ErrorIs(t, err, bus.ErrRequestFailed)
	assert.Contains(t, err.Error(), bus.FailureConfigurationMissing)
}

func Test_Adapter_MalformedPayload_AnswersWithBadRequestKey(t *testing.T) {
	// arrange
	fixture := bindAdapter(t, &fbstest.ScriptedTransport{})

	// act
	_, err := fixture.bus.Request(requestCtx(t), bus.SubjectLogin, []byte("{not json"))

	// assert
	require.ErrorIs(t, err, bus.ErrRequestFailed)
	assert.Contains(t, err.Error(), bus.FailureBadRequest)
}

func Test_Adapter_ConcurrentCheckins_EachTerminalGetsItsOwnAnswer(t *testing.T) {
	// arrange - hold every check-in until all of them are in flight, so the
	// answers come back interleaved
	const concurrent = 4

	inFlight := sync.WaitGroup{}
	inFlight.Add(concurrent)

	transport := &fbstest.ScriptedTransport{
		CheckInFunc: func(_ context.Context, request fbs.CheckinRequest) (fbs.CheckinResult, error) {
			inFlight.Done()
			inFlight.Wait()

			return fbs.CheckinResult{OK: "1", ItemIdentifier: request.ItemIdentifier}, nil
		},
	}
	fixture := bindAdapter(t, transport)

	// act
	items := [concurrent]string{"book-1001", "book-1002", "book-1003", "book-1004"}
	results := [concurrent]struct {
		Result fbs.CheckinResult `json:"result"`
	}{}
	requestErrs := [concurrent]error{}

	requests := sync.WaitGroup{}
	for i := 0; i < concurrent; i++ {
		i := i
		requests.Add(1)
		go func() {
			defer requests.Done()

			payload, marshalErr := jsoniter.ConfigFastest.Marshal(bus.CheckinPayload{ItemIdentifier: items[i]})
			if marshalErr != nil {
				requestErrs[i] = marshalErr
				return
			}

			reply, requestErr := fixture.bus.Request(requestCtx(t), bus.SubjectCheckin, payload)
			if requestErr != nil {
				requestErrs[i] = requestErr
				return
			}

			requestErrs[i] = jsoniter.ConfigFastest.Unmarshal(reply, &results[i])
		}()
	}
	requests.Wait()

	// assert - no cross-talk between the correlated answers
	for i := 0; i < concurrent; i++ {
		require.NoError(t, requestErrs[i])
		assert.Equal(t, items[i], results[i].Result.ItemIdentifier)
	}
}

func Test_Adapter_PublishStatus_ForwardsToOnlineAndOfflineSubjects(t *testing.T) {
	// arrange
	messageBus := bus.New()
	fallback, err := fbs.NewFallback(fbstest.NewInMemoryStore(), fbstest.NewQueueSpy())
	require.NoError(t, err)

	provider := fbstest.StaticConfigProvider{Cfg: fbs.Config{Endpoint: "sip2://backend.example:6001"}}
	adapter, err := bus.NewAdapter(messageBus, provider, fbstest.StaticTransportFactory(&fbstest.ScriptedTransport{}), fallback)
	require.NoError(t, err)

	var online, offline []fbs.StatusNotification
	_, err = messageBus.Subscribe(bus.SubjectOnline, func(_ context.Context, envelope bus.Envelope) {
		var notification fbs.StatusNotification
		require.NoError(t, jsoniter.ConfigFastest.Unmarshal(envelope.Payload, &notification))
		online = append(online, notification)
	})
	require.NoError(t, err)
	_, err = messageBus.Subscribe(bus.SubjectOffline, func(_ context.Context, envelope bus.Envelope) {
		var notification fbs.StatusNotification
		require.NoError(t, jsoniter.ConfigFastest.Unmarshal(envelope.Payload, &notification))
		offline = append(offline, notification)
	})
	require.NoError(t, err)

	// act
	adapter.PublishStatus(fbs.StatusNotification{Online: true})
	adapter.PublishStatus(fbs.StatusNotification{Online: false})
	adapter.PublishStatus(fbs.StatusNotification{Online: false})

	// assert
	assert.Len(t, online, 1)
	assert.Len(t, offline, 2)
}

func Test_Adapter_PublishesActionResultPerOperation(t *testing.T) {
	// arrange
	fixture := bindAdapter(t, &fbstest.ScriptedTransport{})

	var mu sync.Mutex
	var actions []bus.ActionResultPayload
	_, err := fixture.bus.Subscribe(bus.SubjectActionResult, func(_ context.Context, envelope bus.Envelope) {
		var action bus.ActionResultPayload
		require.NoError(t, jsoniter.ConfigFastest.Unmarshal(envelope.Payload, &action))

		mu.Lock()
		actions = append(actions, action)
		mu.Unlock()
	})
	require.NoError(t, err)

	// act
	_, err = fixture.bus.Request(requestCtx(t), bus.SubjectLibraryStatus, nil)
	require.NoError(t, err)

	// assert
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, actions, 1)
	assert.Equal(t, "libraryStatus", actions[0].Operation)
	assert.False(t, actions[0].Failed)
}
