package main

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/bibsdb/bibselv/fbs"
)

// simulatedTransport plays the role of the circulation back end so the
// gateway can be run without one. A configurable failure rate makes calls
// fail with fbs.ErrBackendUnavailable, which drives the monitor's hysteresis
// and the offline fallback exactly like a real outage would.
type simulatedTransport struct {
	cfg         fbs.Config
	failureRate float64

	mu   sync.Mutex
	rand *rand.Rand
}

func newSimulatedTransport(cfg fbs.Config, failureRate float64) *simulatedTransport {
	return &simulatedTransport{
		cfg:         cfg,
		failureRate: failureRate,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// simulatedFactory returns a fbs.TransportFactory producing simulated
// transports with the given failure rate.
func simulatedFactory(failureRate float64) fbs.TransportFactory {
	return func(cfg fbs.Config) (fbs.Transport, error) {
		return newSimulatedTransport(cfg, failureRate), nil
	}
}

func (t *simulatedTransport) maybeFail() error {
	t.mu.Lock()
	roll := t.rand.Float64()
	t.mu.Unlock()

	if roll < t.failureRate {
		return errors.Join(fbs.ErrBackendUnavailable, errors.New("simulated outage"))
	}

	return nil
}

func (t *simulatedTransport) LibraryStatus(_ context.Context) (fbs.LibraryStatus, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.LibraryStatus{}, err
	}

	return fbs.LibraryStatus{
		OnlineStatus:    true,
		CheckoutOK:      true,
		CheckinOK:       true,
		RenewalPolicyOK: true,
		OfflineOK:       true,
		InstitutionID:   "SIM",
	}, nil
}

func (t *simulatedTransport) PatronStatus(_ context.Context, username string, _ string) (fbs.PatronStatus, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.PatronStatus{}, err
	}

	return fbs.PatronStatus{
		PatronIdentifier:    username,
		PersonalName:        "Simulated Patron",
		ValidPatron:         true,
		ValidPatronPassword: true,
	}, nil
}

func (t *simulatedTransport) PatronInformation(_ context.Context, username string, _ string) (fbs.Patron, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.Patron{}, err
	}

	return fbs.Patron{
		PatronIdentifier:    username,
		PersonalName:        "Simulated Patron",
		ValidPatron:         true,
		ValidPatronPassword: true,
	}, nil
}

func (t *simulatedTransport) Checkout(_ context.Context, request fbs.CheckoutRequest) (fbs.CheckoutResult, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.CheckoutResult{}, err
	}

	dueDate := request.NoBlockDueDate
	if dueDate.IsZero() {
		dueDate = time.Now().Add(fbs.DefaultNoBlockDuePeriod)
	}

	return fbs.CheckoutResult{
		OK:               "1",
		ItemIdentifier:   request.ItemIdentifier,
		Title:            "Simulated Title",
		DueDate:          dueDate,
		RenewalOK:        true,
		PatronIdentifier: request.Username,
	}, nil
}

func (t *simulatedTransport) CheckIn(_ context.Context, request fbs.CheckinRequest) (fbs.CheckinResult, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.CheckinResult{}, err
	}

	return fbs.CheckinResult{
		OK:                "1",
		ItemIdentifier:    request.ItemIdentifier,
		Title:             "Simulated Title",
		PermanentLocation: "SIM-SHELF",
	}, nil
}

func (t *simulatedTransport) Renew(_ context.Context, _ string, _ string, itemIdentifier string) (fbs.RenewResult, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.RenewResult{}, err
	}

	return fbs.RenewResult{
		OK:             "1",
		ItemIdentifier: itemIdentifier,
		Title:          "Simulated Title",
		DueDate:        time.Now().Add(fbs.DefaultNoBlockDuePeriod),
	}, nil
}

func (t *simulatedTransport) RenewAll(_ context.Context, _ string, _ string) (fbs.RenewAllResult, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.RenewAllResult{}, err
	}

	return fbs.RenewAllResult{OK: "1"}, nil
}

func (t *simulatedTransport) BlockPatron(_ context.Context, username string, _ string) (fbs.BlockResult, error) {
	if err := t.maybeFail(); err != nil {
		return fbs.BlockResult{}, err
	}

	return fbs.BlockResult{
		OK:               "1",
		PatronIdentifier: username,
	}, nil
}
