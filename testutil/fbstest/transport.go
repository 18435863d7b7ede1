package fbstest

import (
	"context"

	"github.com/bibsdb/bibselv/fbs"
)

// ScriptedTransport implements fbs.Transport with per-operation functions.
// Unset operations succeed with zero-valued results, so a test only scripts
// what it cares about.
type ScriptedTransport struct {
	LibraryStatusFunc     func(ctx context.Context) (fbs.LibraryStatus, error)
	PatronStatusFunc      func(ctx context.Context, username, password string) (fbs.PatronStatus, error)
	PatronInformationFunc func(ctx context.Context, username, password string) (fbs.Patron, error)
	CheckoutFunc          func(ctx context.Context, request fbs.CheckoutRequest) (fbs.CheckoutResult, error)
	CheckInFunc           func(ctx context.Context, request fbs.CheckinRequest) (fbs.CheckinResult, error)
	RenewFunc             func(ctx context.Context, username, password, itemIdentifier string) (fbs.RenewResult, error)
	RenewAllFunc          func(ctx context.Context, username, password string) (fbs.RenewAllResult, error)
	BlockPatronFunc       func(ctx context.Context, username, reason string) (fbs.BlockResult, error)
}

func (t *ScriptedTransport) LibraryStatus(ctx context.Context) (fbs.LibraryStatus, error) {
	if t.LibraryStatusFunc != nil {
		return t.LibraryStatusFunc(ctx)
	}

	return fbs.LibraryStatus{OnlineStatus: true}, nil
}

func (t *ScriptedTransport) PatronStatus(ctx context.Context, username, password string) (fbs.PatronStatus, error) {
	if t.PatronStatusFunc != nil {
		return t.PatronStatusFunc(ctx, username, password)
	}

	return fbs.PatronStatus{
		PatronIdentifier:    username,
		ValidPatron:         true,
		ValidPatronPassword: true,
	}, nil
}

func (t *ScriptedTransport) PatronInformation(ctx context.Context, username, password string) (fbs.Patron, error) {
	if t.PatronInformationFunc != nil {
		return t.PatronInformationFunc(ctx, username, password)
	}

	return fbs.Patron{
		PatronIdentifier:    username,
		ValidPatron:         true,
		ValidPatronPassword: true,
	}, nil
}

func (t *ScriptedTransport) Checkout(ctx context.Context, request fbs.CheckoutRequest) (fbs.CheckoutResult, error) {
	if t.CheckoutFunc != nil {
		return t.CheckoutFunc(ctx, request)
	}

	return fbs.CheckoutResult{OK: "1", ItemIdentifier: request.ItemIdentifier}, nil
}

func (t *ScriptedTransport) CheckIn(ctx context.Context, request fbs.CheckinRequest) (fbs.CheckinResult, error) {
	if t.CheckInFunc != nil {
		return t.CheckInFunc(ctx, request)
	}

	return fbs.CheckinResult{OK: "1", ItemIdentifier: request.ItemIdentifier}, nil
}

func (t *ScriptedTransport) Renew(ctx context.Context, username, password, itemIdentifier string) (fbs.RenewResult, error) {
	if t.RenewFunc != nil {
		return t.RenewFunc(ctx, username, password, itemIdentifier)
	}

	return fbs.RenewResult{OK: "1", ItemIdentifier: itemIdentifier}, nil
}

func (t *ScriptedTransport) RenewAll(ctx context.Context, username, password string) (fbs.RenewAllResult, error) {
	if t.RenewAllFunc != nil {
		return t.RenewAllFunc(ctx, username, password)
	}

	return fbs.RenewAllResult{OK: "1"}, nil
}

func (t *ScriptedTransport) BlockPatron(ctx context.Context, username, reason string) (fbs.BlockResult, error) {
	if t.BlockPatronFunc != nil {
		return t.BlockPatronFunc(ctx, username, reason)
	}

	return fbs.BlockResult{OK: "1", PatronIdentifier: username}, nil
}

// StaticTransportFactory returns a factory handing out the same transport
// for every configuration.
func StaticTransportFactory(transport fbs.Transport) fbs.TransportFactory {
	return func(fbs.Config) (fbs.Transport, error) {
		return transport, nil
	}
}

// FailingTransportFactory returns a factory that always fails with the given
// error.
func FailingTransportFactory(err error) fbs.TransportFactory {
	return func(fbs.Config) (fbs.Transport, error) {
		return nil, err
	}
}

// StaticConfigProvider answers every config request with the same values.
type StaticConfigProvider struct {
	Cfg fbs.Config
	Err error
}

func (p StaticConfigProvider) Config(context.Context) (fbs.Config, error) {
	if p.Err != nil {
		return fbs.Config{}, p.Err
	}

	return p.Cfg, nil
}
