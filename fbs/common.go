package fbs

import (
	"errors"
)

// ErrBackendUnavailable marks network, timeout and connection failures from
// the Transport, as well as an explicit offline status reported by the back
// end. It is the only failure class that triggers the offline fallback.
var ErrBackendUnavailable = errors.New("library back end is unavailable")

// ErrInvalidCredentials is returned by Login when the back end rejects the
// patron/password pair. It is a business-rule failure and never triggers the
// offline fallback.
var ErrInvalidCredentials = errors.New("invalid patron credentials")

// ErrLoginBlocked is returned by Login when the patron is valid but all of
// the charge, renewal, recall and hold privileges are denied.
var ErrLoginBlocked = errors.New("patron is blocked from self-service")

// ErrConfigurationMissing is returned when no back end endpoint is
// configured. The Monitor treats it as permanently offline until an
// administrator supplies an endpoint.
var ErrConfigurationMissing = errors.New("no back end endpoint configured")

// ErrPersistenceFailed is returned by the Fallback when the durable record
// of an offline transaction could not be appended. It is surfaced to the
// caller instead of a provisional success, so that an accepted-offline
// result always has a matching durable record.
var ErrPersistenceFailed = errors.New("persisting offline transaction failed")

var ErrNilConfigProvider = errors.New("config provider must not be nil")
var ErrNilTransportFactory = errors.New("transport factory must not be nil")
var ErrNilStore = errors.New("append-only store must not be nil")
var ErrNilReconciliationQueue = errors.New("reconciliation queue must not be nil")
