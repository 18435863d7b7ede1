package fbs

import (
	"context"
	"time"
)

// Transport exchanges one framed request/response pair per call with the
// library back end over the line protocol. Implementations own connection
// handling and wire encoding.
//
// Error contract: connection, timeout and protocol-session failures must be
// reported as errors matching ErrBackendUnavailable (errors.Is). Business
// rejections (item not found, patron blocked, ...) are not errors at this
// level - they come back as structured results with OK set to "0" and a
// screen message.
type Transport interface {
	LibraryStatus(ctx context.Context) (LibraryStatus, error)
	PatronStatus(ctx context.Context, username string, password string) (PatronStatus, error)
	PatronInformation(ctx context.Context, username string, password string) (Patron, error)
	Checkout(ctx context.Context, request CheckoutRequest) (CheckoutResult, error)
	CheckIn(ctx context.Context, request CheckinRequest) (CheckinResult, error)
	Renew(ctx context.Context, username string, password string, itemIdentifier string) (RenewResult, error)
	RenewAll(ctx context.Context, username string, password string) (RenewAllResult, error)
	BlockPatron(ctx context.Context, username string, reason string) (BlockResult, error)
}

// TransportFactory opens a Transport for the given configuration. The Facade
// calls it once per instance, so administrative endpoint changes take effect
// on the next call without a restart.
type TransportFactory func(cfg Config) (Transport, error)

// LibraryStatus is the back end's self-reported status.
type LibraryStatus struct {
	OnlineStatus      bool
	CheckoutOK        bool
	CheckinOK         bool
	RenewalPolicyOK   bool
	StatusUpdateOK    bool
	OfflineOK         bool
	InstitutionID     string
	SupportedMessages string
}

// PatronStatus is the compact patron record used for login decisions.
type PatronStatus struct {
	PatronIdentifier    string
	PersonalName        string
	ValidPatron         bool
	ValidPatronPassword bool
	ChargePrivDenied    bool
	RenewalPrivDenied   bool
	RecallPrivDenied    bool
	HoldPrivDenied      bool
	FeeAmount           string
	ScreenMessage       string
}

// Patron is the full patron record.
type Patron struct {
	PatronIdentifier    string
	PersonalName        string
	ValidPatron         bool
	ValidPatronPassword bool
	EmailAddress        string
	HomeAddress         string
	HoldItems           []Item
	OverdueItems        []Item
	ChargedItems        []Item
	FineItems           []Item
	RecallItems         []Item
	UnavailableHolds    []Item
	FeeAmount           string
	ScreenMessage       string
}

// Item identifies a single circulation item in a patron record.
type Item struct {
	ItemIdentifier string
	Title          string
	DueDate        time.Time
}

// CheckoutRequest carries the arguments of a checkout call.
//
// NoBlock instructs the back end to accept the transaction unconditionally
// and to treat NoBlockDueDate as authoritative; it is used when replaying
// offline transactions. Queued marks the request as such a replay, which
// disables the offline fallback for it. Zero-valued dates are defaulted by
// the Fallback (TransactionDate to "now", NoBlockDueDate to 31 days from
// now); a replay supplies its own historical timestamps.
type CheckoutRequest struct {
	Username        string
	Password        string
	ItemIdentifier  string
	NoBlockDueDate  time.Time
	NoBlock         bool
	TransactionDate time.Time
	Queued          bool
}

// CheckinRequest carries the arguments of a check-in call. See
// CheckoutRequest for the NoBlock and Queued semantics.
type CheckinRequest struct {
	ItemIdentifier string
	CheckedInDate  time.Time
	NoBlock        bool
	Queued         bool
}

// CheckoutResult is the outcome of a checkout. Offline marks a provisional
// result synthesized by the Fallback while the back end was unreachable.
type CheckoutResult struct {
	OK               string
	ItemIdentifier   string
	Title            string
	DueDate          time.Time
	RenewalOK        bool
	ItemProperties   string
	ScreenMessage    string
	Offline          bool
	PatronIdentifier string
}

// CheckinResult is the outcome of a check-in.
type CheckinResult struct {
	OK                string
	ItemIdentifier    string
	Title             string
	PermanentLocation string
	ScreenMessage     string
	Offline           bool
}

// RenewResult is the outcome of renewing a single item.
type RenewResult struct {
	OK             string
	ItemIdentifier string
	Title          string
	DueDate        time.Time
	ScreenMessage  string
}

// RenewAllResult is the outcome of renewing every charged item of a patron.
type RenewAllResult struct {
	OK             string
	RenewedItems   []string
	UnrenewedItems []string
	ScreenMessage  string
}

// BlockResult confirms that a patron block was placed.
type BlockResult struct {
	OK               string
	PatronIdentifier string
	ScreenMessage    string
}
