package fbs

import (
	"context"
	"time"
)

const (
	defaultThreshold                = 5
	defaultOnlineTimeout            = 30 * time.Second
	defaultOfflineTimeout           = 10 * time.Second
	defaultEnsureOnlineCheckTimeout = 60 * time.Second
)

// OnlineStateConfig tunes the Monitor's state machine.
type OnlineStateConfig struct {
	// Threshold is the number of consecutive successful checks required
	// before flipping from offline back to online.
	Threshold int

	// OnlineTimeout is the poll interval while online, OfflineTimeout the
	// poll interval while offline.
	OnlineTimeout  time.Duration
	OfflineTimeout time.Duration

	// EnsureOnlineCheckTimeout is added to OnlineTimeout to form the
	// watchdog interval that guards against the primary poll timer
	// silently dying.
	EnsureOnlineCheckTimeout time.Duration
}

// Config is the runtime configuration of the integration layer. It is
// fetched fresh through a ConfigProvider before every Facade construction
// and every Monitor poll, so administrative changes take effect without a
// restart.
type Config struct {
	// Endpoint addresses the library back end. An empty endpoint means the
	// system is unconfigured and is treated as permanently offline.
	Endpoint string

	// Username and Password are the terminal's own credentials for the
	// protocol session.
	Username string
	Password string

	OnlineState OnlineStateConfig

	// EnableOnlineChecks pins the published signal online without polling
	// when false. Used on installations without a reachable back end.
	EnableOnlineChecks bool
}

// ConfigProvider answers configuration requests. Implementations must return
// the current administrative configuration on every call, never a cached
// copy from construction time.
type ConfigProvider interface {
	Config(ctx context.Context) (Config, error)
}

// ConfigProviderFunc adapts a function to the ConfigProvider interface.
type ConfigProviderFunc func(ctx context.Context) (Config, error)

// Config implements ConfigProvider.
func (f ConfigProviderFunc) Config(ctx context.Context) (Config, error) {
	return f(ctx)
}

// withDefaults fills unset monitor tunables with their defaults.
func (c Config) withDefaults() Config {
	if c.OnlineState.Threshold <= 0 {
		c.OnlineState.Threshold = defaultThreshold
	}
	if c.OnlineState.OnlineTimeout <= 0 {
		c.OnlineState.OnlineTimeout = defaultOnlineTimeout
	}
	if c.OnlineState.OfflineTimeout <= 0 {
		c.OnlineState.OfflineTimeout = defaultOfflineTimeout
	}
	if c.OnlineState.EnsureOnlineCheckTimeout <= 0 {
		c.OnlineState.EnsureOnlineCheckTimeout = defaultEnsureOnlineCheckTimeout
	}

	return c
}
