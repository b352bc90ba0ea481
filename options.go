package dnssd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuafuller/dnssd/internal/engine"
	"github.com/joshuafuller/dnssd/internal/metrics"
	"github.com/joshuafuller/dnssd/internal/transport"
)

// Defaults used when no option overrides them.
const (
	// DefaultTimeout bounds Resolve and auto-stop QueryRecord operations.
	DefaultTimeout = engine.DefaultTimeout

	// DefaultLinger is how long the engine stays up after its last
	// operation ends.
	DefaultLinger = 5 * time.Second

	// DefaultCacheSize bounds the record cache.
	DefaultCacheSize = 4096

	// DefaultInterfacePollInterval is how often interface changes are
	// checked.
	DefaultInterfacePollInterval = engine.DefaultInterfacePollInterval
)

// Option configures a DNSSD value.
//
// Example:
//
//	d, err := dnssd.New(
//	    dnssd.WithHostname("kiosk.local."),
//	    dnssd.WithTimeout(10*time.Second),
//	)
type Option func(*options) error

type options struct {
	engine     engine.Config
	linger     time.Duration
	registerer prometheus.Registerer
	ipv4Only   bool
	ipv6Only   bool
}

func defaultOptions() options {
	return options{
		engine: engine.Config{
			Logger:                slog.Default(),
			Clock:                 clock.New(),
			CacheSize:             DefaultCacheSize,
			Timeout:               DefaultTimeout,
			InterfacePollInterval: DefaultInterfacePollInterval,
		},
		linger: DefaultLinger,
	}
}

// WithLogger sets the logger for protocol diagnostics. The default is
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		o.engine.Logger = logger
		return nil
	}
}

// WithDispatcher runs every listener callback through dispatch instead of
// on the protocol worker. A GUI event loop or a channel-draining goroutine
// is a typical dispatcher. Callbacks of one DNSSD value are handed to
// dispatch in order; dispatch must preserve that order.
func WithDispatcher(dispatch func(func())) Option {
	return func(o *options) error {
		o.engine.Dispatcher = dispatch
		return nil
	}
}

// WithTimeout sets the timeout of Resolve and of auto-stop QueryRecord
// operations.
func WithTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		o.engine.Timeout = d
		return nil
	}
}

// WithLinger sets how long the engine stays up after its last operation
// ends. Zero closes it at once.
func WithLinger(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return fmt.Errorf("linger must not be negative, got %v", d)
		}
		o.linger = d
		return nil
	}
}

// WithCacheSize bounds the number of cached records. When the cache is full
// the records closest to expiry are evicted first.
func WithCacheSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("cache size must be positive, got %d", n)
		}
		o.engine.CacheSize = n
		return nil
	}
}

// WithHostname sets the host name published in SRV and address records.
//
// RFC 6762 §6.1: the name must live in the ".local." domain to be answered
// by other responders. "kiosk" and "kiosk.local" both become "kiosk.local.".
// The default derives the name from os.Hostname.
func WithHostname(hostname string) Option {
	return func(o *options) error {
		o.engine.Hostname = hostname
		return nil
	}
}

// WithTransportFactory replaces the multicast sockets. It is used by tests
// and tools inside this module to run the protocol over an in-memory hub.
func WithTransportFactory(f transport.Factory) Option {
	return func(o *options) error {
		o.engine.Transport = f
		return nil
	}
}

// WithClock replaces the clock driving every timer.
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		if c == nil {
			return fmt.Errorf("clock must not be nil")
		}
		o.engine.Clock = c
		return nil
	}
}

// WithMetricsRegisterer registers Prometheus collectors for packets, cache
// occupancy, operations and conflicts with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithInterfacePollInterval sets how often interfaces are checked for
// changes. Records learned on a vanished interface are purged.
func WithInterfacePollInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("interface poll interval must be positive, got %v", d)
		}
		o.engine.InterfacePollInterval = d
		return nil
	}
}

// WithDiagnosticHandler receives transport errors that do not end an
// operation, such as a failed send on one interface.
func WithDiagnosticHandler(fn func(error)) Option {
	return func(o *options) error {
		o.engine.Diagnostic = fn
		return nil
	}
}

// WithIPv4Only disables IPv6 sockets.
func WithIPv4Only() Option {
	return func(o *options) error {
		o.ipv4Only = true
		return nil
	}
}

// WithIPv6Only disables IPv4 sockets.
func WithIPv6Only() Option {
	return func(o *options) error {
		o.ipv6Only = true
		return nil
	}
}

// build applies opts and returns a validated engine configuration.
func (o *options) build() (engine.Config, error) {
	if o.ipv4Only && o.ipv6Only {
		return engine.Config{}, fmt.Errorf("WithIPv4Only and WithIPv6Only are mutually exclusive")
	}
	cfg := o.engine
	if cfg.Transport == nil {
		cfg.Transport = transport.NewFactory(transport.Options{
			DisableIPv4: o.ipv6Only,
			DisableIPv6: o.ipv4Only,
			Logger:      cfg.Logger,
		})
	}
	if o.registerer != nil {
		m, err := metrics.New(o.registerer)
		if err != nil {
			return engine.Config{}, fmt.Errorf("register metrics: %w", err)
		}
		cfg.Metrics = m
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}
