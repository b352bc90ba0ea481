package engine

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/metrics"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/transport"
)

// Defaults applied by Config.Validate.
const (
	DefaultTimeout               = 60 * time.Second
	DefaultInterfacePollInterval = 5 * time.Second

	// resolveTXTGrace is how long Resolve waits for a TXT record once the SRV
	// record is known.
	resolveTXTGrace = 200 * time.Millisecond

	// reconfirmRetry separates the two queries of a reconfirmation.
	reconfirmRetry = 3 * time.Second
)

// Config configures an Engine.
type Config struct {
	// Logger receives protocol diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock drives every timer. Tests inject clock.NewMock().
	Clock clock.Clock

	// Transport opens the sockets of an interface scope.
	Transport transport.Factory

	// Hostname is the host name advertised in SRV records and address
	// records, e.g. "myhost.local.".
	Hostname string

	// CacheSize bounds the record cache.
	CacheSize int

	// Timeout applies to Resolve and to QueryRecord in auto-stop mode.
	Timeout time.Duration

	// InterfacePollInterval is how often interface changes are checked.
	InterfacePollInterval time.Duration

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Dispatcher runs listener callbacks. When nil they run on the protocol
	// worker and must return quickly.
	Dispatcher func(func())

	// Diagnostic receives transport errors as they happen.
	Diagnostic func(error)

	// Jitter spreads cache refresh queries; nil means random.
	Jitter func() float64
}

// Validate fills in defaults and checks the configuration.
func (c *Config) Validate() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Transport == nil {
		c.Transport = transport.NewFactory(transport.Options{Logger: c.Logger})
	}
	if c.CacheSize <= 0 {
		c.CacheSize = cache.DefaultMaxEntries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InterfacePollInterval <= 0 {
		c.InterfacePollInterval = DefaultInterfacePollInterval
	}
	if c.Hostname == "" {
		c.Hostname = DefaultHostname()
	}
	c.Hostname = message.Fqdn(c.Hostname)
	if err := message.ValidateHostname(c.Hostname); err != nil {
		return err
	}
	// A bare label lives in the default domain (RFC 6762 §3).
	if labels, _ := message.SplitName(c.Hostname); len(labels) == 1 {
		c.Hostname += protocol.DefaultDomain
	}
	return nil
}

// DefaultHostname derives "<host>.local." from the operating system host
// name, replacing characters that are not valid in a host label.
func DefaultHostname() string {
	name, err := os.Hostname()
	if err != nil {
		name = ""
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	label := sanitizeLabel(name)
	if label == "" {
		label = "dnssd"
	}
	return label + "." + protocol.DefaultDomain
}

func sanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > protocol.MaxLabelLength {
		out = strings.TrimRight(out[:protocol.MaxLabelLength], "-")
	}
	return out
}
