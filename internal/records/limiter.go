package records

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// probeDefenseInterval is the faster limit for answering probes that
// threaten a name we own (RFC 6762 §6.2).
const probeDefenseInterval = 250 * time.Millisecond

type limiterKey struct {
	name    string
	rrtype  protocol.RecordType
	rdata   string
	ifIndex int
}

// MulticastLimiter enforces the per record, per interface multicast rate
// limit of RFC 6762 §6.2: a record is multicast on an interface at most once
// per second, or every 250 ms when defending against a probe.
type MulticastLimiter struct {
	clock clock.Clock
	last  map[limiterKey]time.Time
}

// NewMulticastLimiter creates a limiter reading time from clk.
func NewMulticastLimiter(clk clock.Clock) *MulticastLimiter {
	return &MulticastLimiter{clock: clk, last: make(map[limiterKey]time.Time)}
}

func keyFor(rr message.ResourceRecord, ifIndex int) limiterKey {
	rdata, _ := message.RDataBytes(rr.Data)
	return limiterKey{
		name:    message.CanonicalName(rr.Name),
		rrtype:  rr.Type,
		rdata:   string(rdata),
		ifIndex: ifIndex,
	}
}

// CanMulticast reports whether rr may be multicast on ifIndex now.
func (l *MulticastLimiter) CanMulticast(rr message.ResourceRecord, ifIndex int) bool {
	return l.allowed(rr, ifIndex, protocol.MinMulticastInterval)
}

// CanMulticastProbeDefense reports whether rr may be multicast on ifIndex in
// answer to a probe.
func (l *MulticastLimiter) CanMulticastProbeDefense(rr message.ResourceRecord, ifIndex int) bool {
	return l.allowed(rr, ifIndex, probeDefenseInterval)
}

func (l *MulticastLimiter) allowed(rr message.ResourceRecord, ifIndex int, interval time.Duration) bool {
	last, ok := l.last[keyFor(rr, ifIndex)]
	if !ok {
		return true
	}
	return l.clock.Since(last) >= interval
}

// NextMulticast returns when rr may next be multicast on ifIndex. The
// probe-defense interval applies when probeDefense is set.
func (l *MulticastLimiter) NextMulticast(rr message.ResourceRecord, ifIndex int, probeDefense bool) time.Time {
	interval := protocol.MinMulticastInterval
	if probeDefense {
		interval = probeDefenseInterval
	}
	last, ok := l.last[keyFor(rr, ifIndex)]
	if !ok {
		return l.clock.Now()
	}
	return last.Add(interval)
}

// RecordMulticast notes that rr was multicast on ifIndex.
func (l *MulticastLimiter) RecordMulticast(rr message.ResourceRecord, ifIndex int) {
	l.last[keyFor(rr, ifIndex)] = l.clock.Now()
}

// Prune forgets entries old enough to no longer limit anything.
func (l *MulticastLimiter) Prune() {
	for k, t := range l.last {
		if l.clock.Since(t) >= protocol.MinMulticastInterval {
			delete(l.last, k)
		}
	}
}

// Len returns the number of tracked records.
func (l *MulticastLimiter) Len() int { return len(l.last) }
