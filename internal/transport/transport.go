// Package transport provides network transport abstractions for mDNS communication.
//
// This package decouples the operation engine from specific network
// implementations, enabling a dual-stack multicast transport for production
// and an in-memory link for tests.
package transport

import (
	"context"
	"net"
)

// Scope values for interface selection.
const (
	// AllInterfaces selects every up, multicast-capable, non-loopback interface.
	AllInterfaces = 0

	// LoopbackOnly selects the loopback interface.
	LoopbackOnly = -1
)

// Interface is a network interface carrying mDNS traffic.
type Interface struct {
	Index int
	Name  string

	// Addrs are the unicast addresses of the interface, IPv4 and IPv6.
	Addrs []net.IP
}

// HasIPv4 reports whether the interface has an IPv4 address.
func (i Interface) HasIPv4() bool {
	for _, ip := range i.Addrs {
		if ip.To4() != nil {
			return true
		}
	}
	return false
}

// HasIPv6 reports whether the interface has an IPv6 address.
func (i Interface) HasIPv6() bool {
	for _, ip := range i.Addrs {
		if ip.To4() == nil && ip.To16() != nil {
			return true
		}
	}
	return false
}

// Transport abstracts network operations for sending and receiving mDNS packets.
//
// Implementations:
//   - MulticastTransport: IPv4 and IPv6 multicast on port 5353
//   - MockTransport: in-memory link for unit tests
type Transport interface {
	// Send transmits a packet on ifIndex, or on every selected interface when
	// ifIndex is 0. A nil dest means the mDNS multicast groups; otherwise the
	// packet is sent unicast to dest (RFC 6762 §5.4).
	//
	// A failure on one interface does not prevent sending on the others; the
	// returned error aggregates the per-interface failures.
	Send(ctx context.Context, packet []byte, ifIndex int, dest net.Addr) error

	// Receive waits for an incoming packet, respecting context cancellation/deadline.
	//
	// RFC 6762 §15: the interface index lets responses carry only addresses
	// valid on the receiving interface. Zero means the interface is unknown.
	Receive(ctx context.Context) (packet []byte, srcAddr net.Addr, interfaceIndex int, err error)

	// Interfaces returns the interfaces currently in use.
	Interfaces() []Interface

	// Refresh re-reads the system interfaces, joins the groups on new ones and
	// forgets vanished ones. It reports whether the set or their addresses changed.
	Refresh() (changed bool, err error)

	// Close releases network resources. Receive returns ErrClosed afterwards.
	Close() error
}

// Factory opens a transport for an interface scope.
type Factory func(scope int) (Transport, error)
