package transport

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Packet is a datagram carried by a Hub.
type Packet struct {
	Data    []byte
	From    *net.UDPAddr
	To      net.Addr // nil for multicast
	IfIndex int
}

// Hub is an in-memory link connecting MockTransports. Multicast sends reach
// every transport attached to the same interface index, including the
// sender, as IP_MULTICAST_LOOP does.
type Hub struct {
	mu    sync.Mutex
	nodes []*MockTransport
	sent  []Packet
	taps  []func(Packet)
	seq   int
}

// NewHub creates an empty link.
func NewHub() *Hub {
	return &Hub{}
}

// DefaultInterface returns the interface given to transports created without
// an explicit list. Each call yields a distinct host address.
func (h *Hub) DefaultInterface() Interface {
	h.mu.Lock()
	h.seq++
	n := h.seq
	h.mu.Unlock()
	return Interface{
		Index: 1,
		Name:  "mock0",
		Addrs: []net.IP{
			net.IPv4(192, 168, 1, byte(10+n)).To4(),
			net.ParseIP(fmt.Sprintf("fe80::%x", 0x10+n)),
		},
	}
}

// NewTransport attaches a transport with the given interfaces, or with
// DefaultInterface when none are given.
func (h *Hub) NewTransport(ifaces ...Interface) *MockTransport {
	if len(ifaces) == 0 {
		ifaces = []Interface{h.DefaultInterface()}
	}
	m := &MockTransport{
		hub:    h,
		ifaces: slices.Clone(ifaces),
		inbox:  make(chan Packet, 1024),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.nodes = append(h.nodes, m)
	h.mu.Unlock()
	return m
}

// Factory returns a Factory attaching a new transport per call. The scope is
// applied to ifaces the way MulticastTransport applies it to the system list.
func (h *Hub) Factory(ifaces ...Interface) Factory {
	return func(scope int) (Transport, error) {
		list := ifaces
		if len(list) == 0 {
			list = []Interface{h.DefaultInterface()}
		}
		if scope > 0 {
			idx := slices.IndexFunc(list, func(i Interface) bool { return i.Index == scope })
			if idx < 0 {
				return nil, &errors.NetworkError{
					Operation: "select interfaces",
					Err:       errors.ErrInterfaceNotFound,
					Details:   fmt.Sprintf("interface index %d", scope),
				}
			}
			list = list[idx : idx+1]
		}
		return h.NewTransport(list...), nil
	}
}

// Tap registers fn to observe every packet sent on the link. It runs on the
// sender's goroutine after delivery.
func (h *Hub) Tap(fn func(Packet)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, fn)
}

// Sent returns a copy of every packet sent through the hub by a transport.
func (h *Hub) Sent() []Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.sent)
}

// Reset forgets the sent packets.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = nil
}

// Inject delivers a datagram from a simulated peer to every transport on
// ifIndex.
func (h *Hub) Inject(data []byte, from *net.UDPAddr, ifIndex int) {
	h.deliver(Packet{Data: data, From: from, IfIndex: ifIndex}, nil)
}

func (h *Hub) deliver(p Packet, sender *MockTransport) {
	h.mu.Lock()
	nodes := slices.Clone(h.nodes)
	var taps []func(Packet)
	if sender != nil {
		h.sent = append(h.sent, p)
		taps = slices.Clone(h.taps)
	}
	h.mu.Unlock()

	for _, n := range nodes {
		if !n.onInterface(p.IfIndex) {
			continue
		}
		if p.To != nil && !n.hasAddr(p.To) {
			continue
		}
		n.enqueue(p)
	}
	for _, tap := range taps {
		tap(p)
	}
}

func (h *Hub) detach(m *MockTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = slices.DeleteFunc(h.nodes, func(n *MockTransport) bool { return n == m })
}

// MockTransport is a Transport on a Hub.
type MockTransport struct {
	hub *Hub

	mu      sync.Mutex
	ifaces  []Interface
	changed bool
	sendErr error

	inbox     chan Packet
	done      chan struct{}
	closeOnce sync.Once
}

// SetInterfaces replaces the interface list; the next Refresh reports a change.
func (m *MockTransport) SetInterfaces(ifaces []Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ifaces = slices.Clone(ifaces)
	m.changed = true
}

// FailSends makes every following Send return err; nil restores sending.
func (m *MockTransport) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MockTransport) onInterface(ifIndex int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.ifaces {
		if i.Index == ifIndex {
			return true
		}
	}
	return false
}

func (m *MockTransport) hasAddr(addr net.Addr) bool {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.ifaces {
		for _, ip := range i.Addrs {
			if ip.Equal(udp.IP) {
				return true
			}
		}
	}
	return false
}

func (m *MockTransport) source(ifIndex int) *net.UDPAddr {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.ifaces {
		if i.Index != ifIndex {
			continue
		}
		for _, ip := range i.Addrs {
			if ip.To4() != nil {
				return &net.UDPAddr{IP: ip, Port: protocol.Port}
			}
		}
		if len(i.Addrs) > 0 {
			return &net.UDPAddr{IP: i.Addrs[0], Port: protocol.Port}
		}
	}
	return &net.UDPAddr{IP: net.IPv4zero, Port: protocol.Port}
}

func (m *MockTransport) enqueue(p Packet) {
	select {
	case <-m.done:
	case m.inbox <- p:
	default:
		// Full inbox drops the datagram, as a socket buffer would.
	}
}

// Send implements Transport.
func (m *MockTransport) Send(ctx context.Context, packet []byte, ifIndex int, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send", Err: ctx.Err()}
	case <-m.done:
		return &errors.NetworkError{Operation: "send", Err: errors.ErrClosed}
	default:
	}

	m.mu.Lock()
	sendErr := m.sendErr
	var targets []int
	for _, i := range m.ifaces {
		if ifIndex == 0 || i.Index == ifIndex {
			targets = append(targets, i.Index)
		}
	}
	m.mu.Unlock()

	if sendErr != nil {
		return &errors.NetworkError{Operation: "send", Err: sendErr}
	}
	if len(targets) == 0 {
		return &errors.NetworkError{
			Operation: "send",
			Err:       errors.ErrInterfaceNotFound,
			Details:   fmt.Sprintf("interface index %d not in use", ifIndex),
		}
	}
	for _, idx := range targets {
		data := make([]byte, len(packet))
		copy(data, packet)
		m.hub.deliver(Packet{Data: data, From: m.source(idx), To: dest, IfIndex: idx}, m)
		if dest != nil {
			break
		}
	}
	return nil
}

// Receive implements Transport.
func (m *MockTransport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: ctx.Err()}
	case <-m.done:
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: errors.ErrClosed}
	case p := <-m.inbox:
		return p.Data, p.From, p.IfIndex, nil
	}
}

// Interfaces implements Transport.
func (m *MockTransport) Interfaces() []Interface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ifaces)
}

// Refresh implements Transport.
func (m *MockTransport) Refresh() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.changed
	m.changed = false
	return changed, nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.hub.detach(m)
	})
	return nil
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
