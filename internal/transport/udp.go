package transport

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Options configures a MulticastTransport.
type Options struct {
	// Scope selects interfaces: AllInterfaces, LoopbackOnly or an index.
	Scope int

	DisableIPv4 bool
	DisableIPv6 bool

	// Port defaults to protocol.Port.
	Port int

	Logger *slog.Logger
}

type inbound struct {
	data    []byte
	src     net.Addr
	ifIndex int
}

// MulticastTransport implements Transport over IPv4 and IPv6 UDP multicast.
//
// One socket per address family is bound to *:5353 with SO_REUSEADDR and
// SO_REUSEPORT and joins the mDNS group on every selected interface. The
// interface index of received packets comes from IP_PKTINFO / IPV6_PKTINFO
// control messages (RFC 6762 §15).
type MulticastTransport struct {
	opts   Options
	logger *slog.Logger

	pc4   net.PacketConn
	conn4 *ipv4.PacketConn
	pc6   net.PacketConn
	conn6 *ipv6.PacketConn

	group4 *net.UDPAddr
	group6 *net.UDPAddr

	mu     sync.RWMutex
	ifaces []Interface
	joined map[int]net.Interface

	sendMu sync.Mutex

	packets   chan inbound
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// listInterfaces is net.Interfaces outside tests.
	listInterfaces func() ([]net.Interface, error)
}

// NewMulticastTransport binds the mDNS sockets and joins the groups on the
// interfaces selected by opts.Scope.
//
// Returns:
//   - *MulticastTransport: transport ready for Send/Receive
//   - error: NetworkError wrapping ErrBindFailed, ErrInterfaceNotFound or ErrNoMulticastSupport
func NewMulticastTransport(opts Options) (*MulticastTransport, error) {
	if opts.Port == 0 {
		opts.Port = protocol.Port
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DisableIPv4 && opts.DisableIPv6 {
		return nil, &errors.ValidationError{Field: "transport", Value: "none", Message: "both address families disabled"}
	}
	t := &MulticastTransport{
		opts:           opts,
		logger:         opts.Logger.With("component", "transport"),
		group4:         &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: opts.Port},
		group6:         &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6), Port: opts.Port},
		joined:         make(map[int]net.Interface),
		packets:        make(chan inbound, 64),
		done:           make(chan struct{}),
		listInterfaces: net.Interfaces,
	}

	// Fail early on a bad scope, before any socket is bound.
	system, err := t.listInterfaces()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "list interfaces", Err: err}
	}
	if _, err := selectInterfaces(opts.Scope, system); err != nil {
		return nil, err
	}

	var bindErr error
	if !opts.DisableIPv4 {
		if err := t.open4(); err != nil {
			bindErr = multierr.Append(bindErr, err)
		}
	}
	if !opts.DisableIPv6 {
		if err := t.open6(); err != nil {
			bindErr = multierr.Append(bindErr, err)
		}
	}
	if t.conn4 == nil && t.conn6 == nil {
		return nil, &errors.NetworkError{
			Operation: "bind",
			Err:       errors.ErrBindFailed,
			Details:   bindErr.Error(),
		}
	}
	if bindErr != nil {
		t.logger.Warn("address family unavailable", "error", bindErr)
	}

	if _, err := t.Refresh(); err != nil {
		_ = t.Close()
		return nil, err
	}
	if len(t.Interfaces()) == 0 {
		_ = t.Close()
		return nil, &errors.NetworkError{
			Operation: "join group",
			Err:       errors.ErrNoMulticastSupport,
			Details:   "could not join the mDNS group on any interface",
		}
	}

	if t.conn4 != nil {
		t.wg.Add(1)
		go t.readLoop4()
	}
	if t.conn6 != nil {
		t.wg.Add(1)
		go t.readLoop6()
	}
	return t, nil
}

// NewFactory returns a Factory opening MulticastTransports with opts and the
// requested scope.
func NewFactory(opts Options) Factory {
	return func(scope int) (Transport, error) {
		o := opts
		o.Scope = scope
		return NewMulticastTransport(o)
	}
}

func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}

func (t *MulticastTransport) open4() error {
	lc := listenConfig()
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(t.opts.Port)))
	if err != nil {
		return &errors.NetworkError{Operation: "bind udp4", Err: err, Details: fmt.Sprintf("port %d", t.opts.Port)}
	}
	conn := ipv4.NewPacketConn(pc)
	if err := conn.SetMulticastTTL(protocol.MulticastTTL); err != nil {
		_ = pc.Close()
		return &errors.NetworkError{Operation: "configure udp4", Err: err, Details: "multicast TTL"}
	}
	if err := conn.SetMulticastLoopback(true); err != nil {
		t.logger.Debug("multicast loopback unavailable", "family", "ipv4", "error", err)
	}
	// Control messages are unsupported on some platforms; the interface index
	// then reads as 0.
	if err := conn.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		t.logger.Debug("control messages unavailable", "family", "ipv4", "error", err)
	}
	t.pc4, t.conn4 = pc, conn
	return nil
}

func (t *MulticastTransport) open6() error {
	lc := listenConfig()
	pc, err := lc.ListenPacket(context.Background(), "udp6", net.JoinHostPort("::", strconv.Itoa(t.opts.Port)))
	if err != nil {
		return &errors.NetworkError{Operation: "bind udp6", Err: err, Details: fmt.Sprintf("port %d", t.opts.Port)}
	}
	conn := ipv6.NewPacketConn(pc)
	if err := conn.SetMulticastHopLimit(protocol.MulticastTTL); err != nil {
		_ = pc.Close()
		return &errors.NetworkError{Operation: "configure udp6", Err: err, Details: "multicast hop limit"}
	}
	if err := conn.SetMulticastLoopback(true); err != nil {
		t.logger.Debug("multicast loopback unavailable", "family", "ipv6", "error", err)
	}
	if err := conn.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true); err != nil {
		t.logger.Debug("control messages unavailable", "family", "ipv6", "error", err)
	}
	t.pc6, t.conn6 = pc, conn
	return nil
}

// Refresh implements Transport.
func (t *MulticastTransport) Refresh() (bool, error) {
	system, err := t.listInterfaces()
	if err != nil {
		return false, &errors.NetworkError{Operation: "list interfaces", Err: err}
	}
	selected, selErr := selectInterfaces(t.opts.Scope, system)

	t.mu.Lock()
	defer t.mu.Unlock()

	current := make(map[int]bool, len(selected))
	var next []Interface
	for i := range selected {
		ifi := selected[i]
		current[ifi.Index] = true
		if _, ok := t.joined[ifi.Index]; !ok {
			if !t.join(&ifi) {
				continue
			}
			t.joined[ifi.Index] = ifi
			t.logger.Info("joined mDNS group", "interface", ifi.Name, "index", ifi.Index)
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			t.logger.Warn("reading interface addresses", "interface", ifi.Name, "error", err)
		}
		next = append(next, Interface{Index: ifi.Index, Name: ifi.Name, Addrs: unicastAddrs(addrs)})
	}
	for idx, ifi := range t.joined {
		if current[idx] {
			continue
		}
		t.leave(&ifi)
		delete(t.joined, idx)
		t.logger.Info("left mDNS group", "interface", ifi.Name, "index", idx)
	}

	changed := !sameInterfaces(t.ifaces, next)
	t.ifaces = next
	return changed, selErr
}

// join adds the interface to the groups of every open family. Loopback is
// kept even when the join fails since looped-back sends still reach it.
func (t *MulticastTransport) join(ifi *net.Interface) bool {
	ok := false
	var joinErr error
	if t.conn4 != nil {
		if err := t.conn4.JoinGroup(ifi, t.group4); err != nil {
			joinErr = multierr.Append(joinErr, err)
		} else {
			ok = true
		}
	}
	if t.conn6 != nil {
		if err := t.conn6.JoinGroup(ifi, t.group6); err != nil {
			joinErr = multierr.Append(joinErr, err)
		} else {
			ok = true
		}
	}
	if joinErr != nil {
		t.logger.Debug("joining mDNS group", "interface", ifi.Name, "error", joinErr)
	}
	return ok || ifi.Flags&net.FlagLoopback != 0
}

func (t *MulticastTransport) leave(ifi *net.Interface) {
	if t.conn4 != nil {
		_ = t.conn4.LeaveGroup(ifi, t.group4)
	}
	if t.conn6 != nil {
		_ = t.conn6.LeaveGroup(ifi, t.group6)
	}
}

// Interfaces implements Transport.
func (t *MulticastTransport) Interfaces() []Interface {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.ifaces)
}

func (t *MulticastTransport) isJoined(ifIndex int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.joined[ifIndex]
	return ok
}

func (t *MulticastTransport) targets(ifIndex int) ([]net.Interface, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ifIndex == 0 {
		out := make([]net.Interface, 0, len(t.joined))
		for _, iface := range t.ifaces {
			out = append(out, t.joined[iface.Index])
		}
		return out, nil
	}
	ifi, ok := t.joined[ifIndex]
	if !ok {
		return nil, &errors.NetworkError{
			Operation: "send",
			Err:       errors.ErrInterfaceNotFound,
			Details:   fmt.Sprintf("interface index %d not in use", ifIndex),
		}
	}
	return []net.Interface{ifi}, nil
}

func (t *MulticastTransport) hasFamily(ifIndex int, v4 bool) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, iface := range t.ifaces {
		if iface.Index != ifIndex {
			continue
		}
		if v4 {
			return iface.HasIPv4()
		}
		return iface.HasIPv6()
	}
	return false
}

// Send implements Transport.
func (t *MulticastTransport) Send(ctx context.Context, packet []byte, ifIndex int, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{Operation: "send", Err: ctx.Err(), Details: "context canceled before send"}
	case <-t.done:
		return &errors.NetworkError{Operation: "send", Err: errors.ErrClosed}
	default:
	}
	if len(packet) > protocol.MaxMessageSize {
		return &errors.NetworkError{
			Operation: "send",
			Err:       errors.ErrMessageTooLarge,
			Details:   fmt.Sprintf("%d bytes", len(packet)),
		}
	}

	ifaces, err := t.targets(ifIndex)
	if err != nil {
		return err
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	var sendErr error
	if dest != nil {
		// A unicast destination is reached through the first interface that works.
		for i := range ifaces {
			err := t.writeUnicast(packet, &ifaces[i], dest)
			if err == nil {
				return nil
			}
			sendErr = multierr.Append(sendErr, err)
		}
		return &errors.NetworkError{
			Operation: "send",
			Err:       sendErr,
			Details:   fmt.Sprintf("%d bytes to %s", len(packet), dest),
		}
	}

	sent := 0
	for i := range ifaces {
		ifi := &ifaces[i]
		if t.conn4 != nil && (t.hasFamily(ifi.Index, true) || ifi.Flags&net.FlagLoopback != 0) {
			if err := t.write4(packet, ifi, t.group4); err != nil {
				sendErr = multierr.Append(sendErr, err)
			} else {
				sent++
			}
		}
		if t.conn6 != nil && t.hasFamily(ifi.Index, false) {
			if err := t.write6(packet, ifi, t.group6); err != nil {
				sendErr = multierr.Append(sendErr, err)
			} else {
				sent++
			}
		}
	}
	if sendErr != nil {
		return &errors.NetworkError{
			Operation: "send",
			Err:       sendErr,
			Details:   fmt.Sprintf("%d bytes, %d packets sent on %d interfaces", len(packet), sent, len(ifaces)),
		}
	}
	return nil
}

func (t *MulticastTransport) write4(packet []byte, ifi *net.Interface, dst net.Addr) error {
	if err := t.conn4.SetMulticastInterface(ifi); err != nil {
		return fmt.Errorf("%s: set multicast interface: %w", ifi.Name, err)
	}
	n, err := t.conn4.WriteTo(packet, &ipv4.ControlMessage{IfIndex: ifi.Index}, dst)
	if err != nil {
		return fmt.Errorf("%s: %w", ifi.Name, err)
	}
	if n != len(packet) {
		return fmt.Errorf("%s: partial write: %d/%d bytes", ifi.Name, n, len(packet))
	}
	return nil
}

func (t *MulticastTransport) write6(packet []byte, ifi *net.Interface, dst net.Addr) error {
	if err := t.conn6.SetMulticastInterface(ifi); err != nil {
		return fmt.Errorf("%s: set multicast interface: %w", ifi.Name, err)
	}
	n, err := t.conn6.WriteTo(packet, &ipv6.ControlMessage{IfIndex: ifi.Index}, dst)
	if err != nil {
		return fmt.Errorf("%s: %w", ifi.Name, err)
	}
	if n != len(packet) {
		return fmt.Errorf("%s: partial write: %d/%d bytes", ifi.Name, n, len(packet))
	}
	return nil
}

func (t *MulticastTransport) writeUnicast(packet []byte, ifi *net.Interface, dest net.Addr) error {
	udp, ok := dest.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("unsupported destination %T", dest)
	}
	if udp.IP.To4() != nil {
		if t.conn4 == nil {
			return fmt.Errorf("%s: IPv4 disabled", udp)
		}
		_, err := t.conn4.WriteTo(packet, &ipv4.ControlMessage{IfIndex: ifi.Index}, udp)
		return err
	}
	if t.conn6 == nil {
		return fmt.Errorf("%s: IPv6 disabled", udp)
	}
	_, err := t.conn6.WriteTo(packet, &ipv6.ControlMessage{IfIndex: ifi.Index}, udp)
	return err
}

// Receive implements Transport.
func (t *MulticastTransport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: ctx.Err()}
	case <-t.done:
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: errors.ErrClosed}
	case p := <-t.packets:
		return p.data, p.src, p.ifIndex, nil
	}
}

func (t *MulticastTransport) readLoop4() {
	defer t.wg.Done()
	t.readLoop("ipv4", func(b []byte) (int, int, net.Addr, error) {
		n, cm, src, err := t.conn4.ReadFrom(b)
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		return n, ifIndex, src, err
	})
}

func (t *MulticastTransport) readLoop6() {
	defer t.wg.Done()
	t.readLoop("ipv6", func(b []byte) (int, int, net.Addr, error) {
		n, cm, src, err := t.conn6.ReadFrom(b)
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		return n, ifIndex, src, err
	})
}

func (t *MulticastTransport) readLoop(family string, read func([]byte) (int, int, net.Addr, error)) {
	for {
		bufPtr := GetBuffer()
		n, ifIndex, src, err := read(*bufPtr)
		if err != nil {
			PutBuffer(bufPtr)
			if goerrors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-t.done:
				return
			default:
			}
			t.logger.Warn("read failed", "family", family, "error", err)
			continue
		}
		if ifIndex != 0 && !t.isJoined(ifIndex) {
			PutBuffer(bufPtr)
			continue
		}
		// Pool owns the buffer, the receiver owns the copy.
		data := make([]byte, n)
		copy(data, (*bufPtr)[:n])
		PutBuffer(bufPtr)

		select {
		case t.packets <- inbound{data: data, src: src, ifIndex: ifIndex}:
		case <-t.done:
			return
		}
	}
}

// Close implements Transport. Closing twice returns nil.
func (t *MulticastTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.pc4 != nil {
			err = multierr.Append(err, t.pc4.Close())
		}
		if t.pc6 != nil {
			err = multierr.Append(err, t.pc6.Close())
		}
		t.wg.Wait()
	})
	if err != nil {
		return &errors.NetworkError{Operation: "close socket", Err: err, Details: "failed to close UDP connections"}
	}
	return nil
}
