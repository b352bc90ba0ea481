package engine

import (
	"context"
	"maps"
	"net"
	"slices"

	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/records"
	"github.com/joshuafuller/dnssd/internal/transport"
)

// link is an open transport for one interface scope: 0 for every multicast
// interface, -1 for loopback, or a single interface index.
type link struct {
	scope  int
	tr     transport.Transport
	ifaces []transport.Interface
	cancel context.CancelFunc
}

func (l *link) has(ifIndex int) bool {
	return slices.ContainsFunc(l.ifaces, func(i transport.Interface) bool { return i.Index == ifIndex })
}

func (l *link) close() error {
	l.cancel()
	return l.tr.Close()
}

// targets returns the interfaces a send for an operation scope reaches.
func (l *link) targets(ifIndex int) []int {
	if ifIndex > 0 {
		return []int{ifIndex}
	}
	out := make([]int, 0, len(l.ifaces))
	for _, i := range l.ifaces {
		out = append(out, i.Index)
	}
	return out
}

// sendScope maps an operation scope to the ifIndex argument of Send.
func sendScope(ifIndex int) int {
	if ifIndex < 0 {
		return transport.AllInterfaces
	}
	return ifIndex
}

func (e *Engine) sortedLinks() []*link {
	out := make([]*link, 0, len(e.links))
	for _, scope := range slices.Sorted(maps.Keys(e.links)) {
		out = append(out, e.links[scope])
	}
	return out
}

// ensureLink returns the link serving an operation scope, opening it on first
// use. A single interface is served by any open link that includes it.
func (e *Engine) ensureLink(ifIndex int) (*link, error) {
	scope := ifIndex
	switch {
	case ifIndex < 0:
		scope = transport.LoopbackOnly
	case ifIndex > 0:
		if l, ok := e.links[transport.AllInterfaces]; ok && l.has(ifIndex) {
			return l, nil
		}
		for _, l := range e.sortedLinks() {
			if l.scope > 0 && l.has(ifIndex) {
				return l, nil
			}
		}
	}
	if l, ok := e.links[scope]; ok {
		return l, nil
	}

	tr, err := e.cfg.Transport(scope)
	if err != nil {
		e.log.Warn("opening sockets failed", "scope", scope, "error", err)
		e.diagnose(err)
		return nil, err
	}
	ctx, cancel := context.WithCancel(e.ctx)
	l := &link{scope: scope, tr: tr, ifaces: tr.Interfaces(), cancel: cancel}
	e.links[scope] = l

	names := make([]string, 0, len(l.ifaces))
	for _, i := range l.ifaces {
		names = append(names, i.Name)
	}
	e.log.Info("listening", "scope", scope, "interfaces", names)

	e.group.Go(func() error {
		e.read(ctx, l)
		return nil
	})
	if !e.pollTimer.Active() {
		e.pollTimer = e.sched.At(e.clock.Now().Add(e.cfg.InterfacePollInterval), e.poll)
	}
	return l, nil
}

// read forwards datagrams of a link to the worker until the link closes.
func (e *Engine) read(ctx context.Context, l *link) {
	for {
		data, from, ifIndex, err := l.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return
			}
			e.log.Warn("receive failed", "scope", l.scope, "error", err)
			e.diagnose(err)
			continue
		}
		select {
		case e.packets <- inbound{data: data, from: from, ifIndex: ifIndex, link: l}:
		case <-ctx.Done():
			return
		}
	}
}

// shadowed reports whether a datagram also arrives through the all-interface
// link, which then is the one that handles it.
func (e *Engine) shadowed(p inbound) bool {
	if p.link.scope <= 0 {
		return false
	}
	all, ok := e.links[transport.AllInterfaces]
	return ok && all.has(p.ifIndex)
}

// isOwnSource reports whether a datagram came from this host's mDNS socket.
func (e *Engine) isOwnSource(from net.Addr) bool {
	udp, ok := from.(*net.UDPAddr)
	if !ok || udp.Port != protocol.Port {
		return false
	}
	for _, l := range e.links {
		for _, i := range l.ifaces {
			for _, ip := range i.Addrs {
				if ip.Equal(udp.IP) {
					return true
				}
			}
		}
	}
	return false
}

// scopeMatches reports whether an operation scope covers an interface.
func (e *Engine) scopeMatches(scope, ifIndex int) bool {
	switch {
	case scope == transport.AllInterfaces:
		return true
	case scope < 0:
		l, ok := e.links[transport.LoopbackOnly]
		return ok && l.has(ifIndex)
	default:
		return scope == ifIndex
	}
}

// poll checks every link for interface changes (RFC 6762 §13): records
// learned on a vanished interface are purged, questions restart their
// backoff and registrations re-announce their address records.
func (e *Engine) poll() {
	now := e.clock.Now()
	for _, l := range e.sortedLinks() {
		changed, err := l.tr.Refresh()
		if err != nil {
			e.log.Warn("refreshing interfaces failed", "scope", l.scope, "error", err)
			e.diagnose(err)
			continue
		}
		if !changed {
			continue
		}
		old := l.ifaces
		l.ifaces = l.tr.Interfaces()
		e.log.Info("interfaces changed", "scope", l.scope, "before", len(old), "after", len(l.ifaces))

		for _, i := range old {
			if l.has(i.Index) {
				continue
			}
			for _, ev := range e.cache.PurgeInterface(i.Index, now) {
				e.dispatch(ev)
			}
			e.dropDeferred(i.Index)
		}
		e.restartQuestions(l)
		for _, op := range e.sortedOps() {
			if c, ok := op.(claimant); ok && op.base().link == l {
				c.interfacesChanged(e)
			}
		}
	}
	e.limiter.Prune()
	e.pollTimer = e.sched.At(now.Add(e.cfg.InterfacePollInterval), e.poll)
}

// addresses returns the host addresses of the interfaces in an operation scope.
func (e *Engine) addresses(l *link, ifIndex int) []records.InterfaceAddr {
	var out []records.InterfaceAddr
	for _, i := range l.ifaces {
		if ifIndex > 0 && i.Index != ifIndex {
			continue
		}
		for _, ip := range i.Addrs {
			out = append(out, records.InterfaceAddr{IfIndex: i.Index, IP: ip})
		}
	}
	return out
}
