package dnssd

import (
	"context"
	"maps"
	"net"
	"slices"
	"sync"
)

// BonjourService is a discovered service instance with its addresses.
type BonjourService struct {
	// Flags holds FlagLost when the instance went away.
	Flags   Flags
	Name    string
	Type    string
	Domain  string
	IfIndex int

	Host      string
	Port      uint16
	TXT       map[string]string
	Addresses []net.IP
}

// Lost reports whether the instance went away.
func (s BonjourService) Lost() bool { return s.Flags.Has(FlagLost) }

type discoveryKey struct {
	ifIndex int
	name    string
	stype   string
	domain  string
}

type discovered struct {
	svc BonjourService
	ops []*Operation
}

type discovery struct {
	d     *DNSSD
	stype string

	mu      sync.Mutex
	done    bool
	browse  *Operation
	entries map[discoveryKey]*discovered
	queue   []BonjourService
	wake    chan struct{}
	stopped chan struct{}
}

// Discover browses serviceType in domain, resolves every instance found and
// queries its A and AAAA records. Each step yields a BonjourService on the
// returned channel: once the instance is resolved and again whenever its
// address set changes. A lost instance is sent with FlagLost.
//
// The channel is closed when ctx is done or the browse fails. Every
// underlying operation is stopped at that point.
//
// Example:
//
//	services, err := d.Discover(ctx, "_http._tcp", "")
//	if err != nil {
//	    return err
//	}
//	for s := range services {
//	    if s.Lost() {
//	        fmt.Println("gone:", s.Name)
//	        continue
//	    }
//	    fmt.Println(s.Name, s.Host, s.Port, s.Addresses)
//	}
func (d *DNSSD) Discover(ctx context.Context, serviceType, domain string) (<-chan BonjourService, error) {
	x := &discovery{
		d:       d,
		stype:   serviceType,
		entries: make(map[discoveryKey]*discovered),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	browse, err := d.Browse(0, AllInterfaces, serviceType, domain, BrowseFuncs{
		Found:  x.found,
		Lost:   x.lost,
		Failed: x.failed,
	})
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	x.browse = browse
	x.mu.Unlock()

	out := make(chan BonjourService)
	go x.pump(ctx, out)
	return out, nil
}

func (x *discovery) pump(ctx context.Context, out chan<- BonjourService) {
	defer close(out)
	defer x.shutdown()
	for {
		x.mu.Lock()
		var (
			svc BonjourService
			ok  bool
		)
		if len(x.queue) > 0 {
			svc, ok = x.queue[0], true
			x.queue = x.queue[1:]
		}
		x.mu.Unlock()

		if !ok {
			select {
			case <-x.wake:
				continue
			case <-x.stopped:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- svc:
		case <-ctx.Done():
			return
		}
	}
}

// shutdown stops every operation; callbacks arriving afterwards are dropped.
func (x *discovery) shutdown() {
	x.mu.Lock()
	x.done = true
	browse := x.browse
	var ops []*Operation
	for _, e := range x.entries {
		ops = append(ops, e.ops...)
	}
	x.entries = nil
	x.queue = nil
	x.mu.Unlock()

	if browse != nil {
		browse.Stop()
	}
	for _, op := range ops {
		op.Stop()
	}
}

// push queues a snapshot of svc. x.mu must be held.
func (x *discovery) push(svc BonjourService) {
	svc.TXT = maps.Clone(svc.TXT)
	svc.Addresses = slices.Clone(svc.Addresses)
	x.queue = append(x.queue, svc)
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

func (x *discovery) found(ev ServiceEvent) {
	key := discoveryKey{ifIndex: ev.IfIndex, name: ev.Name, stype: ev.Type, domain: ev.Domain}
	x.mu.Lock()
	if x.done {
		x.mu.Unlock()
		return
	}
	if _, ok := x.entries[key]; ok {
		x.mu.Unlock()
		return
	}
	entry := &discovered{svc: BonjourService{
		Name:    ev.Name,
		Type:    ev.Type,
		Domain:  ev.Domain,
		IfIndex: ev.IfIndex,
	}}
	x.entries[key] = entry
	x.mu.Unlock()

	op, err := x.d.Resolve(0, ev.IfIndex, ev.Name, ev.Type, ev.Domain, ResolveFuncs{
		Resolved: func(r ResolvedService) { x.resolved(key, r) },
	})
	if err != nil {
		x.d.log.Debug("discover: resolve failed", "instance", ev.Name, "error", err)
		return
	}
	x.track(key, op)
}

// track attaches op to the entry, or stops it when the entry is gone.
func (x *discovery) track(key discoveryKey, op *Operation) {
	x.mu.Lock()
	entry, ok := x.entries[key]
	if ok && !x.done {
		entry.ops = append(entry.ops, op)
		x.mu.Unlock()
		return
	}
	x.mu.Unlock()
	op.Stop()
}

func (x *discovery) resolved(key discoveryKey, r ResolvedService) {
	x.mu.Lock()
	entry, ok := x.entries[key]
	if !ok || x.done {
		x.mu.Unlock()
		return
	}
	entry.svc.Host = r.Host
	entry.svc.Port = r.Port
	entry.svc.TXT = r.TXTMap()
	x.push(entry.svc)
	x.mu.Unlock()

	for _, t := range []RecordType{TypeA, TypeAAAA} {
		op, err := x.d.QueryRecord(0, key.ifIndex, r.Host, t, ClassIN, false, QueryFuncs{
			Answered: func(ev RecordEvent) { x.address(key, ev) },
		})
		if err != nil {
			x.d.log.Debug("discover: address query failed", "host", r.Host, "error", err)
			continue
		}
		x.track(key, op)
	}
}

func (x *discovery) address(key discoveryKey, ev RecordEvent) {
	if len(ev.RData) != net.IPv4len && len(ev.RData) != net.IPv6len {
		return
	}
	ip := net.IP(slices.Clone(ev.RData))

	x.mu.Lock()
	defer x.mu.Unlock()
	entry, ok := x.entries[key]
	if !ok || x.done {
		return
	}
	i := slices.IndexFunc(entry.svc.Addresses, ip.Equal)
	switch {
	case ev.TTL == 0 && i >= 0:
		entry.svc.Addresses = slices.Delete(entry.svc.Addresses, i, i+1)
	case ev.TTL > 0 && i < 0:
		entry.svc.Addresses = append(entry.svc.Addresses, ip)
	default:
		return
	}
	x.push(entry.svc)
}

func (x *discovery) lost(ev ServiceEvent) {
	key := discoveryKey{ifIndex: ev.IfIndex, name: ev.Name, stype: ev.Type, domain: ev.Domain}
	x.mu.Lock()
	entry, ok := x.entries[key]
	if !ok || x.done {
		x.mu.Unlock()
		return
	}
	delete(x.entries, key)
	svc := entry.svc
	svc.Flags |= FlagLost
	x.push(svc)
	x.mu.Unlock()

	for _, op := range entry.ops {
		op.Stop()
	}
}

func (x *discovery) failed(err error) {
	x.d.log.Warn("discover: browse failed", "service_type", x.stype, "error", err)
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.done {
		x.done = true
		close(x.stopped)
	}
}
