package dnssd

import (
	"github.com/joshuafuller/dnssd/internal/engine"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Browse reports the instances of serviceType ("_http._tcp") in domain as
// they come and go. An empty domain means "local.". Browsing
// "_services._dns-sd._udp" enumerates the service types on the link
// (RFC 6763 §9).
//
// Flags are reserved and should be zero. Browse runs until stopped.
func (d *DNSSD) Browse(flags Flags, ifIndex int, serviceType, domain string, l BrowseListener) (*Operation, error) {
	const op = "browse"
	if l == nil {
		return nil, badParam(op, "listener", "listener is required")
	}
	e, release, err := d.acquire()
	if err != nil {
		return nil, wrap(op, err)
	}
	h, err := e.Browse(engine.BrowseRequest{
		IfIndex:     ifIndex,
		ServiceType: serviceType,
		Domain:      domain,
		OnFound:     func(ev engine.ServiceEvent) { l.ServiceFound(serviceEvent(ev)) },
		OnLost:      func(ev engine.ServiceEvent) { l.ServiceLost(serviceEvent(ev)) },
		Lifecycle:   d.lifecycle(op, l.OperationFailed, release),
	})
	if err != nil {
		release()
		return nil, wrap(op, err)
	}
	return &Operation{h: h}, nil
}

func serviceEvent(ev engine.ServiceEvent) ServiceEvent {
	return ServiceEvent{
		Flags:   Flags(ev.Flags),
		IfIndex: ev.IfIndex,
		Name:    ev.Instance,
		Type:    ev.ServiceType,
		Domain:  ev.Domain,
	}
}

// Resolve looks up the host, port and TXT record of one service instance.
// It reports once and stops itself. Without an answer before the timeout
// (see WithTimeout) it ends silently.
//
// RFC 6763 §5: the instance is resolved with its SRV and TXT records.
func (d *DNSSD) Resolve(flags Flags, ifIndex int, name, serviceType, domain string, l ResolveListener) (*Operation, error) {
	const op = "resolve"
	if l == nil {
		return nil, badParam(op, "listener", "listener is required")
	}
	e, release, err := d.acquire()
	if err != nil {
		return nil, wrap(op, err)
	}
	h, err := e.Resolve(engine.ResolveRequest{
		IfIndex:     ifIndex,
		Instance:    name,
		ServiceType: serviceType,
		Domain:      domain,
		OnResolved: func(ev engine.ResolveEvent) {
			l.ServiceResolved(ResolvedService{
				Flags:    Flags(ev.Flags),
				IfIndex:  ev.IfIndex,
				FullName: ev.FullName,
				Host:     ev.Host,
				Port:     ev.Port,
				TXT:      ev.TXT,
			})
		},
		Lifecycle: d.lifecycle(op, l.OperationFailed, release),
	})
	if err != nil {
		release()
		return nil, wrap(op, err)
	}
	return &Operation{h: h}, nil
}

// QueryRecord asks for the records of name, rrtype and rrclass. A zero
// rrclass means ClassIN.
//
// With autoStop the first answer is delivered and the operation stops; with
// no answer before the timeout it fails with ErrTimeout. Without autoStop
// answers stream until Stop, and records that go away are reported again
// with TTL 0.
func (d *DNSSD) QueryRecord(flags Flags, ifIndex int, name string, rrtype RecordType, rrclass uint16, autoStop bool, l QueryListener) (*Operation, error) {
	const op = "query"
	if l == nil {
		return nil, badParam(op, "listener", "listener is required")
	}
	e, release, err := d.acquire()
	if err != nil {
		return nil, wrap(op, err)
	}
	h, err := e.QueryRecord(engine.QueryRequest{
		IfIndex:  ifIndex,
		Name:     name,
		Type:     protocol.RecordType(rrtype),
		Class:    rrclass,
		AutoStop: autoStop,
		OnAnswer: func(ev engine.RecordEvent) {
			l.QueryAnswered(RecordEvent{
				Flags:   Flags(ev.Flags),
				IfIndex: ev.IfIndex,
				Name:    ev.Name,
				Type:    RecordType(ev.Type),
				Class:   ev.Class,
				RData:   ev.RData,
				TTL:     ev.TTL,
			})
		},
		Lifecycle: d.lifecycle(op, l.OperationFailed, release),
	})
	if err != nil {
		release()
		return nil, wrap(op, err)
	}
	return &Operation{h: h}, nil
}

// EnumerateDomains reports the domains recommended for browsing
// (FlagBrowseDomains) or for registration (FlagRegistrationDomains).
// Exactly one of the two flags must be set. "local." is reported first
// with FlagDefault.
//
// RFC 6763 §11: the domains are PTR targets of b._dns-sd._udp.local. and
// r._dns-sd._udp.local.
func (d *DNSSD) EnumerateDomains(flags Flags, ifIndex int, l DomainListener) (*Operation, error) {
	const op = "enumerate domains"
	if l == nil {
		return nil, badParam(op, "listener", "listener is required")
	}
	e, release, err := d.acquire()
	if err != nil {
		return nil, wrap(op, err)
	}
	h, err := e.EnumerateDomains(engine.DomainsRequest{
		Flags:     engine.Flags(flags),
		IfIndex:   ifIndex,
		OnFound:   func(ev engine.DomainEvent) { l.DomainFound(domainEvent(ev)) },
		OnLost:    func(ev engine.DomainEvent) { l.DomainLost(domainEvent(ev)) },
		Lifecycle: d.lifecycle(op, l.OperationFailed, release),
	})
	if err != nil {
		release()
		return nil, wrap(op, err)
	}
	return &Operation{h: h}, nil
}

func domainEvent(ev engine.DomainEvent) DomainEvent {
	return DomainEvent{Flags: Flags(ev.Flags), IfIndex: ev.IfIndex, Domain: ev.Domain}
}

// ReconfirmRecord tells the engine that a cached record looks stale, for
// example because connecting to the advertised address failed. The record
// is queried twice; unless a host answers it is flushed from the cache ten
// seconds later and running operations see it go (RFC 6762 §10.4).
//
// Nothing happens when no operation is running, since the cache is empty.
func (d *DNSSD) ReconfirmRecord(flags Flags, ifIndex int, fullName string, rrtype RecordType, rrclass uint16, rdata []byte) error {
	const op = "reconfirm"
	if fullName == "" {
		return badParam(op, "name", "name is required")
	}
	e := d.current()
	if e == nil {
		return nil
	}
	return wrap(op, e.Reconfirm(ifIndex, fullName, protocol.RecordType(rrtype), rrclass, rdata))
}
