package engine

import (
	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// DomainsRequest enumerates browsing or registration domains (RFC 6763 §11).
type DomainsRequest struct {
	// Flags must hold exactly one of FlagBrowseDomains and
	// FlagRegistrationDomains.
	Flags   Flags
	IfIndex int

	OnFound func(DomainEvent)
	OnLost  func(DomainEvent)

	Lifecycle
}

// DomainEvent reports a domain. The default domain carries FlagDefault.
type DomainEvent struct {
	Flags   Flags
	IfIndex int
	Domain  string
}

type domainsOp struct {
	opBase
	req      DomainsRequest
	name     string
	reported map[reportKey]bool
}

// EnumerateDomains starts a domain enumeration. "local." is always reported
// first as the default domain.
func (e *Engine) EnumerateDomains(req DomainsRequest) (*Handle, error) {
	browse := req.Flags.Has(FlagBrowseDomains)
	register := req.Flags.Has(FlagRegistrationDomains)
	if browse == register {
		return nil, &errors.ValidationError{
			Field:   "flags",
			Value:   req.Flags.String(),
			Message: "exactly one of BROWSE_DOMAINS and REGISTRATION_DOMAINS is required",
		}
	}
	prefix := protocol.BrowseDomainsPrefix
	if register {
		prefix = protocol.RegistrationDomainsPrefix
	}
	op := &domainsOp{
		opBase:   newBase("domains", req.IfIndex, req.Lifecycle),
		req:      req,
		name:     prefix + "." + protocol.DefaultDomain,
		reported: make(map[reportKey]bool),
	}
	return e.startOp(op, req.OnDone)
}

func (o *domainsOp) start(e *Engine) error {
	if cb := o.req.OnFound; cb != nil {
		ifIndex := o.ifIndex
		e.emit(&o.opBase, func(flags Flags) {
			cb(DomainEvent{Flags: flags | FlagDefault, IfIndex: ifIndex, Domain: protocol.DefaultDomain})
		})
	}
	e.watch(o, o.name, protocol.RecordTypePTR, protocol.ClassIN)
	return nil
}

func (o *domainsOp) onEvent(e *Engine, ev cache.Event) {
	ptr, ok := ev.Record.Data.(message.PTR)
	if !ok {
		return
	}
	domain := message.Fqdn(ptr.Target)
	if message.EqualNames(domain, protocol.DefaultDomain) {
		return
	}
	key := reportKey{name: message.CanonicalName(domain), ifIndex: ev.IfIndex}
	found := ev.Kind == cache.Added
	if o.reported[key] == found {
		return
	}
	cb := o.req.OnLost
	if found {
		o.reported[key] = true
		cb = o.req.OnFound
	} else {
		delete(o.reported, key)
	}
	if cb == nil {
		return
	}
	ifIndex := ev.IfIndex
	e.emit(&o.opBase, func(flags Flags) {
		cb(DomainEvent{Flags: flags, IfIndex: ifIndex, Domain: domain})
	})
}

func (o *domainsOp) stop(*Engine) {}
