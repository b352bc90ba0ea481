package engine

import (
	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// BrowseRequest starts a browse for the instances of a service type.
type BrowseRequest struct {
	IfIndex int

	// ServiceType is "_http._tcp", or "_services._dns-sd._udp" to enumerate
	// the service types present on the link.
	ServiceType string

	// Domain defaults to "local.".
	Domain string

	OnFound func(ServiceEvent)
	OnLost  func(ServiceEvent)

	Lifecycle
}

// ServiceEvent reports an instance appearing or disappearing.
type ServiceEvent struct {
	Flags       Flags
	IfIndex     int
	Instance    string
	ServiceType string
	Domain      string
}

type reportKey struct {
	name    string
	ifIndex int
}

type browseOp struct {
	opBase
	req      BrowseRequest
	name     string
	reported map[reportKey]bool
}

// Browse starts a browse. The handle stops it.
func (e *Engine) Browse(req BrowseRequest) (*Handle, error) {
	st := message.NormalizeServiceType(req.ServiceType)
	if !message.EqualNames(st, protocol.ServicesEnumerationName) {
		if err := message.ValidateServiceType(st); err != nil {
			return nil, err
		}
	}
	op := &browseOp{
		opBase:   newBase("browse", req.IfIndex, req.Lifecycle),
		req:      req,
		name:     message.ServiceTypeName(st, req.Domain),
		reported: make(map[reportKey]bool),
	}
	return e.startOp(op, req.OnDone)
}

func (o *browseOp) start(e *Engine) error {
	e.watch(o, o.name, protocol.RecordTypePTR, protocol.ClassIN)
	return nil
}

func (o *browseOp) onEvent(e *Engine, ev cache.Event) {
	ptr, ok := ev.Record.Data.(message.PTR)
	if !ok {
		return
	}
	key := reportKey{name: message.CanonicalName(ptr.Target), ifIndex: ev.IfIndex}
	found := ev.Kind == cache.Added
	if o.reported[key] == found {
		return
	}
	event, err := serviceEvent(ptr.Target, ev.IfIndex)
	if err != nil {
		e.log.Debug("ignoring unusable PTR target", "target", ptr.Target, "error", err)
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
	e.emit(&o.opBase, func(flags Flags) {
		event.Flags = flags
		cb(event)
	})
}

func (o *browseOp) stop(*Engine) {}

// serviceEvent splits a PTR target into its instance, type and domain. A
// service type enumeration answer ("_http._tcp.local.") is reported with the
// first label as instance and the rest as service type.
func serviceEvent(target string, ifIndex int) (ServiceEvent, error) {
	instance, st, domain, err := message.SplitServiceInstanceName(target)
	if err == nil {
		return ServiceEvent{IfIndex: ifIndex, Instance: instance, ServiceType: st, Domain: domain}, nil
	}
	first, ferr := message.FirstLabel(target)
	if ferr != nil {
		return ServiceEvent{}, ferr
	}
	if first == "" {
		return ServiceEvent{}, &errors.ValidationError{Field: "target", Value: target, Message: "empty instance label"}
	}
	return ServiceEvent{IfIndex: ifIndex, Instance: first, ServiceType: message.ParentName(target), Domain: "."}, nil
}
