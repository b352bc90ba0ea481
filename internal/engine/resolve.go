package engine

import (
	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// ResolveRequest resolves a service instance to its host, port and TXT data.
type ResolveRequest struct {
	IfIndex     int
	Instance    string
	ServiceType string
	Domain      string

	OnResolved func(ResolveEvent)

	Lifecycle
}

// ResolveEvent is the result of a resolve.
type ResolveEvent struct {
	Flags    Flags
	IfIndex  int
	FullName string
	Host     string
	Port     uint16

	// TXT is the TXT rdata in wire form; a single empty string when the
	// instance has no TXT record.
	TXT []byte
}

// resolveOp watches the SRV and TXT records of one instance. It reports once
// and finishes; on timeout it finishes without a callback.
type resolveOp struct {
	opBase
	req      ResolveRequest
	fullName string

	srv   *message.SRV
	srvIf int
	txt   *message.TXT
	grace *timer
}

// Resolve starts a one-shot resolve.
func (e *Engine) Resolve(req ResolveRequest) (*Handle, error) {
	st := message.NormalizeServiceType(req.ServiceType)
	if err := message.ValidateServiceType(st); err != nil {
		return nil, err
	}
	fullName, err := message.ServiceInstanceName(req.Instance, st, req.Domain)
	if err != nil {
		return nil, err
	}
	op := &resolveOp{
		opBase:   newBase("resolve", req.IfIndex, req.Lifecycle),
		req:      req,
		fullName: fullName,
	}
	return e.startOp(op, req.OnDone)
}

func (o *resolveOp) start(e *Engine) error {
	e.after(o, e.cfg.Timeout, func() {
		e.log.Debug("resolve timed out", "operation", o.id, "name", o.fullName)
		e.finish(o)
	})
	e.watch(o, o.fullName, protocol.RecordTypeSRV, protocol.ClassIN)
	e.watch(o, o.fullName, protocol.RecordTypeTXT, protocol.ClassIN)
	return nil
}

func (o *resolveOp) onEvent(e *Engine, ev cache.Event) {
	added := ev.Kind == cache.Added
	switch rd := ev.Record.Data.(type) {
	case message.SRV:
		switch {
		case added:
			o.srv, o.srvIf = &rd, ev.IfIndex
		case o.srv != nil && message.EqualRData(*o.srv, rd):
			o.srv = nil
		}
	case message.TXT:
		switch {
		case added:
			o.txt = &rd
		case o.txt != nil && message.EqualRData(*o.txt, rd):
			o.txt = nil
		}
	default:
		return
	}
	e.settleLater(&o.opBase, func() { o.settle(e) })
}

// settle runs once the whole datagram was seen. With SRV and TXT known the
// resolve completes; with SRV alone it waits a short grace period for TXT.
func (o *resolveOp) settle(e *Engine) {
	if o.finished || o.srv == nil {
		return
	}
	if o.txt != nil {
		o.complete(e)
		return
	}
	if !o.grace.Active() {
		o.grace = e.after(o, resolveTXTGrace, func() { o.complete(e) })
	}
}

func (o *resolveOp) complete(e *Engine) {
	if o.srv == nil {
		return
	}
	txt := []byte{0}
	if o.txt != nil {
		if raw, err := message.RDataBytes(*o.txt); err == nil {
			txt = raw
		}
	}
	event := ResolveEvent{
		IfIndex:  o.srvIf,
		FullName: o.fullName,
		Host:     o.srv.Target,
		Port:     o.srv.Port,
		TXT:      txt,
	}
	if cb := o.req.OnResolved; cb != nil {
		e.emit(&o.opBase, func(flags Flags) {
			event.Flags = flags
			cb(event)
		})
	}
	e.finish(o)
}

func (o *resolveOp) stop(*Engine) {}
