package engine

import (
	"fmt"

	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// QueryRequest asks for the records of a name, type and class.
type QueryRequest struct {
	IfIndex int
	Name    string
	Type    protocol.RecordType
	Class   uint16

	// AutoStop delivers the first answer and stops. Without an answer before
	// the engine timeout the operation fails with errors.ErrTimeout.
	AutoStop bool

	OnAnswer func(RecordEvent)

	Lifecycle
}

// RecordEvent carries one answer. A record that went away is reported again
// with TTL 0.
type RecordEvent struct {
	Flags   Flags
	IfIndex int
	Name    string
	Type    protocol.RecordType
	Class   uint16
	RData   []byte
	TTL     uint32
}

type queryOp struct {
	opBase
	req  QueryRequest
	name string
}

// QueryRecord starts a record query.
func (e *Engine) QueryRecord(req QueryRequest) (*Handle, error) {
	if req.Name == "" {
		return nil, &errors.ValidationError{Field: "name", Value: req.Name, Message: "name is required"}
	}
	name := message.Fqdn(req.Name)
	if _, err := message.SplitName(name); err != nil {
		return nil, err
	}
	if req.Class == 0 {
		req.Class = protocol.ClassIN
	}
	op := &queryOp{
		opBase: newBase("query", req.IfIndex, req.Lifecycle),
		req:    req,
		name:   name,
	}
	return e.startOp(op, req.OnDone)
}

func (o *queryOp) start(e *Engine) error {
	if o.req.AutoStop {
		e.after(o, e.cfg.Timeout, func() {
			e.fail(o, fmt.Errorf("query %s %s: %w", o.name, o.req.Type, errors.ErrTimeout))
		})
	}
	e.watch(o, o.name, o.req.Type, o.req.Class)
	return nil
}

func (o *queryOp) onEvent(e *Engine, ev cache.Event) {
	added := ev.Kind == cache.Added
	if o.req.AutoStop && !added {
		return
	}
	rdata, err := message.RDataBytes(ev.Record.Data)
	if err != nil {
		e.log.Debug("ignoring record", "record", ev.Record.String(), "error", err)
		return
	}
	event := RecordEvent{
		IfIndex: ev.IfIndex,
		Name:    ev.Record.Name,
		Type:    ev.Record.Type,
		Class:   ev.Record.Class & protocol.ClassMask,
		RData:   rdata,
	}
	if added {
		event.TTL = ev.Record.TTL
	}
	if cb := o.req.OnAnswer; cb != nil {
		e.emit(&o.opBase, func(flags Flags) {
			event.Flags = flags
			cb(event)
		})
	}
	if o.req.AutoStop {
		e.finish(o)
	}
}

func (o *queryOp) stop(*Engine) {}
