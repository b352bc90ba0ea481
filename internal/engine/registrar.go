package engine

import (
	"fmt"

	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/records"
	"github.com/joshuafuller/dnssd/internal/state"
)

// RecordRequest registers a single resource record.
type RecordRequest struct {
	// Flags must hold exactly one of FlagShared and FlagUnique. Unique
	// records are probed first and fail with errors.ErrNameConflict when
	// another host owns the name; they are never renamed.
	Flags   Flags
	IfIndex int
	Name    string
	Type    protocol.RecordType
	Class   uint16
	RData   []byte

	// TTL defaults to the RFC 6762 §10 value for the type.
	TTL uint32

	OnRegistered func(Flags)

	Lifecycle
}

// RecordRegistration is the handle of a registered record.
type RecordRegistration struct {
	*Handle
	op *recordOp
}

type recordOp struct {
	opBase
	req RecordRequest
	c   *claim
	rec *records.Record
}

// RegisterRecord starts advertising a record.
func (e *Engine) RegisterRecord(req RecordRequest) (*RecordRegistration, error) {
	shared, unique := req.Flags.Has(FlagShared), req.Flags.Has(FlagUnique)
	if shared == unique {
		return nil, &errors.ValidationError{
			Field:   "flags",
			Value:   req.Flags.String(),
			Message: "exactly one of SHARED and UNIQUE is required",
		}
	}
	if req.Name == "" {
		return nil, &errors.ValidationError{Field: "name", Value: req.Name, Message: "name is required"}
	}
	name := message.Fqdn(req.Name)
	if _, err := message.SplitName(name); err != nil {
		return nil, err
	}
	rd, err := decodeRecordData(req.Type, req.RData)
	if err != nil {
		return nil, err
	}
	if req.Class == 0 {
		req.Class = protocol.ClassIN
	}
	if req.TTL == 0 {
		req.TTL = records.DefaultTTL(req.Type)
	}
	op := &recordOp{
		opBase: newBase("record", req.IfIndex, req.Lifecycle),
		req:    req,
		rec: &records.Record{
			RR: message.ResourceRecord{
				Name:  name,
				Type:  req.Type,
				Class: req.Class & protocol.ClassMask,
				TTL:   req.TTL,
				Data:  rd,
			},
			Unique: unique,
		},
	}
	h, err := e.startOp(op, req.OnDone)
	if err != nil {
		return nil, err
	}
	return &RecordRegistration{Handle: h, op: op}, nil
}

func (o *recordOp) claim() *claim { return o.c }

func (o *recordOp) start(e *Engine) error {
	o.c = newClaim(o.id, o.rec.RR.Name, o.ifIndex)
	o.c.group.Records = []*records.Record{o.rec}
	if o.rec.Unique && e.uniqueNameInUse(o.rec.RR.Name, o.id) {
		return fmt.Errorf("register record %s: %w", o.rec.RR.Name, errors.ErrNameConflict)
	}
	if err := e.registry.Register(o.c.group); err != nil {
		return err
	}
	step := o.c.machine.StartShared()
	if o.rec.Unique {
		step = o.c.machine.Start()
	}
	e.runStep(o, step)
	return nil
}

func (o *recordOp) onEvent(*Engine, cache.Event) {}

func (o *recordOp) registered(e *Engine) {
	e.log.Info("record registered", "operation", o.id, "record", o.rec.RR.String())
	if cb := o.req.OnRegistered; cb != nil {
		e.emit(&o.opBase, func(Flags) { cb(0) })
	}
}

func (o *recordOp) conflict(e *Engine) {
	e.fail(o, fmt.Errorf("register record %s: %w", o.rec.RR.Name, errors.ErrNameConflict))
}

func (o *recordOp) interfacesChanged(*Engine) {}

func (o *recordOp) stop(e *Engine) {
	if o.c == nil {
		return
	}
	if _, ok := e.registry.Get(o.id); ok {
		e.releaseClaim(o)
	}
}

// Update replaces the record data and re-announces it without probing. A
// zero ttl keeps the current one.
func (r *RecordRegistration) Update(rdata []byte, ttl uint32) error {
	rd, err := decodeRecordData(r.op.rec.RR.Type, rdata)
	if err != nil {
		return err
	}
	if r.Stopped() {
		return fmt.Errorf("record %d: %w", r.id, errors.ErrClosed)
	}
	e := r.e
	if !e.submit(func() {
		o := r.op
		if o.finished {
			return
		}
		o.rec.RR.Data = rd
		if ttl > 0 {
			o.rec.RR.TTL = ttl
		}
		if step := o.c.machine.Reannounce(); step.Action != state.ActionNone {
			e.runStep(o, step)
		}
	}) {
		return fmt.Errorf("record %d: %w", r.id, errors.ErrClosed)
	}
	return nil
}
