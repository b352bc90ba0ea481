package engine

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/records"
	"github.com/joshuafuller/dnssd/internal/state"
)

// RegisterRequest advertises a service instance.
type RegisterRequest struct {
	// Flags accepts FlagNoAutoRename.
	Flags   Flags
	IfIndex int

	// Instance defaults to the first label of the host name.
	Instance    string
	ServiceType string
	Domain      string

	// Host overrides the SRV target. No address records are published for
	// a host name given here.
	Host string
	Port uint16

	// TXT is the TXT rdata in wire form. Empty means a single empty string.
	TXT []byte

	OnRegistered func(RegisteredEvent)

	Lifecycle
}

// RegisteredEvent reports the name a registration won.
type RegisteredEvent struct {
	Flags       Flags
	Instance    string
	ServiceType string
	Domain      string
}

// Registration is the handle of a running Register operation. Extra records
// share the instance name and are announced with the service.
type Registration struct {
	*Handle
	op         *registerOp
	nextRecord atomic.Uint64

	mu    sync.Mutex
	types map[uint64]protocol.RecordType
}

// TXTRecordID identifies the primary TXT record in UpdateRecord.
const TXTRecordID uint64 = 0

type extraRecord struct {
	id  uint64
	rec *records.Record
}

type registerOp struct {
	opBase
	req         RegisterRequest
	c           *claim
	original    string
	instance    string
	serviceType string
	domain      string
	host        string
	ownHost     bool
	txt         message.TXT
	txtTTL      uint32
	extras      []extraRecord
	renames     int
	reported    string
}

// Register validates req and starts probing for the instance name.
func (e *Engine) Register(req RegisterRequest) (*Registration, error) {
	st := message.NormalizeServiceType(req.ServiceType)
	if err := message.ValidateServiceType(st); err != nil {
		return nil, err
	}
	instance := req.Instance
	if instance == "" {
		label, err := message.FirstLabel(e.cfg.Hostname)
		if err != nil {
			return nil, err
		}
		instance = label
	}
	if _, err := message.ServiceInstanceName(instance, st, req.Domain); err != nil {
		return nil, err
	}
	host, ownHost := e.cfg.Hostname, true
	if req.Host != "" {
		host, ownHost = message.Fqdn(req.Host), false
		if err := message.ValidateHostname(host); err != nil {
			return nil, err
		}
	}
	txt, err := parseTXT(req.TXT)
	if err != nil {
		return nil, err
	}

	op := &registerOp{
		opBase:      newBase("register", req.IfIndex, req.Lifecycle),
		req:         req,
		original:    instance,
		instance:    instance,
		serviceType: st,
		domain:      message.NormalizeDomain(req.Domain),
		host:        host,
		ownHost:     ownHost,
		txt:         txt,
		txtTTL:      records.DefaultTTL(protocol.RecordTypeTXT),
	}
	h, err := e.startOp(op, req.OnDone)
	if err != nil {
		return nil, err
	}
	return &Registration{Handle: h, op: op, types: make(map[uint64]protocol.RecordType)}, nil
}

func parseTXT(raw []byte) (message.TXT, error) {
	if len(raw) == 0 {
		return message.TXT{}, nil
	}
	rd, err := message.DecodeRData(protocol.RecordTypeTXT, raw)
	if err != nil {
		return message.TXT{}, &errors.ValidationError{Field: "txt", Value: len(raw), Message: err.Error()}
	}
	txt, ok := rd.(message.TXT)
	if !ok {
		return message.TXT{}, &errors.ValidationError{Field: "txt", Value: len(raw), Message: "not TXT rdata"}
	}
	return txt, nil
}

func (o *registerOp) claim() *claim { return o.c }

func (o *registerOp) fullName() string {
	name, err := message.ServiceInstanceName(o.instance, o.serviceType, o.domain)
	if err != nil {
		return ""
	}
	return name
}

func (o *registerOp) start(e *Engine) error {
	o.c = newClaim(o.id, "", o.ifIndex)
	if err := o.pickName(e); err != nil {
		return err
	}
	if err := o.rebuild(e); err != nil {
		return err
	}
	if err := e.registry.Register(o.c.group); err != nil {
		return err
	}
	e.log.Info("registering service", "operation", o.id, "name", o.c.group.Name, "port", o.req.Port)
	e.runStep(o, o.c.machine.Start())
	return nil
}

// pickName renames until no other local registration owns the name.
func (o *registerOp) pickName(e *Engine) error {
	for e.uniqueNameInUse(o.fullName(), o.id) {
		if o.req.Flags.Has(FlagNoAutoRename) {
			return fmt.Errorf("register %q: %w", o.instance, errors.ErrNameConflict)
		}
		o.rename()
	}
	return nil
}

// rename derives the next candidate: "Name (2)", "Name (3)" and so on, with
// the base trimmed so the label stays within 63 bytes.
func (o *registerOp) rename() {
	o.renames++
	suffix := " (" + strconv.Itoa(o.renames+1) + ")"
	base := o.original
	for len(base)+len(suffix) > protocol.MaxLabelLength {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	o.instance = base + suffix
}

// rebuild regenerates the record set for the current name and addresses.
func (o *registerOp) rebuild(e *Engine) error {
	info := &records.ServiceInfo{
		InstanceName: o.instance,
		ServiceType:  o.serviceType,
		Domain:       o.domain,
		Hostname:     o.host,
		Port:         o.req.Port,
	}
	if o.ownHost {
		info.Addresses = e.addresses(o.link, o.ifIndex)
	}
	set, err := records.BuildRecordSet(info)
	if err != nil {
		return err
	}
	name := set[0].RR.Name
	for _, rec := range set {
		if rec.RR.Type == protocol.RecordTypeTXT && message.EqualNames(rec.RR.Name, name) {
			rec.RR.Data = o.txt
			rec.RR.TTL = o.txtTTL
		}
	}
	for _, x := range o.extras {
		x.rec.RR.Name = name
		set = append(set, x.rec)
	}
	o.c.group.Name = name
	o.c.group.ServiceType = message.ServiceTypeName(o.serviceType, o.domain)
	o.c.group.Records = set
	return nil
}

func (o *registerOp) onEvent(*Engine, cache.Event) {}

func (o *registerOp) registered(e *Engine) {
	if o.instance == o.reported {
		return
	}
	o.reported = o.instance
	e.log.Info("service registered", "operation", o.id, "name", o.c.group.Name)
	cb := o.req.OnRegistered
	if cb == nil {
		return
	}
	event := RegisteredEvent{Instance: o.instance, ServiceType: o.serviceType, Domain: o.domain}
	// MORE_COMING is never set on a registration result.
	e.emit(&o.opBase, func(Flags) { cb(event) })
}

// conflict handles another host claiming the name. While probing the name
// is given up for the next candidate; once announced the name is probed
// again (RFC 6762 §9).
func (o *registerOp) conflict(e *Engine) {
	now := e.clock.Now()
	probing := o.c.machine.GetState() == state.StateProbing
	o.c.machine.Conflict(now)
	o.c.group.Active = false

	if !probing {
		e.log.Info("registered name challenged, probing again", "operation", o.id, "name", o.c.group.Name)
		e.runStep(o, o.c.machine.Restart(now))
		return
	}
	if o.req.Flags.Has(FlagNoAutoRename) {
		e.fail(o, fmt.Errorf("register %q: %w", o.instance, errors.ErrNameConflict))
		return
	}
	old := o.c.group.Name
	o.rename()
	if err := o.pickName(e); err != nil {
		e.fail(o, err)
		return
	}
	if err := o.rebuild(e); err != nil {
		e.fail(o, err)
		return
	}
	e.log.Info("renaming service after conflict", "operation", o.id, "from", old, "to", o.c.group.Name)
	e.runStep(o, o.c.machine.Restart(now))
}

func (o *registerOp) interfacesChanged(e *Engine) {
	if !o.ownHost {
		return
	}
	if err := o.rebuild(e); err != nil {
		e.log.Warn("rebuilding records failed", "operation", o.id, "error", err)
		return
	}
	o.reannounce(e)
}

func (o *registerOp) reannounce(e *Engine) {
	if step := o.c.machine.Reannounce(); step.Action != state.ActionNone {
		e.runStep(o, step)
	}
}

func (o *registerOp) stop(e *Engine) {
	if o.c == nil {
		return
	}
	if _, ok := e.registry.Get(o.id); !ok {
		return
	}
	e.log.Info("unregistering service", "operation", o.id, "name", o.c.group.Name)
	e.releaseClaim(o)
}

func (o *registerOp) addRecord(e *Engine, id uint64, t protocol.RecordType, rd message.RData, ttl uint32) {
	rec := &records.Record{
		RR:     message.ResourceRecord{Type: t, Class: protocol.ClassIN, TTL: ttl, Data: rd},
		Unique: true,
	}
	o.extras = append(o.extras, extraRecord{id: id, rec: rec})
	if err := o.rebuild(e); err != nil {
		e.log.Warn("adding record failed", "operation", o.id, "error", err)
		return
	}
	o.reannounce(e)
}

func (o *registerOp) updateRecord(e *Engine, id uint64, rd message.RData, ttl uint32) {
	if id == TXTRecordID {
		txt, ok := rd.(message.TXT)
		if !ok {
			return
		}
		o.txt = txt
		if ttl > 0 {
			o.txtTTL = ttl
		}
	} else {
		i := slices.IndexFunc(o.extras, func(x extraRecord) bool { return x.id == id })
		if i < 0 {
			return
		}
		o.extras[i].rec.RR.Data = rd
		if ttl > 0 {
			o.extras[i].rec.RR.TTL = ttl
		}
	}
	if err := o.rebuild(e); err != nil {
		e.log.Warn("updating record failed", "operation", o.id, "error", err)
		return
	}
	o.reannounce(e)
}

func (o *registerOp) removeRecord(e *Engine, id uint64) {
	i := slices.IndexFunc(o.extras, func(x extraRecord) bool { return x.id == id })
	if i < 0 {
		return
	}
	removed := o.extras[i].rec
	o.extras = slices.Delete(o.extras, i, i+1)
	if err := o.rebuild(e); err != nil {
		e.log.Warn("removing record failed", "operation", o.id, "error", err)
		return
	}
	if o.c.group.Active && o.c.machine.Announced() {
		e.announce(&o.opBase, []*records.Record{removed}, true)
	}
}

// AddRecord attaches a record of type t to the instance name and returns its
// identifier. It is announced with the service.
func (r *Registration) AddRecord(t protocol.RecordType, rdata []byte, ttl uint32) (uint64, error) {
	rd, err := decodeRecordData(t, rdata)
	if err != nil {
		return 0, err
	}
	if ttl == 0 {
		ttl = records.DefaultTTL(t)
	}
	id := r.nextRecord.Add(1)
	if err := r.run(func(e *Engine) { r.op.addRecord(e, id, t, rd, ttl) }); err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.types[id] = t
	r.mu.Unlock()
	return id, nil
}

// UpdateRecord replaces the data of an added record, or of the primary TXT
// record for TXTRecordID, and re-announces without probing. A zero ttl keeps
// the current one.
func (r *Registration) UpdateRecord(id uint64, rdata []byte, ttl uint32) error {
	t := protocol.RecordTypeTXT
	if id != TXTRecordID {
		var ok bool
		if t, ok = r.recordType(id); !ok {
			return &errors.ValidationError{Field: "record", Value: id, Message: "unknown record"}
		}
	}
	rd, err := decodeRecordData(t, rdata)
	if err != nil {
		return err
	}
	return r.run(func(e *Engine) { r.op.updateRecord(e, id, rd, ttl) })
}

// RemoveRecord withdraws an added record with a goodbye.
func (r *Registration) RemoveRecord(id uint64) error {
	if id == TXTRecordID {
		return &errors.ValidationError{Field: "record", Value: id, Message: "the primary TXT record cannot be removed"}
	}
	if _, ok := r.recordType(id); !ok {
		return &errors.ValidationError{Field: "record", Value: id, Message: "unknown record"}
	}
	r.mu.Lock()
	delete(r.types, id)
	r.mu.Unlock()
	return r.run(func(e *Engine) { r.op.removeRecord(e, id) })
}

func (r *Registration) recordType(id uint64) (protocol.RecordType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.types[id]
	return t, ok
}

func (r *Registration) run(fn func(*Engine)) error {
	if r.Stopped() {
		return fmt.Errorf("registration %d: %w", r.id, errors.ErrClosed)
	}
	e := r.e
	if !e.submit(func() {
		if !r.op.finished {
			fn(e)
		}
	}) {
		return fmt.Errorf("registration %d: %w", r.id, errors.ErrClosed)
	}
	return nil
}

func decodeRecordData(t protocol.RecordType, rdata []byte) (message.RData, error) {
	rd, err := message.DecodeRData(t, rdata)
	if err != nil {
		return nil, &errors.ValidationError{Field: "rdata", Value: len(rdata), Message: err.Error()}
	}
	return rd, nil
}

// uniqueNameInUse reports whether a group other than except probes name.
func (e *Engine) uniqueNameInUse(name string, except uint64) bool {
	for _, g := range e.registry.GroupsNamed(name) {
		if g.ID != except && len(g.ProbeRecords()) > 0 {
			return true
		}
	}
	return false
}
