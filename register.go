package dnssd

import (
	"github.com/joshuafuller/dnssd/internal/engine"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Service describes a service instance to advertise.
type Service struct {
	// Flags accepts FlagNoAutoRename.
	Flags   Flags
	IfIndex int

	// Name is the instance label. Empty means the first label of the host
	// name.
	Name string

	// Type is the service type, e.g. "_ipp._tcp".
	Type string

	// Domain defaults to "local.".
	Domain string

	// Host overrides the SRV target. Address records are published only for
	// the default host name.
	Host string
	Port uint16

	// TXT is the TXT record in wire form; see NewTXTRecord. Empty means a
	// single empty string (RFC 6763 §6.1).
	TXT []byte
}

// Register advertises a service instance.
//
// The instance name is probed first (RFC 6762 §8.1). If another host owns
// it, the name becomes "Name (2)", "Name (3)" and so on, unless
// FlagNoAutoRename is set, in which case the registration fails with
// ErrNameConflict. ServiceRegistered reports the name that was won once the
// records are announced. Stop withdraws the records with goodbye packets.
//
// Example:
//
//	txt, err := dnssd.NewTXTRecord(map[string]string{"rp": "print"})
//	if err != nil {
//	    return err
//	}
//	reg, err := d.Register(dnssd.Service{
//	    Name: "Office Printer",
//	    Type: "_ipp._tcp",
//	    Port: 631,
//	    TXT:  txt,
//	}, dnssd.RegisterFuncs{
//	    Registered: func(s dnssd.RegisteredService) { log.Println("registered", s.Name) },
//	})
func (d *DNSSD) Register(s Service, l RegisterListener) (*Registration, error) {
	const op = "register"
	if l == nil {
		return nil, badParam(op, "listener", "listener is required")
	}
	e, release, err := d.acquire()
	if err != nil {
		return nil, wrap(op, err)
	}
	r, err := e.Register(engine.RegisterRequest{
		Flags:       engine.Flags(s.Flags),
		IfIndex:     s.IfIndex,
		Instance:    s.Name,
		ServiceType: s.Type,
		Domain:      s.Domain,
		Host:        s.Host,
		Port:        s.Port,
		TXT:         s.TXT,
		OnRegistered: func(ev engine.RegisteredEvent) {
			l.ServiceRegistered(RegisteredService{
				Flags:  Flags(ev.Flags),
				Name:   ev.Instance,
				Type:   ev.ServiceType,
				Domain: ev.Domain,
			})
		},
		Lifecycle: d.lifecycle(op, l.OperationFailed, release),
	})
	if err != nil {
		release()
		return nil, wrap(op, err)
	}
	return &Registration{Operation: Operation{h: r.Handle}, r: r}, nil
}

// Registration is the handle of a running Register operation.
type Registration struct {
	Operation
	r *engine.Registration
}

// TXTRecord returns the primary TXT record of the service. It can be
// updated but not removed.
func (r *Registration) TXTRecord() *Record {
	return &Record{r: r.r, id: engine.TXTRecordID, Type: TypeTXT}
}

// AddRecord publishes an additional record under the instance name, for
// example a second TXT record or a vendor-specific type. A zero ttl selects
// the default for the type.
func (r *Registration) AddRecord(rrtype RecordType, rdata []byte, ttl uint32) (*Record, error) {
	const op = "add record"
	id, err := r.r.AddRecord(protocol.RecordType(rrtype), rdata, ttl)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &Record{r: r.r, id: id, Type: rrtype}, nil
}

// Record is a record attached to a Registration.
type Record struct {
	r    *engine.Registration
	id   uint64
	Type RecordType
}

// Update replaces the record data and announces the change without probing
// (RFC 6762 §8.4). A zero ttl keeps the current one.
func (rec *Record) Update(rdata []byte, ttl uint32) error {
	return wrap("update record", rec.r.UpdateRecord(rec.id, rdata, ttl))
}

// Remove withdraws the record with a goodbye. The primary TXT record cannot
// be removed.
func (rec *Record) Remove() error {
	return wrap("remove record", rec.r.RemoveRecord(rec.id))
}

// RegisterRecord advertises a single resource record. Flags must hold
// exactly one of FlagShared and FlagUnique. Unique records are probed and
// fail with ErrNameConflict when another host owns the name; they are never
// renamed. A zero rrclass means ClassIN and a zero ttl the default for the
// type.
func (d *DNSSD) RegisterRecord(flags Flags, ifIndex int, fullName string, rrtype RecordType, rrclass uint16, rdata []byte, ttl uint32, l RecordListener) (*RecordRegistration, error) {
	const op = "register record"
	if l == nil {
		return nil, badParam(op, "listener", "listener is required")
	}
	e, release, err := d.acquire()
	if err != nil {
		return nil, wrap(op, err)
	}
	r, err := e.RegisterRecord(engine.RecordRequest{
		Flags:        engine.Flags(flags),
		IfIndex:      ifIndex,
		Name:         fullName,
		Type:         protocol.RecordType(rrtype),
		Class:        rrclass,
		RData:        rdata,
		TTL:          ttl,
		OnRegistered: func(f engine.Flags) { l.RecordRegistered(Flags(f)) },
		Lifecycle:    d.lifecycle(op, l.OperationFailed, release),
	})
	if err != nil {
		release()
		return nil, wrap(op, err)
	}
	return &RecordRegistration{Operation: Operation{h: r.Handle}, r: r}, nil
}

// RecordRegistration is the handle of a record from RegisterRecord.
type RecordRegistration struct {
	Operation
	r *engine.RecordRegistration
}

// Update replaces the record data and announces it without probing. A zero
// ttl keeps the current one.
func (r *RecordRegistration) Update(rdata []byte, ttl uint32) error {
	return wrap("update record", r.r.Update(rdata, ttl))
}
