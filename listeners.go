package dnssd

import (
	"github.com/joshuafuller/dnssd/internal/message"
)

// ServiceEvent reports a service instance found or lost by Browse.
type ServiceEvent struct {
	Flags   Flags
	IfIndex int

	// Name is the raw instance label, e.g. "Office Printer".
	Name string

	// Type is the service type, e.g. "_ipp._tcp". When browsing
	// "_services._dns-sd._udp" the event describes a service type instead:
	// Name is "_ipp", Type is "_tcp.local." and Domain is ".".
	Type   string
	Domain string
}

// ResolvedService is the result of Resolve.
type ResolvedService struct {
	Flags    Flags
	IfIndex  int
	FullName string
	Host     string
	Port     uint16

	// TXT is the TXT record in wire form (RFC 6763 §6): length-prefixed
	// strings. An instance without TXT data has a single empty string.
	TXT []byte
}

// TXTMap decodes TXT into key/value pairs. Keys without "=" map to "".
func (r ResolvedService) TXTMap() map[string]string {
	m, err := message.ParseTXTRData(r.TXT)
	if err != nil {
		return map[string]string{}
	}
	return m.Map()
}

// RecordEvent carries an answer to QueryRecord. A record that went away is
// reported again with TTL 0.
type RecordEvent struct {
	Flags   Flags
	IfIndex int
	Name    string
	Type    RecordType
	Class   uint16
	RData   []byte
	TTL     uint32
}

// RegisteredService reports the name a registration won. It differs from
// the requested name after an automatic rename.
type RegisteredService struct {
	Flags  Flags
	Name   string
	Type   string
	Domain string
}

// DomainEvent reports a domain found or lost by EnumerateDomains.
type DomainEvent struct {
	Flags   Flags
	IfIndex int
	Domain  string
}

// BrowseListener receives Browse results.
type BrowseListener interface {
	ServiceFound(ServiceEvent)
	ServiceLost(ServiceEvent)
	OperationFailed(error)
}

// ResolveListener receives the single result of Resolve. A resolve that
// times out ends without a callback.
type ResolveListener interface {
	ServiceResolved(ResolvedService)
	OperationFailed(error)
}

// QueryListener receives QueryRecord answers.
type QueryListener interface {
	QueryAnswered(RecordEvent)
	OperationFailed(error)
}

// RegisterListener learns the final name of a registration.
type RegisterListener interface {
	ServiceRegistered(RegisteredService)
	OperationFailed(error)
}

// DomainListener receives EnumerateDomains results.
type DomainListener interface {
	DomainFound(DomainEvent)
	DomainLost(DomainEvent)
	OperationFailed(error)
}

// RecordListener learns when a record from RegisterRecord is advertised.
type RecordListener interface {
	RecordRegistered(Flags)
	OperationFailed(error)
}

// BrowseFuncs adapts functions to BrowseListener. Nil fields are ignored.
type BrowseFuncs struct {
	Found  func(ServiceEvent)
	Lost   func(ServiceEvent)
	Failed func(error)
}

func (f BrowseFuncs) ServiceFound(ev ServiceEvent) {
	if f.Found != nil {
		f.Found(ev)
	}
}

func (f BrowseFuncs) ServiceLost(ev ServiceEvent) {
	if f.Lost != nil {
		f.Lost(ev)
	}
}

func (f BrowseFuncs) OperationFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

// ResolveFuncs adapts functions to ResolveListener.
type ResolveFuncs struct {
	Resolved func(ResolvedService)
	Failed   func(error)
}

func (f ResolveFuncs) ServiceResolved(r ResolvedService) {
	if f.Resolved != nil {
		f.Resolved(r)
	}
}

func (f ResolveFuncs) OperationFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

// QueryFuncs adapts functions to QueryListener.
type QueryFuncs struct {
	Answered func(RecordEvent)
	Failed   func(error)
}

func (f QueryFuncs) QueryAnswered(ev RecordEvent) {
	if f.Answered != nil {
		f.Answered(ev)
	}
}

func (f QueryFuncs) OperationFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

// RegisterFuncs adapts functions to RegisterListener.
type RegisterFuncs struct {
	Registered func(RegisteredService)
	Failed     func(error)
}

func (f RegisterFuncs) ServiceRegistered(s RegisteredService) {
	if f.Registered != nil {
		f.Registered(s)
	}
}

func (f RegisterFuncs) OperationFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

// DomainFuncs adapts functions to DomainListener.
type DomainFuncs struct {
	Found  func(DomainEvent)
	Lost   func(DomainEvent)
	Failed func(error)
}

func (f DomainFuncs) DomainFound(ev DomainEvent) {
	if f.Found != nil {
		f.Found(ev)
	}
}

func (f DomainFuncs) DomainLost(ev DomainEvent) {
	if f.Lost != nil {
		f.Lost(ev)
	}
}

func (f DomainFuncs) OperationFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}

// RecordFuncs adapts functions to RecordListener.
type RecordFuncs struct {
	Registered func(Flags)
	Failed     func(error)
}

func (f RecordFuncs) RecordRegistered(flags Flags) {
	if f.Registered != nil {
		f.Registered(flags)
	}
}

func (f RecordFuncs) OperationFailed(err error) {
	if f.Failed != nil {
		f.Failed(err)
	}
}
