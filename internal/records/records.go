// Package records builds the resource records a local registration owns.
//
// RFC 6763 §6: a DNS-SD service is advertised through a PTR record from the
// service type to the instance, an SRV record giving host and port, a TXT
// record with attributes and address records for the host.
package records

import (
	"net"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Record is a locally owned resource record.
type Record struct {
	RR message.ResourceRecord

	// IfIndex restricts the record to one interface; 0 means every interface
	// in the owner's scope. Address records are per interface (RFC 6762 §15).
	IfIndex int

	// Unique records are probed and carry the cache-flush bit (RFC 6762 §10.2).
	Unique bool
}

// Key returns the case-insensitive identity of the record set.
func (r *Record) Key() (string, protocol.RecordType) {
	return message.CanonicalName(r.RR.Name), r.RR.Type
}

// Wire returns the record as it is sent in a response.
func (r *Record) Wire() message.ResourceRecord {
	rr := r.RR
	rr.CacheFlush = r.Unique
	return rr
}

// Goodbye returns the record with TTL 0 (RFC 6762 §10.1).
func (r *Record) Goodbye() message.ResourceRecord {
	rr := r.Wire()
	rr.TTL = protocol.TTLGoodbye
	return rr
}

// InterfaceAddr is an address of the host on one interface.
type InterfaceAddr struct {
	IfIndex int
	IP      net.IP
}

// ServiceInfo describes a service instance to advertise.
type ServiceInfo struct {
	InstanceName string // raw UTF-8 instance label
	ServiceType  string // "_http._tcp"
	Domain       string // "local."
	Hostname     string // SRV target
	Port         uint16
	TXT          *message.TXTMap

	// Addresses of Hostname. Empty when the SRV target is a host name owned
	// by someone else.
	Addresses []InterfaceAddr
}

// InstanceFQDN returns the escaped service instance name.
func (s *ServiceInfo) InstanceFQDN() (string, error) {
	return message.ServiceInstanceName(s.InstanceName, s.ServiceType, s.Domain)
}

// DefaultTTL returns the RFC 6762 §10 TTL for a record type: 120 seconds for
// records tied to a host name, 75 minutes for everything else.
func DefaultTTL(t protocol.RecordType) uint32 {
	switch t {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA, protocol.RecordTypeSRV, protocol.RecordTypeTXT:
		return protocol.TTLHostname
	default:
		return protocol.TTLService
	}
}

// BuildRecordSet returns the records of a service instance in announcement
// order: SRV, TXT, PTR, service type enumeration PTR and address records.
func BuildRecordSet(s *ServiceInfo) ([]*Record, error) {
	instance, err := s.InstanceFQDN()
	if err != nil {
		return nil, err
	}
	typeName := message.ServiceTypeName(s.ServiceType, s.Domain)
	host := message.Fqdn(s.Hostname)

	set := []*Record{
		{
			RR: message.ResourceRecord{
				Name:  instance,
				Type:  protocol.RecordTypeSRV,
				Class: protocol.ClassIN,
				TTL:   DefaultTTL(protocol.RecordTypeSRV),
				Data:  message.SRV{Port: s.Port, Target: host},
			},
			Unique: true,
		},
		{
			RR: message.ResourceRecord{
				Name:  instance,
				Type:  protocol.RecordTypeTXT,
				Class: protocol.ClassIN,
				TTL:   DefaultTTL(protocol.RecordTypeTXT),
				Data:  message.TXT{Strings: buildTXTStrings(s.TXT)},
			},
			Unique: true,
		},
		{
			RR: message.ResourceRecord{
				Name:  typeName,
				Type:  protocol.RecordTypePTR,
				Class: protocol.ClassIN,
				TTL:   DefaultTTL(protocol.RecordTypePTR),
				Data:  message.PTR{Target: instance},
			},
		},
		{
			// RFC 6763 §9: service type enumeration.
			RR: message.ResourceRecord{
				Name:  protocol.ServicesEnumerationName + "." + message.NormalizeDomain(s.Domain),
				Type:  protocol.RecordTypePTR,
				Class: protocol.ClassIN,
				TTL:   DefaultTTL(protocol.RecordTypePTR),
				Data:  message.PTR{Target: typeName},
			},
		},
	}
	return append(set, AddressRecords(host, s.Addresses)...), nil
}

// AddressRecords builds A and AAAA records for host, one per interface address.
func AddressRecords(host string, addrs []InterfaceAddr) []*Record {
	out := make([]*Record, 0, len(addrs))
	for _, a := range addrs {
		rec := buildAddressRecord(host, a)
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

func buildAddressRecord(host string, a InterfaceAddr) *Record {
	rr := message.ResourceRecord{
		Name:  message.Fqdn(host),
		Class: protocol.ClassIN,
	}
	if ip4 := a.IP.To4(); ip4 != nil {
		rr.Type = protocol.RecordTypeA
		rr.Data = message.A{Addr: ip4}
	} else if ip16 := a.IP.To16(); ip16 != nil {
		rr.Type = protocol.RecordTypeAAAA
		rr.Data = message.AAAA{Addr: ip16}
	} else {
		return nil
	}
	rr.TTL = DefaultTTL(rr.Type)
	return &Record{RR: rr, IfIndex: a.IfIndex, Unique: true}
}

func buildTXTStrings(txt *message.TXTMap) [][]byte {
	if txt.Len() == 0 {
		return nil
	}
	return txt.Strings()
}
