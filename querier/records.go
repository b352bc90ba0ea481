package querier

import (
	"net"

	"github.com/joshuafuller/dnssd"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// RecordType is a DNS record type (RFC 1035 §3.2.2).
//
// Each type serves a specific purpose in DNS-SD service discovery:
//
//   - A and AAAA records resolve host names to addresses
//   - PTR records enumerate the instances of a service type
//   - SRV records give the host and port of an instance
//   - TXT records carry instance metadata (key=value pairs)
//
// Example:
//
//	// Query for IPv4 address
//	response, _ := q.Query(ctx, "printer.local", querier.RecordTypeA)
//
//	// Discover HTTP services
//	response, _ = q.Query(ctx, "_http._tcp.local", querier.RecordTypePTR)
type RecordType = dnssd.RecordType

const (
	// RecordTypeA queries for IPv4 address records (type 1).
	//
	// Example: Query("printer.local", RecordTypeA) → 192.168.1.100
	RecordTypeA = dnssd.TypeA

	// RecordTypePTR queries for pointer records (type 12).
	//
	// Example: Query("_http._tcp.local", RecordTypePTR) → "webserver._http._tcp.local."
	RecordTypePTR = dnssd.TypePTR

	// RecordTypeTXT queries for text records (type 16).
	//
	// Example: Query("webserver._http._tcp.local", RecordTypeTXT) → ["version=1.0", "path=/"]
	RecordTypeTXT = dnssd.TypeTXT

	// RecordTypeAAAA queries for IPv6 address records (type 28).
	RecordTypeAAAA = dnssd.TypeAAAA

	// RecordTypeSRV queries for service records (type 33).
	//
	// Example: Query("webserver._http._tcp.local", RecordTypeSRV) → {Port:8080, Target:"server.local."}
	RecordTypeSRV = dnssd.TypeSRV
)

// Response holds the records collected by one Query (RFC 6762 §6).
//
// Several responders may send identical records; each record appears once.
// A record withdrawn with a goodbye before the query ended is not included.
//
// An empty Records slice means no host answered before the deadline. This is
// not an error.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
//	defer cancel()
//
//	response, err := q.Query(ctx, "printer.local", querier.RecordTypeA)
//	if err != nil {
//	    return err
//	}
//	for _, record := range response.Records {
//	    if ip := record.AsA(); ip != nil {
//	        fmt.Printf("Found device at %s\n", ip)
//	    }
//	}
type Response struct {
	// Records in order of arrival.
	Records []ResourceRecord
}

// ResourceRecord is one answer (RFC 1035 §3.2.1).
//
// Data holds the decoded payload:
//   - A and AAAA records: net.IP
//   - PTR record: string (target name)
//   - SRV record: SRVData
//   - TXT record: []string
//   - any other type: []byte (raw rdata)
//
// Use AsA, AsAAAA, AsPTR, AsSRV or AsTXT for type-safe access.
type ResourceRecord struct {
	Data interface{}

	// Name is the owner name, e.g. "printer.local.".
	Name string

	// TTL is the time-to-live in seconds announced by the responder.
	TTL uint32

	Type RecordType

	// Class is the DNS class with the cache-flush bit cleared.
	Class uint16

	// IfIndex is the interface the record was received on.
	IfIndex int
}

// SRVData is the payload of an SRV record (RFC 2782).
type SRVData struct {
	// Target is the host providing the service. It usually needs an A or
	// AAAA query of its own.
	Target string

	Priority uint16
	Weight   uint16
	Port     uint16
}

// AsA returns the IPv4 address of an A record, or nil.
func (r *ResourceRecord) AsA() net.IP {
	if r.Type != RecordTypeA {
		return nil
	}
	ip, ok := r.Data.(net.IP)
	if !ok {
		return nil
	}
	return ip
}

// AsAAAA returns the IPv6 address of an AAAA record, or nil.
func (r *ResourceRecord) AsAAAA() net.IP {
	if r.Type != RecordTypeAAAA {
		return nil
	}
	ip, ok := r.Data.(net.IP)
	if !ok {
		return nil
	}
	return ip
}

// AsPTR returns the target of a PTR record, or "".
//
// Example:
//
//	for _, record := range response.Records {
//	    if target := record.AsPTR(); target != "" {
//	        fmt.Printf("Found service: %s\n", target)
//	    }
//	}
func (r *ResourceRecord) AsPTR() string {
	if r.Type != RecordTypePTR {
		return ""
	}
	target, ok := r.Data.(string)
	if !ok {
		return ""
	}
	return target
}

// AsSRV returns the payload of an SRV record, or nil.
func (r *ResourceRecord) AsSRV() *SRVData {
	if r.Type != RecordTypeSRV {
		return nil
	}
	srv, ok := r.Data.(SRVData)
	if !ok {
		return nil
	}
	return &srv
}

// AsTXT returns the strings of a TXT record, or nil.
func (r *ResourceRecord) AsTXT() []string {
	if r.Type != RecordTypeTXT {
		return nil
	}
	txt, ok := r.Data.([]string)
	if !ok {
		return nil
	}
	return txt
}

// newResourceRecord decodes the payload of a query answer. Undecodable data
// is kept raw.
func newResourceRecord(ev dnssd.RecordEvent) ResourceRecord {
	rr := ResourceRecord{
		Name:    ev.Name,
		TTL:     ev.TTL,
		Type:    ev.Type,
		Class:   ev.Class,
		IfIndex: ev.IfIndex,
		Data:    append([]byte(nil), ev.RData...),
	}
	rd, err := message.DecodeRData(protocol.RecordType(ev.Type), ev.RData)
	if err != nil {
		return rr
	}
	switch v := rd.(type) {
	case message.A:
		rr.Data = v.Addr
	case message.AAAA:
		rr.Data = v.Addr
	case message.PTR:
		rr.Data = v.Target
	case message.SRV:
		rr.Data = SRVData{Target: v.Target, Priority: v.Priority, Weight: v.Weight, Port: v.Port}
	case message.TXT:
		strs := make([]string, 0, len(v.Strings))
		for _, s := range v.Strings {
			strs = append(strs, string(s))
		}
		rr.Data = strs
	}
	return rr
}
