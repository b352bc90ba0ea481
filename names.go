package dnssd

import (
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/transport"
)

// ConstructFullName joins an instance name, a service type and a domain
// into the name used by QueryRecord and RegisterRecord, escaping dots and
// backslashes in the instance label (RFC 6763 §4.3). An empty instance name
// yields the service type name.
//
//	ConstructFullName("Office Printer", "_ipp._tcp", "") // "Office Printer._ipp._tcp.local."
//	ConstructFullName("", "_ipp._tcp", "")               // "_ipp._tcp.local."
func ConstructFullName(name, serviceType, domain string) (string, error) {
	const op = "construct full name"
	if err := message.ValidateServiceType(serviceType); err != nil {
		return "", wrap(op, err)
	}
	if name == "" {
		return message.ServiceTypeName(serviceType, domain), nil
	}
	full, err := message.ServiceInstanceName(name, serviceType, domain)
	if err != nil {
		return "", wrap(op, err)
	}
	return full, nil
}

// IfIndexForName returns the index of a network interface, for use as the
// ifIndex argument of any operation.
func IfIndexForName(name string) (int, error) {
	idx, err := transport.InterfaceByName(name)
	if err != nil {
		return 0, wrap("interface index", err)
	}
	return idx, nil
}

// ParseTXTRecords decodes TXT record data into key/value pairs. Empty keys
// are skipped and the first of duplicate keys wins (RFC 6763 §6.4). A key
// without "=" maps to "".
func ParseTXTRecords(rdata []byte) (map[string]string, error) {
	m, err := message.ParseTXTRData(rdata)
	if err != nil {
		return nil, wrap("parse TXT", err)
	}
	return m.Map(), nil
}

// NewTXTRecord encodes key/value pairs as TXT record data in sorted key
// order. An empty map encodes a single empty string. Keys that are empty,
// contain '=' or are not printable US-ASCII, and pairs over 255 bytes, fail
// with ErrBadParam (RFC 6763 §6.4).
func NewTXTRecord(attrs map[string]string) ([]byte, error) {
	m, err := message.NewTXTMap(attrs)
	if err != nil {
		return nil, wrap("TXT record", err)
	}
	return m.Bytes(), nil
}
