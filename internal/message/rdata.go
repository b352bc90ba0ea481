package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// RData is the type-specific payload of a resource record.
//
// The concrete types are A, AAAA, PTR, SRV, TXT and Unknown; Unknown keeps
// the raw bytes of any other type so records pass through unchanged.
type RData interface {
	// Type returns the RR TYPE the payload belongs to.
	Type() protocol.RecordType

	// String renders the payload in zone-file style.
	String() string

	pack(b *builder) error
}

// A is an IPv4 address record (RFC 1035 §3.4.1).
type A struct {
	Addr net.IP
}

func (A) Type() protocol.RecordType { return protocol.RecordTypeA }

func (r A) String() string { return r.Addr.String() }

func (r A) pack(b *builder) error {
	ip4 := r.Addr.To4()
	if ip4 == nil {
		return &errors.ValidationError{Field: "A", Value: r.Addr, Message: "not an IPv4 address"}
	}
	b.bytes(ip4)
	return nil
}

// AAAA is an IPv6 address record (RFC 3596).
type AAAA struct {
	Addr net.IP
}

func (AAAA) Type() protocol.RecordType { return protocol.RecordTypeAAAA }

func (r AAAA) String() string { return r.Addr.String() }

func (r AAAA) pack(b *builder) error {
	ip16 := r.Addr.To16()
	if ip16 == nil || r.Addr.To4() != nil {
		return &errors.ValidationError{Field: "AAAA", Value: r.Addr, Message: "not an IPv6 address"}
	}
	b.bytes(ip16)
	return nil
}

// PTR points from a service type to a service instance (RFC 6763 §4.1).
type PTR struct {
	Target string
}

func (PTR) Type() protocol.RecordType { return protocol.RecordTypePTR }

func (r PTR) String() string { return r.Target }

func (r PTR) pack(b *builder) error { return b.name(r.Target, true) }

// SRV locates a service instance (RFC 2782).
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (SRV) Type() protocol.RecordType { return protocol.RecordTypeSRV }

func (r SRV) String() string {
	return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Target)
}

func (r SRV) pack(b *builder) error {
	b.uint16(r.Priority)
	b.uint16(r.Weight)
	b.uint16(r.Port)
	// RFC 6762 §18.14: SRV targets may be compressed in mDNS.
	return b.name(r.Target, true)
}

// TXT carries DNS-SD attributes as length-prefixed strings (RFC 6763 §6).
type TXT struct {
	Strings [][]byte
}

func (TXT) Type() protocol.RecordType { return protocol.RecordTypeTXT }

func (r TXT) String() string {
	parts := make([]string, len(r.Strings))
	for i, s := range r.Strings {
		parts[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(parts, " ")
}

func (r TXT) pack(b *builder) error {
	// RFC 6763 §6.1: an empty TXT record is a single zero-length string.
	if len(r.Strings) == 0 {
		b.bytes([]byte{0})
		return nil
	}
	for _, s := range r.Strings {
		if len(s) > protocol.MaxTXTStringSize {
			return &errors.ValidationError{
				Field:   "TXT",
				Value:   string(s),
				Message: fmt.Sprintf("string exceeds %d bytes", protocol.MaxTXTStringSize),
			}
		}
		b.bytes([]byte{byte(len(s))})
		b.bytes(s)
	}
	return nil
}

// Unknown preserves the rdata of a type this codec does not model.
type Unknown struct {
	RRType protocol.RecordType
	Raw    []byte
}

func (r Unknown) Type() protocol.RecordType { return r.RRType }

func (r Unknown) String() string { return fmt.Sprintf("\\# %d %x", len(r.Raw), r.Raw) }

func (r Unknown) pack(b *builder) error {
	b.bytes(r.Raw)
	return nil
}

// RDataBytes returns the uncompressed wire form of rd.
func RDataBytes(rd RData) ([]byte, error) {
	b := newBuilder(0)
	b.compress = false
	if err := rd.pack(b); err != nil {
		return nil, err
	}
	return b.buf, nil
}

// DecodeRData parses uncompressed rdata of the given type, as supplied by a
// caller registering or reconfirming a raw record.
func DecodeRData(t protocol.RecordType, raw []byte) (RData, error) {
	return parseRData(raw, 0, len(raw), t)
}

// CompareRData orders two payloads by their uncompressed bytes, as used for the
// probe tie-break of RFC 6762 §8.2.
func CompareRData(a, b RData) int {
	ab, errA := RDataBytes(a)
	bb, errB := RDataBytes(b)
	if errA != nil || errB != nil {
		return strings.Compare(a.String(), b.String())
	}
	return bytes.Compare(ab, bb)
}

// EqualRData reports whether two payloads are the same record data. Embedded
// names compare case-insensitively.
func EqualRData(a, b RData) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Type() != b.Type() {
		return false
	}
	switch av := a.(type) {
	case PTR:
		return EqualNames(av.Target, b.(PTR).Target)
	case SRV:
		bv := b.(SRV)
		return av.Priority == bv.Priority && av.Weight == bv.Weight && av.Port == bv.Port &&
			EqualNames(av.Target, bv.Target)
	}
	return CompareRData(a, b) == 0
}

func parseRData(msg []byte, off, length int, t protocol.RecordType) (RData, error) {
	end := off + length
	if end > len(msg) {
		return nil, &errors.WireFormatError{
			Operation: "parse rdata",
			Offset:    off,
			Message:   fmt.Sprintf("rdata length %d overruns message", length),
			Err:       errors.ErrTruncatedMessage,
		}
	}
	data := msg[off:end]

	switch t {
	case protocol.RecordTypeA:
		if length != net.IPv4len {
			return nil, rdataLengthError(off, t, length)
		}
		return A{Addr: net.IP(append([]byte(nil), data...))}, nil

	case protocol.RecordTypeAAAA:
		if length != net.IPv6len {
			return nil, rdataLengthError(off, t, length)
		}
		return AAAA{Addr: net.IP(append([]byte(nil), data...))}, nil

	case protocol.RecordTypePTR:
		name, next, err := ParseName(msg[:end], off)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, rdataLengthError(off, t, length)
		}
		return PTR{Target: name}, nil

	case protocol.RecordTypeSRV:
		if length < 7 {
			return nil, rdataLengthError(off, t, length)
		}
		name, next, err := ParseName(msg[:end], off+6)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, rdataLengthError(off, t, length)
		}
		return SRV{
			Priority: binary.BigEndian.Uint16(data[0:2]),
			Weight:   binary.BigEndian.Uint16(data[2:4]),
			Port:     binary.BigEndian.Uint16(data[4:6]),
			Target:   name,
		}, nil

	case protocol.RecordTypeTXT:
		var strs [][]byte
		for i := 0; i < len(data); {
			n := int(data[i])
			if i+1+n > len(data) {
				return nil, &errors.WireFormatError{
					Operation: "parse TXT",
					Offset:    off + i,
					Message:   "string overruns rdata",
					Err:       errors.ErrTruncatedMessage,
				}
			}
			str := make([]byte, n)
			copy(str, data[i+1:i+1+n])
			strs = append(strs, str)
			i += 1 + n
		}
		return TXT{Strings: strs}, nil

	default:
		return Unknown{RRType: t, Raw: append([]byte(nil), data...)}, nil
	}
}

func rdataLengthError(off int, t protocol.RecordType, length int) error {
	return &errors.WireFormatError{
		Operation: "parse rdata",
		Offset:    off,
		Message:   fmt.Sprintf("invalid %s rdata length %d", t, length),
		Err:       errors.ErrTruncatedMessage,
	}
}
