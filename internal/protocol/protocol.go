// Package protocol defines the mDNS and DNS-SD wire constants shared by the
// codec, the transport, the cache and the operation engine.
//
// RFC 6762: Multicast DNS
// RFC 6763: DNS-Based Service Discovery
package protocol

import (
	"fmt"
	"time"
)

// mDNS link-local endpoints per RFC 6762 §3 and §5.
const (
	// Port is the UDP port for all mDNS traffic.
	Port = 5353

	// MulticastAddrIPv4 is the IPv4 mDNS group.
	MulticastAddrIPv4 = "224.0.0.251"

	// MulticastAddrIPv6 is the IPv6 link-local mDNS group.
	MulticastAddrIPv6 = "ff02::fb"

	// MulticastTTL is the IP TTL / hop limit used on every mDNS packet (RFC 6762 §11).
	MulticastTTL = 255

	// MaxPacketSize is the largest unfragmented datagram we emit.
	//
	// 1500 byte Ethernet MTU minus IPv4 (20) and UDP (8) headers.
	MaxPacketSize = 1472

	// MaxMessageSize bounds receive buffers (RFC 6762 §17).
	MaxMessageSize = 9000
)

// RecordType is a DNS RR TYPE value (RFC 1035 §3.2.2).
type RecordType uint16

// Record types used by DNS-SD.
const (
	RecordTypeA    RecordType = 1
	RecordTypePTR  RecordType = 12
	RecordTypeTXT  RecordType = 16
	RecordTypeAAAA RecordType = 28
	RecordTypeSRV  RecordType = 33
	RecordTypeNSEC RecordType = 47
	RecordTypeANY  RecordType = 255
)

// String returns the mnemonic for known types and TYPEnnn otherwise (RFC 3597).
func (t RecordType) String() string {
	switch t {
	case RecordTypeA:
		return "A"
	case RecordTypePTR:
		return "PTR"
	case RecordTypeTXT:
		return "TXT"
	case RecordTypeAAAA:
		return "AAAA"
	case RecordTypeSRV:
		return "SRV"
	case RecordTypeNSEC:
		return "NSEC"
	case RecordTypeANY:
		return "ANY"
	default:
		return fmt.Sprintf("TYPE%d", uint16(t))
	}
}

// Shared reports whether records of this type are shared by default.
//
// RFC 6762 §2: PTR records used by DNS-SD are shared; SRV, TXT and address
// records are unique to their owner.
func (t RecordType) Shared() bool {
	return t == RecordTypePTR
}

// DNS classes and the two mDNS uses of the class high bit.
const (
	ClassIN  uint16 = 1
	ClassANY uint16 = 255

	// CacheFlushBit marks a unique record in a response (RFC 6762 §10.2).
	CacheFlushBit uint16 = 0x8000

	// UnicastResponseBit is the QU bit in a question (RFC 6762 §5.4).
	UnicastResponseBit uint16 = 0x8000

	// ClassMask strips the mDNS high bit from a class field.
	ClassMask uint16 = 0x7FFF
)

// Header flag bits (RFC 1035 §4.1.1).
const (
	FlagQR uint16 = 1 << 15
	FlagAA uint16 = 1 << 10
	FlagTC uint16 = 1 << 9
)

// Record TTLs per RFC 6762 §10.
const (
	// TTLHostname applies to A, AAAA, SRV and TXT records.
	TTLHostname uint32 = 120

	// TTLService applies to shared PTR records (75 minutes).
	TTLService uint32 = 4500

	// TTLGoodbye announces that a record is gone.
	TTLGoodbye uint32 = 0
)

// Timing constants for queries, probing and announcing.
const (
	// InitialQueryInterval is the first retransmit delay for continuous queries (RFC 6762 §5.2).
	InitialQueryInterval = time.Second

	// MaxQueryInterval caps exponential retransmit backoff.
	MaxQueryInterval = 60 * time.Second

	// ProbeInterval separates probe queries (RFC 6762 §8.1).
	ProbeInterval = 250 * time.Millisecond

	// ProbeCount is the number of probes sent before announcing.
	ProbeCount = 3

	// AnnounceInterval separates unsolicited announcements (RFC 6762 §8.3).
	AnnounceInterval = time.Second

	// AnnounceCount is the number of announcements.
	AnnounceCount = 2

	// KnownAnswerInterval spaces truncated known-answer continuation packets (RFC 6762 §7.2).
	KnownAnswerInterval = 400 * time.Millisecond

	// CacheFlushGrace protects records received within the last second from a flush (RFC 6762 §10.2).
	CacheFlushGrace = time.Second

	// ConflictWindow and ConflictLimit throttle probing after repeated conflicts (RFC 6762 §8.1).
	ConflictWindow = 10 * time.Second
	ConflictLimit  = 15
	ConflictDelay  = 5 * time.Second

	// ReconfirmWindow bounds how long a record under reconfirmation may stay unanswered (RFC 6762 §10.4).
	ReconfirmWindow = 10 * time.Second

	// MinMulticastInterval limits how often a record may be multicast on one interface (RFC 6762 §6).
	MinMulticastInterval = time.Second

	// ProbeDeferDelay is how long the loser of a simultaneous-probe tie-break waits (RFC 6762 §8.2).
	ProbeDeferDelay = time.Second
)

// DNS-SD well-known names (RFC 6763).
const (
	DefaultDomain             = "local."
	ServicesEnumerationName   = "_services._dns-sd._udp"
	BrowseDomainsPrefix       = "b._dns-sd._udp"
	RegistrationDomainsPrefix = "r._dns-sd._udp"
)

// Name limits (RFC 1035 §2.3.4, RFC 6762 §16).
const (
	MaxLabelLength   = 63
	MaxNameLength    = 255
	MaxPointerJumps  = 128
	MaxTXTStringSize = 255
)
