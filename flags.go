package dnssd

import (
	"strings"

	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Flags qualify operations and the events they report. The numeric values
// are stable.
type Flags uint32

const (
	// FlagMoreComing is set on an event when more events of the same batch
	// follow immediately. User interfaces can defer redrawing until an event
	// arrives without it.
	FlagMoreComing Flags = 1

	// FlagDefault marks the default domain reported by EnumerateDomains.
	FlagDefault Flags = 4

	// FlagNoAutoRename makes Register fail with ErrNameConflict instead of
	// picking "Name (2)", "Name (3)" and so on.
	FlagNoAutoRename Flags = 8

	// FlagShared registers a record that several hosts may hold at once. It
	// is announced without probing.
	FlagShared Flags = 16

	// FlagUnique registers a record owned by this host only. It is probed
	// first (RFC 6762 §8.1).
	FlagUnique Flags = 32

	// FlagBrowseDomains enumerates the domains recommended for browsing.
	FlagBrowseDomains Flags = 64

	// FlagRegistrationDomains enumerates the domains recommended for
	// registration.
	FlagRegistrationDomains Flags = 128

	// FlagLost marks a BonjourService that disappeared. It is only produced
	// by Discover.
	FlagLost Flags = 1 << 8
)

// Interface selectors accepted wherever an ifIndex is taken.
const (
	// AllInterfaces uses every multicast-capable interface.
	AllInterfaces = 0

	// LocalhostOnly restricts an operation to the loopback interface.
	LocalhostOnly = -1
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	names := []struct {
		flag Flags
		name string
	}{
		{FlagMoreComing, "MORE_COMING"},
		{FlagDefault, "DEFAULT"},
		{FlagNoAutoRename, "NO_AUTO_RENAME"},
		{FlagShared, "SHARED"},
		{FlagUnique, "UNIQUE"},
		{FlagBrowseDomains, "BROWSE_DOMAINS"},
		{FlagRegistrationDomains, "REGISTRATION_DOMAINS"},
		{FlagLost, "LOST"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// RecordType is a DNS resource record type (RFC 1035 §3.2.2).
type RecordType uint16

// Record types used by DNS-SD. Any other value may be queried or
// registered with raw record data.
const (
	TypeA    = RecordType(protocol.RecordTypeA)
	TypePTR  = RecordType(protocol.RecordTypePTR)
	TypeTXT  = RecordType(protocol.RecordTypeTXT)
	TypeAAAA = RecordType(protocol.RecordTypeAAAA)
	TypeSRV  = RecordType(protocol.RecordTypeSRV)
	TypeANY  = RecordType(protocol.RecordTypeANY)
)

func (t RecordType) String() string { return protocol.RecordType(t).String() }

// ClassIN is the Internet class, the only class mDNS uses.
const ClassIN uint16 = protocol.ClassIN
