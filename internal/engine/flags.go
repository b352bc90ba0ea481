package engine

import (
	"strings"
)

// Flags is the operation flag bitset. The values are shared with the public
// API and are stable.
type Flags uint32

const (
	// FlagMoreComing is set on every callback of a batch except the last.
	FlagMoreComing Flags = 1
	// FlagDefault marks the default domain in domain enumeration.
	FlagDefault Flags = 4
	// FlagNoAutoRename fails a registration on conflict instead of renaming.
	FlagNoAutoRename Flags = 8
	// FlagShared registers a record without probing.
	FlagShared Flags = 16
	// FlagUnique registers a record that is probed and defended.
	FlagUnique Flags = 32
	// FlagBrowseDomains enumerates browsing domains.
	FlagBrowseDomains Flags = 64
	// FlagRegistrationDomains enumerates registration domains.
	FlagRegistrationDomains Flags = 128
)

// Has reports whether every bit of f2 is set.
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
