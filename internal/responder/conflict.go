package responder

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Conflicts reports whether a record received in a response conflicts with a
// unique record we own: same name, type and class with different rdata
// (RFC 6762 §9). Goodbyes never conflict.
func Conflicts(owned []message.ResourceRecord, rr message.ResourceRecord) bool {
	if rr.IsGoodbye() {
		return false
	}
	matched := false
	for _, o := range owned {
		if o.Type != rr.Type || o.Class&protocol.ClassMask != rr.Class&protocol.ClassMask {
			continue
		}
		if !message.EqualNames(o.Name, rr.Name) {
			continue
		}
		if message.EqualRData(o.Data, rr.Data) {
			return false
		}
		matched = true
	}
	return matched
}

// TieBreak compares our proposed records with the authority records of a
// simultaneous probe for the same name (RFC 6762 §8.2).
//
// It returns a negative value when we lose and must defer, a positive value
// when we win and ignore the other probe, and 0 when both sets are identical,
// which happens when our own probe is looped back.
func TieBreak(ours, theirs []message.ResourceRecord) int {
	a := sortedForTieBreak(ours)
	b := sortedForTieBreak(theirs)
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareForTieBreak(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

type tieBreakRecord struct {
	class uint16
	rtype protocol.RecordType
	rdata []byte
}

func sortedForTieBreak(rrs []message.ResourceRecord) []tieBreakRecord {
	out := make([]tieBreakRecord, 0, len(rrs))
	for _, rr := range rrs {
		raw, err := message.RDataBytes(rr.Data)
		if err != nil {
			continue
		}
		out = append(out, tieBreakRecord{class: rr.Class & protocol.ClassMask, rtype: rr.Type, rdata: raw})
	}
	slices.SortFunc(out, compareForTieBreak)
	return out
}

// compareForTieBreak orders by class, then type, then raw rdata bytes.
func compareForTieBreak(a, b tieBreakRecord) int {
	if c := cmp.Compare(a.class, b.class); c != 0 {
		return c
	}
	if c := cmp.Compare(a.rtype, b.rtype); c != 0 {
		return c
	}
	return bytes.Compare(a.rdata, b.rdata)
}

// ProbeAuthorities returns the authority records of a probe that carry name.
func ProbeAuthorities(msg *message.Message, name string) []message.ResourceRecord {
	var out []message.ResourceRecord
	for _, rr := range msg.Authorities {
		if message.EqualNames(rr.Name, name) {
			out = append(out, rr)
		}
	}
	return out
}

// IsProbe reports whether a query is a probe: it carries proposed records in
// its authority section (RFC 6762 §8.1).
func IsProbe(msg *message.Message) bool {
	return !msg.Header.IsResponse() && len(msg.Questions) > 0 && len(msg.Authorities) > 0
}
