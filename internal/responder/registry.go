// Package responder is the authoritative half of the engine: it keeps the
// records registered on this host, answers queries for them and detects
// conflicts with other hosts (RFC 6762 §6, §8, §9).
package responder

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/records"
)

// Group is the set of records owned by one registration: a service instance
// or a single record from a record registrar.
type Group struct {
	ID uint64

	// Name is the owner name that is probed and defended. Records with other
	// names (PTR, address records) are announced but not probed.
	Name string

	// ServiceType is the service type name ("_http._tcp.local.") of a service
	// registration, empty otherwise.
	ServiceType string

	// IfIndex restricts the group to one interface; 0 means all.
	IfIndex int

	Records []*records.Record

	// Active groups answer queries. A group becomes active when it starts
	// announcing.
	Active bool
}

// ProbeRecords returns the unique records carrying the probed name, in the
// form placed in a probe's authority section.
func (g *Group) ProbeRecords() []message.ResourceRecord {
	var out []message.ResourceRecord
	for _, r := range g.Records {
		if r.Unique && message.EqualNames(r.RR.Name, g.Name) {
			rr := r.RR
			rr.CacheFlush = false
			out = append(out, rr)
		}
	}
	return out
}

func (g *Group) onInterface(ifIndex int) bool {
	return g.IfIndex == 0 || ifIndex == 0 || g.IfIndex == ifIndex
}

// Registry holds the groups registered on this host.
//
// It is owned by the protocol worker; the lock makes read-only inspection
// from other goroutines safe.
type Registry struct {
	mu     sync.RWMutex
	groups map[uint64]*Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[uint64]*Group)}
}

// Register adds a group. A group ID can be registered once.
func (r *Registry) Register(g *Group) error {
	if g == nil {
		return &errors.ValidationError{Field: "group", Value: "nil", Message: "group is required"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.groups[g.ID]; exists {
		return &errors.ValidationError{
			Field:   "group",
			Value:   g.ID,
			Message: fmt.Sprintf("group %d already registered", g.ID),
		}
	}
	r.groups[g.ID] = g
	return nil
}

// Get returns the group with the given ID.
func (r *Registry) Get(id uint64) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

// Remove deletes a group and returns its records that no other active group
// still announces; those are the records owed a goodbye.
func (r *Registry) Remove(id uint64) ([]*records.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, &errors.ValidationError{
			Field:   "group",
			Value:   id,
			Message: "group not registered",
		}
	}
	delete(r.groups, id)
	return r.orphans(g.Records), nil
}

// orphans returns the records of recs not announced by any remaining active group.
func (r *Registry) orphans(recs []*records.Record) []*records.Record {
	var out []*records.Record
	for _, rec := range recs {
		if !r.announcedLocked(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Announced reports whether an active group announces an identical record.
func (r *Registry) Announced(rec *records.Record) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.announcedLocked(rec)
}

func (r *Registry) announcedLocked(rec *records.Record) bool {
	for _, g := range r.groups {
		if !g.Active {
			continue
		}
		for _, other := range g.Records {
			if sameRecord(other, rec) {
				return true
			}
		}
	}
	return false
}

func sameRecord(a, b *records.Record) bool {
	return a.RR.Type == b.RR.Type &&
		a.IfIndex == b.IfIndex &&
		message.EqualNames(a.RR.Name, b.RR.Name) &&
		message.EqualRData(a.RR.Data, b.RR.Data)
}

// List returns the owner names of every group, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.groups))
	for _, g := range r.groups {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	return names
}

// ListServiceTypes returns the distinct service types of the registered
// services (RFC 6763 §9). The result is never nil.
func (r *Registry) ListServiceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	types := []string{}
	for _, g := range r.groups {
		if g.ServiceType == "" {
			continue
		}
		key := message.CanonicalName(g.ServiceType)
		if seen[key] {
			continue
		}
		seen[key] = true
		types = append(types, g.ServiceType)
	}
	sort.Strings(types)
	return types
}

// NameInUse reports whether a group other than except owns name.
func (r *Registry) NameInUse(name string, except uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, g := range r.groups {
		if id != except && g.Name != "" && message.EqualNames(g.Name, name) {
			return true
		}
	}
	return false
}

// GroupsNamed returns the groups owning name.
func (r *Registry) GroupsNamed(name string) []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Group
	for _, g := range r.groups {
		if g.Name != "" && message.EqualNames(g.Name, name) {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b *Group) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Lookup returns the records of active groups answering a question for name,
// t and class on ifIndex. Identical records from several groups are returned
// once. ANY matches every type and class.
func (r *Registry) Lookup(name string, t protocol.RecordType, class uint16, ifIndex int) []*records.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint64, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	class &= protocol.ClassMask
	var out []*records.Record
	for _, id := range ids {
		g := r.groups[id]
		if !g.Active || !g.onInterface(ifIndex) {
			continue
		}
		for _, rec := range g.Records {
			if t != protocol.RecordTypeANY && rec.RR.Type != t {
				continue
			}
			if class != protocol.ClassANY && rec.RR.Class&protocol.ClassMask != class {
				continue
			}
			if rec.IfIndex != 0 && ifIndex != 0 && rec.IfIndex != ifIndex {
				continue
			}
			if !message.EqualNames(rec.RR.Name, name) {
				continue
			}
			if slices.ContainsFunc(out, func(o *records.Record) bool { return sameRecord(o, rec) }) {
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
