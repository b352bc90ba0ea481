// Package cache holds records learned from the network (RFC 6762 §10).
//
// The cache is owned by the protocol worker and is not safe for concurrent
// use. Time is passed in explicitly so the worker's clock drives expiry.
package cache

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 4096

// refreshFractions are the points of the TTL at which an interested record is
// re-queried before it expires (RFC 6762 §5.2).
var refreshFractions = []float64{0.80, 0.90, 0.95, 0.97}

// refreshJitter is the random spread added to each refresh point.
const refreshJitter = 0.02

// Key identifies a record set: canonical name, type and class without the
// cache-flush bit.
type Key struct {
	Name  string
	Type  protocol.RecordType
	Class uint16
}

// KeyOf returns the cache key of a record.
func KeyOf(rr message.ResourceRecord) Key {
	return Key{Name: message.CanonicalName(rr.Name), Type: rr.Type, Class: rr.Class & protocol.ClassMask}
}

// NewKey builds a key from a name, type and class.
func NewKey(name string, t protocol.RecordType, class uint16) Key {
	return Key{Name: message.CanonicalName(name), Type: t, Class: class & protocol.ClassMask}
}

// EventKind classifies a cache change.
type EventKind int

const (
	// Added reports rdata not previously cached on that interface.
	Added EventKind = iota
	// Removed reports a goodbye or a cache-flush eviction.
	Removed
	// Expired reports a record whose TTL ran out.
	Expired
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is a change to the cache contents.
type Event struct {
	Kind    EventKind
	Record  message.ResourceRecord
	IfIndex int
}

// Answer is a cached record with its TTL set to the remaining lifetime.
type Answer struct {
	Record  message.ResourceRecord
	IfIndex int
}

// Refresh asks the worker to re-query a record set on an interface.
type Refresh struct {
	Key     Key
	IfIndex int
}

type entry struct {
	id        uint64
	key       Key
	record    message.ResourceRecord
	ifIndex   int
	received  time.Time
	expires   time.Time
	refreshAt time.Time
	stage     int
}

func (e *entry) remaining(now time.Time) time.Duration {
	return e.expires.Sub(now)
}

// Config tunes a Cache.
type Config struct {
	// MaxEntries bounds the number of cached records. Entries of pinned keys
	// are never evicted and do not count against the bound when evicting.
	MaxEntries int

	// Jitter returns a value in [0,1) used to spread refresh queries.
	Jitter func() float64

	// OnEvict is called when an entry is dropped to honour MaxEntries.
	OnEvict func(message.ResourceRecord)
}

// Cache is a TTL-keyed record store with LRU eviction of unpinned entries.
type Cache struct {
	cfg     Config
	entries map[Key][]*entry
	byID    map[uint64]*entry
	lru     *simplelru.LRU[uint64, struct{}]
	pins    map[Key]int
	nextID  uint64
	evicted int
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Float64
	}
	c := &Cache{
		cfg:     cfg,
		entries: make(map[Key][]*entry),
		byID:    make(map[uint64]*entry),
		pins:    make(map[Key]int),
	}
	// The LRU only orders unpinned entries; its own limit is never reached
	// because enforceBound evicts first.
	c.lru, _ = simplelru.NewLRU[uint64, struct{}](math.MaxInt32, nil)
	return c
}

// Len returns the number of cached records.
func (c *Cache) Len() int { return len(c.byID) }

// Evictions returns how many entries were dropped to honour the size bound.
func (c *Cache) Evictions() int { return c.evicted }

// Insert adds or refreshes a record received on ifIndex at now and returns
// the resulting changes.
//
// A record with the cache-flush bit first evicts other rdata of the same set
// on the same interface that is older than one second (RFC 6762 §10.2). A
// record with TTL 0 is a goodbye and removes the matching rdata.
func (c *Cache) Insert(rr message.ResourceRecord, ifIndex int, now time.Time) []Event {
	key := KeyOf(rr)
	var events []Event

	if rr.IsGoodbye() {
		if e := c.find(key, ifIndex, rr.Data); e != nil {
			c.remove(e)
			events = append(events, Event{Kind: Removed, Record: e.recordAt(now, 0), IfIndex: ifIndex})
		}
		return events
	}

	if rr.CacheFlush {
		for _, e := range append([]*entry(nil), c.entries[key]...) {
			if e.ifIndex != ifIndex || message.EqualRData(e.record.Data, rr.Data) {
				continue
			}
			if now.Sub(e.received) < protocol.CacheFlushGrace {
				continue
			}
			c.remove(e)
			events = append(events, Event{Kind: Removed, Record: e.recordAt(now, 0), IfIndex: ifIndex})
		}
	}

	if e := c.find(key, ifIndex, rr.Data); e != nil {
		e.record = rr
		e.received = now
		e.expires = now.Add(ttlDuration(rr.TTL))
		e.stage = 0
		e.refreshAt = c.nextRefresh(e)
		c.touch(e)
		return events
	}

	c.nextID++
	e := &entry{
		id:       c.nextID,
		key:      key,
		record:   rr,
		ifIndex:  ifIndex,
		received: now,
		expires:  now.Add(ttlDuration(rr.TTL)),
	}
	e.refreshAt = c.nextRefresh(e)
	c.entries[key] = append(c.entries[key], e)
	c.byID[e.id] = e
	if c.pins[key] == 0 {
		c.lru.Add(e.id, struct{}{})
	}
	events = append(events, Event{Kind: Added, Record: rr, IfIndex: ifIndex})
	c.enforceBound()
	return events
}

func (c *Cache) enforceBound() {
	for len(c.byID) > c.cfg.MaxEntries {
		id, _, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		e, ok := c.byID[id]
		if !ok {
			continue
		}
		c.unlink(e)
		c.evicted++
		if c.cfg.OnEvict != nil {
			c.cfg.OnEvict(e.record)
		}
	}
}

func (c *Cache) find(key Key, ifIndex int, data message.RData) *entry {
	for _, e := range c.entries[key] {
		if e.ifIndex == ifIndex && message.EqualRData(e.record.Data, data) {
			return e
		}
	}
	return nil
}

func (c *Cache) touch(e *entry) {
	if c.pins[e.key] == 0 {
		c.lru.Get(e.id)
	}
}

func (c *Cache) remove(e *entry) {
	c.lru.Remove(e.id)
	c.unlink(e)
}

func (c *Cache) unlink(e *entry) {
	delete(c.byID, e.id)
	list := c.entries[e.key]
	for i, other := range list {
		if other == e {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.entries, e.key)
	} else {
		c.entries[e.key] = list
	}
}

func (c *Cache) nextRefresh(e *entry) time.Time {
	if e.stage >= len(refreshFractions) {
		return time.Time{}
	}
	ttl := ttlDuration(e.record.TTL)
	frac := refreshFractions[e.stage] + refreshJitter*c.cfg.Jitter()
	return e.received.Add(time.Duration(float64(ttl) * frac))
}

// Lookup returns the unexpired records of a set; ifIndex 0 matches every
// interface. A type of ANY matches every type of the name.
func (c *Cache) Lookup(name string, t protocol.RecordType, class uint16, ifIndex int, now time.Time) []Answer {
	var out []Answer
	c.each(name, t, class, func(e *entry) {
		if ifIndex != 0 && e.ifIndex != ifIndex {
			return
		}
		if !e.expires.After(now) {
			return
		}
		c.touch(e)
		out = append(out, Answer{Record: e.recordAt(now, -1), IfIndex: e.ifIndex})
	})
	return out
}

// KnownAnswers returns the cached records that answer q on ifIndex and still
// have more than half of their TTL left (RFC 6762 §7.1).
func (c *Cache) KnownAnswers(q message.Question, ifIndex int, now time.Time) []message.ResourceRecord {
	var out []message.ResourceRecord
	c.each(q.Name, q.Type, q.Class, func(e *entry) {
		if ifIndex != 0 && e.ifIndex != ifIndex {
			return
		}
		total := ttlDuration(e.record.TTL)
		if e.remaining(now)*2 <= total {
			return
		}
		out = append(out, e.recordAt(now, -1))
	})
	return out
}

func (c *Cache) each(name string, t protocol.RecordType, class uint16, fn func(*entry)) {
	class &= protocol.ClassMask
	if t != protocol.RecordTypeANY {
		for _, e := range c.entries[NewKey(name, t, class)] {
			fn(e)
		}
		return
	}
	canonical := message.CanonicalName(name)
	for key, list := range c.entries {
		if key.Name != canonical || (class != protocol.ClassANY && key.Class != class) {
			continue
		}
		for _, e := range list {
			fn(e)
		}
	}
}

// recordAt returns the record with TTL set to ttl, or to the remaining
// lifetime in whole seconds when ttl is negative.
func (e *entry) recordAt(now time.Time, ttl int64) message.ResourceRecord {
	rr := e.record
	if ttl < 0 {
		ttl = int64(math.Ceil(e.remaining(now).Seconds()))
		if ttl < 0 {
			ttl = 0
		}
	}
	rr.TTL = uint32(ttl)
	return rr
}

// Tick expires records whose deadline passed and returns the refresh queries
// due for pinned record sets. Refreshes are coalesced per set and interface.
func (c *Cache) Tick(now time.Time) ([]Event, []Refresh) {
	var (
		events  []Event
		refresh []Refresh
		seen    map[Refresh]bool
	)
	for _, list := range c.entries {
		for _, e := range append([]*entry(nil), list...) {
			if !e.expires.After(now) {
				c.remove(e)
				events = append(events, Event{Kind: Expired, Record: e.recordAt(now, 0), IfIndex: e.ifIndex})
				continue
			}
			if e.refreshAt.IsZero() || e.refreshAt.After(now) {
				continue
			}
			for e.stage < len(refreshFractions) && !e.refreshAt.After(now) {
				e.stage++
				e.refreshAt = c.nextRefresh(e)
			}
			if c.pins[e.key] == 0 {
				continue
			}
			r := Refresh{Key: e.key, IfIndex: e.ifIndex}
			if seen == nil {
				seen = make(map[Refresh]bool)
			}
			if !seen[r] {
				seen[r] = true
				refresh = append(refresh, r)
			}
		}
	}
	return events, refresh
}

// NextDeadline returns the earliest expiry or refresh point, or the zero time
// when the cache is empty.
func (c *Cache) NextDeadline() time.Time {
	var next time.Time
	for _, e := range c.byID {
		if next.IsZero() || e.expires.Before(next) {
			next = e.expires
		}
		if !e.refreshAt.IsZero() && c.pins[e.key] > 0 && e.refreshAt.Before(next) {
			next = e.refreshAt
		}
	}
	return next
}

// Pin marks a record set as referenced by an operation: its entries are
// exempt from LRU eviction and get refresh queries.
func (c *Cache) Pin(key Key) {
	c.pins[key]++
	if c.pins[key] == 1 {
		for _, e := range c.entries[key] {
			c.lru.Remove(e.id)
		}
	}
}

// Unpin releases a reference taken with Pin.
func (c *Cache) Unpin(key Key) {
	n := c.pins[key]
	if n <= 0 {
		return
	}
	if n == 1 {
		delete(c.pins, key)
		for _, e := range c.entries[key] {
			c.lru.Add(e.id, struct{}{})
		}
		c.enforceBound()
		return
	}
	c.pins[key] = n - 1
}

// Pinned reports whether an operation references key.
func (c *Cache) Pinned(key Key) bool { return c.pins[key] > 0 }

// Reconfirm shortens the lifetime of matching entries to the verification
// window of RFC 6762 §10.4 unless an answer refreshes them first. It reports
// whether any entry matched.
func (c *Cache) Reconfirm(rr message.ResourceRecord, ifIndex int, now time.Time) bool {
	found := false
	for _, e := range c.entries[KeyOf(rr)] {
		if ifIndex != 0 && e.ifIndex != ifIndex {
			continue
		}
		if !message.EqualRData(e.record.Data, rr.Data) {
			continue
		}
		found = true
		if deadline := now.Add(protocol.ReconfirmWindow); deadline.Before(e.expires) {
			e.expires = deadline
		}
	}
	return found
}

// Flush removes every record of the set on ifIndex (0 for all) and returns
// the removals.
func (c *Cache) Flush(key Key, ifIndex int, now time.Time) []Event {
	var events []Event
	for _, e := range append([]*entry(nil), c.entries[key]...) {
		if ifIndex != 0 && e.ifIndex != ifIndex {
			continue
		}
		c.remove(e)
		events = append(events, Event{Kind: Removed, Record: e.recordAt(now, 0), IfIndex: e.ifIndex})
	}
	return events
}

// PurgeInterface drops everything learned on an interface that went away.
func (c *Cache) PurgeInterface(ifIndex int, now time.Time) []Event {
	var events []Event
	for key := range c.entries {
		events = append(events, c.Flush(key, ifIndex, now)...)
	}
	return events
}

func ttlDuration(ttl uint32) time.Duration {
	return time.Duration(ttl) * time.Second
}
