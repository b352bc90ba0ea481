package cache

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(max int) *Cache {
	return New(Config{MaxEntries: max, Jitter: func() float64 { return 0 }})
}

func aRecord(name string, last byte, ttl uint32) message.ResourceRecord {
	return message.ResourceRecord{
		Name:       name,
		Type:       protocol.RecordTypeA,
		Class:      protocol.ClassIN,
		CacheFlush: true,
		TTL:        ttl,
		Data:       message.A{Addr: net.IPv4(192, 168, 1, last).To4()},
	}
}

func ptrRecord(instance string, ttl uint32) message.ResourceRecord {
	return message.ResourceRecord{
		Name:  "_ipp._tcp.local.",
		Type:  protocol.RecordTypePTR,
		Class: protocol.ClassIN,
		TTL:   ttl,
		Data:  message.PTR{Target: instance + "._ipp._tcp.local."},
	}
}

func txtRecord(value string) message.ResourceRecord {
	return message.ResourceRecord{
		Name:       "Printer._ipp._tcp.local.",
		Type:       protocol.RecordTypeTXT,
		Class:      protocol.ClassIN,
		CacheFlush: true,
		TTL:        120,
		Data:       message.TXT{Strings: [][]byte{[]byte(value)}},
	}
}

func TestInsert_AddedOnceThenRefreshed(t *testing.T) {
	c := newTestCache(0)
	rr := aRecord("printer.local.", 5, 120)

	events := c.Insert(rr, 2, t0)
	require.Len(t, events, 1)
	assert.Equal(t, Added, events[0].Kind)
	assert.Equal(t, 2, events[0].IfIndex)

	assert.Empty(t, c.Insert(rr, 2, t0.Add(10*time.Second)), "refresh of identical rdata is silent")

	got := c.Lookup("PRINTER.local", protocol.RecordTypeA, protocol.ClassIN, 0, t0.Add(20*time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, uint32(110), got[0].Record.TTL, "TTL counts from the last refresh")
}

func TestInsert_Goodbye(t *testing.T) {
	c := newTestCache(0)
	c.Insert(ptrRecord("Printer", 4500), 1, t0)

	events := c.Insert(ptrRecord("Printer", 0), 1, t0.Add(time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, Removed, events[0].Kind)
	assert.Equal(t, uint32(0), events[0].Record.TTL)
	assert.Empty(t, c.Lookup("_ipp._tcp.local.", protocol.RecordTypePTR, protocol.ClassIN, 0, t0.Add(time.Second)))

	assert.Empty(t, c.Insert(ptrRecord("Unknown", 0), 1, t0), "goodbye for uncached rdata is ignored")
}

func TestTick_ExpiresAndLookupNeverReturnsExpired(t *testing.T) {
	c := newTestCache(0)
	c.Insert(aRecord("printer.local.", 5, 120), 1, t0)

	deadline := t0.Add(120 * time.Second)
	assert.Empty(t, c.Lookup("printer.local.", protocol.RecordTypeA, protocol.ClassIN, 0, deadline))

	events, _ := c.Tick(deadline)
	require.Len(t, events, 1)
	assert.Equal(t, Expired, events[0].Kind)
	assert.Equal(t, 0, c.Len())
}

func TestInsert_CacheFlush(t *testing.T) {
	c := newTestCache(0)
	c.Insert(txtRecord("v=1"), 1, t0)

	// Within the one second grace both values survive.
	events := c.Insert(txtRecord("v=2"), 1, t0.Add(500*time.Millisecond))
	require.Len(t, events, 1)
	assert.Equal(t, Added, events[0].Kind)
	assert.Len(t, c.Lookup("Printer._ipp._tcp.local.", protocol.RecordTypeTXT, protocol.ClassIN, 0, t0.Add(time.Second)), 2)

	// Later, a flushing record evicts older rdata on that interface only.
	c.Insert(txtRecord("v=1"), 7, t0)
	events = c.Insert(txtRecord("v=3"), 1, t0.Add(3*time.Second))
	require.Len(t, events, 3)
	assert.Equal(t, Removed, events[0].Kind)
	assert.Equal(t, Removed, events[1].Kind)
	assert.Equal(t, Added, events[2].Kind)

	got := c.Lookup("Printer._ipp._tcp.local.", protocol.RecordTypeTXT, protocol.ClassIN, 1, t0.Add(3*time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, message.TXT{Strings: [][]byte{[]byte("v=3")}}, got[0].Record.Data)
	assert.Len(t, c.Lookup("Printer._ipp._tcp.local.", protocol.RecordTypeTXT, protocol.ClassIN, 7, t0.Add(3*time.Second)), 1)
}

func TestInsert_SharedPTRKeepsAllRData(t *testing.T) {
	c := newTestCache(0)
	c.Insert(ptrRecord("A", 4500), 1, t0)
	c.Insert(ptrRecord("B", 4500), 1, t0)
	c.Insert(ptrRecord("A", 4500), 1, t0)

	assert.Len(t, c.Lookup("_ipp._tcp.local.", protocol.RecordTypePTR, protocol.ClassIN, 0, t0), 2)
}

func TestTick_RefreshSchedule(t *testing.T) {
	c := newTestCache(0)
	c.Insert(ptrRecord("A", 100), 1, t0)
	c.Insert(ptrRecord("B", 100), 1, t0)

	// Unpinned sets are never refreshed.
	_, refresh := c.Tick(t0.Add(80 * time.Second))
	assert.Empty(t, refresh)

	c = newTestCache(0)
	key := NewKey("_ipp._tcp.local.", protocol.RecordTypePTR, protocol.ClassIN)
	c.Pin(key)
	c.Insert(ptrRecord("A", 100), 1, t0)
	c.Insert(ptrRecord("B", 100), 1, t0)

	assert.Equal(t, t0.Add(80*time.Second), c.NextDeadline())

	_, refresh = c.Tick(t0.Add(79 * time.Second))
	assert.Empty(t, refresh)

	_, refresh = c.Tick(t0.Add(80 * time.Second))
	require.Len(t, refresh, 1, "two rdata of one set coalesce into one refresh")
	assert.Equal(t, Refresh{Key: key, IfIndex: 1}, refresh[0])

	_, refresh = c.Tick(t0.Add(85 * time.Second))
	assert.Empty(t, refresh)

	for _, at := range []time.Duration{90, 95, 97} {
		_, refresh = c.Tick(t0.Add(at * time.Second))
		assert.Len(t, refresh, 1, "refresh at %d%%", at)
	}
	_, refresh = c.Tick(t0.Add(99 * time.Second))
	assert.Empty(t, refresh)
}

func TestLRU_EvictsOldestUnpinned(t *testing.T) {
	var evicted []string
	c := New(Config{MaxEntries: 3, OnEvict: func(rr message.ResourceRecord) { evicted = append(evicted, rr.Name) }})

	c.Insert(aRecord("pinned.local.", 1, 120), 1, t0)
	c.Pin(NewKey("pinned.local.", protocol.RecordTypeA, protocol.ClassIN))

	for i := 0; i < 4; i++ {
		c.Insert(aRecord(fmt.Sprintf("host%d.local.", i), byte(i), 120), 1, t0)
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"host0.local.", "host1.local."}, evicted)
	assert.Len(t, c.Lookup("pinned.local.", protocol.RecordTypeA, protocol.ClassIN, 0, t0), 1)
	assert.Equal(t, 2, c.Evictions())
}

func TestLRU_LookupRefreshesRecency(t *testing.T) {
	c := newTestCache(2)
	c.Insert(aRecord("a.local.", 1, 120), 1, t0)
	c.Insert(aRecord("b.local.", 2, 120), 1, t0)
	c.Lookup("a.local.", protocol.RecordTypeA, protocol.ClassIN, 0, t0)
	c.Insert(aRecord("c.local.", 3, 120), 1, t0)

	assert.Len(t, c.Lookup("a.local.", protocol.RecordTypeA, protocol.ClassIN, 0, t0), 1)
	assert.Empty(t, c.Lookup("b.local.", protocol.RecordTypeA, protocol.ClassIN, 0, t0))
}

func TestKnownAnswers_HalfTTLRule(t *testing.T) {
	c := newTestCache(0)
	c.Insert(ptrRecord("Fresh", 4500), 1, t0)
	c.Insert(ptrRecord("Stale", 4500), 1, t0.Add(-3000*time.Second))

	q := message.Question{Name: "_ipp._tcp.local.", Type: protocol.RecordTypePTR, Class: protocol.ClassIN}
	known := c.KnownAnswers(q, 0, t0)
	require.Len(t, known, 1)
	assert.Equal(t, message.PTR{Target: "Fresh._ipp._tcp.local."}, known[0].Data)
	assert.Equal(t, uint32(4500), known[0].TTL)

	assert.Empty(t, c.KnownAnswers(q, 9, t0), "other interface")
}

func TestLookup_AnyType(t *testing.T) {
	c := newTestCache(0)
	c.Insert(txtRecord("a=b"), 1, t0)
	c.Insert(message.ResourceRecord{
		Name: "Printer._ipp._tcp.local.", Type: protocol.RecordTypeSRV, Class: protocol.ClassIN, TTL: 120,
		Data: message.SRV{Port: 631, Target: "printer.local."},
	}, 1, t0)

	assert.Len(t, c.Lookup("printer._ipp._tcp.local.", protocol.RecordTypeANY, protocol.ClassIN, 0, t0), 2)
}

func TestReconfirm_ShortensLifetime(t *testing.T) {
	c := newTestCache(0)
	rr := aRecord("printer.local.", 5, 120)
	c.Insert(rr, 1, t0)

	require.True(t, c.Reconfirm(rr, 0, t0))
	assert.False(t, c.Reconfirm(aRecord("printer.local.", 6, 120), 0, t0))

	events, _ := c.Tick(t0.Add(protocol.ReconfirmWindow))
	require.Len(t, events, 1)
	assert.Equal(t, Expired, events[0].Kind)
}

func TestPurgeInterface(t *testing.T) {
	c := newTestCache(0)
	c.Insert(aRecord("a.local.", 1, 120), 1, t0)
	c.Insert(aRecord("b.local.", 2, 120), 2, t0)

	events := c.PurgeInterface(2, t0)
	require.Len(t, events, 1)
	assert.Equal(t, "b.local.", events[0].Record.Name)
	assert.Equal(t, 1, c.Len())
}
