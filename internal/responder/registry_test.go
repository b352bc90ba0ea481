package responder

import (
	"net"
	"sync"
	"testing"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/records"
)

func serviceGroup(t *testing.T, id uint64, instance, serviceType string, port uint16) *Group {
	t.Helper()
	info := &records.ServiceInfo{
		InstanceName: instance,
		ServiceType:  serviceType,
		Domain:       "local.",
		Hostname:     "host.local.",
		Port:         port,
		Addresses:    []records.InterfaceAddr{{IfIndex: 1, IP: net.ParseIP("192.168.1.10")}},
	}
	set, err := records.BuildRecordSet(info)
	if err != nil {
		t.Fatalf("BuildRecordSet() error = %v", err)
	}
	name, _ := info.InstanceFQDN()
	return &Group{
		ID:          id,
		Name:        name,
		ServiceType: message.ServiceTypeName(serviceType, "local."),
		Records:     set,
		Active:      true,
	}
}

// TestRegistry_Register tests group registration.
func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	g := serviceGroup(t, 1, "My Printer", "_http._tcp", 8080)

	if err := registry.Register(g); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}

	got, exists := registry.Get(1)
	if !exists {
		t.Fatal("Get() returned exists=false after Register()")
	}
	if got.Name != "My Printer._http._tcp.local." {
		t.Errorf("Get().Name = %q, want %q", got.Name, "My Printer._http._tcp.local.")
	}
}

// TestRegistry_Register_Duplicate tests duplicate registration handling.
func TestRegistry_Register_Duplicate(t *testing.T) {
	registry := NewRegistry()
	g := serviceGroup(t, 1, "My Printer", "_http._tcp", 8080)

	if err := registry.Register(g); err != nil {
		t.Fatalf("First Register() error = %v, want nil", err)
	}
	if err := registry.Register(g); err == nil {
		t.Error("Duplicate Register() error = nil, want error")
	}
	if err := registry.Register(nil); err == nil {
		t.Error("Register(nil) error = nil, want error")
	}
}

// TestRegistry_Get_NotFound tests retrieving a non-existent group.
func TestRegistry_Get_NotFound(t *testing.T) {
	registry := NewRegistry()

	_, exists := registry.Get(99)
	if exists {
		t.Error("Get(99) exists=true, want false")
	}
}

// TestRegistry_Remove tests group removal and the goodbye set it returns.
func TestRegistry_Remove(t *testing.T) {
	registry := NewRegistry()
	a := serviceGroup(t, 1, "Printer A", "_http._tcp", 8080)
	b := serviceGroup(t, 2, "Printer B", "_http._tcp", 8081)
	_ = registry.Register(a)
	_ = registry.Register(b)

	orphans, err := registry.Remove(1)
	if err != nil {
		t.Fatalf("Remove() error = %v, want nil", err)
	}
	if _, exists := registry.Get(1); exists {
		t.Error("Get() exists=true after Remove(), want false")
	}

	// The address record and the service enumeration PTR are still announced
	// by the other group and must not be said goodbye to.
	for _, rec := range orphans {
		if rec.RR.Type == protocol.RecordTypeA {
			t.Errorf("orphans contain shared address record %v", rec.RR)
		}
		if message.EqualNames(rec.RR.Name, "_services._dns-sd._udp.local.") {
			t.Errorf("orphans contain shared enumeration record %v", rec.RR)
		}
	}
	if len(orphans) != 3 {
		t.Errorf("len(orphans) = %d, want 3 (SRV, TXT, PTR)", len(orphans))
	}
}

// TestRegistry_Remove_NotFound tests removing a non-existent group.
func TestRegistry_Remove_NotFound(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.Remove(42); err == nil {
		t.Error("Remove(42) error = nil, want error")
	}
}

// TestRegistry_ConcurrentAccess tests concurrent registration and retrieval.
//
// This test is meant to be run with `go test -race`.
func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	groups := make([]*Group, 100)
	for i := range groups {
		groups[i] = serviceGroup(t, uint64(i+1), formatInstanceName("Service", i), "_http._tcp", uint16(8080+i))
	}

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g *Group) {
			defer wg.Done()
			if err := registry.Register(g); err != nil {
				t.Errorf("Concurrent Register() error = %v", err)
			}
		}(g)
	}
	wg.Wait()

	for _, g := range groups {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if _, exists := registry.Get(id); !exists {
				t.Errorf("Get(%d) exists=false, want true", id)
			}
			registry.Lookup("_http._tcp.local.", protocol.RecordTypePTR, protocol.ClassIN, 0)
		}(g.ID)
	}
	wg.Wait()

	if registry.Len() != 100 {
		t.Errorf("Len() = %d, want 100", registry.Len())
	}
}

// TestRegistry_ListServiceTypes tests retrieving unique service types.
//
// RFC 6763 §9: service type enumeration lists each type once.
func TestRegistry_ListServiceTypes(t *testing.T) {
	registry := NewRegistry()
	for i, st := range []string{"_http._tcp", "_ssh._tcp", "_ftp._tcp", "_http._tcp"} {
		if err := registry.Register(serviceGroup(t, uint64(i+1), formatInstanceName("Svc", i), st, 80)); err != nil {
			t.Fatalf("Register(%s) error = %v", st, err)
		}
	}
	// A record registrar group has no service type.
	_ = registry.Register(&Group{ID: 10, Name: "host.local."})

	types := registry.ListServiceTypes()
	want := []string{"_ftp._tcp.local.", "_http._tcp.local.", "_ssh._tcp.local."}
	if len(types) != len(want) {
		t.Fatalf("ListServiceTypes() = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("ListServiceTypes()[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

// TestRegistry_ListServiceTypes_Empty tests empty registry behavior.
func TestRegistry_ListServiceTypes_Empty(t *testing.T) {
	registry := NewRegistry()

	types := registry.ListServiceTypes()
	if types == nil {
		t.Error("ListServiceTypes() = nil, want empty slice")
	}
	if len(types) != 0 {
		t.Errorf("ListServiceTypes() count = %d, want 0 (empty registry)", len(types))
	}
}

// formatInstanceName creates a test instance name.
func formatInstanceName(prefix string, id int) string {
	return prefix + "-" + string(rune('0'+id%10)) + string(rune('a'+id/10))
}

// TestRegistry_List tests listing all registered owner names.
func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()

	if names := registry.List(); len(names) != 0 {
		t.Errorf("List() on empty registry = %d names, want 0", len(names))
	}

	_ = registry.Register(serviceGroup(t, 1, "Service 1", "_http._tcp", 8080))
	_ = registry.Register(serviceGroup(t, 2, "Service 2", "_ssh._tcp", 22))
	_ = registry.Register(serviceGroup(t, 3, "Service 3", "_ftp._tcp", 21))

	names := registry.List()
	want := []string{"Service 1._http._tcp.local.", "Service 2._ssh._tcp.local.", "Service 3._ftp._tcp.local."}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	_, _ = registry.Remove(2)
	for _, name := range registry.List() {
		if name == "Service 2._ssh._tcp.local." {
			t.Error("List() contains removed service")
		}
	}
}

func TestRegistry_NameInUse(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(serviceGroup(t, 1, "Printer", "_ipp._tcp", 631))

	if !registry.NameInUse("printer._IPP._tcp.local.", 2) {
		t.Error("NameInUse() = false for a name owned by another group, want true")
	}
	if registry.NameInUse("Printer._ipp._tcp.local.", 1) {
		t.Error("NameInUse() = true for the group's own name, want false")
	}
	if got := registry.GroupsNamed("PRINTER._ipp._tcp.local."); len(got) != 1 || got[0].ID != 1 {
		t.Errorf("GroupsNamed() = %v, want group 1", got)
	}
}

// TestRegistry_Lookup tests answering lookups: type and class filters, ANY,
// per-interface address records and inactive groups.
func TestRegistry_Lookup(t *testing.T) {
	registry := NewRegistry()
	g := serviceGroup(t, 1, "Printer", "_ipp._tcp", 631)
	g.Records = append(g.Records, records.AddressRecords("host.local.", []records.InterfaceAddr{
		{IfIndex: 2, IP: net.ParseIP("10.0.0.5")},
	})...)
	_ = registry.Register(g)
	inactive := serviceGroup(t, 2, "Scanner", "_ipp._tcp", 632)
	inactive.Active = false
	_ = registry.Register(inactive)

	tests := []struct {
		name    string
		qname   string
		qtype   protocol.RecordType
		class   uint16
		ifIndex int
		want    int
	}{
		{"ptr", "_ipp._tcp.local.", protocol.RecordTypePTR, protocol.ClassIN, 0, 1},
		{"srv case-insensitive", "printer._IPP._tcp.local.", protocol.RecordTypeSRV, protocol.ClassIN, 0, 1},
		{"any", "Printer._ipp._tcp.local.", protocol.RecordTypeANY, protocol.ClassANY, 0, 2},
		{"address on interface 1", "host.local.", protocol.RecordTypeA, protocol.ClassIN, 1, 1},
		{"address on interface 2", "host.local.", protocol.RecordTypeA, protocol.ClassIN, 2, 1},
		{"address on any interface", "host.local.", protocol.RecordTypeA, protocol.ClassIN, 0, 2},
		{"wrong class", "_ipp._tcp.local.", protocol.RecordTypePTR, 3, 0, 0},
		{"inactive group", "Scanner._ipp._tcp.local.", protocol.RecordTypeSRV, protocol.ClassIN, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := registry.Lookup(tt.qname, tt.qtype, tt.class, tt.ifIndex)
			if len(got) != tt.want {
				t.Errorf("Lookup() = %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestGroup_ProbeRecords(t *testing.T) {
	g := serviceGroup(t, 1, "Printer", "_ipp._tcp", 631)
	probe := g.ProbeRecords()
	if len(probe) != 2 {
		t.Fatalf("ProbeRecords() = %d records, want SRV and TXT", len(probe))
	}
	for _, rr := range probe {
		if rr.CacheFlush {
			t.Errorf("probe record %v has cache-flush set", rr)
		}
	}
}
