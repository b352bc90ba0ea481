package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/dnssd/internal/message"
)

func TestResolve_ReportsOnceAndFinishes(t *testing.T) {
	n := newTestNet(t)
	e := n.engine("host-a.local.")

	resolved, onResolved := sink[ResolveEvent]()
	lc, failed, done := lifecycle()
	_, err := e.Resolve(ResolveRequest{
		Instance:    "Printer",
		ServiceType: "_ipp._tcp",
		OnResolved:  onResolved,
		Lifecycle:   lc,
	})
	require.NoError(t, err)
	n.settle()
	assert.Equal(t, 1, n.queries("Printer._ipp._tcp.local."), "SRV and TXT share a packet")

	n.inject(
		srvRR("Printer._ipp._tcp.local.", "printer.local.", 631, 120),
		txtRR("Printer._ipp._tcp.local.", 4500, "rp=printers/office", "pdl=application/pdf"),
	)
	ev := recv(t, resolved)
	assert.Equal(t, "Printer._ipp._tcp.local.", ev.FullName)
	assert.Equal(t, "printer.local.", ev.Host)
	assert.Equal(t, uint16(631), ev.Port)
	assert.Equal(t, 1, ev.IfIndex)
	assert.Equal(t, Flags(0), ev.Flags)

	txt, err := message.ParseTXTRData(ev.TXT)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rp": "printers/office", "pdl": "application/pdf"}, txt.Map())
	recv(t, done)

	n.inject(srvRR("Printer._ipp._tcp.local.", "printer.local.", 8631, 120))
	assertNone(t, resolved)
	assertNone(t, failed)
}

// TestResolve_WaitsForTXT verifies that an SRV answer alone completes the
// resolve after a short grace period with an empty TXT record.
func TestResolve_WaitsForTXT(t *testing.T) {
	n := newTestNet(t)
	e := n.engine("host-a.local.")

	resolved, onResolved := sink[ResolveEvent]()
	_, err := e.Resolve(ResolveRequest{Instance: "Printer", ServiceType: "_ipp._tcp", OnResolved: onResolved})
	require.NoError(t, err)
	n.settle()

	n.inject(srvRR("Printer._ipp._tcp.local.", "printer.local.", 631, 120))
	assertNone(t, resolved)

	n.advance(resolveTXTGrace, resolveTXTGrace)
	ev := recv(t, resolved)
	assert.Equal(t, uint16(631), ev.Port)
	assert.Equal(t, []byte{0}, ev.TXT)
}

func TestResolve_TXTDuringGrace(t *testing.T) {
	n := newTestNet(t)
	e := n.engine("host-a.local.")

	resolved, onResolved := sink[ResolveEvent]()
	_, err := e.Resolve(ResolveRequest{Instance: "Printer", ServiceType: "_ipp._tcp", OnResolved: onResolved})
	require.NoError(t, err)
	n.settle()

	n.inject(srvRR("Printer._ipp._tcp.local.", "printer.local.", 631, 120))
	n.inject(txtRR("Printer._ipp._tcp.local.", 4500, "note=lobby"))
	ev := recv(t, resolved)
	txt, err := message.ParseTXTRData(ev.TXT)
	require.NoError(t, err)
	v, ok := txt.Get("note")
	assert.True(t, ok)
	assert.Equal(t, "lobby", v)

	n.advance(resolveTXTGrace, resolveTXTGrace)
	assertNone(t, resolved)
}

func TestResolve_TimeoutIsSilent(t *testing.T) {
	n := newTestNet(t)
	e := n.engine("host-a.local.")

	resolved, onResolved := sink[ResolveEvent]()
	lc, failed, done := lifecycle()
	_, err := e.Resolve(ResolveRequest{
		Instance:    "Nobody",
		ServiceType: "_ipp._tcp",
		OnResolved:  onResolved,
		Lifecycle:   lc,
	})
	require.NoError(t, err)
	n.settle()

	n.advance(DefaultTimeout, 15*time.Second)
	recv(t, done)
	assertNone(t, resolved)
	assertNone(t, failed)
}

func TestResolve_InvalidArguments(t *testing.T) {
	n := newTestNet(t)
	e := n.engine("host-a.local.")

	_, err := e.Resolve(ResolveRequest{Instance: "", ServiceType: "_ipp._tcp"})
	assert.Error(t, err)
	_, err = e.Resolve(ResolveRequest{Instance: "Printer", ServiceType: "ipp"})
	assert.Error(t, err)
}
