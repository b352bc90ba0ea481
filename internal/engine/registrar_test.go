package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

func ptrRData(t *testing.T, target string) []byte {
	t.Helper()
	raw, err := message.RDataBytes(message.PTR{Target: target})
	require.NoError(t, err)
	return raw
}

// TestRegisterRecord_SharedAnnouncesAtOnce verifies that a shared record is
// not probed.
func TestRegisterRecord_SharedAnnouncesAtOnce(t *testing.T) {
	n := newTestNet(t)
	a := n.engine("host-a.local.")
	b := n.engine("host-b.local.")

	found, onFound := sink[ServiceEvent]()
	_, err := b.Browse(BrowseRequest{ServiceType: "_ipp._tcp", OnFound: onFound})
	require.NoError(t, err)
	n.settle()

	registered, onRegistered := sink[Flags]()
	_, err = a.RegisterRecord(RecordRequest{
		Flags:        FlagShared,
		Name:         "_ipp._tcp.local.",
		Type:         protocol.RecordTypePTR,
		RData:        ptrRData(t, "Lobby._ipp._tcp.local."),
		OnRegistered: onRegistered,
	})
	require.NoError(t, err)
	n.settle()

	assert.Equal(t, Flags(0), recv(t, registered))
	assert.Zero(t, n.probes("_ipp._tcp.local."))
	assert.Equal(t, "Lobby", recv(t, found).Instance)
}

func TestRegisterRecord_UniqueConflictFails(t *testing.T) {
	n := newTestNet(t)
	a := n.engine("host-a.local.")
	b := n.engine("host-b.local.")

	owner, onOwner := sink[Flags]()
	_, err := b.RegisterRecord(RecordRequest{
		Flags:        FlagUnique,
		Name:         "lights.local.",
		Type:         protocol.RecordTypeA,
		RData:        []byte{10, 0, 0, 1},
		OnRegistered: onOwner,
	})
	require.NoError(t, err)
	n.settle()
	await(n, owner, 2*time.Second)

	registered, onRegistered := sink[Flags]()
	lc, failed, done := lifecycle()
	_, err = a.RegisterRecord(RecordRequest{
		Flags:        FlagUnique,
		Name:         "lights.local.",
		Type:         protocol.RecordTypeA,
		RData:        []byte{10, 0, 0, 2},
		OnRegistered: onRegistered,
		Lifecycle:    lc,
	})
	require.NoError(t, err)
	n.settle()

	assert.ErrorIs(t, await(n, failed, 2*time.Second), errors.ErrNameConflict)
	recv(t, done)
	assertNone(t, registered)
}

func TestRegisterRecord_LocalUniqueDuplicateFails(t *testing.T) {
	n := newTestNet(t)
	a := n.engine("host-a.local.")

	_, err := a.RegisterRecord(RecordRequest{Flags: FlagUnique, Name: "lights.local.", Type: protocol.RecordTypeA, RData: []byte{10, 0, 0, 1}})
	require.NoError(t, err)

	lc, failed, _ := lifecycle()
	_, err = a.RegisterRecord(RecordRequest{
		Flags:     FlagUnique,
		Name:      "lights.local.",
		Type:      protocol.RecordTypeA,
		RData:     []byte{10, 0, 0, 2},
		Lifecycle: lc,
	})
	require.NoError(t, err)
	n.settle()
	assert.ErrorIs(t, recv(t, failed), errors.ErrNameConflict)
}

func TestRegisterRecord_Update(t *testing.T) {
	n := newTestNet(t)
	a := n.engine("host-a.local.")
	b := n.engine("host-b.local.")

	registered, onRegistered := sink[Flags]()
	r, err := a.RegisterRecord(RecordRequest{
		Flags:        FlagUnique,
		Name:         "lights.local.",
		Type:         protocol.RecordTypeA,
		RData:        []byte{10, 0, 0, 1},
		OnRegistered: onRegistered,
	})
	require.NoError(t, err)
	n.settle()
	await(n, registered, 2*time.Second)

	answers, onAnswer := sink[RecordEvent]()
	_, err = b.QueryRecord(QueryRequest{Name: "lights.local.", Type: protocol.RecordTypeA, OnAnswer: onAnswer})
	require.NoError(t, err)
	n.settle()
	assert.Equal(t, []byte{10, 0, 0, 1}, await(n, answers, 2*time.Second).RData)

	require.NoError(t, r.Update([]byte{10, 0, 0, 9}, 0))
	n.settle()
	for {
		ev := await(n, answers, 3*time.Second)
		if ev.TTL > 0 && bytes.Equal(ev.RData, []byte{10, 0, 0, 9}) {
			break
		}
	}
	assert.Error(t, r.Update([]byte{1}, 0))
}

func TestRegisterRecord_InvalidArguments(t *testing.T) {
	n := newTestNet(t)
	a := n.engine("host-a.local.")

	var verr *errors.ValidationError
	_, err := a.RegisterRecord(RecordRequest{Name: "x.local.", Type: protocol.RecordTypeA, RData: []byte{1, 2, 3, 4}})
	assert.ErrorAs(t, err, &verr)
	_, err = a.RegisterRecord(RecordRequest{Flags: FlagShared | FlagUnique, Name: "x.local.", Type: protocol.RecordTypeA, RData: []byte{1, 2, 3, 4}})
	assert.ErrorAs(t, err, &verr)
	_, err = a.RegisterRecord(RecordRequest{Flags: FlagShared, Type: protocol.RecordTypeA, RData: []byte{1, 2, 3, 4}})
	assert.ErrorAs(t, err, &verr)
	_, err = a.RegisterRecord(RecordRequest{Flags: FlagShared, Name: "x.local.", Type: protocol.RecordTypeA, RData: []byte{1}})
	assert.ErrorAs(t, err, &verr)
}
