package dnssd

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/logging"
	"github.com/joshuafuller/dnssd/internal/transport"
)

// link is a simulated network of DNSSD values sharing one mock clock.
type link struct {
	t   *testing.T
	hub *transport.Hub
	clk *clock.Mock
	ds  []*DNSSD

	mu         sync.Mutex
	transports []*transport.MockTransport
}

func newLink(t *testing.T) *link {
	return &link{t: t, hub: transport.NewHub(), clk: clock.NewMock()}
}

func (l *link) factory() transport.Factory {
	inner := l.hub.Factory()
	return func(scope int) (transport.Transport, error) {
		tr, err := inner(scope)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.transports = append(l.transports, tr.(*transport.MockTransport))
		l.mu.Unlock()
		return tr, nil
	}
}

func (l *link) open(hostname string, opts ...Option) *DNSSD {
	l.t.Helper()
	base := []Option{
		WithLogger(logging.Discard()),
		WithClock(l.clk),
		WithTransportFactory(l.factory()),
		WithHostname(hostname),
	}
	d, err := New(append(base, opts...)...)
	require.NoError(l.t, err)
	l.t.Cleanup(func() { _ = d.Close() })
	l.ds = append(l.ds, d)
	return d
}

// settle waits until every running engine ran its queued work.
func (l *link) settle() {
	l.t.Helper()
	for range 3 {
		time.Sleep(2 * time.Millisecond)
		for _, d := range l.ds {
			e := d.current()
			if e == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := e.Sync(ctx)
			cancel()
			if err != nil && !goerrors.Is(err, errors.ErrClosed) {
				require.NoError(l.t, err)
			}
		}
	}
}

func (l *link) advance(d time.Duration) {
	l.t.Helper()
	const step = 50 * time.Millisecond
	for d > 0 {
		s := min(step, d)
		l.clk.Add(s)
		l.settle()
		d -= s
	}
}

func await[T any](l *link, ch <-chan T, limit time.Duration) T {
	l.t.Helper()
	const step = 50 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= limit; elapsed += step {
		select {
		case v := <-ch:
			return v
		default:
		}
		l.advance(step)
	}
	l.t.Fatalf("no event within %v", limit)
	var zero T
	return zero
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func sink[T any]() (chan T, func(T)) {
	ch := make(chan T, 64)
	return ch, func(v T) { ch <- v }
}

func txtRecord(t *testing.T, attrs map[string]string) []byte {
	t.Helper()
	raw, err := NewTXTRecord(attrs)
	require.NoError(t, err)
	return raw
}

func registerPrinter(t *testing.T, l *link, d *DNSSD) *Registration {
	t.Helper()
	registered, onRegistered := sink[RegisteredService]()
	reg, err := d.Register(Service{
		Name: "Printer",
		Type: "_ipp._tcp",
		Port: 631,
		TXT:  txtRecord(t, map[string]string{"rp": "print"}),
	}, RegisterFuncs{Registered: onRegistered})
	require.NoError(t, err)
	l.settle()
	assert.Equal(t, "Printer", await(l, registered, 5*time.Second).Name)
	return reg
}

func TestNew_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero timeout", []Option{WithTimeout(0)}},
		{"negative linger", []Option{WithLinger(-time.Second)}},
		{"zero cache", []Option{WithCacheSize(0)}},
		{"nil logger", []Option{WithLogger(nil)}},
		{"both families disabled", []Option{WithIPv4Only(), WithIPv6Only()}},
		{"bad hostname", []Option{WithHostname("bad_host!")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadParam)
		})
	}
}

func TestNew_NormalizesHostname(t *testing.T) {
	d, err := New(WithHostname("kiosk"), WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, "kiosk.local.", d.Hostname())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, NoError, CodeOf(nil))
	assert.Equal(t, ErrUnknown, CodeOf(fmt.Errorf("boom")))
	assert.Equal(t, ErrTimeout, CodeOf(ErrTimeout))

	err := wrap("query", fmt.Errorf("query: %w", errors.ErrTimeout))
	assert.Equal(t, ErrTimeout, CodeOf(err))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.Contains(t, err.Error(), "query")

	assert.Equal(t, ErrNameConflict, CodeOf(wrap("register", errors.ErrNameConflict)))
	assert.Equal(t, ErrInvalid, CodeOf(wrap("browse", errors.ErrClosed)))
	assert.Equal(t, ErrBadParam, CodeOf(wrap("browse", &errors.ValidationError{Field: "x"})))
	assert.Equal(t, ErrUnknown, CodeOf(wrap("browse", &errors.NetworkError{Operation: "send", Err: net.ErrClosed})))
	assert.Same(t, err, wrap("other", err))
	assert.Equal(t, int32(-65543), int32(ErrBadParam))
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "0", Flags(0).String())
	assert.Equal(t, "MORE_COMING|DEFAULT", (FlagMoreComing | FlagDefault).String())
	assert.Equal(t, "LOST", FlagLost.String())
	assert.True(t, (FlagShared | FlagUnique).Has(FlagUnique))
}

func TestOperations_RequireListener(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.")

	_, err := d.Browse(0, AllInterfaces, "_ipp._tcp", "", nil)
	assert.ErrorIs(t, err, ErrBadParam)
	_, err = d.Resolve(0, AllInterfaces, "Printer", "_ipp._tcp", "", nil)
	assert.ErrorIs(t, err, ErrBadParam)
	_, err = d.QueryRecord(0, AllInterfaces, "x.local.", TypeA, ClassIN, false, nil)
	assert.ErrorIs(t, err, ErrBadParam)
	_, err = d.Register(Service{Type: "_ipp._tcp", Port: 1}, nil)
	assert.ErrorIs(t, err, ErrBadParam)
	_, err = d.EnumerateDomains(FlagBrowseDomains, AllInterfaces, nil)
	assert.ErrorIs(t, err, ErrBadParam)
	_, err = d.RegisterRecord(FlagShared, AllInterfaces, "x.local.", TypeA, ClassIN, []byte{1, 2, 3, 4}, 0, nil)
	assert.ErrorIs(t, err, ErrBadParam)
	assert.Nil(t, d.current(), "no engine is started for rejected calls")
}

func TestBrowse_InvalidServiceTypeReleasesSession(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.", WithLinger(time.Second))

	_, err := d.Browse(0, AllInterfaces, "_http", "", BrowseFuncs{})
	assert.ErrorIs(t, err, ErrBadParam)
	assert.Equal(t, ErrBadParam, CodeOf(err))

	l.advance(time.Second + 50*time.Millisecond)
	assert.Eventually(t, func() bool { return d.current() == nil }, time.Second, 5*time.Millisecond)
}

func TestSession_LingerClosesIdleEngine(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.")

	op, err := d.Browse(0, AllInterfaces, "_ipp._tcp", "", BrowseFuncs{})
	require.NoError(t, err)
	l.settle()
	require.NotNil(t, d.current())

	op.Stop()
	l.settle()
	l.advance(DefaultLinger - 100*time.Millisecond)
	require.NotNil(t, d.current(), "engine lingers after the last operation")

	l.advance(200 * time.Millisecond)
	assert.Nil(t, d.current())
	l.mu.Lock()
	transports := l.transports
	l.mu.Unlock()
	require.Len(t, transports, 1)
	assert.Eventually(t, transports[0].Closed, time.Second, 5*time.Millisecond)
}

func TestSession_NewOperationCancelsLinger(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.")

	op, err := d.Browse(0, AllInterfaces, "_ipp._tcp", "", BrowseFuncs{})
	require.NoError(t, err)
	l.settle()
	first := d.current()

	op.Stop()
	l.settle()
	l.advance(3 * time.Second)

	_, err = d.Browse(0, AllInterfaces, "_http._tcp", "", BrowseFuncs{})
	require.NoError(t, err)
	l.settle()
	l.advance(DefaultLinger)
	assert.Same(t, first, d.current())
}

func TestClose_RejectsOperations(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.")

	done := make(chan struct{})
	_, err := d.Browse(0, AllInterfaces, "_ipp._tcp", "", BrowseFuncs{})
	require.NoError(t, err)
	l.settle()

	go func() {
		defer close(done)
		assert.NoError(t, d.Close())
	}()
	recv(t, done)

	_, err = d.Browse(0, AllInterfaces, "_ipp._tcp", "", BrowseFuncs{})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.NoError(t, d.Close())
}

func TestBrowseResolveQuery_EndToEnd(t *testing.T) {
	l := newLink(t)
	a := l.open("host-a.local.")
	b := l.open("host-b.local.")
	registerPrinter(t, l, a)

	found, onFound := sink[ServiceEvent]()
	browse, err := b.Browse(0, AllInterfaces, "_ipp._tcp", "", BrowseFuncs{Found: onFound})
	require.NoError(t, err)
	defer browse.Stop()
	l.settle()

	ev := await(l, found, 2*time.Second)
	assert.Equal(t, "Printer", ev.Name)
	assert.Equal(t, "_ipp._tcp", ev.Type)
	assert.Equal(t, "local.", ev.Domain)
	assert.Equal(t, 1, ev.IfIndex)

	resolved, onResolved := sink[ResolvedService]()
	_, err = b.Resolve(0, ev.IfIndex, ev.Name, ev.Type, ev.Domain, ResolveFuncs{Resolved: onResolved})
	require.NoError(t, err)
	l.settle()

	r := await(l, resolved, 2*time.Second)
	assert.Equal(t, "host-a.local.", r.Host)
	assert.Equal(t, uint16(631), r.Port)
	assert.Equal(t, "Printer._ipp._tcp.local.", r.FullName)
	assert.Equal(t, map[string]string{"rp": "print"}, r.TXTMap())

	answers, onAnswer := sink[RecordEvent]()
	_, err = b.QueryRecord(0, AllInterfaces, r.Host, TypeA, ClassIN, true, QueryFuncs{Answered: onAnswer})
	require.NoError(t, err)
	l.settle()
	ans := await(l, answers, 2*time.Second)
	assert.Equal(t, TypeA, ans.Type)
	assert.Len(t, ans.RData, net.IPv4len)
}

func TestQueryRecord_AutoStopTimeout(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.", WithTimeout(2*time.Second))

	failed, onFailed := sink[error]()
	_, err := d.QueryRecord(0, AllInterfaces, "nobody.local.", TypeA, ClassIN, true, QueryFuncs{Failed: onFailed})
	require.NoError(t, err)
	l.settle()

	err = await(l, failed, 3*time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, ErrTimeout, CodeOf(err))
}

func TestRegister_NoAutoRenameReportsConflict(t *testing.T) {
	l := newLink(t)
	a := l.open("host-a.local.")
	b := l.open("host-b.local.")
	registerPrinter(t, l, a)

	failed, onFailed := sink[error]()
	_, err := b.Register(Service{
		Flags: FlagNoAutoRename,
		Name:  "Printer",
		Type:  "_ipp._tcp",
		Port:  9100,
	}, RegisterFuncs{Failed: onFailed})
	require.NoError(t, err)
	l.settle()

	err = await(l, failed, 3*time.Second)
	assert.Equal(t, ErrNameConflict, CodeOf(err))
}

func TestRegistration_Records(t *testing.T) {
	l := newLink(t)
	a := l.open("host-a.local.")
	reg := registerPrinter(t, l, a)

	txt := reg.TXTRecord()
	assert.Equal(t, TypeTXT, txt.Type)
	require.NoError(t, txt.Update(txtRecord(t, map[string]string{"rp": "color"}), 0))
	assert.ErrorIs(t, txt.Remove(), ErrBadParam)

	extra, err := reg.AddRecord(RecordType(13), []byte{3, 'x', '8', '6', 5, 'l', 'i', 'n', 'u', 'x'}, 0)
	require.NoError(t, err)
	l.settle()
	require.NoError(t, extra.Remove())
	assert.ErrorIs(t, extra.Remove(), ErrBadParam)

	_, err = reg.AddRecord(TypeA, []byte{1}, 0)
	assert.ErrorIs(t, err, ErrBadParam)

	reg.Stop()
	assert.True(t, reg.Stopped())
	assert.ErrorIs(t, txt.Update(txtRecord(t, nil), 0), ErrInvalid)
}

func TestRegisterRecord_AndReconfirm(t *testing.T) {
	l := newLink(t)
	a := l.open("host-a.local.")
	b := l.open("host-b.local.")

	registered, onRegistered := sink[Flags]()
	rec, err := a.RegisterRecord(FlagUnique, AllInterfaces, "lights.local.", TypeA, ClassIN, []byte{10, 0, 0, 1}, 0, RecordFuncs{Registered: onRegistered})
	require.NoError(t, err)
	l.settle()
	await(l, registered, 3*time.Second)

	answers, onAnswer := sink[RecordEvent]()
	_, err = b.QueryRecord(0, AllInterfaces, "lights.local.", TypeA, ClassIN, false, QueryFuncs{Answered: onAnswer})
	require.NoError(t, err)
	l.settle()
	assert.Equal(t, []byte{10, 0, 0, 1}, await(l, answers, 2*time.Second).RData)

	assert.ErrorIs(t, b.ReconfirmRecord(0, AllInterfaces, "", TypeA, ClassIN, nil), ErrBadParam)
	assert.ErrorIs(t, b.ReconfirmRecord(0, AllInterfaces, "lights.local.", TypeA, ClassIN, []byte{1}), ErrBadParam)
	require.NoError(t, b.ReconfirmRecord(0, AllInterfaces, "lights.local.", TypeA, ClassIN, []byte{10, 0, 0, 1}))

	require.NoError(t, rec.Update([]byte{10, 0, 0, 2}, 0))
	l.settle()
	for {
		ev := await(l, answers, 3*time.Second)
		if ev.TTL > 0 && net.IP(ev.RData).Equal(net.IPv4(10, 0, 0, 2)) {
			break
		}
	}
}

func TestReconfirmRecord_WithoutEngineIsNoop(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.")
	assert.NoError(t, d.ReconfirmRecord(0, AllInterfaces, "x.local.", TypeA, ClassIN, []byte{1, 2, 3, 4}))
	assert.Nil(t, d.current())
}

func TestEnumerateDomains_ReportsDefault(t *testing.T) {
	l := newLink(t)
	d := l.open("host-a.local.")

	found, onFound := sink[DomainEvent]()
	_, err := d.EnumerateDomains(FlagRegistrationDomains, AllInterfaces, DomainFuncs{Found: onFound})
	require.NoError(t, err)
	l.settle()

	ev := recv(t, found)
	assert.Equal(t, "local.", ev.Domain)
	assert.True(t, ev.Flags.Has(FlagDefault))

	_, err = d.EnumerateDomains(0, AllInterfaces, DomainFuncs{})
	assert.ErrorIs(t, err, ErrBadParam)
}

func TestDispatcher_RunsCallbacks(t *testing.T) {
	l := newLink(t)
	var (
		mu   sync.Mutex
		runs int
	)
	d := l.open("host-a.local.", WithDispatcher(func(fn func()) {
		mu.Lock()
		runs++
		mu.Unlock()
		fn()
	}))

	found, onFound := sink[DomainEvent]()
	_, err := d.EnumerateDomains(FlagBrowseDomains, AllInterfaces, DomainFuncs{Found: onFound})
	require.NoError(t, err)
	l.settle()
	recv(t, found)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs)
}
