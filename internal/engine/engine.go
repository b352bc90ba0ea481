// Package engine is the DNS-SD operation engine: a single protocol worker
// that owns the sockets, the record cache, the local record registry, every
// timer and every running operation.
//
// Callers never touch that state directly. Public methods validate their
// arguments, enqueue a task for the worker and return a Handle at once. The
// worker decodes incoming datagrams, feeds their records through the cache
// and hands the resulting events to every operation whose interest matches,
// in the order the records appeared. Listener callbacks are collected per
// turn of the worker so the last callback of a batch for an operation is the
// only one without FlagMoreComing.
package engine

import (
	"context"
	goerrors "errors"
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/metrics"
	"github.com/joshuafuller/dnssd/internal/records"
	"github.com/joshuafuller/dnssd/internal/responder"
)

// packetQueueSize bounds datagrams waiting for the worker.
const packetQueueSize = 256

// Lifecycle holds the callbacks every operation accepts.
type Lifecycle struct {
	// OnFailed reports an unrecoverable error. The operation is stopped.
	OnFailed func(err error)

	// OnDone is called once when the operation ends for any reason. It runs
	// on the protocol worker and must not block.
	OnDone func()
}

// Handle controls a running operation.
type Handle struct {
	e        *Engine
	id       uint64
	stopped  atomic.Bool
	doneOnce sync.Once
	onDone   func()
}

// ID returns the operation identifier.
func (h *Handle) ID() uint64 { return h.id }

// Stop cancels the operation. No callback starts after Stop returns. It is
// idempotent and safe to call from any goroutine, including from inside a
// callback.
func (h *Handle) Stop() {
	if !h.stopped.CompareAndSwap(false, true) {
		return
	}
	if !h.e.submit(func() { h.e.stopOp(h.id) }) {
		h.finished()
	}
}

// Stopped reports whether Stop was called.
func (h *Handle) Stopped() bool { return h.stopped.Load() }

func (h *Handle) finished() {
	h.doneOnce.Do(func() {
		if h.onDone != nil {
			h.onDone()
		}
	})
}

type inbound struct {
	data    []byte
	from    net.Addr
	ifIndex int
	link    *link
}

type delivery struct {
	handle *Handle
	fn     func(Flags)
}

// Engine runs DNS-SD operations over multicast DNS.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics

	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}

	packets   chan inbound
	ctx       context.Context
	cancel    context.CancelFunc
	ioCtx     context.Context
	ioCancel  context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
	nextID    atomic.Uint64

	// Everything below is owned by the worker goroutine.
	sched        *scheduler
	cache        *cache.Cache
	registry     *responder.Registry
	answerer     *responder.Answerer
	limiter      *records.MulticastLimiter
	links        map[int]*link
	ops          map[uint64]operation
	questions    map[questionKey]*question
	outbox       []outgoing
	deferred     map[int]*deferredAnswers
	deliveries   []delivery
	settlers     map[uint64]func()
	pollTimer    *timer
	shuttingDown bool
}

// New validates cfg and starts the protocol worker. Sockets are opened when
// the first operation needs them.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	ioCtx, ioCancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		log:       cfg.Logger.With("component", "engine"),
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		wake:      make(chan struct{}, 1),
		packets:   make(chan inbound, packetQueueSize),
		ctx:       gctx,
		cancel:    cancel,
		ioCtx:     ioCtx,
		ioCancel:  ioCancel,
		group:     g,
		sched:     newScheduler(),
		registry:  responder.NewRegistry(),
		limiter:   records.NewMulticastLimiter(cfg.Clock),
		links:     make(map[int]*link),
		ops:       make(map[uint64]operation),
		questions: make(map[questionKey]*question),
		deferred:  make(map[int]*deferredAnswers),
		settlers:  make(map[uint64]func()),
	}
	e.answerer = responder.NewAnswerer(e.registry, e.limiter)
	e.cache = cache.New(cache.Config{
		MaxEntries: cfg.CacheSize,
		Jitter:     cfg.Jitter,
		OnEvict: func(rr message.ResourceRecord) {
			e.metrics.CacheEvicted()
			e.log.Debug("cache full, evicted record", "record", rr.String())
		},
	})

	g.Go(func() error {
		e.run(gctx)
		return nil
	})
	return e, nil
}

// Hostname returns the host name used for registrations.
func (e *Engine) Hostname() string { return e.cfg.Hostname }

// Close stops every operation, sends goodbyes for announced records, closes
// the sockets and waits for the worker. It must not be called from a
// callback running on the worker.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.tasks = nil
		e.mu.Unlock()

		e.cancel()
		e.closeErr = e.group.Wait()
		e.ioCancel()
	})
	return e.closeErr
}

// submit queues fn for the worker. It reports false once the engine is closed.
func (e *Engine) submit(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync waits until the worker has run every task queued before the call and
// every timer due at the current clock time.
func (e *Engine) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !e.submit(func() {
		e.onTimers()
		e.endTurn()
		close(done)
	}) {
		return errors.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(ctx context.Context) {
	e.log.Debug("protocol worker started", "hostname", e.cfg.Hostname)
	defer e.shutdown()

	for {
		var (
			t      *clock.Timer
			timerC <-chan time.Time
		)
		if next := e.nextDeadline(); !next.IsZero() {
			wait := next.Sub(e.clock.Now())
			if wait <= 0 {
				select {
				case <-ctx.Done():
					return
				default:
				}
				e.onTimers()
				e.endTurn()
				continue
			}
			t = e.clock.Timer(wait)
			timerC = t.C
		}

		select {
		case <-ctx.Done():
			stopTimer(t)
			return
		case <-e.wake:
			e.runTasks()
		case p := <-e.packets:
			e.handlePacket(p)
		case <-timerC:
			e.onTimers()
		}
		stopTimer(t)
		e.endTurn()
	}
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (e *Engine) nextDeadline() time.Time {
	next := e.sched.Next()
	if c := e.cache.NextDeadline(); !c.IsZero() && (next.IsZero() || c.Before(next)) {
		next = c
	}
	return next
}

func (e *Engine) runTasks() {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()
	for _, fn := range tasks {
		fn()
	}
}

// onTimers fires due timers and advances the cache.
func (e *Engine) onTimers() {
	now := e.clock.Now()
	e.sched.RunDue(now)

	events, refreshes := e.cache.Tick(now)
	for _, ev := range events {
		e.dispatch(ev)
	}
	for _, r := range refreshes {
		e.refresh(r)
	}
}

// endTurn completes one iteration of the worker: operations settle, queued
// questions leave and callbacks are delivered.
func (e *Engine) endTurn() {
	e.settle()
	e.flushQueries()
	e.flushDeliveries()
	e.metrics.CacheSize(e.cache.Len())
}

func (e *Engine) shutdown() {
	e.shuttingDown = true
	for _, id := range slices.Sorted(maps.Keys(e.ops)) {
		if op, ok := e.ops[id]; ok {
			e.finish(op)
		}
	}
	e.deliveries = nil

	var err error
	for _, scope := range slices.Sorted(maps.Keys(e.links)) {
		err = multierr.Append(err, e.links[scope].close())
	}
	if err != nil {
		e.log.Warn("closing sockets failed", "error", err)
	}
	e.log.Debug("protocol worker stopped")
}

// emit queues a listener callback for the end of the current turn.
func (e *Engine) emit(op *opBase, fn func(Flags)) {
	if e.shuttingDown {
		return
	}
	e.deliveries = append(e.deliveries, delivery{handle: op.handle, fn: fn})
}

func (e *Engine) flushDeliveries() {
	if len(e.deliveries) == 0 {
		return
	}
	pending := e.deliveries
	e.deliveries = nil

	remaining := make(map[*Handle]int, len(pending))
	for _, d := range pending {
		remaining[d.handle]++
	}
	for _, d := range pending {
		remaining[d.handle]--
		var flags Flags
		if remaining[d.handle] > 0 {
			flags = FlagMoreComing
		}
		e.invoke(d.handle, d.fn, flags)
	}
}

func (e *Engine) invoke(h *Handle, fn func(Flags), flags Flags) {
	run := func() {
		if h.Stopped() {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("listener panicked", "operation", h.id, "panic", r)
			}
		}()
		fn(flags)
	}
	if e.cfg.Dispatcher != nil {
		e.cfg.Dispatcher(run)
		return
	}
	run()
}

// settleLater runs fn once at the end of the turn, after every record of the
// current datagram was dispatched.
func (e *Engine) settleLater(op *opBase, fn func()) {
	e.settlers[op.id] = fn
}

func (e *Engine) settle() {
	for len(e.settlers) > 0 {
		ids := slices.Sorted(maps.Keys(e.settlers))
		for _, id := range ids {
			fn := e.settlers[id]
			delete(e.settlers, id)
			fn()
		}
	}
}

func (e *Engine) diagnose(err error) {
	if err == nil || e.cfg.Diagnostic == nil {
		return
	}
	e.cfg.Diagnostic(err)
}

// sendPackets transmits datagrams on a link. Failures are counted and logged;
// retransmission is left to the caller's timers.
func (e *Engine) sendPackets(l *link, ifIndex int, dest net.Addr, packets [][]byte, kind string) {
	for _, pkt := range packets {
		if err := l.tr.Send(e.ioCtx, pkt, ifIndex, dest); err != nil {
			e.metrics.SendError()
			e.log.Warn("send failed", "kind", kind, "interface", ifIndex, "error", err)
			e.diagnose(err)
			continue
		}
		e.metrics.PacketSent(kind)
	}
}

func isClosed(err error) bool {
	return goerrors.Is(err, errors.ErrClosed) || goerrors.Is(err, context.Canceled)
}
