package engine

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// operation is a running Browse, Resolve, QueryRecord, Register,
// EnumerateDomains or RecordRegistrar state machine. Every method runs on the
// protocol worker.
type operation interface {
	base() *opBase
	start(e *Engine) error
	onEvent(e *Engine, ev cache.Event)
	stop(e *Engine)
}

// interest selects the cache events an operation receives.
type interest struct {
	name   string
	rrtype protocol.RecordType
	class  uint16
}

func (i interest) matches(rr message.ResourceRecord) bool {
	if i.rrtype != protocol.RecordTypeANY && rr.Type != i.rrtype {
		return false
	}
	if i.class != protocol.ClassANY && rr.Class&protocol.ClassMask != i.class {
		return false
	}
	return message.EqualNames(rr.Name, i.name)
}

// opBase is the bookkeeping shared by every operation.
type opBase struct {
	id      uint64
	kind    string
	ifIndex int
	handle  *Handle
	link    *link
	failed  func(error)

	interests []interest
	questions []*question
	pins      []cache.Key
	timers    []*timer
	finished  bool
}

func (b *opBase) base() *opBase { return b }

func newBase(kind string, ifIndex int, lc Lifecycle) opBase {
	return opBase{kind: kind, ifIndex: ifIndex, failed: lc.OnFailed}
}

// startOp registers op and queues its launch on the worker.
func (e *Engine) startOp(op operation, onDone func()) (*Handle, error) {
	b := op.base()
	b.id = e.nextID.Add(1)
	h := &Handle{e: e, id: b.id, onDone: onDone}
	b.handle = h
	if !e.submit(func() { e.launch(op) }) {
		return nil, fmt.Errorf("start %s: %w", b.kind, errors.ErrClosed)
	}
	return h, nil
}

func (e *Engine) launch(op operation) {
	b := op.base()
	if b.handle.Stopped() || e.shuttingDown {
		b.handle.finished()
		return
	}
	e.ops[b.id] = op
	e.metrics.OperationStarted(b.kind)
	e.log.Debug("operation started", "operation", b.id, "kind", b.kind, "interface", b.ifIndex)

	l, err := e.ensureLink(b.ifIndex)
	if err != nil {
		e.fail(op, err)
		return
	}
	b.link = l
	if err := op.start(e); err != nil {
		e.fail(op, err)
	}
}

func (e *Engine) stopOp(id uint64) {
	if op, ok := e.ops[id]; ok {
		e.finish(op)
	}
}

// fail reports err to the operation's listener and ends it.
func (e *Engine) fail(op operation, err error) {
	b := op.base()
	if b.finished {
		return
	}
	e.log.Debug("operation failed", "operation", b.id, "kind", b.kind, "error", err)
	if b.failed != nil {
		failed := b.failed
		e.emit(b, func(Flags) { failed(err) })
	}
	e.finish(op)
}

// finish ends an operation and releases everything it holds. Callbacks
// already queued for the current turn are still delivered unless the handle
// was stopped.
func (e *Engine) finish(op operation) {
	b := op.base()
	if b.finished {
		return
	}
	b.finished = true
	op.stop(e)

	for _, q := range b.questions {
		e.release(q)
	}
	b.questions = nil
	for _, k := range b.pins {
		e.cache.Unpin(k)
	}
	b.pins = nil
	for _, t := range b.timers {
		e.sched.Cancel(t)
	}
	b.timers = nil

	delete(e.settlers, b.id)
	if _, ok := e.ops[b.id]; ok {
		delete(e.ops, b.id)
		e.metrics.OperationStopped(b.kind)
	}
	e.log.Debug("operation finished", "operation", b.id, "kind", b.kind)
	b.handle.finished()
}

// watch asks a continuous question for an operation and replays matching
// cached records to it as Added events.
func (e *Engine) watch(op operation, name string, t protocol.RecordType, class uint16) {
	b := op.base()
	b.interests = append(b.interests, interest{name: name, rrtype: t, class: class})
	key := cache.NewKey(name, t, class)
	e.cache.Pin(key)
	b.pins = append(b.pins, key)
	b.questions = append(b.questions, e.ask(b.link, b.ifIndex, message.Question{Name: name, Type: t, Class: class}))

	for _, a := range e.cache.Lookup(name, t, class, 0, e.clock.Now()) {
		if b.finished {
			return
		}
		if e.scopeMatches(b.ifIndex, a.IfIndex) {
			op.onEvent(e, cache.Event{Kind: cache.Added, Record: a.Record, IfIndex: a.IfIndex})
		}
	}
}

// after schedules fn for an operation. The timer is cancelled when the
// operation finishes.
func (e *Engine) after(op operation, d time.Duration, fn func()) *timer {
	b := op.base()
	live := b.timers[:0]
	for _, t := range b.timers {
		if t.Active() {
			live = append(live, t)
		}
	}
	t := e.sched.At(e.clock.Now().Add(d), func() {
		if !b.finished {
			fn()
		}
	})
	b.timers = append(live, t)
	return t
}

func (e *Engine) sortedOps() []operation {
	out := make([]operation, 0, len(e.ops))
	for _, id := range slices.Sorted(maps.Keys(e.ops)) {
		out = append(out, e.ops[id])
	}
	return out
}

// dispatch hands a cache event to every operation interested in it.
func (e *Engine) dispatch(ev cache.Event) {
	for _, op := range e.sortedOps() {
		b := op.base()
		if b.finished || !e.scopeMatches(b.ifIndex, ev.IfIndex) {
			continue
		}
		if slices.ContainsFunc(b.interests, func(i interest) bool { return i.matches(ev.Record) }) {
			op.onEvent(e, ev)
		}
	}
}
