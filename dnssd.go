package dnssd

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/joshuafuller/dnssd/internal/engine"
	"github.com/joshuafuller/dnssd/internal/errors"
)

// DNSSD starts DNS-SD operations. It is safe for concurrent use.
//
// The protocol engine behind a DNSSD value is created by the first operation
// and closed once no operation has been running for the linger period (see
// WithLinger). Close ends every running operation at once.
type DNSSD struct {
	cfg    engine.Config
	linger time.Duration
	clock  clock.Clock
	log    *slog.Logger

	mu      sync.Mutex
	eng     *engine.Engine
	refs    int
	gen     uint64
	timer   *clock.Timer
	closed  bool
	closing sync.WaitGroup
}

// New validates the options and returns a DNSSD value. No socket is opened
// until the first operation starts.
func New(opts ...Option) (*DNSSD, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, &Error{Op: "new", Code: ErrBadParam, Err: err}
		}
	}
	cfg, err := o.build()
	if err != nil {
		return nil, &Error{Op: "new", Code: ErrBadParam, Err: err}
	}
	return &DNSSD{
		cfg:    cfg,
		linger: o.linger,
		clock:  cfg.Clock,
		log:    cfg.Logger.With("component", "dnssd"),
	}, nil
}

// Hostname returns the host name published by registrations.
func (d *DNSSD) Hostname() string { return d.cfg.Hostname }

// Close stops every running operation, sends goodbyes for advertised
// records and closes the sockets. Operations started afterwards fail with
// ErrInvalid. Close must not be called from a listener callback.
func (d *DNSSD) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.closing.Wait()
		return nil
	}
	d.closed = true
	e := d.eng
	d.eng = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	var err error
	if e != nil {
		err = e.Close()
	}
	d.closing.Wait()
	return err
}

// acquire returns the running engine, starting one if needed, and a release
// function that must be called exactly once when the operation ends.
func (d *DNSSD) acquire() (*engine.Engine, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, nil, errors.ErrClosed
	}
	if d.eng == nil {
		e, err := engine.New(d.cfg)
		if err != nil {
			return nil, nil, err
		}
		d.eng = e
		d.log.Debug("engine started")
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.refs++
	d.gen++

	var once sync.Once
	return d.eng, func() { once.Do(d.release) }, nil
}

func (d *DNSSD) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	if d.refs > 0 || d.eng == nil || d.closed {
		return
	}
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.linger, func() { d.closeIdle(gen) })
}

// closeIdle closes the engine when nothing acquired it since the linger
// timer was armed. The engine is closed on its own goroutine because the
// timer may fire on the protocol worker.
func (d *DNSSD) closeIdle(gen uint64) {
	d.mu.Lock()
	if d.gen != gen || d.refs > 0 || d.eng == nil {
		d.mu.Unlock()
		return
	}
	e := d.eng
	d.eng = nil
	d.timer = nil
	d.closing.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.closing.Done()
		if err := e.Close(); err != nil {
			d.log.Warn("closing idle engine", "error", err)
			return
		}
		d.log.Debug("idle engine closed")
	}()
}

// current returns the running engine without starting one.
func (d *DNSSD) current() *engine.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eng
}

func (d *DNSSD) lifecycle(op string, failed func(error), release func()) engine.Lifecycle {
	return engine.Lifecycle{
		OnFailed: func(err error) { failed(wrap(op, err)) },
		OnDone:   release,
	}
}

// Operation is the handle of a running operation.
type Operation struct {
	h *engine.Handle
}

// Stop cancels the operation. No listener method starts after Stop returns.
// Stop is idempotent and may be called from a listener.
func (o *Operation) Stop() { o.h.Stop() }

// Stopped reports whether Stop was called.
func (o *Operation) Stopped() bool { return o.h.Stopped() }
