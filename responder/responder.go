// Package responder provides a blocking API for advertising services over
// mDNS (RFC 6762) with DNS-SD naming (RFC 6763).
//
// Register returns once the service is announced on the link:
//
//	resp, err := responder.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer resp.Close()
//
//	service := &responder.Service{
//	    InstanceName: "My Web Server",
//	    ServiceType:  "_http._tcp.local",
//	    Port:         8080,
//	    TXTRecords:   map[string]string{"version": "1.0", "path": "/"},
//	}
//	if err := resp.Register(service); err != nil {
//	    log.Fatal(err)
//	}
//
// Registration follows RFC 6762 §8: the name is probed three times 250ms
// apart, then announced. If another host owns the name, the service is
// renamed "My Web Server (2)", "My Web Server (3)" and so on; after Register
// returns, service.InstanceName holds the name that was won.
//
// UpdateService changes the TXT record without probing (RFC 6762 §8.4), and
// Unregister and Close withdraw records with goodbye packets (RFC 6762
// §10.1).
package responder

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/joshuafuller/dnssd"
)

// Responder advertises services. It is safe for concurrent use.
type Responder struct {
	ctx  context.Context
	opts []dnssd.Option
	d    *dnssd.DNSSD
	stop func() bool

	mu       sync.Mutex
	services map[string]*registered
	closed   bool
}

type registered struct {
	svc *Service
	reg *dnssd.Registration
}

// New creates a responder. Cancelling ctx closes it.
//
// Example:
//
//	resp, err := responder.New(ctx, responder.WithHostname("mydevice.local"))
//	if err != nil {
//	    return fmt.Errorf("failed to create responder: %w", err)
//	}
//	defer resp.Close()
func New(ctx context.Context, opts ...Option) (*Responder, error) {
	r := &Responder{
		ctx:      ctx,
		services: make(map[string]*registered),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	d, err := dnssd.New(r.opts...)
	if err != nil {
		return nil, err
	}
	r.d = d
	r.stop = context.AfterFunc(ctx, func() { _ = r.Close() })
	return r, nil
}

// Hostname returns the host name used for SRV targets and address records.
func (r *Responder) Hostname() string { return r.d.Hostname() }

// Register advertises service and blocks until it is announced, the name
// is lost (only possible when a conflict cannot be resolved), or the
// responder's context is done.
//
// On success service.InstanceName holds the registered name, and the
// service is known under service.ID().
func (r *Responder) Register(service *Service) error {
	if service == nil {
		return fmt.Errorf("service cannot be nil")
	}
	if err := service.Validate(); err != nil {
		return err
	}
	txt, err := dnssd.NewTXTRecord(service.TXTRecords)
	if err != nil {
		return fmt.Errorf("service %q: %w", service.InstanceName, err)
	}
	stype, domain := splitServiceType(service.ServiceType)

	type result struct {
		name string
		err  error
	}
	done := make(chan result, 1)
	reg, err := r.d.Register(dnssd.Service{
		Name:   service.InstanceName,
		Type:   stype,
		Domain: domain,
		Host:   service.Hostname,
		Port:   service.Port,
		TXT:    txt,
	}, dnssd.RegisterFuncs{
		Registered: func(s dnssd.RegisteredService) {
			select {
			case done <- result{name: s.Name}:
			default:
			}
		},
		Failed: func(err error) {
			select {
			case done <- result{err: err}:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	var res result
	select {
	case res = <-done:
	case <-r.ctx.Done():
		reg.Stop()
		return r.ctx.Err()
	}
	if res.err != nil {
		reg.Stop()
		return fmt.Errorf("register %q: %w", service.InstanceName, res.err)
	}

	service.InstanceName = res.name
	entry := &registered{svc: service.clone(), reg: reg}
	if entry.svc.Hostname == "" {
		entry.svc.Hostname = r.d.Hostname()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		reg.Stop()
		return fmt.Errorf("register %q: %w", service.InstanceName, dnssd.ErrInvalid)
	}
	r.services[key(service.ID())] = entry
	return nil
}

func key(serviceID string) string {
	return strings.ToLower(strings.TrimSuffix(serviceID, "."))
}

// lookup finds a service by full ID or, failing that, by instance name.
// r.mu must be held.
func (r *Responder) lookup(serviceID string) (string, *registered, bool) {
	k := key(serviceID)
	if e, ok := r.services[k]; ok {
		return k, e, true
	}
	for k, e := range r.services {
		if strings.EqualFold(e.svc.InstanceName, serviceID) {
			return k, e, true
		}
	}
	return "", nil, false
}

// Unregister withdraws a service with goodbye packets. serviceID is the
// value of Service.ID() or the bare instance name.
func (r *Responder) Unregister(serviceID string) error {
	r.mu.Lock()
	k, e, ok := r.lookup(serviceID)
	if ok {
		delete(r.services, k)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("service %q not registered", serviceID)
	}
	e.reg.Stop()
	return nil
}

// GetService returns a copy of a registered service.
func (r *Responder) GetService(serviceID string) (*Service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, e, ok := r.lookup(serviceID)
	if !ok {
		return nil, false
	}
	return e.svc.clone(), true
}

// Services returns the IDs of the registered services in sorted order.
func (r *Responder) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.services))
	for _, e := range r.services {
		ids = append(ids, e.svc.ID())
	}
	slices.Sort(ids)
	return ids
}

// UpdateService replaces the TXT record of a service and announces the
// change without probing (RFC 6762 §8.4).
func (r *Responder) UpdateService(serviceID string, txtRecords map[string]string) error {
	r.mu.Lock()
	_, e, ok := r.lookup(serviceID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("service %q not found", serviceID)
	}
	txt, err := dnssd.NewTXTRecord(txtRecords)
	if err != nil {
		return fmt.Errorf("update %q: %w", serviceID, err)
	}
	if err := e.reg.TXTRecord().Update(txt, 0); err != nil {
		return fmt.Errorf("update %q: %w", serviceID, err)
	}

	r.mu.Lock()
	e.svc.TXTRecords = maps.Clone(txtRecords)
	r.mu.Unlock()
	return nil
}

// Close withdraws every service with goodbye packets and closes the
// sockets.
func (r *Responder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.services = make(map[string]*registered)
	r.mu.Unlock()

	if r.stop != nil {
		r.stop()
	}
	return r.d.Close()
}
