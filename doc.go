// Package dnssd implements DNS-Based Service Discovery (RFC 6763) over
// Multicast DNS (RFC 6762).
//
// A DNSSD value starts operations that browse for service instances,
// resolve them to a host, port and TXT record, query arbitrary records,
// advertise services and records, and enumerate domains. Every operation
// reports through a listener and returns a handle whose Stop cancels it.
//
// # Session
//
// All operations of a DNSSD value share one protocol engine: one set of
// sockets, one record cache and one registry of local records. The engine is
// started by the first operation and closed a short linger period after the
// last operation ends, so short-lived operations in sequence do not reopen
// sockets each time.
//
// # Callbacks
//
// Listener methods run on the protocol worker unless WithDispatcher routes
// them elsewhere. They must not block. Events delivered together carry
// FlagMoreComing on every callback but the last, which lets a user interface
// defer redrawing. No listener method runs after the handle's Stop returns.
//
// # Errors
//
// Errors returned by this package carry a stable ErrorCode:
//
//	_, err := d.Browse(0, dnssd.AllInterfaces, "_http", "", l)
//	if errors.Is(err, dnssd.ErrBadParam) {
//	    // the service type was malformed
//	}
//
// # Example
//
//	d, err := dnssd.New(dnssd.WithLogger(slog.Default()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	op, err := d.Browse(0, dnssd.AllInterfaces, "_http._tcp", "", dnssd.BrowseFuncs{
//	    Found: func(ev dnssd.ServiceEvent) { fmt.Println("found", ev.Name) },
//	    Lost:  func(ev dnssd.ServiceEvent) { fmt.Println("lost", ev.Name) },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer op.Stop()
//
// Discover combines browse, resolve and address queries into a channel of
// BonjourService values for callers that want complete results.
package dnssd
