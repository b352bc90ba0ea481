package responder

import (
	"github.com/joshuafuller/dnssd"
)

// Option is a functional option for configuring a Responder.
//
// Example:
//
//	resp, err := responder.New(ctx,
//	    responder.WithHostname("mydevice.local"),
//	)
type Option func(*Responder) error

// WithHostname sets the host name of the responder's SRV targets and
// address records.
//
// RFC 6762 §6.1: the name should live in ".local". "mydevice" and
// "mydevice.local" both become "mydevice.local.". Without this option the
// name derives from os.Hostname().
//
// Example:
//
//	resp, err := responder.New(ctx, responder.WithHostname("server.local"))
//	if err != nil {
//	    return err
//	}
//
//	// Advertised with SRV target server.local.
//	resp.Register(&responder.Service{
//	    InstanceName: "My Service",
//	    ServiceType:  "_http._tcp.local",
//	    Port:         8080,
//	})
func WithHostname(hostname string) Option {
	return func(r *Responder) error {
		r.opts = append(r.opts, dnssd.WithHostname(hostname))
		return nil
	}
}

// WithOptions passes options through to the underlying dnssd.DNSSD, such as
// dnssd.WithLogger or dnssd.WithIPv4Only.
func WithOptions(opts ...dnssd.Option) Option {
	return func(r *Responder) error {
		r.opts = append(r.opts, opts...)
		return nil
	}
}
