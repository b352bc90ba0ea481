package responder

import (
	"fmt"
	"maps"
	"strings"

	"github.com/joshuafuller/dnssd/internal/message"
)

// Service is a service instance advertised by a Responder.
//
// RFC 6763 §4.1: the instance is published as
// "<InstanceName>.<ServiceType>", for example
// "My Printer._ipp._tcp.local.".
type Service struct {
	// InstanceName is the user-visible name, up to 63 bytes. After Register
	// it holds the name actually won, which differs after a conflict.
	InstanceName string

	// ServiceType is "_service._proto" optionally followed by the domain,
	// e.g. "_http._tcp" or "_http._tcp.local".
	ServiceType string

	// Hostname overrides the SRV target. Empty means the responder's host
	// name, for which address records are published.
	Hostname string

	Port uint16

	// TXTRecords are the instance attributes (RFC 6763 §6).
	TXTRecords map[string]string
}

// Validate checks the service before registration.
func (s *Service) Validate() error {
	if err := message.ValidateInstance(s.InstanceName); err != nil {
		return err
	}
	stype, _ := splitServiceType(s.ServiceType)
	if err := message.ValidateServiceType(stype); err != nil {
		return err
	}
	if s.Port == 0 {
		return fmt.Errorf("service %q: port must be between 1 and 65535", s.InstanceName)
	}
	return nil
}

// ID returns the identifier used by Unregister, GetService and
// UpdateService: "<InstanceName>.<ServiceType>".
func (s *Service) ID() string {
	return s.InstanceName + "." + s.ServiceType
}

func (s *Service) clone() *Service {
	c := *s
	c.TXTRecords = maps.Clone(s.TXTRecords)
	return &c
}

// splitServiceType separates "_http._tcp.local" into "_http._tcp" and
// "local.". A bare type yields an empty domain.
func splitServiceType(st string) (serviceType, domain string) {
	st = strings.TrimSuffix(st, ".")
	parts := strings.SplitN(st, ".", 3)
	if len(parts) < 3 {
		return st, ""
	}
	return parts[0] + "." + parts[1], message.NormalizeDomain(parts[2])
}
