package message

import (
	"fmt"
	"strings"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// NormalizeDomain returns the fully qualified domain, defaulting to "local.".
func NormalizeDomain(domain string) string {
	if domain == "" || domain == "." {
		return protocol.DefaultDomain
	}
	return Fqdn(domain)
}

// NormalizeServiceType strips a trailing dot from "_http._tcp.".
func NormalizeServiceType(serviceType string) string {
	return strings.TrimSuffix(serviceType, ".")
}

// ValidateServiceType checks the "_service._proto" form of RFC 6763 §7. The
// service label is 1-15 characters of letters, digits and hyphens after the
// underscore; the protocol label is _tcp or _udp.
func ValidateServiceType(serviceType string) error {
	st := NormalizeServiceType(serviceType)
	parts := strings.Split(st, ".")
	if len(parts) != 2 {
		return &errors.ValidationError{
			Field:   "service type",
			Value:   serviceType,
			Message: "invalid service type format, expected _service._tcp or _service._udp",
		}
	}
	svc, proto := parts[0], strings.ToLower(parts[1])
	if proto != "_tcp" && proto != "_udp" {
		return &errors.ValidationError{
			Field:   "service type",
			Value:   serviceType,
			Message: fmt.Sprintf("protocol label must be _tcp or _udp, got %q", parts[1]),
		}
	}
	if len(svc) < 2 || svc[0] != '_' || len(svc) > 16 {
		return &errors.ValidationError{
			Field:   "service type",
			Value:   serviceType,
			Message: "service label must be an underscore followed by 1-15 characters",
		}
	}
	for _, c := range svc[1:] {
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') && c != '-' {
			return &errors.ValidationError{
				Field:   "service type",
				Value:   serviceType,
				Message: fmt.Sprintf("invalid character %q in service label", c),
			}
		}
	}
	return nil
}

// ServiceTypeName joins a service type and domain: "_http._tcp.local.".
func ServiceTypeName(serviceType, domain string) string {
	return NormalizeServiceType(serviceType) + "." + NormalizeDomain(domain)
}

// ServiceInstanceName escapes instance and joins the three parts of a DNS-SD
// service instance name (RFC 6763 §4.1).
func ServiceInstanceName(instance, serviceType, domain string) (string, error) {
	if err := ValidateInstance(instance); err != nil {
		return "", err
	}
	name := EscapeLabel([]byte(instance)) + "." + ServiceTypeName(serviceType, domain)
	if _, err := SplitName(name); err != nil {
		return "", err
	}
	return name, nil
}

// SplitServiceInstanceName splits "<instance>.<_svc>.<_proto>.<domain>" into
// its raw instance label, the service type and the domain.
func SplitServiceInstanceName(name string) (instance, serviceType, domain string, err error) {
	labels, err := SplitName(name)
	if err != nil {
		return "", "", "", err
	}
	if len(labels) < 4 {
		return "", "", "", &errors.ValidationError{
			Field:   "name",
			Value:   name,
			Message: "not a service instance name",
		}
	}
	instance = string(labels[0])
	serviceType = EscapeLabel(labels[1]) + "." + EscapeLabel(labels[2])
	domain = labelsToName(labels[3:])
	return instance, serviceType, domain, nil
}

// FirstLabel returns the first raw label of name.
func FirstLabel(name string) (string, error) {
	labels, err := SplitName(name)
	if err != nil {
		return "", err
	}
	if len(labels) == 0 {
		return "", &errors.ValidationError{Field: "name", Value: name, Message: "root has no labels"}
	}
	return string(labels[0]), nil
}

// ParentName drops the first label of name.
func ParentName(name string) string {
	labels, err := SplitName(name)
	if err != nil || len(labels) <= 1 {
		return "."
	}
	return labelsToName(labels[1:])
}
