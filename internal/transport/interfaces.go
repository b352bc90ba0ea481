package transport

import (
	"fmt"
	"net"
	"slices"

	"github.com/joshuafuller/dnssd/internal/errors"
)

// selectInterfaces applies an interface scope to the system interface list.
//
//   - AllInterfaces: up, multicast-capable and not loopback
//   - LoopbackOnly: up loopback interfaces
//   - any other value: that interface index
func selectInterfaces(scope int, ifaces []net.Interface) ([]net.Interface, error) {
	var out []net.Interface
	switch scope {
	case AllInterfaces:
		for _, ifi := range ifaces {
			if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
				continue
			}
			if ifi.Flags&net.FlagMulticast == 0 {
				continue
			}
			out = append(out, ifi)
		}
		if len(out) == 0 {
			return nil, &errors.NetworkError{
				Operation: "select interfaces",
				Err:       errors.ErrNoMulticastSupport,
				Details:   "no up, multicast-capable, non-loopback interface",
			}
		}
	case LoopbackOnly:
		for _, ifi := range ifaces {
			if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagLoopback != 0 {
				out = append(out, ifi)
			}
		}
		if len(out) == 0 {
			return nil, &errors.NetworkError{
				Operation: "select interfaces",
				Err:       errors.ErrInterfaceNotFound,
				Details:   "no loopback interface",
			}
		}
	default:
		idx := slices.IndexFunc(ifaces, func(ifi net.Interface) bool { return ifi.Index == scope })
		if idx < 0 {
			return nil, &errors.NetworkError{
				Operation: "select interfaces",
				Err:       errors.ErrInterfaceNotFound,
				Details:   fmt.Sprintf("interface index %d", scope),
			}
		}
		ifi := ifaces[idx]
		if ifi.Flags&net.FlagUp == 0 {
			return nil, &errors.NetworkError{
				Operation: "select interfaces",
				Err:       errors.ErrInterfaceNotFound,
				Details:   fmt.Sprintf("interface %s is down", ifi.Name),
			}
		}
		if ifi.Flags&(net.FlagMulticast|net.FlagLoopback) == 0 {
			return nil, &errors.NetworkError{
				Operation: "select interfaces",
				Err:       errors.ErrNoMulticastSupport,
				Details:   fmt.Sprintf("interface %s", ifi.Name),
			}
		}
		out = append(out, ifi)
	}
	return out, nil
}

// unicastAddrs extracts the IP addresses of an interface address list.
func unicastAddrs(addrs []net.Addr) []net.IP {
	var out []net.IP
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsMulticast() || ip.IsUnspecified() {
			continue
		}
		out = append(out, ip)
	}
	return out
}

// InterfaceByName returns the index of a named interface.
func InterfaceByName(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, &errors.NetworkError{
			Operation: "lookup interface",
			Err:       errors.ErrInterfaceNotFound,
			Details:   fmt.Sprintf("%s: %v", name, err),
		}
	}
	return ifi.Index, nil
}

func sameInterfaces(a, b []Interface) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Index != b[i].Index || a[i].Name != b[i].Name || len(a[i].Addrs) != len(b[i].Addrs) {
			return false
		}
		for j := range a[i].Addrs {
			if !a[i].Addrs[j].Equal(b[i].Addrs[j]) {
				return false
			}
		}
	}
	return true
}
