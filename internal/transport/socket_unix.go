//go:build !windows

package transport

import (
	"golang.org/x/sys/unix"
)

// setSocketOptions lets several mDNS stacks share port 5353 (RFC 6762 §15.1).
func setSocketOptions(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
