//go:build windows

package transport

import (
	"golang.org/x/sys/windows"
)

// setSocketOptions sets SO_REUSEADDR; Windows has no SO_REUSEPORT.
func setSocketOptions(fd uintptr) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}
