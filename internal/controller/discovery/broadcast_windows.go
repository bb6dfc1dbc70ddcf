//go:build windows

package discovery

import (
	"net"

	"golang.org/x/sys/windows"
)

// enableBroadcast sets SO_BROADCAST on conn's underlying socket, the
// Windows counterpart of broadcast_unix.go's setsockopt call.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
