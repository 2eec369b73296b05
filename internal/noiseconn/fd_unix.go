//go:build linux || darwin

package noiseconn

import (
	"net"
	"syscall"
)

// fdOf extracts the raw file descriptor backing a *net.TCPConn so that
// noiseconn and the worker pool's poll set can operate on it directly,
// bypassing the runtime's own goroutine-per-fd poller (spec.md's
// worker pool explicitly multiplexes many connections per OS thread,
// the opposite of Go's default net/http model).
func fdOf(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, errUnsupportedConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = raw.Control(func(f uintptr) { fd = int(f) })
	if err != nil {
		return -1, err
	}
	// Duplicate so that closing net.Conn's own fd bookkeeping later
	// doesn't race with our direct syscall use of it.
	dupFd, err := syscall.Dup(fd)
	if err != nil {
		return -1, err
	}
	return dupFd, nil
}

func setNonblock(fd int) error {
	return syscall.SetNonblock(fd, true)
}
