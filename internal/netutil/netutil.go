// Package netutil tunes the raw socket options the control and streaming
// services need (spec §4.5 "bound to 0.0.0.0:3956 with broadcast and
// address-reuse enabled", §4.8 "send and receive buffer sizes set").
//
// Grounded on internal/platform/dtn/transport.go's use of golang.org/x/sys
// for low-level socket-option tuning ahead of establishing a connection.
package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// EnableBroadcastAndReuse sets SO_BROADCAST and SO_REUSEADDR on conn, per
// spec §4.5's control-socket requirement. Errors are best-effort: a
// platform that rejects one of these options still gets a working (if less
// permissive) socket.
func EnableBroadcastAndReuse(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var setErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); e != nil {
			setErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			setErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return setErr
}

// SetBuffers sets the socket send/receive buffer sizes, per spec §4.8
// ("≈8 KB send, ≈4 KB recv" for the streaming socket).
func SetBuffers(conn *net.UDPConn, sendBytes, recvBytes int) error {
	if err := conn.SetWriteBuffer(sendBytes); err != nil {
		return err
	}
	return conn.SetReadBuffer(recvBytes)
}

// IsTimeout reports whether err is a network read/write deadline expiry,
// the normal "nothing arrived this cycle" outcome of the receive loops
// rather than a real transport failure.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// IsConnRefused reports whether err is ECONNREFUSED, surfaced on some
// platforms when a prior send's ICMP port-unreachable arrives on a
// connectionless socket. The control service's send path uses it to log and
// drop such a response without counting it as a local socket failure.
func IsConnRefused(err error) bool {
	return errorsIs(err, syscall.ECONNREFUSED)
}

func errorsIs(err error, target syscall.Errno) bool {
	for {
		if err == nil {
			return false
		}
		if errno, ok := err.(syscall.Errno); ok {
			return errno == target
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
}
