//go:build linux

package utp

import (
	"net"

	"golang.org/x/sys/unix"
)

// setDontFragment enables IP_MTU_DISCOVER's "probe" mode, which sets
// the don't-fragment bit on every outgoing datagram without relying
// on path MTU caching, exactly what the prober needs for a clean
// binary search.
func setDontFragment(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_PROBE)
	})
	if err != nil {
		return err
	}
	return sockErr
}
