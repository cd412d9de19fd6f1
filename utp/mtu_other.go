//go:build !linux

package utp

import "net"

// setDontFragment is a no-op outside Linux: other platforms' portable
// APIs for per-socket don't-fragment control aren't exposed by the Go
// standard library, so the prober there degrades to assuming its
// probes aren't silently fragmented.
func setDontFragment(conn *net.UDPConn) error {
	return nil
}
