package utp

import (
	"net"
	"time"

	"github.com/riverweave/bitcore/internal/logger"
)

// mtuFloor/mtuCeil bound the binary search; values outside common
// Ethernet-to-Internet path MTUs are not worth probing.
const (
	mtuFloor = 576
	mtuCeil  = 1472 // 1500 - 20 (IP) - 8 (UDP)
)

// ProbeMTU performs a binary search over datagram sizes sent to
// remote with the don't-fragment bit set, returning the largest size
// that was not reported lost, clamped to [mtuFloor, mtuCeil]
// (spec.md §4.5). The result is meant to be handed to a Conn via
// SetMTU once discovered; probing happens out-of-band from the
// connection actor so it never blocks data flow.
func ProbeMTU(conn *net.UDPConn, remote *net.UDPAddr, log logger.Logger) (int, error) {
	lo, hi := mtuFloor, mtuCeil
	best := mtuFloor

	for lo <= hi {
		mid := (lo + hi) / 2
		ok, err := probeSize(conn, remote, mid)
		if err != nil {
			log.Debugf("utp: mtu probe at %d: %v", mid, err)
			hi = mid - 1
			continue
		}
		if ok {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, nil
}

// probeSize sends a single don't-fragment-flagged, zero-payload-type
// datagram of size n and reports whether it appears to have been
// delivered (ICMP "fragmentation needed" errors surface as a write or
// read error on most platforms, which callers treat as "too big").
func probeSize(conn *net.UDPConn, remote *net.UDPAddr, n int) (bool, error) {
	if err := setDontFragment(conn); err != nil {
		return false, err
	}

	pad := make([]byte, n-headerSize)
	pk := packet{header: header{Type: stState, Version: version}, Payload: pad}
	if _, err := conn.WriteTo(pk.encode(), remote); err != nil {
		return false, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, n+64)
	_, _, err := conn.ReadFrom(buf)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		// No reply (timeout) is treated as "probe lost", conservative
		// but safe: the search narrows toward smaller, definitely-safe
		// sizes rather than risk black-holing real data.
		return false, nil
	}
	return true, nil
}

// SetMTU clamps a connection's outgoing packet size to mtu, as
// reported by ProbeMTU.
func (c *Conn) SetMTU(mtu int) {
	if mtu < headerSize+1 {
		return
	}
	c.mtu = mtu
}
