// Package peerconn dials and accepts peer connections, carrying each
// one through the handshake (spec.md §4.2) and handing back a framed
// Conn that the peer actor drives. It is the generalization of the
// teacher's btconn package: where btconn only wrapped a net.Conn
// behind an io.ReadWriter so an MSE-obfuscated stream looked the same
// as a plain one, Conn additionally knows how to speak the handshake
// itself and reports the negotiated feature set.
package peerconn

import (
	"net"
	"time"

	"github.com/riverweave/bitcore/peerprotocol"
)

// Conn is a handshaken peer connection: a byte stream (TCP or uTP —
// anything satisfying net.Conn) plus the identity and feature set
// learned during the handshake.
type Conn struct {
	net.Conn
	PeerID     [20]byte
	Extensions peerprotocol.Extensions
}

// Features translates the negotiated handshake extensions into the
// Features the peerprotocol codec gates messages on.
func (c *Conn) Features() peerprotocol.Features {
	return peerprotocol.Features{
		DHT:       c.Extensions.HasDHT(),
		Fast:      c.Extensions.HasFast(),
		Extension: c.Extensions.HasExtension(),
	}
}

// Dial opens conn (expected already connected — TCP or uTP) and
// performs the outgoing side of the handshake: we speak first, then
// read the reciprocal handshake. infoHash identifies the torrent being
// requested; if wantPeerID is non-nil the remote's peer id must match
// it (used when the caller learned the peer id from a tracker/DHT
// response ahead of time).
func Dial(conn net.Conn, ourExtensions peerprotocol.Extensions, ourID, infoHash [20]byte, wantPeerID *[20]byte) (*Conn, error) {
	if err := conn.SetDeadline(time.Now().Add(peerprotocol.HandshakeTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	out := peerprotocol.Handshake{Extensions: ourExtensions, InfoHash: infoHash, PeerID: ourID}
	if err := peerprotocol.WriteHandshake(conn, out); err != nil {
		return nil, err
	}
	in, err := peerprotocol.ReadHandshake(conn, &infoHash, wantPeerID)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, PeerID: in.PeerID, Extensions: in.Extensions}, nil
}

// Accept performs the incoming side of the handshake: we read first
// (so we learn the requested info hash before committing to which
// torrent we're serving), validate it against wantInfoHash, then reply
// with our own handshake.
func Accept(conn net.Conn, ourExtensions peerprotocol.Extensions, ourID, wantInfoHash [20]byte) (*Conn, error) {
	if err := conn.SetDeadline(time.Now().Add(peerprotocol.HandshakeTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	in, err := peerprotocol.ReadHandshake(conn, &wantInfoHash, nil)
	if err != nil {
		return nil, err
	}
	out := peerprotocol.Handshake{Extensions: ourExtensions, InfoHash: wantInfoHash, PeerID: ourID}
	if err := peerprotocol.WriteHandshake(conn, out); err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, PeerID: in.PeerID, Extensions: in.Extensions}, nil
}
