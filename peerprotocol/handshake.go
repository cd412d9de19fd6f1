package peerprotocol

import (
	"errors"
	"io"
	"time"
)

// ProtocolString is the fixed protocol identifier exchanged in every
// handshake (spec.md §4.2, step 2).
const ProtocolString = "BitTorrent protocol"

// HandshakeTimeout bounds how long each side waits for the peer's
// handshake bytes before aborting the connection (spec.md §4.2).
const HandshakeTimeout = 30 * time.Second

// Errors specific to handshake negotiation.
var (
	ErrInvalidProtocolLength = errors.New("peerprotocol: invalid protocol string length")
	ErrInvalidProtocolString = errors.New("peerprotocol: unexpected protocol string")
	ErrInfoHashMismatch      = errors.New("peerprotocol: info hash does not match the torrent being served")
	ErrPeerIDMismatch        = errors.New("peerprotocol: peer id does not match the expected one")
)

// Extensions is the negotiated feature set carried in the handshake's
// 8 reserved bytes: DHT (bit 63), the fast extension (bit 61) and the
// extension protocol (bit 43). Unknown bits are preserved but never
// interpreted.
type Extensions [8]byte

// Test reports whether the given bit (counted from the high bit of
// the first byte, 0, up to the low bit of the last byte, 63) is set.
func (e Extensions) Test(bit int) bool {
	byteIdx := bit / 8
	mask := byte(1) << uint(7-bit%8)
	return e[byteIdx]&mask != 0
}

// Set sets the given bit.
func (e *Extensions) Set(bit int) {
	byteIdx := bit / 8
	mask := byte(1) << uint(7-bit%8)
	e[byteIdx] |= mask
}

// HasDHT, HasFast and HasExtension are convenience readers for the
// three bits this core cares about.
func (e Extensions) HasDHT() bool       { return e.Test(ReservedBitDHT) }
func (e Extensions) HasFast() bool      { return e.Test(ReservedBitFast) }
func (e Extensions) HasExtension() bool { return e.Test(ReservedBitExtension) }

// Handshake is the fixed-size message exchanged before any framed
// message, spec.md §4.2.
type Handshake struct {
	Extensions Extensions
	InfoHash   [20]byte
	PeerID     [20]byte
}

// WriteHandshake serializes and writes h to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	buf := make([]byte, 1+len(ProtocolString)+8+20+20)
	buf[0] = byte(len(ProtocolString))
	copy(buf[1:], ProtocolString)
	copy(buf[1+len(ProtocolString):], h.Extensions[:])
	copy(buf[1+len(ProtocolString)+8:], h.InfoHash[:])
	copy(buf[1+len(ProtocolString)+8+20:], h.PeerID[:])
	_, err := w.Write(buf)
	return err
}

// ReadHandshake reads and parses a Handshake from r. If wantInfoHash is
// non-nil, the decoded info hash must match it exactly or
// ErrInfoHashMismatch is returned. If wantPeerID is non-nil, the
// decoded peer id must match it or ErrPeerIDMismatch is returned.
func ReadHandshake(r io.Reader, wantInfoHash, wantPeerID *[20]byte) (Handshake, error) {
	var h Handshake

	var pstrlen [1]byte
	if _, err := io.ReadFull(r, pstrlen[:]); err != nil {
		return h, err
	}
	if int(pstrlen[0]) != len(ProtocolString) {
		return h, ErrInvalidProtocolLength
	}
	pstr := make([]byte, pstrlen[0])
	if _, err := io.ReadFull(r, pstr); err != nil {
		return h, err
	}
	if string(pstr) != ProtocolString {
		return h, ErrInvalidProtocolString
	}
	if _, err := io.ReadFull(r, h.Extensions[:]); err != nil {
		return h, err
	}
	if _, err := io.ReadFull(r, h.InfoHash[:]); err != nil {
		return h, err
	}
	if wantInfoHash != nil && h.InfoHash != *wantInfoHash {
		return h, ErrInfoHashMismatch
	}
	if _, err := io.ReadFull(r, h.PeerID[:]); err != nil {
		return h, err
	}
	if wantPeerID != nil && h.PeerID != *wantPeerID {
		return h, ErrPeerIDMismatch
	}
	return h, nil
}
