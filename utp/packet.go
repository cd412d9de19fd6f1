// Package utp implements the reliable, congestion-controlled,
// UDP-based transport of spec.md §4.5: packet framing, a
// per-connection actor with retransmit and reorder handling, LEDBAT
// congestion control, and a socket that demultiplexes one shared UDP
// socket across many connections plus an MTU prober.
//
// No pack repo speaks uTP; this package generalizes the actor/channel
// shape the teacher already uses for its per-peer event loop (see
// peer.Peer.Run, itself grounded on the teacher's session run loop)
// onto this new transport domain.
package utp

import (
	"encoding/binary"
	"errors"
)

// packetType is the 4-bit ST_* discriminator in a uTP header.
type packetType uint8

const (
	stData  packetType = 0
	stFin   packetType = 1
	stState packetType = 2
	stReset packetType = 3
	stSyn   packetType = 4
)

const (
	version    = 1
	headerSize = 20
	extEOF     = 0
	extSelAck  = 1
)

var (
	ErrShortPacket  = errors.New("utp: packet shorter than header")
	ErrBadVersion   = errors.New("utp: unsupported header version")
	ErrBadExtension = errors.New("utp: truncated extension")
)

// header is the fixed 20-byte uTP packet header (libutp wire format).
type header struct {
	Type           packetType
	Version        uint8
	Extension      uint8 // first extension type, 0 if none
	ConnID         uint16
	Timestamp      uint32
	TimestampDiff  uint32
	WindowSize     uint32
	SeqNr          uint16
	AckNr          uint16
}

// packet is a decoded datagram: its header, any selective-ack bitmask
// carried in an extension, and the payload.
type packet struct {
	header
	SelAck  []byte // selective-ack bitmask, nil if absent
	Payload []byte
}

// encode serializes p, stamping nothing itself — callers stamp
// Timestamp just before transmission per spec.md §4.5.
func (p packet) encode() []byte {
	extByte := uint8(extEOF)
	var extBody []byte
	if p.SelAck != nil {
		extByte = extSelAck
		// [next-extension-type(0, we emit at most one), length, data...]
		extBody = append([]byte{0, byte(len(p.SelAck))}, p.SelAck...)
	}

	buf := make([]byte, headerSize, headerSize+len(extBody)+len(p.Payload))
	buf[0] = byte(p.Type)<<4 | version
	buf[1] = extByte
	binary.BigEndian.PutUint16(buf[2:4], p.ConnID)
	binary.BigEndian.PutUint32(buf[4:8], p.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.TimestampDiff)
	binary.BigEndian.PutUint32(buf[12:16], p.WindowSize)
	binary.BigEndian.PutUint16(buf[16:18], p.SeqNr)
	binary.BigEndian.PutUint16(buf[18:20], p.AckNr)

	buf = append(buf, extBody...)
	buf = append(buf, p.Payload...)
	return buf
}

// decode parses a raw datagram into a packet.
func decode(b []byte) (packet, error) {
	if len(b) < headerSize {
		return packet{}, ErrShortPacket
	}
	var p packet
	p.Type = packetType(b[0] >> 4)
	p.Version = b[0] & 0x0f
	if p.Version != version {
		return packet{}, ErrBadVersion
	}
	nextExt := b[1]
	p.ConnID = binary.BigEndian.Uint16(b[2:4])
	p.Timestamp = binary.BigEndian.Uint32(b[4:8])
	p.TimestampDiff = binary.BigEndian.Uint32(b[8:12])
	p.WindowSize = binary.BigEndian.Uint32(b[12:16])
	p.SeqNr = binary.BigEndian.Uint16(b[16:18])
	p.AckNr = binary.BigEndian.Uint16(b[18:20])

	rest := b[headerSize:]
	for nextExt != extEOF {
		if len(rest) < 2 {
			return packet{}, ErrBadExtension
		}
		kind := nextExt
		length := int(rest[1])
		if len(rest) < 2+length {
			return packet{}, ErrBadExtension
		}
		body := rest[2 : 2+length]
		if kind == extSelAck {
			p.SelAck = append([]byte(nil), body...)
		}
		nextExt = rest[0]
		rest = rest[2+length:]
	}
	p.Payload = append([]byte(nil), rest...)
	return p, nil
}
