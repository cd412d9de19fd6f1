package peerprotocol

import (
	"encoding/binary"
	"io"
)

// DefaultMaxMessageSize is the default limit on a decoded frame's
// total size (length prefix value), spec.md §4.2.
const DefaultMaxMessageSize = 64 * 1024

// Features records which extensions were negotiated in the handshake,
// so the decoder can reject a feature-gated message that arrives
// without negotiation (spec.md §4.2, §4.4).
type Features struct {
	DHT       bool
	Fast      bool
	Extension bool
}

// Encode serializes m into a full wire frame: 4-byte big-endian
// length, 1-byte tag, payload.
func Encode(m Message) []byte {
	payload := encodePayload(m)
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(1+len(payload)))
	buf[4] = byte(m.ID())
	copy(buf[5:], payload)
	return buf
}

// EncodeKeepAlive returns the length-0 keep-alive frame.
func EncodeKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

func encodePayload(m Message) []byte {
	switch msg := m.(type) {
	case ChokeMessage, UnchokeMessage, InterestedMessage, NotInterestedMessage,
		HaveAllMessage, HaveNoneMessage:
		return nil
	case HaveMessage:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, msg.Index)
		return b
	case BitfieldMessage:
		return msg.Data
	case RequestMessage:
		return encodeBlockFields(msg.Index, msg.Begin, msg.Length)
	case CancelMessage:
		return encodeBlockFields(msg.Index, msg.Begin, msg.Length)
	case RejectMessage:
		return encodeBlockFields(msg.Index, msg.Begin, msg.Length)
	case PieceMessage:
		b := make([]byte, 8+len(msg.Data))
		binary.BigEndian.PutUint32(b[0:4], msg.Index)
		binary.BigEndian.PutUint32(b[4:8], msg.Begin)
		copy(b[8:], msg.Data)
		return b
	case PortMessage:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, msg.Port)
		return b
	case SuggestPieceMessage:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, msg.Index)
		return b
	case AllowedFastMessage:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, msg.Index)
		return b
	case ExtendedMessage:
		b := make([]byte, 1+len(msg.Payload))
		b[0] = msg.ExtendedID
		copy(b[1:], msg.Payload)
		return b
	case KeepAliveMessage:
		panic("peerprotocol: KeepAliveMessage must be sent via EncodeKeepAlive, not Encode")
	default:
		panic("peerprotocol: unknown message type in Encode")
	}
}

func encodeBlockFields(index, begin, length uint32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], index)
	binary.BigEndian.PutUint32(b[4:8], begin)
	binary.BigEndian.PutUint32(b[8:12], length)
	return b
}

// ReadMessage reads one frame from r: a KeepAliveMessage for the
// length-0 frame, or the decoded Message otherwise. maxSize bounds the
// declared length, checked before any payload is allocated. features
// gates Port (requires DHT) and the fast-extension-only tags.
func ReadMessage(r io.Reader, maxSize uint32, features Features) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAliveMessage{}, nil
	}
	if length > maxSize {
		return nil, ErrSizeLimitExceeded
	}
	var idBuf [1]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return nil, err
	}
	id := MessageID(idBuf[0])
	payloadLen := length - 1
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return decodePayload(id, payload, features)
}

func decodePayload(id MessageID, payload []byte, features Features) (Message, error) {
	switch id {
	case Choke:
		return expectEmpty(payload, ChokeMessage{})
	case Unchoke:
		return expectEmpty(payload, UnchokeMessage{})
	case Interested:
		return expectEmpty(payload, InterestedMessage{})
	case NotInterested:
		return expectEmpty(payload, NotInterestedMessage{})
	case Have:
		if len(payload) != 4 {
			return nil, ErrInvalidLength
		}
		return HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case Bitfield:
		return BitfieldMessage{Data: payload}, nil
	case Request:
		idx, begin, length, err := decodeBlockFields(payload)
		if err != nil {
			return nil, err
		}
		return RequestMessage{Index: idx, Begin: begin, Length: length}, nil
	case Piece:
		if len(payload) < 8 {
			return nil, ErrInvalidLength
		}
		return PieceMessage{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Data:  payload[8:],
		}, nil
	case Cancel:
		idx, begin, length, err := decodeBlockFields(payload)
		if err != nil {
			return nil, err
		}
		return CancelMessage{Index: idx, Begin: begin, Length: length}, nil
	case Port:
		if !features.DHT {
			return nil, ErrUnfeaturedMessage
		}
		if len(payload) != 2 {
			return nil, ErrInvalidLength
		}
		return PortMessage{Port: binary.BigEndian.Uint16(payload)}, nil
	case Suggest:
		if !features.Fast {
			return nil, ErrUnfeaturedMessage
		}
		if len(payload) != 4 {
			return nil, ErrInvalidLength
		}
		return SuggestPieceMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case HaveAll:
		if !features.Fast {
			return nil, ErrUnfeaturedMessage
		}
		return expectEmpty(payload, HaveAllMessage{})
	case HaveNone:
		if !features.Fast {
			return nil, ErrUnfeaturedMessage
		}
		return expectEmpty(payload, HaveNoneMessage{})
	case Reject:
		if !features.Fast {
			return nil, ErrUnfeaturedMessage
		}
		idx, begin, length, err := decodeBlockFields(payload)
		if err != nil {
			return nil, err
		}
		return RejectMessage{Index: idx, Begin: begin, Length: length}, nil
	case AllowedFast:
		if !features.Fast {
			return nil, ErrUnfeaturedMessage
		}
		if len(payload) != 4 {
			return nil, ErrInvalidLength
		}
		return AllowedFastMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case Extended:
		if !features.Extension {
			return nil, ErrUnfeaturedMessage
		}
		if len(payload) < 1 {
			return nil, ErrInvalidLength
		}
		return ExtendedMessage{ExtendedID: payload[0], Payload: payload[1:]}, nil
	default:
		return nil, ErrUnknownID{ID: id}
	}
}

func expectEmpty(payload []byte, m Message) (Message, error) {
	if len(payload) != 0 {
		return nil, ErrInvalidLength
	}
	return m, nil
}

func decodeBlockFields(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, ErrInvalidLength
	}
	return binary.BigEndian.Uint32(payload[0:4]),
		binary.BigEndian.Uint32(payload[4:8]),
		binary.BigEndian.Uint32(payload[8:12]),
		nil
}
