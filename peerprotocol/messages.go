package peerprotocol

// Message is implemented by every wire message this package exposes.
// ID reports the tag written after the length prefix; KeepAliveMessage
// is the sole exception, reporting the KeepAlive sentinel since its
// frame carries no tag at all on the wire.
type Message interface {
	ID() MessageID
}

// KeepAliveMessage is the length-0 frame with no type tag.
type KeepAliveMessage struct{}

func (KeepAliveMessage) ID() MessageID { return KeepAlive }

type ChokeMessage struct{}

func (ChokeMessage) ID() MessageID { return Choke }

type UnchokeMessage struct{}

func (UnchokeMessage) ID() MessageID { return Unchoke }

type InterestedMessage struct{}

func (InterestedMessage) ID() MessageID { return Interested }

type NotInterestedMessage struct{}

func (NotInterestedMessage) ID() MessageID { return NotInterested }

type HaveMessage struct {
	Index uint32
}

func (HaveMessage) ID() MessageID { return Have }

type BitfieldMessage struct {
	Data []byte
}

func (BitfieldMessage) ID() MessageID { return Bitfield }

// RequestMessage and CancelMessage share the same (index, begin,
// length) payload shape; Block turns one into the other's key.
type RequestMessage struct {
	Index, Begin, Length uint32
}

func (RequestMessage) ID() MessageID { return Request }

type PieceMessage struct {
	Index, Begin uint32
	Data         []byte
}

func (PieceMessage) ID() MessageID { return Piece }

type CancelMessage struct {
	Index, Begin, Length uint32
}

func (CancelMessage) ID() MessageID { return Cancel }

type PortMessage struct {
	Port uint16
}

func (PortMessage) ID() MessageID { return Port }

// HaveAllMessage and HaveNoneMessage (BEP 6) may only be the first
// message sent, in place of Bitfield.
type HaveAllMessage struct{}

func (HaveAllMessage) ID() MessageID { return HaveAll }

type HaveNoneMessage struct{}

func (HaveNoneMessage) ID() MessageID { return HaveNone }

// SuggestPieceMessage and AllowedFastMessage (BEP 6) carry a single
// piece index.
type SuggestPieceMessage struct {
	Index uint32
}

func (SuggestPieceMessage) ID() MessageID { return Suggest }

type AllowedFastMessage struct {
	Index uint32
}

func (AllowedFastMessage) ID() MessageID { return AllowedFast }

// RejectMessage (BEP 6) carries the same payload as Request/Cancel: it
// names the block being rejected.
type RejectMessage struct {
	Index, Begin, Length uint32
}

func (RejectMessage) ID() MessageID { return Reject }

// ExtendedMessage (BEP 10) carries a one-byte extension subtype id and
// an opaque, extension-defined payload.
type ExtendedMessage struct {
	ExtendedID uint8
	Payload    []byte
}

func (ExtendedMessage) ID() MessageID { return Extended }
