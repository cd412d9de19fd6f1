package peer

import "github.com/riverweave/bitcore/requestpipeline"

// Event is sent from a peer actor to the orchestrator
// (spec.md §6, "Orchestrator ↔ peer actor").
type Event interface{}

// HaveBitsEvent reports newly discovered pieces (from Have, Bitfield,
// HaveAll or HaveNone).
type HaveBitsEvent struct {
	Indexes []uint32
	All     bool
	None    bool
}

// BlockReadyForUploadEvent is emitted when the remote peer requested a
// block we're allowed to serve; the orchestrator (owner of storage)
// should read it and send the bytes on ResponseC, or close ResponseC
// without sending to mean "no longer available" (the actor will then
// emit a Reject if the fast extension is active, or silently drop the
// request otherwise).
type BlockReadyForUploadEvent struct {
	Block     requestpipeline.Block
	ResponseC chan<- []byte
}

// PeerUnchokedEvent / PeerChokedEvent report the remote's choke state
// toggling.
type PeerUnchokedEvent struct{}
type PeerChokedEvent struct{}

// TerminatedEvent is the final event the actor ever sends; Reason
// reports why spec.md §7's error taxonomy applied.
type TerminatedEvent struct{ Reason error }

// PortEvent relays a received Port message so the orchestrator can
// feed it to the DHT as a bootstrap hint.
type PortEvent struct{ Port uint16 }

// ExtendedEvent relays a received Extended message for the extension
// subsystem (out of this core's scope) to interpret.
type ExtendedEvent struct {
	ExtendedID uint8
	Payload    []byte
}
