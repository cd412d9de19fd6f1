package peer

import (
	"github.com/riverweave/bitcore/bitfield"
	"github.com/riverweave/bitcore/requestpipeline"
)

// Command is sent from the orchestrator to a peer actor
// (spec.md §6, "Orchestrator ↔ peer actor").
type Command interface{}

// SetChokeCommand asks the actor to choke or unchoke the remote peer.
type SetChokeCommand struct{ Choke bool }

// SetInterestedCommand asks the actor to declare local interest.
type SetInterestedCommand struct{ Interested bool }

// AdvertiseCommand asks the actor to tell the remote peer about a
// piece we now have, or the whole set at once (fast extension only for
// the HaveAll/HaveNone forms).
type AdvertiseCommand struct {
	Have     *uint32 // single Have(index), if non-nil
	HaveAll  bool
	HaveNone bool
	Bitfield *bitfield.Bitfield
}

// RequestCommand asks the actor to request block from this peer. The
// result (Accepted/AlreadyQueued/Full, and a Receiver on Accepted) is
// delivered on ResultC.
type RequestCommand struct {
	Block   requestpipeline.Block
	ResultC chan<- RequestResult
}

// RequestResult is the reply to a RequestCommand.
type RequestResult struct {
	Outcome  requestpipeline.EnqueueResult
	Receiver *requestpipeline.Receiver
}

// SetPortCommand asks the actor to send a Port message (DHT bootstrap
// hint), only valid if both sides negotiated the DHT bit.
type SetPortCommand struct{ Port uint16 }
