package transceiver

import "github.com/riverweave/bitcore/peer"

// A compile-time check that *peer.Peer actually satisfies PeerActor,
// since the orchestrator this package describes is never implemented
// here to exercise it at runtime.
var _ PeerActor = (*peer.Peer)(nil)
