// Package transceiver names the external-collaborator contracts of
// spec.md §6: the orchestrator that schedules pieces across peers, the
// DHT recruiter, and the storage backend. None of these are
// implemented here — orchestration, tracker HTTP, and file storage are
// explicitly out of scope (spec.md §1). What lives here are the Go
// interfaces a real orchestrator would satisfy to drive the peer,
// utp, and dht packages.
package transceiver

import (
	"github.com/riverweave/bitcore/metainfo"
	"github.com/riverweave/bitcore/peer"
	"github.com/riverweave/bitcore/requestpipeline"
)

// PeerActor is the subset of *peer.Peer the orchestrator drives: send
// commands, receive events. Exists so the orchestrator can be written
// and tested against a fake without depending on peer's concrete Run
// loop.
type PeerActor interface {
	Commands() chan<- peer.Command
	Events() <-chan peer.Event
	Close()
}

// DHTRecruiter is the orchestrator's view of the DHT: find peers for
// an info hash, and announce ourselves as one.
type DHTRecruiter interface {
	// RecruitFromDHT returns a channel of candidate peer endpoints for
	// infoHash; the channel is closed when the search is exhausted.
	RecruitFromDHT(infoHash [20]byte) <-chan PeerEndpoint
	// Announce tells the DHT we are serving infoHash on port.
	Announce(infoHash [20]byte, port uint16) error
}

// PeerEndpoint is a candidate peer address recruited from the DHT or a
// tracker response.
type PeerEndpoint struct {
	IP   string
	Port uint16
}

// Storage is the file-layout-agnostic interface the orchestrator
// consumes; file layout, piece hashing, and md5 verification of files
// are explicitly out of scope (spec.md §1) and so have no
// implementation in this module.
type Storage interface {
	Open(info metainfo.Info) (StorageHandle, error)
}

// StorageHandle is a single torrent's open storage.
type StorageHandle interface {
	Read(block requestpipeline.Block) ([]byte, error)
	Write(block requestpipeline.Block, data []byte) error
	Verify(piece uint32) (bool, error)
	Scan() (presentPieces []uint32, err error)
	Close() error
}
