// Package peer implements the per-connection actor of spec.md §4.4: one
// goroutine per peer connection, driving the wire protocol, the
// outstanding-request pipeline, and the choke/interest state machine,
// and exchanging Commands/Events with the orchestrator over channels.
//
// The Run loop's shutdown coordination generalizes the teacher's
// peerconn.Peer.Run (reader/writer goroutines raced against a closeC),
// adapted here into a single loop that also owns choke state instead
// of splitting it across a separate writer goroutine.
package peer

import (
	"sync"
	"time"

	"github.com/riverweave/bitcore/bitfield"
	"github.com/riverweave/bitcore/internal/logger"
	"github.com/riverweave/bitcore/peerconn"
	"github.com/riverweave/bitcore/peerprotocol"
	"github.com/riverweave/bitcore/requestpipeline"
	metrics "github.com/rcrowley/go-metrics"
)

// KeepAliveInterval is T in spec.md §4.4's "send a keep-alive after T
// idle, drop the connection after 2T with nothing received" rule. Run
// checks it on a T/2 ticker: it drops the connection once nothing has
// been received for more than 2T, and otherwise sends a keep-alive on
// every tick, whether or not anything else was written since.
const KeepAliveInterval = 2 * time.Minute

// Config carries the peer actor's tunables (spec.md §5 defaults).
type Config struct {
	RequestPipelineLimit   uint32
	RequestPipelineTimeout time.Duration
	MaxMessageSize         uint32
	CancelBufferSize       int
}

// DefaultConfig matches spec.md §5's suggested defaults.
var DefaultConfig = Config{
	RequestPipelineLimit:   128 * 16 * 1024,
	RequestPipelineTimeout: requestpipeline.DefaultTimeout,
	MaxMessageSize:         peerprotocol.DefaultMaxMessageSize,
	CancelBufferSize:       64,
}

// Peer is one connection's actor state (spec.md §4.4's field list).
type Peer struct {
	conn      *peerconn.Conn
	numPieces uint32
	cfg       Config
	log       logger.Logger

	CommandC chan Command
	EventC   chan Event

	// self → peer
	amChoking    bool
	amInterested bool
	// peer → self
	peerChoking    bool
	peerInterested bool

	peerBitfield *bitfield.Bitfield
	firstMessage bool

	// allowedFast is the set of piece indexes the peer may request even
	// while we choke it; nothing fills it or sends it as AllowedFast, so
	// it stays empty. peerAllowedFast is the set the remote peer told us
	// (BEP 6).
	allowedFast     map[uint32]bool
	peerAllowedFast map[uint32]bool

	outbound    *requestpipeline.Pipeline // our requests to the peer
	cancelC     chan requestpipeline.Block
	chokeBuffer []requestpipeline.Block // blocks drained on Choke, replayed on Unchoke

	// uploads we are actively serving, keyed by block, so a Cancel can
	// short-circuit a BlockReadyForUploadEvent still in flight. Entries
	// are removed by the main loop on uploadDoneC, never by the
	// awaitUpload goroutine itself.
	uploading   map[requestpipeline.Block]chan<- []byte
	uploadDoneC chan requestpipeline.Block

	bytesUp, bytesDown metrics.Counter

	// writeMu serializes wire writes between the actor loop
	// (sendMessage) and the awaitUpload goroutines it spawns: net.Conn
	// gives no atomicity guarantee for concurrent Write calls, and two
	// interleaved frames would corrupt the stream.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeC    chan struct{}
	closedC   chan struct{}
}

// closeConn is the single path that closes closeC, safe to call from
// any goroutine (sendMessage on a fatal write, or an external Close).
func (p *Peer) closeConn() {
	p.closeOnce.Do(func() { close(p.closeC) })
}

// New builds a Peer actor around an already-handshaken connection.
// numPieces is the torrent's piece count, needed to size the peer's
// bitfield and validate Have/Bitfield/Request indexes.
func New(conn *peerconn.Conn, numPieces uint32, cfg Config, log logger.Logger) *Peer {
	cancelC := make(chan requestpipeline.Block, cfg.CancelBufferSize)
	return &Peer{
		conn:            conn,
		numPieces:       numPieces,
		cfg:             cfg,
		log:             log,
		CommandC:        make(chan Command),
		EventC:          make(chan Event, 64),
		amChoking:       true,
		peerChoking:     true,
		firstMessage:    true,
		peerBitfield:    bitfield.New(numPieces),
		allowedFast:     make(map[uint32]bool),
		peerAllowedFast: make(map[uint32]bool),
		outbound:        requestpipeline.New(cfg.RequestPipelineLimit, cfg.RequestPipelineTimeout, cancelC),
		cancelC:         cancelC,
		uploading:       make(map[requestpipeline.Block]chan<- []byte),
		uploadDoneC:     make(chan requestpipeline.Block, 8),
		bytesUp:         metrics.NewCounter(),
		bytesDown:       metrics.NewCounter(),
		closeC:          make(chan struct{}),
		closedC:         make(chan struct{}),
	}
}

// Close requests the actor to stop and waits for it to do so.
func (p *Peer) Close() {
	p.closeConn()
	<-p.closedC
}

// Commands returns the send-only side of CommandC, for callers that
// only need to drive the actor (e.g. transceiver.PeerActor).
func (p *Peer) Commands() chan<- Command { return p.CommandC }

// Events returns the receive-only side of EventC.
func (p *Peer) Events() <-chan Event { return p.EventC }

func (p *Peer) terminate(reason error) {
	select {
	case p.EventC <- TerminatedEvent{Reason: reason}:
	case <-p.closeC:
	}
}

// Run is the actor's event loop: one goroutine reads wire messages off
// conn and feeds them onto an internal channel, while this loop
// multiplexes that channel against CommandC, the pipeline's cancelC,
// and the keep-alive timer. All mutable state above is touched only
// from this loop, so none of it needs its own lock.
func (p *Peer) Run() {
	defer close(p.closedC)
	defer p.conn.Close()

	type readResult struct {
		msg peerprotocol.Message
		err error
	}
	msgC := make(chan readResult)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			msg, err := peerprotocol.ReadMessage(p.conn, p.cfg.MaxMessageSize, p.conn.Features())
			select {
			case msgC <- readResult{msg, err}:
			case <-p.closeC:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		p.conn.Close()
		<-readerDone
	}()

	keepAliveTicker := time.NewTicker(KeepAliveInterval / 2)
	defer keepAliveTicker.Stop()
	lastRecv := time.Now()

	timeoutTicker := time.NewTicker(time.Second)
	defer timeoutTicker.Stop()

	for {
		select {
		case <-p.closeC:
			return

		case r := <-msgC:
			if r.err != nil {
				p.terminate(r.err)
				return
			}
			lastRecv = time.Now()
			if err := p.handleMessage(r.msg); err != nil {
				p.terminate(err)
				return
			}

		case cmd := <-p.CommandC:
			p.handleCommand(cmd)

		case b := <-p.cancelC:
			p.sendMessage(peerprotocol.CancelMessage{Index: b.Index, Begin: b.Begin, Length: b.Length})

		case b := <-p.uploadDoneC:
			delete(p.uploading, b)

		case <-timeoutTicker.C:
			for _, b := range p.outbound.PopExpired(time.Now()) {
				// Re-request once; a peer that repeatedly times out
				// will eventually be dropped by the orchestrator based
				// on the events it isn't seeing.
				p.sendMessage(peerprotocol.RequestMessage{Index: b.Index, Begin: b.Begin, Length: b.Length})
			}

		case <-keepAliveTicker.C:
			if time.Since(lastRecv) > 2*KeepAliveInterval {
				p.terminate(ErrKeepAliveTimeout)
				return
			}
			p.sendMessage(nil) // keep-alive has no Message value; see sendMessage
		}
	}
}

// sendMessage writes m to the wire, or a zero-length keep-alive when m
// is nil. Write errors are fatal: they terminate the actor.
func (p *Peer) sendMessage(m peerprotocol.Message) {
	var frame []byte
	if m == nil {
		frame = peerprotocol.EncodeKeepAlive()
	} else {
		frame = peerprotocol.Encode(m)
	}
	p.writeMu.Lock()
	_, err := p.conn.Write(frame)
	p.writeMu.Unlock()
	if err != nil {
		select {
		case p.EventC <- TerminatedEvent{Reason: err}:
		default:
		}
		p.closeConn()
	}
}
