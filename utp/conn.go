package utp

import (
	"container/heap"
	"errors"
	"net"
	"time"

	"github.com/riverweave/bitcore/internal/logger"
)

// State is one of the four states a connection actor moves through
// (spec.md §4.5).
type State int

const (
	StateSynSent State = iota
	StateConnected
	StateFinSent
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSynSent:
		return "syn-sent"
	case StateConnected:
		return "connected"
	case StateFinSent:
		return "fin-sent"
	default:
		return "closed"
	}
}

const (
	// defaultMTU is used until the prober (mtu.go) reports a
	// discovered path MTU.
	defaultMTU = 1400

	// targetDelay is LEDBAT's configured one-way-delay ceiling.
	targetDelay = 100 * time.Millisecond

	minCwnd = 2 * 1024

	retransmitTimeoutMin = 500 * time.Millisecond
	dupAckThreshold       = 3
)

var (
	ErrClosed      = errors.New("utp: connection closed")
	ErrConnTimeout = errors.New("utp: connect timed out")
)

// outSegment is one unacknowledged outbound packet, ordered in the
// retransmit heap by its deadline.
type outSegment struct {
	seq      uint16
	data     []byte
	sentAt   time.Time
	deadline time.Time
	dupAcks  int
	index    int // heap.Interface bookkeeping
}

type retransmitHeap []*outSegment

func (h retransmitHeap) Len() int            { return len(h) }
func (h retransmitHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h retransmitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *retransmitHeap) Push(x interface{}) {
	s := x.(*outSegment)
	s.index = len(*h)
	*h = append(*h, s)
}
func (h *retransmitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	s := old[n-1]
	*h = old[:n-1]
	return s
}

// writeRequest is one queued application write, resolved once every
// byte has been packetized and handed to the socket.
type writeRequest struct {
	data  []byte
	resC  chan error
}

// Conn is one uTP connection's actor: a single goroutine (Run) owns
// every field below, generalizing the select-loop shape of
// peer.Peer.Run onto this transport.
type Conn struct {
	remote     *net.UDPAddr
	connIDRecv uint16 // ID we listen for incoming packets on
	connIDSend uint16 // ID we stamp on outgoing packets

	state State
	mtu   int

	// send side
	pending     map[uint16]*outSegment
	pendingHeap retransmitHeap
	nextSeq     uint16
	lastAcked   uint16
	cwnd        uint32
	rtt         time.Duration

	// LEDBAT delay sample, one-way (their timestamp vs our clock).
	baseDelay time.Duration

	// receive side
	nextExpected uint16
	reorder      map[uint16][]byte

	outC    chan packet        // to the owning socket's sink
	inC     chan packet        // from the owning socket's demultiplexer
	writeC  chan writeRequest  // app → conn
	readC   chan []byte        // conn → app, in-order payloads
	closeC  chan struct{}
	closedC chan struct{}

	log logger.Logger
}

func newConn(remote *net.UDPAddr, connIDRecv, connIDSend uint16, outC chan packet, log logger.Logger) *Conn {
	return &Conn{
		remote:      remote,
		connIDRecv:  connIDRecv,
		connIDSend:  connIDSend,
		mtu:         defaultMTU,
		pending:     make(map[uint16]*outSegment),
		cwnd:        minCwnd,
		reorder:     make(map[uint16][]byte),
		outC:        outC,
		inC:         make(chan packet, 64),
		writeC:      make(chan writeRequest),
		readC:       make(chan []byte, 64),
		closeC:      make(chan struct{}),
		closedC:     make(chan struct{}),
		log:         log,
	}
}

// Write packetizes and sends data, blocking until it has been handed
// off to the connection's send queue (not until acknowledged).
func (c *Conn) Write(data []byte) error {
	resC := make(chan error, 1)
	select {
	case c.writeC <- writeRequest{data: data, resC: resC}:
	case <-c.closedC:
		return ErrClosed
	}
	select {
	case err := <-resC:
		return err
	case <-c.closedC:
		return ErrClosed
	}
}

// Read returns the next in-order payload chunk, or ErrClosed once the
// connection has torn down with nothing left buffered.
func (c *Conn) Read() ([]byte, error) {
	select {
	case b, ok := <-c.readC:
		if !ok {
			return nil, ErrClosed
		}
		return b, nil
	case <-c.closedC:
		select {
		case b, ok := <-c.readC:
			if ok {
				return b, nil
			}
		default:
		}
		return nil, ErrClosed
	}
}

// Close sends a FIN and tears the connection down, without waiting
// for the peer's acknowledgement.
func (c *Conn) Close() {
	select {
	case <-c.closeC:
	default:
		close(c.closeC)
	}
	<-c.closedC
}

// deliver is called by the owning socket when a datagram addressed to
// this connection's recv ID arrives.
func (c *Conn) deliver(p packet) {
	select {
	case c.inC <- p:
	case <-c.closedC:
	}
}

// Run is the connection actor's event loop.
func (c *Conn) Run(initialState State) {
	c.state = initialState
	defer close(c.closedC)

	retransmitTicker := time.NewTicker(100 * time.Millisecond)
	defer retransmitTicker.Stop()

	for c.state != StateClosed {
		select {
		case <-c.closeC:
			c.sendFin()
			c.state = StateClosed

		case p := <-c.inC:
			c.handlePacket(p)

		case req := <-c.writeC:
			c.handleWrite(req)

		case <-retransmitTicker.C:
			c.checkRetransmits()
		}
	}
	close(c.readC)
}

func (c *Conn) now32() uint32 {
	return uint32(time.Now().UnixMicro())
}

func (c *Conn) send(pk packet) {
	if pk.Type != stSyn {
		// A SYN carries the dialer's receive ID, set by Connect.
		pk.ConnID = c.connIDSend
	}
	pk.Timestamp = c.now32()
	select {
	case c.outC <- pk:
	case <-c.closedC:
	}
}

func (c *Conn) sendFin() {
	c.send(packet{header: header{Type: stFin, Version: version, SeqNr: c.nextSeq, AckNr: c.nextExpected - 1}})
}

func (c *Conn) sendState() {
	c.send(packet{header: header{Type: stState, Version: version, SeqNr: c.nextSeq, AckNr: c.nextExpected - 1}})
}

// handleWrite splits data into MTU-sized segments, queues each as an
// outSegment, and transmits it immediately (Nagle-free). cwnd is only
// advertised in each packet's WindowSize; it does not limit how much
// data stays outstanding.
func (c *Conn) handleWrite(req writeRequest) {
	if c.state == StateClosed || c.state == StateFinSent {
		req.resC <- ErrClosed
		return
	}
	payloadSize := c.mtu - headerSize
	data := req.data
	for len(data) > 0 {
		n := payloadSize
		if n > len(data) {
			n = len(data)
		}
		chunk := data[:n]
		data = data[n:]

		seq := c.nextSeq
		c.nextSeq++
		seg := &outSegment{
			seq:      seq,
			data:     chunk,
			sentAt:   time.Now(),
			deadline: time.Now().Add(retransmitTimeoutFor(c.rtt)),
		}
		c.pending[seq] = seg
		heap.Push(&c.pendingHeap, seg)
		c.send(packet{
			header:  header{Type: stData, Version: version, SeqNr: seq, AckNr: c.nextExpected - 1, WindowSize: c.cwnd},
			Payload: chunk,
		})
	}
	req.resC <- nil
}

func retransmitTimeoutFor(rtt time.Duration) time.Duration {
	if rtt < retransmitTimeoutMin {
		return retransmitTimeoutMin
	}
	return 2 * rtt
}

func (c *Conn) checkRetransmits() {
	now := time.Now()
	for c.pendingHeap.Len() > 0 {
		seg := c.pendingHeap[0]
		if seg.deadline.After(now) {
			return
		}
		heap.Pop(&c.pendingHeap)
		if _, still := c.pending[seg.seq]; !still {
			continue // acked since it was queued
		}
		seg.deadline = now.Add(retransmitTimeoutFor(c.rtt))
		heap.Push(&c.pendingHeap, seg)
		c.send(packet{
			header:  header{Type: stData, Version: version, SeqNr: seg.seq, AckNr: c.nextExpected - 1},
			Payload: seg.data,
		})
	}
}

func (c *Conn) handlePacket(p packet) {
	switch p.Type {
	case stSyn:
		c.state = StateConnected
		c.nextExpected = p.SeqNr + 1
		c.sendState()

	case stState:
		if c.state == StateSynSent {
			c.state = StateConnected
		}
		c.handleAck(p.AckNr)

	case stData:
		c.handleAck(p.AckNr)
		c.acceptData(p)

	case stFin:
		c.handleAck(p.AckNr)
		c.acceptData(p) // a FIN may carry a final payload
		c.sendState()
		c.state = StateClosed

	case stReset:
		c.log.Debugf("utp: connection %d reset by peer", c.connIDRecv)
		c.state = StateClosed
	}
	c.updateDelay(p)
}

// handleAck retires cumulatively-acked segments and drives the
// triple-duplicate-ack fast retransmit path.
func (c *Conn) handleAck(ackNr uint16) {
	for seq := range c.pending {
		if !seqLess(ackNr, seq) { // seq <= ackNr: cumulatively acked
			delete(c.pending, seq)
		}
	}
	if ackNr == c.lastAcked {
		if seg, ok := c.pending[ackNr+1]; ok {
			seg.dupAcks++
			if seg.dupAcks >= dupAckThreshold {
				seg.dupAcks = 0
				c.send(packet{header: header{Type: stData, Version: version, SeqNr: seg.seq, AckNr: c.nextExpected - 1}, Payload: seg.data})
			}
		}
	}
	c.lastAcked = ackNr
}

// acceptData buffers or delivers an incoming data payload, holding
// out-of-order segments in the reorder map until the missing prefix
// arrives (spec.md §4.5).
func (c *Conn) acceptData(p packet) {
	if len(p.Payload) == 0 {
		return
	}
	if p.SeqNr != c.nextExpected {
		if seqLess(c.nextExpected, p.SeqNr) {
			c.reorder[p.SeqNr] = p.Payload
		}
		return
	}
	c.deliverInOrder(p.Payload)
	c.nextExpected++
	for {
		chunk, ok := c.reorder[c.nextExpected]
		if !ok {
			break
		}
		delete(c.reorder, c.nextExpected)
		c.deliverInOrder(chunk)
		c.nextExpected++
	}
	c.sendState()
}

func (c *Conn) deliverInOrder(b []byte) {
	select {
	case c.readC <- b:
	case <-c.closedC:
	}
}

// updateDelay feeds LEDBAT's one-way delay estimate and adjusts cwnd:
// under the target, grow; over it, shrink (spec.md §4.5).
func (c *Conn) updateDelay(p packet) {
	delay := time.Duration(c.now32()-p.Timestamp) * time.Microsecond
	if c.baseDelay == 0 || delay < c.baseDelay {
		c.baseDelay = delay
	}
	offset := delay - c.baseDelay
	if offset < targetDelay {
		c.cwnd += 1024
	} else if c.cwnd > minCwnd+1024 {
		c.cwnd -= 1024
	}
}

// seqLess compares sequence numbers under 16-bit wraparound.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}
