package peer

import (
	"github.com/riverweave/bitcore/bitfield"
	"github.com/riverweave/bitcore/peerprotocol"
	"github.com/riverweave/bitcore/requestpipeline"
)

// handleMessage applies one incoming wire message to the actor's
// state, implementing the transition table of spec.md §4.4. A non-nil
// return is always a fatal condition (spec.md §7) that tears the
// connection down.
func (p *Peer) handleMessage(m peerprotocol.Message) error {
	_, isBitfieldOrHaveX := m.(peerprotocol.BitfieldMessage)
	_, isHaveAll := m.(peerprotocol.HaveAllMessage)
	_, isHaveNone := m.(peerprotocol.HaveNoneMessage)
	mustBeFirst := isBitfieldOrHaveX || isHaveAll || isHaveNone

	if !p.firstMessage && mustBeFirst {
		if isBitfieldOrHaveX {
			return ErrBitfieldNotFirst
		}
		return ErrHaveAllNotFirst
	}
	defer func() { p.firstMessage = false }()

	switch msg := m.(type) {
	case peerprotocol.ChokeMessage:
		p.peerChoking = true
		// Fast extension: anything outstanding that isn't in our
		// allowed-fast set is implicitly rejected; the rest stays live.
		for _, b := range p.drainNonAllowedFast() {
			p.outbound.Reject(b)
		}
		p.EventC <- PeerChokedEvent{}

	case peerprotocol.UnchokeMessage:
		p.peerChoking = false
		p.EventC <- PeerUnchokedEvent{}

	case peerprotocol.InterestedMessage:
		p.peerInterested = true

	case peerprotocol.NotInterestedMessage:
		p.peerInterested = false

	case peerprotocol.HaveMessage:
		if msg.Index >= p.numPieces {
			return peerprotocol.ErrInvalidLength
		}
		p.peerBitfield.Set(msg.Index)
		p.EventC <- HaveBitsEvent{Indexes: []uint32{msg.Index}}

	case peerprotocol.BitfieldMessage:
		bf := bitfield.NewBytes(msg.Data, p.numPieces)
		p.peerBitfield = bf
		var idx []uint32
		for i := uint32(0); i < bf.Len(); i++ {
			if bf.Test(i) {
				idx = append(idx, i)
			}
		}
		if len(idx) > 0 {
			p.EventC <- HaveBitsEvent{Indexes: idx}
		}

	case peerprotocol.HaveAllMessage:
		p.peerBitfield.SetAll()
		p.EventC <- HaveBitsEvent{All: true}

	case peerprotocol.HaveNoneMessage:
		p.EventC <- HaveBitsEvent{None: true}

	case peerprotocol.SuggestPieceMessage:
		// Advisory only; spec.md names no required action beyond
		// delivery, left to the orchestrator's piece-picker.

	case peerprotocol.AllowedFastMessage:
		p.peerAllowedFast[msg.Index] = true

	case peerprotocol.RequestMessage:
		return p.handleRequest(msg)

	case peerprotocol.PieceMessage:
		if len(msg.Data) == 0 {
			return ErrZeroLengthPiece
		}
		b := requestpipeline.Block{Index: msg.Index, Begin: msg.Begin, Length: uint32(len(msg.Data))}
		if p.outbound.Dequeue(b, msg.Data) {
			p.bytesDown.Inc(int64(len(msg.Data)))
		}
		// An unmatched Piece (unknown request) is non-fatal, spec.md §7.

	case peerprotocol.CancelMessage:
		b := requestpipeline.Block{Index: msg.Index, Begin: msg.Begin, Length: msg.Length}
		if respC, ok := p.uploading[b]; ok {
			close(respC)
			delete(p.uploading, b)
		}

	case peerprotocol.RejectMessage:
		b := requestpipeline.Block{Index: msg.Index, Begin: msg.Begin, Length: msg.Length}
		p.outbound.Reject(b)

	case peerprotocol.PortMessage:
		p.EventC <- PortEvent{Port: msg.Port}

	case peerprotocol.ExtendedMessage:
		p.EventC <- ExtendedEvent{ExtendedID: msg.ExtendedID, Payload: msg.Payload}
	}

	return nil
}

// handleRequest applies the Request transition (spec.md §4.4): if we
// are choking the peer and the index isn't in our advertised
// allowed-fast set, either Reject (fast extension active) or silently
// drop it; otherwise it is forwarded to the orchestrator as a
// BlockReadyForUploadEvent.
func (p *Peer) handleRequest(msg peerprotocol.RequestMessage) error {
	b := requestpipeline.Block{Index: msg.Index, Begin: msg.Begin, Length: msg.Length}
	if p.amChoking && !p.allowedFast[msg.Index] {
		if p.conn.Features().Fast {
			p.sendMessage(peerprotocol.RejectMessage{Index: msg.Index, Begin: msg.Begin, Length: msg.Length})
		}
		return nil
	}
	respC := make(chan []byte, 1)
	p.uploading[b] = respC
	p.EventC <- BlockReadyForUploadEvent{Block: b, ResponseC: respC}
	go p.awaitUpload(b, respC)
	return nil
}

// awaitUpload waits off the actor's loop for the orchestrator's
// response to one upload request and writes the Piece directly to the
// wire; conn.Write is safe to call concurrently with the actor's own
// reads (net.Conn permits concurrent Read/Write).
func (p *Peer) awaitUpload(b requestpipeline.Block, respC chan []byte) {
	defer func() {
		select {
		case p.uploadDoneC <- b:
		case <-p.closeC:
		}
	}()
	data, ok := <-respC
	if !ok || data == nil {
		if p.conn.Features().Fast {
			frame := peerprotocol.Encode(peerprotocol.RejectMessage{Index: b.Index, Begin: b.Begin, Length: b.Length})
			p.writeMu.Lock()
			p.conn.Write(frame)
			p.writeMu.Unlock()
		}
		return
	}
	frame := peerprotocol.Encode(peerprotocol.PieceMessage{Index: b.Index, Begin: b.Begin, Data: data})
	p.writeMu.Lock()
	_, err := p.conn.Write(frame)
	p.writeMu.Unlock()
	if err == nil {
		p.bytesUp.Inc(int64(len(data)))
	}
}

// drainNonAllowedFast removes every outstanding request that isn't in
// peerAllowedFast (the set the remote told us it would serve even
// while choking) and returns it, for implicit rejection on Choke.
func (p *Peer) drainNonAllowedFast() []requestpipeline.Block {
	all := p.outbound.Drain()
	if !p.conn.Features().Fast {
		// No fast extension: the whole outstanding queue is buffered
		// for replay on Unchoke, nothing rejected outright.
		p.chokeBuffer = append(p.chokeBuffer, all...)
		return nil
	}
	var rejected []requestpipeline.Block
	for _, b := range all {
		if p.peerAllowedFast[b.Index] {
			p.chokeBuffer = append(p.chokeBuffer, b)
			continue
		}
		rejected = append(rejected, b)
	}
	return rejected
}

// handleCommand applies one orchestrator-issued Command.
func (p *Peer) handleCommand(c Command) {
	switch cmd := c.(type) {
	case SetChokeCommand:
		if cmd.Choke == p.amChoking {
			return
		}
		p.amChoking = cmd.Choke
		if cmd.Choke {
			p.sendMessage(peerprotocol.ChokeMessage{})
		} else {
			p.sendMessage(peerprotocol.UnchokeMessage{})
		}

	case SetInterestedCommand:
		if cmd.Interested == p.amInterested {
			return
		}
		p.amInterested = cmd.Interested
		if cmd.Interested {
			p.sendMessage(peerprotocol.InterestedMessage{})
		} else {
			p.sendMessage(peerprotocol.NotInterestedMessage{})
		}

	case AdvertiseCommand:
		switch {
		case cmd.HaveAll:
			p.sendMessage(peerprotocol.HaveAllMessage{})
		case cmd.HaveNone:
			p.sendMessage(peerprotocol.HaveNoneMessage{})
		case cmd.Bitfield != nil:
			p.sendMessage(peerprotocol.BitfieldMessage{Data: cmd.Bitfield.Bytes()})
		case cmd.Have != nil:
			p.sendMessage(peerprotocol.HaveMessage{Index: *cmd.Have})
		}

	case RequestCommand:
		outcome, recv := p.outbound.Enqueue(cmd.Block)
		if outcome == requestpipeline.Accepted {
			p.sendMessage(peerprotocol.RequestMessage{
				Index: cmd.Block.Index, Begin: cmd.Block.Begin, Length: cmd.Block.Length,
			})
		}
		select {
		case cmd.ResultC <- RequestResult{Outcome: outcome, Receiver: recv}:
		case <-p.closeC:
		}

	case SetPortCommand:
		if p.conn.Features().DHT {
			p.sendMessage(peerprotocol.PortMessage{Port: cmd.Port})
		}
	}
}
