package peer

import (
	"net"
	"testing"
	"time"

	"github.com/riverweave/bitcore/bitfield"
	"github.com/riverweave/bitcore/internal/logger"
	"github.com/riverweave/bitcore/peerconn"
	"github.com/riverweave/bitcore/peerprotocol"
	"github.com/riverweave/bitcore/requestpipeline"
)

func newTestPeer(t *testing.T, fast bool) (*Peer, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	var ext peerprotocol.Extensions
	if fast {
		ext.Set(peerprotocol.ReservedBitFast)
	}
	conn := &peerconn.Conn{Conn: a, Extensions: ext}
	p := New(conn, 8, DefaultConfig, logger.New("test"))
	go p.Run()
	t.Cleanup(p.Close)
	return p, b
}

func readEvent(t *testing.T, p *Peer) Event {
	t.Helper()
	select {
	case ev := <-p.EventC:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func readWireMessage(t *testing.T, conn net.Conn, fast bool) peerprotocol.Message {
	t.Helper()
	done := make(chan struct {
		m   peerprotocol.Message
		err error
	}, 1)
	go func() {
		m, err := peerprotocol.ReadMessage(conn, peerprotocol.DefaultMaxMessageSize, peerprotocol.Features{Fast: fast})
		done <- struct {
			m   peerprotocol.Message
			err error
		}{m, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("ReadMessage: %v", r.err)
		}
		return r.m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wire message")
		return nil
	}
}

func TestBitfieldFirstMessageEmitsHaveBits(t *testing.T) {
	p, conn := newTestPeer(t, false)

	bf := bitfield.New(8)
	bf.Set(1)
	bf.Set(3)
	conn.Write(peerprotocol.Encode(peerprotocol.BitfieldMessage{Data: bf.Bytes()}))

	ev, ok := readEvent(t, p).(HaveBitsEvent)
	if !ok {
		t.Fatalf("expected HaveBitsEvent, got %#v", ev)
	}
	if len(ev.Indexes) != 2 || ev.Indexes[0] != 1 || ev.Indexes[1] != 3 {
		t.Fatalf("indexes = %v, want [1 3]", ev.Indexes)
	}
}

func TestBitfieldAfterFirstMessageIsFatal(t *testing.T) {
	p, conn := newTestPeer(t, false)

	conn.Write(peerprotocol.Encode(peerprotocol.ChokeMessage{}))
	if _, ok := readEvent(t, p).(PeerChokedEvent); !ok {
		t.Fatal("expected PeerChokedEvent for the first message")
	}

	conn.Write(peerprotocol.Encode(peerprotocol.BitfieldMessage{Data: bitfield.New(8).Bytes()}))
	ev, ok := readEvent(t, p).(TerminatedEvent)
	if !ok {
		t.Fatalf("expected TerminatedEvent, got %#v", ev)
	}
}

func TestRequestThenPieceDeliversBytes(t *testing.T) {
	p, conn := newTestPeer(t, false)

	resultC := make(chan RequestResult, 1)
	block := requestpipeline.Block{Index: 0, Begin: 0, Length: 4}
	p.CommandC <- RequestCommand{Block: block, ResultC: resultC}

	req := readWireMessage(t, conn, false).(peerprotocol.RequestMessage)
	if req.Index != 0 || req.Begin != 0 || req.Length != 4 {
		t.Fatalf("unexpected request on the wire: %+v", req)
	}

	res := <-resultC
	if res.Outcome != requestpipeline.Accepted {
		t.Fatalf("outcome = %v, want Accepted", res.Outcome)
	}

	conn.Write(peerprotocol.Encode(peerprotocol.PieceMessage{Index: 0, Begin: 0, Data: []byte("abcd")}))

	data, ok := res.Receiver.Recv()
	if !ok || string(data) != "abcd" {
		t.Fatalf("recv = %q, %v, want \"abcd\", true", data, ok)
	}
}

func TestChokeRejectsNonAllowedFastOutstanding(t *testing.T) {
	p, conn := newTestPeer(t, true)

	resultC := make(chan RequestResult, 1)
	block := requestpipeline.Block{Index: 2, Begin: 0, Length: 4}
	p.CommandC <- RequestCommand{Block: block, ResultC: resultC}
	readWireMessage(t, conn, true) // the Request frame
	res := <-resultC

	conn.Write(peerprotocol.Encode(peerprotocol.ChokeMessage{}))
	if _, ok := readEvent(t, p).(PeerChokedEvent); !ok {
		t.Fatal("expected PeerChokedEvent")
	}

	if _, ok := res.Receiver.Recv(); ok {
		t.Fatal("expected the outstanding request to be rejected on choke")
	}
}

func TestChokeWithoutFastBuffersForReplay(t *testing.T) {
	p, conn := newTestPeer(t, false)

	resultC := make(chan RequestResult, 1)
	block := requestpipeline.Block{Index: 2, Begin: 0, Length: 4}
	p.CommandC <- RequestCommand{Block: block, ResultC: resultC}
	readWireMessage(t, conn, false)
	<-resultC

	conn.Write(peerprotocol.Encode(peerprotocol.ChokeMessage{}))
	if _, ok := readEvent(t, p).(PeerChokedEvent); !ok {
		t.Fatal("expected PeerChokedEvent")
	}

	// Give the actor loop a moment to process the Choke before we peek
	// at its private state from this white-box test.
	time.Sleep(50 * time.Millisecond)
	if len(p.chokeBuffer) != 1 || p.chokeBuffer[0] != block {
		t.Fatalf("chokeBuffer = %v, want [%v] (buffered for replay, not rejected)", p.chokeBuffer, block)
	}
}

func TestIncomingRequestWhileChokingIsRejectedWithFastExtension(t *testing.T) {
	p, conn := newTestPeer(t, true)
	_ = p

	conn.Write(peerprotocol.Encode(peerprotocol.RequestMessage{Index: 0, Begin: 0, Length: 4}))
	msg := readWireMessage(t, conn, true)
	rej, ok := msg.(peerprotocol.RejectMessage)
	if !ok {
		t.Fatalf("expected RejectMessage, got %#v", msg)
	}
	if rej.Index != 0 || rej.Begin != 0 || rej.Length != 4 {
		t.Fatalf("unexpected reject fields: %+v", rej)
	}
}

func TestSetChokeCommandSendsUnchoke(t *testing.T) {
	p, conn := newTestPeer(t, false)

	p.CommandC <- SetChokeCommand{Choke: false}
	msg := readWireMessage(t, conn, false)
	if _, ok := msg.(peerprotocol.UnchokeMessage); !ok {
		t.Fatalf("expected UnchokeMessage, got %#v", msg)
	}
}

func TestPortCommandSuppressedWithoutDHT(t *testing.T) {
	p, conn := newTestPeer(t, false)

	p.CommandC <- SetPortCommand{Port: 6881}

	// Also send a real message so we have something to synchronize on:
	// if Port had been sent it would arrive first.
	p.CommandC <- SetChokeCommand{Choke: false}
	msg := readWireMessage(t, conn, false)
	if _, ok := msg.(peerprotocol.UnchokeMessage); !ok {
		t.Fatalf("expected the Unchoke (Port should have been suppressed), got %#v", msg)
	}
}
