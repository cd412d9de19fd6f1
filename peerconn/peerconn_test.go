package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/riverweave/bitcore/peerprotocol"
)

func fill(b byte) (out [20]byte) {
	for i := range out {
		out[i] = b
	}
	return
}

func TestDialAcceptHandshakePlain(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHash := fill(0x33)
	selfID := fill(0x11)
	peerID := fill(0x22)

	type result struct {
		c   *Conn
		err error
	}
	clientDone := make(chan result, 1)
	serverDone := make(chan result, 1)

	go func() {
		c, err := Dial(clientConn, peerprotocol.Extensions{}, selfID, infoHash, &peerID)
		clientDone <- result{c, err}
	}()
	go func() {
		c, err := Accept(serverConn, peerprotocol.Extensions{}, peerID, infoHash)
		serverDone <- result{c, err}
	}()

	var cr, sr result
	select {
	case cr = <-clientDone:
	case <-time.After(time.Second):
		t.Fatal("client side timed out")
	}
	select {
	case sr = <-serverDone:
	case <-time.After(time.Second):
		t.Fatal("server side timed out")
	}

	if cr.err != nil {
		t.Fatalf("client: %v", cr.err)
	}
	if sr.err != nil {
		t.Fatalf("server: %v", sr.err)
	}
	if cr.c.PeerID != peerID {
		t.Fatalf("client saw peer id %x, want %x", cr.c.PeerID, peerID)
	}
	if sr.c.PeerID != selfID {
		t.Fatalf("server saw peer id %x, want %x", sr.c.PeerID, selfID)
	}
	if cr.c.Features() != (peerprotocol.Features{}) {
		t.Fatalf("expected no features negotiated, got %+v", cr.c.Features())
	}
}

func TestDialAcceptHandshakeWithDHT(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	infoHash := fill(0x44)
	selfID := fill(0x11)
	peerID := fill(0x22)

	var ext peerprotocol.Extensions
	ext.Set(peerprotocol.ReservedBitDHT)

	clientDone := make(chan *Conn, 1)
	serverDone := make(chan *Conn, 1)
	go func() {
		c, err := Dial(clientConn, ext, selfID, infoHash, nil)
		if err != nil {
			t.Error(err)
		}
		clientDone <- c
	}()
	go func() {
		c, err := Accept(serverConn, ext, peerID, infoHash)
		if err != nil {
			t.Error(err)
		}
		serverDone <- c
	}()

	cc := <-clientDone
	sc := <-serverDone
	if !cc.Features().DHT || !sc.Features().DHT {
		t.Fatal("expected both sides to negotiate DHT")
	}
}
