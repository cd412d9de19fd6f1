package peerprotocol

import (
	"bytes"
	"testing"
)

func fill(b byte) (out [20]byte) {
	for i := range out {
		out[i] = b
	}
	return
}

func TestHandshakePlainMode(t *testing.T) {
	infoHash := fill(0x33)
	selfID := fill(0x11)
	h := Handshake{InfoHash: infoHash, PeerID: selfID}

	var buf bytes.Buffer
	if err := WriteHandshake(&buf, h); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}

	want := append([]byte{19}, []byte(ProtocolString)...)
	want = append(want, make([]byte, 8)...)
	want = append(want, infoHash[:]...)
	want = append(want, selfID[:]...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x, want % x", buf.Bytes(), want)
	}

	expectedPeerID := fill(0x22)
	got, err := ReadHandshake(bytes.NewReader(append(append([]byte{19}, []byte(ProtocolString)...),
		append(append(make([]byte, 8), infoHash[:]...), expectedPeerID[:]...)...)),
		&infoHash, &expectedPeerID)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.PeerID != expectedPeerID {
		t.Fatalf("peer id = %x, want %x", got.PeerID, expectedPeerID)
	}
	if got.Extensions.HasDHT() || got.Extensions.HasFast() || got.Extensions.HasExtension() {
		t.Fatalf("expected no features, got %v", got.Extensions)
	}
}

func TestHandshakeWithDHTBit(t *testing.T) {
	var ext Extensions
	ext.Set(ReservedBitDHT)
	h := Handshake{Extensions: ext, InfoHash: fill(0x44), PeerID: fill(0x55)}

	var buf bytes.Buffer
	if err := WriteHandshake(&buf, h); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	if buf.Bytes()[1+len(ProtocolString)+7] != 0x01 {
		t.Fatalf("reserved byte 7 = %x, want 0x01", buf.Bytes()[1+len(ProtocolString)+7])
	}

	got, err := ReadHandshake(bytes.NewReader(buf.Bytes()), nil, nil)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if !got.Extensions.HasDHT() {
		t.Fatal("expected DHT feature to be negotiated")
	}
	if got.Extensions.HasFast() || got.Extensions.HasExtension() {
		t.Fatal("expected only DHT feature to be set")
	}
}

func TestReadHandshakeRejectsInfoHashMismatch(t *testing.T) {
	h := Handshake{InfoHash: fill(0x01), PeerID: fill(0x02)}
	var buf bytes.Buffer
	_ = WriteHandshake(&buf, h)

	want := fill(0x99)
	_, err := ReadHandshake(bytes.NewReader(buf.Bytes()), &want, nil)
	if err != ErrInfoHashMismatch {
		t.Fatalf("got %v, want ErrInfoHashMismatch", err)
	}
}

func TestReadHandshakeRejectsPeerIDMismatch(t *testing.T) {
	h := Handshake{InfoHash: fill(0x01), PeerID: fill(0x02)}
	var buf bytes.Buffer
	_ = WriteHandshake(&buf, h)

	want := fill(0x99)
	_, err := ReadHandshake(bytes.NewReader(buf.Bytes()), nil, &want)
	if err != ErrPeerIDMismatch {
		t.Fatalf("got %v, want ErrPeerIDMismatch", err)
	}
}
