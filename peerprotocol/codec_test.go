package peerprotocol

import (
	"bytes"
	"errors"
	"testing"
)

func roundTrip(t *testing.T, m Message, features Features) Message {
	t.Helper()
	frame := Encode(m)
	got, err := ReadMessage(bytes.NewReader(frame), DefaultMaxMessageSize, features)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return got
}

func TestRoundTripAllConstructors(t *testing.T) {
	allFeatures := Features{DHT: true, Fast: true, Extension: true}
	cases := []Message{
		ChokeMessage{},
		UnchokeMessage{},
		InterestedMessage{},
		NotInterestedMessage{},
		HaveMessage{Index: 7},
		BitfieldMessage{Data: []byte{0xff, 0x00}},
		RequestMessage{Index: 1, Begin: 2, Length: 3},
		PieceMessage{Index: 1, Begin: 2, Data: []byte("hello")},
		CancelMessage{Index: 1, Begin: 2, Length: 3},
		PortMessage{Port: 6881},
		HaveAllMessage{},
		HaveNoneMessage{},
		SuggestPieceMessage{Index: 4},
		AllowedFastMessage{Index: 5},
		RejectMessage{Index: 1, Begin: 2, Length: 3},
		ExtendedMessage{ExtendedID: 1, Payload: []byte{1, 2, 3}},
	}
	for _, m := range cases {
		got := roundTrip(t, m, allFeatures)
		want := Encode(m)
		reGot := Encode(got)
		if !bytes.Equal(want, reGot) {
			t.Errorf("round-trip mismatch for %T: got %x, want %x", m, reGot, want)
		}
	}
}

func TestHaveMessageFraming(t *testing.T) {
	// Literal scenario: 00000005 04 00000001 decodes to Have(1) and
	// re-encodes to the identical 9 bytes.
	frame := []byte{0, 0, 0, 5, 4, 0, 0, 0, 1}
	m, err := ReadMessage(bytes.NewReader(frame), DefaultMaxMessageSize, Features{})
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	have, ok := m.(HaveMessage)
	if !ok || have.Index != 1 {
		t.Fatalf("got %#v, want Have(1)", m)
	}
	if got := Encode(m); !bytes.Equal(got, frame) {
		t.Errorf("re-encoded = %x, want %x", got, frame)
	}
}

func TestDecodeUnknownID(t *testing.T) {
	// Literal scenario: 00000001 ff yields UnknownId(0xff).
	frame := []byte{0, 0, 0, 1, 0xff}
	_, err := ReadMessage(bytes.NewReader(frame), DefaultMaxMessageSize, Features{})
	var unk ErrUnknownID
	if !errors.As(err, &unk) || unk.ID != 0xff {
		t.Fatalf("got %v, want ErrUnknownID{0xff}", err)
	}
}

func TestDecodeSizeLimitExceeded(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = 0, 1, 0, 1 // 65537, one past the limit
	_, err := ReadMessage(bytes.NewReader(lenBuf[:]), DefaultMaxMessageSize, Features{})
	if !errors.Is(err, ErrSizeLimitExceeded) {
		t.Fatalf("got %v, want ErrSizeLimitExceeded", err)
	}
}

func TestDecodeKeepAlive(t *testing.T) {
	m, err := ReadMessage(bytes.NewReader(EncodeKeepAlive()), DefaultMaxMessageSize, Features{})
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := m.(KeepAliveMessage); !ok {
		t.Fatalf("got %#v, want KeepAliveMessage", m)
	}
}

func TestDecodeRejectsUnnegotiatedPort(t *testing.T) {
	frame := Encode(PortMessage{Port: 123})
	_, err := ReadMessage(bytes.NewReader(frame), DefaultMaxMessageSize, Features{DHT: false})
	if !errors.Is(err, ErrUnfeaturedMessage) {
		t.Fatalf("got %v, want ErrUnfeaturedMessage", err)
	}
}

func TestDecodeRejectsUnnegotiatedFastMessages(t *testing.T) {
	frame := Encode(HaveAllMessage{})
	_, err := ReadMessage(bytes.NewReader(frame), DefaultMaxMessageSize, Features{Fast: false})
	if !errors.Is(err, ErrUnfeaturedMessage) {
		t.Fatalf("got %v, want ErrUnfeaturedMessage", err)
	}
}
