package dht

import (
	"errors"
	"net"

	"github.com/riverweave/bitcore/bencode"
)

// Query method names (spec.md §4.7).
const (
	MethodPing         = "ping"
	MethodFindNode     = "find_node"
	MethodGetPeers     = "get_peers"
	MethodAnnouncePeer = "announce_peer"
)

var (
	ErrNotAnEnvelope = errors.New("dht: message is not a bencoded dictionary")
	ErrMissingField  = errors.New("dht: envelope missing a required field")
	ErrUnknownType   = errors.New("dht: envelope \"y\" is not q, r or e")
)

// Message is a decoded KRPC envelope. Exactly one of Args, Response,
// or Error is populated, selected by Type. Extra carries any
// dictionary keys Decode didn't recognize, preserved verbatim so a
// re-encode round-trips them (spec.md §4.7's "preserve unknown extra
// keys").
type Message struct {
	TransactionID []byte
	Type          string // "q", "r", or "e"
	Query         string // set when Type == "q"
	Args          bencode.Value
	Response      bencode.Value
	ErrorCode     int64
	ErrorMsg      string
	Version       []byte // optional "v"
	Extra         []bencode.DictEntry
}

// Decode parses a raw KRPC envelope.
func Decode(raw []byte) (Message, error) {
	top, err := bencode.Decode(raw, bencode.Lenient)
	if err != nil {
		return Message{}, err
	}
	if top.Kind != bencode.KindDict {
		return Message{}, ErrNotAnEnvelope
	}

	var m Message
	known := map[string]bool{"t": true, "y": true, "q": true, "a": true, "r": true, "e": true, "v": true}
	for _, e := range top.Dict {
		if !known[string(e.Key)] {
			m.Extra = append(m.Extra, e)
		}
	}

	t, ok := top.Lookup("t")
	if !ok {
		return Message{}, ErrMissingField
	}
	m.TransactionID = t.Bytes()

	y, ok := top.Lookup("y")
	if !ok {
		return Message{}, ErrMissingField
	}
	m.Type = y.String()

	if v, ok := top.Lookup("v"); ok {
		m.Version = v.Bytes()
	}

	switch m.Type {
	case "q":
		q, ok := top.Lookup("q")
		if !ok {
			return Message{}, ErrMissingField
		}
		m.Query = q.String()
		if a, ok := top.Lookup("a"); ok {
			m.Args = a
		}
	case "r":
		if r, ok := top.Lookup("r"); ok {
			m.Response = r
		}
	case "e":
		e, ok := top.Lookup("e")
		if !ok || e.Kind != bencode.KindList || len(e.List) != 2 {
			return Message{}, ErrMissingField
		}
		m.ErrorCode = e.List[0].Int
		m.ErrorMsg = e.List[1].String()
	default:
		return Message{}, ErrUnknownType
	}
	return m, nil
}

// Encode re-serializes m, placing Extra's entries alongside the
// envelope's own keys so unknown fields round-trip.
func Encode(m Message) []byte {
	entries := []bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.NewString(m.TransactionID)},
		{Key: []byte("y"), Value: bencode.NewString([]byte(m.Type))},
	}
	switch m.Type {
	case "q":
		entries = append(entries,
			bencode.DictEntry{Key: []byte("q"), Value: bencode.NewString([]byte(m.Query))},
			bencode.DictEntry{Key: []byte("a"), Value: m.Args},
		)
	case "r":
		entries = append(entries, bencode.DictEntry{Key: []byte("r"), Value: m.Response})
	case "e":
		entries = append(entries, bencode.DictEntry{
			Key:   []byte("e"),
			Value: bencode.NewList(bencode.NewInt(m.ErrorCode), bencode.NewString([]byte(m.ErrorMsg))),
		})
	}
	if m.Version != nil {
		entries = append(entries, bencode.DictEntry{Key: []byte("v"), Value: bencode.NewString(m.Version)})
	}
	entries = append(entries, m.Extra...)
	return bencode.Encode(bencode.NewDict(entries...))
}

// NewPing builds a ping query envelope.
func NewPing(txID []byte, self ID) Message {
	return Message{
		TransactionID: txID,
		Type:          "q",
		Query:         MethodPing,
		Args:          bencode.NewDict(bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])}),
	}
}

// NewPingResponse builds the reciprocal "r" envelope for a ping.
func NewPingResponse(txID []byte, self ID) Message {
	return Message{
		TransactionID: txID,
		Type:          "r",
		Response:      bencode.NewDict(bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])}),
	}
}

// NewFindNode builds a find_node query for target.
func NewFindNode(txID []byte, self, target ID) Message {
	return Message{
		TransactionID: txID,
		Type:          "q",
		Query:         MethodFindNode,
		Args: bencode.NewDict(
			bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])},
			bencode.DictEntry{Key: []byte("target"), Value: bencode.NewString(target[:])},
		),
	}
}

// NewFindNodeResponse builds the "nodes" response to a find_node
// query, given the closest contacts the table knows about.
func NewFindNodeResponse(txID []byte, self ID, contacts []Contact) Message {
	var nodes []byte
	for _, c := range contacts {
		nodes = append(nodes, EncodeCompactNode(c)...)
	}
	return Message{
		TransactionID: txID,
		Type:          "r",
		Response: bencode.NewDict(
			bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])},
			bencode.DictEntry{Key: []byte("nodes"), Value: bencode.NewString(nodes)},
		),
	}
}

// NewGetPeers builds a get_peers query for infoHash.
func NewGetPeers(txID []byte, self, infoHash ID) Message {
	return Message{
		TransactionID: txID,
		Type:          "q",
		Query:         MethodGetPeers,
		Args: bencode.NewDict(
			bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])},
			bencode.DictEntry{Key: []byte("info_hash"), Value: bencode.NewString(infoHash[:])},
		),
	}
}

// NewGetPeersResponseNodes builds a get_peers response carrying the
// closest known nodes (no peers known for this info hash yet), with
// an opaque token the querier must echo back on announce_peer.
func NewGetPeersResponseNodes(txID []byte, self ID, token []byte, contacts []Contact) Message {
	var nodes []byte
	for _, c := range contacts {
		nodes = append(nodes, EncodeCompactNode(c)...)
	}
	return Message{
		TransactionID: txID,
		Type:          "r",
		Response: bencode.NewDict(
			bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])},
			bencode.DictEntry{Key: []byte("token"), Value: bencode.NewString(token)},
			bencode.DictEntry{Key: []byte("nodes"), Value: bencode.NewString(nodes)},
		),
	}
}

// NewGetPeersResponsePeers builds a get_peers response carrying
// known peers for the queried info hash.
func NewGetPeersResponsePeers(txID []byte, self ID, token []byte, peers []net.TCPAddr) Message {
	values := make([]bencode.Value, len(peers))
	for i, p := range peers {
		values[i] = bencode.NewString(EncodeCompactPeer(p.IP, uint16(p.Port)))
	}
	return Message{
		TransactionID: txID,
		Type:          "r",
		Response: bencode.NewDict(
			bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])},
			bencode.DictEntry{Key: []byte("token"), Value: bencode.NewString(token)},
			bencode.DictEntry{Key: []byte("values"), Value: bencode.NewList(values...)},
		),
	}
}

// NewAnnouncePeer builds an announce_peer query.
func NewAnnouncePeer(txID []byte, self, infoHash ID, port uint16, token []byte) Message {
	return Message{
		TransactionID: txID,
		Type:          "q",
		Query:         MethodAnnouncePeer,
		Args: bencode.NewDict(
			bencode.DictEntry{Key: []byte("id"), Value: bencode.NewString(self[:])},
			bencode.DictEntry{Key: []byte("info_hash"), Value: bencode.NewString(infoHash[:])},
			bencode.DictEntry{Key: []byte("port"), Value: bencode.NewInt(int64(port))},
			bencode.DictEntry{Key: []byte("token"), Value: bencode.NewString(token)},
		),
	}
}

// NewError builds an "e" envelope.
func NewError(txID []byte, code int64, msg string) Message {
	return Message{TransactionID: txID, Type: "e", ErrorCode: code, ErrorMsg: msg}
}
