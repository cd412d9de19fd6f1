// Package bencode implements the bencode grammar used throughout
// BitTorrent metadata and the DHT wire format: byte strings, integers,
// lists and dictionaries with lexicographically ordered keys.
package bencode

import "fmt"

// Kind identifies which of the four bencode variants a Value holds.
type Kind int

const (
	// KindString is a raw byte string.
	KindString Kind = iota
	// KindInt is a signed 64-bit integer.
	KindInt
	// KindList is an ordered sequence of values.
	KindList
	// KindDict is a mapping from byte-string keys to values, stored in
	// ascending lexicographic order.
	KindDict
)

// DictEntry is one key/value pair of a Dictionary, kept in the order
// they appear on the wire (ascending, for strict-decoded or freshly
// built values).
type DictEntry struct {
	Key   []byte
	Value Value
}

// Value is the recursive bencode sum type: a byte string, an integer, a
// list of values or a dictionary of values.
//
// A Value produced by Decode carries the exact byte range of the source
// buffer it was parsed from (Raw), so callers that need the original
// bytes of a nested value — most notably the info dictionary of a
// metainfo file, for SHA-1 hashing — never have to re-encode.
type Value struct {
	Kind Kind

	Str  []byte
	Int  int64
	List []Value
	Dict []DictEntry

	// Raw is the exact source slice this value was decoded from,
	// including its own length/type prefix and trailing 'e' where
	// applicable. It is nil for values built programmatically rather
	// than decoded.
	Raw []byte
}

// String returns the Value's string form, or a textual error marker if
// Kind is not KindString.
func (v Value) String() string {
	if v.Kind != KindString {
		return fmt.Sprintf("<bencode kind %d is not a string>", v.Kind)
	}
	return string(v.Str)
}

// Bytes returns the raw byte string, or nil if Kind is not KindString.
func (v Value) Bytes() []byte {
	if v.Kind != KindString {
		return nil
	}
	return v.Str
}

// Lookup returns the value stored under key in a dictionary, and
// whether it was present. It is a no-op (ok=false) on non-dictionaries.
func (v Value) Lookup(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	for _, e := range v.Dict {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// NewString builds a byte-string Value.
func NewString(b []byte) Value { return Value{Kind: KindString, Str: b} }

// NewInt builds an integer Value.
func NewInt(i int64) Value { return Value{Kind: KindInt, Int: i} }

// NewList builds a list Value.
func NewList(items ...Value) Value { return Value{Kind: KindList, List: items} }

// NewDict builds a dictionary Value from entries, sorting them into
// strict ascending key order as Encode requires.
func NewDict(entries ...DictEntry) Value {
	d := Value{Kind: KindDict, Dict: append([]DictEntry(nil), entries...)}
	sortEntries(d.Dict)
	return d
}

func sortEntries(entries []DictEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && string(entries[j].Key) < string(entries[j-1].Key); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
