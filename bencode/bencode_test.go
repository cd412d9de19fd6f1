package bencode

import (
	"bytes"
	"crypto/sha1"
	"testing"
)

func TestEncodeString(t *testing.T) {
	got := Encode(NewString([]byte("spam")))
	want := []byte("4:spam")
	if !bytes.Equal(got, want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeInt(t *testing.T) {
	got := Encode(NewInt(42))
	want := []byte("i42e")
	if !bytes.Equal(got, want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeNegative(t *testing.T) {
	got := Encode(NewInt(-42))
	want := []byte("i-42e")
	if !bytes.Equal(got, want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeList(t *testing.T) {
	got := Encode(NewList(NewString([]byte("spam")), NewString([]byte("eggs"))))
	want := []byte("l4:spam4:eggse")
	if !bytes.Equal(got, want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeDictSorted(t *testing.T) {
	got := Encode(NewDict(
		DictEntry{Key: []byte("z"), Value: NewString([]byte("last"))},
		DictEntry{Key: []byte("a"), Value: NewString([]byte("first"))},
		DictEntry{Key: []byte("m"), Value: NewString([]byte("middle"))},
	))
	want := []byte("d1:a5:first1:m6:middle1:z4:laste")
	if !bytes.Equal(got, want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRoundTripStrictValid(t *testing.T) {
	cases := []string{
		"4:spam",
		"i42e",
		"i-42e",
		"i0e",
		"le",
		"l4:spam4:eggse",
		"de",
		"d3:cow3:moo4:spam4:eggse",
		"d1:a5:first1:m6:middle1:z4:laste",
		"d5:filesld3:bar3:bazee3:foo3:bare", // nested list of dicts plus a trailing key
	}
	for _, c := range cases {
		v, err := Decode([]byte(c), Strict)
		if err != nil {
			t.Fatalf("decode(%q): %v", c, err)
		}
		got := Encode(v)
		if string(got) != c {
			t.Errorf("encode(decode(%q)) = %q, want %q", c, got, c)
		}
	}
}

func TestDecodeRejectsLeadingZero(t *testing.T) {
	if _, err := Decode([]byte("i01e"), Strict); err == nil {
		t.Fatal("expected error decoding i01e")
	}
}

func TestDecodeRejectsNegativeZero(t *testing.T) {
	if _, err := Decode([]byte("i-0e"), Strict); err == nil {
		t.Fatal("expected error decoding i-0e")
	}
}

func TestDecodeRejectsUnorderedKeysStrict(t *testing.T) {
	if _, err := Decode([]byte("d1:z3:foo1:a3:bare"), Strict); err == nil {
		t.Fatal("expected error for unordered keys in strict mode")
	}
}

func TestDecodeAcceptsUnorderedKeysLenient(t *testing.T) {
	v, err := Decode([]byte("d1:z3:foo1:a3:bare"), Lenient)
	if err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if len(v.Dict) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(v.Dict))
	}
	// Raw preserves the exact (unordered) source bytes.
	if string(v.Raw) != "d1:z3:foo1:a3:bare" {
		t.Errorf("Raw = %q", v.Raw)
	}
}

func TestDecodeRejectsDuplicateKeyStrict(t *testing.T) {
	if _, err := Decode([]byte("d1:a3:foo1:a3:bare"), Strict); err == nil {
		t.Fatal("expected error for duplicate key in strict mode")
	}
}

func TestDecodeRejectsNonStringKey(t *testing.T) {
	if _, err := Decode([]byte("di1e3:fooe"), Strict); err == nil {
		t.Fatal("expected error for non-string dict key")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	if _, err := Decode([]byte("i1ei2e"), Strict); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestDecodeRejectsIncompleteData(t *testing.T) {
	cases := []string{"4:sp", "i42", "l4:spam", "d3:cow3:moo"}
	for _, c := range cases {
		if _, err := Decode([]byte(c), Strict); err == nil {
			t.Errorf("expected error decoding incomplete %q", c)
		}
	}
}

// TestRawInfoSliceHashing exercises the invariant that a nested value's
// Raw byte range can be hashed directly, reproducing the info-hash
// computation from the original metainfo bytes rather than a
// re-encoding of the parsed Value.
func TestRawInfoSliceHashing(t *testing.T) {
	infoBytes := "d6:lengthi100e4:name4:file12:piece lengthi16384e6:pieces20:01234567890123456789e"
	metainfo := "d8:announce5:http:4:info" + infoBytes + "e"
	v, err := Decode([]byte(metainfo), Strict)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	info, ok := v.Lookup("info")
	if !ok {
		t.Fatal("missing info key")
	}
	if string(info.Raw) != infoBytes {
		t.Fatalf("raw info slice = %q, want %q", info.Raw, infoBytes)
	}
	sum := sha1.Sum(info.Raw)
	if len(sum) != 20 {
		t.Fatalf("unexpected hash length %d", len(sum))
	}
}

func TestPEXDictionaryRoundTrip(t *testing.T) {
	// A PEX-shaped dictionary: compact added peers, their flags, the
	// IPv6 equivalents, and a dropped-peers list, five keys in
	// ascending order.
	built := NewDict(
		DictEntry{Key: []byte("added"), Value: NewString([]byte("\x7f\x00\x00\x01\x1f\x41\x7f\x00\x00\x03\x1f\x43"))},
		DictEntry{Key: []byte("added.f"), Value: NewString([]byte("\x00\x01"))},
		DictEntry{Key: []byte("added6"), Value: NewString([]byte("\x00\x01"))},
		DictEntry{Key: []byte("added6.f"), Value: NewString([]byte("\x00"))},
		DictEntry{Key: []byte("dropped"), Value: NewString([]byte("123456"))},
	)
	input := Encode(built)

	v, err := Decode(input, Strict)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.Dict) != 5 {
		t.Fatalf("expected 5 keys, got %d", len(v.Dict))
	}
	for i := 1; i < len(v.Dict); i++ {
		if string(v.Dict[i].Key) <= string(v.Dict[i-1].Key) {
			t.Fatalf("keys not strictly ascending: %q then %q", v.Dict[i-1].Key, v.Dict[i].Key)
		}
	}
	got := Encode(v)
	if !bytes.Equal(got, input) {
		t.Errorf("round-trip mismatch:\n got=%q\nwant=%q", got, input)
	}
}
