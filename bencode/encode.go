package bencode

import (
	"bytes"
	"strconv"
)

// Encode serializes v deterministically. Dictionary entries are always
// written in ascending key order regardless of the order they were
// built or decoded in, which is what makes Encode(Decode(b)) == b for
// every strict-valid b: a strict decode already enforces ascending,
// duplicate-free keys, so re-sorting is a no-op on strict input.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.Str)))
		buf.WriteByte(':')
		buf.Write(v.Str)
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			writeValue(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		entries := append([]DictEntry(nil), v.Dict...)
		sortEntries(entries)
		for _, e := range entries {
			buf.WriteString(strconv.Itoa(len(e.Key)))
			buf.WriteByte(':')
			buf.Write(e.Key)
			writeValue(buf, e.Value)
		}
		buf.WriteByte('e')
	}
}
