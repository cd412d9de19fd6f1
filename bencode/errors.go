package bencode

import "errors"

// Sentinel decode errors, matching spec.md §4.1's failure modes.
var (
	ErrUnexpectedEOF   = errors.New("bencode: unexpected end of input")
	ErrBadInteger      = errors.New("bencode: non-canonical integer")
	ErrBadLength       = errors.New("bencode: invalid byte-string length prefix")
	ErrBadKeyType      = errors.New("bencode: dictionary key is not a byte string")
	ErrUnorderedKeys   = errors.New("bencode: dictionary keys are not in ascending order")
	ErrDuplicateKey    = errors.New("bencode: duplicate dictionary key")
	ErrTrailingData    = errors.New("bencode: trailing data after top-level value")
	ErrUnknownTypeByte = errors.New("bencode: unrecognized value type byte")
)
