package peer

import "errors"

// Fatal conditions (spec.md §4.4, §7): any of these terminates the
// actor and is reported to the orchestrator via TerminatedEvent.
var (
	ErrBitfieldNotFirst  = errors.New("peer: bitfield message was not the first message")
	ErrHaveAllNotFirst   = errors.New("peer: have_all/have_none was not the first message")
	ErrZeroLengthPiece   = errors.New("peer: unsolicited zero-length piece")
	ErrChokedRequest     = errors.New("peer: request violates choke/allowed-fast state")
	ErrKeepAliveTimeout  = errors.New("peer: no message received within the keep-alive window")
)
