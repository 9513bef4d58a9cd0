// Package mtmsg implements the Monitor/Test (MT) message transport: framing,
// fragmentation, and the synchronous/asynchronous request machinery that a
// host uses to drive an IEEE 802.15.4 co-processor over a byte stream.
package mtmsg

import "errors"

var (
	// ErrInvalidArgument reports a nil stream or an inconsistent configuration.
	ErrInvalidArgument = errors.New("mtmsg: invalid argument")

	// ErrTooLong reports a payload that exceeds the wire format or a configured limit.
	ErrTooLong = errors.New("mtmsg: message too long")

	// ErrShortBuffer reports a message buffer too small to hold a frame.
	ErrShortBuffer = errors.New("mtmsg: short buffer")

	// ErrBadChecksum reports a checksum mismatch on a framed message.
	ErrBadChecksum = errors.New("mtmsg: bad checksum")

	// ErrParseIncomplete reports that the cursor did not reach the end of the
	// declared payload once parsing was asked to complete.
	ErrParseIncomplete = errors.New("mtmsg: incomplete parse")

	// ErrTimeout reports that a bounded wait (SRSP, fragment ACK, tx-lock,
	// list remove) expired before the awaited event occurred.
	ErrTimeout = errors.New("mtmsg: timeout")

	// ErrInterfaceDead reports that the interface has been torn down, or the
	// underlying ByteStream reported a fatal error; every subsequent send
	// (Send, SendAndWait, Forward, ForwardAndWait) on the interface returns
	// this error. RemoveWait on a dead interface returns ErrTimeout.
	ErrInterfaceDead = errors.New("mtmsg: interface is dead")

	// ErrTxBusy reports that a send() or sendAndWait() call is already in
	// flight and the tx-lock could not be acquired within its timeout.
	ErrTxBusy = errors.New("mtmsg: cannot transmit, tx lock busy")

	// ErrSRSPPending reports an attempt to issue a second SREQ while one is
	// already awaiting its SRSP on the same interface.
	ErrSRSPPending = errors.New("mtmsg: SREQ already pending")

	// ErrFragAborted reports that a fragmented transfer was aborted, either
	// locally (too many retries, local error) or by the peer's ext-status.
	ErrFragAborted = errors.New("mtmsg: fragment transfer aborted")

	// ErrOutOfOrder reports a fragment block received out of sequence.
	ErrOutOfOrder = errors.New("mtmsg: fragment block out of order")

	// ErrBlockLenChanged reports a fragment block whose size disagrees with
	// the size established by the first block of the session.
	ErrBlockLenChanged = errors.New("mtmsg: fragment block length changed")
)
