package mtmsg

import "time"

// ByteStream is the duplex octet pipe an MsgInterface is bound to: a UART or
// an accepted TCP socket. It is an external collaborator (spec §6) — this
// package only consumes it; concrete implementations (TCP, UART, in-memory
// pipe) live in the sibling bytestream package.
//
// Every call must be interruptible by its deadline; Write must be atomic up
// to the returned n (a short write never splits a byte's encoding).
type ByteStream interface {
	// Read blocks until at least one byte is available, the deadline
	// passes, or an error occurs. A zero deadline means no bound.
	Read(buf []byte, deadline time.Time) (int, error)

	// Write blocks until all of buf is written, the deadline passes, or an
	// error occurs.
	Write(buf []byte, deadline time.Time) (int, error)

	// PollReadable returns nil once data is available to Read, or an error
	// (including a deadline-exceeded error) otherwise.
	PollReadable(deadline time.Time) error

	// Drain discards any immediately-available input, returning once the
	// stream is quiescent or the deadline passes.
	Drain(deadline time.Time) error

	// IsClosed reports whether the stream has been observed closed/broken.
	IsClosed() bool

	// Close releases the underlying transport.
	Close() error
}
