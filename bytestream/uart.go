package bytestream

import (
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/coprocbridge/mtnpi/mtmsg"
)

// UARTStream adapts a tarm/serial port to mtmsg.ByteStream, grounded on the
// other_examples usock.go's use of the same library for a framed
// co-processor link. tarm/serial exposes no per-call deadline or peek, only
// a port-wide ReadTimeout set at open time that makes a timed-out Read
// return (0, nil); UARTStream loops on that until its own deadline passes,
// and keeps a small holdback buffer so PollReadable can probe for data
// without losing the byte it finds.
type UARTStream struct {
	port *serial.Port

	mu       sync.Mutex
	closed   bool
	holdback []byte
}

// UARTConfig mirrors the handful of serial.Config fields the co-processor
// link needs; ReadTimeout bounds the granularity at which deadlines above
// are checked, not the deadlines themselves.
type UARTConfig struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// OpenUART opens the serial device and wraps it as an mtmsg.ByteStream.
func OpenUART(cfg UARTConfig) (*UARTStream, error) {
	pollInterval := cfg.ReadTimeout
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.BaudRate,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: pollInterval,
	})
	if err != nil {
		return nil, err
	}
	return &UARTStream{port: port}, nil
}

func (s *UARTStream) Read(buf []byte, deadline time.Time) (int, error) {
	s.mu.Lock()
	if len(s.holdback) > 0 {
		n := copy(buf, s.holdback)
		s.holdback = s.holdback[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	for {
		n, err := s.port.Read(buf)
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return 0, mtmsg.ErrTimeout
		}
	}
}

func (s *UARTStream) Write(buf []byte, deadline time.Time) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.port.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if total < len(buf) && !deadline.IsZero() && !time.Now().Before(deadline) {
			return total, mtmsg.ErrTimeout
		}
	}
	return total, nil
}

// PollReadable reads one byte and, if one arrived before deadline, stashes
// it in the holdback buffer so the next Read still observes it.
func (s *UARTStream) PollReadable(deadline time.Time) error {
	s.mu.Lock()
	if len(s.holdback) > 0 {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var b [1]byte
	n, err := s.Read(b[:], deadline)
	if err != nil {
		return err
	}
	if n > 0 {
		s.mu.Lock()
		s.holdback = append(s.holdback, b[:n]...)
		s.mu.Unlock()
	}
	return nil
}

// Drain discards the holdback buffer and any immediately-available input
// until the port reports idle (a zero-byte, nil-error read) or deadline
// passes.
func (s *UARTStream) Drain(deadline time.Time) error {
	s.mu.Lock()
	s.holdback = nil
	s.mu.Unlock()

	var b [256]byte
	for {
		n, err := s.port.Read(b[:])
		if err != nil {
			return nil
		}
		if n == 0 {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil
		}
	}
}

func (s *UARTStream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *UARTStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.port.Close()
}
