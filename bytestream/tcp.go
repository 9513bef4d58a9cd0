// Package bytestream provides the mtmsg.ByteStream implementations an
// MsgInterface is bound to: an accepted TCP connection (one per NPI client),
// a UART device (the co-processor link), and an in-memory pipe for tests.
package bytestream

import (
	"bufio"
	"net"
	"time"

	"github.com/coprocbridge/mtnpi/mtmsg"
)

// TCPStream adapts a net.Conn to mtmsg.ByteStream. Reads go through a
// bufio.Reader so PollReadable/Drain can observe readability without
// consuming bytes the RX worker still needs.
type TCPStream struct {
	conn   net.Conn
	br     *bufio.Reader
	closed bool
}

// NewTCPStream wraps an already-accepted or already-dialed connection.
func NewTCPStream(conn net.Conn) *TCPStream {
	return &TCPStream{conn: conn, br: bufio.NewReader(conn)}
}

func asTimeout(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return mtmsg.ErrTimeout
	}
	return err
}

func (s *TCPStream) Read(buf []byte, deadline time.Time) (int, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := s.br.Read(buf)
	if err != nil {
		return n, asTimeout(err)
	}
	return n, nil
}

func (s *TCPStream) Write(buf []byte, deadline time.Time) (int, error) {
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	total := 0
	for total < len(buf) {
		n, err := s.conn.Write(buf[total:])
		total += n
		if err != nil {
			return total, asTimeout(err)
		}
	}
	return total, nil
}

func (s *TCPStream) PollReadable(deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	if s.br.Buffered() > 0 {
		return nil
	}
	_, err := s.br.Peek(1)
	return asTimeout(err)
}

func (s *TCPStream) Drain(deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	for {
		if s.br.Buffered() > 0 {
			if _, err := s.br.Discard(s.br.Buffered()); err != nil {
				return asTimeout(err)
			}
			continue
		}
		if _, err := s.br.Peek(1); err != nil {
			if te := asTimeout(err); te == mtmsg.ErrTimeout {
				return nil
			}
			return asTimeout(err)
		}
	}
}

func (s *TCPStream) IsClosed() bool { return s.closed }

func (s *TCPStream) Close() error {
	s.closed = true
	return s.conn.Close()
}
