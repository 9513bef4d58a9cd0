package bytestream

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/iox"

	"github.com/coprocbridge/mtnpi/mtmsg"
)

// PipeStream is an in-memory mtmsg.ByteStream backed by io.Pipe, grounded on
// hayabusa-cloud-framer's NewPipe (framer.go) but made full-duplex (one
// io.Pipe per direction) and deadline-aware, since MsgInterface needs
// bounded reads at several granularities that a bare io.Pipe cannot express.
//
// A background goroutine continuously drains the underlying PipeReader into
// dataCh so TryRead can probe for data without blocking — the one place in
// this module iox.ErrWouldBlock is genuinely returned, mirroring the
// teacher's own "non-blocking first" framer design for the one component
// (an in-memory test fixture) where that philosophy still fits naturally
// alongside this package's otherwise deadline-blocking ByteStream contract.
type PipeStream struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	dataCh  chan []byte
	closeCh chan struct{}
	closed  atomic.Bool

	mu      sync.Mutex
	pending []byte
}

// NewPipePair returns two PipeStreams wired back to back: bytes written to a
// are read from b and vice versa. It is meant for tests that need a
// ByteStream without a real UART or socket.
func NewPipePair() (a, b *PipeStream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	a = newPipeStream(r1, w2)
	b = newPipeStream(r2, w1)
	return a, b
}

func newPipeStream(pr *io.PipeReader, pw *io.PipeWriter) *PipeStream {
	s := &PipeStream{
		pr:      pr,
		pw:      pw,
		dataCh:  make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *PipeStream) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pr.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.dataCh <- chunk:
			case <-s.closeCh:
				return
			}
		}
		if err != nil {
			close(s.dataCh)
			return
		}
	}
}

// Read blocks until data is available, deadline passes, or the pipe closes.
func (s *PipeStream) Read(buf []byte, deadline time.Time) (int, error) {
	if n := s.takePending(buf); n > 0 {
		return n, nil
	}

	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case chunk, ok := <-s.dataCh:
		if !ok {
			return 0, io.EOF
		}
		return s.consumeChunk(chunk, buf), nil
	case <-timeoutCh:
		return 0, mtmsg.ErrTimeout
	case <-s.closeCh:
		return 0, io.ErrClosedPipe
	}
}

// TryRead is a non-blocking probe: it returns iox.ErrWouldBlock immediately
// if no data is currently buffered, instead of waiting.
func (s *PipeStream) TryRead(buf []byte) (int, error) {
	if n := s.takePending(buf); n > 0 {
		return n, nil
	}
	select {
	case chunk, ok := <-s.dataCh:
		if !ok {
			return 0, io.EOF
		}
		return s.consumeChunk(chunk, buf), nil
	default:
		return 0, iox.ErrWouldBlock
	}
}

func (s *PipeStream) takePending(buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n
}

func (s *PipeStream) consumeChunk(chunk, buf []byte) int {
	n := copy(buf, chunk)
	if n < len(chunk) {
		s.mu.Lock()
		s.pending = append(chunk[n:], s.pending...)
		s.mu.Unlock()
	}
	return n
}

// Write blocks until the peer's reader has consumed the whole of buf, the
// deadline passes, or the pipe closes. A timed-out write may still land
// later on the peer once a reader arrives; this fixture is for deterministic
// tests driven by a single goroutine pair, not a general-purpose transport.
func (s *PipeStream) Write(buf []byte, deadline time.Time) (int, error) {
	if deadline.IsZero() {
		return s.pw.Write(buf)
	}
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := s.pw.Write(buf)
		ch <- result{n, err}
	}()
	t := time.NewTimer(time.Until(deadline))
	defer t.Stop()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-t.C:
		return 0, mtmsg.ErrTimeout
	}
}

func (s *PipeStream) PollReadable(deadline time.Time) error {
	s.mu.Lock()
	havePending := len(s.pending) > 0
	s.mu.Unlock()
	if havePending {
		return nil
	}
	var b [1]byte
	n, err := s.Read(b[:], deadline)
	if err != nil {
		return err
	}
	if n > 0 {
		s.mu.Lock()
		s.pending = append(b[:n], s.pending...)
		s.mu.Unlock()
	}
	return nil
}

func (s *PipeStream) Drain(deadline time.Time) error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	var b [256]byte
	for {
		_, err := s.TryRead(b[:])
		if err == iox.ErrWouldBlock || err == io.EOF {
			return nil
		}
		if err != nil {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil
		}
	}
}

func (s *PipeStream) IsClosed() bool { return s.closed.Load() }

func (s *PipeStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.closeCh)
	_ = s.pr.Close()
	return s.pw.Close()
}
