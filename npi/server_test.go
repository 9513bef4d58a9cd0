package npi

import (
	"net"
	"testing"
	"time"

	"github.com/coprocbridge/mtnpi/bytestream"
	"github.com/coprocbridge/mtnpi/mtmsg"
)

// uartOptions reproduces the Options a Server derives from cfg for its UART
// MsgInterface, so a test can frame bytes exactly as the co-processor side
// would before writing them onto the simulated link.
func uartOptions(cfg Config) mtmsg.Options {
	o := mtmsg.DefaultOptions()
	for _, opt := range cfg.InterfaceOptions {
		opt(&o)
	}
	return o
}

func newTestServer(t *testing.T) (*Server, *bytestream.PipeStream) {
	t.Helper()
	coprocSide, serverSide := bytestream.NewPipePair()
	cfg := DefaultConfig()
	srv, err := NewServer(serverSide, cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv, coprocSide
}

// attachClient wires a net.Pipe connection into the server as acceptConn
// would, returning the client-side net.Conn for the test to read/write on.
func attachClient(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })
	srv.acceptConn(serverConn)
	return clientConn
}

func readFramedAREQ(t *testing.T, conn net.Conn, o *mtmsg.Options) *mtmsg.Message {
	t.Helper()
	hdrLen := o.HeaderLen()
	buf := make([]byte, 64)
	n := readExactly(t, conn, buf[:hdrLen])
	hdr, err := mtmsg.ParseHeader(buf[:n], o)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	total := hdrLen + hdr.PayloadLen + o.TrailerLen()
	readExactly(t, conn, buf[n:total])
	if !mtmsg.VerifyChecksum(buf, o, hdrLen, hdr.PayloadLen) {
		t.Fatalf("checksum mismatch on relayed frame")
	}
	msg := mtmsg.Alloc(hdr.PayloadLen, hdr.Cmd0, hdr.Cmd1)
	if err := msg.SetValidLen(total); err != nil {
		t.Fatalf("SetValidLen: %v", err)
	}
	copy(msg.RawBuf(), buf[:total])
	msg.SetCursor(hdrLen)
	return msg
}

func readExactly(t *testing.T, conn net.Conn, buf []byte) int {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := 0
	for got < len(buf) {
		n, err := conn.Read(buf[got:])
		got += n
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	return got
}

// TestServer_AREQFanOut is the spec's fan-out scenario: with N connected
// clients, one AREQ observed on the UART link is delivered to all of them,
// byte-equal to the original after being reframed for each socket.
func TestServer_AREQFanOut(t *testing.T) {
	srv, coproc := newTestServer(t)
	o := uartOptions(srv.cfg)

	const n = 3
	clients := make([]net.Conn, n)
	for i := range clients {
		clients[i] = attachClient(t, srv)
	}

	srv.wg.Add(1)
	go srv.fanOutLoop()
	// Give the fan-out loop and each connection's u2sLoop a moment to start
	// polling their queues.
	time.Sleep(30 * time.Millisecond)

	areq := mtmsg.Alloc(-1, (int(mtmsg.ClassAREQ)<<5)|0x01, 0x80)
	areq.WrU8(0xAA)
	areq.WrU8(0xBB)
	if err := mtmsg.Frame(areq, &o); err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if _, err := coproc.Write(areq.Bytes(), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("writing AREQ onto simulated UART: %v", err)
	}

	for i, conn := range clients {
		got := readFramedAREQ(t, conn, &o)
		if got.Cmd0 != areq.Cmd0 || got.Cmd1 != areq.Cmd1 {
			t.Fatalf("client %d: cmd0/cmd1 = %02x/%02x, want %02x/%02x", i, got.Cmd0, got.Cmd1, areq.Cmd0, areq.Cmd1)
		}
		payload := got.Payload(o.HeaderLen())[:got.ExpectedLen]
		if len(payload) != 2 || payload[0] != 0xAA || payload[1] != 0xBB {
			t.Fatalf("client %d: payload = % X, want AA BB", i, payload)
		}
	}
}

// TestServer_ResetCoprocessor exercises the reset handshake against a
// simulated co-processor that answers with SYS_RESET_IND.
func TestServer_ResetCoprocessor(t *testing.T) {
	srv, coproc := newTestServer(t)
	o := uartOptions(srv.cfg)

	go func() {
		buf := make([]byte, 64)
		hdrLen := o.HeaderLen()
		n, err := coproc.Read(buf[:hdrLen], time.Now().Add(2*time.Second))
		if err != nil || n != hdrLen {
			return
		}
		hdr, err := mtmsg.ParseHeader(buf[:hdrLen], &o)
		if err != nil {
			return
		}
		total := hdrLen + hdr.PayloadLen + o.TrailerLen()
		if _, err := coproc.Read(buf[hdrLen:total], time.Now().Add(2*time.Second)); err != nil {
			return
		}

		ind := mtmsg.Alloc(-1, (int(mtmsg.ClassAREQ)<<5)|0x01, 0x80)
		ind.WrU8(0) // reason
		ind.WrU8(2) // transport rev
		ind.WrU8(0) // product id
		ind.WrU8(1) // major
		ind.WrU8(0) // minor
		ind.WrU8(1) // hw rev
		if err := mtmsg.Frame(ind, &o); err != nil {
			return
		}
		_, _ = coproc.Write(ind.Bytes(), time.Now().Add(time.Second))
	}()

	if err := srv.ResetCoprocessor(2 * time.Second); err != nil {
		t.Fatalf("ResetCoprocessor: %v", err)
	}
}
