package mtmsg_test

import (
	"testing"
	"time"

	"github.com/coprocbridge/mtnpi/bytestream"
	"github.com/coprocbridge/mtnpi/mtmsg"
)

func pairedIfaces(t *testing.T, opts ...mtmsg.Option) (a, b *mtmsg.MsgInterface) {
	t.Helper()
	sa, sb := bytestream.NewPipePair()

	baseOpts := []mtmsg.Option{mtmsg.WithIntermsgTimeout(20 * time.Millisecond)}
	baseOpts = append(baseOpts, opts...)

	aOpts := append([]mtmsg.Option{mtmsg.WithDbgName("a")}, baseOpts...)
	bOpts := append([]mtmsg.Option{mtmsg.WithDbgName("b")}, baseOpts...)

	var err error
	a, err = mtmsg.Create(sa, aOpts...)
	if err != nil {
		t.Fatalf("Create(a): %v", err)
	}
	b, err = mtmsg.Create(sb, bOpts...)
	if err != nil {
		t.Fatalf("Create(b): %v", err)
	}
	t.Cleanup(a.Destroy)
	t.Cleanup(b.Destroy)
	return a, b
}

// TestSREQSRSPRoundTrip exercises the version-request scenario: one side
// issues an SREQ and blocks for its SRSP while the other plays responder.
func TestSREQSRSPRoundTrip(t *testing.T) {
	client, server := pairedIfaces(t)

	go func() {
		req, err := server.RemoveWait(2 * time.Second)
		if err != nil {
			return
		}
		srsp := mtmsg.Alloc(-1, (int(mtmsg.ClassSRSP)<<5)|req.SubsystemID(), req.Cmd1)
		srsp.WrU8(1)
		srsp.WrU8(2)
		srsp.WrU8(3)
		srsp.WrU8(4)
		srsp.WrU8(5)
		srsp.WrU32(0x00010203)
		_, _ = server.Send(srsp)
	}()

	srsp, err := client.SendAndWait(mtmsg.NewSysVersionReq())
	if err != nil {
		t.Fatalf("SendAndWait: %v", err)
	}
	info, err := mtmsg.ParseSysVersionSrsp(srsp)
	if err != nil {
		t.Fatalf("ParseSysVersionSrsp: %v", err)
	}
	if info.TransportRev != 1 || info.ProductID != 2 {
		t.Fatalf("unexpected VersionInfo: %+v", info)
	}
}

// TestSendAndWait_TimesOutWithoutSRSP matches the spec's SRSP-timeout
// scenario: nobody ever answers the SREQ, and the caller gets ErrTimeout
// back rather than blocking forever.
func TestSendAndWait_TimesOutWithoutSRSP(t *testing.T) {
	client, _ := pairedIfaces(t, mtmsg.WithSRSPTimeout(30*time.Millisecond))

	_, err := client.SendAndWait(mtmsg.NewSysVersionReq())
	if err != mtmsg.ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

// TestSendAndWait_RejectsConcurrentSREQ checks the "at most one outstanding
// SREQ" invariant.
func TestSendAndWait_RejectsConcurrentSREQ(t *testing.T) {
	client, _ := pairedIfaces(t, mtmsg.WithSRSPTimeout(200*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := client.SendAndWait(mtmsg.NewSysVersionReq())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := client.SendAndWait(mtmsg.NewUtilGetExtAddrReq())
	if err != mtmsg.ErrSRSPPending {
		t.Fatalf("err = %v, want ErrSRSPPending", err)
	}
	<-done
}

// TestDestroy_CancelsPendingSREQ is the cancellation-safety property: tearing
// an interface down while an SREQ is outstanding returns that caller an
// error instead of hanging, and leaves the interface usable to verify no
// further sends succeed.
func TestDestroy_CancelsPendingSREQ(t *testing.T) {
	client, _ := pairedIfaces(t, mtmsg.WithSRSPTimeout(5*time.Second))

	done := make(chan error, 1)
	go func() {
		_, err := client.SendAndWait(mtmsg.NewSysVersionReq())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	client.Destroy()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected an error from SendAndWait after Destroy")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SendAndWait did not return after Destroy")
	}

	if _, err := client.Send(mtmsg.NewSysResetReq(mtmsg.ResetCold)); err != mtmsg.ErrInterfaceDead {
		t.Fatalf("Send after Destroy: err = %v, want ErrInterfaceDead", err)
	}
}

// TestFragmentedSendRoundTrip is the spec's fragmented-transfer scenario: a
// payload larger than TxFragSize is chopped, ACKed block by block, and
// reassembled byte-identical on the other side.
func TestFragmentedSendRoundTrip(t *testing.T) {
	sender, receiver := pairedIfaces(t,
		mtmsg.WithFragmentSize(256),
		mtmsg.WithFragTimeout(time.Second))

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	msg := mtmsg.Alloc(-1, (int(mtmsg.ClassAREQ)<<5)|0x05, 0x20)
	msg.WrBuf(payload, len(payload))

	sendDone := make(chan error, 1)
	go func() {
		_, err := sender.Send(msg)
		sendDone <- err
	}()

	got, err := receiver.RemoveWait(2 * time.Second)
	if err != nil {
		t.Fatalf("RemoveWait: %v", err)
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("Send: %v", err)
	}

	reassembled := got.Payload(0)
	if len(reassembled) != len(payload) {
		t.Fatalf("reassembled length = %d, want %d", len(reassembled), len(payload))
	}
	for i := range payload {
		if reassembled[i] != payload[i] {
			t.Fatalf("byte %d = %02x, want %02x", i, reassembled[i], payload[i])
		}
	}
}

// TestAREQFanOut mirrors the NPI fan-out scenario at the Message level: N
// independent receivers each get their own byte-identical copy of one
// message via Clone.
func TestAREQFanOut(t *testing.T) {
	source := mtmsg.Alloc(-1, (int(mtmsg.ClassAREQ)<<5)|0x01, 0x80)
	source.WrU8(1)
	source.WrU8(2)
	source.WrU8(3)

	const n = 5
	clones := make([]*mtmsg.Message, n)
	for i := range clones {
		clones[i] = source.Clone()
	}
	for i, c := range clones {
		if c == source {
			t.Fatalf("clone %d shares identity with source", i)
		}
		if string(c.Bytes()) != string(source.Bytes()) {
			t.Fatalf("clone %d bytes = % X, want % X", i, c.Bytes(), source.Bytes())
		}
	}
}
