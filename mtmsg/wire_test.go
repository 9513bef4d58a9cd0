package mtmsg

import (
	"bytes"
	"testing"
)

// TestFrame_SimpleSREQ reproduces a concrete wire trace: a 3-byte SREQ
// payload framed with a sync byte, 1-byte length, and a trailing checksum.
func TestFrame_SimpleSREQ(t *testing.T) {
	o := DefaultOptions()
	o.FrameSync = true
	o.IncludeChksum = true

	msg := Alloc(-1, (int(ClassSREQ)<<5)|0x02, 0x05)
	msg.WrU8(1)
	msg.WrU8(2)
	msg.WrU8(3)

	if err := Frame(msg, &o); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	// Checksum folds LEN, CMD0, CMD1, and the payload: 03^22^05^01^02^03 = 0x24.
	want := []byte{0xFE, 0x03, 0x22, 0x05, 0x01, 0x02, 0x03, 0x24}
	got := msg.Bytes()
	if !bytes.Equal(got, want) {
		t.Fatalf("framed bytes = % X, want % X", got, want)
	}
}

func TestFrame_RoundTripsThroughParseHeader(t *testing.T) {
	cases := []struct {
		name string
		opt  func(*Options)
	}{
		{"sync+chksum+1byte", func(o *Options) { o.FrameSync = true; o.IncludeChksum = true }},
		{"nosync+nochksum+2byte", func(o *Options) { o.Len2Bytes = true }},
		{"sync+nochksum+1byte", func(o *Options) { o.FrameSync = true }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := DefaultOptions()
			tc.opt(&o)

			payload := []byte("loopback payload")
			msg := Alloc(-1, (int(ClassAREQ)<<5)|0x01, 0x10)
			msg.WrBuf(payload, len(payload))

			if err := Frame(msg, &o); err != nil {
				t.Fatalf("Frame: %v", err)
			}

			hdrLen := o.HeaderLen()
			hdr, err := ParseHeader(msg.Bytes()[:hdrLen], &o)
			if err != nil {
				t.Fatalf("ParseHeader: %v", err)
			}
			if hdr.PayloadLen != len(payload) {
				t.Fatalf("PayloadLen = %d, want %d", hdr.PayloadLen, len(payload))
			}
			if hdr.Cmd0 != msg.Cmd0 || hdr.Cmd1 != msg.Cmd1 {
				t.Fatalf("cmd0/cmd1 = %02x/%02x, want %02x/%02x", hdr.Cmd0, hdr.Cmd1, msg.Cmd0, msg.Cmd1)
			}
			if !VerifyChecksum(msg.Bytes(), &o, hdrLen, hdr.PayloadLen) {
				t.Fatalf("VerifyChecksum failed")
			}
			got := msg.Payload(hdrLen)[:hdr.PayloadLen]
			if !bytes.Equal(got, payload) {
				t.Fatalf("payload = %q, want %q", got, payload)
			}
		})
	}
}

func TestVerifyChecksum_DetectsCorruption(t *testing.T) {
	o := DefaultOptions()
	o.IncludeChksum = true

	msg := Alloc(-1, (int(ClassPoll)<<5)|0x01, 0x01)
	msg.WrU8(0xAB)
	if err := Frame(msg, &o); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	buf := msg.Bytes()
	hdrLen := o.HeaderLen()
	// Flip a payload bit without touching the trailing checksum byte.
	buf[hdrLen] ^= 0x01

	if VerifyChecksum(buf, &o, hdrLen, 1) {
		t.Fatalf("VerifyChecksum should have detected corruption")
	}
}

func TestReformat_ChangesHeaderShapeButKeepsPayload(t *testing.T) {
	from := DefaultOptions()
	from.FrameSync = true
	from.IncludeChksum = true

	to := DefaultOptions()
	to.Len2Bytes = true

	payload := []byte{0x10, 0x20, 0x30, 0x40}
	msg := Alloc(-1, (int(ClassSRSP)<<5)|0x02, 0x05)
	msg.WrBuf(payload, len(payload))
	if err := Frame(msg, &from); err != nil {
		t.Fatalf("Frame: %v", err)
	}

	if err := Reformat(msg, &from, &to); err != nil {
		t.Fatalf("Reformat: %v", err)
	}

	hdrLen := to.HeaderLen()
	hdr, err := ParseHeader(msg.Bytes()[:hdrLen], &to)
	if err != nil {
		t.Fatalf("ParseHeader after reformat: %v", err)
	}
	if hdr.PayloadLen != len(payload) {
		t.Fatalf("PayloadLen after reformat = %d, want %d", hdr.PayloadLen, len(payload))
	}
	got := msg.Payload(hdrLen)[:hdr.PayloadLen]
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload after reformat = % X, want % X", got, payload)
	}
}

func TestNeedsFragmentation(t *testing.T) {
	o := DefaultOptions()
	o.TxFragSize = 256

	if needsFragmentation(&o, 100) {
		t.Fatalf("100-byte payload should not need fragmentation")
	}
	if !needsFragmentation(&o, 300) {
		t.Fatalf("300-byte payload should need fragmentation (> TxFragSize)")
	}

	o2 := DefaultOptions()
	o2.TxFragSize = 4096
	o2.Len2Bytes = false
	if !needsFragmentation(&o2, 260) {
		t.Fatalf("260-byte payload without Len2Bytes should need fragmentation (framed size > 256)")
	}
}
