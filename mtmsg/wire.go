package mtmsg

// Wire format (little-endian), per spec §4.1:
//
//	[0xFE?]  LEN(1|2)  CMD0  CMD1  PAYLOAD[LEN]  [XOR?]
//
// Frame, Reformat and the header-parsing helpers below are stateless
// functions over a *Message and the Options of the interface it is framed
// for/from, grounded on the teacher framer package's header-then-payload
// staged layout (internal.go readStream/writeStream) adapted to this wire
// shape: an optional leading sync byte, a 1- or 2-byte length (never the
// teacher's 0xFE/0xFF extended-length sentinel scheme — MT's length width is
// a per-interface configuration bit, not self-describing), two command
// bytes, and an optional trailing XOR checksum instead of none at all.
//
// Convention: before Frame is called, msg.buf[0:msg.ValidLen()] holds the
// raw payload (written via the cursor-based Wr* methods starting at offset
// 0). After Frame, msg.buf holds the complete on-wire frame and validLen
// covers header+payload+trailer. The RX worker builds frames the same way
// in reverse: header bytes first, then payload placed straight into
// buf[headerLen:headerLen+expectedLen], so Reformat can always find the
// payload at a fixed offset determined purely by Options.

const syncByte = 0xFE

// syncLen reports how many sync bytes precede the length field.
func syncLen(o *Options) int {
	if o.FrameSync {
		return 1
	}
	return 0
}

// Checksum folds b with XOR, used over every byte after the sync byte (if
// any) through the last payload byte.
func Checksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

// Frame rewrites msg.buf in place to hold the on-wire form: it assumes
// msg.buf[0:msg.ValidLen()] currently holds just the payload bytes (the
// precondition stated in spec §4.1). On return, msg.ValidLen() covers the
// whole frame and msg.ExpectedLen is set to the payload length that was
// framed.
func Frame(msg *Message, o *Options) error {
	payloadLen := msg.validLen
	msg.ExpectedLen = payloadLen

	headerLen := o.HeaderLen()
	trailerLen := o.TrailerLen()
	total := headerLen + payloadLen + trailerLen
	if total > bufferCapacity {
		msg.IsError = true
		return ErrTooLong
	}
	if !o.Len2Bytes && payloadLen > 0xff {
		msg.IsError = true
		return ErrTooLong
	}

	// Slide the payload from [0:payloadLen) to [headerLen:headerLen+payloadLen).
	// Go's builtin copy is memmove-safe for overlapping slices.
	copy(msg.buf[headerLen:headerLen+payloadLen], msg.buf[0:payloadLen])

	writeHeader(msg.buf[:headerLen], o, payloadLen, msg.Cmd0, msg.Cmd1)

	if trailerLen > 0 {
		sl := syncLen(o)
		msg.buf[headerLen+payloadLen] = Checksum(msg.buf[sl : headerLen+payloadLen])
	}

	if err := msg.SetValidLen(total); err != nil {
		return err
	}
	msg.cursor = headerLen
	return nil
}

func writeHeader(dst []byte, o *Options, payloadLen, cmd0, cmd1 int) {
	i := 0
	if o.FrameSync {
		dst[i] = syncByte
		i++
	}
	if o.Len2Bytes {
		dst[i] = byte(payloadLen)
		dst[i+1] = byte(payloadLen >> 8)
		i += 2
	} else {
		dst[i] = byte(payloadLen)
		i++
	}
	dst[i] = byte(cmd0)
	dst[i+1] = byte(cmd1)
}

// Header describes the header fields decoded from a fully-received frame.
type Header struct {
	PayloadLen int
	Cmd0, Cmd1 int
}

// ParseHeader decodes the header fields out of a buffer that already holds
// at least HeaderLen(o) bytes at offset 0 (sync byte, if configured, must
// already have been found and left at offset 0 by the caller's sync hunt).
func ParseHeader(buf []byte, o *Options) (Header, error) {
	hl := o.HeaderLen()
	if len(buf) < hl {
		return Header{}, ErrShortBuffer
	}
	i := 0
	if o.FrameSync {
		if buf[0] != syncByte {
			return Header{}, ErrInvalidArgument
		}
		i++
	}
	var payloadLen int
	if o.Len2Bytes {
		payloadLen = int(buf[i]) | int(buf[i+1])<<8
		i += 2
	} else {
		payloadLen = int(buf[i])
		i++
	}
	cmd0 := int(buf[i])
	cmd1 := int(buf[i+1])
	return Header{PayloadLen: payloadLen, Cmd0: cmd0, Cmd1: cmd1}, nil
}

// VerifyChecksum reports whether the trailing checksum byte (at
// headerLen+payloadLen) matches the XOR fold of the preceding bytes
// (excluding sync). It is a no-op returning true when checksums are not
// configured for this interface.
func VerifyChecksum(buf []byte, o *Options, headerLen, payloadLen int) bool {
	if !o.IncludeChksum {
		return true
	}
	sl := syncLen(o)
	want := buf[headerLen+payloadLen]
	got := Checksum(buf[sl : headerLen+payloadLen])
	return want == got
}

// Reformat slides msg's payload from a frame built under `from` options to
// one built under `to` options, rewriting the header and (if applicable)
// recomputing the trailing checksum. It avoids reallocating: the message's
// buffer is sized so the payload can always slide to a wider or narrower
// header in place, per the design notes.
func Reformat(msg *Message, from, to *Options) error {
	fromHL := from.HeaderLen()
	toHL := to.HeaderLen()
	payloadLen := msg.validLen - fromHL - from.TrailerLen()
	if payloadLen < 0 {
		msg.IsError = true
		return ErrInvalidArgument
	}

	total := toHL + payloadLen + to.TrailerLen()
	if total > bufferCapacity {
		msg.IsError = true
		return ErrTooLong
	}
	if !to.Len2Bytes && payloadLen > 0xff {
		msg.IsError = true
		return ErrTooLong
	}

	copy(msg.buf[toHL:toHL+payloadLen], msg.buf[fromHL:fromHL+payloadLen])

	writeHeader(msg.buf[:toHL], to, payloadLen, msg.Cmd0, msg.Cmd1)

	if to.TrailerLen() > 0 {
		sl := syncLen(to)
		msg.buf[toHL+payloadLen] = Checksum(msg.buf[sl : toHL+payloadLen])
	}

	if err := msg.SetValidLen(total); err != nil {
		return err
	}
	msg.ExpectedLen = payloadLen
	msg.cursor = toHL
	return nil
}

// needsFragmentation reports whether an outbound payload of payloadLen bytes
// must go through the FragmentEngine instead of being sent as a single
// frame, per spec §4.2: "if not len_2bytes and framed size > 256 bytes or
// payload > tx_frag_size".
func needsFragmentation(o *Options, payloadLen int) bool {
	framedSize := o.HeaderLen() + payloadLen + o.TrailerLen()
	if !o.Len2Bytes && framedSize > 256 {
		return true
	}
	return payloadLen > o.TxFragSize
}
