package mtmsg

import (
	"errors"
	"fmt"
	"time"
)

// rxLoop is the interface's single receive worker: hunt the sync byte (if
// configured), read a header, read the declared payload, verify the
// checksum, classify, and dispatch — looping until the interface is torn
// down or the stream fails. Per spec §4.2 there is exactly one of these per
// MsgInterface for its whole lifetime.
func (iface *MsgInterface) rxLoop() {
	defer iface.wg.Done()

	hdrLen := iface.Options.HeaderLen()
	trailerLen := iface.Options.TrailerLen()

	for {
		select {
		case <-iface.doneCh:
			return
		default:
		}

		msg := Alloc(-1, -1, -1)
		msg.SrcIface = iface
		msg.LogPrefix = iface.Options.DbgName

		err := iface.readOneFrame(msg, hdrLen, trailerLen)
		if err != nil {
			if iface.isDead.Load() {
				return
			}
			if errors.Is(err, ErrTimeout) {
				// Ordinary idle gap (no sync byte, or no traffic at all):
				// go back around and keep waiting.
				continue
			}
			if errors.Is(err, ErrBadChecksum) {
				iface.logger.Warn("checksum mismatch, frame dropped")
				continue
			}
			iface.fail(err)
			return
		}

		iface.dispatch(msg)
	}
}

// readFull reads exactly len(buf) bytes, refreshing its deadline after every
// partial read so timeout bounds the gap between consecutive bytes rather
// than the whole read.
func (iface *MsgInterface) readFull(buf []byte, timeout time.Duration) error {
	got := 0
	for got < len(buf) {
		deadline := time.Time{}
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		n, err := iface.Stream.Read(buf[got:], deadline)
		got += n
		if err != nil {
			return err
		}
	}
	return nil
}

// huntSync discards bytes until it sees the sync byte or timeout elapses,
// bounding the search by the inter-message timeout (the gap that may
// legitimately occur between frames).
func (iface *MsgInterface) huntSync(timeout time.Duration) error {
	var b [1]byte
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		n, err := iface.Stream.Read(b[:], time.Now().Add(remaining))
		if err != nil {
			return err
		}
		if n > 0 && b[0] == syncByte {
			return nil
		}
	}
}

// readOneFrame fills msg with one complete on-wire frame: sync hunt (if
// configured), header, payload, trailer, verifying the checksum before
// returning. On success msg.Cmd0/Cmd1/ExpectedLen are set and the cursor
// sits at the start of the payload.
func (iface *MsgInterface) readOneFrame(msg *Message, hdrLen, trailerLen int) error {
	buf := msg.RawBuf()
	o := &iface.Options

	if o.FrameSync {
		if err := iface.huntSync(o.IntermsgTimeout); err != nil {
			return err
		}
		buf[0] = syncByte
	} else if err := iface.readFull(buf[0:1], o.IntermsgTimeout); err != nil {
		return err
	}

	if err := iface.readFull(buf[1:hdrLen], o.IntersymbolTimeout); err != nil {
		return err
	}

	hdr, err := ParseHeader(buf[:hdrLen], o)
	if err != nil {
		return err
	}

	total := hdrLen + hdr.PayloadLen + trailerLen
	if total > bufferCapacity {
		return ErrTooLong
	}
	if err := iface.readFull(buf[hdrLen:total], o.IntersymbolTimeout); err != nil {
		return err
	}

	if !VerifyChecksum(buf, o, hdrLen, hdr.PayloadLen) {
		_ = iface.Stream.Drain(time.Now().Add(o.FlushTimeout))
		return ErrBadChecksum
	}

	msg.Cmd0 = hdr.Cmd0
	msg.Cmd1 = hdr.Cmd1
	msg.ExpectedLen = hdr.PayloadLen
	if err := msg.SetValidLen(total); err != nil {
		return err
	}
	msg.SetCursor(hdrLen)
	return nil
}

// dispatch classifies a fully-received message and routes it: fragment
// carriers go to the FragmentEngine, an SRSP matching the pending SREQ wakes
// SendAndWait, and everything else (POLL, AREQ, stray SREQ, a late or
// mismatched SRSP) is queued for RemoveWait, per spec §4.2's dispatch table.
func (iface *MsgInterface) dispatch(msg *Message) {
	classify(msg)

	switch {
	case isFragDataKind(msg.Kind()):
		iface.handleFragData(msg)
		return
	case isFragAckKind(msg.Kind()):
		iface.handleFragAck(msg)
		return
	case isExtStatusKind(msg.Kind()):
		iface.handleExtStatus(msg)
		return
	}

	if msg.Class() == ClassSRSP {
		iface.listLock.Lock()
		pending := iface.pendingSreq
		matches := pending != nil && pending.SubsystemID() == msg.SubsystemID() && pending.Cmd1 == msg.Cmd1
		if matches {
			pending.Srsp = msg
			iface.listLock.Unlock()
			iface.srspSignal.release()
			return
		}
		iface.listLock.Unlock()
		iface.logger.WithFields(map[string]any{
			"subsystem": msg.SubsystemID(),
			"cmd1":      fmt.Sprintf("0x%02x", msg.Cmd1),
		}).Debug("unsolicited SRSP, routed to receive queue")
	}

	iface.rxQueue.Insert(msg)
}
