package mtmsg

import (
	"encoding/binary"
	"fmt"
	"time"
)

// fragDataHeaderLen is the size of the fragment-data carrier's own header
// inside the payload: block_index(u8) + total_size(u16 LE), per spec §4.1.
const fragDataHeaderLen = 3

// fragState holds one direction's (tx or rx) fragmentation bookkeeping. Both
// directions live inside the owning MsgInterface, per the design notes
// ("fragment state coupling"). Neither takes listLock: the rx side is used
// by the RX worker only, the tx side under txLock, and ACK waits go through
// ackList's own signal (ackSignal is not used).
type fragState struct {
	blockCur   int
	blockCount int
	totalSize  int
	blockSize  int // this session's block size

	// tx side
	txCarrier *Message
	ackList   *MessageList
	ackSignal signalSlot

	// rx side
	rxMsg *Message

	isError bool
}

func newFragState() *fragState {
	return &fragState{ackList: NewMessageList("frag-ack"), ackSignal: newSignalSlot()}
}

func (f *fragState) reset() {
	f.blockCur = 0
	f.blockCount = 0
	f.totalSize = 0
	f.blockSize = 0
	f.txCarrier = nil
	f.rxMsg = nil
	f.isError = false
}

// buildFragDataCarrier builds one outbound fragment-data message: extended
// header (cmd0|=0x80), minor=2, block_index, total_size, then the payload
// slice for this block.
func buildFragDataCarrier(class Class, subsystemID, cmd1 int, blockIdx, totalSize int, slice []byte) *Message {
	m := Alloc(-1, (int(class)<<5)|0x80|subsystemID, cmd1)
	desc := byte(extMinorFragData << 5)
	m.WrU8(desc)
	m.WrU8(byte(blockIdx))
	var tsBuf [2]byte
	binary.LittleEndian.PutUint16(tsBuf[:], uint16(totalSize))
	m.WrBuf(tsBuf[:], 2)
	m.WrBuf(slice, len(slice))
	return m
}

// buildFragAck builds an outbound fragment-ACK carrier.
func buildFragAck(class Class, subsystemID, cmd1, blockIdx, status int) *Message {
	m := Alloc(-1, (int(class)<<5)|0x80|subsystemID, cmd1)
	desc := byte(extMinorFragAck << 5)
	m.WrU8(desc)
	m.WrU8(byte(blockIdx))
	m.WrU8(byte(status))
	return m
}

// buildExtStatus builds an outbound extended-status carrier.
func buildExtStatus(class Class, subsystemID, cmd1, blockIdx, status int) *Message {
	m := Alloc(-1, (int(class)<<5)|0x80|subsystemID, cmd1)
	desc := byte(extMinorExtStatus << 5)
	m.WrU8(desc)
	m.WrU8(byte(blockIdx))
	m.WrU8(byte(status))
	return m
}

// parseFragDataCarrier reads the fragment-data fields out of an inbound
// message whose cursor sits right after the extension descriptor byte
// (i.e. at offset 1 into the payload).
func parseFragDataCarrier(m *Message) (blockIdx int, totalSize int, data []byte) {
	m.SetCursor(1)
	blockIdx = int(m.RdU8())
	totalSize = int(m.RdU16())
	data = m.Payload(m.Cursor())
	return
}

// parseFragAckOrStatus reads block_index/status out of a frag-ack or
// ext-status carrier.
func parseFragAckOrStatus(m *Message) (blockIdx, status int) {
	m.SetCursor(1)
	blockIdx = int(m.RdU8())
	status = int(m.RdU8())
	return
}

// fragErrorf formats a fragmentation error with the interface's debug name.
func fragErrorf(iface *MsgInterface, format string, args ...any) error {
	return fmt.Errorf("mtmsg: %s: fragment: %s", iface.Options.DbgName, fmt.Sprintf(format, args...))
}

// sendFragmentedLocked chops msg's payload into TxFragSize blocks and sends
// them one at a time, waiting for a matching frag-ACK between blocks and
// retrying up to RetryMax times on a timed-out or out-of-order ACK, per spec
// §4.3. Called with txLock held.
func (iface *MsgInterface) sendFragmentedLocked(msg *Message) (int, error) {
	payload := make([]byte, msg.validLen)
	copy(payload, msg.buf[:msg.validLen])

	totalSize := len(payload)
	blockSize := iface.Options.TxFragSize
	blockCount := (totalSize + blockSize - 1) / blockSize
	if blockCount == 0 {
		blockCount = 1
	}
	class := msg.Class()
	subsystemID := msg.SubsystemID()
	cmd1 := msg.Cmd1

	iface.txFrag.reset()
	iface.txFrag.blockCount = blockCount
	iface.txFrag.totalSize = totalSize
	iface.txFrag.blockSize = blockSize

	for blockIdx := 0; blockIdx < blockCount; blockIdx++ {
		start := blockIdx * blockSize
		end := start + blockSize
		if end > totalSize {
			end = totalSize
		}
		slice := payload[start:end]

		carrier := buildFragDataCarrier(class, subsystemID, cmd1, blockIdx, totalSize, slice)
		if err := Frame(carrier, &iface.Options); err != nil {
			return blockIdx, err
		}

		var lastErr error
		sent := false
		for attempt := 0; attempt <= iface.Options.RetryMax; attempt++ {
			if iface.isDead.Load() {
				return blockIdx, ErrInterfaceDead
			}
			if attempt > 0 && iface.Options.OnFragmentRetry != nil {
				iface.Options.OnFragmentRetry()
			}
			deadline := time.Now().Add(iface.Options.IntermsgTimeout)
			if _, err := iface.Stream.Write(carrier.Bytes(), deadline); err != nil {
				iface.fail(err)
				return blockIdx, err
			}

			ack, err := iface.txFrag.ackList.RemoveWait(iface.Options.FragTimeout)
			if err != nil {
				lastErr = err
				continue
			}
			ackBlockIdx, status := parseFragAckOrStatus(ack)
			if ackBlockIdx != blockIdx {
				lastErr = fragErrorf(iface, "ack for block %d while awaiting block %d", ackBlockIdx, blockIdx)
				continue
			}
			switch status {
			case FragStatusSuccess, FragStatusFragComplete:
				sent = true
			case FragStatusUnsupportedAck:
				if iface.Options.OnFragmentAbort != nil {
					iface.Options.OnFragmentAbort()
				}
				return blockIdx, fmt.Errorf("%w: peer does not support fragmentation", ErrFragAborted)
			default:
				if iface.Options.OnFragmentAbort != nil {
					iface.Options.OnFragmentAbort()
				}
				return blockIdx, fmt.Errorf("%w: peer reported status=%d at block %d", ErrFragAborted, status, blockIdx)
			}
			if sent {
				break
			}
		}
		if !sent {
			if lastErr == nil {
				lastErr = ErrTimeout
			}
			if iface.Options.OnFragmentAbort != nil {
				iface.Options.OnFragmentAbort()
			}
			return blockIdx, fmt.Errorf("%w: block %d failed after %d attempts: %w", ErrFragAborted, blockIdx, iface.Options.RetryMax+1, lastErr)
		}
		iface.txFrag.blockCur = blockIdx + 1
	}
	return blockCount, nil
}

// handleFragData reassembles one inbound fragment-data carrier into
// iface.rxFrag, ACKing each accepted block and dispatching the reassembled
// message once the final block arrives. Duplicate blocks (already-seen
// indices) are silently discarded without an ACK, matching the original's
// "resend of an already-acked block is not itself an error" behaviour.
func (iface *MsgInterface) handleFragData(msg *Message) {
	blockIdx, totalSize, data := parseFragDataCarrier(msg)
	class := msg.Class()
	subsystemID := msg.SubsystemID()
	cmd1 := msg.Cmd1

	if blockIdx < iface.rxFrag.blockCur {
		return // duplicate of an already-assembled block; no ACK
	}
	if blockIdx != iface.rxFrag.blockCur {
		iface.sendFragAckBestEffort(class, subsystemID, cmd1, blockIdx, FragStatusBlockOutOfOrder)
		iface.rxFrag.reset()
		return
	}

	if blockIdx == 0 {
		iface.rxFrag.reset()
		iface.rxFrag.totalSize = totalSize
		iface.rxFrag.blockSize = len(data)
		iface.rxFrag.rxMsg = Alloc(totalSize, (int(class)<<5)|subsystemID, cmd1)
	} else if iface.rxFrag.rxMsg == nil || totalSize != iface.rxFrag.totalSize {
		iface.sendFragAckBestEffort(class, subsystemID, cmd1, blockIdx, FragStatusBlockLenChanged)
		iface.rxFrag.reset()
		return
	} else if blockIdx < iface.rxFrag.blockCount-1 && len(data) != iface.rxFrag.blockSize {
		iface.sendFragAckBestEffort(class, subsystemID, cmd1, blockIdx, FragStatusBlockLenChanged)
		iface.rxFrag.reset()
		return
	}

	iface.rxFrag.rxMsg.WrBuf(data, len(data))
	iface.rxFrag.blockCur = blockIdx + 1
	if iface.rxFrag.blockSize > 0 {
		iface.rxFrag.blockCount = (totalSize + iface.rxFrag.blockSize - 1) / iface.rxFrag.blockSize
	}

	iface.sendFragAckBestEffort(class, subsystemID, cmd1, blockIdx, FragStatusSuccess)

	if iface.rxFrag.rxMsg.ValidLen() >= totalSize {
		complete := iface.rxFrag.rxMsg
		complete.SetCursor(0)
		iface.rxFrag.reset()
		iface.dispatch(complete)
	}
}

// handleFragAck and handleExtStatus feed the ack carrier into txFrag's ack
// queue, where sendFragmentedLocked is waiting. Both carrier shapes decode
// identically (block index, status byte), so one path serves both.
func (iface *MsgInterface) handleFragAck(msg *Message)   { iface.txFrag.ackList.Insert(msg) }
func (iface *MsgInterface) handleExtStatus(msg *Message) { iface.txFrag.ackList.Insert(msg) }

// sendFragAckBestEffort writes a frag-ACK without participating in the
// normal tx-lock/fragmentation path: ACKs are themselves small enough to
// never need fragmenting, and must not block behind an unrelated in-flight
// send for longer than IntermsgTimeout.
func (iface *MsgInterface) sendFragAckBestEffort(class Class, subsystemID, cmd1, blockIdx, status int) {
	ack := buildFragAck(class, subsystemID, cmd1, blockIdx, status)
	if err := Frame(ack, &iface.Options); err != nil {
		return
	}
	deadline := time.Now().Add(iface.Options.IntermsgTimeout)
	if _, err := iface.Stream.Write(ack.Bytes(), deadline); err != nil {
		iface.fail(err)
	}
}
