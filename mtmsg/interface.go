package mtmsg

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// MsgInterface binds one ByteStream (a UART or an accepted TCP socket) to the
// MT framing/fragmentation/SREQ-SRSP machinery described in spec §4.2. One
// MsgInterface owns exactly one RX worker goroutine for the lifetime of the
// stream; everything else (send, sendAndWait) is called from arbitrary
// caller goroutines and serialized through txLock.
type MsgInterface struct {
	Stream  ByteStream
	Options Options

	logger *logrus.Entry

	rxQueue *MessageList

	listLock sync.Mutex

	// pendingSreq is the single in-flight SREQ awaiting its SRSP, or nil.
	// Guarded by listLock, per spec §3.3 ("at most one outstanding SREQ").
	pendingSreq *Message
	srspSignal  signalSlot

	// txLock is a 1-buffered channel used as a mutex with timed acquisition
	// (sync.Mutex has no TryLock-with-deadline, and the original's tx_lock
	// is itself timeout-bounded per spec §4.2).
	txLock chan struct{}

	txFrag *fragState
	rxFrag *fragState

	isDead atomic.Bool

	closeOnce sync.Once
	doneCh    chan struct{}
	wg        sync.WaitGroup
}

// Create starts an MsgInterface bound to stream. It starts the RX worker
// goroutine before returning.
func Create(stream ByteStream, opts ...Option) (*MsgInterface, error) {
	if stream == nil {
		return nil, ErrInvalidArgument
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.DbgName == "" {
		o.DbgName = "mt"
	}

	iface := &MsgInterface{
		Stream:     stream,
		Options:    o,
		logger:     logrus.WithField("iface", o.DbgName),
		rxQueue:    NewMessageList(o.DbgName + "-rx"),
		srspSignal: newSignalSlot(),
		txLock:     make(chan struct{}, 1),
		txFrag:     newFragState(),
		rxFrag:     newFragState(),
		doneCh:     make(chan struct{}),
	}
	iface.txLock <- struct{}{}

	if o.StartupFlush {
		_ = stream.Drain(time.Now().Add(o.FlushTimeout))
	}

	iface.wg.Add(1)
	go iface.rxLoop()

	return iface, nil
}

// Destroy marks the interface dead, closes its stream, and waits for the RX
// worker to exit.
func (iface *MsgInterface) Destroy() {
	iface.closeOnce.Do(func() {
		iface.isDead.Store(true)
		_ = iface.Stream.Close()
		close(iface.doneCh)
		// Wake any SendAndWait blocked on a reply that will now never
		// arrive; fail() is not used here since it would log a spurious
		// "stream failed" warning for what is an orderly shutdown.
		iface.srspSignal.release()
	})
	iface.wg.Wait()
	iface.rxQueue.Destroy()
}

// IsDead reports whether the interface has been torn down or its stream has
// failed.
func (iface *MsgInterface) IsDead() bool { return iface.isDead.Load() }

// RemoveWait pops the next unsolicited message (AREQ, POLL, stray SREQ, or a
// late/mismatched SRSP) from the interface's receive queue.
func (iface *MsgInterface) RemoveWait(timeout time.Duration) (*Message, error) {
	return iface.rxQueue.RemoveWait(timeout)
}

// acquireTxLock acquires the send-side lock with a timeout, translating
// expiry to ErrTxBusy as spec §4.2 requires.
func (iface *MsgInterface) acquireTxLock() error {
	if iface.isDead.Load() {
		return ErrInterfaceDead
	}
	timer := time.NewTimer(iface.Options.TxLockTimeout)
	defer timer.Stop()
	select {
	case <-iface.txLock:
		if iface.isDead.Load() {
			iface.txLock <- struct{}{}
			return ErrInterfaceDead
		}
		return nil
	case <-timer.C:
		return ErrTxBusy
	}
}

func (iface *MsgInterface) releaseTxLock() {
	iface.txLock <- struct{}{}
}

// Send transmits msg as POLL/AREQ/SREQ fire-and-forget (no SRSP wait). It
// fragments automatically when the framed size requires it. It returns the
// number of on-wire frames written (1 for an unfragmented send, or the block
// count for a fragmented one).
func (iface *MsgInterface) Send(msg *Message) (int, error) {
	if err := iface.acquireTxLock(); err != nil {
		return 0, err
	}
	defer iface.releaseTxLock()
	return iface.transmitLocked(msg)
}

// SendAndWait transmits msg as a SREQ and blocks for its SRSP, up to
// SRSPTimeout. Only one SREQ may be outstanding on an interface at a time.
func (iface *MsgInterface) SendAndWait(msg *Message) (*Message, error) {
	return iface.sendAndWaitCore(msg, func() (int, error) { return iface.transmitLocked(msg) })
}

// ForwardAndWait is Forward's counterpart to SendAndWait: it forwards msg — a
// SREQ already framed under srcOptions, typically one just received on
// another MsgInterface — and blocks for the matching SRSP.
func (iface *MsgInterface) ForwardAndWait(msg *Message, srcOptions *Options) (*Message, error) {
	return iface.sendAndWaitCore(msg, func() (int, error) { return iface.forwardLocked(msg, srcOptions) })
}

// sendAndWaitCore holds the pending-SREQ bookkeeping shared by SendAndWait
// and ForwardAndWait; transmit performs the actual write under txLock.
func (iface *MsgInterface) sendAndWaitCore(msg *Message, transmit func() (int, error)) (*Message, error) {
	iface.listLock.Lock()
	if iface.pendingSreq != nil {
		iface.listLock.Unlock()
		return nil, ErrSRSPPending
	}
	iface.pendingSreq = msg
	iface.srspSignal.drain()
	iface.listLock.Unlock()

	if err := iface.acquireTxLock(); err != nil {
		iface.clearPendingSreq()
		return nil, err
	}
	_, err := transmit()
	iface.releaseTxLock()
	if err != nil {
		iface.clearPendingSreq()
		return nil, err
	}

	waitErr := iface.srspSignal.wait(iface.Options.SRSPTimeout)
	iface.listLock.Lock()
	srsp := msg.Srsp
	iface.pendingSreq = nil
	iface.listLock.Unlock()

	if waitErr != nil {
		return nil, waitErr
	}
	if iface.isDead.Load() {
		return nil, ErrInterfaceDead
	}
	return srsp, nil
}

func (iface *MsgInterface) clearPendingSreq() {
	iface.listLock.Lock()
	iface.pendingSreq = nil
	iface.listLock.Unlock()
}

// transmitLocked writes msg to the stream, called with txLock held. It is
// also where the fragmentation decision from spec §4.2 is made.
func (iface *MsgInterface) transmitLocked(msg *Message) (int, error) {
	if iface.isDead.Load() {
		return 0, ErrInterfaceDead
	}
	payloadLen := msg.validLen

	if needsFragmentation(&iface.Options, payloadLen) {
		return iface.sendFragmentedLocked(msg)
	}

	if err := Frame(msg, &iface.Options); err != nil {
		return 0, err
	}
	deadline := time.Time{}
	if iface.Options.IntermsgTimeout > 0 {
		deadline = time.Now().Add(iface.Options.IntermsgTimeout)
	}
	if _, err := iface.Stream.Write(msg.Bytes(), deadline); err != nil {
		iface.fail(err)
		return 0, err
	}
	return 1, nil
}

// Forward relays msg — a message already framed under srcOptions, typically
// one just received on another MsgInterface — onward on iface. Unlike Send,
// it does not treat msg's buffer as unframed payload sitting at offset 0: an
// inbound message's buffer already holds the complete wire frame it arrived
// as, so Forward reformats that frame to iface's own wire options (Reformat,
// not Frame) and fragments the reformatted payload if iface's options
// require it. This is the path the NPI bridge's AREQ fan-out and request
// forwarders use to relay a message between two MsgInterfaces; Send and
// SendAndWait remain for messages a caller builds fresh with Alloc/Wr*.
func (iface *MsgInterface) Forward(msg *Message, srcOptions *Options) (int, error) {
	if err := iface.acquireTxLock(); err != nil {
		return 0, err
	}
	defer iface.releaseTxLock()
	return iface.forwardLocked(msg, srcOptions)
}

func (iface *MsgInterface) forwardLocked(msg *Message, srcOptions *Options) (int, error) {
	if iface.isDead.Load() {
		return 0, ErrInterfaceDead
	}

	srcHL := srcOptions.HeaderLen()
	payloadLen := msg.validLen - srcHL - srcOptions.TrailerLen()
	if payloadLen < 0 {
		return 0, ErrInvalidArgument
	}

	if needsFragmentation(&iface.Options, payloadLen) {
		staged := Alloc(-1, msg.Cmd0, msg.Cmd1)
		staged.WrBuf(msg.Payload(srcHL)[:payloadLen], payloadLen)
		return iface.sendFragmentedLocked(staged)
	}

	if err := Reformat(msg, srcOptions, &iface.Options); err != nil {
		return 0, err
	}
	deadline := time.Time{}
	if iface.Options.IntermsgTimeout > 0 {
		deadline = time.Now().Add(iface.Options.IntermsgTimeout)
	}
	if _, err := iface.Stream.Write(msg.Bytes(), deadline); err != nil {
		iface.fail(err)
		return 0, err
	}
	return 1, nil
}

// fail marks the interface dead and logs the triggering stream error, per
// spec §7 ("a stream error is terminal for the interface").
func (iface *MsgInterface) fail(err error) {
	if iface.isDead.CompareAndSwap(false, true) {
		iface.logger.WithError(err).Warn("stream failed, interface now dead")
		iface.srspSignal.release()
	}
}

func (iface *MsgInterface) errorf(format string, args ...any) error {
	return fmt.Errorf("mtmsg: %s: %s", iface.Options.DbgName, fmt.Sprintf(format, args...))
}
