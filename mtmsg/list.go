package mtmsg

import (
	"sync"
	"time"
)

// MessageList is a FIFO of messages with a signalling slot: Insert wakes one
// blocked Remove. Operations on a list are serialized by the list's own
// mutex; callers do not hold the owning MsgInterface's listLock around them,
// and the list is equally safe to use standalone (e.g. in tests).
type MessageList struct {
	dbgName string

	mu     sync.Mutex
	items  []*Message
	signal signalSlot
}

// NewMessageList creates an empty list identified by name for logging.
func NewMessageList(name string) *MessageList {
	return &MessageList{dbgName: name, signal: newSignalSlot()}
}

// Insert appends msg at the tail and wakes one blocked Remove.
func (l *MessageList) Insert(msg *Message) {
	l.mu.Lock()
	l.items = append(l.items, msg)
	l.mu.Unlock()
	l.signal.release()
}

// RemoveWait removes and returns the head message, blocking up to timeout
// for one to appear. A zero timeout waits forever.
func (l *MessageList) RemoveWait(timeout time.Duration) (*Message, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		l.mu.Lock()
		if len(l.items) > 0 {
			m := l.items[0]
			l.items = l.items[1:]
			l.mu.Unlock()
			return m, nil
		}
		l.mu.Unlock()

		remaining := timeout
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return nil, ErrTimeout
			}
		}
		if err := l.signal.wait(remaining); err != nil {
			return nil, err
		}
		// Loop back and check again: another goroutine may have raced us
		// to the item, or the wake may be stale from a prior Insert.
	}
}

// Len reports the current queue depth.
func (l *MessageList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Destroy discards every remaining message. Go's GC reclaims them; Destroy
// exists to make teardown order explicit. It does not wake a blocked
// RemoveWait: such a caller returns ErrTimeout once its own timeout expires.
func (l *MessageList) Destroy() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}
