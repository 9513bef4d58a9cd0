package mtmsg

import (
	"fmt"
	"sync/atomic"
)

// bufferCapacity is the fixed message buffer size. The spec requires at
// least 4 KiB; this matches the original mt_msg.c iobuf[__4K] sizing.
const bufferCapacity = 4096

// Class is the base request class carried in the top bits of cmd0.
type Class uint8

const (
	ClassPoll Class = 0
	ClassSREQ Class = 1
	ClassAREQ Class = 2
	ClassSRSP Class = 3
)

func (c Class) String() string {
	switch c {
	case ClassPoll:
		return "POLL"
	case ClassSREQ:
		return "SREQ"
	case ClassAREQ:
		return "AREQ"
	case ClassSRSP:
		return "SRSP"
	default:
		return "?"
	}
}

// Kind is the fully resolved message variant: base class crossed with
// {plain, stack-scoped, frag-data, frag-ack, ext-status}. It is computed
// lazily by classify() and never mutated once set.
type Kind uint8

const (
	KindUnknown Kind = iota

	KindSREQ
	KindSRSP
	KindPoll
	KindAREQ

	KindSREQStack
	KindSRSPStack
	KindPollStack
	KindAREQStack

	KindSREQFragData
	KindSREQFragAck
	KindSREQExtStatus

	KindSRSPFragData
	KindSRSPFragAck
	KindSRSPExtStatus

	KindAREQFragData
	KindAREQFragAck
	KindAREQExtStatus
)

func (k Kind) String() string {
	names := [...]string{
		"unknown",
		"sreq", "srsp", "poll", "areq",
		"sreq_stack", "srsp_stack", "poll_stack", "areq_stack",
		"sreq_frag_data", "sreq_frag_ack", "sreq_ext_status",
		"srsp_frag_data", "srsp_frag_ack", "srsp_ext_status",
		"areq_frag_data", "areq_frag_ack", "areq_ext_status",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

var sequenceCounter atomic.Uint32

// Message is an owning, fixed-capacity buffer plus cursor and header fields
// for one MT message, inbound or outbound. It is never shared between two
// concurrent owners: it is either queued in exactly one MessageList, attached
// as the Srsp of exactly one parent, held by exactly one in-flight SREQ, or
// owned outright by its caller.
type Message struct {
	SequenceID uint32

	// SrcIface/DstIface are relationship pointers only, never ownership.
	// Nothing in this package frees or tears down an interface reached
	// through these fields.
	SrcIface *MsgInterface
	DstIface *MsgInterface

	kind  Kind
	valid bool // true once kind has been classified

	// ExpectedLen is the payload length declared in (or destined for) the
	// frame header; negative while still unknown (message under construction).
	ExpectedLen int

	Cmd0, Cmd1 int

	Checksum int

	IsError bool

	buf       [bufferCapacity]byte
	cursor    int
	validLen  int

	// Srsp is the exclusive child attached by the RX worker when an SRSP
	// matching a pending SREQ arrives.
	Srsp *Message

	// LogPrefix is a borrowed static string used only for logging.
	LogPrefix string
}

// Alloc allocates a new message. len is the expected payload length, or -1
// if unknown (e.g. a message still being constructed). cmd0/cmd1 may be -1
// if not yet known.
func Alloc(length, cmd0, cmd1 int) *Message {
	m := &Message{
		SequenceID:  sequenceCounter.Add(1),
		ExpectedLen: length,
		Cmd0:        cmd0,
		Cmd1:        cmd1,
	}
	return m
}

// Class returns the message's base request class, derived from cmd0's top
// three bits (ignoring the extension bit).
func (m *Message) Class() Class {
	if m.Cmd0 < 0 {
		return ClassPoll
	}
	return Class((m.Cmd0 >> 5) & 0x3)
}

// SubsystemID returns the low 5 bits of cmd0.
func (m *Message) SubsystemID() int {
	if m.Cmd0 < 0 {
		return 0
	}
	return m.Cmd0 & 0x1f
}

// IsExtended reports whether cmd0's bit7 extension flag is set.
func (m *Message) IsExtended() bool {
	return m.Cmd0 >= 0 && m.Cmd0&0x80 != 0
}

// Kind returns the message's classified variant. It must be called only
// after enough of the frame has been read to classify it (header plus, for
// extended messages, the first payload byte); see classify().
func (m *Message) Kind() Kind { return m.kind }

// Clone duplicates a message verbatim: every buffer byte, the Srsp child (if
// any), and kind/header metadata; the clone gets a fresh SequenceID.
// ListNext-equivalent state does not
// exist in this implementation (messages are never linked outside a
// MessageList's own slice), so nothing needs clearing here. Clone is used by
// the NPI fan-out worker to give every connected client its own copy of an
// inbound AREQ.
func (m *Message) Clone() *Message {
	c := &Message{
		SequenceID:  sequenceCounter.Add(1),
		SrcIface:    m.SrcIface,
		DstIface:    m.DstIface,
		kind:        m.kind,
		valid:       m.valid,
		ExpectedLen: m.ExpectedLen,
		Cmd0:        m.Cmd0,
		Cmd1:        m.Cmd1,
		Checksum:    m.Checksum,
		IsError:     m.IsError,
		cursor:      m.cursor,
		validLen:    m.validLen,
		LogPrefix:   m.LogPrefix,
	}
	copy(c.buf[:], m.buf[:])
	if m.Srsp != nil {
		c.Srsp = m.Srsp.Clone()
	}
	return c
}

// ValidLen returns the number of valid bytes currently in the buffer.
func (m *Message) ValidLen() int { return m.validLen }

// Cursor returns the current read/write index.
func (m *Message) Cursor() int { return m.cursor }

// SetCursor repositions the cursor. It is used after reassembling a
// fragmented message to rewind to the payload start before dispatch.
func (m *Message) SetCursor(c int) { m.cursor = c }

// Bytes returns the valid region of the buffer ([0:ValidLen())).
func (m *Message) Bytes() []byte { return m.buf[:m.validLen] }

// Payload returns the payload region, i.e. the bytes at and after off
// (typically header_len) up to ValidLen.
func (m *Message) Payload(off int) []byte {
	if off > m.validLen {
		return nil
	}
	return m.buf[off:m.validLen]
}

// growTo ensures validLen is at least n, growing the valid region (never the
// capacity, which is fixed). It does not zero new bytes.
func (m *Message) growTo(n int) error {
	if n > bufferCapacity {
		m.IsError = true
		return ErrTooLong
	}
	if n > m.validLen {
		m.validLen = n
	}
	return nil
}

// RawBuf exposes the raw fixed buffer for low-level frame construction and
// for the RX worker to read bytes directly into place.
func (m *Message) RawBuf() []byte { return m.buf[:] }

// SetValidLen sets the number of valid bytes directly; used by the wire
// codec and the RX worker, which know exactly how many bytes they placed.
func (m *Message) SetValidLen(n int) error {
	if n > bufferCapacity {
		m.IsError = true
		return ErrTooLong
	}
	m.validLen = n
	return nil
}

// --- cursor-based payload writers (little-endian) ---

func (m *Message) checkWrite(n int) bool {
	if m.IsError {
		return false
	}
	if m.cursor < 0 || m.cursor+n > bufferCapacity {
		m.IsError = true
		return false
	}
	return true
}

// WrU8 appends an 8-bit value at the cursor and advances it.
func (m *Message) WrU8(v uint8) {
	if !m.checkWrite(1) {
		return
	}
	m.buf[m.cursor] = v
	m.cursor++
	_ = m.growTo(m.cursor)
}

// WrU16 appends a little-endian 16-bit value at the cursor.
func (m *Message) WrU16(v uint16) {
	if !m.checkWrite(2) {
		return
	}
	m.buf[m.cursor] = byte(v)
	m.buf[m.cursor+1] = byte(v >> 8)
	m.cursor += 2
	_ = m.growTo(m.cursor)
}

// WrU32 appends a little-endian 32-bit value at the cursor.
func (m *Message) WrU32(v uint32) {
	if !m.checkWrite(4) {
		return
	}
	for i := 0; i < 4; i++ {
		m.buf[m.cursor+i] = byte(v >> (8 * i))
	}
	m.cursor += 4
	_ = m.growTo(m.cursor)
}

// WrU64 appends a little-endian 64-bit value at the cursor.
func (m *Message) WrU64(v uint64) {
	if !m.checkWrite(8) {
		return
	}
	for i := 0; i < 8; i++ {
		m.buf[m.cursor+i] = byte(v >> (8 * i))
	}
	m.cursor += 8
	_ = m.growTo(m.cursor)
}

// WrUX writes a value whose width in bits is nbits (8, 16, 32, or 64). It
// exists to give callers a single width-parametrized writer instead of the
// original C macro, which silently discarded its width argument — see
// DESIGN.md for the historical defect this replaces.
func (m *Message) WrUX(v uint64, nbits int) {
	switch nbits {
	case 8:
		m.WrU8(uint8(v))
	case 16:
		m.WrU16(uint16(v))
	case 32:
		m.WrU32(uint32(v))
	case 64:
		m.WrU64(v)
	default:
		m.IsError = true
	}
}

// WrBuf appends raw bytes at the cursor. data may be nil to perform a dummy
// write of nbytes zero bytes (matching the original's NULL-payload convention).
func (m *Message) WrBuf(data []byte, nbytes int) {
	if !m.checkWrite(nbytes) {
		return
	}
	if data != nil {
		copy(m.buf[m.cursor:m.cursor+nbytes], data)
	}
	m.cursor += nbytes
	_ = m.growTo(m.cursor)
}

func (m *Message) checkRead(n int) bool {
	if m.IsError {
		return false
	}
	if m.cursor < 0 || m.cursor+n > m.validLen {
		m.IsError = true
		return false
	}
	return true
}

// RdU8 reads an 8-bit value at the cursor and advances it.
func (m *Message) RdU8() uint8 {
	if !m.checkRead(1) {
		return 0
	}
	v := m.buf[m.cursor]
	m.cursor++
	return v
}

// RdU16 reads a little-endian 16-bit value at the cursor.
func (m *Message) RdU16() uint16 {
	if !m.checkRead(2) {
		return 0
	}
	v := uint16(m.buf[m.cursor]) | uint16(m.buf[m.cursor+1])<<8
	m.cursor += 2
	return v
}

// RdU32 reads a little-endian 32-bit value at the cursor.
func (m *Message) RdU32() uint32 {
	if !m.checkRead(4) {
		return 0
	}
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(m.buf[m.cursor+i]) << (8 * i)
	}
	m.cursor += 4
	return v
}

// RdU64 reads a little-endian 64-bit value at the cursor.
func (m *Message) RdU64() uint64 {
	if !m.checkRead(8) {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(m.buf[m.cursor+i]) << (8 * i)
	}
	m.cursor += 8
	return v
}

// RdUX reads a value whose width in bits is nbits.
func (m *Message) RdUX(nbits int) uint64 {
	switch nbits {
	case 8:
		return uint64(m.RdU8())
	case 16:
		return uint64(m.RdU16())
	case 32:
		return uint64(m.RdU32())
	case 64:
		return m.RdU64()
	default:
		m.IsError = true
		return 0
	}
}

// RdBuf reads nbytes at the cursor into data. data may be nil to perform a
// dummy (skip) read.
func (m *Message) RdBuf(data []byte, nbytes int) {
	if !m.checkRead(nbytes) {
		return
	}
	if data != nil {
		copy(data, m.buf[m.cursor:m.cursor+nbytes])
	}
	m.cursor += nbytes
}

// PeekU8 returns the byte at cursor+offset without advancing the cursor, or
// (-1) if out of range.
func (m *Message) PeekU8(offset int) int {
	idx := m.cursor + offset
	if idx < 0 || idx >= m.validLen {
		return -1
	}
	return int(m.buf[idx])
}

// ParseComplete verifies that the cursor has reached headerLen+ExpectedLen
// and sets IsError otherwise. The transport does not interpret payload
// fields, but it does enforce full consumption once a caller is done
// decoding a message's payload.
func (m *Message) ParseComplete(headerLen int) error {
	want := headerLen + m.ExpectedLen
	if m.cursor != want {
		m.IsError = true
		return fmt.Errorf("%w: cursor=%d want=%d", ErrParseIncomplete, m.cursor, want)
	}
	return nil
}
