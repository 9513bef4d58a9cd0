package mtmsg

// Extension minor types, from the top three bits of the extension
// descriptor byte (spec §4.1 table).
const (
	extMinorStackScoped = 1
	extMinorFragData    = 2
	extMinorFragAck     = 3
	extMinorExtStatus   = 4
)

// Fragment/extended-status codes shared by frag-ACK and ext-status carriers.
const (
	FragStatusSuccess             = 0
	FragStatusResendLast          = 1
	FragStatusUnsupportedStackID  = 2
	FragStatusBlockOutOfOrder     = 3
	FragStatusBlockLenChanged     = 4
	FragStatusMemAllocError       = 5
	FragStatusFragComplete        = 6
	FragStatusFragAborted         = 7
	FragStatusUnsupportedAck      = 8
)

// classify computes msg.kind from cmd0 and, for extended messages, the
// first payload byte, which it peeks at the cursor: callers leave the cursor
// at the payload start (the RX worker at the header length, a message built
// with Wr* rewound to 0). It must only be called once enough of the message has
// been read: the header, plus one more byte when the extension bit is set.
// Per the design notes, kind is a sum type computed lazily and is never
// mutated once a classification has succeeded.
func classify(msg *Message) {
	if msg.valid {
		return
	}
	base := msg.Class()
	if !msg.IsExtended() {
		switch base {
		case ClassSREQ:
			msg.kind = KindSREQ
		case ClassSRSP:
			msg.kind = KindSRSP
		case ClassPoll:
			msg.kind = KindPoll
		case ClassAREQ:
			msg.kind = KindAREQ
		}
		msg.valid = true
		return
	}

	desc := msg.PeekU8(0)
	if desc < 0 {
		// Not enough bytes read yet to classify; leave unresolved.
		return
	}
	minor := (desc >> 5) & 0x7

	switch {
	case minor == extMinorStackScoped:
		switch base {
		case ClassSREQ:
			msg.kind = KindSREQStack
		case ClassSRSP:
			msg.kind = KindSRSPStack
		case ClassPoll:
			msg.kind = KindPollStack
		case ClassAREQ:
			msg.kind = KindAREQStack
		}
	case minor == extMinorFragData:
		switch base {
		case ClassSREQ:
			msg.kind = KindSREQFragData
		case ClassSRSP:
			msg.kind = KindSRSPFragData
		case ClassAREQ:
			msg.kind = KindAREQFragData
		default:
			msg.kind = KindUnknown
			msg.IsError = true
		}
	case minor == extMinorFragAck:
		switch base {
		case ClassSREQ:
			msg.kind = KindSREQFragAck
		case ClassSRSP:
			msg.kind = KindSRSPFragAck
		case ClassAREQ:
			msg.kind = KindAREQFragAck
		default:
			msg.kind = KindUnknown
			msg.IsError = true
		}
	case minor == extMinorExtStatus:
		switch base {
		case ClassSREQ:
			msg.kind = KindSREQExtStatus
		case ClassSRSP:
			msg.kind = KindSRSPExtStatus
		case ClassAREQ:
			msg.kind = KindAREQExtStatus
		default:
			msg.kind = KindUnknown
			msg.IsError = true
		}
	default:
		msg.kind = KindUnknown
		msg.IsError = true
	}
	msg.valid = true
}

// extStackID returns the stack id in the low 3 bits of the extension
// descriptor byte of a stack-scoped message.
func extStackID(desc int) int { return desc & 0x7 }

// isFragDataKind reports whether k is one of the frag-data variants.
func isFragDataKind(k Kind) bool {
	return k == KindSREQFragData || k == KindSRSPFragData || k == KindAREQFragData
}

// isFragAckKind reports whether k is one of the frag-ack variants.
func isFragAckKind(k Kind) bool {
	return k == KindSREQFragAck || k == KindSRSPFragAck || k == KindAREQFragAck
}

// isExtStatusKind reports whether k is one of the ext-status variants.
func isExtStatusKind(k Kind) bool {
	return k == KindSREQExtStatus || k == KindSRSPExtStatus || k == KindAREQExtStatus
}
