package mtmsg

import "fmt"

// Device-level command bytes for the handful of SYS/UTIL messages spec §6
// calls out by name. Subsystem IDs are cmd0's low 5 bits; cmd1 is the
// command id within that subsystem.
const (
	subsystemSYS  = 0x01
	subsystemUTIL = 0x07

	cmd1SysResetReq   = 0x00
	cmd1SysResetInd   = 0x80
	cmd1SysVersionReq = 0x02

	cmd1UtilGetExtAddr = 0xEE
	cmd1UtilLoopback   = 0x10
)

// ResetType selects a cold or warm SYS_RESET_REQ, per spec §6.
type ResetType uint8

const (
	ResetCold ResetType = 0
	ResetWarm ResetType = 1
)

// NewSysResetReq builds the SYS_RESET_REQ AREQ: one payload byte selecting
// the reset type.
func NewSysResetReq(t ResetType) *Message {
	m := Alloc(1, (int(ClassAREQ)<<5)|subsystemSYS, cmd1SysResetReq)
	m.WrU8(uint8(t))
	return m
}

// ResetIndication is the parsed payload of a SYS_RESET_IND AREQ: the
// co-processor's startup reason and firmware identification.
type ResetIndication struct {
	Reason        uint8
	TransportRev  uint8
	ProductID     uint8
	MajorRel      uint8
	MinorRel      uint8
	HwRev         uint8
}

// IsSysResetInd reports whether msg is a SYS_RESET_IND AREQ.
func IsSysResetInd(msg *Message) bool {
	return msg.Class() == ClassAREQ && !msg.IsExtended() &&
		msg.SubsystemID() == subsystemSYS && msg.Cmd1 == cmd1SysResetInd
}

// ParseSysResetInd decodes a SYS_RESET_IND payload. The message's cursor
// must be positioned at the start of the payload.
func ParseSysResetInd(msg *Message) (ResetIndication, error) {
	var ind ResetIndication
	ind.Reason = msg.RdU8()
	ind.TransportRev = msg.RdU8()
	ind.ProductID = msg.RdU8()
	ind.MajorRel = msg.RdU8()
	ind.MinorRel = msg.RdU8()
	ind.HwRev = msg.RdU8()
	if msg.IsError {
		return ResetIndication{}, fmt.Errorf("mtmsg: short SYS_RESET_IND payload")
	}
	return ind, nil
}

// NewSysVersionReq builds the SYS_VERSION_REQ SREQ (empty payload).
func NewSysVersionReq() *Message {
	return Alloc(0, (int(ClassSREQ)<<5)|subsystemSYS, cmd1SysVersionReq)
}

// VersionInfo is the parsed payload of a SYS_VERSION_REQ SRSP, mirroring the
// original mt_version_info structure.
type VersionInfo struct {
	TransportRev uint8
	ProductID    uint8
	MajorRel     uint8
	MinorRel     uint8
	MaintRel     uint8
	Revision     uint32
}

// ParseSysVersionSrsp decodes a SYS_VERSION_REQ SRSP payload.
func ParseSysVersionSrsp(msg *Message) (VersionInfo, error) {
	var v VersionInfo
	v.TransportRev = msg.RdU8()
	v.ProductID = msg.RdU8()
	v.MajorRel = msg.RdU8()
	v.MinorRel = msg.RdU8()
	v.MaintRel = msg.RdU8()
	v.Revision = msg.RdU32()
	if msg.IsError {
		return VersionInfo{}, fmt.Errorf("mtmsg: short SYS_VERSION SRSP payload")
	}
	return v, nil
}

// NewUtilGetExtAddrReq builds the MT_UTIL_GET_EXT_ADDR SREQ (empty payload).
func NewUtilGetExtAddrReq() *Message {
	return Alloc(0, (int(ClassSREQ)<<5)|subsystemUTIL, cmd1UtilGetExtAddr)
}

// ParseUtilGetExtAddrSrsp decodes the 8-byte IEEE extended address payload.
func ParseUtilGetExtAddrSrsp(msg *Message) ([8]byte, error) {
	var addr [8]byte
	msg.RdBuf(addr[:], 8)
	if msg.IsError {
		return addr, fmt.Errorf("mtmsg: short MT_UTIL_GET_EXT_ADDR SRSP payload")
	}
	return addr, nil
}

// NewUtilLoopbackReq builds the MT_UTIL_LOOPBACK SREQ, echoing data back
// verbatim in the matching SRSP.
func NewUtilLoopbackReq(data []byte) *Message {
	m := Alloc(len(data), (int(ClassSREQ)<<5)|subsystemUTIL, cmd1UtilLoopback)
	m.WrBuf(data, len(data))
	return m
}

// ParseUtilLoopbackSrsp returns the echoed payload of a MT_UTIL_LOOPBACK SRSP.
func ParseUtilLoopbackSrsp(msg *Message) []byte {
	p := msg.Payload(msg.Cursor())
	if msg.ExpectedLen >= 0 && msg.ExpectedLen < len(p) {
		p = p[:msg.ExpectedLen]
	}
	return p
}
