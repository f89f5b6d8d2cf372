// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Identify Controller / Identify Namespace / log page structures.
// Field layout matches the NVMe spec and is cross-checked against the
// teacher's nvme.go (nvmeIdentController / nvmeIdentNamespace /
// nvmeSMARTLog), extended with the fields original_source/src/id.rs
// carries that the teacher's trimmed-down struct didn't need.

package nvmecore

import (
	"bytes"
	"encoding/binary"
)

// pwrStateDesc is one Power State Descriptor within Identify Controller.
type pwrStateDesc struct {
	MaxPower  uint16
	_         uint8
	Flags     uint8
	EntryLat  uint32
	ExitLat   uint32
	ReadTput  uint8
	ReadLat   uint8
	WriteTput uint8
	WriteLat  uint8
	IdlePower uint16
	IdleScale uint8
	_         uint8
	ActivePwr uint16
	ActWScale uint8
	_         [9]byte
} // 32 bytes

// ctrlIdentRaw overlays the whole 4096-byte Identify Controller data
// structure; fields this core does not consume, and the reserved and
// vendor-specific regions, are blank padding. ident_test.go asserts
// the total size.
type ctrlIdentRaw struct {
	VendorID  uint16
	SSVID     uint16
	SN        [20]byte
	MN        [40]byte
	FR        [8]byte
	RAB       uint8
	IEEE      [3]byte
	CMIC      uint8
	MDTS      uint8
	CNTLID    uint16
	VER       uint32
	RTD3R     uint32
	RTD3E     uint32
	OAES      uint32
	_         [160]byte
	OACS      uint16
	ACL       uint8
	AERL      uint8
	FRMW      uint8
	LPA       uint8
	ELPE      uint8
	NPSS      uint8
	AVSCC     uint8
	APSTA     uint8
	WCTEMP    uint16
	CCTEMP    uint16
	MTFA      uint16
	HMPRE     uint32
	HMMIN     uint32
	TNVMCAP   [16]byte
	UNVMCAP   [16]byte
	RPMBS     uint32
	_         [196]byte
	SQES      uint8
	CQES      uint8
	_         [2]byte
	NN        uint32
	ONCS      uint16
	FUSES     uint16
	FNA       uint8
	VWC       uint8
	AWUN      uint16
	AWUPF     uint16
	NVSCC     uint8
	_         uint8
	ACWU      uint16
	_         [2]byte
	SGLS      uint32
	_         [1508]byte
	PSD       [32]pwrStateDesc
	_         [1024]byte
} // 4096 bytes

// CtrlIdent is the host-facing, parsed view of Identify Controller
// data (§3 "Controller data").
type CtrlIdent struct {
	VendorID uint16
	Serial   string
	Model    string
	Firmware string
	MDTS     uint8 // raw field; see MaxTransferSize
	OUI      uint32
	Version  uint32 // raw VER register value; see Major/Minor/Tertiary
}

// Major, Minor and Tertiary decode the controller's reported NVMe
// version (supplements spec.md per original_source's CtrlId::version).
func (c CtrlIdent) Major() uint8    { return uint8(c.Version >> 16) }
func (c CtrlIdent) Minor() uint8    { return uint8(c.Version >> 8) }
func (c CtrlIdent) Tertiary() uint8 { return uint8(c.Version) }

func trimASCII(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}

// parseCtrlIdent decodes a 4096-byte Identify Controller buffer.
func parseCtrlIdent(buf []byte) CtrlIdent {
	var raw ctrlIdentRaw
	_ = binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw)

	return CtrlIdent{
		VendorID: raw.VendorID,
		Serial:   trimASCII(raw.SN[:]),
		Model:    trimASCII(raw.MN[:]),
		Firmware: trimASCII(raw.FR[:]),
		MDTS:     raw.MDTS,
		OUI:      uint32(raw.IEEE[0]) | uint32(raw.IEEE[1])<<8 | uint32(raw.IEEE[2])<<16,
		Version:  raw.VER,
	}
}

// maxTransferSize computes MDTS (§4.6): min_pg << MDTS, unbounded
// (represented as 0, meaning "no limit") if MDTS == 0.
func maxTransferSize(mdts uint8, minPage int) int {
	if mdts == 0 {
		return 0
	}
	return minPage << mdts
}

// lbaFormat is one LBA Format Data Structure entry.
type lbaFormat struct {
	MS    uint16
	LBADS uint8
	RP    uint8
}

func (f lbaFormat) lbaSize() int {
	if f.LBADS == 0 {
		return 0
	}
	return 1 << f.LBADS
}

// nsIdentRaw overlays the Identify Namespace data structure fields
// this core consumes.
type nsIdentRaw struct {
	NSZE    uint64
	NCAP    uint64
	NUSE    uint64
	NSFeat  uint8
	NLBAF   uint8
	FLBAS   uint8
	MC      uint8
	DPC     uint8
	DPS     uint8
	NMIC    uint8
	RESCAP  uint8
	FPI     uint8
	_       uint8
	NAWUN   uint16
	NAWUPF  uint16
	NACWU   uint16
	NABSN   uint16
	NABO    uint16
	NABSPF  uint16
	_       [2]byte
	NVMCAP  [16]byte
	_       [40]byte
	NGUID   [16]byte
	EUI64   [8]byte
	LBAF    [16]lbaFormat
	_       [192]byte
	_       [3712]byte
} // 4096 bytes

// NsIdent is the host-facing, parsed view of Identify Namespace data
// (§3, §4.7).
type NsIdent struct {
	NSZE           uint64 // block count
	NCAP           uint64
	LBASize        int
	MetaSize       int
	FormattedIndex uint8
	Thin           bool
}

func parseNsIdent(buf []byte) NsIdent {
	var raw nsIdentRaw
	_ = binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw)

	idx := raw.FLBAS & 0x0F
	var lbaSize, metaSize int
	if int(idx) < len(raw.LBAF) {
		lbaSize = raw.LBAF[idx].lbaSize()
		metaSize = int(raw.LBAF[idx].MS)
	}

	return NsIdent{
		NSZE:           raw.NSZE,
		NCAP:           raw.NCAP,
		LBASize:        lbaSize,
		MetaSize:       metaSize,
		FormattedIndex: idx,
		Thin:           raw.NSFeat&0x01 != 0,
	}
}

// logSmartRaw is the raw SMART / Health Information log page (LID
// 0x02, 512 bytes).
type logSmartRaw struct {
	CritWarning  uint8
	Temperature  [2]uint8
	AvailSpare   uint8
	SpareThresh  uint8
	PercentUsed  uint8
	EnduranceCW  uint8
	_            [25]byte
	DataUnitsRd  [16]byte
	DataUnitsWr  [16]byte
	HostReads    [16]byte
	HostWrites   [16]byte
	CtrlBusyTime [16]byte
	PowerCycles  [16]byte
	PowerOnHrs   [16]byte
	UnsafeShtdn  [16]byte
	MediaErrors  [16]byte
	NumErrLogEnt [16]byte
	WarningTemp  uint32
	CritCompTemp uint32
	TempSensor   [8]uint16
	_            [296]byte
} // 512 bytes

// LogSmart is the host-facing view of the SMART log page.
type LogSmart struct {
	CritWarning uint8
	TempKelvin  uint16
	AvailSpare  uint8
	SpareThresh uint8
	PercentUsed uint8
}

func parseLogSmart(buf []byte) LogSmart {
	var raw logSmartRaw
	_ = binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw)

	return LogSmart{
		CritWarning: raw.CritWarning,
		TempKelvin:  uint16(raw.Temperature[0]) | uint16(raw.Temperature[1])<<8,
		AvailSpare:  raw.AvailSpare,
		SpareThresh: raw.SpareThresh,
		PercentUsed: raw.PercentUsed,
	}
}

// logErrRaw is one Error Information Log Entry (64 bytes).
type logErrRaw struct {
	ErrCount  uint64
	SQID      uint16
	CmdID     uint16
	Status    uint16
	ParmLoc   uint16
	LBA       uint64
	NSID      uint32
	VendorSp  uint8
	TrType    uint8
	_         [2]byte
	CmdSpec   uint64
	TrTypeSp  uint16
	_         [22]byte
} // 64 bytes

// LogErr is the host-facing view of one error log entry.
type LogErr struct {
	ErrCount uint64
	SQID     uint16
	CmdID    uint16
	Status   uint16
	LBA      uint64
	NSID     uint32
}

func parseLogErrEntries(buf []byte, maxEntries int) []LogErr {
	const entrySize = 64
	entries := make([]LogErr, 0, maxEntries)

	for i := 0; i < maxEntries; i++ {
		start := i * entrySize
		if start+entrySize > len(buf) {
			break
		}

		var raw logErrRaw
		_ = binary.Read(bytes.NewReader(buf[start:start+entrySize]), binary.LittleEndian, &raw)

		// §9: "reads until err_cnt == 0; if valid entries legitimately
		// carry zero count this terminates early" -- ambiguity in the
		// source preserved intentionally.
		if raw.ErrCount == 0 {
			break
		}

		entries = append(entries, LogErr{
			ErrCount: raw.ErrCount,
			SQID:     raw.SQID,
			CmdID:    raw.CmdID,
			Status:   raw.Status,
			LBA:      raw.LBA,
			NSID:     raw.NSID,
		})
	}

	return entries
}

// AsyncEventConfig builds the Set Features(FID=0x0B) payload value
// for configuring asynchronous event notification (§4.6).
type AsyncEventConfig struct {
	value uint32
}

func (c *AsyncEventConfig) EnableSmartCritical() *AsyncEventConfig {
	c.value |= 1 << 0
	return c
}

func (c *AsyncEventConfig) EnableNamespaceAttribute() *AsyncEventConfig {
	c.value |= 1 << 8
	return c
}

func (c *AsyncEventConfig) EnableFirmwareActivation() *AsyncEventConfig {
	c.value |= 1 << 9
	return c
}

// AsyncEventInfo decodes a completed Asynchronous Event Request's DW0
// (supplements spec.md's "configure only" AER coverage, per
// original_source/src/id.rs AsyncEventInfo).
type AsyncEventInfo struct {
	dw0 uint32
}

func ParseAsyncEventInfo(dw0 uint32) AsyncEventInfo { return AsyncEventInfo{dw0: dw0} }

func (i AsyncEventInfo) EventType() uint8 { return uint8(i.dw0 & 0x7) }
func (i AsyncEventInfo) EventInfo() uint8 { return uint8((i.dw0 >> 8) & 0xFF) }
func (i AsyncEventInfo) LogPage() uint8   { return uint8((i.dw0 >> 16) & 0xFF) }

const (
	aerTypeError  = 0
	aerTypeSmart  = 1
	aerTypeNotice = 2
)
