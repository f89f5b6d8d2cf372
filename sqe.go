// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Submission/Completion Queue Entry wire layout and the command
// encoder (§3, §4.4).

package nvmecore

// Admin opcodes (§4.4).
const (
	opDeleteIOSQ  = 0x00
	opCreateIOSQ  = 0x01
	opGetLogPage  = 0x02
	opDeleteIOCQ  = 0x04
	opCreateIOCQ  = 0x05
	opIdentify    = 0x06
	opAbort       = 0x08
	opSetFeatures = 0x09
	opGetFeatures = 0x0A
	opAsyncEvReq  = 0x0C
	opFwCommit    = 0x10
	opFwDownload  = 0x11
	opSanitize    = 0x84
)

// Identify CNS values (§4.4).
const (
	cnsNamespace        = 0x00
	cnsController       = 0x01
	cnsNsIDList         = 0x02
	cnsNsIDDescList     = 0x03
	cnsAllocatedNsList  = 0x10
	cnsCtrlListForNsid  = 0x13
)

// I/O (NVM command set) opcodes (§4.4).
const (
	opFlush      = 0x00
	opWrite      = 0x01
	opRead       = 0x02
	opWriteUncor = 0x04
	opCompare    = 0x05
	opWriteZero  = 0x08
	opDsm        = 0x09
	opVerify     = 0x0C
)

// Feature identifiers used by this core (§4.6).
const (
	featNumberOfQueues = 0x07
	featAsyncEventCfg  = 0x0B
)

// Log page identifiers (§4.6).
const (
	logSmart = 0x02
	logError = 0x01
)

// Sanitize actions (§4.6).
const (
	sanitizeBlockErase  = 0x02
	sanitizeOverwrite   = 0x03
	sanitizeCryptoErase = 0x04
)

// sqe is the exact 64-byte Submission Queue Entry layout (§3, §6).
type sqe struct {
	CDW0  uint32
	NSID  uint32
	CDW2  uint32
	CDW3  uint32
	MPTR  uint64
	PRP1  uint64
	PRP2  uint64
	CDW10 uint32
	CDW11 uint32
	CDW12 uint32
	CDW13 uint32
	CDW14 uint32
	CDW15 uint32
}

// cqe is the exact 16-byte Completion Queue Entry layout (§3, §6).
type cqe struct {
	DW0    uint32
	DW1    uint32
	SQHead uint16
	SQID   uint16
	CID    uint16
	SF     uint16
}

// phase reports the phase tag (bit 0 of the status field).
func (c cqe) phase() bool { return c.SF&1 != 0 }

// status reports the 11-bit NVMe status code (bits 11:1 of SF,
// §3: "the next 11 bits are the NVMe status code").
func (c cqe) status() uint16 { return (c.SF >> 1) & 0x7FF }

func (c cqe) ok() bool { return c.status() == 0 }

// cmd is a partially-filled command record; ToSQE finalizes it with a
// command identifier (§4.4).
type cmd struct {
	opc   uint8
	nsid  uint32
	prp1  uint64
	prp2  uint64
	cdw10 uint32
	cdw11 uint32
	cdw12 uint32
}

// ToSQE returns the 64-byte SQE for this command with the given
// command identifier. CDW0 = (cid<<16) | opcode; all unused fields
// are zero (§3, §4.4).
func (c cmd) ToSQE(cid uint16) sqe {
	return sqe{
		CDW0:  uint32(cid)<<16 | uint32(c.opc),
		NSID:  c.nsid,
		PRP1:  c.prp1,
		PRP2:  c.prp2,
		CDW10: c.cdw10,
		CDW11: c.cdw11,
		CDW12: c.cdw12,
	}
}

func cmdIdentify(cns uint32, nsid uint32, prp1 uint64) cmd {
	return cmd{opc: opIdentify, nsid: nsid, prp1: prp1, cdw10: cns}
}

func cmdSetFeatures(fid uint8, cdw11 uint32) cmd {
	return cmd{opc: opSetFeatures, cdw10: uint32(fid), cdw11: cdw11}
}

func cmdGetFeatures(fid uint8) cmd {
	return cmd{opc: opGetFeatures, cdw10: uint32(fid)}
}

func cmdCreateIOCQ(qid, qsize uint16, prp1 uint64) cmd {
	return cmd{
		opc:   opCreateIOCQ,
		prp1:  prp1,
		cdw10: uint32(qsize-1)<<16 | uint32(qid),
		cdw11: 0x1, // physically contiguous, interrupts disabled
	}
}

func cmdCreateIOSQ(qid, qsize, cqid uint16, prp1 uint64) cmd {
	return cmd{
		opc:   opCreateIOSQ,
		prp1:  prp1,
		cdw10: uint32(qsize-1)<<16 | uint32(qid),
		cdw11: uint32(cqid)<<16 | 0x1,
	}
}

func cmdDeleteIOSQ(qid uint16) cmd {
	return cmd{opc: opDeleteIOSQ, cdw10: uint32(qid)}
}

func cmdDeleteIOCQ(qid uint16) cmd {
	return cmd{opc: opDeleteIOCQ, cdw10: uint32(qid)}
}

func cmdRead(nsid uint32, lba uint64, nlb uint16, prp1, prp2 uint64) cmd {
	return cmd{
		opc:   opRead,
		nsid:  nsid,
		prp1:  prp1,
		prp2:  prp2,
		cdw10: uint32(lba),
		cdw11: uint32(lba >> 32),
		cdw12: uint32(nlb) - 1,
	}
}

func cmdWrite(nsid uint32, lba uint64, nlb uint16, prp1, prp2 uint64) cmd {
	return cmd{
		opc:   opWrite,
		nsid:  nsid,
		prp1:  prp1,
		prp2:  prp2,
		cdw10: uint32(lba),
		cdw11: uint32(lba >> 32),
		cdw12: uint32(nlb) - 1,
	}
}

// cmdWriteUncor marks nlb blocks starting at lba as uncorrectable,
// without transferring host data (§4.4).
func cmdWriteUncor(nsid uint32, lba uint64, nlb uint16) cmd {
	return cmd{
		opc:   opWriteUncor,
		nsid:  nsid,
		cdw10: uint32(lba),
		cdw11: uint32(lba >> 32),
		cdw12: uint32(nlb) - 1,
	}
}

func cmdCompare(nsid uint32, lba uint64, nlb uint16, prp1, prp2 uint64) cmd {
	return cmd{
		opc:   opCompare,
		nsid:  nsid,
		prp1:  prp1,
		prp2:  prp2,
		cdw10: uint32(lba),
		cdw11: uint32(lba >> 32),
		cdw12: uint32(nlb) - 1,
	}
}

func cmdFlush(nsid uint32) cmd {
	return cmd{opc: opFlush, nsid: nsid}
}

func cmdVerify(nsid uint32, lba uint64, nlb uint16) cmd {
	return cmd{
		opc:   opVerify,
		nsid:  nsid,
		cdw10: uint32(lba),
		cdw11: uint32(lba >> 32),
		cdw12: uint32(nlb) - 1,
	}
}

func cmdWriteZeroes(nsid uint32, lba uint64, nlb uint16) cmd {
	return cmd{
		opc:   opWriteZero,
		nsid:  nsid,
		cdw10: uint32(lba),
		cdw11: uint32(lba >> 32),
		cdw12: uint32(nlb) - 1,
	}
}

func cmdDatasetManagement(nsid uint32, nr uint8, prp1 uint64, attr uint32) cmd {
	return cmd{opc: opDsm, nsid: nsid, prp1: prp1, cdw10: uint32(nr), cdw11: attr}
}

func cmdGetLogPage(lid uint8, numdl uint16, prp1 uint64) cmd {
	return cmd{opc: opGetLogPage, prp1: prp1, cdw10: uint32(lid) | uint32(numdl)<<16}
}

func cmdAsyncEventRequest() cmd {
	return cmd{opc: opAsyncEvReq}
}

func cmdAbort(sqid, cid uint16) cmd {
	return cmd{opc: opAbort, cdw10: uint32(cid)<<16 | uint32(sqid)}
}

func cmdSanitize(action uint8, ause bool, owpass uint8, oipbp, nodas bool) cmd {
	v := uint32(action & 0x7)
	if ause {
		v |= 1 << 3
	}
	v |= uint32(owpass&0xF) << 4
	if oipbp {
		v |= 1 << 8
	}
	if nodas {
		v |= 1 << 9
	}
	return cmd{opc: opSanitize, cdw10: v}
}

func cmdFwDownload(prp1, prp2 uint64, numd, offset uint32) cmd {
	return cmd{opc: opFwDownload, prp1: prp1, prp2: prp2, cdw10: numd, cdw11: offset}
}

func cmdFwCommit(slot, action uint8) cmd {
	return cmd{opc: opFwCommit, cdw10: uint32(action)<<3 | uint32(slot)}
}
