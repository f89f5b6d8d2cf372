// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Namespace I/O: Identify Namespace, then Read/Write/Compare/Verify/
// Flush/WriteZeroes/Trim dispatch over the owning controller's I/O
// queue fleet (§3, §4.7).

package nvmecore

import (
	"fmt"
	"unsafe"

	"github.com/dswarbrick/nvmecore/utils"
)

// Namespace is an immutable view constructed once via Identify
// Namespace (§3 "Namespace is immutable after construction").
type Namespace struct {
	ctrl *Controller
	nsid uint32

	lbaSize  int
	blockCnt uint64
	thin     bool
}

// OpenNamespace issues Identify Namespace (CNS=0x00) for nsid and
// returns the resulting immutable handle (§4.7).
func OpenNamespace(ctrl *Controller, nsid uint32) (*Namespace, error) {
	buf := ctrl.dma.Alloc(identBufSize)
	if buf == 0 {
		return nil, OoRamError{Size: identBufSize}
	}
	zeroFill(buf, identBufSize)
	defer ctrl.dma.Free(buf, identBufSize)

	phys := ctrl.dma.VirtToPhys(buf)
	if _, err := ctrl.adminSubmit(cmdIdentify(cnsNamespace, nsid, phys)); err != nil {
		return nil, err
	}

	ident := parseNsIdent(byteView(buf, identBufSize))
	if ident.LBASize == 0 {
		return nil, InvBufError{Reason: "namespace reports zero logical block size"}
	}

	return &Namespace{
		ctrl:     ctrl,
		nsid:     nsid,
		lbaSize:  ident.LBASize,
		blockCnt: ident.NSZE,
		thin:     ident.Thin,
	}, nil
}

// NSID returns the namespace identifier.
func (n *Namespace) NSID() uint32 { return n.nsid }

// LBASize returns the logical block size in bytes.
func (n *Namespace) LBASize() int { return n.lbaSize }

// BlockCount returns the namespace size in logical blocks.
func (n *Namespace) BlockCount() uint64 { return n.blockCnt }

// IsThin reports whether the namespace supports thin provisioning
// (NSFEAT bit 0, §4.7; supplements spec.md per original_source's
// NsId::is_thin).
func (n *Namespace) IsThin() bool { return n.thin }

// CapacityBytes returns the namespace size in bytes (supplements
// spec.md per original_source's NsId::size_bytes).
func (n *Namespace) CapacityBytes() uint64 { return n.blockCnt * uint64(n.lbaSize) }

// String renders a human-readable capacity summary.
func (n *Namespace) String() string {
	capacity := n.blockCnt * uint64(n.lbaSize)
	return fmt.Sprintf("nsid=%d %s (%d x %d-byte blocks)", n.nsid, utils.FormatBytes(capacity), n.blockCnt, n.lbaSize)
}

func (n *Namespace) checkRange(lba uint64, nlb uint16) error {
	if nlb == 0 {
		return InvBufError{Reason: "nlb must be non-zero"}
	}
	if lba+uint64(nlb) > n.blockCnt {
		return InvBufError{Reason: "transfer extends past namespace end"}
	}
	return nil
}

// transfer builds PRPs for buf, submits cm with them wired in, and
// frees the PRP list (if any) whether or not the command succeeded
// (§4.3 "Ownership").
func (n *Namespace) transfer(virt uintptr, length int, build func(prp1, prp2 uint64) cmd) (cqe, error) {
	prp1, prp2, list, err := buildPRP(n.ctrl.dma, virt, length)
	if err != nil {
		return cqe{}, err
	}
	defer list.Free(n.ctrl.dma)

	return n.ctrl.IOCommand(build(prp1, prp2))
}

// Read issues a Read command transferring nlb blocks starting at lba
// into the host buffer at virt (§4.7).
func (n *Namespace) Read(lba uint64, nlb uint16, virt uintptr) error {
	if err := n.checkRange(lba, nlb); err != nil {
		return err
	}
	_, err := n.transfer(virt, int(nlb)*n.lbaSize, func(prp1, prp2 uint64) cmd {
		return cmdRead(n.nsid, lba, nlb, prp1, prp2)
	})
	return err
}

// Write issues a Write command transferring nlb blocks starting at
// lba from the host buffer at virt (§4.7).
func (n *Namespace) Write(lba uint64, nlb uint16, virt uintptr) error {
	if err := n.checkRange(lba, nlb); err != nil {
		return err
	}
	_, err := n.transfer(virt, int(nlb)*n.lbaSize, func(prp1, prp2 uint64) cmd {
		return cmdWrite(n.nsid, lba, nlb, prp1, prp2)
	})
	return err
}

// Compare issues a Compare command, returning CmdFailError (status
// 0x285: SCT 2h, SC 85h, Compare Failure) if the device-resident data
// differs (§4.7).
func (n *Namespace) Compare(lba uint64, nlb uint16, virt uintptr) error {
	if err := n.checkRange(lba, nlb); err != nil {
		return err
	}
	_, err := n.transfer(virt, int(nlb)*n.lbaSize, func(prp1, prp2 uint64) cmd {
		return cmdCompare(n.nsid, lba, nlb, prp1, prp2)
	})
	return err
}

// Verify issues a Verify command: the device checks internal
// consistency without transferring data to the host (§4.7).
func (n *Namespace) Verify(lba uint64, nlb uint16) error {
	if err := n.checkRange(lba, nlb); err != nil {
		return err
	}
	_, err := n.ctrl.IOCommand(cmdVerify(n.nsid, lba, nlb))
	return err
}

// Flush commits all previously-completed writes to non-volatile media
// (§4.7).
func (n *Namespace) Flush() error {
	_, err := n.ctrl.IOCommand(cmdFlush(n.nsid))
	return err
}

// WriteZeroes writes deterministic zero data for nlb blocks starting
// at lba without a host data transfer (§4.7).
func (n *Namespace) WriteZeroes(lba uint64, nlb uint16) error {
	if err := n.checkRange(lba, nlb); err != nil {
		return err
	}
	_, err := n.ctrl.IOCommand(cmdWriteZeroes(n.nsid, lba, nlb))
	return err
}

// WriteUncorrectable marks nlb blocks starting at lba as uncorrectable
// without a host data transfer (§4.7).
func (n *Namespace) WriteUncorrectable(lba uint64, nlb uint16) error {
	if err := n.checkRange(lba, nlb); err != nil {
		return err
	}
	_, err := n.ctrl.IOCommand(cmdWriteUncor(n.nsid, lba, nlb))
	return err
}

// dsmRange is one 16-byte Dataset Management range descriptor (§4.7).
type dsmRange struct {
	CtxAttr uint32
	NLB     uint32
	SLBA    uint64
}

const dsmAttrDeallocate = 1 << 2

// Trim issues Dataset Management with the Deallocate attribute over a
// single contiguous range, freeing the DMA-resident range descriptor
// page after submission including on error (§4.7, supplements
// spec.md's explicit "dataset management" mention beyond the core
// transfer verbs).
func (n *Namespace) Trim(lba uint64, nlb uint32) error {
	if nlb == 0 {
		return InvBufError{Reason: "nlb must be non-zero"}
	}

	const descSize = int(unsafe.Sizeof(dsmRange{}))

	virt := n.ctrl.dma.Alloc(descSize)
	if virt == 0 {
		return OoRamError{Size: descSize}
	}
	defer n.ctrl.dma.Free(virt, descSize)
	zeroFill(virt, descSize)

	*(*dsmRange)(unsafe.Pointer(virt)) = dsmRange{NLB: nlb, SLBA: lba}

	phys := n.ctrl.dma.VirtToPhys(virt)
	_, err := n.ctrl.IOCommand(cmdDatasetManagement(n.nsid, 0, phys, dsmAttrDeallocate))
	return err
}
