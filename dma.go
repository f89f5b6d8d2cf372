// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// DMA collaborator interface (§4.2, §6) and the PRP (Physical Region
// Page) list builder (§4.3).

package nvmecore

const pageSize = 4096

// Dma is the narrow interface the host supplies to the core for
// obtaining physically contiguous, identity-pinned memory. The core
// never assumes virt == phys; it only assumes a single allocation is
// physically contiguous up to its size (§4.2).
type Dma interface {
	// Alloc returns a zero-initialized virtual address for a buffer of
	// size bytes, or 0 on failure.
	Alloc(size int) uintptr
	// Free releases a buffer previously returned by Alloc.
	Free(virt uintptr, size int)
	// VirtToPhys translates a virtual address (anywhere within a
	// previously allocated buffer) to its physical address.
	VirtToPhys(virt uintptr) uint64
}

// PrpList is a list-page allocation owned by the in-flight command
// that built it (§3 Ownership). Callers must Free it once the
// corresponding submission completes, including on error.
type PrpList struct {
	addr uintptr
	size int
}

// Free releases the list page back to the DMA provider.
func (p *PrpList) Free(dma Dma) {
	if p == nil {
		return
	}
	dma.Free(p.addr, p.size)
}

// buildPRP turns a host virtual buffer (virt, len) into the (PRP1,
// PRP2) pair the device expects for data transfer, allocating an
// optional PRP list page for transfers spanning 3+ pages (§4.3).
func buildPRP(dma Dma, virt uintptr, length int) (prp1, prp2 uint64, list *PrpList, err error) {
	if virt&0x3 != 0 {
		return 0, 0, nil, InvBufError{Reason: "buffer not 4-byte aligned"}
	}

	prp1 = dma.VirtToPhys(virt)
	off := int(virt & 0xFFF)
	pages := (off + length + pageSize - 1) / pageSize

	if pages == 1 {
		return prp1, 0, nil, nil
	}

	if off != 0 {
		return 0, 0, nil, InvBufError{Reason: "multi-page transfer must start on a page boundary"}
	}

	if pages == 2 {
		prp2 = dma.VirtToPhys(virt + pageSize)
		return prp1, prp2, nil, nil
	}

	listBytes := (pages - 1) * 8
	listAligned := (listBytes + pageSize - 1) / pageSize * pageSize

	listVirt := dma.Alloc(listAligned)
	if listVirt == 0 {
		return 0, 0, nil, OoRamError{Size: listAligned}
	}

	entries := prpListEntries(listVirt, pages-1)
	for i := 0; i < pages-1; i++ {
		entries[i] = dma.VirtToPhys(virt + uintptr((i+1)*pageSize))
	}

	prp2 = dma.VirtToPhys(listVirt)
	return prp1, prp2, &PrpList{addr: listVirt, size: listAligned}, nil
}
