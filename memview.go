// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Helpers for viewing host-virtual DMA addresses as typed Go slices.
// This is the same raw-pointer-overlay technique the teacher uses in
// nvme.go (binary.Read over a []byte built from a pointer), applied
// to addresses that come from the Dma collaborator instead of a
// syscall buffer.

package nvmecore

import "unsafe"

// byteView returns a []byte overlaying n bytes starting at virt.
func byteView(virt uintptr, n int) []byte {
	if virt == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(virt)), n)
}

// prpListEntries returns a []uint64 overlaying n PRP list entries
// starting at virt (each entry is one physical page address, §4.3).
func prpListEntries(virt uintptr, n int) []uint64 {
	if virt == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(virt)), n)
}

func zeroFill(virt uintptr, n int) {
	b := byteView(virt, n)
	for i := range b {
		b[i] = 0
	}
}
