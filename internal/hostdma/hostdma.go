// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package hostdma is a reference Dma provider backed by anonymous,
// page-locked mmap regions. It is meant for tests and benchmarks: a
// real host integration supplies its own Dma that hands out
// IOMMU-mapped or hugepage-backed memory instead.
package hostdma

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// Pool is an allocator that maps one anonymous region per Alloc. Since
// regular process memory is not physically contiguous in any
// meaningful sense to a real device, Pool fakes physical addresses by
// handing out the virtual address itself as VirtToPhys's return value
// -- callers outside a test harness must not rely on this.
type Pool struct {
	mu      sync.Mutex
	regions map[uintptr][]byte
}

// NewPool constructs an empty allocator.
func NewPool() *Pool {
	return &Pool{regions: make(map[uintptr][]byte)}
}

func roundUp(n, to int) int {
	return (n + to - 1) / to * to
}

// Alloc mmaps a zero-filled, page-locked anonymous region of at least
// size bytes and returns its virtual base address.
func (p *Pool) Alloc(size int) uintptr {
	if size <= 0 {
		return 0
	}
	length := roundUp(size, pageSize)

	region, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0
	}

	if err := unix.Mlock(region); err != nil {
		_ = unix.Munmap(region)
		return 0
	}

	virt := uintptr(unsafe.Pointer(&region[0]))

	p.mu.Lock()
	p.regions[virt] = region
	p.mu.Unlock()

	return virt
}

// Free munmaps a region previously returned by Alloc.
func (p *Pool) Free(virt uintptr, size int) {
	p.mu.Lock()
	region, ok := p.regions[virt]
	delete(p.regions, virt)
	p.mu.Unlock()

	if !ok {
		return
	}
	_ = unix.Munlock(region)
	_ = unix.Munmap(region)
}

// VirtToPhys returns virt unchanged: process virtual addresses are
// not physical addresses, but for a host-local loopback harness the
// identity mapping is sufficient since nothing outside this process
// ever dereferences the "physical" value.
func (p *Pool) VirtToPhys(virt uintptr) uint64 {
	return uint64(virt)
}

// Stat reports how many live regions this pool currently tracks, for
// leak detection in tests.
func (p *Pool) Stat() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%d live region(s)", len(p.regions))
}
