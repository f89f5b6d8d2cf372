// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Submission/Completion queue pair: ring-buffer protocol against a
// DMA-resident queue memory and MMIO doorbells (§3, §4.5, §5).

package nvmecore

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

const (
	sqeSize = 64
	cqeSize = 16
)

// sq is the submission queue half of a queue pair.
type sq struct {
	qid  uint16
	virt uintptr
	phys uint64
	size uint16

	tail    uint16 // producer index, guarded by QueuePair.mu
	cid     uint32 // monotonically increasing command-id counter
	pending int32  // outstanding command count, atomic
}

func newSQ(qid uint16, size uint16, dma Dma) (*sq, error) {
	bytes := int(size) * sqeSize
	virt := dma.Alloc(bytes)
	if virt == 0 {
		return nil, OoRamError{Size: bytes}
	}
	zeroFill(virt, bytes)

	return &sq{
		qid:  qid,
		virt: virt,
		phys: dma.VirtToPhys(virt),
		size: size,
	}, nil
}

func (s *sq) free(dma Dma) {
	dma.Free(s.virt, int(s.size)*sqeSize)
}

func (s *sq) entry(idx uint16) *sqe {
	return (*sqe)(unsafe.Pointer(s.virt + uintptr(idx)*sqeSize))
}

// nextCID allocates a fresh, opaque 16-bit command-identifier token
// (§3 Queue Pair invariant (d)).
func (s *sq) nextCID() uint16 {
	return uint16(atomic.AddUint32(&s.cid, 1) - 1)
}

// submit writes e at the current tail slot with a single
// volatile store-sequence, advances the tail modulo size, and rings
// the SQ doorbell. Caller must hold the owning QueuePair's mutex
// (single-writer discipline, §4.5, §5).
func (s *sq) submit(e sqe, mmio mmioWindow, dstrd uint8) {
	atomic.AddInt32(&s.pending, 1)

	tail := s.tail
	*s.entry(tail) = e

	next := (tail + 1) % s.size

	db := doorbellSQ(s.qid, dstrd)
	mmio.ringDoorbell(db, uint32(next))

	// s.tail is only ever touched by the single caller holding the
	// owning QueuePair's mutex; the mutex's unlock/lock pair supplies
	// the happens-after relationship §5 requires between the SQE
	// write, the doorbell write, and the next caller's view of tail.
	s.tail = next
}

func (s *sq) isIdle() bool {
	return atomic.LoadInt32(&s.pending) == 0
}

// cq is the completion queue half of a queue pair.
type cq struct {
	qid  uint16
	virt uintptr
	phys uint64
	size uint16

	head  uint16 // consumer index, guarded by QueuePair.mu
	phase uint8  // expected phase bit, starts at 1 (§3)
}

func newCQ(qid uint16, size uint16, dma Dma) (*cq, error) {
	bytes := int(size) * cqeSize
	virt := dma.Alloc(bytes)
	if virt == 0 {
		return nil, OoRamError{Size: bytes}
	}
	zeroFill(virt, bytes)

	return &cq{
		qid:   qid,
		virt:  virt,
		phys:  dma.VirtToPhys(virt),
		size:  size,
		phase: 1,
	}, nil
}

func (c *cq) free(dma Dma) {
	dma.Free(c.virt, int(c.size)*cqeSize)
}

func (c *cq) entry(idx uint16) *cqe {
	return (*cqe)(unsafe.Pointer(c.virt + uintptr(idx)*cqeSize))
}

// poll busy-waits for the CQE matching expectedCID, in the expected
// phase, then advances head and rings the CQ doorbell (§4.5).
func (c *cq) poll(expectedCID uint16, mmio mmioWindow, dstrd uint8) cqe {
	expectedPhase := c.phase

	var entry cqe
	for {
		entry = *c.entry(c.head)
		phaseBit := uint8(0)
		if entry.phase() {
			phaseBit = 1
		}
		if phaseBit == expectedPhase && entry.CID == expectedCID {
			break
		}
	}

	next := (c.head + 1) % c.size
	if next == 0 {
		if expectedPhase == 1 {
			c.phase = 0
		} else {
			c.phase = 1
		}
	}
	c.head = next

	db := doorbellCQ(c.qid, dstrd)
	mmio.ringDoorbell(db, uint32(next))

	return entry
}

// QueuePair is a submission queue plus a completion queue sharing one
// numeric identifier (§3). It offers synchronous, serial-per-queue
// submission: one mutex serializes Submit, matching the "single-
// writer, single-reader" concurrency model of §5.
type QueuePair struct {
	qid uint16
	mu  sync.Mutex
	sq  *sq
	cq  *cq
}

// newQueuePair allocates a submission+completion queue pair of the
// given ring size (§3 invariant (a): SQ is size*64 bytes, CQ is
// size*16 bytes, both DMA-contiguous).
func newQueuePair(qid uint16, size uint16, dma Dma) (*QueuePair, error) {
	if size == 0 {
		return nil, FullQpError{Reason: "queue size must be non-zero"}
	}

	s, err := newSQ(qid, size, dma)
	if err != nil {
		return nil, err
	}

	c, err := newCQ(qid, size, dma)
	if err != nil {
		s.free(dma)
		return nil, err
	}

	return &QueuePair{qid: qid, sq: s, cq: c}, nil
}

func (q *QueuePair) free(dma Dma) {
	q.sq.free(dma)
	q.cq.free(dma)
}

// QID returns this queue pair's numeric identifier (0 = admin).
func (q *QueuePair) QID() uint16 { return q.qid }

// SQPhys returns the physical base address of the submission queue ring.
func (q *QueuePair) SQPhys() uint64 { return q.sq.phys }

// CQPhys returns the physical base address of the completion queue ring.
func (q *QueuePair) CQPhys() uint64 { return q.cq.phys }

// Submit allocates a fresh command identifier, encodes cmd to an SQE,
// submits it, and blocks until the matching CQE is consumed (§4.5
// "Queue.submit"). A single queue pair may not have more than one
// in-flight command at a time; callers must not call Submit
// concurrently expecting interleaved completion -- the mutex below
// enforces exactly the "one caller at a time" contract, not pipelining.
func (q *QueuePair) Submit(c cmd, mmio mmioWindow, dstrd uint8) (cqe, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cid := q.sq.nextCID()
	entry := c.ToSQE(cid)

	q.sq.submit(entry, mmio, dstrd)
	result := q.cq.poll(cid, mmio, dstrd)

	atomic.AddInt32(&q.sq.pending, -1)

	if !result.ok() {
		return result, CmdFailError{Status: result.SF >> 1}
	}
	return result, nil
}

// IsIdle reports whether this queue pair has zero pending commands
// (§4.5 "Idleness"), the teardown gate used by the controller.
func (q *QueuePair) IsIdle() bool {
	return q.sq.isIdle()
}
