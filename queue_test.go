// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/nvmecore/internal/hostdma"
)

func newTestMMIO(backing []byte) mmioWindow {
	return mmioWindow{base: uintptr(unsafe.Pointer(&backing[0]))}
}

// drive services a queue pair as if it were the device: it watches
// the SQ doorbell, copies each submitted entry straight back as a
// zero-status completion in the matching CID, in its own producer
// phase -- just enough to exercise the ring-buffer and phase-bit
// protocol without needing the full controller model. The CQ doorbell
// is rung by the consumer side (cq.poll), not from here.
func drive(qp *QueuePair, mmio mmioWindow, dstrd uint8, stop <-chan struct{}) {
	lastTail := uint16(0)
	// producerHead/producerPhase are this fake device's own view of the
	// CQ ring; the real consumer side (cq.poll, driven by Submit) keeps
	// its own head/phase and must never be written from here.
	producerHead := uint16(0)
	producerPhase := uint8(1)

	for {
		select {
		case <-stop:
			return
		default:
		}

		tail := mmio.read32(doorbellSQ(qp.sq.qid, dstrd))
		for lastTail != uint16(tail) {
			e := *qp.sq.entry(lastTail)
			lastTail = (lastTail + 1) % qp.sq.size
			cid := uint16(e.CDW0 >> 16)

			*qp.cq.entry(producerHead) = cqe{CID: cid, SF: uint16(producerPhase)}

			next := (producerHead + 1) % qp.cq.size
			if next == 0 {
				producerPhase ^= 1
			}
			producerHead = next
		}
	}
}

func TestQueuePairPhaseLawAfterFiveSubmits(t *testing.T) {
	pool := hostdma.NewPool()
	qp, err := newQueuePair(1, 4, pool)
	require.NoError(t, err)
	defer qp.free(pool)

	regBuf := make([]byte, 0x2000)
	window := newTestMMIO(regBuf)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		drive(qp, window, 0, stop)
	}()

	seenCIDs := map[uint16]bool{}
	for i := 0; i < 5; i++ {
		result, err := qp.Submit(cmdFlush(1), window, 0)
		require.NoError(t, err)
		assert.False(t, seenCIDs[result.CID], "CID reused: %d", result.CID)
		seenCIDs[result.CID] = true
	}

	close(stop)
	wg.Wait()

	assert.Len(t, seenCIDs, 5)
	// Queue size 4: 5 submits must wrap the ring and toggle phase once.
	assert.EqualValues(t, 1, qp.cq.head)
	assert.EqualValues(t, 0, qp.cq.phase)
}
