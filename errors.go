// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Error kinds produced by the driver core (§7). Each is a concrete
// struct type implementing error, following the style of
// scsi/sgio.go's SgioError in the teacher repo.

package nvmecore

import (
	"fmt"

	"github.com/dswarbrick/nvmecore/internal/statuscode"
)

// TimeoutError is reserved for a future timeout policy (§9); the
// current core never produces it.
type TimeoutError struct{}

func (e TimeoutError) Error() string { return "nvmecore: operation timed out" }

// OoRamError indicates the DMA provider failed to satisfy an
// allocation request.
type OoRamError struct {
	Size int
}

func (e OoRamError) Error() string {
	return fmt.Sprintf("nvmecore: DMA allocation of %d bytes failed", e.Size)
}

// InvQpError indicates an operation referenced a queue pair that does
// not exist (admin teardown, I/O on an empty queue set, unknown qid).
type InvQpError struct {
	Reason string
}

func (e InvQpError) Error() string { return "nvmecore: invalid queue pair: " + e.Reason }

// FullQpError indicates no free qid slot was available, or a
// zero-size queue was requested.
type FullQpError struct {
	Reason string
}

func (e FullQpError) Error() string { return "nvmecore: cannot create queue pair: " + e.Reason }

// CmdFailError wraps a non-zero NVMe completion status (§7). Status
// carries the raw 15-bit SCT+SC+flags field verbatim so callers can
// interpret it themselves.
type CmdFailError struct {
	Status uint16
}

func (e CmdFailError) Error() string {
	return fmt.Sprintf("nvmecore: command failed: status=%#03x (%s)", e.Status, statuscode.Describe(e.Status))
}

// IoError is reserved for MMIO-level faults surfaced by the host;
// the core itself never originates one.
type IoError struct {
	Reason string
}

func (e IoError) Error() string { return "nvmecore: I/O error: " + e.Reason }

// InvBufError indicates a buffer violated the PRP alignment
// prerequisites (§4.3), or a log page length was not a multiple of 4.
type InvBufError struct {
	Reason string
}

func (e InvBufError) Error() string { return "nvmecore: invalid buffer: " + e.Reason }
