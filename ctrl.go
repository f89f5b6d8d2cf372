// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Controller bring-up/teardown, admin command dispatch, I/O queue
// fleet management, feature negotiation, log retrieval and
// round-robin I/O dispatch (§4.6).

package nvmecore

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dswarbrick/nvmecore/utils"
)

const (
	maxIOQueueSize = 256
	identBufSize   = 4096
)

// ControllerData holds the static identify-derived facts about a
// controller (§3 "Controller data").
type ControllerData struct {
	Serial          string
	Model           string
	Firmware        string
	MaxTransferSize int // bytes; 0 means unbounded (MDTS == 0)
	MaxQueueEntries uint16
	MinPageSize     int
	VersionMajor    uint8
	VersionMinor    uint8
	VersionTertiary uint8
}

// Controller models the full lifecycle described in §3:
// Reset -> Enabled -> Operational -> (Shutdown/Resumed) -> Destroyed.
type Controller struct {
	mmio  mmioWindow
	dstrd uint8
	dma   Dma
	log   *log.Logger

	adminMu sync.Mutex
	admin   *QueuePair

	ioMu sync.Mutex
	io   map[uint16]*QueuePair

	data atomic.Value // ControllerData

	active atomic.Bool
	rrCnt  uint32 // round-robin counter, relaxed atomics (§5)
}

// NewController brings a controller up from reset given its MMIO base
// and a DMA provider (§4.6 "Bring-up (init)"). logger may be nil.
func NewController(mmioBase uintptr, dma Dma, logger *log.Logger) (*Controller, error) {
	if logger == nil {
		logger = log.New(nil, "", 0)
		logger.SetOutput(discardWriter{})
	}

	c := &Controller{
		mmio:  mmioWindow{base: mmioBase},
		dma:   dma,
		log:   logger,
		io:    make(map[uint16]*QueuePair),
	}
	c.active.Store(true)
	c.data.Store(ControllerData{})

	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (c *Controller) init() error {
	capRaw := c.mmio.readCAP()
	cap := decodeCAP(capRaw)
	c.dstrd = cap.dstrd

	// (b) If CC.EN is set, clear it and wait for CSTS.RDY to drop.
	if cc := c.mmio.readCC(); cc&ccEN != 0 {
		c.mmio.writeCC(cc &^ ccEN)
		for c.mmio.readCSTS()&cstsRDY != 0 {
		}
	}

	mqes := int(cap.mqes) + 1
	adminSize := clampUint16(mqes)

	admin, err := newQueuePair(0, adminSize, c.dma)
	if err != nil {
		return err
	}

	// (c) program ASQ/ACQ/AQA.
	c.mmio.writeASQ(admin.SQPhys())
	c.mmio.writeACQ(admin.CQPhys())
	aqa := (uint32(adminSize-1) << 16) | uint32(adminSize-1)
	c.mmio.writeAQA(aqa)

	// (d) program CC and wait for CSTS.RDY.
	ccVal := uint32(ccIOCQESVal)<<ccIOCQESShift | uint32(ccIOSQESVal)<<ccIOSQESShift | ccEN
	c.mmio.writeCC(ccVal)
	for c.mmio.readCSTS()&cstsRDY == 0 {
	}

	c.admin = admin

	// (e) Identify Controller.
	idBuf := c.dma.Alloc(identBufSize)
	if idBuf == 0 {
		return OoRamError{Size: identBufSize}
	}
	zeroFill(idBuf, identBufSize)
	defer c.dma.Free(idBuf, identBufSize)

	idPhys := c.dma.VirtToPhys(idBuf)
	if _, err := c.adminSubmit(cmdIdentify(cnsController, 0, idPhys)); err != nil {
		return err
	}

	ident := parseCtrlIdent(byteView(idBuf, identBufSize))

	minPage := 1 << (12 + cap.mpsmin)
	mts := maxTransferSize(ident.MDTS, minPage)

	c.data.Store(ControllerData{
		Serial:          ident.Serial,
		Model:           ident.Model,
		Firmware:        ident.Firmware,
		MaxTransferSize: mts,
		MaxQueueEntries: uint16(mqes),
		MinPageSize:     minPage,
		VersionMajor:    ident.Major(),
		VersionMinor:    ident.Minor(),
		VersionTertiary: ident.Tertiary(),
	})

	// (f) create one I/O queue pair to start.
	ioSize := mqes
	if ioSize > maxIOQueueSize {
		ioSize = maxIOQueueSize
	}
	return c.newIOQueue(uint16(ioSize))
}

func clampUint16(v int) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// Data returns the cached identify-derived controller facts.
func (c *Controller) Data() ControllerData {
	return c.data.Load().(ControllerData)
}

// String renders a human-readable one-liner, e.g. for bring-up logs.
func (c *Controller) String() string {
	d := c.Data()
	mts := "unbounded"
	if d.MaxTransferSize > 0 {
		mts = utils.FormatBytes(uint64(d.MaxTransferSize))
	}
	return fmt.Sprintf("%s %s (FW %s), NVMe %d.%d.%d, MDTS=%s",
		d.Model, d.Serial, d.Firmware, d.VersionMajor, d.VersionMinor, d.VersionTertiary, mts)
}

func (c *Controller) adminSubmit(cm cmd) (cqe, error) {
	c.adminMu.Lock()
	admin := c.admin
	c.adminMu.Unlock()

	if admin == nil {
		return cqe{}, InvQpError{Reason: "admin queue not installed"}
	}
	return admin.Submit(cm, c.mmio, c.dstrd)
}

// IOCommand dispatches cmd on the next queue in round-robin order
// over the current qid set (§4.6 "I/O dispatch").
func (c *Controller) IOCommand(cm cmd) (cqe, error) {
	c.ioMu.Lock()
	qids := c.sortedQIDsLocked()
	c.ioMu.Unlock()

	if len(qids) == 0 {
		return cqe{}, InvQpError{Reason: "no I/O queues"}
	}

	n := atomic.AddUint32(&c.rrCnt, 1) - 1
	qid := qids[int(n)%len(qids)]

	c.ioMu.Lock()
	qp := c.io[qid]
	c.ioMu.Unlock()
	if qp == nil {
		return cqe{}, InvQpError{Reason: "queue removed concurrently"}
	}

	return qp.Submit(cm, c.mmio, c.dstrd)
}

func (c *Controller) sortedQIDsLocked() []uint16 {
	qids := make([]uint16, 0, len(c.io))
	for qid := range c.io {
		qids = append(qids, qid)
	}
	sort.Slice(qids, func(i, j int) bool { return qids[i] < qids[j] })
	return qids
}

// newIOQueue picks the lowest unused qid and installs a new I/O queue
// pair (§4.6 "Creating an I/O queue").
func (c *Controller) newIOQueue(size uint16) error {
	data := c.Data()

	c.ioMu.Lock()
	var qid uint16
	for i := uint16(1); i <= data.MaxQueueEntries; i++ {
		if _, exists := c.io[i]; !exists {
			qid = i
			break
		}
	}
	c.ioMu.Unlock()

	if qid == 0 || size == 0 {
		return FullQpError{Reason: "no free qid or zero size"}
	}

	qp, err := newQueuePair(qid, size, c.dma)
	if err != nil {
		return err
	}

	if _, err := c.adminSubmit(cmdCreateIOCQ(qid, size, qp.CQPhys())); err != nil {
		qp.free(c.dma)
		return err
	}
	if _, err := c.adminSubmit(cmdCreateIOSQ(qid, size, qid, qp.SQPhys())); err != nil {
		// Queue must be destroyed locally and the qid freed (§4.6).
		_, _ = c.adminSubmit(cmdDeleteIOCQ(qid))
		qp.free(c.dma)
		return err
	}

	c.ioMu.Lock()
	c.io[qid] = qp
	c.ioMu.Unlock()

	c.log.Printf("nvmecore: created I/O queue qid=%d size=%d", qid, size)
	return nil
}

// removeIOQueue waits for the queue to drain, then tears it down in
// SQ-then-CQ order so no new completions can arrive (§4.6 "Removing
// an I/O queue").
func (c *Controller) removeIOQueue(qid uint16) error {
	if qid == 0 {
		return InvQpError{Reason: "qid 0 is the admin queue"}
	}

	c.ioMu.Lock()
	qp, exists := c.io[qid]
	c.ioMu.Unlock()
	if !exists {
		return InvQpError{Reason: "unknown qid"}
	}

	for !qp.IsIdle() {
	}

	if _, err := c.adminSubmit(cmdDeleteIOSQ(qid)); err != nil {
		return err
	}
	if _, err := c.adminSubmit(cmdDeleteIOCQ(qid)); err != nil {
		return err
	}

	c.ioMu.Lock()
	delete(c.io, qid)
	c.ioMu.Unlock()

	qp.free(c.dma)
	c.log.Printf("nvmecore: removed I/O queue qid=%d", qid)
	return nil
}

// SetIOQueueCount issues Set Features(Number of Queues) and grows or
// shrinks the fleet to match min(requested, granted) (§4.6).
func (c *Controller) SetIOQueueCount(count uint16) (uint16, error) {
	if count == 0 {
		return 0, nil
	}

	value := (uint32(count-1) << 16) | uint32(count-1)
	result, err := c.adminSubmit(cmdSetFeatures(featNumberOfQueues, value))
	if err != nil {
		return 0, err
	}

	grantedNSQ := uint16(result.DW0&0xFFFF) + 1
	grantedNCQ := uint16((result.DW0>>16)&0xFFFF) + 1
	granted := grantedNSQ
	if grantedNCQ < granted {
		granted = grantedNCQ
	}

	target := granted
	if count < target {
		target = count
	}

	c.ioMu.Lock()
	current := uint16(len(c.io))
	c.ioMu.Unlock()

	ioSize := c.Data().MaxQueueEntries
	if ioSize > maxIOQueueSize {
		ioSize = maxIOQueueSize
	}

	if target > current {
		for i := current; i < target; i++ {
			if err := c.newIOQueue(ioSize); err != nil {
				return 0, err
			}
		}
	} else if target < current {
		c.ioMu.Lock()
		toRemove := make([]uint16, 0)
		for qid := range c.io {
			if qid > target {
				toRemove = append(toRemove, qid)
			}
		}
		c.ioMu.Unlock()

		sort.Slice(toRemove, func(i, j int) bool { return toRemove[i] > toRemove[j] })
		for _, qid := range toRemove {
			if err := c.removeIOQueue(qid); err != nil {
				return 0, err
			}
		}
	}

	return target, nil
}

// NamespaceIDs issues Identify (CNS=0x02) to enumerate active
// namespace IDs (supplements spec.md per original_source/src/ctrl.rs
// reg_nss -- see SPEC_FULL.md).
func (c *Controller) NamespaceIDs() ([]uint32, error) {
	buf := c.dma.Alloc(identBufSize)
	if buf == 0 {
		return nil, OoRamError{Size: identBufSize}
	}
	zeroFill(buf, identBufSize)
	defer c.dma.Free(buf, identBufSize)

	phys := c.dma.VirtToPhys(buf)
	if _, err := c.adminSubmit(cmdIdentify(cnsNsIDList, 0, phys)); err != nil {
		return nil, err
	}

	ids := make([]uint32, 0, identBufSize/4)
	view := byteView(buf, identBufSize)
	for i := 0; i < identBufSize/4; i++ {
		nsid := uint32(view[i*4]) | uint32(view[i*4+1])<<8 | uint32(view[i*4+2])<<16 | uint32(view[i*4+3])<<24
		if nsid == 0 {
			break
		}
		ids = append(ids, nsid)
	}
	return ids, nil
}

// LogPage issues Get Log Page(lid) into buf. len(buf) must be a
// non-zero multiple of 4 (§4.6).
func (c *Controller) LogPage(lid uint8, buf []byte) error {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return InvBufError{Reason: "log page length must be a non-zero multiple of 4"}
	}

	virt := c.dma.Alloc(len(buf))
	if virt == 0 {
		return OoRamError{Size: len(buf)}
	}
	defer c.dma.Free(virt, len(buf))

	phys := c.dma.VirtToPhys(virt)
	numdl := uint16(len(buf)/4 - 1)

	if _, err := c.adminSubmit(cmdGetLogPage(lid, numdl, phys)); err != nil {
		return err
	}

	copy(buf, byteView(virt, len(buf)))
	return nil
}

// SmartLog is a convenience wrapper reading the 512-byte SMART log
// (LID 0x02).
func (c *Controller) SmartLog() (LogSmart, error) {
	buf := make([]byte, 512)
	if err := c.LogPage(logSmart, buf); err != nil {
		return LogSmart{}, err
	}
	return parseLogSmart(buf), nil
}

// ErrorLog is a convenience wrapper reading up to maxEntries entries
// of the Error Information log (LID 0x01).
func (c *Controller) ErrorLog(maxEntries int) ([]LogErr, error) {
	buf := make([]byte, maxEntries*64)
	if err := c.LogPage(logError, buf); err != nil {
		return nil, err
	}
	return parseLogErrEntries(buf, maxEntries), nil
}

// EnableAsyncEvents configures SMART-critical, namespace-attribute,
// and firmware-activation notices (§4.6 "Async events").
func (c *Controller) EnableAsyncEvents() error {
	cfg := (&AsyncEventConfig{}).EnableSmartCritical().EnableNamespaceAttribute().EnableFirmwareActivation()
	_, err := c.adminSubmit(cmdSetFeatures(featAsyncEventCfg, cfg.value))
	return err
}

// GetFeature issues Get Features(fid) and returns the feature's
// current value from the completion's DW0 (supplements spec.md per
// original_source/src/ctrl.rs get_feat).
func (c *Controller) GetFeature(fid uint8) (uint32, error) {
	result, err := c.adminSubmit(cmdGetFeatures(fid))
	if err != nil {
		return 0, err
	}
	return result.DW0, nil
}

// BlockErase issues Sanitize(action=block erase) (§4.6).
func (c *Controller) BlockErase() error {
	_, err := c.adminSubmit(cmdSanitize(sanitizeBlockErase, false, 0, false, false))
	return err
}

// Overwrite issues Sanitize(action=overwrite) with the given pass
// count and invert-pattern flag (§4.6).
func (c *Controller) Overwrite(passes uint8, invert bool) error {
	_, err := c.adminSubmit(cmdSanitize(sanitizeOverwrite, false, passes, invert, false))
	return err
}

// CryptoErase issues Sanitize(action=crypto erase) (§4.6).
func (c *Controller) CryptoErase() error {
	_, err := c.adminSubmit(cmdSanitize(sanitizeCryptoErase, false, 0, false, false))
	return err
}

// Shutdown marks the controller inactive, waits for all queues to
// drain, and performs a normal NVMe shutdown sequence (§4.6). It is
// idempotent: calling it twice leaves CC.EN == 0 and CSTS.RDY == 0
// either way (testable property 5).
func (c *Controller) Shutdown() error {
	c.active.Store(false)

	if c.mmio.readCSTS()&cstsRDY == 0 {
		return nil
	}

	for {
		c.ioMu.Lock()
		allIdle := true
		for _, qp := range c.io {
			if !qp.IsIdle() {
				allIdle = false
				break
			}
		}
		c.ioMu.Unlock()
		if allIdle {
			break
		}
	}

	for {
		c.adminMu.Lock()
		admin := c.admin
		c.adminMu.Unlock()
		if admin == nil || admin.IsIdle() {
			break
		}
	}

	cc := c.mmio.readCC()
	cc = (cc &^ ccShnMask) | ccShnNormal
	c.mmio.writeCC(cc)

	for c.mmio.readCSTS()&cstsSHSTMask != cstsSHSTCmplt {
	}

	cc &^= ccEN
	c.mmio.writeCC(cc)

	for c.mmio.readCSTS()&cstsRDY != 0 {
	}

	c.log.Printf("nvmecore: controller shutdown complete")
	return nil
}

// Resume re-enables a previously shut-down controller (§4.6).
func (c *Controller) Resume() error {
	cc := c.mmio.readCC()
	c.mmio.writeCC(cc | ccEN)

	for c.mmio.readCSTS()&cstsRDY == 0 {
	}

	c.active.Store(true)
	return nil
}

// Destroy shuts the controller down (best-effort, per §7 "Shutdown
// errors during destruction are swallowed") and releases its queue
// pairs' DMA memory. Destroy must be the last call made on c.
func (c *Controller) Destroy() {
	_ = c.Shutdown()

	c.ioMu.Lock()
	for qid, qp := range c.io {
		qp.free(c.dma)
		delete(c.io, qid)
	}
	c.ioMu.Unlock()

	c.adminMu.Lock()
	if c.admin != nil {
		c.admin.free(c.dma)
		c.admin = nil
	}
	c.adminMu.Unlock()
}
