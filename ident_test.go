// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestStructSizes(t *testing.T) {
	assert.EqualValues(t, 32, unsafe.Sizeof(pwrStateDesc{}))
	assert.EqualValues(t, 4096, unsafe.Sizeof(ctrlIdentRaw{}))
	assert.EqualValues(t, 4096, unsafe.Sizeof(nsIdentRaw{}))
	assert.EqualValues(t, 512, unsafe.Sizeof(logSmartRaw{}))
	assert.EqualValues(t, 64, unsafe.Sizeof(logErrRaw{}))
}

func TestParseCtrlIdent(t *testing.T) {
	buf := make([]byte, 4096)
	copy(buf[4:24], []byte("SERIAL1234          "))
	copy(buf[24:64], []byte("Model Name                              "))
	copy(buf[64:72], []byte("FW01    "))
	buf[77] = 17 // MDTS

	ident := parseCtrlIdent(buf)
	assert.Equal(t, "SERIAL1234", ident.Serial)
	assert.Contains(t, ident.Model, "Model Name")
	assert.Equal(t, "FW01", ident.Firmware)
	assert.EqualValues(t, 17, ident.MDTS)
}

func TestCtrlIdentVersion(t *testing.T) {
	ident := CtrlIdent{Version: 0x00010003}
	assert.EqualValues(t, 1, ident.Major())
	assert.EqualValues(t, 0, ident.Minor())
	assert.EqualValues(t, 3, ident.Tertiary())
}

func TestMaxTransferSize(t *testing.T) {
	assert.Equal(t, 0, maxTransferSize(0, 4096))
	assert.Equal(t, 4096*2, maxTransferSize(1, 4096))
	assert.Equal(t, 4096*4, maxTransferSize(2, 4096))
}

func TestParseNsIdent(t *testing.T) {
	buf := make([]byte, 4096)
	buf[0] = 0x00 // NSZE low byte
	buf[8] = 0x00 // NCAP
	buf[24] = 0x01 // NSFeat: thin provisioning
	buf[26] = 0x00 // FLBAS idx 0
	buf[128+2] = 12 // LBADS => 4096-byte blocks

	ns := parseNsIdent(buf)
	assert.True(t, ns.Thin)
	assert.Equal(t, 4096, ns.LBASize)
	assert.EqualValues(t, 0, ns.FormattedIndex)
}

func TestParseLogErrEntriesStopsAtZeroCount(t *testing.T) {
	buf := make([]byte, 64*3)

	// Entry 0: ErrCount=1
	buf[0] = 1
	// Entry 1: ErrCount=0 -- parsing stops here (§9 ambiguity preserved)
	// Entry 2: ErrCount=2, never reached
	buf[64*2] = 2

	entries := parseLogErrEntries(buf, 3)
	assert.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ErrCount)
}

func TestAsyncEventConfigBits(t *testing.T) {
	cfg := (&AsyncEventConfig{}).EnableSmartCritical().EnableNamespaceAttribute().EnableFirmwareActivation()
	assert.EqualValues(t, 1|1<<8|1<<9, cfg.value)
}

func TestParseAsyncEventInfo(t *testing.T) {
	info := ParseAsyncEventInfo(uint32(aerTypeSmart) | 0x05<<8 | 0x02<<16)
	assert.EqualValues(t, aerTypeSmart, info.EventType())
	assert.EqualValues(t, 0x05, info.EventInfo())
	assert.EqualValues(t, 0x02, info.LogPage())
}
