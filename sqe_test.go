// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSQESize(t *testing.T) {
	assert.EqualValues(t, 64, unsafe.Sizeof(sqe{}))
}

func TestCQESize(t *testing.T) {
	assert.EqualValues(t, 16, unsafe.Sizeof(cqe{}))
}

func TestCQEPhaseAndStatus(t *testing.T) {
	e := cqe{SF: (0x0B << 1) | 1}
	assert.True(t, e.phase())
	assert.EqualValues(t, 0x0B, e.status())
	assert.False(t, e.ok())

	e2 := cqe{SF: 0}
	assert.False(t, e2.phase())
	assert.True(t, e2.ok())
}

func TestCmdToSQE(t *testing.T) {
	c := cmdRead(7, 0x1234, 8, 0xA000, 0xB000)
	e := c.ToSQE(0x55)

	assert.EqualValues(t, opRead, e.CDW0&0xFF)
	assert.EqualValues(t, 0x55, e.CDW0>>16)
	assert.EqualValues(t, 7, e.NSID)
	assert.EqualValues(t, 0xA000, e.PRP1)
	assert.EqualValues(t, 0xB000, e.PRP2)
	assert.EqualValues(t, 0x1234, e.CDW10)
	assert.EqualValues(t, 0, e.CDW11)
	assert.EqualValues(t, 7, e.CDW12) // nlb-1
}

func TestCmdCreateIOCQEncoding(t *testing.T) {
	c := cmdCreateIOCQ(3, 64, 0xCAFE000)
	e := c.ToSQE(1)

	assert.EqualValues(t, opCreateIOCQ, e.CDW0&0xFF)
	assert.EqualValues(t, 3, e.CDW10&0xFFFF)
	assert.EqualValues(t, 63, e.CDW10>>16)
	assert.EqualValues(t, 1, e.CDW11) // PC=1, no interrupts
}

func TestCmdSanitizeEncoding(t *testing.T) {
	c := cmdSanitize(sanitizeOverwrite, true, 4, true, true)
	e := c.ToSQE(1)

	v := e.CDW10
	assert.EqualValues(t, sanitizeOverwrite, v&0x7)
	assert.NotZero(t, v&(1<<3)) // AUSE
	assert.EqualValues(t, 4, (v>>4)&0xF)
	assert.NotZero(t, v&(1<<8)) // OIPBP
	assert.NotZero(t, v&(1<<9)) // NODAS
}
