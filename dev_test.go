// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/nvmecore/internal/hostdma"
	"github.com/dswarbrick/nvmecore/internal/model"
)

func TestDeviceOpenWriteReadClose(t *testing.T) {
	pool := hostdma.NewPool()

	dev := model.NewController(pool, model.Options{
		MQES:          63,
		Serial:        "DEVTESTSERIAL",
		ModelName:     "Model NVMe Simulated Drive",
		Firmware:      "1.0",
		NamespaceSize: 256,
		BlockSize:     4096,
		FailOpcode:    -1,
	})
	dev.Run()
	t.Cleanup(dev.Stop)

	d, err := OpenDevice(dev.Base(), pool, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.Equal(t, []uint32{1}, d.NamespaceIDs())

	ns := d.Namespace(1)
	require.NotNil(t, ns)
	assert.EqualValues(t, 4096, ns.LBASize())
	assert.EqualValues(t, 256, ns.BlockCount())

	const nlb = 2
	length := nlb * ns.LBASize()

	writeBuf := pool.Alloc(length)
	require.NotZero(t, writeBuf)
	defer pool.Free(writeBuf, length)

	view := byteView(writeBuf, length)
	for i := range view {
		view[i] = byte(i % 251)
	}

	require.NoError(t, ns.Write(5, nlb, writeBuf))

	readBuf := pool.Alloc(length)
	require.NotZero(t, readBuf)
	defer pool.Free(readBuf, length)

	require.NoError(t, ns.Read(5, nlb, readBuf))
	assert.Equal(t, byteView(writeBuf, length), byteView(readBuf, length))

	assert.Nil(t, d.Namespace(99))
}
