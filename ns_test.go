// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/nvmecore/internal/model"
)

func TestNamespaceWriteReadRoundTrip(t *testing.T) {
	ctrl, _, pool := newTestController(t, model.Options{
		MQES:          63,
		NamespaceSize: 256,
		BlockSize:     4096,
		FailOpcode:    -1,
	})

	ns, err := OpenNamespace(ctrl, 1)
	require.NoError(t, err)
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

	require.NoError(t, ns.Write(10, nlb, writeBuf))

	readBuf := pool.Alloc(length)
	require.NotZero(t, readBuf)
	defer pool.Free(readBuf, length)

	require.NoError(t, ns.Read(10, nlb, readBuf))

	assert.Equal(t, byteView(writeBuf, length), byteView(readBuf, length))
}

func TestNamespaceReadOutOfRange(t *testing.T) {
	ctrl, _, _ := newTestController(t, model.Options{
		MQES:          63,
		NamespaceSize: 4,
		BlockSize:     4096,
		FailOpcode:    -1,
	})

	ns, err := OpenNamespace(ctrl, 1)
	require.NoError(t, err)

	err = ns.Read(10, 1, 0)
	assert.Error(t, err)
	assert.IsType(t, InvBufError{}, err)
}
