// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nvmecore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dswarbrick/nvmecore/internal/hostdma"
	"github.com/dswarbrick/nvmecore/internal/model"
)

func newTestController(t *testing.T, opts model.Options) (*Controller, *model.Controller, *hostdma.Pool) {
	t.Helper()
	pool := hostdma.NewPool()

	dev := model.NewController(pool, opts)
	dev.Run()
	t.Cleanup(dev.Stop)

	ctrl, err := NewController(dev.Base(), pool, nil)
	require.NoError(t, err)
	t.Cleanup(ctrl.Destroy)

	return ctrl, dev, pool
}

func TestControllerBringUp(t *testing.T) {
	ctrl, _, _ := newTestController(t, model.Options{
		MQES:      63,
		Serial:    "TESTSERIAL01",
		ModelName: "Model NVMe Simulated Drive",
		Firmware:  "1.0",
		FailOpcode: -1,
	})

	data := ctrl.Data()
	assert.Equal(t, "TESTSERIAL01", data.Serial)
	assert.Contains(t, data.Model, "Model NVMe Simulated Drive")
	assert.Equal(t, "1.0", data.Firmware)
}

func TestControllerSetIOQueueCountGrowsFleet(t *testing.T) {
	ctrl, _, _ := newTestController(t, model.Options{MQES: 63, FailOpcode: -1})

	granted, err := ctrl.SetIOQueueCount(8)
	require.NoError(t, err)
	// The model's Set Features handler does not clamp, so granted ==
	// requested here; this exercises the grow path from 1 to 8 queues.
	assert.EqualValues(t, 8, granted)
}

func TestControllerCmdFailPropagatesStatus(t *testing.T) {
	ctrl, _, _ := newTestController(t, model.Options{
		MQES:       63,
		FailOpcode: int(opGetLogPage),
		FailStatus: 0x00B,
	})

	buf := make([]byte, 512)
	err := ctrl.LogPage(logSmart, buf)
	require.Error(t, err)

	var cmdErr CmdFailError
	require.ErrorAs(t, err, &cmdErr)
	assert.EqualValues(t, 0x00B, cmdErr.Status)
}

func TestControllerShutdownIdempotent(t *testing.T) {
	ctrl, _, _ := newTestController(t, model.Options{MQES: 63, FailOpcode: -1})

	require.NoError(t, ctrl.Shutdown())
	require.NoError(t, ctrl.Shutdown())

	assert.Zero(t, ctrl.mmio.readCSTS()&cstsRDY)

	// allow the model's background loop one more tick before the
	// cleanup-triggered Destroy runs its own shutdown.
	time.Sleep(time.Millisecond)
}
