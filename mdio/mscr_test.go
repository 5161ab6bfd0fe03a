package mdio

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMSCR(t *testing.T) {
	v, err := ComputeMSCR(DefaultDeviceConfig)
	require.NoError(t, err)
	// 66 MHz / ((13+1)*2) = 2357 kHz, one 15ns hold step
	assert.Equal(t, uint32(13<<1|1<<8), v)

	cfg := DefaultDeviceConfig
	cfg.DisablePreamble = true
	cfg.HoldTimeNs = 40
	v, err = ComputeMSCR(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(13<<1|3<<8|0x80), v)
}

func TestComputeMSCR_OutOfRange(t *testing.T) {
	cfg := DefaultDeviceConfig
	cfg.MDCClockKHz = 1
	_, err := ComputeMSCR(cfg)
	assert.Equal(t, ErrClockOutOfRange, errors.Cause(err))

	cfg = DefaultDeviceConfig
	cfg.HoldTimeNs = 200
	_, err = ComputeMSCR(cfg)
	assert.Equal(t, ErrHoldTimeOutOfRange, errors.Cause(err))
}

func TestCommand_Encode(t *testing.T) {
	mmfr := ReadCmd(1, nil).Encode(3)
	assert.Equal(t, uint32(0x61860000), mmfr)

	op, addr, reg, data := Decode(WriteCmd(4, 0x1de1, nil).Encode(31))
	assert.Equal(t, OpWrite, op)
	assert.Equal(t, uint8(31), addr)
	assert.Equal(t, uint8(4), reg)
	assert.Equal(t, uint16(0x1de1), data)
}
