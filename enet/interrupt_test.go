package enet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestISR_Spurious(t *testing.T) {
	e := newTestEnv(t, testConfig())

	e.hw.file.SetBits(regEIR, eirRXF)
	assert.False(t, e.a.ISR())

	stats := e.a.Stats()
	assert.Equal(t, uint64(1), stats.Spurious)
	assert.Zero(t, stats.Interrupts)
	assert.Zero(t, stats.DPCs)
}

func TestDPC_AcksOnlyServicedCauses(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.up(t, linkUp1G)

	e.hw.file.SetBits(regEIR, eirMII|eirRXF|eirTXF|eirBABR)
	require.True(t, e.a.ISR())

	assert.Equal(t, uint32(eirMII|eirBABR), e.hw.file.Read32(regEIR))
	assert.Equal(t, uint32(intRxTx), e.hw.file.Read32(regEIMR))

	stats := e.a.Stats()
	assert.Equal(t, uint64(1), stats.Interrupts)
	assert.Equal(t, uint64(1), stats.DPCs)
}

func TestDPC_BusErrorLeavesInterruptsMasked(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.up(t, linkUp1G)

	e.hw.file.SetBits(regEIR, eirEBERR)
	require.True(t, e.a.ISR())

	assert.Zero(t, e.hw.file.Read32(regEIMR))
	assert.Zero(t, e.hw.file.Read32(regEIR))
	assert.Equal(t, uint64(1), e.a.Stats().BusErrors)

	assert.False(t, e.a.ISR())
}

func TestDPC_ReceiveBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRxPerDPC = 2
	e := newTestEnv(t, cfg)
	e.up(t, linkUp1G)

	require.Equal(t, 5, e.hw.receive(0, frames(5, 60)...))
	require.True(t, e.a.ISR())

	assert.Len(t, e.host.snapshot().frames, 5)
	assert.Equal(t, uint64(3), e.a.Stats().DPCs)
	assert.Equal(t, uint32(intRxTx), e.hw.file.Read32(regEIMR))
}

func TestDPC_GracefulStopRestartsTx(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.up(t, linkUp1G)

	kicks := e.hw.kicks()
	e.hw.file.SetBits(regEIR, eirGRA)
	require.True(t, e.a.ISR())

	assert.Equal(t, kicks+1, e.hw.kicks())
	assert.Equal(t, uint32(darActive), e.hw.file.Read32(regTDAR))
}

func TestDPC_GracefulStopWithReceiveBacklog(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRxPerDPC = 2
	e := newTestEnv(t, cfg)
	e.up(t, linkUp1G)

	kicks := e.hw.kicks()
	require.Equal(t, 5, e.hw.receive(0, frames(5, 60)...))
	e.hw.file.SetBits(regEIR, eirGRA)
	require.True(t, e.a.ISR())

	assert.Len(t, e.host.snapshot().frames, 5)
	assert.Equal(t, kicks+1, e.hw.kicks())
	assert.Equal(t, uint32(intRxTx), e.hw.file.Read32(regEIMR))
}

func TestDPC_HostReturnsInsideDelivery(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.host.returnAll = true
	e.up(t, linkUp1G)

	n := 0
	for i := 0; i < 4; i++ {
		got := e.hw.receive(0, frames(6, 60)...)
		require.NotZero(t, got)
		n += got
		require.True(t, e.a.ISR())
		assert.Zero(t, e.a.rx.held())
	}
	assert.Len(t, e.host.snapshot().frames, n)
	assert.Equal(t, uint64(n), e.a.Stats().Rx.Good)
}
