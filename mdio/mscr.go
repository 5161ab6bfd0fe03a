package mdio

import (
	"github.com/pkg/errors"
)

const (
	mscrSpeedShift = 1
	mscrDisPre     = 0x80
	mscrHoldShift  = 8
	mscrHoldMask   = 0x7
)

// DeviceConfig describes one PHY on an MDIO bus.
type DeviceConfig struct {
	Address         uint8  `yaml:"address"`
	InputClockKHz   uint32 `yaml:"input_clock_khz"`
	MDCClockKHz     uint32 `yaml:"mdc_clock_khz"`
	HoldTimeNs      uint32 `yaml:"hold_time_ns"`
	DisablePreamble bool   `yaml:"disable_preamble"`
}

var DefaultDeviceConfig = DeviceConfig{
	Address:       0,
	InputClockKHz: 66000,
	MDCClockKHz:   2500,
	HoldTimeNs:    10,
}

// ComputeMSCR returns the MSCR value giving the fastest MDC not above
// MDCClockKHz and the shortest hold time not below HoldTimeNs.
func ComputeMSCR(cfg DeviceConfig) (uint32, error) {
	if cfg.InputClockKHz == 0 {
		return 0, errors.Wrap(ErrClockOutOfRange, "input clock is zero")
	}

	var div, freq uint32
	for div = 1; div <= 63; div++ {
		freq = cfg.InputClockKHz / ((div + 1) << 1)
		if freq <= cfg.MDCClockKHz {
			break
		}
	}
	if freq > cfg.MDCClockKHz {
		return 0, errors.Wrapf(ErrClockOutOfRange, "%d kHz > %d kHz", freq, cfg.MDCClockKHz)
	}

	period := 1000000 / cfg.InputClockKHz
	hold := period
	steps := uint32(1)
	for hold < cfg.HoldTimeNs && steps < 8 {
		steps++
		hold += period
	}
	if hold < cfg.HoldTimeNs {
		return 0, errors.Wrapf(ErrHoldTimeOutOfRange, "%d ns < %d ns", hold, cfg.HoldTimeNs)
	}

	// the field is one cycle longer than its value, 8 does not fit
	if steps > mscrHoldMask {
		steps = mscrHoldMask
	}
	v := div<<mscrSpeedShift | steps<<mscrHoldShift
	if cfg.DisablePreamble {
		v |= mscrDisPre
	}
	return v, nil
}
