package phy

import (
	"fmt"

	"enetCore/enet"
	"enetCore/mdio"
)

// IEEE 802.3 clause 22 registers.
const (
	RegCR         = 0x00
	RegSR         = 0x01
	RegPHYIR1     = 0x02
	RegPHYIR2     = 0x03
	RegANAR       = 0x04
	RegANLPAR     = 0x05
	Reg1000BaseTC = 0x09
	Reg1000BaseTS = 0x0a
	RegMMDCR      = 0x0d
	RegMMDData    = 0x0e
)

const (
	crLoopback = 0x4000
	crANEnable = 0x1000

	srLinkStatus  = 0x0004
	srRemoteFault = 0x0010
	srANComplete  = 0x0020

	anar10Half  = 0x0020
	anar10Full  = 0x0040
	anar100Half = 0x0080
	anar100Full = 0x0100
	anarPause   = 0x0400

	anarAbilities = anar10Half | anar10Full | anar100Half | anar100Full

	tc1000Half = 0x0100
	tc1000Full = 0x0200

	ts1000Half = 0x0400
	ts1000Full = 0x0800
)

// ID is the 32 bit identifier read from PHYIR1:PHYIR2.
type ID uint32

const (
	IDAR8031   ID = 0x004dd074
	IDAR8035   ID = 0x004dd072
	IDRTL8211E ID = 0x001cc915
	IDRTL8211F ID = 0x001cc916
	IDKSZ8081  ID = 0x00221561
	IDKSZ8091  ID = 0x00221560
	IDKSZ9021  ID = 0x00221611
	IDKSZ9031  ID = 0x00221622
)

func (id ID) String() string {
	return fmt.Sprintf("%#08x", uint32(id))
}

// step is one register access of a command list.
type step struct {
	op  mdio.Op
	reg uint8
	val uint16
}

func rd(reg uint8) step {
	return step{op: mdio.OpRead, reg: reg}
}

func wr(reg uint8, val uint16) step {
	return step{op: mdio.OpWrite, reg: reg, val: val}
}

// Info describes how to bring up one PHY model.
type Info struct {
	ID      ID
	Name    string
	Gigabit bool

	config  []step
	startup []step
	query   []step
}

var (
	cmdSuspend = []step{wr(RegCR, 0x0800)}
	cmdResume  = []step{wr(RegCR, 0x1200)}
	cmdReset   = []step{wr(RegCR, 0x9000)}
	cmdControl = []step{rd(RegCR)}
)

// forced advertisement for each fixed link mode; auto-negotiation stays on
// and only the selected ability is offered.
var forcedStartup = map[enet.SpeedSelect][]step{
	enet.SpeedHalf10:  {wr(Reg1000BaseTC, 0), wr(RegANAR, 0x1c21), wr(RegCR, 0x1300), rd(RegANAR)},
	enet.SpeedFull10:  {wr(Reg1000BaseTC, 0), wr(RegANAR, 0x1c41), wr(RegCR, 0x1300), rd(RegANAR)},
	enet.SpeedHalf100: {wr(Reg1000BaseTC, 0), wr(RegANAR, 0x1c81), wr(RegCR, 0x1300), rd(RegANAR)},
	enet.SpeedFull100: {wr(Reg1000BaseTC, 0), wr(RegANAR, 0x1d01), wr(RegCR, 0x1300), rd(RegANAR)},
}

var (
	startupGigabit = []step{wr(RegCR, 0x1200), rd(RegANAR), rd(Reg1000BaseTC)}
	startupFast    = []step{wr(RegCR, 0x1200), rd(RegANAR)}
	queryGigabit   = []step{rd(RegSR), rd(RegANLPAR), rd(Reg1000BaseTS)}
	queryFast      = []step{rd(RegSR), rd(RegANLPAR)}

	// Atheros MMD7 clock select and RGMII tx delay
	ar803xConfig = []step{
		wr(RegMMDCR, 0x0007), wr(RegMMDData, 0x8016),
		wr(RegMMDCR, 0x4007), wr(RegMMDData, 0x0018),
		wr(0x1d, 0x0005), wr(0x1e, 0x0100),
	}
	resetDefaults = []step{wr(RegCR, 0x3140), wr(RegCR, 0x3340)}
)

func mmdWrite(dev uint16, reg, val uint16) []step {
	return []step{
		wr(RegMMDCR, dev), wr(RegMMDData, reg),
		wr(RegMMDCR, 0x4000|dev), wr(RegMMDData, val),
	}
}

func concat(lists ...[]step) []step {
	var out []step
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

var known = []*Info{
	{
		ID: IDAR8031, Name: "AR8031", Gigabit: true,
		// smart speed off, pause advertised
		config:  concat(ar803xConfig, []step{wr(0x14, 0x000c), wr(RegANAR, 0x1de1)}),
		startup: startupGigabit,
		query:   queryGigabit,
	},
	{
		ID: IDAR8035, Name: "AR8035", Gigabit: true,
		config: concat(ar803xConfig, []step{wr(0x14, 0x080c), wr(RegANAR, 0x1de1)},
			// smart EEE off
			mmdWrite(0x0003, 0x805d, 0x1000)),
		startup: startupGigabit,
		query:   queryGigabit,
	},
	{
		ID: IDRTL8211E, Name: "RTL8211E", Gigabit: true,
		config:  resetDefaults,
		startup: startupGigabit,
		query:   queryGigabit,
	},
	{
		ID: IDRTL8211F, Name: "RTL8211F", Gigabit: true,
		config:  resetDefaults,
		startup: startupGigabit,
		query:   queryGigabit,
	},
	{
		ID: IDKSZ8081, Name: "KSZ8081",
		config:  concat(resetDefaults, []step{wr(0x1f, 0x8190)}),
		startup: []step{wr(RegCR, 0x1200)},
		query:   queryFast,
	},
	{
		ID: IDKSZ8091, Name: "KSZ8091",
		config:  resetDefaults,
		startup: startupFast,
		query:   queryFast,
	},
	{
		ID: IDKSZ9021, Name: "KSZ9021", Gigabit: true,
		config:  resetDefaults,
		startup: startupGigabit,
		query:   queryGigabit,
	},
	{
		ID: IDKSZ9031, Name: "KSZ9031", Gigabit: true,
		// control, rx data, tx data and clock pad skews
		config: concat(
			mmdWrite(0x0002, 0x0004, 0x0000),
			mmdWrite(0x0002, 0x0005, 0x0000),
			mmdWrite(0x0002, 0x0006, 0x0000),
			mmdWrite(0x0002, 0x0008, 0x03ff),
		),
		startup: startupGigabit,
		query:   queryGigabit,
	},
}

// generic drives an unknown PHY through the standard registers only.
var generic = Info{
	Name:    "generic",
	startup: startupFast,
	query:   queryFast,
}

// Lookup returns the table entry for id.
func Lookup(id ID) (*Info, bool) {
	for _, info := range known {
		if info.ID == id {
			return info, true
		}
	}
	return nil, false
}
