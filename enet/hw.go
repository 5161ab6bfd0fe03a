package enet

// ENET register offsets.
const (
	regEIR   = 0x004
	regEIMR  = 0x008
	regRDAR  = 0x010
	regTDAR  = 0x014
	regECR   = 0x024
	regMMFR  = 0x040
	regMSCR  = 0x044
	regMIBC  = 0x064
	regRCR   = 0x084
	regTCR   = 0x0C4
	regPALR  = 0x0E4
	regPAUR  = 0x0E8
	regOPD   = 0x0EC
	regIAUR  = 0x118
	regIALR  = 0x11C
	regGAUR  = 0x120
	regGALR  = 0x124
	regTFWR  = 0x144
	regERDSR = 0x180
	regETDSR = 0x184
	regEMRBR = 0x188
	regRSFL  = 0x190
	regRSEM  = 0x194
	regRAEM  = 0x198
	regRAFL  = 0x19C
	regTSEM  = 0x1A0
	regTAEM  = 0x1A4
	regTAFL  = 0x1A8
	regRACC  = 0x1C4
)

// EIR/EIMR bits.
const (
	eirUN    = 0x00080000
	eirRL    = 0x00100000
	eirLC    = 0x00200000
	eirEBERR = 0x00400000
	eirMII   = 0x00800000
	eirRXB   = 0x01000000
	eirRXF   = 0x02000000
	eirTXB   = 0x04000000
	eirTXF   = 0x08000000
	eirGRA   = 0x10000000
	eirBABT  = 0x20000000
	eirBABR  = 0x40000000

	intTxErr = eirLC | eirRL | eirUN
	intRx    = eirRXF
	intTx    = eirTXF | intTxErr
	intRxTx  = intRx | intTx | eirGRA

	// causes the DPC acknowledges
	intDPC = intRxTx | eirEBERR
)

const (
	ecrReset   = 0x00000001
	ecrEtherEn = 0x00000002
	ecrSpeed   = 0x00000020
	ecrDBSW    = 0x00000100

	rcrLoop     = 0x00000001
	rcrDRT      = 0x00000002
	rcrMIIMode  = 0x00000004
	rcrProm     = 0x00000008
	rcrBCRej    = 0x00000010
	rcrFCE      = 0x00000020
	rcrRGMIIEn  = 0x00000040
	rcrRMIIMode = 0x00000100
	rcrRMII10T  = 0x00000200
	rcrMaxFLSh  = 16

	tcrGTS      = 0x00000001
	tcrFDEN     = 0x00000004
	tcrTFCPause = 0x00000008

	raccShift16 = 0x00000080

	// RDAR/TDAR read back non-zero while the ring is active.
	darActive = 0x01000000

	emrbrValue = 0x7f0
)

// FIFO thresholds and pause duration programmed by init.
const (
	rsflValue = 12
	rsemValue = 0x68
	raemValue = 8
	raflValue = 4
	opdValue  = 0xFFF0
	tfwrValue = 0x1F
	taemValue = 8
	taflValue = 8
	tsemValue = 0x1C0
)
