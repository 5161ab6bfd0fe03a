package mdio

// Register offsets shared with the MAC block.
const (
	regEIR  = 0x004
	regMMFR = 0x040
	regMSCR = 0x044

	eirMII = 0x00800000
)

const (
	mmfrST     = 1 << 30
	mmfrTA     = 2 << 16
	mmfrOpMask = 0x30000000
)

type Op uint32

const (
	OpWrite Op = 1 << 28
	OpRead  Op = 2 << 28
)

// Callback receives the MMFR value latched when the frame finished. For a
// read the register value is Data(mmfr). err is set when the frame was
// abandoned or dropped.
type Callback func(mmfr uint32, err error)

// Command is one management frame addressed to a PHY register.
type Command struct {
	Op   Op
	Reg  uint8
	Data uint16
	Done Callback
}

func ReadCmd(reg uint8, done Callback) Command {
	return Command{Op: OpRead, Reg: reg, Done: done}
}

func WriteCmd(reg uint8, data uint16, done Callback) Command {
	return Command{Op: OpWrite, Reg: reg, Data: data, Done: done}
}

// Encode builds the MMFR value of c for the PHY at addr.
func (c Command) Encode(addr uint8) uint32 {
	return mmfrST | uint32(c.Op)&mmfrOpMask |
		uint32(addr&0x1f)<<23 | uint32(c.Reg&0x1f)<<18 |
		mmfrTA | uint32(c.Data)
}

// Data extracts the 16 data bits of an MMFR value.
func Data(mmfr uint32) uint16 {
	return uint16(mmfr)
}

// Decode splits an MMFR value into its fields.
func Decode(mmfr uint32) (op Op, addr uint8, reg uint8, data uint16) {
	return Op(mmfr & mmfrOpMask), uint8(mmfr>>23) & 0x1f, uint8(mmfr>>18) & 0x1f, uint16(mmfr)
}

type frame struct {
	mmfr uint32
	done Callback
}
