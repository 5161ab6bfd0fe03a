package layers

import (
	"encoding/binary"
	"hash/crc32"
	"net"

	"github.com/pkg/errors"
)

type EthernetType uint16

const (
	EthernetTypeIPv4     EthernetType = 0x0800
	EthernetTypeARP      EthernetType = 0x0806
	EthernetTypeIPv6     EthernetType = 0x86DD
	EthernetTypeDot1Q    EthernetType = 0x8100
	EthernetTypeMACCtrl  EthernetType = 0x8808
	EthernetTypeLLDP     EthernetType = 0x88cc
	EthernetTypeQinQ     EthernetType = 0x88a8
	EthernetTypeEAPOL    EthernetType = 0x888e
	EthernetTypeMPLSUcst EthernetType = 0x8847
)

const (
	LengthAddress  = 6
	LengthEthernet = 14
	LengthCRC      = 4

	// MinFrameLength and MaxFrameLength exclude the CRC.
	MinFrameLength = 60
	MaxFrameLength = 1514

	// MaxFrameLengthCRC is the largest untagged frame on the wire.
	MaxFrameLengthCRC = MaxFrameLength + LengthCRC
)

var (
	ErrMulticastAddress     = errors.New("multicast station address")
	ErrBroadcastAddress     = errors.New("broadcast station address")
	ErrNotLocalAddress      = errors.New("station address is not locally administered")
	ErrInvalidAddressLength = errors.New("invalid hardware address length")
)

// Ethernet is the layer for Ethernet frame headers.
// [0:6] is DstMAC, [6:12] is SrcMAC
// [12:14] is EthernetType in network order

type Ethernet []byte

func (e *Ethernet) GetDstAddress() net.HardwareAddr {
	return net.HardwareAddr((*e)[0:6])
}

func (e *Ethernet) GetSrcAddress() net.HardwareAddr {
	return net.HardwareAddr((*e)[6:12])
}

func (e *Ethernet) GetEthernetType() EthernetType {
	return EthernetType(binary.BigEndian.Uint16((*e)[12:14]))
}

func (e *Ethernet) SetDstAddress(addr net.HardwareAddr) {
	copy((*e)[0:6], addr[0:6])
}

func (e *Ethernet) SetSrcAddress(addr net.HardwareAddr) {
	copy((*e)[6:12], addr[0:6])
}

func (e *Ethernet) SetEthernetType(typ EthernetType) {
	binary.BigEndian.PutUint16((*e)[12:14], uint16(typ))
}

func IsMulticast(addr net.HardwareAddr) bool {
	return len(addr) == LengthAddress && addr[0]&0x01 != 0
}

func IsBroadcast(addr net.HardwareAddr) bool {
	if len(addr) != LengthAddress {
		return false
	}
	for _, b := range addr {
		if b != 0xff {
			return false
		}
	}
	return true
}

func IsLocallyAdministered(addr net.HardwareAddr) bool {
	return len(addr) == LengthAddress && addr[0]&0x02 != 0
}

// ValidateStationAddress checks an administrator supplied MAC address.
func ValidateStationAddress(addr net.HardwareAddr) error {
	switch {
	case len(addr) != LengthAddress:
		return errors.WithStack(ErrInvalidAddressLength)
	case IsBroadcast(addr):
		return errors.WithStack(ErrBroadcastAddress)
	case IsMulticast(addr):
		return errors.WithStack(ErrMulticastAddress)
	case !IsLocallyAdministered(addr):
		return errors.WithStack(ErrNotLocalAddress)
	}
	return nil
}

// HashAddress returns the 6-bit index into the 64-bit ENET address hash
// table: the upper six bits of the reflected CRC-32 of addr, without the
// final inversion.
func HashAddress(addr net.HardwareAddr) uint8 {
	crc := ^crc32.ChecksumIEEE(addr[:LengthAddress])
	return uint8(crc>>26) & 0x3f
}
