package enet

import (
	"io/ioutil"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"enetCore/layers"
)

var log = logrus.WithField("module", "enet")

// SpeedSelect is the requested link mode. Auto lets the PHY negotiate.
type SpeedSelect int

const (
	SpeedAuto SpeedSelect = iota
	SpeedHalf10
	SpeedFull10
	SpeedHalf100
	SpeedFull100
	SpeedHalf1000
	SpeedFull1000
)

var speedNames = []string{"auto", "10M-half", "10M-full", "100M-half", "100M-full", "1G-half", "1G-full"}

func (s SpeedSelect) String() string {
	if s >= 0 && int(s) < len(speedNames) {
		return speedNames[s]
	}
	return "invalid"
}

// Forced reports whether the mode is fixed instead of negotiated.
func (s SpeedSelect) Forced() bool {
	return s != SpeedAuto
}

func (s SpeedSelect) HalfDuplex() bool {
	return s == SpeedHalf10 || s == SpeedHalf100 || s == SpeedHalf1000
}

// SpeedMbps returns the forced speed, 0 for auto.
func (s SpeedSelect) SpeedMbps() int {
	switch s {
	case SpeedHalf10, SpeedFull10:
		return 10
	case SpeedHalf100, SpeedFull100:
		return 100
	case SpeedHalf1000, SpeedFull1000:
		return 1000
	}
	return 0
}

// UnmarshalYAML accepts the numeric value or its name.
func (s *SpeedSelect) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		*s = SpeedSelect(n)
		return nil
	}

	var name string
	if err := value.Decode(&name); err != nil {
		return errors.Wrap(err, "speed_select")
	}
	for i, v := range speedNames {
		if strings.EqualFold(v, name) {
			*s = SpeedSelect(i)
			return nil
		}
	}
	return errors.Errorf("unknown speed_select %q", name)
}

// PhyInterface is the MAC to PHY wiring.
type PhyInterface int

const (
	PhyRGMII PhyInterface = iota
	PhyRMII
	PhyMII
)

var phyInterfaceNames = []string{"rgmii", "rmii", "mii"}

func (p PhyInterface) String() string {
	if p >= 0 && int(p) < len(phyInterfaceNames) {
		return phyInterfaceNames[p]
	}
	return "invalid"
}

func (p *PhyInterface) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return errors.Wrap(err, "phy_interface")
	}
	for i, v := range phyInterfaceNames {
		if strings.EqualFold(v, name) {
			*p = PhyInterface(i)
			return nil
		}
	}
	return errors.Errorf("unknown phy_interface %q", name)
}

// Config holds the adapter settings.
type Config struct {
	RxBufferCount int `yaml:"rx_buffer_count"`
	TxBufferCount int `yaml:"tx_buffer_count"`
	// TxQueueDepth is how many packets may wait for a free transmit
	// descriptor before Send pushes back.
	TxQueueDepth int         `yaml:"tx_queue_depth"`
	SpeedSelect  SpeedSelect `yaml:"speed_select"`
	// MACAddress overrides the permanent address when set.
	MACAddress string `yaml:"mac_address"`
	// MaxRxPerDPC bounds the frames received in one DPC pass, 0 means
	// the ring size.
	MaxRxPerDPC        int          `yaml:"max_rx_per_dpc"`
	DeliverErrorFrames bool         `yaml:"deliver_error_frames"`
	PhyInterface       PhyInterface `yaml:"phy_interface"`
}

const (
	MinRxBufferCount = 3
	MaxRxBufferCount = 128
	MinTxBufferCount = 2
	MaxTxBufferCount = 64
	MaxTxQueueDepth  = 1024
)

var DefaultConfig = Config{
	RxBufferCount: 128,
	TxBufferCount: 64,
	TxQueueDepth:  64,
	SpeedSelect:   SpeedAuto,
	PhyInterface:  PhyRGMII,
}

// Normalize replaces out of range values with their defaults.
func (c *Config) Normalize() {
	if c.RxBufferCount < MinRxBufferCount || c.RxBufferCount > MaxRxBufferCount {
		log.Warnf("rx_buffer_count %d out of range [%d, %d], using %d",
			c.RxBufferCount, MinRxBufferCount, MaxRxBufferCount, DefaultConfig.RxBufferCount)
		c.RxBufferCount = DefaultConfig.RxBufferCount
	}
	if c.TxBufferCount < MinTxBufferCount || c.TxBufferCount > MaxTxBufferCount {
		log.Warnf("tx_buffer_count %d out of range [%d, %d], using %d",
			c.TxBufferCount, MinTxBufferCount, MaxTxBufferCount, DefaultConfig.TxBufferCount)
		c.TxBufferCount = DefaultConfig.TxBufferCount
	}
	if c.TxQueueDepth < 0 || c.TxQueueDepth > MaxTxQueueDepth {
		log.Warnf("tx_queue_depth %d out of range [0, %d], using %d",
			c.TxQueueDepth, MaxTxQueueDepth, DefaultConfig.TxQueueDepth)
		c.TxQueueDepth = DefaultConfig.TxQueueDepth
	}
	// gigabit modes cannot be forced
	if c.SpeedSelect < SpeedAuto || c.SpeedSelect > SpeedFull100 {
		log.Warnf("speed_select %d not supported, using auto", int(c.SpeedSelect))
		c.SpeedSelect = SpeedAuto
	}
	if c.MaxRxPerDPC <= 0 || c.MaxRxPerDPC > c.RxBufferCount {
		c.MaxRxPerDPC = c.RxBufferCount
	}
	if c.PhyInterface < PhyRGMII || c.PhyInterface > PhyMII {
		log.Warnf("phy_interface %d not supported, using %s", int(c.PhyInterface), DefaultConfig.PhyInterface)
		c.PhyInterface = DefaultConfig.PhyInterface
	}
}

// StationAddress picks the MAC address: the configured one when it is a
// valid locally administered unicast address, the permanent one otherwise.
func (c *Config) StationAddress(permanent net.HardwareAddr) (net.HardwareAddr, error) {
	if c.MACAddress != "" {
		addr, err := net.ParseMAC(c.MACAddress)
		if err == nil {
			err = layers.ValidateStationAddress(addr)
		}
		if err == nil {
			return addr, nil
		}
		log.Warnf("mac_address %q rejected: %v, using permanent address", c.MACAddress, err)
	}

	if len(permanent) != layers.LengthAddress {
		return nil, errors.Wrapf(ErrInvalidAddress, "permanent address %q", permanent.String())
	}
	if layers.IsMulticast(permanent) {
		return nil, errors.Wrapf(ErrInvalidAddress, "permanent address %s is multicast", permanent)
	}

	addr := make(net.HardwareAddr, layers.LengthAddress)
	copy(addr, permanent)
	return addr, nil
}

// LoadConfig reads a YAML file over DefaultConfig and normalizes it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "ioutil.ReadFile failed")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "yaml.Unmarshal failed")
	}

	cfg.Normalize()
	return cfg, nil
}
