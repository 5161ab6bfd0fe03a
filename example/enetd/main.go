package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cilium/ebpf/rlimit"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"enetCore/enet"
	"enetCore/mdio"
	"enetCore/phy"
	"enetCore/pkg/mmio"
	"enetCore/pkg/statsmap"
	"enetCore/pkg/tap"
)

const registerWindow = 0x1000

// fileConfig is the launcher configuration file.
type fileConfig struct {
	Adapter enet.Config       `yaml:"adapter"`
	PHY     mdio.DeviceConfig `yaml:"phy"`
	Bus     mdio.BusOptions   `yaml:"mdio"`
}

func loadConfig(path string) (fileConfig, error) {
	fc := fileConfig{
		Adapter: enet.DefaultConfig,
		PHY:     mdio.DefaultDeviceConfig,
		Bus:     mdio.DefaultBusOptions,
	}
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return fc, errors.Wrap(err, "ioutil.ReadFile failed")
		}
		if err = yaml.Unmarshal(data, &fc); err != nil {
			return fc, errors.Wrap(err, "yaml.Unmarshal failed")
		}
	}
	fc.Adapter.Normalize()
	return fc, nil
}

func main() {
	configPath := flag.String("config", "", "adapter configuration file")
	memPath := flag.String("mem", "/dev/mem", "physical memory device")
	regBase := flag.Int64("base", 0x02188000, "ENET register base address")
	uioPath := flag.String("uio", "/dev/uio0", "uio device delivering the ENET interrupt")
	busBase := flag.Uint("dma", 0, "device address of the DMA arena")
	permanent := flag.String("mac", "", "permanent station address")
	tapName := flag.String("tap", "enet0", "tap interface name")
	pinPath := flag.String("pin", "", "pin the stats map at this bpffs path")
	pprofListen := flag.String("listen", "", "pprof http server address, such as '127.0.0.1:6060'")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	log.SetOutput(os.Stdout)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *pprofListen != "" {
		go http.ListenAndServe(*pprofListen, nil)
	}

	fc, err := loadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	cfg := fc.Adapter
	var mac net.HardwareAddr
	if *permanent != "" {
		if mac, err = net.ParseMAC(*permanent); err != nil {
			panic(errors.Wrap(err, "parse -mac failed"))
		}
	}

	regs, err := mmio.Open(*memPath, *regBase, registerWindow)
	if err != nil {
		panic(err)
	}
	defer regs.Close()

	drv := mdio.NewDriver()
	mdioDev, err := drv.Attach(*regBase, regs, fc.Bus, fc.PHY)
	if err != nil {
		panic(err)
	}
	defer drv.Detach(mdioDev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := phy.DefaultOptions
	opts.Speed = cfg.SpeedSelect
	p, err := phy.Probe(ctx, mdioDev, opts)
	if err != nil {
		panic(err)
	}
	if err = p.Configure(); err != nil {
		panic(err)
	}

	tapDev, err := tap.Open(*tapName)
	if err != nil {
		panic(err)
	}
	bridge := tap.NewBridge(tapDev)

	adapter, err := enet.NewAdapter(cfg, enet.Resources{
		Registers:        regs,
		PermanentAddress: mac,
		Poller:           p,
		Host:             bridge,
		ArenaBusBase:     uint32(*busBase),
	})
	if err != nil {
		panic(err)
	}
	bridge.Attach(adapter)

	if err = tapDev.SetHardwareAddr(adapter.MACAddress()); err != nil {
		log.Warnf("set tap address failed: %v", err)
	}
	if err = tapDev.SetMTU(1500); err != nil {
		log.Warnf("set tap mtu failed: %v", err)
	}

	var stats *statsmap.Map
	if err = rlimit.RemoveMemlock(); err != nil {
		log.Warnf("remove memlock limit failed: %v", err)
	}
	if stats, err = statsmap.New(*pinPath); err != nil {
		log.Warnf("stats map disabled: %v", err)
	}

	uio, err := os.OpenFile(*uioPath, os.O_RDWR, 0)
	if err != nil {
		panic(errors.Wrapf(err, "open %s failed", *uioPath))
	}
	go serveInterrupts(uio, adapter)

	go func() {
		if err := bridge.Run(ctx); err != nil {
			log.Errorf("bridge stopped: %v", err)
		}
	}()

	adapter.Restart()
	log.Infof("adapter %s up on %s, phy %s", adapter.ID(), tapDev.Name(), p.Name())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)

	tc := time.NewTicker(2 * time.Second)
	defer tc.Stop()
loop:
	for {
		select {
		case <-tc.C:
			adapter.CheckForHang()
			s := adapter.Stats()
			if stats != nil {
				if err := stats.Update(s); err != nil {
					log.Errorf("update stats map failed: %v", err)
				}
			}
			b := bridge.Stats()
			log.Debugf("rx %d/%d tx %d/%d tap rx %d tx %d dropped %d",
				s.Rx.Good, s.Rx.Errors, s.Tx.Good, s.Tx.Bad, b.RxFrames, b.TxFrames, b.TxDropped)
		case sig := <-sc:
			if sig == syscall.SIGHUP {
				if _, err := adapter.Reset(); err != nil {
					log.Warnf("reset: %v", err)
				}
				continue
			}
			break loop
		}
	}

	shutdown(adapter, bridge, p)
	cancel()
	tapDev.Close()
	uio.Close()
	if stats != nil {
		stats.Close()
	}
	printStats(adapter.Stats())
}

// serveInterrupts unmasks the uio interrupt and waits for it, calling the
// adapter ISR on every event.
func serveInterrupts(uio *os.File, adapter *enet.Adapter) {
	enable := make([]byte, 4)
	binary.LittleEndian.PutUint32(enable, 1)
	count := make([]byte, 4)
	for {
		if _, err := uio.Write(enable); err != nil {
			log.Errorf("unmask interrupt failed: %v", err)
			return
		}
		if _, err := uio.Read(count); err != nil {
			log.Debugf("interrupt loop stopped: %v", err)
			return
		}
		adapter.ISR()
	}
}

func shutdown(adapter *enet.Adapter, bridge *tap.Bridge, p *phy.PHY) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	adapter.Pause()
	if err := bridge.WaitPaused(ctx); err != nil {
		log.Errorf("pause did not complete: %v", err)
		adapter.Shutdown()
		return
	}
	if err := adapter.Halt(); err != nil {
		log.Errorf("halt failed: %v", err)
		adapter.Shutdown()
		return
	}
	if err := p.Suspend(); err != nil {
		log.Warnf("suspend phy failed: %v", err)
	}
}

func printStats(s enet.Stats) {
	fmt.Printf("[Status][%s]\n"+
		"  - RxGood:       %d\n"+
		"  - RxErrors:     %d\n"+
		"  - TxGood:       %d\n"+
		"  - TxBad:        %d\n"+
		"  - TxAborted:    %d\n"+
		"  - Interrupts:   %d\n"+
		"  - Spurious:     %d\n"+
		"  - BusErrors:    %d\n",
		time.Now().String(),
		s.Rx.Good, s.Rx.Errors, s.Tx.Good, s.Tx.Bad, s.Tx.Aborted,
		s.Interrupts, s.Spurious, s.BusErrors)
}
