// Package hostos provides the synthetic link-layer interface and raw IPv4
// injection/capture the gateway engine needs on each end of the LoRa cell.
// Interface lifecycle is a thin shell-out to `ip`/`arp`, mirroring the
// reference implementation's `os.system("ip ...")` calls; this concern is
// explicitly scoped by spec as "a host-OS capability invoked through a
// shell-equivalent", so no netlink or TUN/TAP library is used here.
package hostos

import (
	"fmt"
	"log"
	"os/exec"
)

// macPrefix is the fixed 5-byte prefix every synthetic interface MAC
// shares; the low byte is the node's LoRa address.
var macPrefix = [5]byte{0x10, 0x2a, 0x10, 0x2a, 0x10}

// AdapterConfig describes the synthetic interface to create.
type AdapterConfig struct {
	IfName    string // e.g. "lora0"
	LoRaAddr  uint8  // this node's 4-bit LoRa address, [1,14]
	IPNet     string // e.g. "10.0.0.5/28"
	MTU       int
	PeerAddrs []uint8 // other LoRa addresses in the cell to seed static ARP for
	PeerIPFor func(loraAddr uint8) string
}

// commandRunner abstracts `exec.Command(name, args...).Run()` so tests can
// assert on the commands the adapter would issue without a real root shell.
type commandRunner func(name string, args ...string) error

func execRun(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, out)
	}
	return nil
}

// Adapter owns the synthetic interface's lifecycle.
type Adapter struct {
	cfg AdapterConfig
	run commandRunner
	log *log.Logger

	up bool
}

// NewAdapter builds an Adapter that will shell out to the real `ip`/`arp`
// binaries.
func NewAdapter(cfg AdapterConfig, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{cfg: cfg, run: execRun, log: logger}
}

// MAC returns the synthetic L2 MAC for a given LoRa address, using the
// fixed gateway prefix.
func MAC(loraAddr uint8) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		macPrefix[0], macPrefix[1], macPrefix[2], macPrefix[3], macPrefix[4], loraAddr)
}

// Start creates the synthetic interface, assigns its MAC/MTU/IPv4, brings
// it up, and seeds static ARP entries for every other peer in the cell.
func (a *Adapter) Start() error {
	ifName := a.cfg.IfName
	steps := [][]string{
		{"ip", "link", "add", ifName, "type", "dummy"},
		{"ip", "link", "set", ifName, "address", MAC(a.cfg.LoRaAddr)},
		{"ip", "link", "set", ifName, "mtu", fmt.Sprintf("%d", a.cfg.MTU)},
		{"ip", "addr", "add", a.cfg.IPNet, "dev", ifName},
		{"ip", "link", "set", ifName, "up"},
	}
	for _, s := range steps {
		if err := a.run(s[0], s[1:]...); err != nil {
			return fmt.Errorf("hostos: %v: %w", s, err)
		}
	}

	for _, peer := range a.cfg.PeerAddrs {
		if peer == a.cfg.LoRaAddr {
			continue
		}
		peerIP := a.cfg.PeerIPFor(peer)
		if err := a.run("arp", "-s", peerIP, MAC(peer), "dev", ifName); err != nil {
			a.log.Printf("hostos: static ARP seed for %s failed: %v", peerIP, err)
		}
	}

	a.up = true
	a.log.Printf("hostos: interface %s up, mac=%s mtu=%d", ifName, MAC(a.cfg.LoRaAddr), a.cfg.MTU)
	return nil
}

// Stop tears down the synthetic interface. Idempotent.
func (a *Adapter) Stop() error {
	if !a.up {
		return nil
	}
	a.up = false
	if err := a.run("ip", "link", "del", a.cfg.IfName); err != nil {
		return fmt.Errorf("hostos: teardown: %w", err)
	}
	return nil
}
