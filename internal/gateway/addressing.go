package gateway

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// gatewayMACPrefix is the fixed 5-byte prefix every synthetic interface
// carries; see hostos.MAC. Duplicated here (rather than importing hostos)
// because address *validation* is a gateway-engine concern distinct from
// interface lifecycle.
var gatewayMACPrefix = [5]byte{0x10, 0x2a, 0x10, 0x2a, 0x10}

// ErrNoRoute is returned when a destination falls outside the local /28
// cell; per spec this gateway does no routing beyond a single-hop cell.
var ErrNoRoute = errors.New("gateway: destination is outside the local /28 cell")

// ErrAddressResolution covers every egress addressing failure: no ARP
// entry, a MAC with the wrong vendor prefix, or a low nibble outside
// [1,14].
var ErrAddressResolution = errors.New("gateway: address resolution failed")

// ARPResolver looks up the link-layer address the host kernel currently
// associates with an IPv4 address.
type ARPResolver interface {
	Resolve(ip net.IP) (net.HardwareAddr, error)
}

// procNetARPResolver reads the kernel's ARP cache from /proc/net/arp,
// reaching the host through the filesystem rather than a netlink library,
// as internal/hostos does with shell commands for interface management.
type procNetARPResolver struct {
	path string // overridable in tests; defaults to /proc/net/arp
}

// NewARPResolver returns an ARPResolver backed by the real kernel ARP
// table.
func NewARPResolver() ARPResolver {
	return &procNetARPResolver{path: "/proc/net/arp"}
}

func (r *procNetARPResolver) Resolve(ip net.IP) (net.HardwareAddr, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("gateway: open arp table: %w", err)
	}
	defer f.Close()

	want := ip.String()
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[0] != want {
			continue
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil {
			return nil, fmt.Errorf("gateway: malformed arp entry for %s: %w", want, err)
		}
		return mac, nil
	}
	return nil, fmt.Errorf("%w: no arp entry for %s", ErrAddressResolution, want)
}

// loraAddrFromMAC validates that mac carries the reserved gateway vendor
// prefix and extracts its low-byte LoRa address, rejecting anything
// outside [1,14].
func loraAddrFromMAC(mac net.HardwareAddr) (uint8, error) {
	if len(mac) != 6 {
		return 0, fmt.Errorf("%w: MAC %s is not 6 bytes", ErrAddressResolution, mac)
	}
	for i := 0; i < 5; i++ {
		if mac[i] != gatewayMACPrefix[i] {
			return 0, fmt.Errorf("%w: MAC %s does not carry the gateway prefix", ErrAddressResolution, mac)
		}
	}
	addr := mac[5]
	if addr < 1 || addr > 14 {
		return 0, fmt.Errorf("%w: MAC %s low byte %d out of range [1,14]", ErrAddressResolution, mac, addr)
	}
	return addr, nil
}

// nextHop returns the destination itself when it lies within the local
// /28 cell, and ErrNoRoute otherwise — this gateway never routes beyond
// its single-hop cell. Unlike the original, there is no system-gateway
// resolution step for destinations outside the cell: every reachable peer
// is directly attached by construction of the /28, so intra-cell is the
// only supported case.
func nextHop(dst net.IP, cell *net.IPNet) (net.IP, error) {
	if !cell.Contains(dst) {
		return nil, ErrNoRoute
	}
	return dst, nil
}
