package gateway

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestLoraAddrFromMACAccepted(t *testing.T) {
	for addr := uint8(1); addr <= 14; addr++ {
		got, err := loraAddrFromMAC(gatewayMAC(addr))
		if err != nil {
			t.Fatalf("addr %d: unexpected error: %v", addr, err)
		}
		if got != addr {
			t.Fatalf("addr %d: got %d", addr, got)
		}
	}
}

func TestLoraAddrFromMACRejectsWrongPrefix(t *testing.T) {
	mac := net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x05}
	if _, err := loraAddrFromMAC(mac); err == nil {
		t.Fatalf("expected error for a non-gateway MAC prefix")
	}
}

func TestLoraAddrFromMACRejectsReservedAddresses(t *testing.T) {
	for _, addr := range []uint8{0, 15} {
		if _, err := loraAddrFromMAC(gatewayMAC(addr)); err == nil {
			t.Fatalf("addr %d: expected error, reserved address", addr)
		}
	}
}

func TestLoraAddrFromMACRejectsShortMAC(t *testing.T) {
	if _, err := loraAddrFromMAC(net.HardwareAddr{0x10, 0x2a, 0x10}); err == nil {
		t.Fatalf("expected error for a MAC shorter than 6 bytes")
	}
}

func TestNextHopWithinCell(t *testing.T) {
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	dst := net.IPv4(10, 0, 0, 7)
	hop, err := nextHop(dst, cell)
	if err != nil {
		t.Fatalf("nextHop: %v", err)
	}
	if !hop.Equal(dst) {
		t.Fatalf("hop = %v, want %v", hop, dst)
	}
}

func TestNextHopOutsideCellRejected(t *testing.T) {
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	dst := net.IPv4(10, 0, 1, 7)
	if _, err := nextHop(dst, cell); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestProcNetARPResolverParsesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp")
	contents := "IP address       HW type     Flags       HW address            Mask     Device\n" +
		"10.0.0.7         0x1         0x2         10:2a:10:2a:10:07     *        lora0\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := &procNetARPResolver{path: path}
	mac, err := r.Resolve(net.IPv4(10, 0, 0, 7))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := net.ParseMAC("10:2a:10:2a:10:07")
	if mac.String() != want.String() {
		t.Fatalf("mac = %v, want %v", mac, want)
	}
}

func TestProcNetARPResolverMissingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arp")
	contents := "IP address       HW type     Flags       HW address            Mask     Device\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r := &procNetARPResolver{path: path}
	if _, err := r.Resolve(net.IPv4(10, 0, 0, 9)); err == nil {
		t.Fatalf("expected error for a missing arp entry")
	}
}
