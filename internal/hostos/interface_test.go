package hostos

import (
	"strings"
	"testing"
)

func TestAdapterStartIssuesExpectedCommands(t *testing.T) {
	var calls []string
	a := NewAdapter(AdapterConfig{
		IfName:    "lora0",
		LoRaAddr:  5,
		IPNet:     "10.0.0.5/28",
		MTU:       1500,
		PeerAddrs: []uint8{1, 5, 6},
		PeerIPFor: func(addr uint8) string { return "10.0.0." + string(rune('0'+addr)) },
	}, nil)
	a.run = func(name string, args ...string) error {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return nil
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	joined := strings.Join(calls, "\n")
	for _, want := range []string{
		"ip link add lora0 type dummy",
		"ip link set lora0 address 10:2a:10:2a:10:05",
		"ip link set lora0 mtu 1500",
		"ip addr add 10.0.0.5/28 dev lora0",
		"ip link set lora0 up",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected command %q, got:\n%s", want, joined)
		}
	}

	// peer 5 is self and must not get an ARP entry; peers 1 and 6 should.
	arpCalls := 0
	for _, c := range calls {
		if strings.HasPrefix(c, "arp ") {
			arpCalls++
		}
	}
	if arpCalls != 2 {
		t.Fatalf("expected 2 static ARP seed calls, got %d:\n%s", arpCalls, joined)
	}
}

func TestAdapterStopIssuesLinkDelete(t *testing.T) {
	var calls []string
	a := NewAdapter(AdapterConfig{IfName: "lora0"}, nil)
	a.run = func(name string, args ...string) error {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return nil
	}
	a.up = true

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(calls) != 1 || calls[0] != "ip link del lora0" {
		t.Fatalf("unexpected teardown commands: %v", calls)
	}
}

func TestAdapterStopIdempotent(t *testing.T) {
	a := NewAdapter(AdapterConfig{IfName: "lora0"}, nil)
	a.run = func(name string, args ...string) error {
		t.Fatalf("Stop should be a no-op when never started")
		return nil
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestMACEncodesLoRaAddressAsLowByte(t *testing.T) {
	if got, want := MAC(5), "10:2a:10:2a:10:05"; got != want {
		t.Fatalf("MAC(5) = %q, want %q", got, want)
	}
	if got, want := MAC(14), "10:2a:10:2a:10:0e"; got != want {
		t.Fatalf("MAC(14) = %q, want %q", got, want)
	}
}
