package gateway

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/agsys/lora-ip-gateway/internal/codec"
	"github.com/agsys/lora-ip-gateway/internal/link"
)

// mockDriver is a scripted stand-in for modem.Driver: Send calls are
// recorded in order, Recv serves from a queue the test fills ahead of time.
type mockDriver struct {
	mu      sync.Mutex
	sent    [][]byte
	toRecv  [][]byte
	sendErr error
}

func (m *mockDriver) Start() error { return nil }
func (m *mockDriver) Stop() error  { return nil }

func (m *mockDriver) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, append([]byte(nil), frame...))
	return nil
}

func (m *mockDriver) Recv() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.toRecv) == 0 {
		return nil, nil
	}
	next := m.toRecv[0]
	m.toRecv = m.toRecv[1:]
	return next, nil
}

func (m *mockDriver) queueRecv(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toRecv = append(m.toRecv, b)
}

func (m *mockDriver) sentFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// mockPacketSource never yields a real packet; the egress tests in this
// file drive Engine.handleEgress directly instead of through the poll
// loop, so Next just needs to be a well-behaved no-op for the lifecycle
// (Start/Stop) tests.
type mockPacketSource struct {
	mu     sync.Mutex
	closed bool
}

func (s *mockPacketSource) Next() ([]byte, func(bool), error) {
	return nil, nil, errors.New("mock: no packets queued")
}

func (s *mockPacketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// mockInjector records every datagram handed to it by the ingress path.
type mockInjector struct {
	mu  sync.Mutex
	got [][]byte
	err error
}

func (in *mockInjector) Inject(datagram []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.err != nil {
		return in.err
	}
	in.got = append(in.got, append([]byte(nil), datagram...))
	return nil
}

func (in *mockInjector) injected() [][]byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([][]byte, len(in.got))
	copy(out, in.got)
	return out
}

// mockARP returns a scripted MAC (or error) for every Resolve call,
// regardless of the requested IP.
type mockARP struct {
	mac net.HardwareAddr
	err error
}

func (a *mockARP) Resolve(ip net.IP) (net.HardwareAddr, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.mac, nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// buildIPv4Datagram builds a minimal, otherwise-zeroed IPv4 datagram of
// totalLen bytes, with the given protocol number and destination address —
// enough for isIPv4/FixupTCPChecksum/nextHop to operate on.
func buildIPv4Datagram(totalLen int, proto byte, dst net.IP) []byte {
	d := make([]byte, totalLen)
	d[0] = 0x45 // version 4, IHL 5 (20-byte header, no options)
	d[9] = proto
	copy(d[16:20], dst.To4())
	return d
}

func gatewayMAC(addr uint8) net.HardwareAddr {
	return net.HardwareAddr{gatewayMACPrefix[0], gatewayMACPrefix[1], gatewayMACPrefix[2], gatewayMACPrefix[3], gatewayMACPrefix[4], addr}
}

func TestHandleEgressSendsOneFrameForSmallDatagram(t *testing.T) {
	driver := &mockDriver{}
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	e := New(Config{
		LocalAddr: 5,
		Cell:      cell,
		Pipeline:  &codec.Pipeline{},
		Driver:    driver,
		ARP:       &mockARP{mac: gatewayMAC(7)},
		Logger:    discardLogger(),
	})

	datagram := buildIPv4Datagram(28, protoUDP, net.IPv4(10, 0, 0, 7))
	e.handleEgress(datagram)

	sent := driver.sentFrames()
	if len(sent) != 1 {
		t.Fatalf("expected exactly 1 Send call for a datagram smaller than maxFragmentPayload, got %d", len(sent))
	}

	frame, consumed, err := link.Decode(sent[0], 7, &codec.Pipeline{})
	if err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	if consumed != len(sent[0]) {
		t.Fatalf("consumed = %d, want %d", consumed, len(sent[0]))
	}

	var reasm reassembler
	complete, ok, err := reasm.accept(frame.Payload)
	if err != nil {
		t.Fatalf("reassemble: %v", err)
	}
	if !ok {
		t.Fatalf("expected single fragment to complete immediately")
	}
	if !bytes.Equal(complete, datagram) {
		t.Fatalf("reassembled datagram mismatch")
	}
}

func TestHandleEgressDropsNonIPv4(t *testing.T) {
	driver := &mockDriver{}
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	e := New(Config{
		LocalAddr: 5,
		Cell:      cell,
		Pipeline:  &codec.Pipeline{},
		Driver:    driver,
		ARP:       &mockARP{mac: gatewayMAC(7)},
		Logger:    discardLogger(),
	})

	e.handleEgress([]byte{0x60, 0x00, 0x00, 0x00}) // IPv6 version nibble
	if len(driver.sentFrames()) != 0 {
		t.Fatalf("expected non-IPv4 datagram to be dropped silently")
	}
}

func TestHandleEgressDropsOnAddressResolutionFailure(t *testing.T) {
	driver := &mockDriver{}
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	e := New(Config{
		LocalAddr: 5,
		Cell:      cell,
		Pipeline:  &codec.Pipeline{},
		Driver:    driver,
		ARP:       &mockARP{err: errors.New("no arp entry")},
		Logger:    discardLogger(),
	})

	datagram := buildIPv4Datagram(28, protoUDP, net.IPv4(10, 0, 0, 7))
	e.handleEgress(datagram)
	if len(driver.sentFrames()) != 0 {
		t.Fatalf("expected datagram to be dropped when ARP resolution fails")
	}
}

func TestHandleEgressDropsOnWrongMACPrefix(t *testing.T) {
	driver := &mockDriver{}
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	e := New(Config{
		LocalAddr: 5,
		Cell:      cell,
		Pipeline:  &codec.Pipeline{},
		Driver:    driver,
		ARP:       &mockARP{mac: net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x07}},
		Logger:    discardLogger(),
	})

	datagram := buildIPv4Datagram(28, protoUDP, net.IPv4(10, 0, 0, 7))
	e.handleEgress(datagram)
	if len(driver.sentFrames()) != 0 {
		t.Fatalf("expected datagram to be dropped for a non-gateway MAC prefix")
	}
}

func TestHandleEgressDropsOutOfCellDestination(t *testing.T) {
	driver := &mockDriver{}
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	e := New(Config{
		LocalAddr: 5,
		Cell:      cell,
		Pipeline:  &codec.Pipeline{},
		Driver:    driver,
		ARP:       &mockARP{mac: gatewayMAC(7)},
		Logger:    discardLogger(),
	})

	datagram := buildIPv4Datagram(28, protoUDP, net.IPv4(10, 0, 1, 7)) // outside the /28
	e.handleEgress(datagram)
	if len(driver.sentFrames()) != 0 {
		t.Fatalf("expected out-of-cell datagram to be dropped")
	}
}

// TestScenarioFSegmentation covers spec.md §8 Scenario F: with
// maxLoraFrameSz=64, a 150-byte cleartext payload must be emitted as
// exactly three on-air frames, each within the configured byte budget,
// sent in order via Driver.Send.
func TestScenarioFSegmentation(t *testing.T) {
	driver := &mockDriver{}
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	const maxLoraFrameSz = 64
	e := New(Config{
		LocalAddr:          5,
		Cell:               cell,
		MaxFragmentPayload: MaxChunkSize(maxLoraFrameSz),
		Pipeline:           &codec.Pipeline{},
		Driver:             driver,
		ARP:                &mockARP{mac: gatewayMAC(7)},
		Logger:             discardLogger(),
	})

	datagram := buildIPv4Datagram(150, protoUDP, net.IPv4(10, 0, 0, 7))
	e.handleEgress(datagram)

	sent := driver.sentFrames()
	if len(sent) != 3 {
		t.Fatalf("expected exactly 3 Send calls, got %d", len(sent))
	}

	var reasm reassembler
	var got []byte
	for i, wire := range sent {
		if len(wire) > maxLoraFrameSz {
			t.Fatalf("segment %d: on-air frame is %d bytes, exceeds maxLoraFrameSz=%d", i, len(wire), maxLoraFrameSz)
		}
		frame, consumed, err := link.Decode(wire, 7, &codec.Pipeline{})
		if err != nil {
			t.Fatalf("segment %d: decode failed: %v", i, err)
		}
		if consumed != len(wire) {
			t.Fatalf("segment %d: consumed = %d, want %d", i, consumed, len(wire))
		}
		complete, ok, err := reasm.accept(frame.Payload)
		if err != nil {
			t.Fatalf("segment %d: reassembly error: %v", i, err)
		}
		if ok {
			got = complete
		}
	}
	if !bytes.Equal(got, datagram) {
		t.Fatalf("reassembled datagram mismatch: got %d bytes, want %d", len(got), len(datagram))
	}
}

// TestEngineIngressReassemblesAndInjects drives the real ingress poll loop
// (Start/Stop) rather than calling an unexported handler directly: a
// multi-fragment datagram arrives split across three radio reads, and the
// engine must reassemble and inject it exactly once.
func TestEngineIngressReassemblesAndInjects(t *testing.T) {
	driver := &mockDriver{}
	injector := &mockInjector{}
	source := &mockPacketSource{}

	cleartext := bytes.Repeat([]byte{0xAB}, 130)
	for _, frag := range fragment(cleartext, MaxChunkSize(64)) {
		wire, err := link.EncodeFrame(9, false, false, frag, frag)
		if err != nil {
			t.Fatalf("build fixture frame: %v", err)
		}
		driver.queueRecv(wire)
	}

	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	e := New(Config{
		LocalAddr:           9,
		Cell:                cell,
		Pipeline:            &codec.Pipeline{},
		Driver:              driver,
		PacketSource:        source,
		Injector:            injector,
		ARP:                 &mockARP{},
		Logger:              discardLogger(),
		IngressPollInterval: 2 * time.Millisecond,
	})

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(injector.injected()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := injector.injected()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 injected datagram, got %d", len(got))
	}
	if !bytes.Equal(got[0], cleartext) {
		t.Fatalf("injected datagram mismatch")
	}
	if !source.closed {
		t.Fatalf("expected Stop to close the packet source")
	}
}

func TestEngineStartStopIdempotent(t *testing.T) {
	driver := &mockDriver{}
	source := &mockPacketSource{}
	_, cell, _ := net.ParseCIDR("10.0.0.0/28")
	e := New(Config{
		LocalAddr:    5,
		Cell:         cell,
		Pipeline:     &codec.Pipeline{},
		Driver:       driver,
		PacketSource: source,
		Injector:     &mockInjector{},
		ARP:          &mockARP{},
		Logger:       discardLogger(),
	})

	if err := e.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}
