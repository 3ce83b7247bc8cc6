package modem

import (
	"errors"
	"testing"
)

func testRadioConfig() RadioConfig {
	return RadioConfig{
		ChannelHz:       868100000,
		Bandwidth:       Bandwidth125kHz,
		SpreadingFactor: 7,
		Coderate:        1,
		PreambleLen:     8,
		Power:           14,
		Timeout:         3000,
	}
}

func TestBinaryDriverConfigAccepted(t *testing.T) {
	port := &fakePort{onWrite: func(w []byte) []byte {
		if w[0] == binCmdConfig {
			return []byte("CONFIG_OK")
		}
		return nil
	}}
	cfg := BinaryDriverConfig{
		TX:             testRadioConfig(),
		RX:             testRadioConfig(),
		MaxLoraFrameSz: 64,
		ConfigRetries:  3,
	}
	d := newBinaryDriverWithPort(cfg, port, nil)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if port.writeCount() < 2 {
		t.Fatalf("expected at least TC and RC config writes, got %d", port.writeCount())
	}
}

func TestBinaryDriverConfigRejectedAfterRetries(t *testing.T) {
	port := &fakePort{} // never responds CONFIG_OK
	cfg := BinaryDriverConfig{
		TX:             testRadioConfig(),
		RX:             testRadioConfig(),
		MaxLoraFrameSz: 64,
		ConfigRetries:  3,
	}
	d := newBinaryDriverWithPort(cfg, port, nil)
	err := d.Start()
	if !errors.Is(err, ErrConfigAck) {
		t.Fatalf("expected ErrConfigAck, got %v", err)
	}
}

func TestBinaryDriverSendWritesFramedCommand(t *testing.T) {
	port := &fakePort{onWrite: func(w []byte) []byte {
		if w[0] == binCmdConfig {
			return []byte("CONFIG_OK")
		}
		return nil
	}}
	cfg := BinaryDriverConfig{
		TX:             testRadioConfig(),
		RX:             testRadioConfig(),
		MaxLoraFrameSz: 64,
		ConfigRetries:  3,
	}
	d := newBinaryDriverWithPort(cfg, port, nil)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	frame := []byte{0x01, 0x02, 0x03}
	if err := d.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	writes := port.writes
	last := writes[len(writes)-1]
	if last[0] != binCmdSend {
		t.Fatalf("expected last write to be a send command, got cmd=%#x", last[0])
	}
	if string(last[3:]) != string(frame) {
		t.Fatalf("send body mismatch: got %x want %x", last[3:], frame)
	}
}

func TestBinaryDriverRecvReturnsNilWhenEmpty(t *testing.T) {
	port := &fakePort{}
	d := newBinaryDriverWithPort(BinaryDriverConfig{TX: testRadioConfig(), RX: testRadioConfig(), MaxLoraFrameSz: 64}, port, nil)
	data, err := d.Recv()
	if err != nil || data != nil {
		t.Fatalf("expected (nil, nil) on empty read, got (%v, %v)", data, err)
	}
}

func TestBinaryDriverRecvReturnsQueuedBytes(t *testing.T) {
	port := &fakePort{}
	port.queueRead([]byte{0xaa, 0xbb, 0xcc})
	d := newBinaryDriverWithPort(BinaryDriverConfig{TX: testRadioConfig(), RX: testRadioConfig(), MaxLoraFrameSz: 64}, port, nil)
	data, err := d.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(data) != string([]byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("recv mismatch: %x", data)
	}
}

func TestBinaryDriverStopIdempotent(t *testing.T) {
	port := &fakePort{onWrite: func(w []byte) []byte { return []byte("CONFIG_OK") }}
	d := newBinaryDriverWithPort(BinaryDriverConfig{TX: testRadioConfig(), RX: testRadioConfig(), MaxLoraFrameSz: 64, ConfigRetries: 2}, port, nil)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
	if !port.closed {
		t.Fatalf("expected port to be closed")
	}
}
