package modem

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// LineDriverConfig configures the V3 line-oriented driver (RN2483/LoStick
// and compatible boards).
type LineDriverConfig struct {
	Port           string
	Baud           int
	ReadTimeout    time.Duration
	TX             RadioConfig
	RX             RadioConfig
	MaxLoraFrameSz int
}

func (c *LineDriverConfig) setDefaults() {
	if c.Baud == 0 {
		c.Baud = 57600
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 50 * time.Millisecond
	}
}

// lineDriver implements Driver for the V3 line-oriented board. Every
// command/response is a bare `\r\n`-terminated ASCII line; a per-driver
// line queue discards the spurious "radio_tx_ok" notification the
// firmware emits after a transmit completes.
type lineDriver struct {
	cfg   LineDriverConfig
	port  serialPort
	pacer *pacer
	log   *log.Logger

	mu      sync.Mutex
	running bool
	lineBuf []byte
}

// NewLineDriver opens the serial port for a V3 board. Start runs the
// `radio set ...` init sequence and the required `sys reset` firmware
// check.
func NewLineDriver(cfg LineDriverConfig, logger *log.Logger) (Driver, error) {
	cfg.setDefaults()
	port, err := openSerial(cfg.Port, cfg.Baud, cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	return newLineDriverWithPort(cfg, port, logger), nil
}

// newLineDriverWithPort builds a driver over an already-open port,
// letting tests substitute a fake implementing serialPort.
func newLineDriverWithPort(cfg LineDriverConfig, port serialPort, logger *log.Logger) *lineDriver {
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &lineDriver{
		cfg:   cfg,
		port:  port,
		pacer: newPacer(cfg.TX, cfg.MaxLoraFrameSz),
		log:   logger,
	}
}

func bandwidthValue(idx int) int {
	switch idx {
	case Bandwidth250kHz:
		return 250
	case Bandwidth500kHz:
		return 500
	default:
		return 125
	}
}

func (d *lineDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	reset, err := d.command("sys reset")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialOpen, err)
	}
	if !strings.HasPrefix(reset, "RN2483 1.0.5") {
		return fmt.Errorf("%w: got %q, want RN2483 1.0.5 .*", ErrUnsupportedFirmware, reset)
	}

	if _, err := d.command("mac pause"); err != nil {
		return fmt.Errorf("%w: mac pause: %v", ErrHandshake, err)
	}

	crc := "off"
	if d.cfg.TX.CRCOn {
		crc = "on"
	}

	steps := [][2]string{
		{"mod", "lora"},
		{"wdt", "0"},
		{"sync", "12"},
		{"crc", crc},
		{"bw", fmt.Sprintf("%d", bandwidthValue(d.cfg.TX.Bandwidth))},
		{"rxbw", fmt.Sprintf("%d", bandwidthValue(d.cfg.TX.Bandwidth))},
		{"sf", fmt.Sprintf("sf%d", d.cfg.TX.SpreadingFactor)},
		{"cr", fmt.Sprintf("4/%d", d.cfg.TX.Coderate+4)},
		{"freq", fmt.Sprintf("%d", d.cfg.TX.ChannelHz)},
		{"prlen", fmt.Sprintf("%d", d.cfg.TX.PreambleLen)},
		{"pwr", fmt.Sprintf("%d", d.cfg.TX.Power)},
	}
	for _, s := range steps {
		if err := d.setRadio(s[0], s[1]); err != nil {
			return fmt.Errorf("%w: radio set %s %s: %v", ErrHandshake, s[0], s[1], err)
		}
	}

	d.enterRXMode()
	d.running = true
	return nil
}

func (d *lineDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	return d.port.Close()
}

// Send stops RX, transmits the hex-encoded frame, re-enters RX mode, and
// pays the half-duplex pacing penalty.
func (d *lineDriver) Send(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.command("radio rxstop"); err != nil {
		d.log.Printf("modem: rxstop failed: %v", err)
	}

	resp, err := d.command("radio tx " + hex.EncodeToString(frame))
	if err != nil || resp != "ok" {
		return fmt.Errorf("modem: radio tx failed: resp=%q err=%w", resp, err)
	}

	d.enterRXMode()
	d.pacer.wait(len(frame))
	return nil
}

// Recv polls for a `radio_rx  <hex>` line (note the double space), silently
// discarding `radio_tx_ok` and anything else.
func (d *lineDriver) Recv() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, ok := d.readLine(d.cfg.ReadTimeout)
	if !ok {
		return nil, nil
	}
	const prefix = "radio_rx  "
	if !strings.HasPrefix(line, prefix) {
		return nil, nil
	}
	data, err := hex.DecodeString(strings.TrimPrefix(line, prefix))
	if err != nil {
		return nil, fmt.Errorf("modem: bad recv hex: %w", err)
	}
	return data, nil
}

func (d *lineDriver) setRadio(key, value string) error {
	resp, err := d.command(fmt.Sprintf("radio set %s %s", key, value))
	if err != nil {
		return err
	}
	if resp != "ok" {
		return fmt.Errorf("radio set %s %s rejected: %q", key, value, resp)
	}
	return nil
}

// enterRXMode retries `radio rx 0` until accepted. A mode-switch failure
// is logged and retried, never treated as fatal.
func (d *lineDriver) enterRXMode() {
	for {
		resp, err := d.command("radio rx 0")
		if err == nil && resp == "ok" {
			return
		}
		d.log.Printf("modem: radio rx 0 not accepted (resp=%q err=%v), retrying", resp, err)
		time.Sleep(20 * time.Millisecond)
	}
}

func (d *lineDriver) command(cmd string) (string, error) {
	if _, err := d.port.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("modem: write: %w", err)
	}
	line, ok := d.readLine(2 * time.Second)
	if !ok {
		return "", fmt.Errorf("modem: no response to %q", cmd)
	}
	return line, nil
}

func (d *lineDriver) readLine(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)
	for {
		if idx := strings.Index(string(d.lineBuf), "\n"); idx >= 0 {
			line := strings.TrimRight(string(d.lineBuf[:idx]), "\r\n")
			d.lineBuf = d.lineBuf[idx+1:]
			if line == "radio_tx_ok" {
				continue
			}
			return line, true
		}
		if time.Now().After(deadline) {
			return "", false
		}
		n, err := d.port.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		d.lineBuf = append(d.lineBuf, buf[:n]...)
	}
}
