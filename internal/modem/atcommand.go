package modem

import (
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ATDriverConfig configures the V2 AT-command driver (RAK811 and
// compatible boards).
type ATDriverConfig struct {
	Port           string
	Baud           int
	ReadTimeout    time.Duration
	TX             RadioConfig
	RX             RadioConfig
	MaxLoraFrameSz int
	CommandRetries int // 40-80 per the AT variant's looser retry budget
}

func (c *ATDriverConfig) setDefaults() {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 50 * time.Millisecond
	}
	if c.CommandRetries == 0 {
		c.CommandRetries = 60
	}
}

// atDriver implements Driver for the V2 ASCII AT-command board. Commands
// are `at+<cmd>\r\n`; success is any response line containing "OK". The
// same mutex guards every command/response exchange and every receive
// poll, so control traffic never interleaves with radio RX lines.
type atDriver struct {
	cfg   ATDriverConfig
	port  serialPort
	pacer *pacer
	log   *log.Logger

	mu      sync.Mutex
	running bool
	lineBuf []byte
}

// NewATDriver opens the serial port for a V2 board. Start performs the
// version/region/mode init handshake.
func NewATDriver(cfg ATDriverConfig, logger *log.Logger) (Driver, error) {
	cfg.setDefaults()
	port, err := openSerial(cfg.Port, cfg.Baud, cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	return newATDriverWithPort(cfg, port, logger), nil
}

// newATDriverWithPort builds a driver over an already-open port, letting
// tests substitute a fake implementing serialPort.
func newATDriverWithPort(cfg ATDriverConfig, port serialPort, logger *log.Logger) *atDriver {
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &atDriver{
		cfg:   cfg,
		port:  port,
		pacer: newPacer(cfg.TX, cfg.MaxLoraFrameSz),
		log:   logger,
	}
}

func (d *atDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	version, err := d.command("version")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if !strings.Contains(version, "V3.0.0.") {
		if _, err := d.command("run"); err != nil {
			return fmt.Errorf("%w: firmware %q unsupported and run failed: %v", ErrUnsupportedFirmware, version, err)
		}
	}

	if _, err := d.command("set_config=lora:work_mode:1"); err != nil {
		return fmt.Errorf("%w: work_mode: %v", ErrHandshake, err)
	}
	if _, err := d.command("set_config=device:sleep:0"); err != nil {
		return fmt.Errorf("%w: sleep: %v", ErrHandshake, err)
	}

	region := "EU433"
	if d.cfg.RX.ChannelHz >= 868_000_000 {
		region = "EU868"
	}
	if _, err := d.command(fmt.Sprintf("set_config=lora:region:%s", region)); err != nil {
		return fmt.Errorf("%w: region: %v", ErrHandshake, err)
	}

	p2p := fmt.Sprintf("set_config=lorap2p:%d:%d:%d:%d:%d:%d",
		d.cfg.TX.ChannelHz, d.cfg.TX.SpreadingFactor, d.cfg.TX.Bandwidth,
		d.cfg.TX.Coderate, d.cfg.TX.PreambleLen, d.cfg.TX.Power)
	if _, err := d.command(p2p); err != nil {
		return fmt.Errorf("%w: lorap2p: %v", ErrHandshake, err)
	}

	if err := d.setTransferMode(1); err != nil {
		d.log.Printf("modem: initial RX mode switch failed, will retry on next operation: %v", err)
	}

	d.running = true
	return nil
}

func (d *atDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	return d.port.Close()
}

// Send switches to TX mode, sends the hex-encoded frame, and switches
// back to RX mode, paying the half-duplex pacing penalty.
func (d *atDriver) Send(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.setTransferMode(2); err != nil {
		d.log.Printf("modem: TX mode switch failed: %v", err)
	}
	if _, err := d.command(fmt.Sprintf("send=lorap2p:%s", hex.EncodeToString(frame))); err != nil {
		return fmt.Errorf("modem: send failed: %w", err)
	}
	if err := d.setTransferMode(1); err != nil {
		d.log.Printf("modem: RX mode switch failed: %v", err)
	}

	d.pacer.wait(len(frame))
	return nil
}

// Recv polls for an unsolicited `at+recv=<rssi>,<snr>,<len>:<hex>` line.
// Any other line is discarded; nothing available returns (nil, nil).
func (d *atDriver) Recv() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, ok := d.readLine(d.cfg.ReadTimeout)
	if !ok {
		return nil, nil
	}
	if !strings.HasPrefix(line, "at+recv=") {
		return nil, nil
	}
	return parseATRecv(line)
}

func (d *atDriver) setTransferMode(mode int) error {
	_, err := d.command(fmt.Sprintf("set_config=device:transfer_mode:%d", mode))
	return err
}

// command writes one at+<cmd>\r\n request and waits for a response line
// containing "OK", retrying within the configured budget.
func (d *atDriver) command(cmd string) (string, error) {
	if _, err := d.port.Write([]byte("at+" + cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("modem: write: %w", err)
	}

	deadline := time.Now().Add(time.Duration(d.cfg.CommandRetries) * d.cfg.ReadTimeout)
	for time.Now().Before(deadline) {
		line, ok := d.readLine(d.cfg.ReadTimeout)
		if !ok {
			continue
		}
		if strings.Contains(line, "OK") {
			return line, nil
		}
	}
	return "", ErrConfigAck
}

// readLine pulls from the serial port until a \r\n-terminated line is
// available or the timeout elapses.
func (d *atDriver) readLine(timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)
	for {
		if idx := strings.Index(string(d.lineBuf), "\n"); idx >= 0 {
			line := strings.TrimRight(string(d.lineBuf[:idx]), "\r\n")
			d.lineBuf = d.lineBuf[idx+1:]
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

// parseATRecv decodes an `at+recv=<rssi>,<snr>,<len>:<hex>` line,
// returning the raw radio bytes.
func parseATRecv(line string) ([]byte, error) {
	body := strings.TrimPrefix(line, "at+recv=")
	parts := strings.SplitN(body, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("modem: malformed recv line %q", line)
	}
	meta := strings.Split(parts[0], ",")
	if len(meta) < 3 {
		return nil, fmt.Errorf("modem: malformed recv meta %q", parts[0])
	}
	declaredLen, err := strconv.Atoi(meta[2])
	if err != nil {
		return nil, fmt.Errorf("modem: bad recv length %q: %w", meta[2], err)
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("modem: bad recv hex: %w", err)
	}
	if len(data) != declaredLen {
		return nil, fmt.Errorf("modem: recv length mismatch: declared %d, got %d", declaredLen, len(data))
	}
	return data, nil
}
