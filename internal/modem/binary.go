package modem

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"
)

// Binary-variant control-plane command bytes (B-L072Z-LRWAN1 and
// compatible boards): each host->modem message is cmd_byte || u16_le(len)
// || body.
const (
	binCmdSend   = 0x01
	binCmdConfig = 0x02
)

// BinaryDriverConfig configures the V1 binary length-prefixed driver.
type BinaryDriverConfig struct {
	Port              string
	Baud              int
	ReadTimeout       time.Duration
	TX                RadioConfig
	RX                RadioConfig
	MaxLoraFrameSz    int
	ConfigRetries     int           // default 10
	KeepaliveInterval time.Duration // 0 selects the 30s default; negative disables the keepalive workaround
}

func (c *BinaryDriverConfig) setDefaults() {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 50 * time.Millisecond
	}
	if c.ConfigRetries == 0 {
		c.ConfigRetries = 10
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
}

// binaryDriver implements Driver for the V1 binary length-prefixed board.
// Configuration completes when the modem echoes CONFIG_OK; the firmware
// stops receiving after prolonged inactivity until it next transmits, so
// a 1-byte keepalive is sent periodically as a workaround.
type binaryDriver struct {
	cfg   BinaryDriverConfig
	port  serialPort
	pacer *pacer
	log   *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewBinaryDriver opens the serial port and returns a Driver for the V1
// binary board. It does not configure the radio yet; that happens in
// Start, matching the other variants' open/init split.
func NewBinaryDriver(cfg BinaryDriverConfig, logger *log.Logger) (Driver, error) {
	cfg.setDefaults()
	port, err := openSerial(cfg.Port, cfg.Baud, cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	return newBinaryDriverWithPort(cfg, port, logger), nil
}

// newBinaryDriverWithPort builds a driver over an already-open port,
// letting tests substitute a fake implementing serialPort.
func newBinaryDriverWithPort(cfg BinaryDriverConfig, port serialPort, logger *log.Logger) *binaryDriver {
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &binaryDriver{
		cfg:   cfg,
		port:  port,
		pacer: newPacer(cfg.TX, cfg.MaxLoraFrameSz),
		log:   logger,
	}
}

func (d *binaryDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	if err := d.configure("TC", d.cfg.TX); err != nil {
		return fmt.Errorf("tx config: %w", err)
	}
	if err := d.configure("RC", d.cfg.RX); err != nil {
		return fmt.Errorf("rx config: %w", err)
	}

	d.stopCh = make(chan struct{})
	if d.cfg.KeepaliveInterval > 0 {
		d.wg.Add(1)
		go d.keepaliveLoop()
	}
	d.running = true
	return nil
}

func (d *binaryDriver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	return d.port.Close()
}

// Send atomically writes one on-air frame and pays the half-duplex
// pacing penalty before returning.
func (d *binaryDriver) Send(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg := make([]byte, 0, 3+len(frame))
	msg = append(msg, binCmdSend)
	msg = appendLen16(msg, len(frame))
	msg = append(msg, frame...)

	if _, err := d.port.Write(msg); err != nil {
		return fmt.Errorf("modem: send write: %w", err)
	}
	d.pacer.wait(len(frame))
	return nil
}

// Recv performs one non-blocking poll for whatever bytes the modem has
// buffered; the serial port's read timeout bounds the wait.
func (d *binaryDriver) Recv() ([]byte, error) {
	buf := make([]byte, 512)
	n, err := d.port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("modem: recv read: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

func (d *binaryDriver) keepaliveLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			if _, err := d.port.Write([]byte{0x00}); err != nil {
				d.log.Printf("modem: keepalive write failed: %v", err)
			}
			d.mu.Unlock()
		}
	}
}

// configure sends one TC/Tc/RC sub-operation and retries until the modem
// echoes CONFIG_OK or the retry budget is exhausted.
func (d *binaryDriver) configure(subop string, cfg RadioConfig) error {
	body := encodeBinaryRadioConfig(subop, cfg)
	msg := make([]byte, 0, 3+len(subop)+len(body))
	msg = append(msg, binCmdConfig)
	msg = appendLen16(msg, len(subop)+len(body))
	msg = append(msg, subop...)
	msg = append(msg, body...)

	resp := make([]byte, 32)
	for attempt := 0; attempt < d.cfg.ConfigRetries; attempt++ {
		if _, err := d.port.Write(msg); err != nil {
			return fmt.Errorf("%w: %v", ErrSerialOpen, err)
		}
		n, _ := d.port.Read(resp)
		if bytes.Contains(resp[:n], []byte("CONFIG_OK")) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return ErrConfigAck
}

func appendLen16(msg []byte, n int) []byte {
	lenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBuf, uint16(n))
	return append(msg, lenBuf...)
}

// encodeBinaryRadioConfig packs a RadioConfig block little-endian, in the
// field order the original config dicts (channel, modem, power, fdev,
// bandwidth, datarate, coderate, preambleLen, flags, timeout) enumerate
// it; fdev is not packed. TC (full TX config) carries power and timeout; Tc (TX channel only)
// and RC (full RX config) omit them as appropriate.
func encodeBinaryRadioConfig(subop string, cfg RadioConfig) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(cfg.ChannelHz))
	buf.WriteByte(1) // modem kind: 1 = LoRa

	if subop == "TC" {
		buf.WriteByte(byte(cfg.Power))
	}

	if subop == "Tc" {
		return buf.Bytes()
	}

	buf.WriteByte(byte(cfg.Bandwidth))
	buf.WriteByte(byte(cfg.SpreadingFactor))
	buf.WriteByte(byte(cfg.Coderate))
	binary.Write(buf, binary.LittleEndian, uint16(cfg.PreambleLen))

	var flags byte
	if cfg.ImplicitHeader {
		flags |= 0x01
	}
	if cfg.CRCOn {
		flags |= 0x02
	}
	if cfg.FreqHopOn {
		flags |= 0x04
	}
	if cfg.IQInverted {
		flags |= 0x08
	}
	if cfg.ContinuousRX {
		flags |= 0x10
	}
	buf.WriteByte(flags)

	if subop == "TC" {
		binary.Write(buf, binary.LittleEndian, uint16(cfg.Timeout))
	}

	return buf.Bytes()
}
