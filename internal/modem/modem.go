// Package modem implements the LoRa radio driver abstraction: a uniform
// contract (open/init, send_radio_frame, recv_radio_frame, stop) over
// three concrete board variants that differ only in their control-plane
// framing and init handshake.
package modem

import (
	"errors"
	"math/rand"
	"time"

	"github.com/agsys/lora-ip-gateway/internal/airtime"
)

// Sentinel errors matching the error-kind table: SerialOpen, Handshake,
// UnsupportedFirmware and ConfigAck are fatal at driver init; ModeSwitch
// is logged and retried by the caller, never fatal.
var (
	ErrSerialOpen         = errors.New("modem: failed to open serial port")
	ErrHandshake          = errors.New("modem: init handshake failed")
	ErrUnsupportedFirmware = errors.New("modem: unsupported firmware version")
	ErrConfigAck          = errors.New("modem: configuration not acknowledged")
)

// Bandwidth indices from the config surface.
const (
	Bandwidth125kHz = 0
	Bandwidth250kHz = 1
	Bandwidth500kHz = 2
)

var bandwidthKHz = map[int]float64{
	Bandwidth125kHz: 125,
	Bandwidth250kHz: 250,
	Bandwidth500kHz: 500,
}

// RadioConfig is one of the two symmetric TX/RX parameter blocks.
type RadioConfig struct {
	ChannelHz       int
	Bandwidth       int // 0/1/2 -> 125/250/500 kHz
	SpreadingFactor int // 7..12
	Coderate        int // 1..4 -> 4/5..4/8
	PreambleLen     int
	ImplicitHeader  bool
	CRCOn           bool
	IQInverted      bool
	FreqHopOn       bool
	HopPeriod       int

	// TX only.
	Power   int
	Timeout int

	// RX only.
	ContinuousRX bool
}

// codeRateValue converts the 1..4 config index into the 5..8 integer the
// airtime formula expects.
func (r RadioConfig) codeRateValue() int {
	return r.Coderate + 4
}

func (r RadioConfig) bandwidthKHz() float64 {
	return bandwidthKHz[r.Bandwidth]
}

// Driver is the uniform capability set every radio board variant
// implements: the constructor opens the transport, Start runs the init
// handshake, puts the radio in RX-listen mode and starts any maintenance
// goroutines, Send
// atomically transmits one on-air frame (including post-TX pacing), Recv
// is a non-blocking poll for whatever bytes have arrived, and Stop is
// idempotent.
type Driver interface {
	Start() error
	Stop() error
	Send(frame []byte) error
	Recv() ([]byte, error)
}

// pacer implements the half-duplex transmit pacing model: after a send
// completes, block for max_time_transmission (the airtime of a
// full-size frame under the TX config) plus a random fraction of the
// actual payload's airtime, so peers sharing the channel get a fair shot
// at it.
type pacer struct {
	txConfig           RadioConfig
	maxTimeTransmission time.Duration
	rng                *rand.Rand
}

func newPacer(txConfig RadioConfig, maxLoraFrameSz int) *pacer {
	p := airtime.Params{
		PayloadLen:      maxLoraFrameSz,
		SpreadingFactor: txConfig.SpreadingFactor,
		ImplicitHeader:  txConfig.ImplicitHeader,
		CodeRate:        txConfig.codeRateValue(),
		BandwidthKHz:    txConfig.bandwidthKHz(),
		PreambleSymbols: txConfig.PreambleLen,
	}
	maxTime := airtime.Duration(p)
	return &pacer{
		txConfig:            txConfig,
		maxTimeTransmission: time.Duration(maxTime * float64(time.Second)),
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// wait blocks the pacing window for a payload of payloadLen bytes that
// was just transmitted.
func (p *pacer) wait(payloadLen int) {
	params := airtime.Params{
		PayloadLen:      payloadLen,
		SpreadingFactor: p.txConfig.SpreadingFactor,
		ImplicitHeader:  p.txConfig.ImplicitHeader,
		CodeRate:        p.txConfig.codeRateValue(),
		BandwidthKHz:    p.txConfig.bandwidthKHz(),
		PreambleSymbols: p.txConfig.PreambleLen,
	}
	frameAirtime := airtime.Duration(params)
	jitter := frameAirtime * p.rng.Float64()
	time.Sleep(p.maxTimeTransmission + time.Duration(jitter*float64(time.Second)))
}
