// Package airtime computes LoRa on-air symbol and packet duration.
//
// The model follows the standard LoRa PHY airtime formula used throughout
// the gateway for half-duplex transmit pacing: every send blocks for at
// least the time the radio itself is busy, so peers sharing the channel get
// a fair shot at it.
package airtime

import "math"

// Params bundles every PHY knob the duration formula depends on.
type Params struct {
	PayloadLen          int     // PL, bytes
	SpreadingFactor     int     // SF, 7..12
	ImplicitHeader      bool    // EH: true when the header is omitted
	LowDataRateOptimize bool    // LDR
	CodeRate            int     // CR, 5..8 (not the 1..4 config index)
	BandwidthKHz        float64 // BW, kHz
	PreambleSymbols     int     // NP
}

// Duration returns the total on-air packet time (Tpacket) in seconds.
func Duration(p Params) float64 {
	return Tpreamble(p) + Tpayload(p)
}

// SymbolDuration returns Ts, the duration of a single LoRa symbol.
func SymbolDuration(p Params) float64 {
	return math.Pow(2, float64(p.SpreadingFactor)) / (p.BandwidthKHz * 1000)
}

// Tpreamble returns the preamble duration.
func Tpreamble(p Params) float64 {
	ts := SymbolDuration(p)
	return (float64(p.PreambleSymbols) + 4.25) * ts
}

// Tpayload returns the payload duration, including the 8-symbol header and
// the fixed +1 symbol overhead the LoRa PHY always adds.
func Tpayload(p Params) float64 {
	ts := SymbolDuration(p)
	return float64(payloadSymbolCount(p)) * ts
}

func payloadSymbolCount(p Params) int {
	eh := 0
	if p.ImplicitHeader {
		eh = 1
	}
	ldr := 0
	if p.LowDataRateOptimize {
		ldr = 1
	}

	num := 8*p.PayloadLen - 4*p.SpreadingFactor + 28 + 16 - 20*eh
	den := 4 * (p.SpreadingFactor - 2*ldr)

	n := int(math.Ceil(float64(num) / float64(den)))
	if n < 0 {
		n = 0
	}
	return 8 + 1 + n*p.CodeRate
}
