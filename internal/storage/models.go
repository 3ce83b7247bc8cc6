// Package storage provides SQLite-backed telemetry persistence for the
// gateway: per-run sessions, frame send/receive counters, resync events,
// and peer last-seen tracking, queryable later by cmd/loragw-stats.
package storage

import "time"

// Session represents one Engine run, tagged by its UUID.
type Session struct {
	ID        string    `json:"id"`
	LocalAddr uint8     `json:"local_addr"`
	Device    string    `json:"device"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
}

// FrameEvent records one on-air frame sent or received during a session.
type FrameEvent struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Direction   string    `json:"direction"` // "tx" or "rx"
	PeerAddr    uint8     `json:"peer_addr"`
	WireBytes   int       `json:"wire_bytes"`
	CipherBit   bool      `json:"cipher_bit"`
	CompressBit bool      `json:"compress_bit"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResyncEvent records one ingress poll in which the rolling buffer
// discarded bytes without yielding a frame; it is not a count of
// individual bytes advanced.
type ResyncEvent struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// InjectFailure records one raw-socket re-injection failure on ingress.
type InjectFailure struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Peer tracks the last time a given LoRa address was heard from, across
// sessions, so an operator can tell which cell members are currently live.
type Peer struct {
	LoRaAddr uint8     `json:"lora_addr"`
	LastSeen time.Time `json:"last_seen"`
	RxFrames int64     `json:"rx_frames"`
}
