package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection holding gateway telemetry.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite telemetry database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		local_addr INTEGER NOT NULL,
		device TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		stopped_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS frame_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		peer_addr INTEGER NOT NULL,
		wire_bytes INTEGER NOT NULL,
		cipher_bit INTEGER NOT NULL,
		compress_bit INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_frame_events_session ON frame_events(session_id);
	CREATE INDEX IF NOT EXISTS idx_frame_events_timestamp ON frame_events(timestamp);

	CREATE TABLE IF NOT EXISTS resync_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_resync_events_session ON resync_events(session_id);

	CREATE TABLE IF NOT EXISTS inject_failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_inject_failures_session ON inject_failures(session_id);

	CREATE TABLE IF NOT EXISTS peers (
		lora_addr INTEGER PRIMARY KEY,
		last_seen DATETIME NOT NULL,
		rx_frames INTEGER DEFAULT 0
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Session operations ---

// InsertSession records a new Engine run starting.
func (db *DB) InsertSession(s *Session) error {
	_, err := db.conn.Exec(
		`INSERT INTO sessions (id, local_addr, device, started_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.LocalAddr, s.Device, s.StartedAt,
	)
	return err
}

// StopSession marks a session as stopped.
func (db *DB) StopSession(id string, stoppedAt time.Time) error {
	_, err := db.conn.Exec(`UPDATE sessions SET stopped_at = ? WHERE id = ?`, stoppedAt, id)
	return err
}

// GetSessions returns the most recent sessions, newest first.
func (db *DB) GetSessions(limit int) ([]*Session, error) {
	rows, err := db.conn.Query(
		`SELECT id, local_addr, device, started_at, stopped_at FROM sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		var stopped sql.NullTime
		if err := rows.Scan(&s.ID, &s.LocalAddr, &s.Device, &s.StartedAt, &stopped); err != nil {
			return nil, err
		}
		if stopped.Valid {
			s.StoppedAt = stopped.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// --- Frame event operations ---

// InsertFrameEvent records one sent or received on-air frame.
func (db *DB) InsertFrameEvent(e *FrameEvent) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO frame_events (session_id, direction, peer_addr, wire_bytes, cipher_bit, compress_bit, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Direction, e.PeerAddr, e.WireBytes, e.CipherBit, e.CompressBit, e.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CountFrameEvents returns the number of frame events for a session by direction.
func (db *DB) CountFrameEvents(sessionID, direction string) (int64, error) {
	var count int64
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM frame_events WHERE session_id = ? AND direction = ?`,
		sessionID, direction,
	).Scan(&count)
	return count, err
}

// --- Resync event operations ---

// InsertResyncEvent records one resync event (see ResyncEvent).
func (db *DB) InsertResyncEvent(sessionID string, ts time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO resync_events (session_id, timestamp) VALUES (?, ?)`, sessionID, ts,
	)
	return err
}

// CountResyncEvents returns the number of resync events for a session.
func (db *DB) CountResyncEvents(sessionID string) (int64, error) {
	var count int64
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM resync_events WHERE session_id = ?`, sessionID,
	).Scan(&count)
	return count, err
}

// --- Inject failure operations ---

// InsertInjectFailure records one ingress re-injection failure.
func (db *DB) InsertInjectFailure(sessionID, reason string, ts time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO inject_failures (session_id, reason, timestamp) VALUES (?, ?, ?)`,
		sessionID, reason, ts,
	)
	return err
}

// --- Peer operations ---

// TouchPeer upserts a peer's last-seen time and increments its rx counter.
func (db *DB) TouchPeer(addr uint8, ts time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO peers (lora_addr, last_seen, rx_frames) VALUES (?, ?, 1)
		 ON CONFLICT(lora_addr) DO UPDATE SET last_seen = excluded.last_seen, rx_frames = rx_frames + 1`,
		addr, ts,
	)
	return err
}

// GetPeers returns all peers ever heard from, most recently seen first.
func (db *DB) GetPeers() ([]*Peer, error) {
	rows, err := db.conn.Query(`SELECT lora_addr, last_seen, rx_frames FROM peers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []*Peer
	for rows.Next() {
		p := &Peer{}
		if err := rows.Scan(&p.LoRaAddr, &p.LastSeen, &p.RxFrames); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
