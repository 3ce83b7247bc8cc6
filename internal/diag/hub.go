// Package diag provides a local-only diagnostics hub: a WebSocket endpoint
// that streams frame sent/received, resync and inject-failure events to
// any attached observer. It
// replaces the teacher's cloud.Client push channel (this gateway has no
// cloud concept) with a LAN-local observability surface built on the same
// gorilla/websocket library, following its connection/write-pump shape.
package diag

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType names the kind of diagnostic event broadcast to observers.
type EventType string

const (
	EventFrameSent     EventType = "frame_sent"
	EventFrameReceived EventType = "frame_received"
	EventResync        EventType = "resync"
	EventInjectFailure EventType = "inject_failure"
)

// Event is one JSON message pushed to every attached observer.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	PeerAddr  uint8     `json:"peer_addr,omitempty"`
	WireBytes int       `json:"wire_bytes,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Config configures one Hub.
type Config struct {
	ListenAddr   string        // e.g. "127.0.0.1:7878"; empty disables the hub
	WriteTimeout time.Duration // per-message write deadline
	SendBuffer   int           // per-observer outbound channel depth
}

func (c *Config) setDefaults() {
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 64
	}
}

// Hub fans out Events to every currently connected WebSocket observer.
// Mirrors the teacher's cloud.Client lifecycle: stopChan + WaitGroup,
// idempotent Stop guarded by a running bool under the mutex.
type Hub struct {
	cfg      Config
	log      *log.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu        sync.Mutex
	running   bool
	observers map[*observer]struct{}
}

type observer struct {
	conn *websocket.Conn
	send chan []byte
}

// New builds a Hub. Call Start to begin listening.
func New(cfg Config, logger *log.Logger) *Hub {
	cfg.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		cfg:       cfg,
		log:       logger,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		observers: make(map[*observer]struct{}),
	}
}

// Start begins listening for WebSocket connections at /ws. A zero-value
// ListenAddr disables the hub entirely (diagnostics are always optional).
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.cfg.ListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	h.server = &http.Server{Addr: h.cfg.ListenAddr, Handler: mux}

	ln, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return err
	}
	h.running = true
	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Printf("diag: server error: %v", err)
		}
	}()
	h.log.Printf("diag: hub listening on %s/ws", h.cfg.ListenAddr)
	return nil
}

// Stop closes every observer connection and shuts down the HTTP server.
// Idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	observers := make([]*observer, 0, len(h.observers))
	for o := range h.observers {
		observers = append(observers, o)
	}
	h.observers = make(map[*observer]struct{})
	server := h.server
	h.mu.Unlock()

	for _, o := range observers {
		// The observers were already removed from the map above, so
		// detach() will not close send; close it here to end writePump,
		// and close the connection to end readPump.
		close(o.send)
		o.conn.Close()
	}
	if server != nil {
		return server.Close()
	}
	return nil
}

// Broadcast pushes event to every currently attached observer. When an
// observer's send buffer is full the event is dropped for that observer
// (which stays attached) rather than blocking the sender.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.observers) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Printf("diag: marshal event: %v", err)
		return
	}
	for o := range h.observers {
		select {
		case o.send <- data:
		default:
			h.log.Printf("diag: observer send buffer full, dropping")
		}
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Printf("diag: upgrade failed: %v", err)
		return
	}

	o := &observer{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.observers[o] = struct{}{}
	h.mu.Unlock()

	go h.writePump(o)
	go h.readPump(o)
}

// readPump only exists to notice the observer going away (close frames,
// errors); the diagnostics hub is write-only from the gateway's side.
func (h *Hub) readPump(o *observer) {
	defer h.detach(o)
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(o *observer) {
	defer o.conn.Close()
	for data := range o.send {
		o.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Hub) detach(o *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o]; ok {
		delete(h.observers, o)
		close(o.send)
	}
}
