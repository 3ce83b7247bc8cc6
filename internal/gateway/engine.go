// Package gateway wires the codec, link, and modem layers together into
// the running daemon: an egress path from a captured IPv4 datagram to one
// or more on-air frames, and an ingress path from raw radio bytes back to
// a re-injected IPv4 datagram. Concurrency model follows the teacher's
// engine.Engine: a receive goroutine, a transmit-triggering goroutine, and
// a stopChan/WaitGroup shutdown, all serialized through the modem driver's
// own internal mutex.
package gateway

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agsys/lora-ip-gateway/internal/codec"
	"github.com/agsys/lora-ip-gateway/internal/link"
	"github.com/agsys/lora-ip-gateway/internal/modem"
)

// Injector re-injects a complete IPv4 datagram into the host stack.
// hostos.Injector satisfies this.
type Injector interface {
	Inject(datagram []byte) error
}

// PacketSource delivers captured IPv4 datagrams with a verdict callback.
// hostos.PacketSource satisfies this.
type PacketSource interface {
	Next() (datagram []byte, verdict func(accept bool), err error)
	Close() error
}

// Config wires one running Engine.
type Config struct {
	LocalAddr           uint8
	Cell                *net.IPNet // the local /28 this gateway never routes beyond
	MaxFragmentPayload  int        // MaxChunkSize(maxLoraFrameSz); see segment.go
	Pipeline            *codec.Pipeline
	Driver              modem.Driver
	PacketSource        PacketSource
	Injector            Injector
	ARP                 ARPResolver
	Logger              *log.Logger
	IngressPollInterval time.Duration

	// OnFrameSent/OnFrameReceived are optional telemetry hooks (see
	// internal/storage, internal/diag); either may be nil.
	OnFrameSent     func(wire []byte, destAddr uint8)
	OnFrameReceived func(frame *link.Frame)
	OnResyncByte    func()
	OnInjectFailure func(err error)
}

// Engine owns the egress and ingress loops for one running gateway.
type Engine struct {
	cfg       Config
	sessionID uuid.UUID
	buf       link.RollingBuffer
	reasm     reassembler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds an Engine. Call Start to begin the ingress/egress loops.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.IngressPollInterval == 0 {
		cfg.IngressPollInterval = 10 * time.Millisecond
	}
	if cfg.MaxFragmentPayload <= 0 {
		cfg.MaxFragmentPayload = MaxChunkSize(64)
	}
	return &Engine{cfg: cfg, sessionID: uuid.New()}
}

// SessionID identifies this Engine run; it is attached to every
// telemetry row and diagnostic event so gateway restarts are
// distinguishable downstream.
func (e *Engine) SessionID() uuid.UUID {
	return e.sessionID
}

// Start starts the modem driver and the ingress/egress goroutines.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if err := e.cfg.Driver.Start(); err != nil {
		return err
	}

	e.stopCh = make(chan struct{})
	e.wg.Add(2)
	go e.ingressLoop()
	go e.egressLoop()
	e.running = true
	e.cfg.Logger.Printf("gateway: engine started, session=%s, local_addr=%d", e.sessionID, e.cfg.LocalAddr)
	return nil
}

// Stop cooperatively stops both loops and tears down the driver and
// packet source. Idempotent; does not forcibly interrupt an in-flight
// send, consistent with the pacing model's non-preemptive shutdown.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	if e.cfg.PacketSource != nil {
		e.cfg.PacketSource.Close()
	}
	e.wg.Wait()

	if err := e.cfg.Driver.Stop(); err != nil {
		return err
	}
	return nil
}

func (e *Engine) ingressLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.IngressPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			data, err := e.cfg.Driver.Recv()
			if err != nil {
				e.cfg.Logger.Printf("gateway: modem recv error: %v", err)
				continue
			}
			if len(data) == 0 {
				continue
			}
			before := e.buf.Len() + len(data)
			e.buf.Append(data)
			frames := e.buf.Drain(e.cfg.LocalAddr, e.cfg.Pipeline)
			if e.cfg.OnResyncByte != nil && len(frames) == 0 && before > e.buf.Len() {
				e.cfg.OnResyncByte()
			}
			for _, f := range frames {
				e.handleIngressFrame(f)
			}
		}
	}
}

func (e *Engine) handleIngressFrame(f *link.Frame) {
	if e.cfg.OnFrameReceived != nil {
		e.cfg.OnFrameReceived(f)
	}

	complete, ok, err := e.reasm.accept(f.Payload)
	if err != nil {
		e.cfg.Logger.Printf("gateway: reassembly error: %v", err)
		return
	}
	if !ok {
		return
	}

	if err := e.cfg.Injector.Inject(complete); err != nil {
		e.cfg.Logger.Printf("gateway: inject failure: %v", err)
		if e.cfg.OnInjectFailure != nil {
			e.cfg.OnInjectFailure(err)
		}
	}
}

func (e *Engine) egressLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		datagram, verdict, err := e.cfg.PacketSource.Next()
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
			}
			e.cfg.Logger.Printf("gateway: packet source error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		e.handleEgress(datagram)
		if verdict != nil {
			verdict(true)
		}
	}
}

func (e *Engine) handleEgress(datagram []byte) {
	if !isIPv4(datagram) {
		e.cfg.Logger.Printf("gateway: dropping non-IPv4 frame")
		return
	}

	fixed := FixupTCPChecksum(datagram)
	dst := net.IPv4(fixed[16], fixed[17], fixed[18], fixed[19])

	hop, err := nextHop(dst, e.cfg.Cell)
	if err != nil {
		e.cfg.Logger.Printf("gateway: %v", err)
		return
	}
	mac, err := e.cfg.ARP.Resolve(hop)
	if err != nil {
		e.cfg.Logger.Printf("gateway: address resolution failed for %s: %v", hop, err)
		return
	}
	destAddr, err := loraAddrFromMAC(mac)
	if err != nil {
		e.cfg.Logger.Printf("gateway: %v", err)
		return
	}

	for _, frag := range fragment(fixed, e.cfg.MaxFragmentPayload) {
		transformed, cipherBit, compressBit := e.cfg.Pipeline.Encode(frag)
		if len(transformed) > 0xFFFE {
			e.cfg.Logger.Printf("gateway: dropping oversized segment (%d bytes transformed)", len(transformed))
			return
		}

		wire, err := link.EncodeFrame(destAddr, cipherBit, compressBit, frag, transformed)
		if err != nil {
			e.cfg.Logger.Printf("gateway: frame encode failed: %v", err)
			return
		}
		if err := e.cfg.Driver.Send(wire); err != nil {
			e.cfg.Logger.Printf("gateway: send failed: %v", err)
			continue
		}
		if e.cfg.OnFrameSent != nil {
			e.cfg.OnFrameSent(wire, destAddr)
		}
	}
}
