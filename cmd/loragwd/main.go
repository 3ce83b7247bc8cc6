// loragwd is the IP-over-LoRa gateway daemon: it bridges a synthetic local
// IPv4 interface to a half-duplex LoRa radio so ordinary IPv4 datagrams can
// be carried between the (at most 14) peers of a single-hop LoRa cell.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agsys/lora-ip-gateway/internal/codec"
	"github.com/agsys/lora-ip-gateway/internal/config"
	"github.com/agsys/lora-ip-gateway/internal/diag"
	"github.com/agsys/lora-ip-gateway/internal/gateway"
	"github.com/agsys/lora-ip-gateway/internal/hostos"
	"github.com/agsys/lora-ip-gateway/internal/link"
	"github.com/agsys/lora-ip-gateway/internal/modem"
	"github.com/agsys/lora-ip-gateway/internal/storage"
)

var (
	configFile string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "loragwd",
		Short: "IP-over-LoRa gateway daemon",
		Long:  "Bridges a synthetic local IPv4 interface to a half-duplex LoRa radio.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the gateway daemon",
		RunE:  runGateway,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("loragwd v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/loragwd/gateway.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose (microsecond-resolution) logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("loragwd must run as root: raw sockets and interface creation require it")
	}

	flags := log.LstdFlags
	if debug {
		flags |= log.Lmicroseconds
	}
	logger := log.New(os.Stdout, "[gateway] ", flags)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	localAddr := cfg.LoRaAddress()
	_, cell, err := net.ParseCIDR(fmt.Sprintf("%s/28", cfg.Gateway.IPAddress))
	if err != nil {
		return fmt.Errorf("failed to derive /28 cell: %w", err)
	}

	var db *storage.DB
	if cfg.Storage.Path != "" {
		db, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open telemetry database: %w", err)
		}
		defer db.Close()
	}

	hub := diag.New(diag.Config{ListenAddr: cfg.Diagnostics.ListenAddr}, log.New(os.Stdout, "[diag] ", flags))
	if err := hub.Start(); err != nil {
		return fmt.Errorf("failed to start diagnostics hub: %w", err)
	}
	defer hub.Stop()

	pipeline := buildPipeline(cfg)

	driver, err := buildDriver(cfg, log.New(os.Stdout, "[modem] ", flags))
	if err != nil {
		return fmt.Errorf("failed to build modem driver: %w", err)
	}

	ifName := "lora0"
	adapter := hostos.NewAdapter(hostos.AdapterConfig{
		IfName:    ifName,
		LoRaAddr:  localAddr,
		IPNet:     fmt.Sprintf("%s/28", cfg.Gateway.IPAddress),
		MTU:       cfg.MTUOrDefault(),
		PeerAddrs: otherCellAddrs(localAddr),
		PeerIPFor: func(peer uint8) string { return peerIP(cfg.Gateway.IPAddress, peer) },
	}, log.New(os.Stdout, "[hostos] ", flags))
	if err := adapter.Start(); err != nil {
		return fmt.Errorf("failed to bring up synthetic interface: %w", err)
	}
	defer adapter.Stop()

	injector, err := hostos.NewInjector()
	if err != nil {
		return fmt.Errorf("failed to open raw injection socket: %w", err)
	}
	defer injector.Close()

	source, err := hostos.NewPacketCapture(ifName)
	if err != nil {
		return fmt.Errorf("failed to open packet capture source: %w", err)
	}

	sessionStart := time.Now()
	// eng is referenced by the telemetry closures below before it exists;
	// Go closures capture the variable, not its value, so by the time any
	// of these fire (after Start) eng is already assigned.
	var eng *gateway.Engine
	eng = gateway.New(gateway.Config{
		LocalAddr:          localAddr,
		Cell:               cell,
		MaxFragmentPayload: gateway.MaxChunkSize(cfg.MaxFrameSzOrDefault()),
		Pipeline:           pipeline,
		Driver:             driver,
		PacketSource:       source,
		Injector:           injector,
		ARP:                gateway.NewARPResolver(),
		Logger:             logger,
		OnFrameSent: func(wire []byte, destAddr uint8) {
			hub.Broadcast(diag.Event{Type: diag.EventFrameSent, Timestamp: time.Now().Unix(), SessionID: eng.SessionID().String(), PeerAddr: destAddr, WireBytes: len(wire)})
			if db != nil {
				db.InsertFrameEvent(&storage.FrameEvent{SessionID: eng.SessionID().String(), WireBytes: len(wire), PeerAddr: destAddr, Direction: "tx", Timestamp: time.Now()})
			}
		},
		OnFrameReceived: func(f *link.Frame) {
			hub.Broadcast(diag.Event{Type: diag.EventFrameReceived, Timestamp: time.Now().Unix(), SessionID: eng.SessionID().String(), PeerAddr: f.Addr, WireBytes: len(f.Payload)})
			if db != nil {
				db.InsertFrameEvent(&storage.FrameEvent{SessionID: eng.SessionID().String(), WireBytes: len(f.Payload), PeerAddr: f.Addr, Direction: "rx", Timestamp: time.Now(), CipherBit: f.CipherBit, CompressBit: f.CompressBit})
				db.TouchPeer(f.Addr, time.Now())
			}
		},
		OnResyncByte: func() {
			hub.Broadcast(diag.Event{Type: diag.EventResync, Timestamp: time.Now().Unix(), SessionID: eng.SessionID().String()})
			if db != nil {
				db.InsertResyncEvent(eng.SessionID().String(), time.Now())
			}
		},
		OnInjectFailure: func(err error) {
			hub.Broadcast(diag.Event{Type: diag.EventInjectFailure, Timestamp: time.Now().Unix(), SessionID: eng.SessionID().String(), Detail: err.Error()})
			if db != nil {
				db.InsertInjectFailure(eng.SessionID().String(), err.Error(), time.Now())
			}
		},
	})

	if db != nil {
		db.InsertSession(&storage.Session{
			ID: eng.SessionID().String(), LocalAddr: localAddr, Device: cfg.Gateway.Device, StartedAt: sessionStart,
		})
	}

	if err := eng.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	logger.Printf("gateway: running as node %d, device=%s, waiting for SIGINT/SIGTERM", localAddr, cfg.Gateway.Device)

	sig := <-sigChan
	logger.Printf("gateway: received signal %v, shutting down...", sig)

	if err := eng.Stop(); err != nil {
		logger.Printf("gateway: error during engine shutdown: %v", err)
	}
	if db != nil {
		db.StopSession(eng.SessionID().String(), time.Now())
	}

	logger.Println("gateway: shutdown complete")
	return nil
}

// buildPipeline wires the optional ROHC/compress/cipher stages from the
// config surface. Any stage left unconfigured stays nil, leaving its flag
// bit permanently clear.
func buildPipeline(cfg *config.Config) *codec.Pipeline {
	p := &codec.Pipeline{}

	if cfg.Codec.ROHCCompression {
		p.RohcCompress = codec.PassthroughRohc
		p.RohcDecompress = codec.PassthroughRohc
	}

	switch cfg.Codec.CompressMode {
	case "zlib":
		p.Compress = codec.ZlibCompress
		p.Decompress = codec.ZlibDecompress
	}

	switch cfg.Codec.CipherMode {
	case "xor":
		cipher, decipher := codec.NewXORCipher(cfg.CipherKeyBytes())
		p.Cipher = cipher
		p.Decipher = decipher
	}

	return p
}

// buildDriver constructs the configured modem variant. The TX/RX radio
// parameter blocks share every field except channel frequency and the
// TX-only/RX-only knobs the config surface doesn't expose independently.
func buildDriver(cfg *config.Config, logger *log.Logger) (modem.Driver, error) {
	tx := modem.RadioConfig{
		ChannelHz:       int(cfg.Radio.ChannelTx),
		Bandwidth:       cfg.Radio.Bandwidth,
		SpreadingFactor: cfg.Radio.SF,
		Coderate:        cfg.Radio.Coderate,
		PreambleLen:     cfg.Radio.PreambleLen,
		CRCOn:           true,
		Power:           cfg.Radio.TxPower,
	}
	rx := tx
	rx.ChannelHz = int(cfg.Radio.ChannelRx)
	rx.ContinuousRX = true

	maxFrameSz := cfg.MaxFrameSzOrDefault()

	switch cfg.Gateway.Device {
	case config.DeviceBinaryL072Z:
		return modem.NewBinaryDriver(modem.BinaryDriverConfig{
			Port: cfg.Gateway.TTY, TX: tx, RX: rx, MaxLoraFrameSz: maxFrameSz,
		}, logger)
	case config.DeviceRAK811:
		return modem.NewATDriver(modem.ATDriverConfig{
			Port: cfg.Gateway.TTY, TX: tx, RX: rx, MaxLoraFrameSz: maxFrameSz,
		}, logger)
	case config.DeviceLoStick:
		return modem.NewLineDriver(modem.LineDriverConfig{
			Port: cfg.Gateway.TTY, TX: tx, RX: rx, MaxLoraFrameSz: maxFrameSz,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported gateway.device %q", cfg.Gateway.Device)
	}
}

// otherCellAddrs returns every LoRa address in [1,14] except self, the set
// of peers the synthetic interface seeds static ARP entries for.
func otherCellAddrs(self uint8) []uint8 {
	var addrs []uint8
	for a := uint8(1); a <= 14; a++ {
		if a != self {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// peerIP derives a cell peer's IPv4 address by replacing the local
// address's last octet's low nibble with the peer's LoRa address.
func peerIP(localIP string, peer uint8) string {
	ip := net.ParseIP(localIP).To4()
	base := ip[3] - (ip[3] % 16)
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], base+peer)
}
