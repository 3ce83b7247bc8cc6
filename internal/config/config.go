// Package config loads and validates the gateway's YAML configuration file.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Device names the recognized modem driver variants.
const (
	DeviceBinaryL072Z = "B-L072Z-LRWAN1"
	DeviceRAK811      = "RAK811"
	DeviceLoStick     = "LoStick"
)

// Config mirrors the on-disk YAML structure, one nested block per
// subsystem, following the teacher's property/cloud/controller/lora layout.
type Config struct {
	Gateway struct {
		Device     string `yaml:"device"`
		TTY        string `yaml:"tty"`
		IPAddress  string `yaml:"ip_address"`
		MTU        int    `yaml:"mtu"`
		MaxFrameSz int    `yaml:"maxLoraFramesz"`
	} `yaml:"gateway"`

	Radio struct {
		ChannelTx   uint32 `yaml:"channelTx"`
		ChannelRx   uint32 `yaml:"channelRx"`
		TxPower     int    `yaml:"TxPower"`
		Bandwidth   int    `yaml:"bandwidth"`
		SF          int    `yaml:"SF"`
		Coderate    int    `yaml:"coderate"`
		PreambleLen int    `yaml:"preambleLen"`
	} `yaml:"radio"`

	Codec struct {
		ROHCCompression bool   `yaml:"rohc_compression"`
		CompressMode    string `yaml:"compress_mode"`
		CipherMode      string `yaml:"cipher_mode"`
		CipherKey       string `yaml:"cipher_key"`
		CipherKeyHex    bool   `yaml:"cipher_key_hex"`
	} `yaml:"codec"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Diagnostics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"diagnostics"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Validate checks the required fields and value ranges the gateway needs
// before it can start. It does not apply defaults; callers fill those in
// separately (see MaxFrameSzOrDefault and MTUOrDefault, consumed by
// cmd/loragwd).
func (c *Config) Validate() error {
	switch c.Gateway.Device {
	case DeviceBinaryL072Z, DeviceRAK811, DeviceLoStick:
	default:
		return fmt.Errorf("gateway.device %q is not one of %s, %s, %s", c.Gateway.Device, DeviceBinaryL072Z, DeviceRAK811, DeviceLoStick)
	}
	if c.Gateway.TTY == "" {
		return fmt.Errorf("gateway.tty is required")
	}
	if c.Gateway.IPAddress == "" {
		return fmt.Errorf("gateway.ip_address is required")
	}
	ip := net.ParseIP(c.Gateway.IPAddress).To4()
	if ip == nil {
		return fmt.Errorf("gateway.ip_address %q is not a valid IPv4 address", c.Gateway.IPAddress)
	}
	addr := ip[3] % 16
	if addr < 1 || addr > 14 {
		return fmt.Errorf("gateway.ip_address last octet %d mod 16 = %d, must be in [1,14]", ip[3], addr)
	}

	if c.Radio.SF < 7 || c.Radio.SF > 12 {
		return fmt.Errorf("radio.SF %d out of range [7,12]", c.Radio.SF)
	}
	if c.Radio.Bandwidth < 0 || c.Radio.Bandwidth > 2 {
		return fmt.Errorf("radio.bandwidth index %d out of range [0,2]", c.Radio.Bandwidth)
	}
	if c.Radio.Coderate < 1 || c.Radio.Coderate > 4 {
		return fmt.Errorf("radio.coderate %d out of range [1,4]", c.Radio.Coderate)
	}
	if c.Radio.TxPower < 0 || c.Radio.TxPower > 14 {
		return fmt.Errorf("radio.TxPower %d out of range [0,14] dBm", c.Radio.TxPower)
	}

	switch c.Codec.CompressMode {
	case "", "zlib":
	default:
		return fmt.Errorf("codec.compress_mode %q must be empty or zlib", c.Codec.CompressMode)
	}
	switch c.Codec.CipherMode {
	case "":
	case "xor":
		if c.Codec.CipherKey == "" {
			return fmt.Errorf("codec.cipher_key is required when codec.cipher_mode is xor")
		}
	default:
		return fmt.Errorf("codec.cipher_mode %q must be empty or xor", c.Codec.CipherMode)
	}

	return nil
}

// LoRaAddress returns this node's 4-bit LoRa address, derived from the
// configured IPv4 address's last octet modulo 16.
func (c *Config) LoRaAddress() uint8 {
	ip := net.ParseIP(c.Gateway.IPAddress).To4()
	return ip[3] % 16
}

// CipherKeyBytes returns the configured cipher key as raw bytes. The key is
// used as literal ASCII/UTF-8, matching the original's plain key handling;
// it is only decoded as hex when cipher_key_hex explicitly opts in, so an
// ordinary ASCII key (e.g. "dead") is never misread as hex.
func (c *Config) CipherKeyBytes() []byte {
	key := c.Codec.CipherKey
	if c.Codec.CipherKeyHex {
		if decoded, err := hex.DecodeString(key); err == nil {
			return decoded
		}
	}
	return []byte(key)
}

// MaxFrameSzOrDefault returns the configured per-segment on-air byte
// budget, falling back to a conservative default when unset.
func (c *Config) MaxFrameSzOrDefault() int {
	if c.Gateway.MaxFrameSz > 0 {
		return c.Gateway.MaxFrameSz
	}
	return 64
}

// MTUOrDefault returns the synthetic interface MTU, defaulting to 1500
// when unset.
func (c *Config) MTUOrDefault() int {
	if c.Gateway.MTU > 0 {
		return c.Gateway.MTU
	}
	return 1500
}

// ConfigAckTimeout is a per-retry wait budget for a CONFIG_OK echo. The
// binary driver in internal/modem does not read it: between its config
// retries it waits for its own serial ReadTimeout plus a fixed 50 ms.
const ConfigAckTimeout = 200 * time.Millisecond
