package config

import "testing"

func validConfig() *Config {
	var c Config
	c.Gateway.Device = DeviceRAK811
	c.Gateway.TTY = "/dev/ttyUSB0"
	c.Gateway.IPAddress = "10.0.0.5"
	c.Radio.SF = 7
	c.Radio.Bandwidth = 0
	c.Radio.Coderate = 1
	c.Radio.TxPower = 14
	return &c
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsUnknownDevice(t *testing.T) {
	c := validConfig()
	c.Gateway.Device = "not-a-real-board"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown device")
	}
}

func TestValidateRejectsLoRaAddressOutOfRange(t *testing.T) {
	c := validConfig()
	c.Gateway.IPAddress = "10.0.0.0" // 0 mod 16 = 0, reserved
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for reserved LoRa address 0")
	}

	c2 := validConfig()
	c2.Gateway.IPAddress = "10.0.0.15" // 15 mod 16 = 15, reserved
	if err := c2.Validate(); err == nil {
		t.Fatalf("expected error for reserved LoRa address 15")
	}
}

func TestValidateRejectsCipherModeWithoutKey(t *testing.T) {
	c := validConfig()
	c.Codec.CipherMode = "xor"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for xor cipher mode without a key")
	}
}

func TestLoRaAddressDerivation(t *testing.T) {
	c := validConfig()
	c.Gateway.IPAddress = "192.168.1.21" // 21 mod 16 = 5
	if got := c.LoRaAddress(); got != 5 {
		t.Fatalf("LoRaAddress = %d, want 5", got)
	}
}

func TestCipherKeyBytesLiteralASCII(t *testing.T) {
	c := validConfig()
	c.Codec.CipherKey = "abc"
	got := c.CipherKeyBytes()
	if string(got) != "abc" {
		t.Fatalf("CipherKeyBytes = %q, want %q", got, "abc")
	}
}

func TestCipherKeyBytesASCIIKeyNotMisreadAsHex(t *testing.T) {
	c := validConfig()
	c.Codec.CipherKey = "dead" // valid hex digits, but no cipher_key_hex opt-in
	got := c.CipherKeyBytes()
	if string(got) != "dead" {
		t.Fatalf("CipherKeyBytes = %q, want literal %q", got, "dead")
	}
}

func TestCipherKeyBytesHexDecodedWhenOptedIn(t *testing.T) {
	c := validConfig()
	c.Codec.CipherKey = "dead"
	c.Codec.CipherKeyHex = true
	got := c.CipherKeyBytes()
	want := []byte{0xde, 0xad}
	if string(got) != string(want) {
		t.Fatalf("CipherKeyBytes = %x, want %x", got, want)
	}
}
