package hostos

import "testing"

func TestDestinationOfExtractsIPv4Header(t *testing.T) {
	datagram := make([]byte, 28)
	datagram[0] = 0x45
	copy(datagram[16:20], []byte{10, 0, 0, 5})

	dst, err := destinationOf(datagram)
	if err != nil {
		t.Fatalf("destinationOf: %v", err)
	}
	if got, want := dst.String(), "10.0.0.5"; got != want {
		t.Fatalf("destination = %s, want %s", got, want)
	}
}

func TestDestinationOfRejectsShortDatagram(t *testing.T) {
	if _, err := destinationOf(make([]byte, 10)); err == nil {
		t.Fatalf("expected error for a datagram shorter than an IPv4 header")
	}
}

func TestHtonsByteOrder(t *testing.T) {
	if got, want := htons(0x0800), uint16(0x0008); got != want {
		t.Fatalf("htons(0x0800) = %#04x, want %#04x", got, want)
	}
}
