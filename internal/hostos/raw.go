package hostos

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Injector re-emits a complete IPv4 datagram into the host stack, addressed
// to its destination, via a raw socket with IP_HDRINCL set. This is the
// concrete stand-in for the reference's raw-socket re-injection path.
type Injector struct {
	fd int
}

// NewInjector opens the raw IPv4 injection socket. Requires root.
func NewInjector() (*Injector, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("hostos: raw socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostos: IP_HDRINCL: %w", err)
	}
	return &Injector{fd: fd}, nil
}

// destinationOf extracts the destination IPv4 address from an IPv4 header
// at a fixed offset, as a pure helper kept separate from the socket call
// for testability.
func destinationOf(datagram []byte) (net.IP, error) {
	if len(datagram) < 20 {
		return nil, fmt.Errorf("hostos: datagram too short to carry an IPv4 header: %d bytes", len(datagram))
	}
	return net.IPv4(datagram[16], datagram[17], datagram[18], datagram[19]), nil
}

// Inject writes a complete IPv4 datagram (header included) to its
// destination address, extracted from the packet's own header.
func (in *Injector) Inject(datagram []byte) error {
	dst, err := destinationOf(datagram)
	if err != nil {
		return err
	}

	var addr unix.SockaddrInet4
	copy(addr.Addr[:], dst.To4())
	if err := unix.Sendto(in.fd, datagram, 0, &addr); err != nil {
		return fmt.Errorf("hostos: sendto %s: %w", dst, err)
	}
	return nil
}

// Close releases the injection socket.
func (in *Injector) Close() error {
	return unix.Close(in.fd)
}

// PacketSource abstracts the kernel packet-diversion mechanism spec.md
// treats as out of scope (the original uses NFQUEUE). It delivers IPv4
// datagram bytes with a verdict callback the caller must invoke exactly
// once per packet.
type PacketSource interface {
	Next() (datagram []byte, verdict func(accept bool), err error)
	Close() error
}

// packetCapture is a concrete AF_PACKET-based PacketSource standing in for
// the out-of-scope NFQUEUE diversion: it reads raw Ethernet frames off the
// synthetic interface and hands back the embedded IPv4 payload. Verdicts
// are no-ops here since AF_PACKET capture does not support drop/accept
// semantics the way NFQUEUE does; accepting is a documented simplification
// for this concrete source.
type packetCapture struct {
	fd int
}

// NewPacketCapture binds an AF_PACKET/SOCK_RAW socket to the named
// interface, filtering for IPv4 (ETH_P_IP).
func NewPacketCapture(ifName string) (PacketSource, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_IP)))
	if err != nil {
		return nil, fmt.Errorf("hostos: packet socket: %w", err)
	}
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostos: lookup interface %s: %w", ifName, err)
	}
	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostos: bind to %s: %w", ifName, err)
	}
	return &packetCapture{fd: fd}, nil
}

func (p *packetCapture) Next() ([]byte, func(bool), error) {
	buf := make([]byte, 65536)
	n, _, err := unix.Recvfrom(p.fd, buf, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("hostos: recvfrom: %w", err)
	}
	// An Ethernet II frame has a 14-byte header (dst MAC, src MAC,
	// ethertype) preceding the IPv4 payload this source hands back.
	if n < 14 {
		return nil, nil, fmt.Errorf("hostos: short capture frame: %d bytes", n)
	}
	datagram := make([]byte, n-14)
	copy(datagram, buf[14:n])
	return datagram, func(bool) {}, nil
}

func (p *packetCapture) Close() error {
	return unix.Close(p.fd)
}

func htons(h int) uint16 {
	return uint16(h)<<8 | uint16(h)>>8
}
