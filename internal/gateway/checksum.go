package gateway

import "encoding/binary"

const (
	protoTCP = 6
	protoUDP = 17
)

// FixupTCPChecksum recomputes the TCP checksum over a captured IPv4
// datagram's pseudo-header + TCP segment and writes it back in place. The
// kernel does not checksum packets re-injected from user space, so the
// core must do it itself; UDP and every other protocol pass through
// unfixed, matching the reference behavior exactly (see DESIGN.md).
//
// datagram must be a well-formed IPv4 packet (checked by the caller via
// isIPv4); malformed input is returned unchanged.
func FixupTCPChecksum(datagram []byte) []byte {
	if len(datagram) < 20 {
		return datagram
	}
	ihl := int(datagram[0]&0x0F) * 4
	if ihl < 20 || len(datagram) < ihl+20 {
		return datagram
	}
	if datagram[9] != protoTCP {
		return datagram
	}

	tcp := datagram[ihl:]
	tcp[16] = 0
	tcp[17] = 0

	sum := pseudoHeaderSum(datagram[12:16], datagram[16:20], protoTCP, len(tcp))
	sum = checksumAccumulate(sum, tcp)
	cks := finishChecksum(sum)
	binary.BigEndian.PutUint16(tcp[16:18], cks)
	return datagram
}

// isIPv4 reports whether the leading nibble of the first byte is the IPv4
// version number.
func isIPv4(datagram []byte) bool {
	return len(datagram) > 0 && datagram[0]>>4 == 4
}

func pseudoHeaderSum(srcIP, dstIP []byte, proto byte, tcpLen int) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(srcIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(srcIP[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[2:4]))
	sum += uint32(proto)
	sum += uint32(tcpLen)
	return sum
}

func checksumAccumulate(sum uint32, data []byte) uint32 {
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	return sum
}

func finishChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
