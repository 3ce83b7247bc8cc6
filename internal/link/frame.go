// Package link implements the on-air frame codec: the length-prefixed,
// CRC-protected envelope carried over the radio, plus the rolling receive
// buffer that resynchronizes on corrupt or foreign bytes.
package link

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/agsys/lora-ip-gateway/internal/codec"
)

// ErrNeedMore signals the buffer doesn't yet hold a complete frame; the
// caller should wait for more bytes before retrying at the same offset.
var ErrNeedMore = errors.New("link: need more bytes")

// ErrShortSize is returned when the frame's declared size field is
// invalid (< 2). The caller resyncs by advancing one byte.
var ErrShortSize = errors.New("link: invalid size field")

// ErrAddressMismatch is returned when a structurally valid frame is
// addressed to a different node. The caller advances past the whole
// frame, since it decoded cleanly — just not for us.
var ErrAddressMismatch = errors.New("link: frame addressed to a different node")

// ErrCRCMismatch is returned when the recomputed CRC over the cleartext
// payload doesn't match the one carried on the wire.
var ErrCRCMismatch = errors.New("link: CRC mismatch")

// Frame is a successfully decoded, address-matched on-air frame.
type Frame struct {
	Addr        uint8
	CipherBit   bool
	CompressBit bool
	Payload     []byte // cleartext
}

// addrFlagsByte packs the destination address and the two transform flag
// bits into one byte: bits[3:0] = addr, bits[5:4] reserved, bit6 = cipher,
// bit7 = compress — the layout given by the on-air frame's field table.
func addrFlagsByte(addr uint8, cipherBit, compressBit bool) byte {
	b := addr & 0x0F
	if cipherBit {
		b |= 0x40
	}
	if compressBit {
		b |= 0x80
	}
	return b
}

// EncodeFrame builds one complete on-air frame. transformedPayload is the
// (possibly ROHC/compress/cipher'd) bytes actually carried; cleartextPayload
// is the pre-transform bytes the CRC is computed over.
func EncodeFrame(addr uint8, cipherBit, compressBit bool, cleartextPayload, transformedPayload []byte) ([]byte, error) {
	size := len(transformedPayload) + 1
	if size > 0xFFFF {
		return nil, fmt.Errorf("link: transformed payload too large (%d bytes)", len(transformedPayload))
	}

	flags := addrFlagsByte(addr, cipherBit, compressBit)

	crcInput := make([]byte, 0, 1+len(cleartextPayload))
	crcInput = append(crcInput, flags)
	crcInput = append(crcInput, cleartextPayload...)
	crc := CRC16XModem(crcInput)

	out := make([]byte, 2+size+2)
	binary.LittleEndian.PutUint16(out[0:2], uint16(size))
	out[2] = flags
	copy(out[3:3+len(transformedPayload)], transformedPayload)
	binary.LittleEndian.PutUint16(out[2+size:2+size+2], crc)
	return out, nil
}

// Decode attempts to parse one frame from the head of buf, inverting the
// codec transforms the frame's flag bits declare and validating the CRC.
//
// It returns (frame, consumed, err). consumed is always the number of
// bytes the caller should discard from the head of its buffer: 0 on
// ErrNeedMore, 1 on any generic decode failure, the whole frame length on
// address mismatch, and the whole frame length on success.
func Decode(buf []byte, localAddr uint8, pipeline *codec.Pipeline) (*Frame, int, error) {
	if len(buf) < 5 {
		return nil, 0, ErrNeedMore
	}

	size := int(binary.LittleEndian.Uint16(buf[0:2]))
	if size < 2 {
		return nil, 1, ErrShortSize
	}

	total := 2 + size + 2
	if len(buf) < total {
		return nil, 0, ErrNeedMore
	}

	flags := buf[2]
	transformed := buf[3 : 2+size]
	wireCRC := binary.LittleEndian.Uint16(buf[2+size : total])

	addr := flags & 0x0F
	if addr != localAddr {
		return nil, total, ErrAddressMismatch
	}

	cipherBit := flags&0x40 != 0
	compressBit := flags&0x80 != 0

	cleartext, err := pipeline.Decode(cipherBit, compressBit, transformed)
	if err != nil {
		return nil, 1, fmt.Errorf("link: transform failure: %w", err)
	}

	crcInput := make([]byte, 0, 1+len(cleartext))
	crcInput = append(crcInput, flags)
	crcInput = append(crcInput, cleartext...)
	if CRC16XModem(crcInput) != wireCRC {
		return nil, 1, ErrCRCMismatch
	}

	return &Frame{Addr: addr, CipherBit: cipherBit, CompressBit: compressBit, Payload: cleartext}, total, nil
}
