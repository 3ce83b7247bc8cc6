package gateway

import "fmt"

// fragmentMoreBit marks a fragment envelope as non-final; the remaining 7
// bits carry the sequence number modulo 128. This 1-byte envelope sits
// above the on-air frame format (unchanged from spec.md §3) so every
// fragment is itself a complete, independently decodable frame — the
// explicit segment-reassembly layer chosen over whole-frame-only framing
// (see DESIGN.md's Open Question resolution).
const fragmentMoreBit = 0x80

// frameOverhead is the on-air frame's own fixed byte cost — 2-byte size +
// 1-byte addr_flags + 2-byte CRC (see link.EncodeFrame) — plus the 1-byte
// fragment envelope this segmentation layer prepends to every chunk before
// it is run through the codec+link pipeline. A chunk of exactly
// maxLoraFrameSz-frameOverhead cleartext bytes therefore produces one
// complete on-air frame of exactly maxLoraFrameSz bytes, honoring the
// config surface's maxLoraFramesz per-segment byte budget.
const frameOverhead = 2 + 1 + 2 + 1

// MaxChunkSize returns the largest cleartext chunk fragment should be
// given so that, once wrapped in its 1-byte envelope and the on-air frame's
// own 5 bytes of fixed overhead, the emitted frame never exceeds
// maxLoraFrameSz bytes.
func MaxChunkSize(maxLoraFrameSz int) int {
	n := maxLoraFrameSz - frameOverhead
	if n <= 0 {
		n = 1
	}
	return n
}

// fragment splits cleartext into envelope-prefixed chunks of at most
// maxPayload bytes each, ready to be run through the codec+link pipeline
// independently. Callers should pass MaxChunkSize(maxLoraFrameSz), not
// maxLoraFrameSz itself, so the resulting on-air frames stay within budget.
func fragment(cleartext []byte, maxPayload int) [][]byte {
	if maxPayload <= 0 {
		maxPayload = 1
	}
	if len(cleartext) == 0 {
		return [][]byte{{0x00}}
	}

	var chunks [][]byte
	for off := 0; off < len(cleartext); off += maxPayload {
		end := off + maxPayload
		if end > len(cleartext) {
			end = len(cleartext)
		}
		chunks = append(chunks, cleartext[off:end])
	}

	frags := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		seq := byte(i % 128)
		envelope := seq
		if i != len(chunks)-1 {
			envelope |= fragmentMoreBit
		}
		frag := make([]byte, 0, 1+len(chunk))
		frag = append(frag, envelope)
		frag = append(frag, chunk...)
		frags[i] = frag
	}
	return frags
}

// reassembler holds the single in-flight multi-fragment datagram per
// radio. A fragment with seq==0 always preempts any incomplete prior
// reassembly, trading correctness under adversarial concurrent-peer
// interleaving for simplicity.
type reassembler struct {
	active      bool
	expectedSeq byte
	buf         []byte
}

// accept feeds one decoded link-layer payload (envelope byte + chunk) into
// the reassembler. It returns the complete datagram once the final
// fragment arrives.
func (r *reassembler) accept(payload []byte) (complete []byte, ok bool, err error) {
	if len(payload) == 0 {
		return nil, false, fmt.Errorf("gateway: empty fragment payload")
	}
	envelope := payload[0]
	seq := envelope & 0x7F
	more := envelope&fragmentMoreBit != 0
	chunk := payload[1:]

	if seq == 0 {
		r.buf = append([]byte(nil), chunk...)
		r.active = true
		r.expectedSeq = 1
		if !more {
			r.active = false
			return r.buf, true, nil
		}
		return nil, false, nil
	}

	if !r.active || seq != r.expectedSeq {
		r.active = false
		return nil, false, fmt.Errorf("gateway: unexpected fragment sequence %d (wanted %d or 0)", seq, r.expectedSeq)
	}

	r.buf = append(r.buf, chunk...)
	r.expectedSeq = (r.expectedSeq + 1) % 128
	if !more {
		out := r.buf
		r.active = false
		r.buf = nil
		return out, true, nil
	}
	return nil, false, nil
}
