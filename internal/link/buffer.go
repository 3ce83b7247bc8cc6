package link

import "github.com/agsys/lora-ip-gateway/internal/codec"

// RollingBuffer accumulates raw bytes read from the modem and repeatedly
// decodes frames off its head, resyncing on any decode failure. It is
// owned exclusively by the ingress poll loop — no external locking.
type RollingBuffer struct {
	buf []byte
}

// Append adds newly received radio bytes to the tail of the buffer.
func (r *RollingBuffer) Append(data []byte) {
	r.buf = append(r.buf, data...)
}

// Len reports the number of unconsumed bytes currently buffered.
func (r *RollingBuffer) Len() int {
	return len(r.buf)
}

// Drain decodes as many complete frames as currently possible, advancing
// past garbage, foreign-address frames, and corrupt frames as it goes. It
// stops when the remaining bytes don't yet form a complete frame.
func (r *RollingBuffer) Drain(localAddr uint8, pipeline *codec.Pipeline) []*Frame {
	var frames []*Frame
	for len(r.buf) > 0 {
		frame, consumed, err := Decode(r.buf, localAddr, pipeline)
		if err == ErrNeedMore {
			break
		}
		if consumed <= 0 {
			// Should not happen by construction, but never spin forever.
			break
		}
		if consumed > len(r.buf) {
			consumed = len(r.buf)
		}
		r.buf = r.buf[consumed:]
		if err == nil {
			frames = append(frames, frame)
		}
	}
	return frames
}
