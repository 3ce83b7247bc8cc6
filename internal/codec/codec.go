// Package codec implements the per-direction transform chain between a
// cleartext IPv4 datagram and the bytes actually carried in an on-air
// frame: optional ROHC header compression, optional payload compression,
// optional cipher. Each stage is a pluggable pure function; the pipeline
// itself only sequences them and tracks which flag bits apply.
package codec

import "errors"

// ErrMissingTransform is returned when a frame's flag bits require an
// inverse transform (decipher, decompress) that this pipeline has no
// function configured for. The caller treats this as a dropped frame.
var ErrMissingTransform = errors.New("codec: required inverse transform not configured")

// Pipeline holds the optional transform functions for one direction pair.
// A nil function means that stage is disabled.
//
// RohcCompress/RohcDecompress follow the documented ROHC contract: they
// never fail, returning the input unchanged when they cannot (de)compress
// it. Compress/Decompress/Cipher/Decipher may return an error.
type Pipeline struct {
	RohcCompress   func([]byte) []byte
	RohcDecompress func([]byte) []byte

	Compress   func([]byte) ([]byte, error)
	Decompress func([]byte) ([]byte, error)

	Cipher   func([]byte) ([]byte, error)
	Decipher func([]byte) ([]byte, error)
}

// Encode runs the egress chain: ROHC-compress, then compress (kept only
// if strictly smaller), then cipher. It returns the transformed payload
// and the two on-air flag bits.
func (p *Pipeline) Encode(cleartext []byte) (transformed []byte, cipherBit, compressBit bool) {
	payload := cleartext

	if p.RohcCompress != nil {
		payload = p.RohcCompress(payload)
	}

	if p.Compress != nil {
		if c, err := p.Compress(payload); err == nil && len(c) < len(payload) {
			payload = c
			compressBit = true
		}
	}

	if p.Cipher != nil {
		if c, err := p.Cipher(payload); err == nil {
			payload = c
			cipherBit = true
		}
	}

	return payload, cipherBit, compressBit
}

// Decode runs the ingress chain: decipher (if cipherBit), decompress (if
// compressBit), then ROHC-decompress (always, if configured). It returns
// ErrMissingTransform if a bit requires a function this pipeline lacks.
func (p *Pipeline) Decode(cipherBit, compressBit bool, transformed []byte) ([]byte, error) {
	payload := transformed
	var err error

	if cipherBit {
		if p.Decipher == nil {
			return nil, ErrMissingTransform
		}
		if payload, err = p.Decipher(payload); err != nil {
			return nil, err
		}
	}

	if compressBit {
		if p.Decompress == nil {
			return nil, ErrMissingTransform
		}
		if payload, err = p.Decompress(payload); err != nil {
			return nil, err
		}
	}

	if p.RohcDecompress != nil {
		payload = p.RohcDecompress(payload)
	}

	return payload, nil
}
