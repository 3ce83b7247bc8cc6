package codec

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// ZlibCompress compresses data with stdlib deflate/zlib framing. The
// config surface names "zlib" directly as a compress_mode value, so this
// is a direct translation of that choice rather than an ecosystem concern
// needing a third-party library.
func ZlibCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	return buf.Bytes(), nil
}

// ZlibDecompress inverts ZlibCompress. Unlike the reference implementation
// (which silently returns the input unchanged on a decompress failure),
// this returns an error so the caller drops the frame — the stricter
// policy the on-air frame format requires.
func ZlibDecompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return out, nil
}
