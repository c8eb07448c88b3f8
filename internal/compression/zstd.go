// Package compression wraps zstd for change content stored at rest.
//
// Stored bytes carry a one-byte envelope marker telling plain from
// compressed, so reads never have to guess from the payload itself: content
// that happens to look like a zstd frame comes back byte-for-byte intact.
// Payloads below the threshold and payloads that do not shrink are stored
// plain.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payloads smaller than this never win from compression.
const minSize = 128

// Envelope markers, first byte of every stored payload.
const (
	markerPlain = 0x00
	markerZstd  = 0x01
)

type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCompressor creates a compressor for the given level (1 fastest, 2
// default, 3 better). Level 0 disables compression on write; reads still
// decode compressed rows.
func NewCompressor(level int) (*Compressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	if level == 0 {
		return &Compressor{decoder: decoder}, nil
	}

	encoderLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, err
	}

	return &Compressor{encoder: encoder, decoder: decoder, enabled: true}, nil
}

// Compress returns data wrapped in the storage envelope, zstd-compressed
// when that shrinks it.
func (c *Compressor) Compress(data []byte) []byte {
	if c.enabled && len(data) >= minSize {
		compressed := c.encoder.EncodeAll(data, make([]byte, 1, len(data)))
		compressed[0] = markerZstd
		if len(compressed) < len(data)+1 {
			return compressed
		}
	}
	out := make([]byte, len(data)+1)
	out[0] = markerPlain
	copy(out[1:], data)
	return out
}

// Decompress unwraps the storage envelope written by Compress.
func (c *Compressor) Decompress(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("stored payload missing envelope marker")
	}
	switch stored[0] {
	case markerZstd:
		data, err := c.decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("decode stored payload: %w", err)
		}
		return data, nil
	case markerPlain:
		return stored[1:], nil
	default:
		return nil, fmt.Errorf("unknown envelope marker 0x%02x", stored[0])
	}
}

func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
