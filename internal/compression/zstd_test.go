package compression

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	c, err := NewCompressor(2)
	require.NoError(t, err)
	defer c.Close()

	original := bytes.Repeat([]byte("compressible payload "), 200)

	stored := c.Compress(original)
	assert.Less(t, len(stored), len(original))
	assert.Equal(t, byte(markerZstd), stored[0])

	got, err := c.Decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestCompressSkipsSmallPayloads(t *testing.T) {
	c, err := NewCompressor(2)
	require.NoError(t, err)
	defer c.Close()

	small := []byte("tiny")
	stored := c.Compress(small)
	assert.Equal(t, byte(markerPlain), stored[0])
	assert.Equal(t, small, stored[1:])
}

func TestCompressKeepsIncompressible(t *testing.T) {
	c, err := NewCompressor(2)
	require.NoError(t, err)
	defer c.Close()

	// pseudo-random bytes do not shrink
	data := make([]byte, 4096)
	state := uint32(0x9e3779b9)
	for i := range data {
		state = state*1664525 + 1013904223
		data[i] = byte(state >> 24)
	}

	stored := c.Compress(data)
	assert.Equal(t, byte(markerPlain), stored[0])

	got, err := c.Decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestZstdFrameContentRoundTrips(t *testing.T) {
	c, err := NewCompressor(2)
	require.NoError(t, err)
	defer c.Close()

	// content that is itself a valid zstd frame must come back untouched,
	// not decoded to its inner payload
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	frame := enc.EncodeAll(bytes.Repeat([]byte("inner payload "), 50), nil)
	enc.Close()

	got, err := c.Decompress(c.Compress(frame))
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestDecompressRejectsUnmarkedBytes(t *testing.T) {
	c, err := NewCompressor(2)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress(nil)
	assert.Error(t, err)

	_, err = c.Decompress([]byte{0x7f, 0x01, 0x02})
	assert.Error(t, err)
}

func TestDisabledCompressorStillDecodes(t *testing.T) {
	writer, err := NewCompressor(2)
	require.NoError(t, err)
	defer writer.Close()

	original := bytes.Repeat([]byte("written compressed "), 200)
	stored := writer.Compress(original)
	require.Equal(t, byte(markerZstd), stored[0])

	disabled, err := NewCompressor(0)
	require.NoError(t, err)
	defer disabled.Close()

	assert.Equal(t, byte(markerPlain), disabled.Compress(original)[0])

	got, err := disabled.Decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestCompressorLevels(t *testing.T) {
	for _, level := range []int{0, 1, 2, 3} {
		c, err := NewCompressor(level)
		require.NoError(t, err, "level %d", level)
		c.Close()
	}
}
