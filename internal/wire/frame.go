package wire

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/roach88/sieve/internal/condtree"
)

// frameMagic prefixes every frame so a frame is never mistaken for JSON.
var frameMagic = []byte("SVT1")

// Codec packs trees into zstd-compressed MessagePack frames.
// Create once and reuse; Pack and Unpack are safe for concurrent use.
// Caller must call Close when done.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a reusable codec at the default zstd level.
func NewCodec() (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Pack encodes a tree as a frame.
func (c *Codec) Pack(tree condtree.Node) ([]byte, error) {
	data, err := EncodeMsgpack(tree)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, 0, len(frameMagic)+len(data))
	dst = append(dst, frameMagic...)
	return c.encoder.EncodeAll(data, dst), nil
}

// Unpack decodes a frame written by Pack.
func (c *Codec) Unpack(frame []byte) (condtree.Node, error) {
	if !IsFrame(frame) {
		return nil, fmt.Errorf("not a condition tree frame")
	}
	data, err := c.decoder.DecodeAll(frame[len(frameMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return DecodeMsgpack(data)
}

// IsFrame reports whether data starts like a frame.
func IsFrame(data []byte) bool {
	return bytes.HasPrefix(data, frameMagic)
}

// Close releases the codec.
func (c *Codec) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}
