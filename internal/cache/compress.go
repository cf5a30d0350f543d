package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Envelope markers. Every stored payload starts with one marker byte so both
// tiers can tell compressed values from raw ones without extra metadata.
const (
	markerRaw  byte = 0x00
	markerZstd byte = 0x01
)

type codec struct {
	enc       *zstd.Encoder
	dec       *zstd.Decoder
	threshold int
}

func newCodec(threshold int) (*codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec, threshold: threshold}, nil
}

// encode wraps serialized bytes in an envelope, compressing when the payload
// crosses the size threshold. force overrides the threshold in either
// direction (nil means "by threshold").
func (c *codec) encode(serialized []byte, force *bool) ([]byte, bool) {
	compress := len(serialized) >= c.threshold
	if force != nil {
		compress = *force
	}
	if !compress {
		return append([]byte{markerRaw}, serialized...), false
	}
	out := c.enc.EncodeAll(serialized, []byte{markerZstd})
	return out, true
}

// decode unwraps an envelope back to the serialized bytes.
func (c *codec) decode(envelope []byte) ([]byte, error) {
	if len(envelope) == 0 {
		return nil, fmt.Errorf("empty cache envelope")
	}
	body := envelope[1:]
	switch envelope[0] {
	case markerRaw:
		return body, nil
	case markerZstd:
		out, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing cache payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown cache envelope marker 0x%02x", envelope[0])
	}
}
