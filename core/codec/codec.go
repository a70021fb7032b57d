// Package codec stores Go values as zstd-compressed CBOR. It backs the
// dataset cache and the feature matrix files.
package codec

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/davidahmann/sift/core/fsx"
)

// MaxDecodedBytes bounds the decompressed size of one payload.
const MaxDecodedBytes = 1 << 30

type codec struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var shared = sync.OnceValues(func() (*codec, error) {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}
	decMode, err := cbor.DecOptions{
		MaxArrayElements: 1 << 27,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode mode: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedBytes))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &codec{encMode: encMode, decMode: decMode, encoder: encoder, decoder: decoder}, nil
})

func Marshal(value any) ([]byte, error) {
	c, err := shared()
	if err != nil {
		return nil, err
	}
	raw, err := c.encMode.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cbor: %w", err)
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func Unmarshal(data []byte, value any) error {
	c, err := shared()
	if err != nil {
		return err
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if err := c.decMode.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("decode cbor: %w", err)
	}
	return nil
}

// WriteFile encodes value and replaces path atomically.
func WriteFile(path string, value any) error {
	payload, err := Marshal(value)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(path, payload, 0o600)
}

func ReadFile(path string, value any) error {
	// #nosec G304 -- path is inside a project tree.
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Unmarshal(payload, value)
}
