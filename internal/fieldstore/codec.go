package fieldstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// float32ByteSize is the number of bytes per float32 value.
const float32ByteSize = 4

// codec compresses row-major float32 blobs with pooled zstd coders.
type codec struct {
	decoders sync.Pool
	encoders sync.Pool
}

func newCodec() *codec {
	return &codec{
		decoders: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					// This should never fail with nil input and default options.
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
		encoders: sync.Pool{
			New: func() any {
				e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
				}
				return e
			},
		},
	}
}

// encode packs values as little-endian float32 and compresses them.
func (c *codec) encode(values []float32) []byte {
	raw := make([]byte, len(values)*float32ByteSize)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*float32ByteSize:], math.Float32bits(v))
	}
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

// decode decompresses a blob and parses exactly want float32 values.
func (c *codec) decode(data []byte, want int) ([]float32, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	if len(raw) != want*float32ByteSize {
		return nil, fmt.Errorf("decoded %d bytes, want %d values of %d bytes", len(raw), want, float32ByteSize)
	}
	return parseFloat32s(raw), nil
}

// parseFloat32s converts raw little-endian bytes into float32 values. len(data)
// must be a multiple of four.
func parseFloat32s(data []byte) []float32 {
	count := len(data) / float32ByteSize
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*float32ByteSize:]))
	}
	return out
}
