package impex

import (
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Codec is the block compression of a dump
type Codec byte

const (
	// CodecNone stores blocks uncompressed
	CodecNone Codec = iota
	// CodecSnappy is fast compression with a moderate ratio
	CodecSnappy
	// CodecZstd is balanced compression with good speed and ratio (default)
	CodecZstd
)

// String returns the codec name
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCodec parses a codec name. The empty string selects zstd.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "zstd":
		return CodecZstd, nil
	case "snappy":
		return CodecSnappy, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("unsupported codec: %s", name)
	}
}

// compressor compresses and decompresses whole blocks
type compressor struct {
	codec   Codec
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

func newCompressor(codec Codec, level int) (*compressor, error) {
	c := &compressor{codec: codec}

	switch codec {
	case CodecNone, CodecSnappy:
	case CodecZstd:
		if level < 1 || level > 19 {
			level = 3
		}
		var err error
		c.zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.zstdDec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}
	return c, nil
}

func (c *compressor) compress(data []byte) []byte {
	switch c.codec {
	case CodecSnappy:
		return snappy.Encode(nil, data)
	case CodecZstd:
		return c.zstdEnc.EncodeAll(data, nil)
	default:
		return data
	}
}

func (c *compressor) decompress(data []byte) ([]byte, error) {
	switch c.codec {
	case CodecSnappy:
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy: %w", err)
		}
		return decoded, nil
	case CodecZstd:
		decoded, err := c.zstdDec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd: %w", err)
		}
		return decoded, nil
	default:
		return data, nil
	}
}

func (c *compressor) close() {
	if c.zstdEnc != nil {
		c.zstdEnc.Close()
	}
	if c.zstdDec != nil {
		c.zstdDec.Close()
	}
}
