package cachestore

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressionTag is the first payload byte of every stored object. The
// values are format constants; changing them orphans existing cache
// entries.
type compressionTag uint8

const (
	tagNone compressionTag = 0
	tagLZ4  compressionTag = 1
	tagZstd compressionTag = 2
)

func (t compressionTag) String() string {
	switch t {
	case tagNone:
		return "none"
	case tagLZ4:
		return "lz4"
	case tagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func parseCompression(name string) (compressionTag, error) {
	switch name {
	case "none":
		return tagNone, nil
	case "lz4":
		return tagLZ4, nil
	case "zstd":
		return tagZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression codec %q", name)
	}
}

// Shared zstd coders; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cachestore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cachestore: zstd decoder initialization failed: " + err.Error())
	}
}

// compress encodes data with the preferred codec, falling back to
// tagNone whenever the codec does not actually shrink the payload.
func compress(data []byte, preferred compressionTag) ([]byte, compressionTag) {
	switch preferred {
	case tagLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err == nil && n > 0 && n < len(data) {
			return dst[:n], tagLZ4
		}
	case tagZstd:
		c := zstdEncoder.EncodeAll(data, nil)
		if len(c) < len(data) {
			return c, tagZstd
		}
	}
	return data, tagNone
}

// decompress reverses compress. rawSize comes from the index record and
// is verified against the decoded length.
func decompress(tag compressionTag, payload []byte, rawSize int64) ([]byte, error) {
	switch tag {
	case tagNone:
		if int64(len(payload)) != rawSize {
			return nil, fmt.Errorf("raw payload is %d bytes, index says %d", len(payload), rawSize)
		}
		return payload, nil

	case tagLZ4:
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if int64(n) != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, index says %d", n, rawSize)
		}
		return dst, nil

	case tagZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if int64(len(out)) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, index says %d", len(out), rawSize)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown compression tag %d", uint8(tag))
	}
}
