package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names a chunk compression algorithm. It is recorded in the
// manifest so reads know how to undo it.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// Frame layout for compressed chunks: one flag byte, the 4-byte big-endian
// plaintext length, then the body. Chunks that do not shrink are stored raw.
const (
	frameRaw        byte = 0
	frameCompressed byte = 1
	frameHeaderSize      = 5
)

// ErrCorruptFrame is returned when a compressed frame cannot be decoded.
var ErrCorruptFrame = errors.New("envelope: corrupt compression frame")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("envelope: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("envelope: zstd decoder initialization failed: " + err.Error())
	}
}

// ParseCompression validates a compression name. The empty string means
// none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd, CompressionLZ4:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Compress encodes data with algorithm c. For CompressionNone the input is
// returned unchanged.
func Compress(c Compression, data []byte) ([]byte, error) {
	var body []byte
	switch c {
	case "", CompressionNone:
		return data, nil
	case CompressionZstd:
		body = zstdEncoder.EncodeAll(data, nil)
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written > 0 {
			body = dst[:written]
		}
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}

	flag := frameCompressed
	if len(body) == 0 || len(body) >= len(data) {
		flag, body = frameRaw, data
	}

	out := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	out[0] = flag
	binary.BigEndian.PutUint32(out[1:], uint32(len(data)))
	return append(out, body...), nil
}

// Decompress reverses Compress.
func Decompress(c Compression, data []byte) ([]byte, error) {
	if c == "" || c == CompressionNone {
		return data, nil
	}

	if len(data) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptFrame, len(data))
	}

	size := int(binary.BigEndian.Uint32(data[1:frameHeaderSize]))
	body := data[frameHeaderSize:]

	switch data[0] {
	case frameRaw:
		if len(body) != size {
			return nil, fmt.Errorf("%w: raw size %d, expected %d", ErrCorruptFrame, len(body), size)
		}
		return body, nil
	case frameCompressed:
	default:
		return nil, fmt.Errorf("%w: flag %d", ErrCorruptFrame, data[0])
	}

	switch c {
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptFrame, err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: zstd size %d, expected %d", ErrCorruptFrame, len(out), size)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptFrame, err)
		}
		if read != size {
			return nil, fmt.Errorf("%w: lz4 size %d, expected %d", ErrCorruptFrame, read, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}
