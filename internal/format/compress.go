package format

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the codec applied to a record payload.
type CompressionType uint8

const (
	// CompressionNone indicates no compression (default)
	CompressionNone CompressionType = 0

	// CompressionGzip indicates GZIP compression
	CompressionGzip CompressionType = 1

	// CompressionZstd indicates Zstandard compression
	CompressionZstd CompressionType = 2

	// CompressionS2 indicates S2 (Snappy-compatible) block compression
	CompressionS2 CompressionType = 3

	// CompressionLZ4 indicates LZ4 frame compression
	CompressionLZ4 CompressionType = 4
)

// MaxDecompressedSize is the maximum size allowed for a decompressed payload
// to prevent decompression bomb attacks.
const MaxDecompressedSize = 100 * 1024 * 1024 // 100 MB

// String returns the string representation of the compression type.
func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompressionType maps a codec name to its CompressionType.
// The empty string selects CompressionNone.
func ParseCompressionType(name string) (CompressionType, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	case "s2":
		return CompressionS2, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression type: %q", name)
	}
}

// Valid reports whether c is a known codec.
func (c CompressionType) Valid() bool {
	return c <= CompressionLZ4
}

// zstd encoders and decoders are expensive to build and safe for concurrent
// EncodeAll/DecodeAll use, so one of each is shared per level.
var (
	zstdMu       sync.Mutex
	zstdEncoders = map[zstd.EncoderLevel]*zstd.Encoder{}

	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
)

// CompressPayload compresses a payload using the specified algorithm and level.
// Level 0 selects the codec default; the level is ignored by S2.
//
// For GZIP the valid range is gzip.HuffmanOnly..gzip.BestCompression.
// For Zstd the level is mapped with zstd.EncoderLevelFromZstd.
// For LZ4 the level is 1 (fast) to 9.
func CompressPayload(payload []byte, compression CompressionType, level int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return payload, nil
	case CompressionGzip:
		return compressGzip(payload, level)
	case CompressionZstd:
		return compressZstd(payload, level)
	case CompressionS2:
		return s2.Encode(nil, payload), nil
	case CompressionLZ4:
		return compressLZ4(payload, level)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compression)
	}
}

// compressGzip compresses data using GZIP compression.
func compressGzip(payload []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	if level == 0 {
		level = gzip.DefaultCompression
	}

	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip compression level: %d (valid range: %d-%d)",
			level, gzip.HuffmanOnly, gzip.BestCompression)
	}

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

func compressZstd(payload []byte, level int) ([]byte, error) {
	encLevel := zstd.SpeedDefault
	if level != 0 {
		if level < 1 || level > 22 {
			return nil, fmt.Errorf("invalid zstd compression level: %d (valid range: 1-22)", level)
		}
		encLevel = zstd.EncoderLevelFromZstd(level)
	}

	zstdMu.Lock()
	enc, ok := zstdEncoders[encLevel]
	if !ok {
		var err error
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
		if err != nil {
			zstdMu.Unlock()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		zstdEncoders[encLevel] = enc
	}
	zstdMu.Unlock()

	return enc.EncodeAll(payload, make([]byte, 0, len(payload))), nil
}

var lz4Levels = [...]lz4.CompressionLevel{
	1: lz4.Fast, 2: lz4.Level2, 3: lz4.Level3, 4: lz4.Level4, 5: lz4.Level5,
	6: lz4.Level6, 7: lz4.Level7, 8: lz4.Level8, 9: lz4.Level9,
}

func compressLZ4(payload []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)

	if level != 0 {
		if level < 1 || level > 9 {
			return nil, fmt.Errorf("invalid lz4 compression level: %d (valid range: 1-9)", level)
		}
		if err := w.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
			return nil, fmt.Errorf("failed to configure lz4 writer: %w", err)
		}
	}

	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DecompressPayload decompresses a payload using the specified algorithm.
//
// Every codec is bounded by MaxDecompressedSize.
func DecompressPayload(payload []byte, compression CompressionType) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return payload, nil
	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer func() { _ = reader.Close() }()
		return readLimited(reader)
	case CompressionZstd:
		return decompressZstd(payload)
	case CompressionS2:
		n, err := s2.DecodedLen(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
		if n > MaxDecompressedSize {
			return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
		}
		out, err := s2.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		return readLimited(lz4.NewReader(bytes.NewReader(payload)))
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compression)
	}
}

func decompressZstd(payload []byte) ([]byte, error) {
	zstdDecoderOnce.Do(func() {
		zstdDecoder, zstdDecoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxDecompressedSize),
		)
	})
	if zstdDecoderErr != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", zstdDecoderErr)
	}

	out, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	return out, nil
}

// readLimited drains a streaming decompressor, refusing output past MaxDecompressedSize.
func readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if n > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}
	return buf.Bytes(), nil
}

// ShouldCompress determines whether a payload should be stored compressed.
//
// Returns true if the original is at least minSize bytes and compression
// saves at least 5%.
func ShouldCompress(originalSize, compressedSize, minSize int) bool {
	if originalSize < minSize {
		return false
	}

	threshold := float64(originalSize) * 0.95
	return float64(compressedSize) < threshold
}
