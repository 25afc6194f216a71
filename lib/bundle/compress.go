// Copyright 2026 The Deaddrop Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm used for one object in the
// bundle's object section. Tags are stored in the object frames (1
// byte each); the values are protocol constants.
type CompressionTag uint8

const (
	// CompressionNone stores the object bytes unchanged. Also the
	// fallback when the requested algorithm cannot shrink the data:
	// packfiles and media are often already compressed.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: modest ratios, very
	// cheap decode. The choice for large binary payloads.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level: better ratios on
	// text-like payloads, still fast to decode. The default.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's name as used in flags and list files.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses a tag name.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

// Compress compresses data with the preferred algorithm, falling back
// to CompressionNone when the output would not be smaller than the
// input. Returns the tag actually used alongside the bytes; for
// CompressionNone the input is returned unchanged, no copy.
func Compress(data []byte, preferred CompressionTag) (CompressionTag, []byte, error) {
	switch preferred {
	case CompressionNone:
		return CompressionNone, data, nil

	case CompressionLZ4:
		compressed, err := compressLZ4(data)
		if errors.Is(err, errIncompressible) {
			return CompressionNone, data, nil
		}
		if err != nil {
			return 0, nil, err
		}
		return CompressionLZ4, compressed, nil

	case CompressionZstd:
		compressed, err := compressZstd(data)
		if errors.Is(err, errIncompressible) {
			return CompressionNone, data, nil
		}
		if err != nil {
			return 0, nil, err
		}
		return CompressionZstd, compressed, nil

	default:
		return 0, nil, fmt.Errorf("unsupported compression tag: %d", preferred)
	}
}

// Decompress reverses Compress. The uncompressedSize must match the
// original length exactly; a mismatch is an error, never a short
// result.
func Decompress(data []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != uncompressedSize {
			return nil, fmt.Errorf("raw object: size %d does not match expected %d",
				len(data), uncompressedSize)
		}
		return data, nil

	case CompressionLZ4:
		return decompressLZ4(data, uncompressedSize)

	case CompressionZstd:
		return decompressZstd(data, uncompressedSize)

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 when it judges the data incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("bundle: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("bundle: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, 0, uncompressedSize)
	result, err := zstdDecoder.DecodeAll(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
