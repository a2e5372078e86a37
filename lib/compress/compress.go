// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress provides the payload compressors used by the
// transport and the matching decoders used by the collector endpoint.
//
// Compression is a capability, never a requirement. A [Compressor]
// that fails or does not shrink the payload causes the caller to send
// the original bytes with no Content-Encoding; [None] is the explicit
// no-op implementation used when compression is disabled or the
// configured algorithm is unknown.
//
// Encodings are named by their HTTP Content-Encoding token: "gzip",
// "zstd", and "lz4" (LZ4 frame format).
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Content-Encoding tokens.
const (
	EncodingGzip = "gzip"
	EncodingZstd = "zstd"
	EncodingLZ4  = "lz4"
)

// ErrIncompressible is returned by Compress when the output would not
// be smaller than the input.
var ErrIncompressible = errors.New("compress: payload did not shrink")

// ErrUnsupportedEncoding is returned by Decompress for an unknown
// Content-Encoding token.
var ErrUnsupportedEncoding = errors.New("compress: unsupported content encoding")

// Compressor compresses request payloads.
type Compressor interface {
	// Encoding returns the Content-Encoding token, or "" for None.
	Encoding() string

	// Compress returns the compressed form of data, or
	// ErrIncompressible when compression does not help.
	Compress(data []byte) ([]byte, error)
}

// None is the no-op Compressor.
var None Compressor = noneCompressor{}

type noneCompressor struct{}

func (noneCompressor) Encoding() string { return "" }

func (noneCompressor) Compress(data []byte) ([]byte, error) { return nil, ErrIncompressible }

// New returns the Compressor for a Content-Encoding token. "" and
// "none" select None; unknown names also fall back to None with
// ok=false so the caller can log the misconfiguration.
func New(encoding string) (compressor Compressor, ok bool) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "none", "identity":
		return None, true
	case EncodingGzip:
		return gzipCompressor{}, true
	case EncodingZstd:
		return zstdCompressor{}, true
	case EncodingLZ4:
		return lz4Compressor{}, true
	default:
		return None, false
	}
}

// Apply compresses data with c when data is at least threshold bytes.
// It returns the bytes to send and the Content-Encoding to declare
// ("" when sending data as is). Compression errors never propagate:
// the caller always gets something sendable.
func Apply(c Compressor, data []byte, threshold int) ([]byte, string) {
	if c == nil || threshold <= 0 || len(data) < threshold {
		return data, ""
	}
	compressed, err := c.Compress(data)
	if err != nil || len(compressed) >= len(data) {
		return data, ""
	}
	return compressed, c.Encoding()
}

type gzipCompressor struct{}

func (gzipCompressor) Encoding() string { return EncodingGzip }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buffer, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	if buffer.Len() >= len(data) {
		return nil, ErrIncompressible
	}
	return buffer.Bytes(), nil
}

// zstdEncoder is shared; it is safe for concurrent EncodeAll use.
var zstdEncoder *zstd.Encoder

// zstdMinWindowCap is the smallest decoder window cap Decompress uses.
const zstdMinWindowCap = 1 << 20

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
}

type zstdCompressor struct{}

func (zstdCompressor) Encoding() string { return EncodingZstd }

func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Encoding() string { return EncodingLZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := lz4.NewWriter(&buffer)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	if buffer.Len() >= len(data) {
		return nil, ErrIncompressible
	}
	return buffer.Bytes(), nil
}

// Decompress reverses a Content-Encoding. At most limit decompressed
// bytes are produced; larger payloads are an error.
func Decompress(encoding string, data []byte, limit int64) ([]byte, error) {
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return data, nil
	case EncodingGzip:
		gzipReader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	case EncodingZstd:
		// Streamed like the others so a high-ratio frame stops at
		// limit instead of being decoded whole. The window cap has a
		// floor because single-segment frames need at least 1 KiB.
		zstdReader, err := zstd.NewReader(bytes.NewReader(data),
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(max(limit, zstdMinWindowCap))+1),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zstdReader.Close()
		reader = zstdReader
	case EncodingLZ4:
		reader = lz4.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}

	decoded, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", encoding, err)
	}
	if int64(len(decoded)) > limit {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", limit)
	}
	return decoded, nil
}
