// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func compressiblePayload() []byte {
	return []byte(strings.Repeat(`{"kind":"log","payload":{"level":"info","message":"hello"}},`, 200))
}

func TestRoundTripEachEncoding(t *testing.T) {
	t.Parallel()

	payload := compressiblePayload()
	for _, encoding := range []string{EncodingGzip, EncodingZstd, EncodingLZ4} {
		t.Run(encoding, func(t *testing.T) {
			compressor, ok := New(encoding)
			if !ok {
				t.Fatalf("New(%q) not recognized", encoding)
			}
			body, declared := Apply(compressor, payload, 64)
			if declared != encoding {
				t.Fatalf("declared encoding = %q, want %q", declared, encoding)
			}
			if len(body) >= len(payload) {
				t.Fatalf("compressed size %d not smaller than %d", len(body), len(payload))
			}
			decoded, err := Decompress(declared, body, 1<<20)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(decoded, payload) {
				t.Fatal("round trip mismatch")
			}
		})
	}
}

func TestApplyBelowThresholdSendsRaw(t *testing.T) {
	t.Parallel()

	compressor, _ := New(EncodingGzip)
	payload := compressiblePayload()
	body, declared := Apply(compressor, payload, len(payload)+1)
	if declared != "" {
		t.Fatalf("expected no encoding below threshold, got %q", declared)
	}
	if !bytes.Equal(body, payload) {
		t.Fatal("payload modified below threshold")
	}
}

func TestApplyNoneAndUnknownFallBack(t *testing.T) {
	t.Parallel()

	compressor, ok := New("brotli")
	if ok {
		t.Fatal("unknown encoding reported as recognized")
	}
	payload := compressiblePayload()
	body, declared := Apply(compressor, payload, 1)
	if declared != "" || !bytes.Equal(body, payload) {
		t.Fatalf("fallback compressor altered payload (encoding %q)", declared)
	}
}

func TestApplyIncompressibleSendsRaw(t *testing.T) {
	t.Parallel()

	compressor, _ := New(EncodingGzip)
	payload := []byte("x")
	body, declared := Apply(compressor, payload, 1)
	if declared != "" || !bytes.Equal(body, payload) {
		t.Fatalf("tiny payload should be sent raw, got encoding %q", declared)
	}
}

func TestDecompressUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Decompress("br", []byte{1, 2, 3}, 1024)
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("expected ErrUnsupportedEncoding, got %v", err)
	}
}

func TestDecompressEnforcesLimit(t *testing.T) {
	t.Parallel()

	compressor, _ := New(EncodingGzip)
	payload := compressiblePayload()
	body, _ := Apply(compressor, payload, 1)
	if _, err := Decompress(EncodingGzip, body, 100); err == nil {
		t.Fatal("expected limit error")
	}
}

// zeroFrame returns a zstd frame that expands to size zero bytes,
// written in chunks so the test never holds the expanded form.
func zeroFrame(t *testing.T, size int) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer, err := zstd.NewWriter(&buffer)
	if err != nil {
		t.Fatal(err)
	}
	chunk := make([]byte, 1<<20)
	for written := 0; written < size; written += len(chunk) {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

// Not parallel: the allocation check reads process-wide counters.
func TestDecompressZstdBoundsAllocation(t *testing.T) {
	const expanded = 256 << 20
	const limit = 1 << 20
	payload := zeroFrame(t, expanded)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := Decompress(EncodingZstd, payload, limit)
	runtime.ReadMemStats(&after)

	if err == nil {
		t.Fatal("expected limit error for a 256 MiB frame")
	}
	if allocated := after.TotalAlloc - before.TotalAlloc; allocated > 64<<20 {
		t.Errorf("Decompress allocated %d MiB for a %d KiB frame with a 1 MiB limit",
			allocated>>20, len(payload)>>10)
	}
}

func TestDecompressZstdWithinLimit(t *testing.T) {
	t.Parallel()

	compressor, _ := New(EncodingZstd)
	payload := compressiblePayload()
	body, encoding := Apply(compressor, payload, 1)
	if encoding != EncodingZstd {
		t.Fatalf("encoding = %q, want zstd", encoding)
	}
	decoded, err := Decompress(EncodingZstd, body, int64(len(payload)))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Error("round trip mismatch")
	}
}
