// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Count     int    `json:"count"`
}

func TestMarshalDeterministicMapOrder(t *testing.T) {
	first, err := Marshal(map[string]any{"b": 2, "a": 1, "c": []any{"x", "y"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(map[string]any{"c": []any{"x", "y"}, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("equal maps encoded differently: %x vs %x", first, second)
	}
}

func TestEncodeDecodeBothFormats(t *testing.T) {
	original := sampleMessage{Type: "connect", SessionID: "abc", Count: 3}
	for _, format := range []Format{JSON, CBOR} {
		t.Run(format.String(), func(t *testing.T) {
			data, err := Encode(format, original)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var decoded sampleMessage
			if err := Decode(format, data, &decoded); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded != original {
				t.Fatalf("got %+v, want %+v", decoded, original)
			}
		})
	}
}

func TestCBORDecodesIntoStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Fatalf("expected nested map[string]any, got %T", outer["nested"])
	}
}

func TestConvert(t *testing.T) {
	loose := map[string]any{"type": "update", "count": float64(7)}
	var typed sampleMessage
	if err := Convert(loose, &typed); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if typed.Type != "update" || typed.Count != 7 {
		t.Fatalf("unexpected conversion result: %+v", typed)
	}
}
