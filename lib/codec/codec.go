// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Payloads are JSON-shaped. Decoding into any must yield
		// map[string]any so values read from a binary frame compare
		// and re-encode like values read from a text frame.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Format is a message framing.
type Format int

const (
	// JSON framing, carried in WebSocket text frames.
	JSON Format = iota
	// CBOR framing, carried in WebSocket binary frames.
	CBOR
)

// String returns "json" or "cbor".
func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case CBOR:
		return "cbor"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encode encodes v in the given framing.
func Encode(format Format, v any) ([]byte, error) {
	switch format {
	case JSON:
		return json.Marshal(v)
	case CBOR:
		return Marshal(v)
	default:
		return nil, fmt.Errorf("codec: unknown format %d", int(format))
	}
}

// Decode decodes data in the given framing into v.
func Decode(format Format, data []byte, v any) error {
	switch format {
	case JSON:
		return json.Unmarshal(data, v)
	case CBOR:
		return Unmarshal(data, v)
	default:
		return fmt.Errorf("codec: unknown format %d", int(format))
	}
}

// Convert re-shapes a loosely typed value (typically a map[string]any
// decoded from either framing) into the typed target by a JSON round
// trip. Use it for payload fields whose shape depends on a sibling
// discriminator.
func Convert(value any, target any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("codec: re-encoding value: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("codec: decoding value: %w", err)
	}
	return nil
}
