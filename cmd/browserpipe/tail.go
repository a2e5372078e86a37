// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/browserpipe/browserpipe/hub"
	"github.com/browserpipe/browserpipe/lib/changedetect"
	"github.com/browserpipe/browserpipe/lib/console"
	"github.com/browserpipe/browserpipe/lib/schema/telemetry"
)

// formatEvent turns a tail event into a console line.
func formatEvent(event hub.Event) console.Line {
	line := console.Line{
		Time:    event.Time,
		Session: event.SessionID,
		Kind:    string(event.Kind),
	}

	switch event.Kind {
	case hub.EventItem:
		if event.Item == nil {
			break
		}
		line.Kind = string(event.Item.Kind)
		line.Tone = console.ToneItem
		if event.Item.Kind == telemetry.KindError {
			line.Tone = console.ToneError
		}
		line.Label = event.Application
		line.Detail = compactJSON(event.Item.Payload)

	case hub.EventUpdate:
		line.Tone = console.ToneUpdate
		if event.Changes != nil {
			line.Label = fmt.Sprintf("%s +%d ~%d -%d", event.Subtype,
				len(event.Changes.Added), len(event.Changes.Modified), len(event.Changes.Deleted))
			line.Detail = changedKeys(event.Changes)
		} else {
			line.Label = event.Subtype
			line.Detail = compactJSON(event.Payload)
		}

	case hub.EventSession:
		line.Label = event.Action
		line.Detail = event.Application
		switch event.Action {
		case hub.ActionConnected:
			line.Tone = console.ToneConnected
		case hub.ActionReaped:
			line.Tone = console.ToneError
		default:
			line.Tone = console.ToneDisconnected
		}
	}
	return line
}

func changedKeys(result *changedetect.Result) string {
	var parts []string
	for _, change := range result.Added {
		parts = append(parts, "+"+change.Key)
	}
	for _, change := range result.Modified {
		parts = append(parts, "~"+change.Key)
	}
	for _, change := range result.Deleted {
		parts = append(parts, "-"+change.Key)
	}
	return strings.Join(parts, " ")
}

// compactJSON shows strings bare and everything else as JSON.
func compactJSON(value any) string {
	if value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}
