// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
)

var at = time.Date(2026, 3, 1, 12, 34, 56, 789_000_000, time.UTC)

func TestRenderPlain(t *testing.T) {
	t.Parallel()

	printer := New(&bytes.Buffer{}, Options{})
	got := printer.Render(Line{
		Time:    at,
		Session: "abcdef0123456789",
		Kind:    "update",
		Tone:    ToneUpdate,
		Label:   "localStorage +1 ~0 -0",
		Detail:  "theme",
	})

	if strings.Contains(got, "\x1b[") {
		t.Errorf("plain output contains escapes: %q", got)
	}
	for _, want := range []string{"12:34:56.789", "abcdef01 ", "update", "localStorage +1 ~0 -0", "theme"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q lacks %q", got, want)
		}
	}
	if strings.Contains(got, "abcdef012") {
		t.Errorf("session not truncated to 8 columns: %q", got)
	}
}

func TestRenderColor(t *testing.T) {
	t.Parallel()

	printer := New(&bytes.Buffer{}, Options{Color: true})
	got := printer.Render(Line{Time: at, Kind: "error", Tone: ToneError, Detail: "boom"})
	if !strings.Contains(got, "\x1b[") {
		t.Fatalf("colour output has no escapes: %q", got)
	}
	if visible := ansi.Strip(got); !strings.Contains(visible, "boom") || !strings.Contains(visible, " - ") {
		t.Errorf("visible text = %q", visible)
	}
}

func TestRenderTruncatesDetail(t *testing.T) {
	t.Parallel()

	printer := New(&bytes.Buffer{}, Options{Width: 60})
	got := printer.Render(Line{
		Time:   at,
		Kind:   "item",
		Label:  "log",
		Detail: strings.Repeat("x", 200),
	})
	if width := ansi.StringWidth(got); width > 60 {
		t.Errorf("width = %d, want <= 60: %q", width, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated detail lacks ellipsis: %q", got)
	}
}

func TestRenderCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	printer := New(&bytes.Buffer{}, Options{})
	got := printer.Render(Line{Time: at, Kind: "item", Detail: "line one\n\tline two"})
	if !strings.HasSuffix(got, "line one line two") {
		t.Errorf("detail not collapsed to one line: %q", got)
	}
}

func TestPrintWritesLine(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	printer := New(&buffer, Options{})
	if err := printer.Print(Line{Time: at, Kind: "session", Label: "connected"}); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if !strings.HasSuffix(buffer.String(), "connected\n") {
		t.Errorf("output = %q", buffer.String())
	}
}

func TestTerminalDetectionOnPipe(t *testing.T) {
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer reader.Close()
	defer writer.Close()

	if IsTerminal(writer) {
		t.Error("pipe reported as terminal")
	}
	if width := TerminalWidth(writer, 77); width != 77 {
		t.Errorf("TerminalWidth = %d, want fallback 77", width)
	}
}
