// Copyright 2026 The Browserpipe Authors
// SPDX-License-Identifier: Apache-2.0

package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Tone selects the colour of a line's kind column.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneItem
	ToneUpdate
	ToneConnected
	ToneDisconnected
	ToneError
)

// Line is one rendered record.
type Line struct {
	Time    time.Time
	Session string
	Kind    string
	Tone    Tone

	// Label is a short summary, e.g. "localStorage +1 ~0 -2".
	Label string

	// Detail is free text shown after the label and truncated to
	// fit the line width.
	Detail string
}

// Theme is the console palette, in ANSI 256-colour codes.
type Theme struct {
	Time    lipgloss.Color
	Session lipgloss.Color
	Label   lipgloss.Color
	Detail  lipgloss.Color

	Neutral      lipgloss.Color
	Item         lipgloss.Color
	Update       lipgloss.Color
	Connected    lipgloss.Color
	Disconnected lipgloss.Color
	Error        lipgloss.Color
}

// DefaultTheme returns the standard palette.
func DefaultTheme() Theme {
	return Theme{
		Time:         lipgloss.Color("243"),
		Session:      lipgloss.Color("111"),
		Label:        lipgloss.Color("252"),
		Detail:       lipgloss.Color("245"),
		Neutral:      lipgloss.Color("250"),
		Item:         lipgloss.Color("78"),
		Update:       lipgloss.Color("214"),
		Connected:    lipgloss.Color("42"),
		Disconnected: lipgloss.Color("208"),
		Error:        lipgloss.Color("196"),
	}
}

func (theme Theme) toneColor(tone Tone) lipgloss.Color {
	switch tone {
	case ToneItem:
		return theme.Item
	case ToneUpdate:
		return theme.Update
	case ToneConnected:
		return theme.Connected
	case ToneDisconnected:
		return theme.Disconnected
	case ToneError:
		return theme.Error
	default:
		return theme.Neutral
	}
}

// Options configures a Printer.
type Options struct {
	// Color enables ANSI colour.
	Color bool

	// Width caps the visible line width. Zero means no cap.
	Width int

	// Theme defaults to DefaultTheme.
	Theme *Theme
}

// Printer writes lines to one writer. Safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	writer io.Writer
	width  int

	time    lipgloss.Style
	session lipgloss.Style
	label   lipgloss.Style
	detail  lipgloss.Style
	kinds   map[Tone]lipgloss.Style
}

// New returns a Printer writing to writer.
func New(writer io.Writer, options Options) *Printer {
	theme := DefaultTheme()
	if options.Theme != nil {
		theme = *options.Theme
	}

	// The profile is forced so output does not depend on what the
	// renderer detects from the environment.
	profile := termenv.Ascii
	if options.Color {
		profile = termenv.ANSI256
	}
	renderer := lipgloss.NewRenderer(writer, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)

	printer := &Printer{
		writer:  writer,
		width:   options.Width,
		time:    renderer.NewStyle().Foreground(theme.Time),
		session: renderer.NewStyle().Foreground(theme.Session),
		label:   renderer.NewStyle().Foreground(theme.Label),
		detail:  renderer.NewStyle().Foreground(theme.Detail),
		kinds:   make(map[Tone]lipgloss.Style),
	}
	for _, tone := range []Tone{ToneNeutral, ToneItem, ToneUpdate, ToneConnected, ToneDisconnected, ToneError} {
		printer.kinds[tone] = renderer.NewStyle().
			Foreground(theme.toneColor(tone)).
			Bold(tone == ToneError).
			Width(10)
	}
	return printer
}

// Print renders and writes one line.
func (p *Printer) Print(line Line) error {
	rendered := p.Render(line)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.writer, rendered)
	return err
}

// Render formats one line without writing it.
func (p *Printer) Render(line Line) string {
	session := line.Session
	if session == "" {
		session = "-"
	}
	session = ansi.Truncate(session, 8, "")

	var builder strings.Builder
	builder.WriteString(p.time.Render(line.Time.Format("15:04:05.000")))
	builder.WriteByte(' ')
	builder.WriteString(p.session.Render(fmt.Sprintf("%-8s", session)))
	builder.WriteByte(' ')
	builder.WriteString(p.kinds[line.Tone].Render(line.Kind))
	if line.Label != "" {
		builder.WriteByte(' ')
		builder.WriteString(p.label.Render(line.Label))
	}

	if line.Detail != "" {
		detail := strings.Join(strings.Fields(line.Detail), " ")
		if p.width > 0 {
			remaining := p.width - ansi.StringWidth(builder.String()) - 1
			if remaining < 4 {
				return builder.String()
			}
			detail = ansi.Truncate(detail, remaining, "…")
		}
		builder.WriteByte(' ')
		builder.WriteString(p.detail.Render(detail))
	}
	return builder.String()
}

// IsTerminal reports whether file is attached to a terminal.
func IsTerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}

// TerminalWidth returns file's terminal width, or fallback when it is
// not a terminal.
func TerminalWidth(file *os.File, fallback int) int {
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}
