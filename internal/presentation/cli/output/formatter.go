// Package output renders clinicsync command results for a terminal or as
// JSON for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Format is the output format selected with --output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Color is an ANSI escape sequence.
type Color string

const (
	ColorReset  Color = "\033[0m"
	ColorRed    Color = "\033[31m"
	ColorGreen  Color = "\033[32m"
	ColorYellow Color = "\033[33m"
	ColorBlue   Color = "\033[34m"
	ColorCyan   Color = "\033[36m"
	ColorBold   Color = "\033[1m"
	ColorDim    Color = "\033[2m"
)

// Formatter writes command output. All methods are safe for concurrent use.
type Formatter struct {
	mu           sync.Mutex
	writer       io.Writer
	format       Format
	colorEnabled bool
}

// Option configures a Formatter.
type Option func(*Formatter)

// NewFormatter creates a text Formatter writing to stdout with color on.
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{
		writer:       os.Stdout,
		format:       FormatText,
		colorEnabled: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithWriter sets the output writer.
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) { f.writer = w }
}

// WithFormat sets the output format.
func WithFormat(format Format) Option {
	return func(f *Formatter) { f.format = format }
}

// WithColor enables or disables ANSI colors.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.colorEnabled = enabled }
}

// Format returns the output format.
func (f *Formatter) Format() Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// Println writes a formatted line.
func (f *Formatter) Println(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := fmt.Fprintf(f.writer, format+"\n", args...)
	return err
}

// Colorize wraps text in color when colors are enabled.
func (f *Formatter) Colorize(text string, color Color) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.colorEnabled {
		return text
	}
	return string(color) + text + string(ColorReset)
}

func (f *Formatter) message(symbol string, color Color, format string, args ...any) error {
	return f.Println("%s", f.Colorize(symbol+" "+fmt.Sprintf(format, args...), color))
}

// Success prints a green confirmation line.
func (f *Formatter) Success(format string, args ...any) error {
	return f.message("✓", ColorGreen, format, args...)
}

// Error prints a red error line.
func (f *Formatter) Error(format string, args ...any) error {
	return f.message("✗", ColorRed, format, args...)
}

// Warning prints a yellow warning line.
func (f *Formatter) Warning(format string, args ...any) error {
	return f.message("⚠", ColorYellow, format, args...)
}

// Info prints a blue note.
func (f *Formatter) Info(format string, args ...any) error {
	return f.message("ℹ", ColorBlue, format, args...)
}

func (f *Formatter) Bold(text string) string { return f.Colorize(text, ColorBold) }

func (f *Formatter) Dim(text string) string { return f.Colorize(text, ColorDim) }

// Header writes a title underlined to its width.
func (f *Formatter) Header(title string) error {
	if err := f.Println("%s", f.Bold(title)); err != nil {
		return err
	}
	return f.Println("%s", strings.Repeat("─", len([]rune(title))))
}

// SubHeader writes a section title inside a Header block.
func (f *Formatter) SubHeader(title string) error {
	return f.Println("%s", f.Colorize(title, ColorCyan))
}

// Item writes an indented "key: value" line.
func (f *Formatter) Item(key, value string) error {
	return f.Println("  %s: %s", f.Dim(key), value)
}

// BulletItem writes an indented list entry.
func (f *Formatter) BulletItem(text string) error {
	return f.Println("  • %s", text)
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ParseFormat parses an --output value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}
