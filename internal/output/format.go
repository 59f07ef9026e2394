// Package output renders CLI results and errors as text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format represents the output format.
type Format string

// Output format constants.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatAuto Format = "auto"
)

// Formatter writes command results in one format.
type Formatter struct {
	format Format
	writer io.Writer
}

// NewFormatter creates a formatter. FormatAuto is resolved against w.
func NewFormatter(format Format, w io.Writer) *Formatter {
	return &Formatter{format: DetectFormat(w, format), writer: w}
}

// Format returns the resolved output format.
func (f *Formatter) Format() Format { return f.format }

// Writer returns the output writer.
func (f *Formatter) Writer() io.Writer { return f.writer }

// IsJSON reports whether results are written as JSON.
func (f *Formatter) IsJSON() bool { return f.format == FormatJSON }

// Result writes v as indented JSON, or calls text to render it for humans.
func (f *Formatter) Result(v any, text func(w io.Writer) error) error {
	if f.IsJSON() || text == nil {
		return writeJSON(f.writer, v)
	}
	return text(f.writer)
}

// Printf writes formatted text. It writes nothing in JSON mode.
func (f *Formatter) Printf(format string, args ...any) error {
	if f.IsJSON() {
		return nil
	}
	_, err := fmt.Fprintf(f.writer, format, args...)
	return err
}

// Success writes a confirmation line, or {"status":"success"} in JSON mode.
func (f *Formatter) Success(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if f.IsJSON() {
		return writeJSON(f.writer, map[string]string{"status": "success", "message": msg})
	}
	_, err := fmt.Fprintln(f.writer, msg)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Warn writes a warning to w, which is usually stderr.
func Warn(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "warning: "+format+"\n", args...)
}

// DetectFormat resolves FormatAuto: text on a terminal, JSON otherwise.
func DetectFormat(w io.Writer, explicit Format) Format {
	if explicit != FormatAuto && explicit != "" {
		return explicit
	}
	if isTerminal(w) {
		return FormatText
	}
	return FormatJSON
}

// ParseFormat parses a format flag value.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		return FormatAuto
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: Fd() returns uintptr, safe conversion for term.IsTerminal
}
