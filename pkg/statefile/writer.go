package statefile

import (
	"bufio"
	"io"
)

// Writer emits tag/value sections. Errors stick: after the first
// failure every call is a no-op and Flush returns the error.
type Writer struct {
	w    *bufio.Writer
	open bool
	err  error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Field appends one "Key: Value" line to the current section.
func (w *Writer) Field(key, value string) {
	if w.err != nil {
		return
	}
	if _, err := w.w.WriteString(key); err != nil {
		w.err = err
		return
	}
	if _, err := w.w.WriteString(": "); err != nil {
		w.err = err
		return
	}
	if _, err := w.w.WriteString(value); err != nil {
		w.err = err
		return
	}
	w.err = w.w.WriteByte('\n')
	w.open = true
}

// EndSection terminates the current section. Ending an empty section
// is a no-op, so conditional fields cannot produce stray blank lines.
func (w *Writer) EndSection() {
	if w.err != nil || !w.open {
		return
	}
	w.err = w.w.WriteByte('\n')
	w.open = false
}

// Flush writes buffered output and returns the first error seen.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}
