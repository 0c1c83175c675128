package output

import (
	"fmt"
	"io"
)

// Notice prefixes.
const (
	prefixInfo    = "info: "
	prefixWarn    = "warning: "
	prefixSuccess = "ok: "
)

// Info writes an informational line to w.
func Info(w io.Writer, format string, args ...any) {
	notice(w, prefixInfo, format, args...)
}

// Warn writes a warning line to w.
func Warn(w io.Writer, format string, args ...any) {
	notice(w, prefixWarn, format, args...)
}

// Success writes a success line to w.
func Success(w io.Writer, format string, args ...any) {
	notice(w, prefixSuccess, format, args...)
}

func notice(w io.Writer, prefix, format string, args ...any) {
	_, _ = fmt.Fprintf(w, prefix+format+"\n", args...)
}
