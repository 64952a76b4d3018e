package spinner

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// ANSI escape sequences for terminal control.
const (
	hideCursor     = "\033[?25l"
	showCursor     = "\033[?25h"
	carriageReturn = "\r"

	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"

	symbolSuccess = "✓"
	symbolFailure = "✗"
)

// IsTerminal reports whether w is an *os.File attached to a terminal.
func IsTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

func resolveTTY(w io.Writer, override *bool) bool {
	if override != nil {
		return *override
	}
	return IsTerminal(w)
}

// line is a single rewritable terminal line. Callers serialize access.
type line struct {
	w     io.Writer
	tty   bool
	width int // length of the last write, for clearing
}

// rewrite replaces the current line with s.
func (l *line) rewrite(s string) {
	l.clear()
	fmt.Fprint(l.w, s)
	l.width = len(s)
}

// clear blanks the current line with spaces, which works on terminals
// without ANSI erase support.
func (l *line) clear() {
	if l.width > 0 {
		fmt.Fprint(l.w, carriageReturn+strings.Repeat(" ", l.width)+carriageReturn)
		l.width = 0
	}
}

func (l *line) cursor(visible bool) {
	if !l.tty {
		return
	}
	if visible {
		fmt.Fprint(l.w, showCursor)
	} else {
		fmt.Fprint(l.w, hideCursor)
	}
}

// status prints a final status line, colored on terminals.
func (l *line) status(symbol, color, message string, elapsed time.Duration, showElapsed bool) {
	mark := symbol
	if l.tty {
		mark = color + symbol + colorReset
	}
	if showElapsed && elapsed > 0 {
		fmt.Fprintf(l.w, "%s %s %s\n", mark, message, formatElapsed(elapsed))
		return
	}
	fmt.Fprintf(l.w, "%s %s\n", mark, message)
}

// formatElapsed renders "(1.2s)" under a minute, "(1m 30s)" under an hour
// and "(2h 5m)" beyond.
func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("(%.1fs)", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("(%dm %ds)", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("(%dh %dm)", int(d.Hours()), int(d.Minutes())%60)
	}
}

// formatETA renders "ETA: 30s", "ETA: 1m 15s" or "ETA: 2h 30m".
func formatETA(d time.Duration) string {
	if d < time.Minute {
		seconds := int(d.Seconds() + 0.5)
		if seconds < 1 {
			seconds = 1
		}
		return fmt.Sprintf("ETA: %ds", seconds)
	}
	if d < time.Hour {
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s > 0 {
			return fmt.Sprintf("ETA: %dm %ds", m, s)
		}
		return fmt.Sprintf("ETA: %dm", m)
	}
	h, m := int(d.Hours()), int(d.Minutes())%60
	if m > 0 {
		return fmt.Sprintf("ETA: %dh %dm", h, m)
	}
	return fmt.Sprintf("ETA: %dh", h)
}
