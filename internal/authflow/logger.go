package authflow

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Logger writes leveled, optionally colored output for the authentication
// flow and the tool client. Verbose methods are safe to call on a nil
// receiver so deeply nested helpers can log unconditionally.
type Logger struct {
	mu        sync.Mutex
	verbose   bool
	useColor  bool
	traceMode bool
	writer    io.Writer
}

// NewLogger creates a logger writing to stdout. trace enables request and
// response tracing via the Request and Response methods.
func NewLogger(verbose, color, trace bool) *Logger {
	return NewLoggerWithWriter(verbose, color, trace, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(verbose, color, trace bool, w io.Writer) *Logger {
	return &Logger{
		verbose:   verbose,
		useColor:  color,
		traceMode: trace,
		writer:    w,
	}
}

// SetVerbose toggles verbose output at runtime.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
}

// SetWriter redirects output, e.g. to keep log lines from corrupting an
// interactive prompt.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

func (l *Logger) print(color, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	if l.useColor && color != "" {
		fmt.Fprintf(l.writer, "%s%s%s%s\n", color, prefix, msg, colorReset)
	} else {
		fmt.Fprintf(l.writer, "%s%s\n", prefix, msg)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.print("", "", format, args...)
}

// InfoVerbose logs an informational message only in verbose mode.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	if l == nil || !l.isVerbose() {
		return
	}
	l.print("", "", format, args...)
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	l.print(colorGreen, "✓ ", format, args...)
}

// Warning logs a warning message.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.print(colorYellow, "⚠ ", format, args...)
}

// WarningVerbose logs a warning only in verbose mode.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	if l == nil || !l.isVerbose() {
		return
	}
	l.print(colorYellow, "⚠ ", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(colorRed, "✗ ", format, args...)
}

// Debug logs a debug message only in verbose mode.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || !l.isVerbose() {
		return
	}
	l.print(colorGray, "[debug] ", format, args...)
}

// Request traces an outgoing request when tracing is enabled. detail may be
// a string or any JSON-encodable value.
func (l *Logger) Request(op string, detail interface{}) {
	l.traceLine("→", op, detail)
}

// Response traces an incoming response when tracing is enabled.
func (l *Logger) Response(op string, detail interface{}) {
	l.traceLine("←", op, detail)
}

func (l *Logger) traceLine(arrow, op string, detail interface{}) {
	if l == nil || !l.isTrace() {
		return
	}
	text := ""
	switch v := detail.(type) {
	case nil:
	case string:
		text = v
	default:
		if b, err := json.Marshal(v); err == nil {
			text = string(b)
		} else {
			text = fmt.Sprintf("%v", v)
		}
	}
	if text != "" {
		l.print(colorCyan, "", "%s %s %s", arrow, op, text)
	} else {
		l.print(colorCyan, "", "%s %s", arrow, op)
	}
}

func (l *Logger) isVerbose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

func (l *Logger) isTrace() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.traceMode
}

// PrettyJSON renders v as indented JSON for display.
func PrettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
