package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattn/go-isatty"

	"naperf/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var (
	levelPattern = regexp.MustCompile(`level=([A-Z]+)`)
	tokenPattern = regexp.MustCompile(`"[^"]*"|\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b|\b\d+(?:\.\d+)?\b`)
	ipPattern    = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// colorLineWriter colorizes key=value log lines by level and token class.
// Params: dst receives rendered output.
// Returns: io.Writer that highlights levels, strings, IPs, and numbers.
type colorLineWriter struct {
	dst io.Writer
}

// Write renders one or more log lines with ANSI highlighting.
// Params: p raw handler output, one line per '\n'.
// Returns: length of p and destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	text := string(p)
	var builder strings.Builder

	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			builder.WriteString(colorizeLine(text))
			break
		}
		builder.WriteString(colorizeLine(text[:idx]))
		builder.WriteByte('\n')
		text = text[idx+1:]
		if text == "" {
			break
		}
	}

	if _, err := w.dst.Write([]byte(builder.String())); err != nil {
		return 0, err
	}
	return len(p), nil
}

// colorizeLine highlights one log line; lines without a known level pass through.
// Params: line raw key=value text without trailing newline.
// Returns: rendered line.
func colorizeLine(line string) string {
	if line == "" {
		return line
	}

	base := levelColor(line)
	if base == "" {
		return line
	}

	colored := tokenPattern.ReplaceAllStringFunc(line, func(token string) string {
		switch {
		case strings.HasPrefix(token, `"`):
			return ansiGreen + token + ansiReset + base
		case ipPattern.MatchString(token):
			return ansiCyan + token + ansiReset + base
		default:
			return ansiYellow + token + ansiReset + base
		}
	})

	return base + colored + ansiReset
}

// levelColor maps the line's level token to its base color.
// Params: line raw log line.
// Returns: ANSI color or empty string for unknown/absent level.
func levelColor(line string) string {
	match := levelPattern.FindStringSubmatch(line)
	if match == nil {
		return ""
	}

	switch match[1] {
	case "DEBUG":
		return ansiMagenta
	case "INFO":
		return ansiBlue
	case "WARN":
		return ansiYellow
	case "ERROR":
		return ansiRed
	default:
		return ""
	}
}

// New builds the root slog logger from console/file sink config.
// Params: cfg validated logging configuration.
// Returns: logger, close function for file resources, or setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0, 2)
	closers := make([]func(), 0, 1)

	if cfg.Console.Enabled {
		handlers = append(handlers, newSinkHandler(consoleWriter(cfg.Console.Format), cfg.Console))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir for %q: %w", cfg.File.Path, err)
		}
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		closers = append(closers, func() { _ = file.Close() })
		handlers = append(handlers, newSinkHandler(file, cfg.File))
	}

	closeAll := func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeAll, nil
	case 1:
		return slog.New(handlers[0]), closeAll, nil
	default:
		return slog.New(multiHandler{handlers: handlers}), closeAll, nil
	}
}

// consoleWriter wraps stdout with ANSI coloring for line format on terminals.
// Params: format console sink format.
// Returns: writer for the console handler.
func consoleWriter(format string) io.Writer {
	if format == "line" && isatty.IsTerminal(os.Stdout.Fd()) {
		return &colorLineWriter{dst: os.Stdout}
	}
	return os.Stdout
}

// newSinkHandler builds one slog handler for a sink.
// Params: dst sink writer; cfg sink level/format options.
// Returns: configured handler.
func newSinkHandler(dst io.Writer, cfg config.LogSinkConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(dst, opts)
	}
	return slog.NewTextHandler(dst, opts)
}

// parseLevel maps config level names to slog levels.
// Params: level lower-case level name.
// Returns: slog level (panic maps to error).
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error", "panic":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// multiHandler fans records out to all sink handlers.
// Params: handlers active sink handlers.
// Returns: combined slog handler.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any sink accepts the level.
// Params: ctx request context; level record level.
// Returns: true when at least one handler is enabled.
func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers the record to every enabled sink.
// Params: ctx request context; record log record.
// Returns: first sink error when present.
func (m multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs returns a combined handler with attrs applied to every sink.
// Params: attrs attribute list.
// Returns: derived handler.
func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make([]slog.Handler, len(m.handlers))
	for idx, h := range m.handlers {
		derived[idx] = h.WithAttrs(attrs)
	}
	return multiHandler{handlers: derived}
}

// WithGroup returns a combined handler with the group applied to every sink.
// Params: name group name.
// Returns: derived handler.
func (m multiHandler) WithGroup(name string) slog.Handler {
	derived := make([]slog.Handler, len(m.handlers))
	for idx, h := range m.handlers {
		derived[idx] = h.WithGroup(name)
	}
	return multiHandler{handlers: derived}
}
