package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Config holds logger configuration
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	// level is shared by every handler built below, so SetLevel takes
	// effect without rebuilding.
	level slog.LevelVar

	mu       sync.RWMutex
	format   = "text"
	output   io.Writer = os.Stdout
	useColor bool
	slogger  *slog.Logger
)

func init() {
	useColor = isTerminal(os.Stdout.Fd())
	mu.Lock()
	rebuildLocked()
	mu.Unlock()
}

// parseLevel maps a configured level name to its slog level.
func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

// rebuildLocked swaps in a handler for the current format and output.
// mu must be held.
func rebuildLocked() {
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewColorTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// openOutput resolves an Output setting. Files never get color.
func openOutput(name string) (io.Writer, bool, error) {
	switch strings.ToLower(name) {
	case "", "stdout":
		return os.Stdout, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, isTerminal(os.Stderr.Fd()), nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open log file %q: %w", name, err)
	}
	return f, false, nil
}

// Init applies cfg. Output can be "stdout", "stderr", or a file path.
// Unknown levels and formats leave the current setting in place.
func Init(cfg Config) error {
	w, color, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}
	configure(w, color, cfg.Level, cfg.Format)
	return nil
}

// InitWithWriter sends output to w. Used by tests.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	configure(w, enableColor, level, format)
}

func configure(w io.Writer, color bool, lvl, f string) {
	SetLevel(lvl)

	mu.Lock()
	defer mu.Unlock()
	output, useColor = w, color
	if f = strings.ToLower(f); f == "text" || f == "json" {
		format = f
	}
	rebuildLocked()
}

// SetLevel sets the minimum log level. Invalid names are ignored.
func SetLevel(name string) {
	if l, ok := parseLevel(name); ok {
		level.Set(l)
	}
}

// SetFormat switches between text and json. Invalid names are ignored.
func SetFormat(f string) {
	f = strings.ToLower(f)
	if f != "text" && f != "json" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	format = f
	rebuildLocked()
}

// Enabled reports whether records at l are currently written.
func Enabled(l slog.Level) bool {
	return l >= level.Level()
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// logAt is the single sink for every helper below. Fields of the LogContext
// carried by ctx come first.
func logAt(ctx context.Context, l slog.Level, msg string, args []any) {
	if !Enabled(l) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	getLogger().Log(ctx, l, msg, appendContextFields(ctx, args)...)
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Debug logs at debug level with key/value fields:
//
//	logger.Debug("Frame sent", logger.KeyPacket, name, logger.KeyBytes, n)
func Debug(msg string, args ...any) { logAt(context.Background(), slog.LevelDebug, msg, args) }

func Info(msg string, args ...any) { logAt(context.Background(), slog.LevelInfo, msg, args) }

func Warn(msg string, args ...any) { logAt(context.Background(), slog.LevelWarn, msg, args) }

func Error(msg string, args ...any) { logAt(context.Background(), slog.LevelError, msg, args) }

// DebugCtx logs at debug level, adding the connection fields of ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelDebug, msg, args)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelInfo, msg, args)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelWarn, msg, args)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, slog.LevelError, msg, args)
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := []struct {
		key   string
		value any
		set   bool
	}{
		{KeyTraceID, lc.TraceID, lc.TraceID != ""},
		{KeySpanID, lc.SpanID, lc.SpanID != ""},
		{KeyConnectionID, lc.ConnectionID, lc.ConnectionID != 0},
		{KeyNetwork, lc.Network, lc.Network != ""},
		{KeyRemoteAddr, lc.RemoteAddr, lc.RemoteAddr != ""},
		{KeyPacket, lc.Packet, lc.Packet != ""},
	}

	out := make([]any, 0, 2*len(fields)+len(args))
	for _, f := range fields {
		if f.set {
			out = append(out, f.key, f.value)
		}
	}
	return append(out, args...)
}

// With returns a logger with pre-bound fields.
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Duration returns the time since start in milliseconds.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
