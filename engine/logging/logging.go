// Package logging holds the slog plumbing shared by the render context and its collaborators.
//
// Nothing in this package is global: every component receives its *slog.Logger through a
// construction option, and Nop is the default when none is given.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Level is the severity passed to a log callback.
type Level uint32

const (
	LevelVerbose Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case LevelVerbose:
		return "VERBOSE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("Level(%d)", uint32(l))
	}
}

// Slog returns the slog level a record must reach to be reported at l.
// Verbose sits below slog.LevelDebug.
//
// Returns:
//   - slog.Level: the equivalent slog level
func (l Level) Slog() slog.Level {
	switch l {
	case LevelVerbose:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// LevelFromSlog maps an slog level onto the callback level it falls into.
//
// Parameters:
//   - level: the slog level
//
// Returns:
//   - Level: the matching callback level
func LevelFromSlog(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarning
	case level >= slog.LevelInfo:
		return LevelInfo
	case level >= slog.LevelDebug:
		return LevelDebug
	default:
		return LevelVerbose
	}
}

// Callback receives one formatted log line.
type Callback func(level Level, message string)

// nopHandler is a slog.Handler that silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Nop returns a logger that discards everything.
//
// Returns:
//   - *slog.Logger: the silent logger
func Nop() *slog.Logger { return slog.New(nopHandler{}) }

// OrNop returns l, or a silent logger when l is nil.
//
// Parameters:
//   - l: the logger to check
//
// Returns:
//   - *slog.Logger: l or a no-op logger
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// callbackHandler forwards records to a Callback as "msg key=value ..." lines.
// The mutex serializes callback invocations; the callback may not be reentrant.
type callbackHandler struct {
	mu       *sync.Mutex
	callback Callback
	minLevel slog.Level
	// attrs carry the group prefix that was open when they were added.
	attrs  []slog.Attr
	groups []string
}

// NewCallbackHandler returns an slog.Handler that forwards records at or above minLevel to callback.
// A nil callback yields a handler that drops everything.
//
// Parameters:
//   - callback: the sink for formatted log lines
//   - minLevel: the lowest level forwarded
//
// Returns:
//   - slog.Handler: the adapter handler
func NewCallbackHandler(callback Callback, minLevel Level) slog.Handler {
	if callback == nil {
		return nopHandler{}
	}
	return &callbackHandler{
		mu:       &sync.Mutex{},
		callback: callback,
		minLevel: minLevel.Slog(),
	}
}

func (h *callbackHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *callbackHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	prefix := h.prefix()
	r.Attrs(func(a slog.Attr) bool {
		if !a.Equal(slog.Attr{}) {
			fmt.Fprintf(&b, " %s%s=%v", prefix, a.Key, a.Value.Resolve())
		}
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.callback(LevelFromSlog(r.Level), b.String())
	return nil
}

func (h *callbackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := h.prefix()
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if a.Equal(slog.Attr{}) {
			continue
		}
		clone.attrs = append(clone.attrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &clone
}

// prefix returns the dotted group path for attrs added now, e.g. "asset.".
func (h *callbackHandler) prefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

func (h *callbackHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}
