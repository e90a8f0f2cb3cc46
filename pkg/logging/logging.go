package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogLevel defines the severity of the log entry.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String makes LogLevel satisfy the fmt.Stringer interface.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SlogLevel converts a LogLevel to its slog.Level equivalent.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to INFO for unknown
	}
}

var (
	defaultLogger *slog.Logger
	journalSink   func(level LogLevel, subsystem, message string)
)

// InitForCLI initializes the logging system for direct output to writer,
// filtering anything below filterLevel. Should be called once at process
// startup, before any other logging call.
func InitForCLI(filterLevel LogLevel, output io.Writer) {
	opts := &slog.HandlerOptions{Level: filterLevel.SlogLevel()}
	handler := slog.NewTextHandler(output, opts)
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// EnableJournal registers a sink invoked for every enabled log record, in
// addition to the configured writer. EnableSystemdJournal (see
// pkg/logging/journal.go, Linux builds only) installs a systemd-journal
// sink through it; nothing in cmd/ calls either, so no sink is set unless
// a caller does.
func EnableJournal(sink func(level LogLevel, subsystem, message string)) {
	journalSink = sink
}

func logInternal(level LogLevel, subsystem string, err error, messageFmt string, args ...interface{}) {
	if defaultLogger == nil || !defaultLogger.Enabled(context.Background(), level.SlogLevel()) {
		return
	}

	msg := messageFmt
	if len(args) > 0 {
		msg = fmt.Sprintf(messageFmt, args...)
	}

	var slogAttrs []slog.Attr
	slogAttrs = append(slogAttrs, slog.String("subsystem", subsystem))
	if err != nil {
		slogAttrs = append(slogAttrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), level.SlogLevel(), msg, slogAttrs...)

	if journalSink != nil {
		journalMsg := msg
		if err != nil {
			journalMsg = fmt.Sprintf("%s: %v", msg, err)
		}
		journalSink(level, subsystem, journalMsg)
	}
}

// Debug logs a debug message.
func Debug(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelDebug, subsystem, nil, messageFmt, args...)
}

// Info logs an informational message.
func Info(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelInfo, subsystem, nil, messageFmt, args...)
}

// Warn logs a warning message.
func Warn(subsystem string, messageFmt string, args ...interface{}) {
	logInternal(LevelWarn, subsystem, nil, messageFmt, args...)
}

// Error logs an error message.
func Error(subsystem string, err error, messageFmt string, args ...interface{}) {
	logInternal(LevelError, subsystem, err, messageFmt, args...)
}

// TruncateID returns a truncated identifier for compact logging.
// Format: first 8 chars + "..." (e.g., "abc12345...").
func TruncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

// AuditEvent represents a structured audit log event for lifecycle
// transitions worth recording independently of ordinary debug traffic:
// module load/unload, service start/stop, activity launch.
type AuditEvent struct {
	// Action is the type of action being audited (e.g., "module_start").
	Action string
	// Outcome indicates whether the action succeeded or failed.
	Outcome string // "success" or "failure"
	// Target is the target of the action (e.g., module ID, service ID).
	Target string
	// Details provides additional context-specific information.
	Details string
	// Error contains the error message if Outcome is "failure".
	Error string
}

// Audit logs a structured audit event. Audit events are always logged at
// INFO level and include an [AUDIT] prefix so log aggregation can filter
// on them easily.
//
// Example output:
// [AUDIT] action=module_start outcome=success target=dicom-io
func Audit(event AuditEvent) {
	parts := make([]string, 0, 5)
	parts = append(parts, "action="+event.Action)
	parts = append(parts, "outcome="+event.Outcome)
	if event.Target != "" {
		parts = append(parts, "target="+event.Target)
	}
	if event.Details != "" {
		parts = append(parts, "details="+event.Details)
	}
	if event.Error != "" {
		parts = append(parts, "error="+event.Error)
	}

	logInternal(LevelInfo, "AUDIT", nil, "[AUDIT] %s", strings.Join(parts, " "))
}
