//go:build linux

package logging

import "github.com/coreos/go-systemd/v22/journal"

// EnableSystemdJournal mirrors every log record to the systemd journal
// under the given unit-friendly syslog identifier, in addition to
// whatever writer InitForCLI was given. It is a no-op (but harmless) when
// the process is not running under systemd — journal.Enabled() reports
// that case and we simply never install the sink.
func EnableSystemdJournal(syslogIdentifier string) {
	if !journal.Enabled() {
		return
	}
	EnableJournal(func(level LogLevel, subsystem, message string) {
		_ = journal.Send(message, journalPriority(level), map[string]string{
			"SYSLOG_IDENTIFIER": syslogIdentifier,
			"SUBSYSTEM":         subsystem,
		})
	})
}

func journalPriority(level LogLevel) journal.Priority {
	switch level {
	case LevelDebug:
		return journal.PriDebug
	case LevelInfo:
		return journal.PriInfo
	case LevelWarn:
		return journal.PriWarning
	case LevelError:
		return journal.PriErr
	default:
		return journal.PriInfo
	}
}
