package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitForCLIFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelWarn, &buf)

	Debug("Test", "debug message")
	Info("Test", "info message")
	Warn("Test", "warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestErrorIncludesErrAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Error("ModuleLoader", errors.New("boom"), "failed to load %s", "dicom-io")

	out := buf.String()
	require.Contains(t, out, "failed to load dicom-io")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "subsystem=ModuleLoader")
}

func TestJournalSinkInvokedAlongsideWriter(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	var captured []string
	EnableJournal(func(level LogLevel, subsystem, message string) {
		captured = append(captured, subsystem+":"+message)
	})
	t.Cleanup(func() { EnableJournal(nil) })

	Info("Worker", "started")

	require.Len(t, captured, 1)
	assert.True(t, strings.HasPrefix(captured[0], "Worker:started"))
}

func TestAuditFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Audit(AuditEvent{Action: "module_start", Outcome: "success", Target: "dicom-io"})

	out := buf.String()
	assert.Contains(t, out, "[AUDIT] action=module_start outcome=success target=dicom-io")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", TruncateID("short"))
	assert.Equal(t, "abc12345...", TruncateID("abc12345-6789-uuid"))
}
