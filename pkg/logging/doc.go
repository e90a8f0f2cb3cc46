// Package logging provides the structured, subsystem-tagged logging used
// throughout the service runtime: the module loader, configuration engine,
// worker pool, signal bus and service lifecycle all report through here
// rather than writing to stdout directly.
//
// # Log levels
//
//   - Debug: detailed information for debugging and development
//   - Info: general informational messages about runtime operation
//   - Warn: warning messages that indicate potential issues
//   - Error: error messages for failures and exceptional conditions
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//	logging.Info("ModuleLoader", "loaded module %s", moduleID)
//	logging.Error("ConfigEngine", err, "failed to instantiate service %s", uid)
//
// # systemd journal sink
//
// On Linux builds, calling EnableSystemdJournal additionally mirrors every
// record to the systemd journal (via github.com/coreos/go-systemd/v22/journal)
// when the process is running under a unit, so module load failures show
// up in `journalctl -u <unit>`. When the journal is unavailable it installs
// no sink and logging goes to the configured writer only. EnableSystemdJournal
// is not defined on non-Linux builds.
package logging
