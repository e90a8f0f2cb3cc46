// Package app bootstraps the service runtime into a runnable process:
// it wires the ID registry, type registry, object registry, factory,
// configuration engine, module loader, and activity orchestrator
// together and exposes the operations the reference CLI driver needs.
// Bootstrap is two-phase: load the environment configuration, then
// initialize the runtime from it.
package app

import (
	"os"
	"strings"

	"muster/pkg/logging"
)

// Config holds the process-wide environment overrides: the module
// search path list, the resource root path list, and the log level.
type Config struct {
	// ModuleRoots lists directories Discover walks for module.yaml
	// manifests.
	ModuleRoots []string
	// ConfigRoots lists directories RunConfig searches for the *.xml
	// document whose root element declares id="<config_id>"; the file
	// name itself is not matched.
	ConfigRoots []string
	// LogLevel filters what InitForCLI emits.
	LogLevel logging.LogLevel
}

const (
	envModulePath   = "MUSTER_MODULE_PATH"
	envResourcePath = "MUSTER_RESOURCE_PATH"
	envLogLevel     = "MUSTER_LOG_LEVEL"
)

// ConfigFromEnv builds a Config from the process environment, falling
// back to sane defaults when unset.
func ConfigFromEnv() Config {
	cfg := Config{
		ModuleRoots: splitPathList(os.Getenv(envModulePath)),
		ConfigRoots: splitPathList(os.Getenv(envResourcePath)),
		LogLevel:    parseLogLevel(os.Getenv(envLogLevel)),
	}
	if len(cfg.ModuleRoots) == 0 {
		cfg.ModuleRoots = []string{"./modules"}
	}
	if len(cfg.ConfigRoots) == 0 {
		cfg.ConfigRoots = []string{"./configs"}
	}
	return cfg
}

func splitPathList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, string(os.PathListSeparator)) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(v string) logging.LogLevel {
	switch strings.ToLower(v) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
