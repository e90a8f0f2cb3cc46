// Package cmd implements the reference CLI driver: "run <config_id>
// [--param name=value ...]", "list-modules", "list-configs", with exit
// codes 0/1/2/3 for success, configuration error, module load error,
// and runtime fatal.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"muster/internal/runtimeerrors"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess            = 0
	ExitCodeConfigurationError = 1
	ExitCodeModuleLoadError    = 2
	ExitCodeRuntimeFatal       = 3
)

var rootCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Drive the service runtime from an XML application configuration",
	Long: `runtime loads module plugins, instantiates an application
configuration into a live graph of objects, services, signals and slots,
and runs it until stopped.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command; called from
// main.main() with a build-time-injected value.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits the process with a code
// matching the error's kind.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "runtime version %s\n" .Version}}`)
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error's runtimeerrors.Kind to the driver's exit
// code.
func exitCodeFor(err error) int {
	switch runtimeerrors.KindOf(err) {
	case runtimeerrors.KindConfigurationInvalid, runtimeerrors.KindTypeMismatch, runtimeerrors.KindNotFound, runtimeerrors.KindCancelled:
		return ExitCodeConfigurationError
	case runtimeerrors.KindResourceUnavailable:
		return ExitCodeModuleLoadError
	default:
		return ExitCodeRuntimeFatal
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListModulesCmd())
	rootCmd.AddCommand(newListConfigsCmd())
}
