package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"muster/internal/app"
	"muster/internal/metrics"
	"muster/pkg/logging"
)

var (
	runParams      []string
	runMetricsAddr string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config_id>",
		Short: "Load module plugins and run an application configuration",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().StringArrayVar(&runParams, "param", nil, "configuration parameter as name=value (repeatable)")
	cmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. 127.0.0.1:9090); unset disables the endpoint")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	configID := args[0]
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	if runMetricsAddr != "" {
		serveMetrics(runMetricsAddr)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " loading modules..."
	s.Start()
	application, err := app.NewApplication(app.ConfigFromEnv())
	s.Stop()
	if err != nil {
		return err
	}

	loadedID, err := application.RunConfig(configID, params)
	if err != nil {
		_ = application.Shutdown()
		return err
	}

	logging.Audit(logging.AuditEvent{Action: "config_run", Outcome: "success", Target: loadedID})
	fmt.Fprintf(cmd.OutOrStdout(), "configuration %s is running\n", loadedID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return application.Shutdown()
}

// serveMetrics starts the Prometheus exposition endpoint in the
// background, alongside the main command.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Error("cmd", err, "metrics server stopped")
		}
	}()
	logging.Info("cmd", "metrics endpoint listening on http://%s/metrics", addr)
}

// parseParams turns a list of "name=value" strings into a parameter map.
func parseParams(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(raw))
	for _, p := range raw {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q: expected name=value", p)
		}
		params[name] = value
	}
	return params, nil
}
