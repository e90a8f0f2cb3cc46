package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"muster/internal/app"
	"muster/pkg/strings"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func newListModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-modules",
		Short: "List every module discovered and loaded from the module search path",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.ConfigFromEnv())
			if err != nil {
				return err
			}
			defer application.Shutdown()

			t := newTable()
			t.AppendHeader(table.Row{"ID", "STARTED"})
			for _, id := range application.ListModules() {
				t.AppendRow(table.Row{id, application.Modules.IsStarted(id)})
			}
			t.Render()
			return nil
		},
	}
}

func newListConfigsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-configs",
		Short: "List every configuration document discoverable from the resource root path",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(app.ConfigFromEnv())
			if err != nil {
				return err
			}
			defer application.Shutdown()

			docs, err := application.ListConfigs()
			if err != nil {
				return err
			}

			t := newTable()
			t.AppendHeader(table.Row{"ID", "PATH"})
			for _, d := range docs {
				t.AppendRow(table.Row{d.ID, strings.TruncateDescription(d.Path, strings.DefaultDescriptionMaxLen)})
			}
			t.Render()
			return nil
		},
	}
}
