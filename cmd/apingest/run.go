package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/apingest"
	"github.com/loykin/apingest/internal/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the task once and write its rows to the configured output",
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	task, err := loadTask(v)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := apingest.Ingest(ctx, task, runName(v, name))
	if err != nil {
		return err
	}
	common.GetLogger().WithComponent("main").WithRun(run.ID).Info("done", "pages", run.Pages, "rows", run.Rows, "output", task.Output.Type)
	return nil
}
