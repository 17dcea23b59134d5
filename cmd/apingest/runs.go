package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/apingest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the run history kept by a sqlite or postgres output",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		task, err := loadTask(v)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		runs, err := apingest.ListRuns(ctx, task)
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	},
}

func printRuns(w io.Writer, runs []apingest.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN ID\tTASK\tSTARTED\tDURATION\tPAGES\tROWS\tSTATUS")
	for _, r := range runs {
		duration := "-"
		status := "running"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			status = "ok"
			if r.Failed {
				status = "failed: " + r.Error
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.Task, r.StartedAt.Format(time.RFC3339), duration, r.Pages, r.Rows, status)
	}
	return tw.Flush()
}
