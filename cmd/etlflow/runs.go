package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmrzaf/etlflow/internal/app"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}

	var (
		limit  int
		status string
		format string
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runRepo, err := openRunRepo()
			if err != nil {
				return err
			}
			defer runRepo.Close()

			list, err := runRepo.List(cmd.Context(), limit, status)
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(list)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFLOW\tSTATUS\tIMPORTED\tSKIPPED\tERRORS\tSTARTED")
			for _, r := range list {
				id := r.ID
				if len(id) > 8 {
					id = id[:8]
				}
				started := "-"
				if r.StartedAt != nil {
					started = r.StartedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					id, r.FlowName, r.Status, r.ImportedRows, r.SkippedRows, r.ErrorCount, started)
			}
			w.Flush()
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Limit results")
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")

	showCmd := &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runRepo, err := openRunRepo()
			if err != nil {
				return err
			}
			defer runRepo.Close()

			run, err := runRepo.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printYAML(run)
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Entity store utilities",
	}

	var timeout time.Duration
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the entity store and create missing tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			svc := app.NewRunService(cfg, nil, nil, catalog, nil, nil)
			check, err := svc.CheckStore(ctx)
			if check != nil {
				if perr := printJSON(check); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	checkCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Connection timeout")

	cmd.AddCommand(checkCmd)
	return cmd
}
