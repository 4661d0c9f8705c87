package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmrzaf/etlflow/internal/app"
	"github.com/mmrzaf/etlflow/internal/domain"
)

const maxPrintedErrors = 20

type runFlags struct {
	chunkSize          int
	errorPolicy        string
	skipEmptyRows      bool
	truncateLongFields bool
	dryRun             bool
	format             string
	source             string
	output             string
	quiet              bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Rows per chunk")
	cmd.Flags().StringVar(&f.errorPolicy, "error-policy", "", "Error policy (stop|continue)")
	cmd.Flags().BoolVar(&f.skipEmptyRows, "skip-empty-rows", true, "Skip rows whose values are all blank")
	cmd.Flags().BoolVar(&f.truncateLongFields, "truncate-long-fields", false, "Truncate values longer than the field max length")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Process against an in-memory store")
	cmd.Flags().StringVar(&f.format, "format", "", "Force the file kind (csv|text|spreadsheet|json|xml)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "table", "Output format (table|json)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Do not print progress")
}

func (f *runFlags) options(cmd *cobra.Command) app.ProcessOptions {
	opts := app.ProcessOptions{
		SourcePath:  f.source,
		Format:      domain.FileKind(f.format),
		DryRun:      f.dryRun,
		ErrorPolicy: domain.ErrorPolicy(f.errorPolicy),
	}
	if cmd.Flags().Changed("chunk-size") {
		opts.ChunkSize = &f.chunkSize
	}
	if cmd.Flags().Changed("skip-empty-rows") {
		opts.SkipEmptyRows = &f.skipEmptyRows
	}
	if cmd.Flags().Changed("truncate-long-fields") {
		opts.TruncateLongFields = &f.truncateLongFields
	}
	if !f.quiet && f.output != "json" {
		opts.Progress = func(run domain.FlowRun) {
			fmt.Fprintf(os.Stderr, "\r%6.2f%%  imported=%d skipped=%d errors=%d",
				run.Progress, run.ImportedRows, run.SkippedRows, run.ErrorCount)
		}
	}
	return opts
}

func processCmd() *cobra.Command {
	var (
		flags   runFlags
		mapping string
	)
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Import a file with a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mapping == "" {
				return fmt.Errorf("--mapping is required")
			}
			svc, runRepo, err := newService(true)
			if err != nil {
				return err
			}
			defer runRepo.Close()

			def, err := svc.ResolveMapping(mapping)
			if err != nil {
				return err
			}
			flow := svc.FlowForFile(args[0], def)
			return execute(cmd, svc, flow, flags)
		},
	}
	cmd.Flags().StringVarP(&mapping, "mapping", "m", "", "Mapping file path or name")
	flags.register(cmd)
	return cmd
}

func execute(cmd *cobra.Command, svc *app.RunService, flow *domain.Flow, flags runFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := svc.Process(ctx, flow, flags.options(cmd))
	if err != nil {
		return err
	}
	if !flags.quiet && flags.output != "json" {
		fmt.Fprintln(os.Stderr)
	}
	if flags.output == "json" {
		if err := printJSON(run); err != nil {
			return err
		}
	} else {
		printRun(run)
	}
	return runOutcome(run)
}

// runOutcome turns a finished run into the command's exit status.
func runOutcome(run domain.FlowRun) error {
	if cancelled, _ := run.Metadata["cancelled"].(bool); cancelled {
		return fmt.Errorf("run %s cancelled", run.ID)
	}
	switch {
	case run.Status == domain.RunStatusFailed:
		return fmt.Errorf("run %s failed", run.ID)
	case run.ErrorCount > 0:
		return fmt.Errorf("run %s finished with %d errors", run.ID, run.ErrorCount)
	}
	return nil
}

func printRun(run domain.FlowRun) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	fmt.Fprintf(w, "Flow:\t%s\n", run.FlowName)
	fmt.Fprintf(w, "Source:\t%s\n", run.Source)
	fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	fmt.Fprintf(w, "Rows:\t%d total, %d imported, %d skipped\n", run.TotalRows, run.ImportedRows, run.SkippedRows)
	if len(run.SkipReasons) > 0 {
		reasons := make([]string, 0, len(run.SkipReasons))
		for reason := range run.SkipReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		parts := make([]string, 0, len(reasons))
		for _, reason := range reasons {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, run.SkipReasons[reason]))
		}
		fmt.Fprintf(w, "Skipped:\t%s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "Errors:\t%d\n", run.ErrorCount)
	fmt.Fprintf(w, "Warnings:\t%d\n", len(run.Warnings))
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(w, "Duration:\t%.2fs\n", d.Seconds())
	}
	w.Flush()

	for i, e := range run.Errors {
		if i == maxPrintedErrors {
			fmt.Printf("... %d more errors\n", len(run.Errors)-maxPrintedErrors)
			break
		}
		if e.Row != nil {
			fmt.Printf("  row %d: %s\n", *e.Row, e.Message)
		} else {
			fmt.Printf("  %s\n", e.Message)
		}
	}
}
