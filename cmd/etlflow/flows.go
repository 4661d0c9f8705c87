package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmrzaf/etlflow/internal/app"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/repos/flows"
)

func looksLikePath(ref string) bool {
	switch filepath.Ext(ref) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return strings.Contains(ref, "/")
}

func loadFlow(svc *app.RunService, ref string) (*domain.Flow, error) {
	if looksLikePath(ref) {
		return flows.LoadFlowFile(ref)
	}
	return svc.GetFlow(ref)
}

func flowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flows",
	}

	var runOpts runFlags
	runCmd := &cobra.Command{
		Use:   "run <id|path>",
		Short: "Run a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, runRepo, err := newService(true)
			if err != nil {
				return err
			}
			defer runRepo.Close()

			flow, err := loadFlow(svc, args[0])
			if err != nil {
				return err
			}
			return execute(cmd, svc, flow, runOpts)
		},
	}
	runOpts.register(runCmd)
	runCmd.Flags().StringVar(&runOpts.source, "source", "", "Override the flow's source path")

	validateCmd := &cobra.Command{
		Use:   "validate <id|path>",
		Short: "Validate a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService(false)
			if err != nil {
				return err
			}
			flow, err := loadFlow(svc, args[0])
			if err != nil {
				return err
			}
			if err := svc.ValidateFlow(flow); err != nil {
				fmt.Printf("Validation failed: %v\n", err)
				return err
			}
			fmt.Printf("Flow '%s' is valid\n", flow.Name)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id|path>",
		Short: "Show flow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService(false)
			if err != nil {
				return err
			}
			flow, err := loadFlow(svc, args[0])
			if err != nil {
				return err
			}
			return printYAML(flow)
		},
	}

	var format string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := flows.NewFileRepository(cfg.FlowsDir, cfg.MappingsDir).List()
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(list)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSOURCE\tENTITIES")
			for _, f := range list {
				entities := 0
				if f.Mapping.Definition != nil {
					entities = len(f.Mapping.Definition.Mappings)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", f.ID, f.Name, f.SourceConfig.Path, entities)
			}
			w.Flush()
			return nil
		},
	}
	listCmd.Flags().StringVar(&format, "format", "table", "Output format (table|json)")

	cmd.AddCommand(runCmd, validateCmd, showCmd, listCmd)
	return cmd
}

func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect mappings",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <name|path>",
		Short: "Validate a mapping against the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService(false)
			if err != nil {
				return err
			}
			def, err := svc.ResolveMapping(args[0])
			if err != nil {
				return err
			}
			if err := svc.ValidateMapping(def); err != nil {
				fmt.Printf("Validation failed: %v\n", err)
				return err
			}
			models := make([]string, 0, len(def.Mappings))
			for _, m := range def.Ordered() {
				models = append(models, m.Model)
			}
			fmt.Printf("Execution order: %s\n", strings.Join(models, " -> "))
			fmt.Printf("Mapping '%s' is valid\n", def.Name)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <name|path>",
		Short: "Show a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService(false)
			if err != nil {
				return err
			}
			def, err := svc.ResolveMapping(args[0])
			if err != nil {
				return err
			}
			return printYAML(def)
		},
	}

	cmd.AddCommand(validateCmd, showCmd)
	return cmd
}
