package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmrzaf/etlflow/internal/app"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/profile"
)

func sanitizerFlag(cmd *cobra.Command, enabled *bool) {
	cmd.Flags().BoolVar(enabled, "sanitize", true, "Sanitize the file before detection")
}

func sanitizerConfig(enabled bool) *domain.SanitizerConfig {
	if !enabled {
		return nil
	}
	san := domain.DefaultSanitizerConfig()
	return &san
}

func formatOverride(kind string) *domain.FormatConfig {
	if kind == "" {
		return nil
	}
	return &domain.FormatConfig{Kind: domain.FileKind(kind)}
}

func detectCmd() *cobra.Command {
	var (
		sanitize bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Detect the format of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := app.Inspect(args[0], sanitizerConfig(sanitize), nil)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(in.Format)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Type:\t%s\n", in.Format.Kind)
			fmt.Fprintf(w, "Encoding:\t%s\n", in.Format.Encoding)
			if in.Format.Delimiter != "" {
				fmt.Fprintf(w, "Delimiter:\t%q\n", in.Format.Delimiter)
				fmt.Fprintf(w, "Quote:\t%s\n", in.Format.Quote)
				fmt.Fprintf(w, "Header:\t%t\n", in.Format.HasHeader)
			}
			w.Flush()
			return nil
		},
	}
	sanitizerFlag(cmd, &sanitize)
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table|json)")
	return cmd
}

func sanitizeCmd() *cobra.Command {
	var (
		out    string
		report bool
	)
	cmd := &cobra.Command{
		Use:   "sanitize <file>",
		Short: "Clean BOMs, control characters and newlines from a text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := app.Inspect(args[0], sanitizerConfig(true), nil)
			if err != nil {
				return err
			}
			if in.Report == nil {
				return fmt.Errorf("%s is a spreadsheet and is not sanitized", args[0])
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(in.Sanitized), 0o644); err != nil {
					return err
				}
			} else if !report {
				fmt.Print(in.Sanitized)
			}
			if report || out != "" {
				return printJSON(in.Report)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "O", "", "Write the cleaned content to this file")
	cmd.Flags().BoolVar(&report, "report", false, "Print only the sanitization report")
	return cmd
}

func profileCmd() *cobra.Command {
	var (
		sanitize bool
		kind     string
		sheet    string
		limit    int
		draft    string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "profile <file>",
		Short: "Infer the column schema of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			override := formatOverride(kind)
			if sheet != "" {
				if override == nil {
					override = &domain.FormatConfig{}
				}
				override.Sheet = sheet
			}
			in, err := app.Inspect(args[0], sanitizerConfig(sanitize), override)
			if err != nil {
				return err
			}
			schema, err := in.Profile(override, limit)
			if err != nil {
				return err
			}
			if draft != "" {
				return printYAML(profile.DraftMapping(schema, draft))
			}
			if output == "json" {
				return printJSON(in)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COLUMN\tTYPE\tNULLABLE\tSAMPLES")
			for _, c := range schema.Columns {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", c.Name, c.Type, c.Nullable, strings.Join(c.Samples, ", "))
			}
			w.Flush()
			return nil
		},
	}
	sanitizerFlag(cmd, &sanitize)
	cmd.Flags().StringVar(&kind, "format", "", "Force the file kind")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Spreadsheet sheet name")
	cmd.Flags().IntVar(&limit, "limit", profile.DefaultSampleRows, "Rows to sample")
	cmd.Flags().StringVar(&draft, "draft-mapping", "", "Print a draft mapping for this model instead")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table|json)")
	return cmd
}
