package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/catalog"
)

// Output formats for reports.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var errInvalidBackup = errors.New("backup is invalid")

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a backup file without importing it",
		Long: `Run the full validation pipeline against FILE for --user.

Schema, checksum, referential integrity and ownership are checked and every
finding is reported. The command exits non-zero when the backup has errors;
warnings alone do not fail it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !validOutput(output) {
				return fmt.Errorf("invalid output %q: must be text, json or yaml", output)
			}
			identity, err := opts.identity()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}

			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			report, err := env.backups.Validate(commandContext(cmd), identity, raw)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}

			if err := writeReport(cmd.OutOrStdout(), output, report); err != nil {
				return err
			}
			if !report.Valid {
				return errInvalidBackup
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", outputText, "Report format (text, json, yaml)")

	return cmd
}

func validOutput(output string) bool {
	return output == outputText || output == outputJSON || output == outputYAML
}

func writeReport(w io.Writer, output string, report *backup.ValidationReport) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case outputYAML:
		out, err := toYAML(report)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		printReport(w, report)
		return nil
	}
}

func printReport(w io.Writer, report *backup.ValidationReport) {
	if report.Valid {
		fmt.Fprintln(w, "Backup is valid")
	} else {
		fmt.Fprintln(w, "Backup is INVALID")
	}

	if md := report.Metadata; md != nil {
		fmt.Fprintf(w, "  App:      %s %s\n", md.App.Name, md.App.Version)
		fmt.Fprintf(w, "  Schema:   %s\n", md.SchemaVersion)
		fmt.Fprintf(w, "  Exported: %s\n", md.ExportedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(w, "  Owner:    %s\n", md.Owner.UserID)
	}

	fmt.Fprintf(w, "  Records:  %d\n", report.Preview.TotalRecords)
	for _, kind := range catalog.Kinds() {
		if n := report.Preview.RecordCounts[kind]; n > 0 {
			fmt.Fprintf(w, "    %-20s %d\n", kind, n)
		}
	}

	if len(report.Issues) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Issues (%d errors, %d warnings):\n", len(report.Errors()), len(report.Warnings()))
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Level, issue.Type, issue.Message)
	}
}

// toYAML renders v as block-style YAML keyed by its JSON field names.
func toYAML(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("convert report: %w", err)
	}
	clearStyle(&node)
	return yaml.Marshal(&node)
}

func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
