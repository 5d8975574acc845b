package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/catalog"
)

var errImportFailed = errors.New("import did not complete")

func newImportCmd(opts *globalOptions) *cobra.Command {
	var (
		strategy    string
		dryRun      bool
		chunkSize   int
		concurrency int
		output      string
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a backup file into a user's records",
		Long: `Validate FILE for --user and apply it to the store.

Strategies:
  merge   - upsert records by id, nothing is deleted (default)
  replace - delete every record the user owns, then insert the backup

Use --dry-run to see what would change without writing anything.`,
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

			result, err := env.backups.Import(commandContext(cmd), identity, raw, backup.ImportOptions{
				Strategy:    backup.Strategy(strategy),
				DryRun:      dryRun,
				ChunkSize:   chunkSize,
				Concurrency: concurrency,
			})
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			if err := writeImportResult(cmd.OutOrStdout(), output, result); err != nil {
				return err
			}
			if !result.Success {
				return errImportFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", string(backup.StrategyMerge), "Import strategy (merge, replace)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Records per write batch (default: configured chunk size)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel batches for stores that support it")
	cmd.Flags().StringVar(&output, "output", outputText, "Result format (text, json, yaml)")

	return cmd
}

func writeImportResult(w io.Writer, output string, result *backup.ImportResult) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case outputYAML:
		out, err := toYAML(result)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return printImportResult(w, result)
	}
}

func printImportResult(w io.Writer, result *backup.ImportResult) error {
	mode := "Import"
	if result.DryRun {
		mode = "Dry run"
	}
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "%s (%s) %s in %s\n\n", mode, result.Strategy, status, result.Duration)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tCREATED\tUPDATED\tDELETED\tSKIPPED\tERRORS")
	s := result.Summary
	for _, kind := range catalog.Kinds() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
			kind, s.Created[kind], s.Updated[kind], s.Deleted[kind], s.Skipped[kind], s.Errors[kind])
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t%d\t%d\n",
		backup.Total(s.Created), backup.Total(s.Updated), backup.Total(s.Deleted),
		backup.Total(s.Skipped), backup.Total(s.Errors))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, msg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
	return nil
}
