package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally-server/internal/backup"
)

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		out    string
		format string
		notes  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's records to a backup file",
		Long: `Export every record owned by --user into a single backup document.

The JSON format is one self-describing document. The zip format holds a
manifest plus one JSON Lines file per entity kind and imports the same way.
Without --out the document is written to standard output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := backup.Format(format)
			if f != backup.FormatJSON && f != backup.FormatZip {
				return fmt.Errorf("invalid format %q: must be json or zip", format)
			}
			identity, err := opts.identity()
			if err != nil {
				return err
			}

			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			file, err := env.backups.Export(commandContext(cmd), identity, notes)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				fh, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer fh.Close()
				w = fh
			}

			written := file.Data.TotalRecords()
			if f == backup.FormatZip {
				written, err = backup.WriteArchive(w, file)
			} else {
				err = backup.EncodeJSON(w, file)
			}
			if err != nil {
				return fmt.Errorf("write backup: %w", err)
			}

			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", written, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&format, "format", string(backup.FormatJSON), "Output format (json, zip)")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes stored in the backup metadata")

	return cmd
}
