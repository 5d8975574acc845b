package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
	"github.com/tallyapp/tally-server/internal/store"
)

func newInspectCmd(opts *globalOptions) *cobra.Command {
	var refs bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show how many records of each kind a user owns",
		Long: `Show how many records of each kind a user owns.

With --refs (the default) every record is loaded to count foreign keys whose
target is missing. --refs=false only counts records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := opts.identity()
			if err != nil {
				return err
			}

			env, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := commandContext(cmd)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Store:  %s (%s)\n", env.cfg.StorePath(), env.cfg.Storage.Driver)
			fmt.Fprintf(w, "Owner:  %s\n", identity.UserID)
			fmt.Fprintf(w, "Concurrent writes: %t\n\n", store.AllowsConcurrentWrites(env.store))

			counts := make(map[catalog.Kind]int, len(catalog.All()))
			for _, kind := range catalog.Kinds() {
				n, err := store.CountRecords(ctx, env.store, kind, identity.UserID)
				if err != nil {
					return fmt.Errorf("count %s: %w", kind, err)
				}
				counts[kind] = n
			}

			var dangling map[catalog.Kind]int
			if refs {
				data := make(map[catalog.Kind][]domain.Record, len(counts))
				for _, kind := range catalog.Kinds() {
					records, err := env.store.List(ctx, kind, identity.UserID)
					if err != nil {
						return fmt.Errorf("list %s: %w", kind, err)
					}
					data[kind] = records
				}
				dangling = make(map[catalog.Kind]int)
				for _, ref := range backup.FindDanglingRefs(data) {
					dangling[ref.Kind]++
				}
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tRECORDS\tDANGLING REFS")
			total := 0
			for _, kind := range catalog.Kinds() {
				col := "-"
				if dangling != nil {
					col = strconv.Itoa(dangling[kind])
				}
				total += counts[kind]
				fmt.Fprintf(tw, "%s\t%d\t%s\n", kind, counts[kind], col)
			}
			fmt.Fprintf(tw, "total\t%d\t\n", total)
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&refs, "refs", true, "Load records and count dangling foreign keys")

	return cmd
}
