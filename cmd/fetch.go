package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sc2-map-indexer/internal/app"
)

// newFetchCmd creates the 'fetch' subcommand, a debugging aid for the depot cache.
func newFetchCmd() *cobra.Command {
	var headOnly bool
	cmd := &cobra.Command{
		Use:   "fetch <region> <filename>",
		Short: "Fetch one depot asset into the local cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cache, err := app.NewDepot(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			region, filename := args[0], args[1]
			out := cmd.OutOrStdout()

			if headOnly {
				meta, err := cache.RetrieveHeadOnly(cmd.Context(), region, filename)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "size=%d last_modified=%s content_type=%s\n",
					meta.Size, meta.LastModified.Format(time.RFC3339), meta.ContentType)
				return nil
			}
			path, err := cache.GetOrFetch(cmd.Context(), region, filename)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&headOnly, "head", false, "only probe metadata, do not download")
	return cmd
}
