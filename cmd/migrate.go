package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/sc2-map-indexer/internal/app"
)

// newMigrateCmd creates the 'migrate' subcommand.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the map index tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.NewStore(cmd.Context(), rt.cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			rt.logger.Info("schema applied")
			return nil
		},
	}
}
