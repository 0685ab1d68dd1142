package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GrainArc/LayerSync/models"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the layer, area, picture and cleanup tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := models.Migrate(cmd.Context(), a.db); err != nil {
				return err
			}
			a.log.Info("schema up to date")
			return nil
		},
	}
}

func NewCleanupCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one pass over the due bucket deletions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = cfg.Cleanup.Limit
			}
			n, err := a.queue.ProcessDueJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d bucket(s)\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of buckets to delete (default cleanup.limit)")

	return cmd
}
