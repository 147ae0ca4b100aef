package cmd

import (
	"encoding/json"
	"graceq/internal/app"
	"time"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the aggregate counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg := setup(cmd.Context())
			rt, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := rt.Scheduler.Snapshot(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"submitted":          c.Submitted,
				"cancelled":          c.Cancelled,
				"fired":              c.Fired,
				"expired":            c.Expired,
				"time_saved_seconds": int64(c.TimeSaved / time.Second),
			})
		},
	}
}
