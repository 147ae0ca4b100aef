package cmd

import (
	"graceq/internal/app"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-arm pending actions and purge old ones, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg := setup(cmd.Context())
			rearmed, removed, err := app.SweepOnce(ctx, cfg)
			if err != nil {
				return err
			}
			log.Ctx(ctx).Info().
				Int("rearmed", rearmed).
				Int("removed", removed).
				Msg("sweep finished")
			return nil
		},
	}
}
