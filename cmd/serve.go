package cmd

import (
	"graceq/internal/app"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg := setup(cmd.Context())
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}
			log.Ctx(ctx).Info().
				Str("store", cfg.Scheduler.Store).
				Str("wakeups", cfg.Scheduler.Wakeups).
				Msg("starting scheduler")
			return app.Serve(ctx, cfg, cfg.HTTP.Port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
