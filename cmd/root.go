package cmd

import (
	"context"
	"graceq/internal/config"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Run() {
	var command = &cobra.Command{
		Use:   "graceq",
		Short: "Delayed, cancellable action scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(serveCmd())
	command.AddCommand(sweepCmd())
	command.AddCommand(statsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.ExecuteContext(ctx); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}

// setup loads the config and installs the process logger on ctx.
func setup(ctx context.Context) (context.Context, *config.Config) {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.DefaultContextLogger = &log.Logger

	return log.Logger.WithContext(ctx), cfg
}
