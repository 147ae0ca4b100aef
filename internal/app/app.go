package app

import (
	"context"
	"errors"
	"graceq/internal/api"
	"graceq/internal/config"
	"graceq/internal/infra/memory"
	"graceq/internal/infra/redisq"
	"graceq/internal/infra/timer"
	"graceq/internal/ports"
	"graceq/internal/session"
	"graceq/internal/usecase"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Runtime holds the wired components of one scheduler process.
type Runtime struct {
	Scheduler *usecase.Scheduler
	Settings  ports.SettingsStore
	Hub       *session.Hub

	redis *redisq.Client
}

func Build(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Hub: session.NewHub(cfg.HTTP.AllowedOrigins)}

	var (
		store    ports.Store
		counters ports.CounterStore
		wakeups  ports.Wakeups
	)
	defaults := cfg.Defaults.Settings()

	switch cfg.Scheduler.Store {
	case "memory":
		log.Ctx(ctx).Warn().Msg("using in-memory store, actions will not survive a restart")
		m := memory.New(defaults)
		store, counters, rt.Settings = m, m, m
	default:
		cli := redisq.New(cfg.Redis)
		if err := cli.Connect(ctx); err != nil {
			return nil, err
		}
		rt.redis = cli
		store = cli
		counters = &redisq.Counters{C: cli}
		rt.Settings = &redisq.Settings{C: cli, Defaults: defaults}
	}

	switch cfg.Scheduler.Wakeups {
	case "timer":
		wakeups = timer.NewService(1024)
	default:
		if rt.redis == nil {
			return nil, errors.New("redis wakeups need the redis store")
		}
		wakeups = redisq.NewWakeups(rt.redis, cfg.Scheduler.PollInterval)
	}

	rt.Scheduler = &usecase.Scheduler{
		Store:    store,
		Counters: counters,
		Settings: rt.Settings,
		Wakeups:  wakeups,
		Dispatcher: &usecase.Dispatcher{
			Store:         store,
			Counters:      counters,
			Locator:       usecase.NewLocator(rt.Hub),
			Notifier:      rt.Hub,
			Reporter:      rt.Hub,
			TargetTimeout: cfg.Scheduler.TargetTimeout,
			Retention:     cfg.Scheduler.Retention,
		},
		Notifier:      rt.Hub,
		Reporter:      rt.Hub,
		Location:      loc,
		SweepInterval: cfg.Scheduler.SweepInterval,
		Retention:     cfg.Scheduler.Retention,
		ClaimTTL:      cfg.Scheduler.ClaimTTL,
		TargetGrace:   cfg.Scheduler.TargetGrace,
	}
	return rt, nil
}

func (rt *Runtime) Close() error {
	if rt.redis != nil {
		return rt.redis.Close()
	}
	return nil
}

// Serve runs the scheduler and the HTTP API until ctx is done.
func Serve(ctx context.Context, cfg *config.Config, port int) error {
	rt, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	server := api.NewServer(rt.Scheduler, rt.Settings, rt.Hub, cfg.HTTP.AllowedOrigins)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := rt.Scheduler.Run(gctx); err != nil {
			log.Ctx(gctx).Error().Err(err).Msg("scheduler stopped with error")
			return err
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx, port)
	})
	return g.Wait()
}

// SweepOnce re-arms outstanding actions and purges old terminal ones. It
// never executes anything: live sessions belong to the serving process.
func SweepOnce(ctx context.Context, cfg *config.Config) (rearmed, removed int, err error) {
	rt, err := Build(ctx, cfg)
	if err != nil {
		return 0, 0, err
	}
	defer rt.Close()

	if cfg.Scheduler.Wakeups == "timer" {
		log.Ctx(ctx).Warn().Msg("in-process wakeups do not outlive this command, nothing is re-armed")
	} else if rearmed, err = rt.Scheduler.Rearm(ctx); err != nil {
		return rearmed, 0, err
	}
	removed, err = rt.Scheduler.Purge(ctx)
	return rearmed, removed, err
}
