package redisq

import (
	"context"
	"fmt"
	"graceq/internal/config"
	"graceq/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return unavailable(fmt.Errorf("redis connection failed: %w", err))
	}
	log.Ctx(ctx).Info().Str("prefix", c.Cfg.KeyPrefix).Msg("connected to redis")
	return nil
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}

func (c *Client) actionKey(id string) string { return c.Cfg.KeyPrefix + "action:" + id }
func (c *Client) pendingKey() string         { return c.Cfg.KeyPrefix + "pending" }
func (c *Client) terminalKey() string        { return c.Cfg.KeyPrefix + "terminal" }
func (c *Client) wakeupKey() string          { return c.Cfg.KeyPrefix + "wakeups" }
func (c *Client) countersKey() string        { return c.Cfg.KeyPrefix + "counters" }
func (c *Client) settingsKey() string        { return c.Cfg.KeyPrefix + "settings" }

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
