package redisq

import (
	"context"
	"graceq/internal/ports"
	"graceq/pkg/backoff"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Wakeups = (*Wakeups)(nil)

// Wakeups keeps armed triggers in a ZSET scored by fire time and polls it.
// A trigger is delivered by whichever poller removes it first.
type Wakeups struct {
	C          *Client
	Interval   time.Duration
	Batch      int64
	MaxBackoff time.Duration
}

func NewWakeups(c *Client, interval time.Duration) *Wakeups {
	return &Wakeups{C: c, Interval: interval, Batch: 128, MaxBackoff: 30 * time.Second}
}

func (w *Wakeups) Arm(ctx context.Context, id string, at time.Time) error {
	return unavailable(w.C.Rdb.ZAdd(ctx, w.C.wakeupKey(), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: id,
	}).Err())
}

func (w *Wakeups) Disarm(ctx context.Context, id string) error {
	return unavailable(w.C.Rdb.ZRem(ctx, w.C.wakeupKey(), id).Err())
}

func (w *Wakeups) Run(ctx context.Context, fire ports.FireFunc) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := w.fireDue(ctx, time.Now(), fire); err != nil {
			failures++
			wait := backoff.ExponentialJitter(w.Interval, w.MaxBackoff, failures)
			log.Ctx(ctx).Warn().Err(err).Dur("retry_in", wait).Msg("wakeup poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Wakeups) fireDue(ctx context.Context, now time.Time, fire ports.FireFunc) error {
	ids, err := w.C.Rdb.ZRangeByScore(ctx, w.C.wakeupKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: w.Batch,
	}).Result()
	if err != nil {
		return unavailable(err)
	}

	for _, id := range ids {
		n, err := w.C.Rdb.ZRem(ctx, w.C.wakeupKey(), id).Result()
		if err != nil {
			return unavailable(err)
		}
		if n == 1 {
			fire(ctx, id)
		}
	}
	return nil
}
