package redisq

import (
	"context"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ ports.CounterStore = (*Counters)(nil)

// Counters keeps the aggregates in one hash, mutated with HINCRBY only.
type Counters struct {
	C *Client
}

func (c *Counters) Add(ctx context.Context, d domain.Counters) error {
	if d.IsZero() {
		return nil
	}
	key := c.C.countersKey()
	_, err := c.C.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr := func(field string, n int64) {
			if n != 0 {
				p.HIncrBy(ctx, key, field, n)
			}
		}
		incr("submitted", d.Submitted)
		incr("cancelled", d.Cancelled)
		incr("fired", d.Fired)
		incr("expired", d.Expired)
		incr("time_saved_ms", d.TimeSaved.Milliseconds())
		return nil
	})
	return unavailable(err)
}

func (c *Counters) Snapshot(ctx context.Context) (domain.Counters, error) {
	h, err := c.C.Rdb.HGetAll(ctx, c.C.countersKey()).Result()
	if err != nil {
		return domain.Counters{}, unavailable(err)
	}
	n := func(field string) int64 {
		v, _ := strconv.ParseInt(h[field], 10, 64)
		return v
	}
	return domain.Counters{
		Submitted: n("submitted"),
		Cancelled: n("cancelled"),
		Fired:     n("fired"),
		Expired:   n("expired"),
		TimeSaved: time.Duration(n("time_saved_ms")) * time.Millisecond,
	}, nil
}
