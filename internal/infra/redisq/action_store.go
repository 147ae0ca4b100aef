package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ ports.Store = (*Client)(nil)

// transitionScript moves a pending action to a terminal state.
// KEYS: action hash, pending zset, terminal zset.
// ARGV: id, state, now ms, guard (any|unclaimed|stale), claimed-before ms.
var transitionScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'pending' then return 0 end
local claimed = tonumber(redis.call('HGET', KEYS[1], 'claimed_at') or '0') or 0
local guard = ARGV[4]
if guard == 'unclaimed' and claimed ~= 0 then return 0 end
if guard == 'stale' and (claimed == 0 or claimed > tonumber(ARGV[5])) then return 0 end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// claimScript stamps claimed_at on a pending, unclaimed action.
var claimScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'pending' then return 0 end
local claimed = tonumber(redis.call('HGET', KEYS[1], 'claimed_at') or '0') or 0
if claimed ~= 0 then return 0 end
redis.call('HSET', KEYS[1], 'claimed_at', ARGV[1], 'updated_at', ARGV[1])
return 1
`)

// releaseScript clears claimed_at on a pending, claimed action.
var releaseScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state ~= 'pending' then return 0 end
local claimed = tonumber(redis.call('HGET', KEYS[1], 'claimed_at') or '0') or 0
if claimed == 0 then return 0 end
redis.call('HSET', KEYS[1], 'claimed_at', '0')
return 1
`)

const (
	guardAny       = "any"
	guardUnclaimed = "unclaimed"
	guardStale     = "stale"
)

func (c *Client) Put(ctx context.Context, a domain.Action) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	m := map[string]any{
		"id":             a.ID,
		"state":          string(a.State),
		"created_at":     toMs(a.CreatedAt),
		"fire_at":        toMs(a.FireAt),
		"delay_ms":       a.Delay.Milliseconds(),
		"source_enabled": a.SourceEnabled,
		"claimed_at":     toMs(a.ClaimedAt),
		"updated_at":     toMs(a.UpdatedAt),
		"payload":        payload,
	}

	_, err = c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, c.actionKey(a.ID), m)
		if a.State == domain.StatePending {
			p.ZAdd(ctx, c.pendingKey(), redis.Z{Score: float64(toMs(a.FireAt)), Member: a.ID})
			p.ZRem(ctx, c.terminalKey(), a.ID)
		} else {
			p.ZRem(ctx, c.pendingKey(), a.ID)
			p.ZAdd(ctx, c.terminalKey(), redis.Z{Score: float64(toMs(a.UpdatedAt)), Member: a.ID})
		}
		return nil
	})
	return unavailable(err)
}

func (c *Client) Get(ctx context.Context, id string) (domain.Action, error) {
	h, err := c.Rdb.HGetAll(ctx, c.actionKey(id)).Result()
	if err != nil {
		return domain.Action{}, unavailable(err)
	}
	if len(h) == 0 {
		return domain.Action{}, domain.ErrNotFound
	}
	return decodeAction(h)
}

func (c *Client) Claim(ctx context.Context, id string, now time.Time) (domain.Action, bool, error) {
	n, err := claimScript.Run(ctx, c.Rdb, []string{c.actionKey(id)}, toMs(now)).Int()
	if err != nil {
		return domain.Action{}, false, unavailable(err)
	}
	if n == 0 {
		return domain.Action{}, false, nil
	}
	a, err := c.Get(ctx, id)
	if err != nil {
		return domain.Action{}, false, err
	}
	return a, true, nil
}

func (c *Client) Release(ctx context.Context, id string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.Rdb, []string{c.actionKey(id)}).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (c *Client) MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error) {
	return c.transition(ctx, id, domain.StateCancelled, now, guardUnclaimed, time.Time{})
}

func (c *Client) MarkFired(ctx context.Context, id string, now time.Time) (bool, error) {
	return c.transition(ctx, id, domain.StateFired, now, guardAny, time.Time{})
}

func (c *Client) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	return c.transition(ctx, id, domain.StateExpired, now, guardUnclaimed, time.Time{})
}

func (c *Client) ExpireStale(ctx context.Context, id string, claimedBefore, now time.Time) (bool, error) {
	return c.transition(ctx, id, domain.StateExpired, now, guardStale, claimedBefore)
}

func (c *Client) transition(ctx context.Context, id string, to domain.ActionState, now time.Time, guard string, claimedBefore time.Time) (bool, error) {
	keys := []string{c.actionKey(id), c.pendingKey(), c.terminalKey()}
	n, err := transitionScript.Run(ctx, c.Rdb, keys, id, string(to), toMs(now), guard, toMs(claimedBefore)).Int()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (c *Client) Remove(ctx context.Context, id string) error {
	_, err := c.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.actionKey(id))
		p.ZRem(ctx, c.pendingKey(), id)
		p.ZRem(ctx, c.terminalKey(), id)
		return nil
	})
	return unavailable(err)
}

func (c *Client) ListPending(ctx context.Context) ([]domain.Action, error) {
	ids, err := c.Rdb.ZRange(ctx, c.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.Rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, c.actionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]domain.Action, 0, len(ids))
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			// index entry outlived its hash
			_ = c.Rdb.ZRem(ctx, c.pendingKey(), ids[i]).Err()
			continue
		}
		a, err := decodeAction(h)
		if err != nil {
			return nil, err
		}
		if a.State == domain.StatePending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *Client) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := c.Rdb.ZRangeByScore(ctx, c.terminalKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(toMs(cutoff), 10),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	return ids, nil
}

func decodeAction(h map[string]string) (domain.Action, error) {
	a := domain.Action{
		ID:            h["id"],
		State:         domain.ActionState(h["state"]),
		CreatedAt:     fromMs(h["created_at"]),
		FireAt:        fromMs(h["fire_at"]),
		ClaimedAt:     fromMs(h["claimed_at"]),
		UpdatedAt:     fromMs(h["updated_at"]),
		SourceEnabled: h["source_enabled"] == "1",
	}
	if ms, err := strconv.ParseInt(h["delay_ms"], 10, 64); err == nil {
		a.Delay = time.Duration(ms) * time.Millisecond
	}
	if raw := h["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &a.Payload); err != nil {
			return domain.Action{}, fmt.Errorf("decode payload of %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func toMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMs(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
