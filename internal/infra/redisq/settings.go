package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"graceq/internal/domain"
	"graceq/internal/ports"

	"github.com/redis/go-redis/v9"
)

var _ ports.SettingsStore = (*Settings)(nil)

type Settings struct {
	C        *Client
	Defaults domain.Settings
}

// Load returns the saved settings, or Defaults when none were saved yet.
func (s *Settings) Load(ctx context.Context) (domain.Settings, error) {
	b, err := s.C.Rdb.Get(ctx, s.C.settingsKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.Defaults, nil
	}
	if err != nil {
		return domain.Settings{}, unavailable(err)
	}
	out := s.Defaults
	if err := json.Unmarshal(b, &out); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

func (s *Settings) Save(ctx context.Context, v domain.Settings) error {
	if err := v.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return unavailable(s.C.Rdb.Set(ctx, s.C.settingsKey(), b, 0).Err())
}
