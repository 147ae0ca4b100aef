package domain

import (
	"fmt"
	"slices"
	"time"
)

// AllowedDelays is the enumerated set of base delays, in seconds.
var AllowedDelays = []int{15, 30, 60, 120, 300}

// Settings is the user-facing configuration snapshot passed into Submit.
type Settings struct {
	Enabled       bool          `json:"enabled"`
	DelaySeconds  int           `json:"delay_seconds"`
	SmartDelay    Policy        `json:"smart_delay"`
	Notifications Notifications `json:"notifications"`
}

type Notifications struct {
	Desktop bool `json:"desktop"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		DelaySeconds: 60,
		SmartDelay: Policy{
			AfterHours:            true,
			Weekends:              true,
			IncreasedDelaySeconds: 300,
		},
		Notifications: Notifications{Desktop: true},
	}
}

func (s Settings) BaseDelay() time.Duration {
	return time.Duration(s.DelaySeconds) * time.Second
}

func (s Settings) Validate() error {
	if !slices.Contains(AllowedDelays, s.DelaySeconds) {
		return fmt.Errorf("%w: delay %ds not in %v", ErrInvalidSettings, s.DelaySeconds, AllowedDelays)
	}
	if s.SmartDelay.IncreasedDelaySeconds < 0 {
		return fmt.Errorf("%w: negative increased delay", ErrInvalidSettings)
	}
	return nil
}
