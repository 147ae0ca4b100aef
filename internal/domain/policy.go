package domain

import "time"

const (
	workdayStartHour = 9
	workdayEndHour   = 18
)

// Policy holds the time-of-day and day-of-week overrides.
type Policy struct {
	Enabled               bool `json:"enabled"`
	AfterHours            bool `json:"after_hours"`
	Weekends              bool `json:"weekends"`
	IncreasedDelaySeconds int  `json:"increased_delay"`
}

func (p Policy) IncreasedDelay() time.Duration {
	return time.Duration(p.IncreasedDelaySeconds) * time.Second
}

// EffectiveDelay resolves the delay to apply for a submission at now.
// Overrides only ever lengthen the base delay. now is interpreted in its
// own location, so callers convert to the user's zone first.
func EffectiveDelay(base time.Duration, now time.Time, p Policy) time.Duration {
	if !p.Enabled {
		return base
	}
	if (p.AfterHours && AfterHours(now)) || (p.Weekends && Weekend(now)) {
		return max(base, p.IncreasedDelay())
	}
	return base
}

// AfterHours reports whether t is before 09:00 or at/after 18:00.
func AfterHours(t time.Time) bool {
	h := t.Hour()
	return h < workdayStartHour || h >= workdayEndHour
}

func Weekend(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}
