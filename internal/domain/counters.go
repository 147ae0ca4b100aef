package domain

import "time"

// Counters are monotonically non-decreasing aggregates. Deltas are applied
// with atomic adds by the store, never read-modify-write.
type Counters struct {
	Submitted int64         `json:"submitted"`
	Cancelled int64         `json:"cancelled"`
	Fired     int64         `json:"fired"`
	Expired   int64         `json:"expired"`
	TimeSaved time.Duration `json:"time_saved"`
}

func (c Counters) IsZero() bool {
	return c == Counters{}
}

func (c Counters) Add(d Counters) Counters {
	return Counters{
		Submitted: c.Submitted + d.Submitted,
		Cancelled: c.Cancelled + d.Cancelled,
		Fired:     c.Fired + d.Fired,
		Expired:   c.Expired + d.Expired,
		TimeSaved: c.TimeSaved + d.TimeSaved,
	}
}
