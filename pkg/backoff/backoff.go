package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := min(time.Duration(float64(base)*mul), max)

	// simple jitter: +/- 20%
	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int64N(int64(2*j)))
}

// Retry calls fn until it succeeds, attempts are exhausted or ctx is done.
// It returns the last error.
func Retry(ctx context.Context, attempts int, base, max time.Duration, fn func() error) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		t := time.NewTimer(ExponentialJitter(base, max, i))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
