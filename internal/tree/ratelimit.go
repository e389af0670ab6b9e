package tree

import (
	"context"

	"golang.org/x/time/rate"
)

// NewLimiter returns a limiter capping aggregate file IO at bytesPerSec,
// or nil (no limit) when bytesPerSec is not positive. The burst is 1 MiB
// so ordinary files pass in one step.
func NewLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := min(bytesPerSec, 1<<20)
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(burst))
}

// throttle blocks until lim admits n bytes. WaitN rejects requests larger
// than the burst, so big files are admitted in burst-sized steps.
func throttle(ctx context.Context, lim *rate.Limiter, n int) error {
	if lim == nil {
		return nil
	}
	for n > 0 {
		step := min(n, lim.Burst())
		if err := lim.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
