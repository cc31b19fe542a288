package storage

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// connect calls fn until it succeeds, attempts run out or ctx ends,
// sleeping a jittered backoff between tries. It returns the last error.
func connect(ctx context.Context, what string, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; ; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i >= attempts {
			return err
		}
		wait := jitter(backoff)
		log.Warn().Err(err).Str("store", what).Int("attempt", i).Dur("retry_in", wait).Msg("store not reachable")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
