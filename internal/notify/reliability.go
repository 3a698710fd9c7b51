package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Reliable wraps a Notifier with a client-side rate limiter, a circuit
// breaker and throttle-aware retries. The control plane treats
// notification delivery as best-effort, so a tripped breaker surfaces
// as an error the caller logs and moves past.
type Reliable struct {
	next    Notifier
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliable(next Notifier, perSecond int) *Reliable {
	if perSecond <= 0 {
		perSecond = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notifier",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Reliable{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond*2),
	}
}

func (r *Reliable) Send(ctx context.Context, msg Message) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notify rate limit: %w", err)
	}

	_, err := r.cb.Execute(func() (interface{}, error) {
		rt := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Honor Retry-After from the back-end, exponential
				// backoff otherwise.
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, rt.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return r.next.Send(tCtx, msg)
		})
	})
	return err
}
