package resilience

import "context"

// Call composes retry(breaker(fn)) around a typed outbound call. The breaker
// sits inside the retry loop so an open circuit fails fast instead of being
// retried (circuit-open is not a retryable error).
func Call[T any](ctx context.Context, breaker *Breaker, retry *Retry, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := retry.Do(ctx, op, func(ctx context.Context) error {
		return breaker.Do(ctx, func(ctx context.Context) error {
			v, err := fn(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	return out, err
}

// CallVoid is Call for operations without a payload.
func CallVoid(ctx context.Context, breaker *Breaker, retry *Retry, op string, fn func(context.Context) error) error {
	return retry.Do(ctx, op, func(ctx context.Context) error {
		return breaker.Do(ctx, fn)
	})
}
