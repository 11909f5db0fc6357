package helpers

import "context"

// RetryOnEmpty calls fn up to attempts times, stopping at the first result
// that empty reports as usable. Errors from fn are returned immediately and
// never retried. When every attempt comes back empty, the last result is
// returned with a nil error.
func RetryOnEmpty[T any](ctx context.Context, attempts int, empty func(T) bool, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	var result T
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var err error
		result, err = fn(ctx, attempt)
		if err != nil {
			return result, err
		}
		if !empty(result) {
			return result, nil
		}
	}
	return result, nil
}

// EmptySlice is the usual emptiness predicate for RetryOnEmpty.
func EmptySlice[T any](s []T) bool {
	return len(s) == 0
}
