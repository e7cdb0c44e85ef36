// Package retry provides exponential backoff retry logic and polling.
//
// Do retries a function with exponential backoff until it succeeds, the
// attempts run out, or the error is marked NonRetryable:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Poll checks a condition on a fixed interval, the way deployment health
// verification waits for a freshly started instance to report passing checks:
//
//	err := retry.Poll(ctx, time.Second, 300, func(ctx context.Context) (bool, error) {
//	    return isHealthy(ctx, instance)
//	})
package retry
