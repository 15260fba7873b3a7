package usecase

import (
	"context"
	"time"
)

const defaultStoreTimeout = 5 * time.Second

// boundContext caps the time an operation may spend waiting on stores.
func boundContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

type nopMetrics struct{}

func (nopMetrics) ObserveLogin(string) {}
func (nopMetrics) ObserveRateLimited(string) {}
func (nopMetrics) ObserveToken(string, string) {}
func (nopMetrics) ObserveSession(string) {}
