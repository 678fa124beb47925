package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrorClass partitions provider failures by how worth retrying they are.
type ErrorClass int

const (
	// ClassInput: the request itself is invalid; retrying cannot help.
	ClassInput ErrorClass = iota
	// ClassConnectivity: DNS/network failure; unlikely to self-resolve
	// quickly, so it gets a smaller retry budget than rate limits.
	ClassConnectivity
	// ClassRateLimit: the provider asked us to slow down.
	ClassRateLimit
	// ClassQuota: billing/quota exhausted on this model; skip straight to
	// the next model in the fallback chain.
	ClassQuota
	// ClassProvider: any other provider-side failure.
	ClassProvider
)

func (c ErrorClass) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassConnectivity:
		return "connectivity"
	case ClassRateLimit:
		return "rate_limit"
	case ClassQuota:
		return "quota"
	default:
		return "provider"
	}
}

// ProviderError wraps a provider failure with its classification and the
// model that produced it, so callers can both branch on class and report an
// actionable message.
type ProviderError struct {
	Class ErrorClass
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("model %s: %s failure: %v", e.Model, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Classify maps an error to its retry class. Network and DNS failures are
// distinguished from provider-reported failures.
func Classify(err error) ErrorClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassConnectivity
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassConnectivity
	}
	return ClassProvider
}

// RetryPolicy is the bounded retry schedule injected into the adapter. The
// sleep function is injectable so tests run without real delays.
type RetryPolicy struct {
	// MaxAttempts bounds attempts per model for rate-limit and generic
	// provider failures.
	MaxAttempts int
	// ConnectivityAttempts bounds attempts for network/DNS failures.
	ConnectivityAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	Sleep                func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the production schedule: three attempts with
// exponential backoff from one second, capped at thirty.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          3,
		ConnectivityAttempts: 2,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		Sleep:                sleepCtx,
	}
}

// AttemptsFor returns the retry budget for a failure class. Non-retryable
// classes get a budget of one: the first failure is final.
func (p RetryPolicy) AttemptsFor(class ErrorClass) int {
	switch class {
	case ClassInput, ClassQuota:
		return 1
	case ClassConnectivity:
		return p.ConnectivityAttempts
	default:
		return p.MaxAttempts
	}
}

// Delay returns the exponential backoff delay before the given retry
// (attempt is 1-based: Delay(1) precedes the second attempt).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
