package provider

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const maxAttempts = 3

// backoff returns the sleep preceding the given retry attempt: 1s, 2s, 4s.
func backoff(attempt int) time.Duration {
	return time.Second << attempt
}

// retryable reports whether an HTTP status merits a retry: rate limiting,
// request timeout, and server-side failures.
func retryable(status int) bool {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// classify maps an HTTP status to an error kind for non-retryable failures.
func classify(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusPaymentRequired:
		return KindQuotaExceeded
	default:
		if status >= 400 && status < 500 {
			return KindBadRequest
		}
		return KindOther
	}
}

// withRetry runs |fn| with up to maxAttempts tries. |fn| returns the HTTP
// status of a failed call (zero when unknown, treated as a transient
// transport failure). Exhausted retries surface as KindUnavailable.
func withRetry(ctx context.Context, providerName, op string, fn func() (status int, err error)) error {
	var lastErr error

	for attempt := 0; attempt != maxAttempts; attempt++ {
		if attempt > 0 {
			var timer = time.NewTimer(backoff(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		var status, err = fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if status != 0 && !retryable(status) {
			return &Error{Kind: classify(status), Provider: providerName, Op: op, Err: err}
		}

		log.WithFields(log.Fields{
			"provider": providerName,
			"op":       op,
			"attempt":  attempt + 1,
			"status":   status,
			"err":      err,
		}).Warn("provider call failed; will retry")
	}

	return &Error{Kind: KindUnavailable, Provider: providerName, Op: op, Err: lastErr}
}
