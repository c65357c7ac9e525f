package receiver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	defaultRetryAttempts    = 3
	defaultRetryBaseBackoff = 120 * time.Millisecond
	defaultRetryMaxBackoff  = 800 * time.Millisecond
)

func (r *Receiver) withRetry(ctx context.Context, operation string, call func() error) error {
	if call == nil {
		return errors.New("retry call is nil")
	}

	attempts := r.retryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	baseBackoff := r.retryBaseBackoff
	if baseBackoff < 0 {
		baseBackoff = 0
	}
	maxBackoff := r.retryMaxBackoff
	if maxBackoff < baseBackoff {
		maxBackoff = baseBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= attempts || !isTransientNetworkError(err) {
			break
		}

		backoff := backoffForAttempt(baseBackoff, maxBackoff, attempt)
		r.logger.Debug(
			"cast_retry",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		if waitErr := waitForBackoff(ctx, backoff); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

func backoffForAttempt(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if max > 0 && backoff >= max {
			return max
		}
	}
	if max > 0 && backoff > max {
		return max
	}
	return backoff
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"temporar",
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"i/o timeout",
		"network is unreachable",
		"no route to host",
		"tls handshake timeout",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
