package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #region config
// ErrCircuitOpen is returned while the provider circuit breaker is open.
var ErrCircuitOpen = errors.New("embedding provider circuit open")

// RetryConfig controls retry and circuit breaking at the provider boundary.
type RetryConfig struct {
	MaxRetries      uint64        // retries after the first attempt
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff delay cap
	Timeout         time.Duration // per-attempt timeout (0 = none)
	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerCooldown time.Duration // open → half-open delay
}

// DefaultRetryConfig returns sensible defaults for a local model service.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Timeout:         5 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// #endregion config

// #region resilient
// Resilient retries transient provider failures with exponential backoff and
// stops calling a provider that keeps failing.
type Resilient struct {
	next    Embedder
	cfg     RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewResilient wraps next with retry and circuit breaking.
func NewResilient(next Embedder, cfg RetryConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("embedding")
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Resilient{next: next, cfg: cfg, breaker: breaker, logger: logger}
}

// Embed calls the wrapped provider, retrying transient failures.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	attempt := 0

	op := func() error {
		attempt++
		out, err := r.breaker.Execute(func() (interface{}, error) {
			callCtx := ctx
			if r.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
				defer cancel()
			}
			return r.next.Embed(callCtx, text)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			r.logger.Debug("embed attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		vec = out.([]float32)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, r.cfg.MaxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return vec, nil
}

// retryable reports whether err is a transient transport failure.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// #endregion resilient
