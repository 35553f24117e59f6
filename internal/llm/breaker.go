package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures circuit breaking around provider calls
type BreakerConfig struct {
	Enabled          bool
	MaxRequests      uint32        // Requests allowed while half-open
	Interval         time.Duration // Closed-state counter reset interval
	Timeout          time.Duration // Open-state duration before half-open
	ReadyToTripRatio float64
}

// DefaultBreakerConfig returns the breaker settings used when none are configured
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		ReadyToTripRatio: 0.6,
	}
}

// NewBreaker builds a gobreaker circuit breaker that only counts transient
// provider failures. A disabled config returns nil.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// BreakerCompleter wraps a Completer with a circuit breaker
type BreakerCompleter struct {
	next Completer
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next; a nil breaker returns next unchanged
func WithBreaker(next Completer, cb *gobreaker.CircuitBreaker) Completer {
	if cb == nil {
		return next
	}
	return &BreakerCompleter{next: next, cb: cb}
}

// Complete implements Completer
func (b *BreakerCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, prompt)
	})
	if err != nil {
		return "", Classify(err)
	}
	return out.(string), nil
}
