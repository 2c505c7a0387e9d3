package shell

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

const (
	// DefaultConsecutiveFailures is the number of transport failures before the circuit opens
	DefaultConsecutiveFailures = 3

	// DefaultBreakerTimeout is how long the circuit stays open before allowing a probe
	DefaultBreakerTimeout = 30 * time.Second

	// DefaultBreakerInterval is the cyclic period of closed state to clear failure counts
	DefaultBreakerInterval = 1 * time.Minute
)

// BreakerRunner wraps a Runner with a circuit breaker so an unreachable storage
// host fails fast instead of every trial waiting out its own connect timeout.
// Only transport failures count; a command that ran and exited non-zero is a
// healthy round trip.
type BreakerRunner struct {
	next Runner
	cb   *gobreaker.CircuitBreaker
}

// BreakerOption customizes a BreakerRunner
type BreakerOption func(*gobreaker.Settings)

// WithBreakerTimeout sets how long the circuit stays open
func WithBreakerTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) { s.Timeout = d }
}

// WithFailureThreshold sets the consecutive failures needed to open the circuit
func WithFailureThreshold(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// NewBreakerRunner wraps next
func NewBreakerRunner(next Runner, opts ...BreakerOption) *BreakerRunner {
	settings := gobreaker.Settings{
		Name:        next.Target(),
		MaxRequests: 1,
		Interval:    DefaultBreakerInterval,
		Timeout:     DefaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= DefaultConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			klog.Infof("Circuit breaker for %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, utils.ErrCommandFailed) || errors.Is(err, utils.ErrToolNotFound) {
				return true
			}
			// Cancellation is the operator's doing, not the host's
			return errors.Is(err, context.Canceled)
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}
	return &BreakerRunner{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Target implements Runner
func (b *BreakerRunner) Target() string { return b.next.Target() }

// Close implements Runner
func (b *BreakerRunner) Close() error { return b.next.Close() }

// State returns the breaker state name ("closed", "open", "half-open")
func (b *BreakerRunner) State() string { return b.cb.State().String() }

// Run implements Runner
func (b *BreakerRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var res Result
	_, err := b.cb.Execute(func() (interface{}, error) {
		var runErr error
		res, runErr = b.next.Run(ctx, name, args...)
		return nil, runErr
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		res.Command = Join(name, args...)
		return res, fmt.Errorf("%w: %s unreachable, not running %q", utils.ErrCircuitOpen, b.next.Target(), res.Command)
	}
	return res, err
}
