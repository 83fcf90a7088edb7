// Package resilience guards retrieval backends with circuit breakers so a
// store that keeps failing is skipped quickly instead of eating the request
// deadline.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Defaults for Config.
const (
	DefaultFailures         = 5
	DefaultCooldown         = 30 * time.Second
	DefaultHalfOpenRequests = 1
)

// Config configures every breaker in a set.
type Config struct {
	// Failures is the number of consecutive failures that opens a breaker.
	Failures uint32

	// Cooldown is how long a breaker stays open before a trial call.
	Cooldown time.Duration

	// HalfOpenRequests is the number of trial calls allowed while half-open.
	HalfOpenRequests uint32
}

func (c Config) normalize() Config {
	if c.Failures == 0 {
		c.Failures = DefaultFailures
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = DefaultHalfOpenRequests
	}
	return c
}

// Breakers holds one circuit breaker per backend name. A nil *Breakers
// runs calls unguarded.
type Breakers struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewBreakers creates an empty breaker set.
func NewBreakers(cfg Config) *Breakers {
	return &Breakers{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// Execute runs fn through the breaker for name. An open breaker rejects
// the call without running fn; IsCircuitOpen reports that case.
func Execute[T any](b *Breakers, name string, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	var zero T
	out, err := b.breaker(name).Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

// State returns the current state of the breaker for name.
func (b *Breakers) State(name string) gobreaker.State {
	return b.breaker(name).State()
}

func (b *Breakers) breaker(name string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[name]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: b.cfg.HalfOpenRequests,
		Timeout:     b.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.Failures
		},
		// The caller giving up is not the backend's fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "backend", name, "from", from.String(), "to", to.String())
		},
	}

	cb := gobreaker.NewCircuitBreaker[any](settings)
	b.breakers[name] = cb
	return cb
}

// IsCircuitOpen reports whether err is a breaker rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
