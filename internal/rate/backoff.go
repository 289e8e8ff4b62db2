package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy holds exponential backoff parameters for transient failures.
type Policy struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time"`
}

// DefaultPolicy: 1s, doubling, ±50%, capped at 60s per wait and 5m overall.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		MaxInterval:         60 * time.Second,
		MaxElapsedTime:      5 * time.Minute,
	}
}

// NewBackOff builds a fresh backoff.BackOff bound to ctx.
func (p Policy) NewBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Retry runs op until it succeeds, returns an error retryable rejects, or
// the policy's elapsed budget runs out.
func Retry[T any](ctx context.Context, p Policy, retryable func(error) bool, op func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.NewBackOff(ctx))
}

// Validate rejects parameters backoff would misbehave with.
func (p Policy) Validate() error {
	switch {
	case p.InitialInterval <= 0:
		return fmt.Errorf("backoff initial interval must be positive, got %s", p.InitialInterval)
	case p.Multiplier < 1:
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", p.Multiplier)
	case p.RandomizationFactor < 0 || p.RandomizationFactor > 1:
		return fmt.Errorf("backoff randomization must be within [0,1], got %v", p.RandomizationFactor)
	case p.MaxInterval < p.InitialInterval:
		return fmt.Errorf("backoff max interval %s below initial %s", p.MaxInterval, p.InitialInterval)
	case p.MaxElapsedTime < 0:
		return fmt.Errorf("backoff max elapsed must not be negative, got %s", p.MaxElapsedTime)
	}
	return nil
}
