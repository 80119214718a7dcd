package chain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimiterConfig bounds how hard the engine leans on the state provider.
type LimiterConfig struct {
	MaxInFlight    int           `yaml:"concurrency"`
	MinSpacing     time.Duration `yaml:"min_spacing"`
	Retries        int           `yaml:"retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxInFlight:    8,
		MinSpacing:     100 * time.Millisecond,
		Retries:        3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Limiter caps in-flight queries and spaces their dispatch. Work that cannot
// be dispatched yet waits; it is never dropped.
type Limiter struct {
	cfg  LimiterConfig
	sem  *semaphore.Weighted
	pace *rate.Limiter

	// OnRetry, if set, is called before each retry sleep.
	OnRetry func(op string, err error, wait time.Duration)
	// OnExhausted, if set, is called when an operation fails for good.
	OnExhausted func(op string, err error)
}

func NewLimiter(cfg LimiterConfig) *Limiter {

	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinSpacing > 0 {
		pace = rate.NewLimiter(rate.Every(cfg.MinSpacing), 1)
	}

	return &Limiter{
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		pace: pace,
	}
}

// Do runs fn under the limiter, retrying failures with exponential backoff up
// to the configured budget. Context errors are never retried.
func (l *Limiter) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {

	exp := backoff.NewExponentialBackOff()
	if l.cfg.InitialBackoff > 0 {
		exp.InitialInterval = l.cfg.InitialBackoff
	}
	if l.cfg.MaxBackoff > 0 {
		exp.MaxInterval = l.cfg.MaxBackoff
	}
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(l.cfg.Retries)), ctx)

	attempt := func() error {

		if err := l.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		defer l.sem.Release(1)

		if err := l.pace.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(log.Fields{
			"Op": op, "Wait": wait,
		}).Debug("Retrying state query")

		if l.OnRetry != nil {
			l.OnRetry(op, err, wait)
		}
	}

	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		if l.OnExhausted != nil {
			l.OnExhausted(op, err)
		}
		return errors.Wrapf(err, "%s failed", op)
	}

	return nil
}
