// Package resilience guards calls to the external availability and booking
// collaborators. [Breaker] is a three-state circuit breaker
// (closed → open → half-open); [Retry] implements the bounded
// retry-with-backoff the dialogue layer applies before apologizing and
// aborting a step.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

// State is a breaker's operating mode.
type State int

const (
	// Closed forwards all calls.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the cooldown elapses.
	Open

	// HalfOpen lets a limited number of probes through; success closes the
	// breaker, any failure re-opens it.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the protected collaborator in logs.
	Name string

	// Trip is the consecutive-failure count that opens the breaker. Default 5.
	Trip int

	// Cooldown is how long the breaker stays open before probing. Default 30s.
	Cooldown time.Duration

	// Probes is the number of half-open successes required to close. Default 2.
	Probes int
}

// Breaker is the three-state circuit breaker protecting one collaborator.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration
	probes   int
	log      *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probeRuns int
	probeOK   int
}

// NewBreaker builds a Breaker from cfg. A nil logger falls back to
// slog.Default.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:     cfg.Name,
		trip:     cfg.Trip,
		cooldown: cfg.Cooldown,
		probes:   cfg.Probes,
		log:      logger.With("breaker", cfg.Name),
	}
}

// Do runs fn under the breaker. While open it returns [ErrOpen] without
// calling fn; a cancelled ctx short-circuits the same way fn's own context
// handling would.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeRuns, b.probeOK = 0, 0
		b.log.Info("breaker probing", "state", HalfOpen)
	case HalfOpen:
		if b.probeRuns >= b.probes {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probeRuns++
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.state = Open
		b.failures = b.trip
		b.log.Warn("breaker re-opened by failed probe")
		return
	}
	b.failures++
	if b.failures >= b.trip && b.state == Closed {
		b.state = Open
		b.log.Warn("breaker opened", "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		b.probeOK++
		if b.probeOK >= b.probes {
			b.state = Closed
			b.failures = 0
			b.log.Info("breaker closed after successful probes")
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker past its cooldown reports
// HalfOpen; the transition itself happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}
