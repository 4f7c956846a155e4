// Package session manages the lifecycle of concurrent intake calls. Each
// call owns an independent dialogue machine and conversation state; sessions
// share nothing mutable except the read-only motive catalog and the
// append-only booking log.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocaline/intake/internal/dialogue"
	"github.com/vocaline/intake/internal/observe"
	"github.com/vocaline/intake/internal/turn"
	"github.com/vocaline/intake/pkg/types"
)

// ErrTooManyCalls means the manager is at its concurrency limit.
var ErrTooManyCalls = errors.New("session: too many concurrent calls")

// Runner is one call's dialogue loop. *dialogue.Machine satisfies it.
type Runner interface {
	Run(ctx context.Context) (types.BookingConfirmation, error)
}

// Factory builds the dialogue machine for a new call over its exchanger.
type Factory func(callID string, ex turn.Exchanger) Runner

// Info holds metadata about an active call.
type Info struct {
	// CallID uniquely identifies the call.
	CallID string

	// StartedAt is when the call was accepted.
	StartedAt time.Time
}

// Manager runs calls, each on its own goroutine, capped at a configured
// concurrency. All exported methods are safe for concurrent use.
type Manager struct {
	factory Factory
	metrics *observe.Metrics
	log     *slog.Logger
	group   *errgroup.Group

	mu     sync.Mutex
	calls  map[string]callState
	seq    int
	closed bool
}

type callState struct {
	info   Info
	cancel context.CancelFunc
}

// NewManager creates a Manager. maxConcurrent <= 0 means 64.
func NewManager(factory Factory, metrics *observe.Metrics, maxConcurrent int, logger *slog.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &errgroup.Group{}
	g.SetLimit(maxConcurrent)
	return &Manager{
		factory: factory,
		metrics: metrics,
		log:     logger.With("component", "session"),
		group:   g,
		calls:   make(map[string]callState),
	}
}

// Start accepts one call and runs its dialogue on a new goroutine. It
// returns the call ID immediately, or [ErrTooManyCalls] at capacity.
func (m *Manager) Start(ctx context.Context, ex turn.Exchanger) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", errors.New("session: manager is shut down")
	}
	m.seq++
	id := fmt.Sprintf("call-%s-%04d", time.Now().UTC().Format("20060102T150405Z"), m.seq)
	callCtx, cancel := context.WithCancel(ctx)
	m.calls[id] = callState{
		info:   Info{CallID: id, StartedAt: time.Now().UTC()},
		cancel: cancel,
	}
	m.mu.Unlock()

	started := m.group.TryGo(func() error {
		defer cancel()
		m.run(callCtx, id, ex)
		return nil
	})
	if !started {
		m.mu.Lock()
		delete(m.calls, id)
		m.mu.Unlock()
		cancel()
		return "", ErrTooManyCalls
	}
	return id, nil
}

// run drives one call to its terminal state. Call failures never propagate:
// an abort ends the call, not the process.
func (m *Manager) run(ctx context.Context, id string, ex turn.Exchanger) {
	lg := m.log.With("call_id", id)
	lg.Info("call started")
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
		defer m.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	defer func() {
		m.mu.Lock()
		delete(m.calls, id)
		m.mu.Unlock()
	}()

	conf, err := m.factory(id, ex).Run(ctx)
	switch {
	case err == nil:
		lg.Info("call completed", "booking_id", conf.BookingID)
		if m.metrics != nil {
			m.metrics.RecordBookingOutcome(ctx, "confirmed")
		}
	case errors.Is(err, dialogue.ErrCallAborted):
		lg.Info("call ended without booking", "cause", err)
		if m.metrics != nil {
			m.metrics.RecordBookingOutcome(ctx, "aborted")
		}
	default:
		lg.Error("call failed", "err", err)
	}
}

// Active returns the number of calls currently running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// List returns metadata for every active call.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.info)
	}
	return out
}

// Wait blocks until every running call has finished.
func (m *Manager) Wait() {
	_ = m.group.Wait()
}

// Shutdown cancels every active call and waits for them to wind down, or
// until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, c := range m.calls {
		c.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = m.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: shutdown timed out: %w", ctx.Err())
	}
}
