package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/internal/availability"
	"github.com/vocaline/intake/pkg/types"
)

// ErrSlotNoLongerAvailable means the chosen slot was taken between
// presentation and submission. The dialogue re-offers the remaining slots.
var ErrSlotNoLongerAvailable = errors.New("booking: slot no longer available")

// ErrServiceUnavailable mirrors the availability client's transport failure
// so callers only depend on this package.
var ErrServiceUnavailable = availability.ErrServiceUnavailable

// SlotService is the availability collaborator the orchestrator talks to.
// *availability.Client satisfies it.
type SlotService interface {
	FindSlots(ctx context.Context, motiveID string, constraints types.SlotConstraints) ([]types.AvailabilitySlot, error)
	CheckSlot(ctx context.Context, id uuid.UUID) (bool, error)
	Reserve(ctx context.Context, id uuid.UUID, ttl time.Duration) (time.Time, uuid.UUID, error)
	Release(ctx context.Context, id uuid.UUID) error
	Book(ctx context.Context, id uuid.UUID, token uuid.UUID) error
}

// Orchestrator coordinates slot lookup and booking submission. A submission
// runs check → reserve → book, and every attempt is appended to the audit
// log with full arguments before the outcome is reported — success and
// failure alike.
//
// Submission is exactly-once per BookingRequest ID: resubmitting a request
// that already succeeded returns the original confirmation without touching
// the collaborator again.
type Orchestrator struct {
	slots SlotService
	log   Log
	ttl   time.Duration
	lg    *slog.Logger

	mu        sync.Mutex
	submitted map[uuid.UUID]types.BookingConfirmation
}

// NewOrchestrator wires the collaborators. ttl <= 0 falls back to the
// default reservation hold.
func NewOrchestrator(slots SlotService, log Log, ttl time.Duration, logger *slog.Logger) *Orchestrator {
	if ttl <= 0 {
		ttl = availability.DefaultReservationTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		slots:     slots,
		log:       log,
		ttl:       ttl,
		lg:        logger.With("component", "booking"),
		submitted: make(map[uuid.UUID]types.BookingConfirmation),
	}
}

// FindSlots returns the ordered candidate slots for a motive. An empty slice
// is a normal answer, distinct from [ErrServiceUnavailable].
func (o *Orchestrator) FindSlots(ctx context.Context, motiveID string, constraints types.SlotConstraints) ([]types.AvailabilitySlot, error) {
	slots, err := o.slots.FindSlots(ctx, motiveID, constraints)
	if err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}
	return slots, nil
}

// Book submits one BookingRequest. It returns [ErrSlotNoLongerAvailable]
// when the slot was taken in the meantime and [ErrServiceUnavailable] on
// transport failure; in every case the attempt is in the audit log.
func (o *Orchestrator) Book(ctx context.Context, req types.BookingRequest) (types.BookingConfirmation, error) {
	o.mu.Lock()
	if conf, done := o.submitted[req.ID]; done {
		o.mu.Unlock()
		o.lg.Info("booking replayed", "request_id", req.ID, "booking_id", conf.BookingID)
		return conf, nil
	}
	o.mu.Unlock()

	conf, err := o.submit(ctx, req)
	if err != nil {
		return types.BookingConfirmation{}, err
	}

	o.mu.Lock()
	o.submitted[req.ID] = conf
	o.mu.Unlock()
	return conf, nil
}

func (o *Orchestrator) submit(ctx context.Context, req types.BookingRequest) (types.BookingConfirmation, error) {
	ok, err := o.slots.CheckSlot(ctx, req.Slot.ID)
	if err != nil {
		return o.fail(ctx, req, "check_failed", err)
	}
	if !ok {
		return o.fail(ctx, req, "slot_unavailable", ErrSlotNoLongerAvailable)
	}

	_, token, err := o.slots.Reserve(ctx, req.Slot.ID, o.ttl)
	if err != nil {
		if errors.Is(err, availability.ErrSlotTaken) || errors.Is(err, availability.ErrNotFound) {
			return o.fail(ctx, req, "reservation_conflict", ErrSlotNoLongerAvailable)
		}
		return o.fail(ctx, req, "reservation_failed", err)
	}

	if err := o.slots.Book(ctx, req.Slot.ID, token); err != nil {
		// The hold would otherwise block the slot for the full TTL.
		o.release(ctx, req.Slot.ID)
		if errors.Is(err, availability.ErrSlotTaken) || errors.Is(err, availability.ErrNotFound) {
			return o.fail(ctx, req, "booking_conflict", ErrSlotNoLongerAvailable)
		}
		return o.fail(ctx, req, "booking_failed", err)
	}

	conf := types.BookingConfirmation{
		BookingID:   uuid.New(),
		RequestID:   req.ID,
		Slot:        req.Slot,
		ConfirmedAt: time.Now().UTC(),
	}

	rec := newRecord(req, "confirmed", nil)
	rec.BookingID = conf.BookingID
	if err := o.log.Append(ctx, rec); err != nil {
		// The slot is booked; a log failure must not pretend otherwise.
		o.lg.Error("audit append failed after booking", "request_id", req.ID, "error", err)
	}

	o.lg.Info("booking confirmed",
		"booking_id", conf.BookingID,
		"patient", req.Patient.FullName(),
		"motive_id", req.Motive.ID,
		"slot_id", req.Slot.ID,
		"start_time", req.Slot.StartTime)
	return conf, nil
}

// release drops a reservation best-effort. The TTL sweep covers a failed
// release, so the error is logged, never surfaced.
func (o *Orchestrator) release(ctx context.Context, id uuid.UUID) {
	if err := o.slots.Release(ctx, id); err != nil {
		o.lg.Warn("reservation release failed", "slot_id", id, "error", err)
	}
}

// fail appends the failed attempt to the audit log and returns err.
func (o *Orchestrator) fail(ctx context.Context, req types.BookingRequest, outcome string, err error) (types.BookingConfirmation, error) {
	if aerr := o.log.Append(ctx, newRecord(req, outcome, err)); aerr != nil {
		o.lg.Error("audit append failed", "request_id", req.ID, "error", aerr)
	}
	o.lg.Warn("booking not completed", "request_id", req.ID, "outcome", outcome, "error", err)
	return types.BookingConfirmation{}, err
}
