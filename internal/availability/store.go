// Package availability implements the appointment availability collaborator:
// an in-memory slot store, the HTTP service exposing it, and the client the
// dialogue side talks to. The store is the system of record for slots and
// their short-lived reservations; bookings flip a slot to unavailable
// permanently.
package availability

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/internal/motive"
	"github.com/vocaline/intake/pkg/types"
)

var (
	// ErrNotFound means the slot ID is unknown.
	ErrNotFound = errors.New("availability: slot not found")

	// ErrSlotTaken means the slot is booked or held by a live reservation.
	ErrSlotTaken = errors.New("availability: slot reserved or unavailable")
)

// DefaultReservationTTL holds a slot while a booking completes.
const DefaultReservationTTL = 5 * time.Minute

// Store is a mutex-guarded in-memory slot store. Reservations are optimistic
// locks with a TTL; expired reservations are swept lazily on access.
type Store struct {
	now func() time.Time

	mu           sync.Mutex
	slots        map[uuid.UUID]types.AvailabilitySlot
	reservations map[uuid.UUID]reservation
}

// reservation is one live hold. The token proves ownership: only the holder
// may book the slot while the hold lives.
type reservation struct {
	expiry time.Time
	token  uuid.UUID
}

// NewStore returns an empty store. The clock is overridable for tests via
// [Store.WithClock].
func NewStore() *Store {
	return &Store{
		now:          time.Now,
		slots:        make(map[uuid.UUID]types.AvailabilitySlot),
		reservations: make(map[uuid.UUID]reservation),
	}
}

// WithClock replaces the store's clock and returns the store.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// samplePractitioners staff the generated schedule.
var samplePractitioners = []struct{ Name, ID string }{
	{"Dr. Marie Dubois", "dr-dubois"},
	{"Dr. Pierre Martin", "dr-martin"},
	{"Dr. Sophie Bernard", "dr-bernard"},
}

// sampleHours are the weekday slot start hours: a morning and an afternoon
// block.
var sampleHours = []int{9, 10, 11, 14, 15, 16}

// Seed fills the store with a sample schedule: one slot per practitioner,
// hour, weekday, and motive, starting tomorrow and spanning days calendar
// days. Weekends are skipped.
func (s *Store) Seed(catalog []motive.Entry, days int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.now().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	count := 0
	for _, m := range catalog {
		duration := time.Duration(m.DurationMinutes) * time.Minute
		for offset := 0; offset < days; offset++ {
			day := base.AddDate(0, 0, offset)
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			for _, p := range samplePractitioners {
				for _, hour := range sampleHours {
					start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
					id := uuid.New()
					s.slots[id] = types.AvailabilitySlot{
						ID:               id,
						StartTime:        start,
						EndTime:          start.Add(duration),
						PractitionerName: p.Name,
						PractitionerID:   p.ID,
						MotiveID:         m.ID,
						IsAvailable:      true,
					}
					count++
				}
			}
		}
	}
	return count
}

// Add inserts one slot, for tests and fixtures.
func (s *Store) Add(slot types.AvailabilitySlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
}

// Query returns available, unreserved slots for a motive within the
// constraints, ordered by start time. An empty result is a normal answer.
func (s *Store) Query(motiveID string, c types.SlotConstraints) []types.AvailabilitySlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	from := c.From
	if from.IsZero() {
		from = s.now()
	}
	until := c.Until
	if until.IsZero() {
		until = from.AddDate(0, 0, 14)
	}

	var out []types.AvailabilitySlot
	for id, slot := range s.slots {
		if !slot.IsAvailable || slot.MotiveID != motiveID {
			continue
		}
		if slot.StartTime.Before(from) || slot.StartTime.After(until) {
			continue
		}
		if c.PractitionerID != "" && slot.PractitionerID != c.PractitionerID {
			continue
		}
		if c.AfterHour > 0 && slot.StartTime.Hour() < c.AfterHour {
			continue
		}
		if c.BeforeHour > 0 && slot.StartTime.Hour() >= c.BeforeHour {
			continue
		}
		if _, held := s.reservations[id]; held {
			continue
		}
		out = append(out, slot)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })

	if c.Offset > 0 {
		if c.Offset >= len(out) {
			return nil
		}
		out = out[c.Offset:]
	}
	limit := c.Limit
	if limit <= 0 {
		limit = 5
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns one slot; IsAvailable reflects live reservations.
func (s *Store) Get(id uuid.UUID) (types.AvailabilitySlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	slot, ok := s.slots[id]
	if !ok {
		return types.AvailabilitySlot{}, ErrNotFound
	}
	if _, held := s.reservations[id]; held {
		slot.IsAvailable = false
	}
	return slot, nil
}

// Reserve places a TTL hold on a slot and returns the expiry and the hold
// token the caller must present to [Store.Book]. It fails with [ErrSlotTaken]
// when the slot is booked or already held, [ErrNotFound] when unknown.
func (s *Store) Reserve(id uuid.UUID, ttl time.Duration) (time.Time, uuid.UUID, error) {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	slot, ok := s.slots[id]
	if !ok {
		return time.Time{}, uuid.Nil, ErrNotFound
	}
	if !slot.IsAvailable {
		return time.Time{}, uuid.Nil, ErrSlotTaken
	}
	if _, held := s.reservations[id]; held {
		return time.Time{}, uuid.Nil, ErrSlotTaken
	}

	r := reservation{expiry: s.now().Add(ttl), token: uuid.New()}
	s.reservations[id] = r
	return r.expiry, r.token, nil
}

// Release drops a reservation. It reports whether a hold existed.
func (s *Store) Release(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.reservations[id]; !held {
		return false
	}
	delete(s.reservations, id)
	return true
}

// Book permanently marks a slot unavailable, consuming the hold on it. A slot
// held by someone else is protected: booking without the matching hold token
// fails with [ErrSlotTaken] while the hold lives.
func (s *Store) Book(id uuid.UUID, token uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	slot, ok := s.slots[id]
	if !ok {
		return ErrNotFound
	}
	if !slot.IsAvailable {
		return ErrSlotTaken
	}
	if r, held := s.reservations[id]; held && r.token != token {
		return ErrSlotTaken
	}
	slot.IsAvailable = false
	s.slots[id] = slot
	delete(s.reservations, id)
	return nil
}

// sweepLocked drops expired reservations. Must be called with s.mu held.
func (s *Store) sweepLocked() {
	now := s.now()
	for id, r := range s.reservations {
		if r.expiry.Before(now) {
			delete(s.reservations, id)
		}
	}
}
