package booking_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/internal/availability"
	"github.com/vocaline/intake/internal/booking"
	"github.com/vocaline/intake/pkg/types"
)

// fakeSlots scripts the availability collaborator.
type fakeSlots struct {
	mu           sync.Mutex
	available    bool
	checkErr     error
	reserveErr   error
	bookErr      error
	bookCalls    int
	bookToken    uuid.UUID
	releaseCalls int
}

func (f *fakeSlots) FindSlots(context.Context, string, types.SlotConstraints) ([]types.AvailabilitySlot, error) {
	return nil, nil
}

func (f *fakeSlots) CheckSlot(context.Context, uuid.UUID) (bool, error) {
	return f.available, f.checkErr
}

func (f *fakeSlots) Reserve(context.Context, uuid.UUID, time.Duration) (time.Time, uuid.UUID, error) {
	if f.reserveErr != nil {
		return time.Time{}, uuid.Nil, f.reserveErr
	}
	return time.Now().Add(time.Minute), holdToken, nil
}

func (f *fakeSlots) Release(context.Context, uuid.UUID) error {
	f.mu.Lock()
	f.releaseCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeSlots) Book(_ context.Context, _ uuid.UUID, token uuid.UUID) error {
	f.mu.Lock()
	f.bookCalls++
	f.bookToken = token
	f.mu.Unlock()
	return f.bookErr
}

// holdToken is the scripted reservation token the fake hands out.
var holdToken = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

func request(t *testing.T) types.BookingRequest {
	t.Helper()
	req, err := types.NewBookingRequest(
		types.PatientIdentity{
			FirstName: "Gaël",
			LastName:  "Chauveau",
			Birthdate: types.Birthdate{Year: 1985, Month: time.March, Day: 12},
		},
		types.MotiveSelection{ID: "follow_up", Name: "Consultation de suivi", DurationMinutes: 30},
		types.AvailabilitySlot{
			ID:               uuid.New(),
			StartTime:        time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC),
			PractitionerName: "Dr. Marie Dubois",
			MotiveID:         "follow_up",
			IsAvailable:      true,
		},
	)
	if err != nil {
		t.Fatalf("NewBookingRequest: %v", err)
	}
	return req
}

func newOrchestrator(t *testing.T, slots booking.SlotService) (*booking.Orchestrator, *booking.FileLog) {
	t.Helper()
	log := booking.NewFileLog(filepath.Join(t.TempDir(), "bookings.jsonl"))
	return booking.NewOrchestrator(slots, log, time.Minute, nil), log
}

func TestBook_SuccessAppendsConfirmedRecord(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{available: true}
	o, log := newOrchestrator(t, slots)
	req := request(t)

	conf, err := o.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if conf.RequestID != req.ID || conf.BookingID == uuid.Nil {
		t.Errorf("confirmation = %+v, want request echo and booking id", conf)
	}

	recs, err := log.Read()
	if err != nil || len(recs) != 1 {
		t.Fatalf("log = %d records err=%v, want 1", len(recs), err)
	}
	rec := recs[0]
	if rec.Outcome != "confirmed" || rec.BookingID != conf.BookingID {
		t.Errorf("record = %+v, want confirmed with booking id", rec)
	}
	if rec.FirstName != "Gaël" || rec.LastName != "Chauveau" || rec.Birthdate != "1985-03-12" {
		t.Errorf("record misses patient arguments: %+v", rec)
	}
	if rec.MotiveID != "follow_up" || rec.SlotID != req.Slot.ID {
		t.Errorf("record misses motive/slot arguments: %+v", rec)
	}
}

func TestBook_ExactlyOncePerRequestID(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{available: true}
	o, _ := newOrchestrator(t, slots)
	req := request(t)
	ctx := context.Background()

	first, err := o.Book(ctx, req)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	second, err := o.Book(ctx, req)
	if err != nil {
		t.Fatalf("replayed Book: %v", err)
	}
	if second.BookingID != first.BookingID {
		t.Errorf("replay produced new booking %v, want %v", second.BookingID, first.BookingID)
	}
	if slots.bookCalls != 1 {
		t.Errorf("collaborator saw %d book calls, want exactly 1", slots.bookCalls)
	}
}

func TestBook_SlotGoneSurfacesConflictAndLogs(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeSlots{
		"unavailable at check":  {available: false},
		"reservation conflict":  {available: true, reserveErr: availability.ErrSlotTaken},
		"conflict at book call": {available: true, bookErr: availability.ErrSlotTaken},
	}
	for name, slots := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			o, log := newOrchestrator(t, slots)
			_, err := o.Book(context.Background(), request(t))
			if !errors.Is(err, booking.ErrSlotNoLongerAvailable) {
				t.Fatalf("Book = %v, want ErrSlotNoLongerAvailable", err)
			}
			recs, _ := log.Read()
			if len(recs) != 1 || recs[0].Outcome == "confirmed" {
				t.Errorf("log = %+v, want one failed-attempt record", recs)
			}
		})
	}
}

func TestBook_FailureAfterReserveReleasesTheHold(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"conflict at book call": availability.ErrSlotTaken,
		"transport failure":     availability.ErrServiceUnavailable,
	}
	for name, bookErr := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			slots := &fakeSlots{available: true, bookErr: bookErr}
			o, _ := newOrchestrator(t, slots)

			if _, err := o.Book(context.Background(), request(t)); err == nil {
				t.Fatal("Book = nil error, want the failure surfaced")
			}
			if slots.releaseCalls != 1 {
				t.Errorf("collaborator saw %d release calls, want the hold dropped instead of blocking the slot for the TTL", slots.releaseCalls)
			}
		})
	}
}

func TestBook_SuccessConsumesTheHoldWithItsToken(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{available: true}
	o, _ := newOrchestrator(t, slots)

	if _, err := o.Book(context.Background(), request(t)); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if slots.bookToken != holdToken {
		t.Errorf("book used token %v, want the reservation's token %v", slots.bookToken, holdToken)
	}
	if slots.releaseCalls != 0 {
		t.Errorf("collaborator saw %d release calls, want none on success", slots.releaseCalls)
	}
}

func TestBook_TransportFailureIsNeverSilent(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{checkErr: availability.ErrServiceUnavailable}
	o, log := newOrchestrator(t, slots)

	_, err := o.Book(context.Background(), request(t))
	if !errors.Is(err, booking.ErrServiceUnavailable) {
		t.Fatalf("Book = %v, want ErrServiceUnavailable", err)
	}
	recs, _ := log.Read()
	if len(recs) != 1 || recs[0].Error == "" {
		t.Errorf("log = %+v, want the failure recorded with its error", recs)
	}
}

func TestFileLog_ConcurrentAppendsStayAtomic(t *testing.T) {
	t.Parallel()

	log := booking.NewFileLog(filepath.Join(t.TempDir(), "bookings.jsonl"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := types.BookingRequest{ID: uuid.New(), Slot: types.AvailabilitySlot{ID: uuid.New()}}
			rec := booking.Record{Timestamp: time.Now().UTC(), RequestID: req.ID, SlotID: req.Slot.ID, Outcome: "confirmed"}
			if err := log.Append(ctx, rec); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, err := log.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 20 {
		t.Errorf("log = %d records, want 20 intact lines", len(recs))
	}
}
