package availability_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/internal/availability"
	"github.com/vocaline/intake/internal/motive"
	"github.com/vocaline/intake/pkg/types"
)

var fixedNow = time.Date(2026, time.August, 24, 8, 0, 0, 0, time.UTC) // a Monday

func fixedClock() time.Time { return fixedNow }

func slotAt(motiveID, practitionerID string, start time.Time) types.AvailabilitySlot {
	return types.AvailabilitySlot{
		ID:             uuid.New(),
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		PractitionerID: practitionerID,
		MotiveID:       motiveID,
		IsAvailable:    true,
	}
}

func TestStore_SeedGeneratesWeekdaySchedule(t *testing.T) {
	t.Parallel()

	s := availability.NewStore().WithClock(fixedClock)
	n := s.Seed(motive.DefaultCatalog(), 7)
	if n == 0 {
		t.Fatal("Seed produced no slots")
	}
	// 7 catalog motives x 3 practitioners x 6 hours x 5 weekdays.
	if want := 7 * 3 * 6 * 5; n != want {
		t.Errorf("Seed = %d slots, want %d", n, want)
	}

	slots := s.Query("follow_up", types.SlotConstraints{Limit: 100})
	for _, slot := range slots {
		if wd := slot.StartTime.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("slot %v on a weekend", slot.StartTime)
		}
		if slot.MotiveID != "follow_up" {
			t.Errorf("slot motive = %q, want follow_up", slot.MotiveID)
		}
	}
}

func TestStore_QueryFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	s := availability.NewStore().WithClock(fixedClock)
	day := fixedNow.AddDate(0, 0, 1)
	for hour := 9; hour <= 16; hour++ {
		s.Add(slotAt("follow_up", "dr-dubois", day.Add(time.Duration(hour-8)*time.Hour)))
	}
	s.Add(slotAt("emergency", "dr-martin", day))

	got := s.Query("follow_up", types.SlotConstraints{Limit: 100})
	if len(got) != 8 {
		t.Fatalf("Query = %d slots, want 8 follow_up slots", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartTime.Before(got[i-1].StartTime) {
			t.Fatal("Query result not ordered by start time")
		}
	}

	paged := s.Query("follow_up", types.SlotConstraints{Limit: 3, Offset: 3})
	if len(paged) != 3 {
		t.Errorf("paged Query = %d slots, want 3", len(paged))
	}
	if paged[0].ID != got[3].ID {
		t.Error("pagination did not skip the first page")
	}

	if got := s.Query("follow_up", types.SlotConstraints{PractitionerID: "dr-martin"}); len(got) != 0 {
		t.Errorf("practitioner filter returned %d slots, want 0", len(got))
	}

	afternoon := s.Query("follow_up", types.SlotConstraints{AfterHour: 14, Limit: 100})
	for _, slot := range afternoon {
		if slot.StartTime.Hour() < 14 {
			t.Errorf("after_hour filter returned %v", slot.StartTime)
		}
	}
}

func TestStore_ReserveConflictAndExpiry(t *testing.T) {
	t.Parallel()

	now := fixedNow
	s := availability.NewStore().WithClock(func() time.Time { return now })
	slot := slotAt("follow_up", "dr-dubois", fixedNow.Add(24*time.Hour))
	s.Add(slot)

	if _, _, err := s.Reserve(slot.ID, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, _, err := s.Reserve(slot.ID, time.Minute); !errors.Is(err, availability.ErrSlotTaken) {
		t.Fatalf("second Reserve = %v, want ErrSlotTaken", err)
	}

	// Reserved slots disappear from queries and read as unavailable.
	if got := s.Query("follow_up", types.SlotConstraints{}); len(got) != 0 {
		t.Errorf("Query returned %d slots, want reserved slot hidden", len(got))
	}
	read, err := s.Get(slot.ID)
	if err != nil || read.IsAvailable {
		t.Errorf("Get = %+v err=%v, want unavailable while held", read, err)
	}

	// The hold expires with time.
	now = now.Add(2 * time.Minute)
	if _, _, err := s.Reserve(slot.ID, time.Minute); err != nil {
		t.Errorf("Reserve after expiry = %v, want success", err)
	}
}

func TestStore_ReleaseAndBook(t *testing.T) {
	t.Parallel()

	s := availability.NewStore().WithClock(fixedClock)
	slot := slotAt("follow_up", "dr-dubois", fixedNow.Add(24*time.Hour))
	s.Add(slot)

	if _, _, err := s.Reserve(slot.ID, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !s.Release(slot.ID) {
		t.Error("Release = false, want held reservation dropped")
	}
	if s.Release(slot.ID) {
		t.Error("second Release = true, want false")
	}

	if err := s.Book(slot.ID, uuid.Nil); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if err := s.Book(slot.ID, uuid.Nil); !errors.Is(err, availability.ErrSlotTaken) {
		t.Errorf("double Book = %v, want ErrSlotTaken", err)
	}
	if got := s.Query("follow_up", types.SlotConstraints{}); len(got) != 0 {
		t.Errorf("Query returned %d slots, want booked slot gone", len(got))
	}
	if err := s.Book(uuid.New(), uuid.Nil); !errors.Is(err, availability.ErrNotFound) {
		t.Errorf("Book(unknown) = %v, want ErrNotFound", err)
	}
}

func TestStore_BookRespectsLiveHold(t *testing.T) {
	t.Parallel()

	now := fixedNow
	s := availability.NewStore().WithClock(func() time.Time { return now })
	slot := slotAt("follow_up", "dr-dubois", fixedNow.Add(24*time.Hour))
	s.Add(slot)

	_, token, err := s.Reserve(slot.ID, time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Someone else booking past the hold must be refused.
	if err := s.Book(slot.ID, uuid.Nil); !errors.Is(err, availability.ErrSlotTaken) {
		t.Fatalf("Book without token = %v, want ErrSlotTaken", err)
	}
	if err := s.Book(slot.ID, uuid.New()); !errors.Is(err, availability.ErrSlotTaken) {
		t.Fatalf("Book with foreign token = %v, want ErrSlotTaken", err)
	}

	// The holder books with its token.
	if err := s.Book(slot.ID, token); err != nil {
		t.Fatalf("Book with hold token = %v, want success", err)
	}
}

func TestStore_BookAfterHoldExpiryNeedsNoToken(t *testing.T) {
	t.Parallel()

	now := fixedNow
	s := availability.NewStore().WithClock(func() time.Time { return now })
	slot := slotAt("follow_up", "dr-dubois", fixedNow.Add(24*time.Hour))
	s.Add(slot)

	if _, _, err := s.Reserve(slot.ID, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	now = now.Add(2 * time.Minute)

	if err := s.Book(slot.ID, uuid.Nil); err != nil {
		t.Errorf("Book after hold expiry = %v, want success", err)
	}
}
