package dialogue_test

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/vocaline/intake/internal/booking"
	"github.com/vocaline/intake/internal/dialogue"
	"github.com/vocaline/intake/internal/motive"
	"github.com/vocaline/intake/internal/observe"
	"github.com/vocaline/intake/internal/reconcile"
	"github.com/vocaline/intake/internal/turn"
	"github.com/vocaline/intake/pkg/types"
)

var fixedNow = time.Date(2026, time.August, 24, 10, 0, 0, 0, time.UTC)

// fakeBooker scripts the appointment collaborator: one availability answer
// per FindSlots call, one error per Book call.
type fakeBooker struct {
	pages       [][]types.AvailabilitySlot
	findErr     error
	findCalls   int
	constraints []types.SlotConstraints

	bookErrs  []error
	bookCalls int
	reqs      []types.BookingRequest
}

func (f *fakeBooker) FindSlots(_ context.Context, _ string, c types.SlotConstraints) ([]types.AvailabilitySlot, error) {
	f.findCalls++
	f.constraints = append(f.constraints, c)
	if f.findErr != nil {
		return nil, f.findErr
	}
	idx := f.findCalls - 1
	if idx >= len(f.pages) {
		idx = len(f.pages) - 1
	}
	if idx < 0 {
		return nil, nil
	}
	return f.pages[idx], nil
}

func (f *fakeBooker) Book(_ context.Context, req types.BookingRequest) (types.BookingConfirmation, error) {
	f.bookCalls++
	f.reqs = append(f.reqs, req)
	if len(f.bookErrs) > 0 {
		err := f.bookErrs[0]
		f.bookErrs = f.bookErrs[1:]
		if err != nil {
			return types.BookingConfirmation{}, err
		}
	}
	return types.BookingConfirmation{
		BookingID:   uuid.New(),
		RequestID:   req.ID,
		Slot:        req.Slot,
		ConfirmedAt: fixedNow,
	}, nil
}

func slotAt(hour int) types.AvailabilitySlot {
	start := time.Date(2026, time.September, 1, hour, 0, 0, 0, time.UTC)
	return types.AvailabilitySlot{
		ID:               uuid.New(),
		StartTime:        start,
		EndTime:          start.Add(30 * time.Minute),
		PractitionerName: "Dr. Marie Dubois",
		PractitionerID:   "dr-dubois",
		MotiveID:         "glasses_renewal",
		IsAvailable:      true,
	}
}

func frenchMatcher(t *testing.T) *motive.Matcher {
	t.Helper()
	m, err := motive.NewMatcher(motive.DefaultCatalog())
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func newMachine(t *testing.T, script *turn.Script, matcher *motive.Matcher, booker dialogue.Booker) *dialogue.Machine {
	t.Helper()
	return dialogue.NewMachine(script, matcher, booker, reconcile.NewFrenchLexicon(), dialogue.Config{}, nil).
		WithClock(func() time.Time { return fixedNow })
}

// identityReplies walks the identity capture happy path.
func identityReplies(first, last string) []turn.ScriptStep {
	return []turn.ScriptStep{
		turn.Reply(first), turn.Reply("oui"),
		turn.Reply(last), turn.Reply("oui"),
		turn.Reply("12 mars 1985"), turn.Reply("oui"),
		turn.Reply("oui"), // identity recap
	}
}

func TestRun_CompletesFullBooking(t *testing.T) {
	t.Parallel()

	steps := append(identityReplies("Gaël", "Chauveau"),
		turn.Reply("un renouvellement de lunettes"),
		turn.Reply("celui de 9 heures"),
		turn.Reply("oui"),
	)
	script := turn.NewScript(steps...)
	booker := &fakeBooker{pages: [][]types.AvailabilitySlot{{slotAt(9), slotAt(10)}}}

	conf, err := newMachine(t, script, frenchMatcher(t), booker).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conf.BookingID == uuid.Nil {
		t.Error("confirmation has no booking id")
	}

	if len(booker.reqs) != 1 {
		t.Fatalf("book calls = %d, want 1", len(booker.reqs))
	}
	req := booker.reqs[0]
	if req.Patient.FirstName != "Gaël" || req.Patient.LastName != "Chauveau" {
		t.Errorf("patient = %+v, want Gaël Chauveau", req.Patient)
	}
	if req.Patient.Birthdate.String() != "1985-03-12" {
		t.Errorf("birthdate = %s, want 1985-03-12", req.Patient.Birthdate)
	}
	if req.Motive.ID != "glasses_renewal" {
		t.Errorf("motive = %s, want glasses_renewal", req.Motive.ID)
	}
	if req.Slot.StartTime.Hour() != 9 {
		t.Errorf("slot hour = %d, want the restated 9h slot", req.Slot.StartTime.Hour())
	}

	all := strings.Join(script.Prompts(), "\n")
	if !strings.Contains(all, "épelé") || !strings.Contains(all, "confirmé") {
		t.Errorf("prompts miss readback or confirmation:\n%s", all)
	}
}

func TestRun_CompletedCallReplaysWithoutResubmitting(t *testing.T) {
	t.Parallel()

	steps := append(identityReplies("Gaël", "Chauveau"),
		turn.Reply("un renouvellement de lunettes"),
		turn.Reply("le premier"),
		turn.Reply("oui"),
	)
	booker := &fakeBooker{pages: [][]types.AvailabilitySlot{{slotAt(9)}}}
	m := newMachine(t, turn.NewScript(steps...), frenchMatcher(t), booker)
	ctx := context.Background()

	first, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("re-entered Run: %v", err)
	}
	if second.BookingID != first.BookingID || booker.bookCalls != 1 {
		t.Errorf("re-entry produced booking %v after %d calls, want replay of %v with 1 call",
			second.BookingID, booker.bookCalls, first.BookingID)
	}
}

func TestRun_RejectedReadbackThenSpellingConfirms(t *testing.T) {
	t.Parallel()

	// Mis-heard "Chauvot", rejected at readback, then spelled out. The script
	// ends there, so the call aborts as a hangup with the field confirmed.
	script := turn.NewScript(
		turn.Reply("Chauvot"),
		turn.Reply("non"),
		turn.Reply("C comme Célestine, H, A, U, V, E, A, U"),
		turn.Reply("oui"),
	)
	booker := &fakeBooker{}
	m := newMachine(t, script, frenchMatcher(t), booker)

	_, err := m.Run(context.Background())
	if !errors.Is(err, dialogue.ErrCallAborted) {
		t.Fatalf("Run = %v, want abort after script end", err)
	}
	if got := m.Conversation().FirstName.Value(); got != "Chauveau" {
		t.Errorf("first name = %q, want the spelled Chauveau", got)
	}
}

func TestRun_EmptyAvailabilityOffersAlternatives(t *testing.T) {
	t.Parallel()

	catalog := []motive.Entry{
		{Name: "general checkup"}, {Name: "vaccination"}, {Name: "follow-up"},
	}
	matcher, err := motive.NewMatcher(catalog)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	steps := append(identityReplies("Paul", "Martin"),
		turn.Reply("I need a shot"),
		turn.Reply("une autre période"),
		turn.Reply("the first"),
		turn.Reply("yes"),
	)
	booker := &fakeBooker{pages: [][]types.AvailabilitySlot{nil, {slotAt(10)}}}

	conf, err := newMachine(t, turn.NewScript(steps...), matcher, booker).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conf.Slot.StartTime.Hour() != 10 {
		t.Errorf("booked slot hour = %d, want 10", conf.Slot.StartTime.Hour())
	}

	if booker.reqs[0].Motive.ID != "vaccination" {
		t.Errorf("motive = %s, want vaccination from \"I need a shot\"", booker.reqs[0].Motive.ID)
	}
	if booker.findCalls != 2 {
		t.Fatalf("find calls = %d, want an initial query plus the shifted window", booker.findCalls)
	}
	if booker.constraints[1].From.IsZero() || !booker.constraints[1].From.After(fixedNow) {
		t.Errorf("second query window = %+v, want a future From", booker.constraints[1])
	}
}

func TestRun_SlotConflictReoffersWithoutFailedSlot(t *testing.T) {
	t.Parallel()

	first, second := slotAt(9), slotAt(10)
	booker := &fakeBooker{
		pages:    [][]types.AvailabilitySlot{{first, second}},
		bookErrs: []error{booking.ErrSlotNoLongerAvailable},
	}
	steps := append(identityReplies("Gaël", "Chauveau"),
		turn.Reply("un renouvellement de lunettes"),
		turn.Reply("le premier"), turn.Reply("oui"), // conflicts
		turn.Reply("le premier"), turn.Reply("oui"), // re-offered page minus the failed slot
	)

	conf, err := newMachine(t, turn.NewScript(steps...), frenchMatcher(t), booker).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if booker.bookCalls != 2 {
		t.Fatalf("book calls = %d, want the conflict plus one retry on a different slot", booker.bookCalls)
	}
	if booker.reqs[0].Slot.ID != first.ID || booker.reqs[1].Slot.ID != second.ID {
		t.Errorf("submissions = %v then %v, want %v then %v",
			booker.reqs[0].Slot.ID, booker.reqs[1].Slot.ID, first.ID, second.ID)
	}
	if booker.reqs[0].ID == booker.reqs[1].ID {
		t.Error("both submissions share a request id; the failed slot must not be silently retried")
	}
	if conf.Slot.ID != second.ID {
		t.Errorf("confirmed slot = %v, want %v", conf.Slot.ID, second.ID)
	}
}

func TestRun_ServiceOutageAbortsWithApology(t *testing.T) {
	t.Parallel()

	steps := append(identityReplies("Gaël", "Chauveau"),
		turn.Reply("un renouvellement de lunettes"),
	)
	booker := &fakeBooker{findErr: booking.ErrServiceUnavailable}
	script := turn.NewScript(steps...)

	_, err := newMachine(t, script, frenchMatcher(t), booker).Run(context.Background())
	if !errors.Is(err, dialogue.ErrCallAborted) {
		t.Fatalf("Run = %v, want ErrCallAborted", err)
	}
	all := strings.Join(script.Prompts(), "\n")
	if !strings.Contains(all, "indisponible") {
		t.Errorf("prompts miss the spoken apology:\n%s", all)
	}
	if booker.bookCalls != 0 {
		t.Errorf("book calls = %d, want none after the outage", booker.bookCalls)
	}
}

func TestRun_CancellationWordEndsTheCall(t *testing.T) {
	t.Parallel()

	script := turn.NewScript(turn.Reply("annuler"))
	_, err := newMachine(t, script, frenchMatcher(t), &fakeBooker{}).Run(context.Background())
	if !errors.Is(err, dialogue.ErrCallAborted) {
		t.Fatalf("Run = %v, want ErrCallAborted", err)
	}
	all := strings.Join(script.Prompts(), "\n")
	if !strings.Contains(all, "Au revoir") {
		t.Errorf("prompts miss the farewell:\n%s", all)
	}
}

func TestRun_SilenceRepromptsWithoutLosingState(t *testing.T) {
	t.Parallel()

	script := turn.NewScript(
		turn.ScriptStep{Silence: true},
		turn.Reply("Gaël"),
		turn.Reply("oui"),
	)
	m := newMachine(t, script, frenchMatcher(t), &fakeBooker{})

	_, err := m.Run(context.Background())
	if !errors.Is(err, dialogue.ErrCallAborted) {
		t.Fatalf("Run = %v, want abort after script end", err)
	}
	if got := m.Conversation().FirstName.Value(); got != "Gaël" {
		t.Errorf("first name = %q, want Gaël confirmed despite the silence", got)
	}
	all := strings.Join(script.Prompts(), "\n")
	if !strings.Contains(all, "toujours là") {
		t.Errorf("prompts miss the silence re-prompt:\n%s", all)
	}
}

func TestRun_HangupAfterRepeatedSilence(t *testing.T) {
	t.Parallel()

	script := turn.NewScript(
		turn.ScriptStep{Silence: true},
		turn.ScriptStep{Silence: true},
		turn.ScriptStep{Silence: true},
	)
	_, err := newMachine(t, script, frenchMatcher(t), &fakeBooker{}).Run(context.Background())
	if !errors.Is(err, dialogue.ErrCallAborted) {
		t.Fatalf("Run = %v, want ErrCallAborted", err)
	}
}

func TestRun_CorrectionReopensOnlyNamedField(t *testing.T) {
	t.Parallel()

	steps := []turn.ScriptStep{
		turn.Reply("Gaël"), turn.Reply("oui"),
		turn.Reply("Chauveau"), turn.Reply("oui"),
		turn.Reply("12 mars 1985"), turn.Reply("oui"),
		turn.Reply("non, le prénom est faux"),
		turn.Reply("Luce"), turn.Reply("oui"), // re-collect first name only
		turn.Reply("oui"), // recap again
		turn.Reply("un renouvellement de lunettes"),
		turn.Reply("le premier"), turn.Reply("oui"),
	}
	booker := &fakeBooker{pages: [][]types.AvailabilitySlot{{slotAt(9)}}}

	_, err := newMachine(t, turn.NewScript(steps...), frenchMatcher(t), booker).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	req := booker.reqs[0]
	if req.Patient.FirstName != "Luce" {
		t.Errorf("first name = %q, want the corrected Luce", req.Patient.FirstName)
	}
	if req.Patient.LastName != "Chauveau" || req.Patient.Birthdate.String() != "1985-03-12" {
		t.Errorf("untouched fields changed: %+v", req.Patient)
	}
}

// newMeteredMachine builds a machine with its own metric pipeline so the
// recorded instruments can be inspected through the manual reader.
func newMeteredMachine(t *testing.T, script *turn.Script, booker dialogue.Booker) (*dialogue.Machine, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	met, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return newMachine(t, script, frenchMatcher(t), booker).WithMetrics(met), reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// sumCounter totals an int64 counter, optionally restricted to one field
// attribute value.
func sumCounter(rm metricdata.ResourceMetrics, name, field string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if field != "" {
					v, ok := dp.Attributes.Value(attribute.Key("field"))
					if !ok || v.AsString() != field {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func histogramCount(rm metricdata.ResourceMetrics, name string) uint64 {
	var total uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				continue
			}
			for _, dp := range h.DataPoints {
				total += dp.Count
			}
		}
	}
	return total
}

func TestRun_RecordsTurnRetryAndMergeInstruments(t *testing.T) {
	t.Parallel()

	// One rejected readback (a retry), then the repeated Chauveau merges back
	// into the penalized candidate and is accepted.
	script := turn.NewScript(
		turn.Reply("Chauveau"),
		turn.Reply("non"),
		turn.Reply("Chauveau"),
		turn.Reply("oui"),
	)
	m, reader := newMeteredMachine(t, script, &fakeBooker{})

	if _, err := m.Run(context.Background()); !errors.Is(err, dialogue.ErrCallAborted) {
		t.Fatalf("Run = %v, want abort after script end", err)
	}

	rm := collectMetrics(t, reader)
	if got := sumCounter(rm, "intake.field.retries", "first_name"); got != 1 {
		t.Errorf("field retries = %d, want 1 for the rejected readback", got)
	}
	if got := sumCounter(rm, "intake.field.merges", "first_name"); got < 1 {
		t.Errorf("candidate merges = %d, want the repeated Chauveau counted as a merge", got)
	}
	if got := histogramCount(rm, "intake.turn.duration"); got == 0 {
		t.Error("turn duration histogram is empty, want one sample per completed turn")
	}
	if got := sumCounter(rm, "intake.field.escalations", ""); got != 0 {
		t.Errorf("escalations = %d, want none on a confirmed field", got)
	}
}

func TestRun_RecordsEscalationAtRetryCeiling(t *testing.T) {
	t.Parallel()

	script := turn.NewScript(
		turn.Reply("Chauveau"), turn.Reply("non"),
		turn.Reply("Chauveau"), turn.Reply("non"),
		turn.Reply("Chauveau"), turn.Reply("non"),
	)
	m, reader := newMeteredMachine(t, script, &fakeBooker{})

	if _, err := m.Run(context.Background()); !errors.Is(err, dialogue.ErrCallAborted) {
		t.Fatalf("Run = %v, want the call abandoned", err)
	}

	rm := collectMetrics(t, reader)
	if got := sumCounter(rm, "intake.field.escalations", "first_name"); got != 1 {
		t.Errorf("escalations = %d, want the first name given up exactly once", got)
	}
	if got := sumCounter(rm, "intake.field.retries", "first_name"); got != 3 {
		t.Errorf("field retries = %d, want the three rejected readbacks", got)
	}
}

func TestNewBookingRequest_RefusesAnyUnresolvedInput(t *testing.T) {
	t.Parallel()

	patient := types.PatientIdentity{
		FirstName: "Gaël", LastName: "Chauveau",
		Birthdate: types.Birthdate{Year: 1985, Month: time.March, Day: 12},
	}
	sel := types.MotiveSelection{ID: "follow_up", Name: "Consultation de suivi"}
	slot := slotAt(9)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		p, m, s := patient, sel, slot
		mask := rng.Intn(7) + 1 // at least one input unresolved
		if mask&1 != 0 {
			switch rng.Intn(3) {
			case 0:
				p.FirstName = ""
			case 1:
				p.LastName = ""
			default:
				p.Birthdate = types.Birthdate{}
			}
		}
		if mask&2 != 0 {
			m = types.MotiveSelection{}
		}
		if mask&4 != 0 {
			s.ID = uuid.Nil
		}
		if _, err := types.NewBookingRequest(p, m, s); !errors.Is(err, types.ErrIncompleteBooking) {
			t.Fatalf("mask %d: NewBookingRequest = %v, want ErrIncompleteBooking", mask, err)
		}
	}

	if _, err := types.NewBookingRequest(patient, sel, slot); err != nil {
		t.Errorf("complete inputs rejected: %v", err)
	}
}
