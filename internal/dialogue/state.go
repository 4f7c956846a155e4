// Package dialogue is the top-level booking conversation controller. It
// sequences identity capture, motive selection, availability lookup and final
// confirmation over a [turn.Exchanger], owning one ConversationState for the
// lifetime of a single call. Nothing here persists across calls except what
// the booking log records.
package dialogue

import (
	"time"

	"github.com/google/uuid"

	"github.com/vocaline/intake/internal/reconcile"
	"github.com/vocaline/intake/internal/resilience"
	"github.com/vocaline/intake/pkg/types"
)

// State is the machine's current position in the call.
type State int

const (
	StateGreeting State = iota
	StateCollectFirstName
	StateCollectLastName
	StateCollectBirthdate
	StateConfirmIdentity
	StateCollectMotive
	StateFindAvailability
	StatePresentSlots
	StateConfirmBooking
	StateComplete
	StateAborted
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateCollectFirstName:
		return "collect_first_name"
	case StateCollectLastName:
		return "collect_last_name"
	case StateCollectBirthdate:
		return "collect_birthdate"
	case StateConfirmIdentity:
		return "confirm_identity"
	case StateCollectMotive:
		return "collect_motive"
	case StateFindAvailability:
		return "find_availability"
	case StatePresentSlots:
		return "present_slots"
	case StateConfirmBooking:
		return "confirm_booking"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Config tunes one conversation. Zero values take the defaults below.
type Config struct {
	// Field configures the per-field reconciliation thresholds.
	Field reconcile.Config

	// PageSize is how many slots are read back per page. Default 3.
	PageSize int

	// MaxSilentTurns aborts the call after this many consecutive silence
	// windows. Default 3.
	MaxSilentTurns int

	// SearchWindowDays is the availability search window. Default 14.
	SearchWindowDays int

	// Retry governs the booking submission retry on transport failure.
	Retry resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = 3
	}
	if c.MaxSilentTurns == 0 {
		c.MaxSilentTurns = 3
	}
	if c.SearchWindowDays == 0 {
		c.SearchWindowDays = 14
	}
	return c
}

// ConversationState is everything one call accumulates. It is owned
// exclusively by the machine and discarded at call end.
type ConversationState struct {
	// State is the machine's current state tag.
	State State

	// FirstName and LastName run the reconciliation engine per field.
	FirstName *reconcile.Field
	LastName  *reconcile.Field

	// Birthdate is set once a candidate date passed validation and readback.
	Birthdate types.Birthdate

	// BirthdateRetries counts failed birthdate collection rounds.
	BirthdateRetries int

	// Motive is the resolved visit motive, zero until matched.
	Motive types.MotiveSelection

	// Slots holds the candidate availability slots from the last lookup.
	Slots []types.AvailabilitySlot

	// PageOffset is the index of the first slot on the current page.
	PageOffset int

	// Excluded holds slot IDs that failed at submission and must not be
	// re-offered.
	Excluded map[uuid.UUID]bool

	// Chosen is the slot the patient selected, nil until selection.
	Chosen *types.AvailabilitySlot

	// SearchFrom shifts the availability window when the patient asks for a
	// later date. Zero means "from now".
	SearchFrom time.Time

	// Confirmation is set exactly once, when booking succeeds.
	Confirmation *types.BookingConfirmation

	silentTurns int
}

// Identity assembles the confirmed patient identity. It is only meaningful
// once both name fields are confirmed and the birthdate is set.
func (cs *ConversationState) Identity() types.PatientIdentity {
	return types.PatientIdentity{
		FirstName: cs.FirstName.Value(),
		LastName:  cs.LastName.Value(),
		Birthdate: cs.Birthdate,
	}
}

// offered returns the slots still eligible for presentation.
func (cs *ConversationState) offered() []types.AvailabilitySlot {
	out := make([]types.AvailabilitySlot, 0, len(cs.Slots))
	for _, s := range cs.Slots {
		if !cs.Excluded[s.ID] {
			out = append(out, s)
		}
	}
	return out
}
