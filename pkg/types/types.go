// Package types defines the shared value types used across all intake packages.
//
// These types form the lingua franca between the reconciliation engine, the
// dialogue state machine, the availability client, and the booking
// orchestrator. They are intentionally minimal — each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Utterance is a single transcribed patient utterance as delivered by the
// turn generator. Immutable once produced.
type Utterance struct {
	// Text is the raw transcription.
	Text string

	// Confidence is the upstream transcription confidence (0.0–1.0). May be
	// zero when the provider does not report confidence.
	Confidence float64

	// Turn is the dialogue turn index this utterance belongs to.
	Turn int

	// Timestamp marks when the utterance was produced.
	Timestamp time.Time
}

// Birthdate is a calendar date without a time component.
type Birthdate struct {
	Year  int
	Month time.Month
	Day   int
}

// Time returns the birthdate as a UTC midnight time.Time.
func (b Birthdate) Time() time.Time {
	return time.Date(b.Year, b.Month, b.Day, 0, 0, 0, 0, time.UTC)
}

// String formats the birthdate as YYYY-MM-DD.
func (b Birthdate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", b.Year, int(b.Month), b.Day)
}

// IsZero reports whether the birthdate is unset.
func (b Birthdate) IsZero() bool {
	return b.Year == 0 && b.Month == 0 && b.Day == 0
}

// PatientIdentity is the confirmed identity triple of a patient. All three
// fields are exact, patient-confirmed spellings — internal hyphens,
// apostrophes, and spaces are preserved verbatim.
type PatientIdentity struct {
	FirstName string
	LastName  string
	Birthdate Birthdate
}

// FullName returns "First Last" for readback.
func (p PatientIdentity) FullName() string {
	return p.FirstName + " " + p.LastName
}

// MotiveSelection is a visit motive resolved against the fixed catalog.
type MotiveSelection struct {
	// ID is the catalog identifier (e.g. "follow_up").
	ID string

	// Name is the literal motive string from the catalog entry.
	Name string

	// Index is the position of the entry in the configured catalog.
	Index int

	// DurationMinutes is the appointment duration for this motive.
	DurationMinutes int
}

// AvailabilitySlot is one bookable slot as returned by the availability
// service. Immutable, externally sourced.
type AvailabilitySlot struct {
	ID               uuid.UUID `json:"id"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	PractitionerName string    `json:"practitioner_name"`
	PractitionerID   string    `json:"practitioner_id"`
	MotiveID         string    `json:"motive_id"`
	IsAvailable      bool      `json:"is_available"`
}

// Duration returns the slot length.
func (s AvailabilitySlot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// SlotConstraints narrows an availability query. The zero value means "the
// default search window, any practitioner, any hour".
type SlotConstraints struct {
	// From and Until bound the search window. Zero values fall back to the
	// service defaults (now .. now+2 weeks).
	From  time.Time
	Until time.Time

	// PractitionerID filters to a single practitioner when non-empty.
	PractitionerID string

	// AfterHour / BeforeHour restrict the slot start hour when non-zero.
	AfterHour  int
	BeforeHour int

	// Limit caps the number of returned slots. Zero means service default.
	Limit int

	// Offset skips slots for pagination.
	Offset int
}

// ErrIncompleteBooking is returned by NewBookingRequest when any of the three
// inputs is still unresolved.
var ErrIncompleteBooking = errors.New("booking request requires confirmed identity, motive, and slot")

// BookingRequest is the write-once tuple submitted to the appointment
// orchestrator. It can only be constructed through [NewBookingRequest], which
// refuses partial input, so a BookingRequest in circulation is always complete.
type BookingRequest struct {
	// ID uniquely identifies this request for exactly-once submission.
	ID uuid.UUID

	Patient PatientIdentity
	Motive  MotiveSelection
	Slot    AvailabilitySlot

	// CreatedAt is when the request was constructed.
	CreatedAt time.Time
}

// NewBookingRequest builds a BookingRequest from confirmed inputs. It returns
// [ErrIncompleteBooking] if the identity has an empty name or zero birthdate,
// the motive is unresolved, or the slot has no identifier.
func NewBookingRequest(patient PatientIdentity, motive MotiveSelection, slot AvailabilitySlot) (BookingRequest, error) {
	switch {
	case patient.FirstName == "" || patient.LastName == "" || patient.Birthdate.IsZero():
		return BookingRequest{}, fmt.Errorf("%w: identity unresolved", ErrIncompleteBooking)
	case motive.ID == "" || motive.Name == "":
		return BookingRequest{}, fmt.Errorf("%w: motive unresolved", ErrIncompleteBooking)
	case slot.ID == uuid.Nil:
		return BookingRequest{}, fmt.Errorf("%w: no slot selected", ErrIncompleteBooking)
	}
	return BookingRequest{
		ID:        uuid.New(),
		Patient:   patient,
		Motive:    motive,
		Slot:      slot,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// BookingConfirmation is the orchestrator's answer to a successful booking.
type BookingConfirmation struct {
	// BookingID is the confirmation identifier.
	BookingID uuid.UUID

	// RequestID echoes the BookingRequest ID that produced this confirmation.
	RequestID uuid.UUID

	// Slot is the booked slot.
	Slot AvailabilitySlot

	// ConfirmedAt is when the booking was recorded.
	ConfirmedAt time.Time
}
