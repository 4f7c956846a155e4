// Package validate performs structural checks on collected field values,
// independent of phonetic reconciliation. Rejections carry a reason code and
// re-enter the owning field's collection state; values are never silently
// coerced.
package validate

import (
	"time"

	"github.com/vocaline/intake/internal/phonetic"
	"github.com/vocaline/intake/pkg/types"
)

// Reason is a machine-readable rejection code. The dialogue layer maps these
// onto spoken re-prompts.
type Reason string

const (
	ReasonEmpty           Reason = "empty"
	ReasonNoLetter        Reason = "no_letter"
	ReasonUnparseable     Reason = "unparseable_date"
	ReasonNotACalendarDay Reason = "not_a_calendar_day"
	ReasonFutureDate      Reason = "future_date"
	ReasonImplausibleAge  Reason = "implausible_age"
)

// Result is an accept/reject decision with the rejecting reason.
type Result struct {
	OK     bool
	Reason Reason
}

func accept() Result         { return Result{OK: true} }
func reject(r Reason) Result { return Result{Reason: r} }

// MaxAgeYears bounds the plausible patient age. A birthdate older than this
// is rejected as a transcription artifact.
const MaxAgeYears = 120

// Name checks that a name field is non-empty after normalization and contains
// at least one letter.
func Name(s string) Result {
	folded := phonetic.Fold(s)
	if folded == "" {
		return reject(ReasonEmpty)
	}
	if !phonetic.HasLetter(folded) {
		return reject(ReasonNoLetter)
	}
	return accept()
}

// Birthdate checks that a birthdate is a real calendar date, not in the
// future, and within the plausible age range relative to now.
func Birthdate(b types.Birthdate, now time.Time) Result {
	if b.IsZero() {
		return reject(ReasonEmpty)
	}
	if b.Month < time.January || b.Month > time.December || b.Day < 1 || b.Year < 1 {
		return reject(ReasonNotACalendarDay)
	}
	// time.Date normalizes overflow (Feb 30 → Mar 2); a round-trip mismatch
	// means the components were not a real day.
	t := b.Time()
	if y, m, d := t.Date(); y != b.Year || m != b.Month || d != b.Day {
		return reject(ReasonNotACalendarDay)
	}
	if t.After(now) {
		return reject(ReasonFutureDate)
	}
	if b.Year < now.Year()-MaxAgeYears {
		return reject(ReasonImplausibleAge)
	}
	return accept()
}
