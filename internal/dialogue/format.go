package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/vocaline/intake/pkg/types"
)

// Spoken French date rendering for prompts and readbacks. time.Format is
// English-only, so the names are mapped by hand.

var frenchWeekdays = [7]string{
	"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi",
}

var frenchMonths = [12]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// formatBirthdate renders "12 mars 1985".
func formatBirthdate(b types.Birthdate) string {
	return fmt.Sprintf("%d %s %d", b.Day, frenchMonths[int(b.Month)-1], b.Year)
}

// formatSlotTime renders "mardi 1 septembre à 9h00".
func formatSlotTime(t time.Time) string {
	return fmt.Sprintf("%s %d %s à %dh%02d",
		frenchWeekdays[int(t.Weekday())], t.Day(), frenchMonths[int(t.Month())-1],
		t.Hour(), t.Minute())
}

// formatSlot renders the slot with its practitioner.
func formatSlot(s types.AvailabilitySlot) string {
	return formatSlotTime(s.StartTime) + " avec " + s.PractitionerName
}

// enumeratePage renders a numbered page of slots for readback.
func enumeratePage(page []types.AvailabilitySlot) string {
	parts := make([]string, len(page))
	for i, s := range page {
		parts[i] = fmt.Sprintf("%d. %s", i+1, formatSlot(s))
	}
	return strings.Join(parts, " ; ")
}
