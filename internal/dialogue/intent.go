package dialogue

import (
	"strconv"
	"strings"

	"github.com/vocaline/intake/internal/phonetic"
	"github.com/vocaline/intake/pkg/types"
)

// Lightweight intent detection over folded text. The machine is the source
// of truth for dialogue state; these helpers only classify short patient
// answers (yes/no, cancellation, ordinal slot picks), never extract fields.

var yesWords = map[string]bool{
	"oui": true, "ouais": true, "ouaip": true, "exact": true, "exactement": true,
	"correct": true, "parfait": true, "absolument": true, "affirmatif": true,
	"yes": true, "yep": true, "yeah": true, "sure": true, "ok": true, "okay": true,
}

var yesPhrases = []string{
	"c'est ca", "c'est bien ca", "c'est exact", "tout a fait", "d'accord", "bien sur",
	"that's right", "that's correct", "of course",
}

var noWords = map[string]bool{
	"non": true, "no": true, "nope": true, "faux": true, "incorrect": true, "negatif": true,
}

var noPhrases = []string{
	"pas du tout", "pas exactement", "pas vraiment", "c'est faux", "not really", "not quite",
}

var abortPhrases = []string{
	"annuler", "j'annule", "annulez", "cancel", "laissez tomber", "laisse tomber",
	"au revoir", "goodbye", "raccrocher", "je raccroche", "stop", "arretez", "tant pis",
}

// isYes reports an affirmative answer.
func isYes(text string) bool {
	folded := phonetic.Fold(text)
	for _, p := range yesPhrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	for _, w := range strings.Fields(folded) {
		if yesWords[strings.Trim(w, ".,!?")] {
			return true
		}
	}
	return false
}

// isNo reports a negative answer. Checked before isYes by callers, since
// "non non c'est pas ca" must not read as agreement.
func isNo(text string) bool {
	folded := phonetic.Fold(text)
	for _, p := range noPhrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	for _, w := range strings.Fields(folded) {
		if noWords[strings.Trim(w, ".,!?")] {
			return true
		}
	}
	return false
}

// isAbort reports an explicit cancellation.
func isAbort(text string) bool {
	folded := phonetic.Fold(text)
	for _, p := range abortPhrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

// correctionTarget maps "c'est le nom qui est faux" style answers to the one
// field to re-open. Empty when no field is named.
func correctionTarget(text string) string {
	folded := phonetic.Fold(text)
	switch {
	case strings.Contains(folded, "prenom") || strings.Contains(folded, "first name"):
		return "first_name"
	case strings.Contains(folded, "nom") || strings.Contains(folded, "last name") ||
		strings.Contains(folded, "surname"):
		return "last_name"
	case strings.Contains(folded, "naissance") || strings.Contains(folded, "date") ||
		strings.Contains(folded, "birth"):
		return "birthdate"
	default:
		return ""
	}
}

var ordinals = map[string]int{
	"premier": 0, "premiere": 0, "first": 0, "un": 0, "une": 0, "1": 0, "1er": 0,
	"deuxieme": 1, "second": 1, "seconde": 1, "deux": 1, "2": 1, "2eme": 1,
	"troisieme": 2, "third": 2, "trois": 2, "3": 2, "3eme": 2,
}

// ordinalIndex extracts an ordinal slot reference ("le premier", "the
// second", "numéro 2") as a zero-based index.
func ordinalIndex(text string) (int, bool) {
	for _, w := range strings.Fields(phonetic.Fold(text)) {
		if idx, ok := ordinals[strings.Trim(w, ".,!?")]; ok {
			return idx, true
		}
	}
	return 0, false
}

var morePhrases = []string{
	"autres", "d'autres", "suivant", "suivants", "apres", "plus tard",
	"more", "next", "later", "others", "autre chose", "autre creneau", "autre horaire",
}

// wantsMore reports a request for the next page of slots.
func wantsMore(text string) bool {
	folded := phonetic.Fold(text)
	for _, p := range morePhrases {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

var weekdayNames = map[string]int{
	"dimanche": 0, "sunday": 0,
	"lundi": 1, "monday": 1,
	"mardi": 2, "tuesday": 2,
	"mercredi": 3, "wednesday": 3,
	"jeudi": 4, "thursday": 4,
	"vendredi": 5, "friday": 5,
	"samedi": 6, "saturday": 6,
}

// matchSlotByTime resolves a restated time ("mardi à 9 heures", "celui de
// 14h30") against the presented page. The match must be unique; a reference
// fitting two slots on the page stays unresolved so the machine re-prompts
// instead of guessing.
func matchSlotByTime(text string, page []types.AvailabilitySlot) (int, bool) {
	folded := phonetic.Fold(text)
	hour, hasHour := parseSpokenHour(folded)
	weekday, hasDay := spokenWeekday(folded)
	if !hasHour && !hasDay {
		return 0, false
	}

	match, count := 0, 0
	for i, s := range page {
		if hasHour && s.StartTime.Hour() != hour {
			continue
		}
		if hasDay && int(s.StartTime.Weekday()) != weekday {
			continue
		}
		match, count = i, count+1
	}
	if count != 1 {
		return 0, false
	}
	return match, true
}

// parseSpokenHour finds an hour reference: "9h", "9h30", "9:00", "9 heures",
// "14 h". Returns the hour only; minute precision beyond the hour is not
// needed because slots never share an hour on one page.
func parseSpokenHour(folded string) (int, bool) {
	words := strings.Fields(folded)
	for i, w := range words {
		w = strings.Trim(w, ".,!?")
		if h, ok := hourToken(w); ok {
			return h, true
		}
		// "9 heures" / "9 h" split across tokens.
		if i+1 < len(words) {
			next := strings.Trim(words[i+1], ".,!?")
			if next == "h" || next == "heure" || next == "heures" {
				if h, err := strconv.Atoi(w); err == nil && h >= 0 && h <= 23 {
					return h, true
				}
			}
		}
	}
	return 0, false
}

// hourToken parses a single "9h", "9h30" or "9:00" token.
func hourToken(w string) (int, bool) {
	for _, sep := range []string{"h", ":"} {
		head, _, found := strings.Cut(w, sep)
		if !found || head == "" {
			continue
		}
		if h, err := strconv.Atoi(head); err == nil && h >= 0 && h <= 23 {
			return h, true
		}
	}
	return 0, false
}

func spokenWeekday(folded string) (int, bool) {
	for _, w := range strings.Fields(folded) {
		if d, ok := weekdayNames[strings.Trim(w, ".,!?")]; ok {
			return d, true
		}
	}
	return 0, false
}
