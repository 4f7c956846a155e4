package validate

import (
	"strconv"
	"strings"
	"time"

	"github.com/vocaline/intake/internal/phonetic"
	"github.com/vocaline/intake/pkg/types"
)

// monthNames maps folded French and English month names to the month. STT
// output drifts between languages, so both are accepted.
var monthNames = map[string]time.Month{
	"janvier": time.January, "january": time.January,
	"fevrier": time.February, "february": time.February,
	"mars": time.March, "march": time.March,
	"avril": time.April, "april": time.April,
	"mai": time.May, "may": time.May,
	"juin": time.June, "june": time.June,
	"juillet": time.July, "july": time.July,
	"aout": time.August, "august": time.August,
	"septembre": time.September, "september": time.September,
	"octobre": time.October, "october": time.October,
	"novembre": time.November, "november": time.November,
	"decembre": time.December, "december": time.December,
}

// dayWords are the spoken day forms that are not plain digits.
var dayWords = map[string]int{
	"premier": 1, "1er": 1, "first": 1,
}

// ParseBirthdate extracts a birthdate from a transcribed utterance. Accepted
// shapes, in day-month-year order as spoken in French:
//
//	12/03/1985   12-03-1985   12.03.1985
//	12 mars 1985
//	premier avril 1990
//	je suis né le 12 mars 1985   (surrounding words are ignored)
//
// The boolean result reports whether a date shape was found at all;
// structural validity (real day, not future, plausible age) is checked
// separately by [Birthdate].
func ParseBirthdate(text string) (types.Birthdate, bool) {
	folded := phonetic.Fold(text)
	if folded == "" {
		return types.Birthdate{}, false
	}

	if b, ok := parseNumeric(folded); ok {
		return b, true
	}
	return parseSpoken(folded)
}

// parseNumeric finds a DD/MM/YYYY shape with /, -, or . separators.
func parseNumeric(folded string) (types.Birthdate, bool) {
	for _, tok := range strings.Fields(folded) {
		norm := strings.Map(func(r rune) rune {
			if r == '-' || r == '.' {
				return '/'
			}
			return r
		}, tok)
		parts := strings.Split(norm, "/")
		if len(parts) != 3 {
			continue
		}
		day, err1 := strconv.Atoi(parts[0])
		month, err2 := strconv.Atoi(parts[1])
		year, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		if year < 1000 || month < 1 || month > 12 {
			continue
		}
		return types.Birthdate{Year: year, Month: time.Month(month), Day: day}, true
	}
	return types.Birthdate{}, false
}

// parseSpoken finds a "<day> <month-name> <year>" sequence anywhere in the
// utterance.
func parseSpoken(folded string) (types.Birthdate, bool) {
	tokens := strings.Fields(folded)
	for i, tok := range tokens {
		month, ok := monthNames[tok]
		if !ok {
			continue
		}
		if i == 0 || i+1 >= len(tokens) {
			continue
		}
		day, ok := parseDay(tokens[i-1])
		if !ok {
			continue
		}
		year, err := strconv.Atoi(tokens[i+1])
		if err != nil || year < 1000 {
			continue
		}
		return types.Birthdate{Year: year, Month: month, Day: day}, true
	}
	return types.Birthdate{}, false
}

func parseDay(tok string) (int, bool) {
	if d, ok := dayWords[tok]; ok {
		return d, true
	}
	d, err := strconv.Atoi(tok)
	if err != nil || d < 1 || d > 31 {
		return 0, false
	}
	return d, true
}
