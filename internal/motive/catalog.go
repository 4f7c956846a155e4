// Package motive resolves free-text visit descriptions against a fixed,
// externally supplied motive catalog. The matcher never invents a motive and
// never silently defaults: below-threshold or tied input re-prompts with the
// enumerated list.
package motive

import (
	"fmt"
	"strings"

	"github.com/vocaline/intake/internal/phonetic"
)

// Entry is one catalog motive. The catalog is loaded once per process from
// configuration and passed into each session as an immutable value.
type Entry struct {
	// ID identifies the motive to the availability service.
	ID string `yaml:"id"`

	// Name is the spoken name read back to the patient.
	Name string `yaml:"name"`

	// DurationMinutes is the appointment length.
	DurationMinutes int `yaml:"duration_minutes"`

	// Description is an optional longer hint, matched like keywords.
	Description string `yaml:"description"`

	// Keywords are extra synonym terms beyond the name's own words.
	Keywords []string `yaml:"keywords"`
}

// DefaultCatalog returns the ophthalmology practice catalog used when the
// configuration supplies none.
func DefaultCatalog() []Entry {
	return []Entry{
		{
			ID:              "first_consultation",
			Name:            "Première consultation d'ophtalmologie",
			DurationMinutes: 45,
			Description:     "Première visite pour examen complet de la vue",
			Keywords:        []string{"première fois", "jamais venu", "nouveau patient", "first visit"},
		},
		{
			ID:              "follow_up",
			Name:            "Consultation de suivi d'ophtalmologie",
			DurationMinutes: 30,
			Description:     "Visite de contrôle après traitement",
			Keywords:        []string{"suivi", "contrôle", "revoir", "retour", "follow up"},
		},
		{
			ID:              "glasses_renewal",
			Name:            "Renouvellement de lunettes",
			DurationMinutes: 20,
			Description:     "Examen pour renouvellement de prescription",
			Keywords:        []string{"lunettes", "ordonnance", "prescription", "glasses"},
		},
		{
			ID:              "lens_trial",
			Name:            "Essai de lentilles",
			DurationMinutes: 30,
			Description:     "Premier essai d'adaptation aux lentilles",
			Keywords:        []string{"lentilles", "contact", "adaptation"},
		},
		{
			ID:              "lens_checkup",
			Name:            "Bilan lentilles - 1 mois",
			DurationMinutes: 20,
			Description:     "Contrôle après un mois de port de lentilles",
			Keywords:        []string{"bilan lentilles", "un mois"},
		},
		{
			ID:              "emergency",
			Name:            "Urgence oculaire",
			DurationMinutes: 30,
			Description:     "Consultation d'urgence pour problème oculaire",
			Keywords:        []string{"urgence", "douleur", "oeil rouge", "blessure", "emergency"},
		},
		{
			ID:              "cataract_surgery",
			Name:            "Opération Cataracte",
			DurationMinutes: 60,
			Description:     "Consultation pré-opératoire pour cataracte",
			Keywords:        []string{"cataracte", "opération", "chirurgie", "surgery"},
		},
	}
}

// builtinSynonyms maps a folded catalog term to spoken phrasings that imply
// it. They apply to any configured catalog, so a bare-names list like
// ["general checkup", "vaccination", "follow-up"] still understands
// "I need a shot".
var builtinSynonyms = map[string][]string{
	"vaccination": {"shot", "vaccin", "vaccine", "piqure", "injection"},
	"checkup":     {"bilan", "controle", "check up", "examen"},
	"emergency":   {"urgence", "urgent"},
	"urgence":     {"emergency", "urgent"},
	"lentilles":   {"contact lens", "lentille"},
	"lunettes":    {"glasses", "verres"},
	"suivi":       {"follow up", "followup", "retour"},
}

// slug derives a catalog ID from a name when the configuration omits one.
func slug(name string) string {
	folded := phonetic.Fold(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, folded)
}

// normalize fills defaults and rejects structurally broken catalogs.
func normalize(entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("motive: catalog is empty")
	}
	out := make([]Entry, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("motive: entry %d has no name", i)
		}
		if e.ID == "" {
			e.ID = slug(e.Name)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("motive: duplicate id %q", e.ID)
		}
		seen[e.ID] = true
		if e.DurationMinutes <= 0 {
			e.DurationMinutes = 30
		}
		out[i] = e
	}
	return out, nil
}
