package phonetic_test

import (
	"testing"

	"github.com/vocaline/intake/internal/phonetic"
)

func TestMatcher_BestPicksPhoneticCandidate(t *testing.T) {
	t.Parallel()

	m := phonetic.NewMatcher()
	candidates := []string{"Chauveau", "Martin", "Dubois"}

	corrected, conf, matched := m.Best("chauvo", candidates)
	if !matched {
		t.Fatalf("Best(%q): matched=false, want true", "chauvo")
	}
	if corrected != "Chauveau" {
		t.Errorf("Best(%q): corrected=%q, want %q", "chauvo", corrected, "Chauveau")
	}
	if conf < 0.7 {
		t.Errorf("Best(%q): confidence=%f, want >= 0.7", "chauvo", conf)
	}
}

func TestMatcher_NoMatchReturnsOriginal(t *testing.T) {
	t.Parallel()

	m := phonetic.NewMatcher()
	corrected, conf, matched := m.Best("bonjour", []string{"Chauveau", "Mahaut"})
	if matched {
		t.Fatalf("Best(%q): matched=true, want false", "bonjour")
	}
	if corrected != "bonjour" {
		t.Errorf("Best(%q): corrected=%q, want original", "bonjour", corrected)
	}
	if conf != 0 {
		t.Errorf("Best(%q): confidence=%f, want 0", "bonjour", conf)
	}
}

func TestMatcher_RankOrdersBySimilarity(t *testing.T) {
	t.Parallel()

	m := phonetic.NewMatcher(phonetic.WithPhoneticThreshold(0.5))
	scores := m.Rank("chauveau", []string{"Chaubot", "Chauveau"})
	if len(scores) < 2 {
		t.Fatalf("Rank: got %d accepted candidates, want 2", len(scores))
	}
	if scores[0].Candidate != "Chauveau" {
		t.Errorf("Rank[0] = %q, want Chauveau first", scores[0].Candidate)
	}
	if scores[0].Value <= scores[1].Value {
		t.Errorf("Rank not descending: %f then %f", scores[0].Value, scores[1].Value)
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.NewMatcher()
	if _, _, matched := m.Best("", []string{"Chauveau"}); matched {
		t.Error("Best with empty word matched, want no match")
	}
	if _, _, matched := m.Best("chauveau", nil); matched {
		t.Error("Best with no candidates matched, want no match")
	}
}

func TestMatcher_MultiWordCandidate(t *testing.T) {
	t.Parallel()

	m := phonetic.NewMatcher()
	corrected, _, matched := m.Best("de la barriere", []string{"De la Barrère", "Dubois"})
	if !matched || corrected != "De la Barrère" {
		t.Errorf("Best(de la barriere) = %q matched=%v, want De la Barrère", corrected, matched)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	strict := phonetic.NewMatcher(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, _, matched := strict.Best("chauvo", []string{"Chauveau"}); matched {
		t.Error("strict matcher accepted a partial match, want rejection")
	}
}
