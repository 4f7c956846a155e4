package reconcile_test

import (
	"strings"
	"testing"

	"github.com/vocaline/intake/internal/reconcile"
)

func TestParseSpelled_PlainSequences(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"G-A-E-L":                 "Gael",
		"G, A, E, L":              "Gael",
		"G comme Gaston, A, E, L": "Gael",
		"B as Bravo, O, deux T, E": "Botte",
		"M, A, tiret, L, I":       "Ma-Li",
		"N, apostrophe, D, J, O, L, I": "N'Djoli",
	}
	for in, want := range cases {
		got, ok := reconcile.ParseSpelled(in)
		if !ok {
			t.Errorf("ParseSpelled(%q): ok=false, want %q", in, want)
			continue
		}
		if got != want {
			t.Errorf("ParseSpelled(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSpelled_AccentMarkers(t *testing.T) {
	t.Parallel()

	got, ok := reconcile.ParseSpelled("G, A, E, L, avec accent circonflexe")
	if !ok {
		t.Fatal("ParseSpelled: ok=false, want a spelling")
	}
	// The marker targets the most recent vowel.
	if got != "Gaêl" {
		t.Errorf("ParseSpelled = %q, want %q", got, "Gaêl")
	}

	got, ok = reconcile.ParseSpelled("Z, O, E accent aigu")
	if !ok || got != "Zoé" {
		t.Errorf("ParseSpelled = %q ok=%v, want Zoé", got, ok)
	}
}

func TestParseSpelled_RejectsOrdinarySpeech(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"je m'appelle Gaël",
		"c'est Chauveau",
		"B",
		"",
		"bonjour docteur",
	} {
		if got, ok := reconcile.ParseSpelled(in); ok {
			t.Errorf("ParseSpelled(%q) = %q, want no spelling", in, got)
		}
	}
}

func TestReadback_ConfusingLettersAndAccents(t *testing.T) {
	t.Parallel()

	lx := reconcile.NewFrenchLexicon()

	rb := lx.Readback("Gaël")
	if !strings.Contains(rb, "G comme Gaston") {
		t.Errorf("Readback(Gaël) = %q, want phonetic help for G", rb)
	}
	if !strings.Contains(rb, "e tréma") {
		t.Errorf("Readback(Gaël) = %q, want accent named", rb)
	}

	rb = lx.Readback("Jean-Pierre")
	if !strings.Contains(rb, "tiret") {
		t.Errorf("Readback(Jean-Pierre) = %q, want separator spoken", rb)
	}
}

func TestLexicon_Corrections(t *testing.T) {
	t.Parallel()

	lx := reconcile.NewFrenchLexicon()

	cases := map[string]string{
		"Filip":   "Philippe",
		"gael":    "Gaël",
		"RENAUD":  "Renault",
		"lefevre": "Lefebvre",
	}
	for in, want := range cases {
		got, ok := lx.Correction(in)
		if !ok || got != want {
			t.Errorf("Correction(%q) = %q ok=%v, want %q", in, got, ok, want)
		}
	}

	if _, ok := lx.Correction("Chauveau"); ok {
		t.Error("Correction(Chauveau): unexpected hit for an unlisted name")
	}
}

func TestLexicon_CommonWords(t *testing.T) {
	t.Parallel()

	lx := reconcile.NewFrenchLexicon()
	if !lx.IsCommonWord("Barrière") {
		t.Error("IsCommonWord(Barrière) = false, want true")
	}
	if lx.IsCommonWord("Chauveau") {
		t.Error("IsCommonWord(Chauveau) = true, want false")
	}
}
