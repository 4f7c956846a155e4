package motive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vocaline/intake/internal/phonetic"
	"github.com/vocaline/intake/pkg/types"
)

const (
	defaultThreshold = 0.75
	defaultTieMargin = 0.10
)

// ErrNoMatch means no catalog entry cleared the acceptance threshold. The
// dialogue re-prompts with [Matcher.Enumerate].
var ErrNoMatch = errors.New("motive: no entry above threshold")

// AmbiguousError means two entries scored within the tie margin of each
// other; the patient must choose explicitly.
type AmbiguousError struct {
	Options []Entry
}

func (e *AmbiguousError) Error() string {
	names := make([]string, len(e.Options))
	for i, o := range e.Options {
		names[i] = o.Name
	}
	return fmt.Sprintf("motive: ambiguous between %s", strings.Join(names, " / "))
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithThreshold sets the minimum score for acceptance. Default 0.75.
func WithThreshold(t float64) Option {
	return func(m *Matcher) { m.threshold = t }
}

// WithTieMargin sets the minimum lead over the runner-up. Default 0.10.
func WithTieMargin(t float64) Option {
	return func(m *Matcher) { m.tieMargin = t }
}

// Matcher resolves utterances against one immutable catalog. Safe for
// concurrent use across sessions.
type Matcher struct {
	entries   []Entry
	terms     [][]string
	threshold float64
	tieMargin float64
}

// NewMatcher validates the catalog and precomputes each entry's folded term
// list: name tokens, keywords, description, and any built-in synonyms the
// terms imply.
func NewMatcher(entries []Entry, opts ...Option) (*Matcher, error) {
	normalized, err := normalize(entries)
	if err != nil {
		return nil, err
	}

	m := &Matcher{
		entries:   normalized,
		threshold: defaultThreshold,
		tieMargin: defaultTieMargin,
	}
	for _, o := range opts {
		o(m)
	}

	m.terms = make([][]string, len(normalized))
	for i, e := range normalized {
		m.terms[i] = entryTerms(e)
	}
	return m, nil
}

// Entries returns the catalog in its configured order.
func (m *Matcher) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByID returns the entry with the given ID.
func (m *Matcher) ByID(id string) (Entry, bool) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Enumerate renders the catalog as a spoken list for re-prompts.
func (m *Matcher) Enumerate() string {
	parts := make([]string, len(m.entries))
	for i, e := range m.entries {
		parts[i] = fmt.Sprintf("%d. %s (%d min)", i+1, e.Name, e.DurationMinutes)
	}
	return strings.Join(parts, ", ")
}

// Match scores text against every entry and returns the selection when
// exactly one entry wins above the threshold. It returns [ErrNoMatch] when
// nothing clears the threshold and [*AmbiguousError] when the top two are
// within the tie margin.
func (m *Matcher) Match(text string) (types.MotiveSelection, error) {
	tokens := contentTokens(text)
	if len(tokens) == 0 {
		return types.MotiveSelection{}, ErrNoMatch
	}

	bestIdx, secondIdx := -1, -1
	bestScore, secondScore := 0.0, 0.0
	for i := range m.entries {
		score := m.score(tokens, m.terms[i])
		if score > bestScore {
			secondIdx, secondScore = bestIdx, bestScore
			bestIdx, bestScore = i, score
		} else if score > secondScore {
			secondIdx, secondScore = i, score
		}
	}

	if bestIdx < 0 || bestScore < m.threshold {
		return types.MotiveSelection{}, ErrNoMatch
	}
	if secondIdx >= 0 && secondScore >= m.threshold && bestScore-secondScore <= m.tieMargin {
		return types.MotiveSelection{}, &AmbiguousError{
			Options: []Entry{m.entries[bestIdx], m.entries[secondIdx]},
		}
	}

	e := m.entries[bestIdx]
	return types.MotiveSelection{
		ID:              e.ID,
		Name:            e.Name,
		Index:           bestIdx,
		DurationMinutes: e.DurationMinutes,
	}, nil
}

// score blends the strongest single-token hit with average token coverage,
// so "essai de lentilles" prefers the lens-trial entry over every other
// entry that merely mentions lentilles, while a lone strong keyword ("shot")
// still scores a clean 1.0.
func (m *Matcher) score(tokens []string, terms []string) float64 {
	var sum, top float64
	for _, tok := range tokens {
		best := 0.0
		for _, term := range terms {
			var s float64
			if tok == term || strings.Contains(term, tok) || strings.Contains(tok, term) {
				s = 1
			} else {
				s = phonetic.Similarity(tok, term)
			}
			if s > best {
				best = s
			}
		}
		sum += best
		if best > top {
			top = best
		}
	}
	avg := sum / float64(len(tokens))
	return (top + avg) / 2
}

// entryTerms folds and expands an entry into its matchable vocabulary.
func entryTerms(e Entry) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(s string) {
		folded := phonetic.Fold(s)
		if folded == "" || seen[folded] {
			return
		}
		seen[folded] = true
		terms = append(terms, folded)
		for _, syn := range builtinSynonyms[folded] {
			sf := phonetic.Fold(syn)
			if sf != "" && !seen[sf] {
				seen[sf] = true
				terms = append(terms, sf)
			}
		}
	}

	add(e.Name)
	for _, tok := range contentTokens(e.Name) {
		add(tok)
	}
	for _, k := range e.Keywords {
		add(k)
		for _, tok := range contentTokens(k) {
			add(tok)
		}
	}
	for _, tok := range contentTokens(e.Description) {
		add(tok)
	}
	return terms
}

// stopwords are function words that carry no motive signal.
var stopwords = map[string]bool{
	"je": true, "j'ai": true, "il": true, "me": true, "ma": true, "mon": true,
	"un": true, "une": true, "de": true, "des": true, "du": true, "le": true,
	"la": true, "les": true, "d'un": true, "d'une": true, "pour": true,
	"faut": true, "voudrais": true, "besoin": true, "rendez-vous": true,
	"est": true, "c'est": true, "et": true, "tres": true, "que": true,
	"i": true, "a": true, "an": true, "the": true, "need": true, "to": true,
	"for": true, "my": true, "of": true, "would": true, "like": true,
	"want": true, "appointment": true, "it": true, "is": true,
}

// contentTokens folds text and strips stopwords.
func contentTokens(text string) []string {
	var out []string
	for _, tok := range strings.Fields(phonetic.Fold(text)) {
		if stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}
