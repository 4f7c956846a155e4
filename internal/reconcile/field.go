// Package reconcile turns successive noisy transcriptions of a name field
// into a single confirmed canonical spelling. Each field runs a small state
// machine over a ranked candidate set; explicit letter-by-letter spelling is
// authoritative and short-circuits scoring.
package reconcile

import (
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/vocaline/intake/internal/phonetic"
	"github.com/vocaline/intake/pkg/types"
)

// Sentinel errors surfaced to the dialogue layer.
var (
	// ErrLowConfidenceUnresolved means a field never cleared the acceptance
	// threshold within the retry ceiling. The call must escalate, never
	// auto-accept.
	ErrLowConfidenceUnresolved = errors.New("reconcile: low confidence unresolved after retry ceiling")

	// ErrAmbiguousCandidates means two candidates are within the closeness
	// margin of each other. Prompt for disambiguation; not an escalation.
	ErrAmbiguousCandidates = errors.New("reconcile: ambiguous candidates")
)

// Phase is the tagged state of a [Field]. Invalid transitions are
// unrepresentable: a Field only moves along
// empty → collecting → pending → confirmed, with escalated reachable from
// collecting once the retry ceiling is hit.
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseCollecting
	PhasePending
	PhaseConfirmed
	PhaseEscalated
)

// String implements fmt.Stringer for log output.
func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseCollecting:
		return "collecting"
	case PhasePending:
		return "pending_confirmation"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// Candidate is one plausible canonical spelling for a field, with the
// aggregate confidence accumulated across the utterances that support it.
type Candidate struct {
	// Spelling is the canonical surface form, diacritics included.
	Spelling string

	// Confidence is the aggregate confidence in [0,1].
	Confidence float64

	// Support holds the distinct utterances merged into this candidate.
	Support []types.Utterance

	// Spelled marks a candidate produced by explicit letter-by-letter
	// spelling, which outranks any scored candidate.
	Spelled bool
}

// Config tunes a field's reconciliation thresholds. Zero values take the
// defaults below.
type Config struct {
	// AcceptThreshold is the aggregate confidence a candidate needs before it
	// is proposed for confirmation. Default 0.80.
	AcceptThreshold float64

	// MergeThreshold is the phonetic similarity above which a new utterance
	// merges into an existing candidate instead of starting a new one.
	// Default 0.85.
	MergeThreshold float64

	// CloseMargin is the confidence gap under which two leading candidates
	// count as ambiguous and are both surfaced. Default 0.06.
	CloseMargin float64

	// RetryCeiling is the number of failed collection rounds before the field
	// escalates. Default 3.
	RetryCeiling int

	// RejectionPenalty scales a candidate's confidence down when the patient
	// rejects it at readback. The candidate stays in the set so repeating a
	// mis-heard form is not rewarded, but not forgotten either. Default 0.5.
	RejectionPenalty float64
}

func (c Config) withDefaults() Config {
	if c.AcceptThreshold == 0 {
		c.AcceptThreshold = 0.80
	}
	if c.MergeThreshold == 0 {
		c.MergeThreshold = 0.85
	}
	if c.CloseMargin == 0 {
		c.CloseMargin = 0.06
	}
	if c.RetryCeiling == 0 {
		c.RetryCeiling = 3
	}
	if c.RejectionPenalty == 0 {
		c.RejectionPenalty = 0.5
	}
	return c
}

// Outcome tells the dialogue layer what a field needs after an observation:
// read a proposal back, surface ambiguous options, ask for spelling, keep
// collecting, or escalate.
type Outcome struct {
	// Phase is the field's phase after the observation.
	Phase Phase

	// Proposal is the spelling to read back when Phase is PhasePending.
	Proposal string

	// Options holds the competing spellings when two candidates are too close
	// to pick silently. The patient must disambiguate or spell.
	Options []string

	// AskSpelling suggests prompting the patient to spell letter by letter.
	AskSpelling bool
}

// Ambiguous reports whether the outcome requires disambiguation.
func (o Outcome) Ambiguous() bool { return len(o.Options) > 1 }

// Field reconciles one name field. Not safe for concurrent use; each
// conversation owns its fields and observes utterances strictly in turn
// order.
type Field struct {
	name string
	cfg  Config
	lex  *Lexicon
	log  *slog.Logger

	phase      Phase
	candidates []*Candidate
	pending    *Candidate
	value      string
	retries    int
	merges     int
}

// NewField returns an empty reconciliation field. The lexicon may be shared
// across fields and sessions; it is read-only.
func NewField(name string, lex *Lexicon, cfg Config, logger *slog.Logger) *Field {
	if logger == nil {
		logger = slog.Default()
	}
	return &Field{
		name:  name,
		cfg:   cfg.withDefaults(),
		lex:   lex,
		log:   logger.With("field", name),
		phase: PhaseEmpty,
	}
}

// Phase returns the field's current phase.
func (f *Field) Phase() Phase { return f.phase }

// Value returns the confirmed canonical value, or "" before confirmation.
func (f *Field) Value() string {
	if f.phase != PhaseConfirmed {
		return ""
	}
	return f.value
}

// Name returns the field name given at construction.
func (f *Field) Name() string { return f.name }

// Retries returns the number of failed collection rounds so far.
func (f *Field) Retries() int { return f.retries }

// Merges returns the number of utterances merged into an existing candidate.
func (f *Field) Merges() int { return f.merges }

// Candidates returns a snapshot of the current candidate set, best first.
func (f *Field) Candidates() []Candidate {
	out := make([]Candidate, len(f.candidates))
	for i, c := range f.candidates {
		out[i] = *c
	}
	return out
}

// Observe feeds one utterance into the field. In the collecting phases it
// updates the candidate set and decides the next move; once confirmed or
// escalated it is a no-op.
//
// An utterance recognised as explicit spelling is authoritative: it becomes
// the sole proposal regardless of what scoring said before.
func (f *Field) Observe(utt types.Utterance) Outcome {
	switch f.phase {
	case PhaseConfirmed, PhaseEscalated:
		return f.outcome()
	case PhaseEmpty:
		f.phase = PhaseCollecting
	}

	if spelled, ok := ParseSpelled(utt.Text); ok {
		return f.observeSpelled(spelled, utt)
	}

	text := strings.TrimSpace(utt.Text)
	if text == "" || !phonetic.HasLetter(text) {
		f.retries++
		return f.afterRound()
	}
	if canonical, ok := f.lex.Correction(text); ok {
		text = canonical
	}

	f.absorb(text, utt)
	return f.decide()
}

// observeSpelled short-circuits scoring: the spelled word is the proposal.
// The corrections table restores diacritics the spelling protocol cannot
// express exactly, and a fold-identical scored candidate donates its richer
// spelling when it carries accents the spelled form lacks.
func (f *Field) observeSpelled(spelled string, utt types.Utterance) Outcome {
	if canonical, ok := f.lex.Correction(spelled); ok {
		spelled = canonical
	} else if richer := f.richerExisting(spelled); richer != "" {
		spelled = richer
	}

	cand := f.findByFold(spelled)
	if cand == nil {
		cand = &Candidate{Spelling: spelled}
		f.candidates = append(f.candidates, cand)
	}
	cand.Spelling = spelled
	cand.Spelled = true
	cand.Confidence = 1
	cand.Support = append(cand.Support, utt)

	f.pending = cand
	f.phase = PhasePending
	f.log.Debug("spelled value proposed", "spelling", spelled)
	return f.outcome()
}

// absorb merges the utterance into the closest existing candidate, or starts
// a new one. Common everyday words adjacent to name tokens are kept as part
// of a merged interpretation rather than discarded as noise — "barrière"
// heard inside "De la Barrère" is signal, not filler.
func (f *Field) absorb(text string, utt types.Utterance) {
	weight := utt.Confidence
	if weight <= 0 || weight > 1 {
		weight = 0.5
	}

	best, bestSim := (*Candidate)(nil), 0.0
	for _, c := range f.candidates {
		if sim := phonetic.Similarity(text, c.Spelling); sim > bestSim {
			best, bestSim = c, sim
		}
	}

	if best != nil && bestSim >= f.cfg.MergeThreshold {
		f.merges++
		best.Confidence += (1 - best.Confidence) * weight * bestSim
		best.Support = append(best.Support, utt)
		if f.preferSpelling(text, best.Spelling) {
			best.Spelling = text
		}
		if canonical, ok := f.lex.Correction(best.Spelling); ok {
			best.Spelling = canonical
		}
		f.log.Debug("merged into candidate",
			"spelling", best.Spelling, "similarity", bestSim, "confidence", best.Confidence)
		return
	}

	// A bare everyday word is more likely an STT substitution for a name
	// fragment than a surname on its own: it still enters the set (a later
	// compound utterance can merge with it), but at half weight.
	if f.lex.IsCommonWord(text) && !strings.ContainsAny(text, " -'") {
		weight *= 0.5
	}

	f.candidates = append(f.candidates, &Candidate{
		Spelling:   text,
		Confidence: weight,
		Support:    []types.Utterance{utt},
	})
	f.log.Debug("new candidate", "spelling", text, "confidence", weight)
}

// decide ranks the candidate set and picks the next move: propose, surface
// an ambiguity, or keep collecting.
func (f *Field) decide() Outcome {
	f.rank()

	top := f.candidates[0]
	if top.Confidence >= f.cfg.AcceptThreshold {
		if second := f.closeRival(top); second != nil {
			f.retries++
			f.log.Info("ambiguous candidates",
				"first", top.Spelling, "second", second.Spelling)
			if f.retries >= f.cfg.RetryCeiling {
				return f.escalate()
			}
			return Outcome{
				Phase:       f.phase,
				Options:     []string{top.Spelling, second.Spelling},
				AskSpelling: true,
			}
		}
		f.pending = top
		f.phase = PhasePending
		return f.outcome()
	}

	f.retries++
	return f.afterRound()
}

// afterRound handles a collection round that produced no proposal.
func (f *Field) afterRound() Outcome {
	if f.retries >= f.cfg.RetryCeiling {
		return f.escalate()
	}
	out := f.outcome()
	// After the second miss, scoring alone is unlikely to converge: ask the
	// patient to spell.
	out.AskSpelling = f.retries >= 2
	return out
}

func (f *Field) escalate() Outcome {
	f.phase = PhaseEscalated
	f.pending = nil
	f.log.Warn("field escalated", "retries", f.retries, "candidates", len(f.candidates))
	return f.outcome()
}

// Confirm resolves a pending readback. Accepting freezes the value;
// rejecting penalizes the candidate and returns to collecting. Calling
// Confirm outside PhasePending is a no-op.
func (f *Field) Confirm(accepted bool) Outcome {
	if f.phase != PhasePending || f.pending == nil {
		return f.outcome()
	}
	if accepted {
		f.value = f.pending.Spelling
		f.phase = PhaseConfirmed
		f.log.Info("field confirmed", "value", f.value)
		f.pending = nil
		return f.outcome()
	}

	f.pending.Confidence *= f.cfg.RejectionPenalty
	f.pending.Spelled = false
	f.pending = nil
	f.phase = PhaseCollecting
	f.retries++
	f.log.Debug("proposal rejected", "retries", f.retries)
	return f.afterRound()
}

// Reopen moves a confirmed field back to collecting so a late correction
// ("actually, it's spelled differently") can be absorbed. The previous value
// stays in the candidate set, penalized like a rejected readback so it does
// not tie with whatever the patient says next.
func (f *Field) Reopen() {
	if f.phase != PhaseConfirmed {
		return
	}
	if prev := f.findByFold(f.value); prev != nil {
		prev.Confidence *= f.cfg.RejectionPenalty
		prev.Spelled = false
	}
	f.phase = PhaseCollecting
	f.retries = 0
	f.value = ""
}

// Readback renders the pending proposal letter by letter for confirmation.
func (f *Field) Readback() string {
	if f.pending == nil {
		return ""
	}
	return f.lex.Readback(f.pending.Spelling)
}

func (f *Field) outcome() Outcome {
	out := Outcome{Phase: f.phase}
	if f.phase == PhasePending && f.pending != nil {
		out.Proposal = f.pending.Spelling
	}
	return out
}

// rank sorts candidates by descending confidence, spelled candidates first.
func (f *Field) rank() {
	sort.SliceStable(f.candidates, func(i, j int) bool {
		a, b := f.candidates[i], f.candidates[j]
		if a.Spelled != b.Spelled {
			return a.Spelled
		}
		return a.Confidence > b.Confidence
	})
}

// closeRival returns a distinct candidate whose confidence is within the
// close margin of top, or nil.
func (f *Field) closeRival(top *Candidate) *Candidate {
	for _, c := range f.candidates {
		if c == top || phonetic.Fold(c.Spelling) == phonetic.Fold(top.Spelling) {
			continue
		}
		if top.Confidence-c.Confidence < f.cfg.CloseMargin {
			return c
		}
	}
	return nil
}

// findByFold returns the candidate whose folded spelling equals the folded
// input, or nil.
func (f *Field) findByFold(s string) *Candidate {
	folded := phonetic.Fold(s)
	for _, c := range f.candidates {
		if phonetic.Fold(c.Spelling) == folded {
			return c
		}
	}
	return nil
}

// richerExisting returns an existing candidate's spelling when it folds to
// the same letters as s but carries diacritics s lacks.
func (f *Field) richerExisting(s string) string {
	c := f.findByFold(s)
	if c == nil || c.Spelling == s {
		return ""
	}
	if phonetic.Fold(c.Spelling) != strings.ToLower(c.Spelling) {
		return c.Spelling
	}
	return ""
}

// preferSpelling reports whether incoming should replace current as the
// candidate's surface form. A compound interpretation outranks a lone word
// ("De la Barrère" over a misheard "Barrière"); at equal shape, the
// diacritic-richer variant wins.
func (f *Field) preferSpelling(incoming, current string) bool {
	if len(strings.Fields(incoming)) > len(strings.Fields(current)) {
		return true
	}
	inFolded, curFolded := phonetic.Fold(incoming), phonetic.Fold(current)
	if inFolded != curFolded {
		return false
	}
	return strings.ToLower(incoming) != inFolded && strings.ToLower(current) == curFolded
}
