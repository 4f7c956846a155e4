package turn

import (
	"context"
	"sync"
	"time"

	"github.com/vocaline/intake/pkg/types"
)

// Script is a deterministic [Exchanger] for tests: it replays queued patient
// responses and records every prompt said to it. A step with Silence set
// simulates an elapsed silence window instead of an utterance; an exhausted
// script hangs up.
type Script struct {
	mu      sync.Mutex
	steps   []ScriptStep
	idx     int
	prompts []string
	turn    int
}

// ScriptStep is one scripted patient reaction.
type ScriptStep struct {
	// Text is the utterance produced, ignored when Silence is set.
	Text string

	// Confidence is the simulated transcription confidence. Zero means 0.9.
	Confidence float64

	// Silence simulates a silence timeout instead of speech.
	Silence bool
}

// NewScript queues the given steps.
func NewScript(steps ...ScriptStep) *Script {
	return &Script{steps: steps}
}

// Reply is shorthand for a spoken step at 0.9 confidence.
func Reply(text string) ScriptStep { return ScriptStep{Text: text} }

// Say records the prompt.
func (s *Script) Say(_ context.Context, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return nil
}

// Listen replays the next step.
func (s *Script) Listen(_ context.Context) (types.Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.steps) {
		return types.Utterance{}, ErrHangup
	}
	step := s.steps[s.idx]
	s.idx++

	if step.Silence {
		return types.Utterance{}, ErrSilence
	}
	conf := step.Confidence
	if conf == 0 {
		conf = 0.9
	}
	s.turn++
	return types.Utterance{
		Text:       step.Text,
		Confidence: conf,
		Turn:       s.turn,
		Timestamp:  time.Now(),
	}, nil
}

// Prompts returns everything said so far.
func (s *Script) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}
