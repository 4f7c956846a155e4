package turn_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vocaline/intake/internal/turn"
)

func TestConsole_RoundTrip(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := turn.NewConsole(strings.NewReader("bonjour\nGaël\n"), &out, 0)
	ctx := context.Background()

	if err := c.Say(ctx, "Quel est votre prénom ?"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if !strings.Contains(out.String(), "Quel est votre prénom ?") {
		t.Errorf("output = %q, want the prompt printed", out.String())
	}

	first, err := c.Listen(ctx)
	if err != nil || first.Text != "bonjour" || first.Turn != 1 {
		t.Fatalf("Listen = %+v, %v; want bonjour on turn 1", first, err)
	}
	second, err := c.Listen(ctx)
	if err != nil || second.Text != "Gaël" || second.Turn != 2 {
		t.Fatalf("Listen = %+v, %v; want Gaël on turn 2", second, err)
	}
	if second.Confidence != 1 {
		t.Errorf("typed input confidence = %v, want 1", second.Confidence)
	}
}

func TestConsole_EOFIsHangup(t *testing.T) {
	t.Parallel()

	c := turn.NewConsole(strings.NewReader(""), io.Discard, 0)
	if _, err := c.Listen(context.Background()); !errors.Is(err, turn.ErrHangup) {
		t.Errorf("Listen = %v, want ErrHangup", err)
	}
}

func TestConsole_SilenceWindow(t *testing.T) {
	t.Parallel()

	// A reader that never produces a line.
	pr, _ := io.Pipe()
	c := turn.NewConsole(pr, io.Discard, 10*time.Millisecond)
	if _, err := c.Listen(context.Background()); !errors.Is(err, turn.ErrSilence) {
		t.Errorf("Listen = %v, want ErrSilence", err)
	}
}

func TestConsole_ContextCancel(t *testing.T) {
	t.Parallel()

	pr, _ := io.Pipe()
	c := turn.NewConsole(pr, io.Discard, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Listen(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Listen = %v, want context.Canceled", err)
	}
}

func TestScript_ReplaysStepsThenHangsUp(t *testing.T) {
	t.Parallel()

	s := turn.NewScript(
		turn.Reply("oui"),
		turn.ScriptStep{Silence: true},
		turn.ScriptStep{Text: "Martin", Confidence: 0.4},
	)
	ctx := context.Background()

	if err := s.Say(ctx, "first"); err != nil {
		t.Fatalf("Say: %v", err)
	}

	utt, err := s.Listen(ctx)
	if err != nil || utt.Text != "oui" || utt.Confidence != 0.9 {
		t.Fatalf("Listen = %+v, %v; want oui at 0.9", utt, err)
	}
	if _, err := s.Listen(ctx); !errors.Is(err, turn.ErrSilence) {
		t.Fatalf("Listen = %v, want ErrSilence", err)
	}
	utt, err = s.Listen(ctx)
	if err != nil || utt.Text != "Martin" || utt.Confidence != 0.4 {
		t.Fatalf("Listen = %+v, %v; want Martin at 0.4", utt, err)
	}
	if _, err := s.Listen(ctx); !errors.Is(err, turn.ErrHangup) {
		t.Fatalf("Listen = %v, want ErrHangup after script end", err)
	}

	if got := s.Prompts(); len(got) != 1 || got[0] != "first" {
		t.Errorf("Prompts = %v, want [first]", got)
	}
}

// fakeCompleter scripts the model behind the phraser.
type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Completion(_ context.Context, params anyllmlib.CompletionParams) (*anyllmlib.ChatCompletion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(params.Messages) != 2 {
		return nil, errors.New("want system + user message")
	}
	return &anyllmlib.ChatCompletion{
		Choices: []anyllmlib.Choice{
			{Message: anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: f.reply}},
		},
	}, nil
}

func TestPhraser_RewritesPrompt(t *testing.T) {
	t.Parallel()

	inner := turn.NewScript(turn.Reply("oui"))
	model := &fakeCompleter{reply: "Très bien ! Quel est votre prénom ?"}
	p := turn.NewPhraser(inner, model, "gpt-4o-mini", 0, nil)
	ctx := context.Background()

	if err := p.Say(ctx, "Quel est votre prénom ?"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	got := inner.Prompts()
	if len(got) != 1 || got[0] != "Très bien ! Quel est votre prénom ?" {
		t.Errorf("delivered = %v, want the rephrased prompt", got)
	}

	// Listen passes through untouched.
	utt, err := p.Listen(ctx)
	if err != nil || utt.Text != "oui" {
		t.Errorf("Listen = %+v, %v; want pass-through", utt, err)
	}
}

func TestPhraser_FallsBackToLiteralPrompt(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeCompleter{
		"model error":  {err: errors.New("rate limited")},
		"empty answer": {reply: "   "},
	}
	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			inner := turn.NewScript()
			p := turn.NewPhraser(inner, model, "gpt-4o-mini", 0, nil)
			if err := p.Say(context.Background(), "literal prompt"); err != nil {
				t.Fatalf("Say: %v", err)
			}
			got := inner.Prompts()
			if len(got) != 1 || got[0] != "literal prompt" {
				t.Errorf("delivered = %v, want the literal prompt", got)
			}
			if model.calls != 1 {
				t.Errorf("model calls = %d, want 1", model.calls)
			}
		})
	}
}

func TestNewBackend_RejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := turn.NewBackend("telepathy"); err == nil {
		t.Error("NewBackend(telepathy) = nil error, want rejection")
	}
}
