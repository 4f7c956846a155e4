package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/vocaline/intake/pkg/types"
)

// phraserSystemPrompt keeps the model on rails: rephrase only, never add or
// drop facts. Spelled letter sequences, dates, times, names and numbered
// options must survive verbatim or the dialogue's confirmations become lies.
const phraserSystemPrompt = `You rephrase prompts for a medical receptionist speaking on the phone.
Rewrite the given prompt to sound warm and natural while keeping every fact unchanged.
Keep verbatim: spelled-out letters (like "B comme Berthe"), names, dates, times, durations, practitioner names, and numbered option lists.
Answer in the same language as the prompt. Answer with the rephrased prompt only, nothing else.`

// Completer is the one any-llm-go call the phraser needs.
type Completer interface {
	Completion(ctx context.Context, params anyllmlib.CompletionParams) (*anyllmlib.ChatCompletion, error)
}

// Phraser wraps an [Exchanger] and rewrites outgoing prompts through an LLM
// so the assistant does not sound like a form. The rewrite is best-effort:
// any model failure, timeout or empty answer falls back to the literal
// prompt, so the dialogue never stalls on the model.
type Phraser struct {
	next    Exchanger
	backend Completer
	model   string
	timeout time.Duration
	log     *slog.Logger
}

// NewPhraser wraps next. A timeout of zero uses 4 seconds, short enough that
// a slow model degrades to literal prompts instead of dead air.
func NewPhraser(next Exchanger, backend Completer, model string, timeout time.Duration, logger *slog.Logger) *Phraser {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Phraser{
		next:    next,
		backend: backend,
		model:   model,
		timeout: timeout,
		log:     logger.With("component", "phraser"),
	}
}

// Say rephrases the prompt and delivers it, falling back to the literal
// prompt when the model does not cooperate.
func (p *Phraser) Say(ctx context.Context, prompt string) error {
	return p.next.Say(ctx, p.rephrase(ctx, prompt))
}

// Listen delegates to the wrapped exchanger.
func (p *Phraser) Listen(ctx context.Context) (types.Utterance, error) {
	return p.next.Listen(ctx)
}

func (p *Phraser) rephrase(ctx context.Context, prompt string) string {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	temperature := 0.3
	maxTokens := 300
	resp, err := p.backend.Completion(cctx, anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: phraserSystemPrompt},
			{Role: anyllmlib.RoleUser, Content: prompt},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		p.log.Warn("rephrase failed, using literal prompt", "error", err)
		return prompt
	}
	if len(resp.Choices) == 0 {
		p.log.Warn("rephrase returned no choices, using literal prompt")
		return prompt
	}
	out := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if out == "" {
		return prompt
	}
	return out
}

// NewBackend creates an any-llm-go provider by name. Supported names:
// openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp,
// llamafile. Without an explicit key option each backend reads its usual
// environment variable (OPENAI_API_KEY and friends).
func NewBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("turn: unsupported llm provider %q", providerName)
	}
}
