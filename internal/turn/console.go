package turn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vocaline/intake/pkg/types"
)

// Console is an [Exchanger] over an interactive terminal, used for local
// runs without a telephony stack. Typed input counts as perfectly confident
// transcription.
type Console struct {
	out     io.Writer
	lines   chan string
	done    chan struct{}
	timeout time.Duration
	turn    int
}

// NewConsole starts reading lines from in. A timeout of zero disables the
// silence window, which is the sensible default for a human at a keyboard.
func NewConsole(in io.Reader, out io.Writer, timeout time.Duration) *Console {
	c := &Console{
		out:     out,
		lines:   make(chan string),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
	}()
	return c
}

// Say prints the prompt.
func (c *Console) Say(_ context.Context, prompt string) error {
	_, err := fmt.Fprintf(c.out, "» %s\n", prompt)
	return err
}

// Listen reads one line. EOF is a hangup; an elapsed silence window, when
// configured, re-prompts via [ErrSilence].
func (c *Console) Listen(ctx context.Context) (types.Utterance, error) {
	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return types.Utterance{}, ctx.Err()
	case <-timeout:
		return types.Utterance{}, ErrSilence
	case line, ok := <-c.lines:
		if !ok {
			return types.Utterance{}, ErrHangup
		}
		c.turn++
		return types.Utterance{
			Text:       strings.TrimSpace(line),
			Confidence: 1,
			Turn:       c.turn,
			Timestamp:  time.Now(),
		}, nil
	case <-c.done:
		return types.Utterance{}, ErrHangup
	}
}
