// Package turn is the conversation transport boundary: the dialogue machine
// speaks and listens through an [Exchanger] without knowing whether the other
// side is a phone call, a terminal, or a test script. The speech pipeline
// itself (STT/TTS) lives behind whichever Exchanger is plugged in.
package turn

import (
	"context"
	"errors"

	"github.com/vocaline/intake/pkg/types"
)

// ErrSilence is returned by Listen when the patient says nothing within the
// silence window. The machine re-prompts without losing field state.
var ErrSilence = errors.New("turn: silence timeout")

// ErrHangup is returned by Listen when the patient is gone (line closed,
// EOF). The machine aborts the call.
var ErrHangup = errors.New("turn: hangup")

// Exchanger is one dialogue channel to the patient. Implementations are used
// by a single session at a time; turns are strictly sequential.
type Exchanger interface {
	// Say delivers a prompt to the patient.
	Say(ctx context.Context, prompt string) error

	// Listen blocks until the next patient utterance, [ErrSilence] after the
	// implementation's silence window, or [ErrHangup] when the channel
	// closes.
	Listen(ctx context.Context) (types.Utterance, error)
}
