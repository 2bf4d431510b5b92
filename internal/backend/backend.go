// Package backend declares the external AI, speech and capability
// collaborators used during a session, plus the single timeout and fallback
// policy every call site goes through.
package backend

import (
	"context"
	"errors"

	"sessioncore/internal/progress"
)

var ErrOffline = errors.New("backend offline")

// ChatContext is the per-NPC context sent with a chat turn.
type ChatContext struct {
	Persona string
	History []progress.Message
	Bond    int
}

type CompleteOptions struct {
	System      string
	Temperature float32
	MaxTokens   int
	// JSON asks the model for a JSON object reply.
	JSON bool
}

type Chatter interface {
	Chat(ctx context.Context, npcID, message string, info ChatContext) (string, error)
	Complete(ctx context.Context, messages []progress.Message, opts CompleteOptions) (string, error)
}

// Speaker renders text to audio. An empty reference means the caller should
// fall back to local synthesis.
type Speaker interface {
	Speak(ctx context.Context, text, voiceID string) (audioRef string, err error)
}

type Transcript struct {
	Text  string
	Final bool
}

type Listener interface {
	StartListening(ctx context.Context, onTranscript func(Transcript)) error
	Stop() error
}

type Capabilities struct {
	Microphone      bool
	SpeechSynthesis bool
}

type Prober interface {
	Probe(ctx context.Context) (Capabilities, error)
}

// Offline satisfies every collaborator by failing immediately, which sends
// all call sites down their fallback path.
type Offline struct{}

var (
	_ Chatter  = Offline{}
	_ Speaker  = Offline{}
	_ Listener = Offline{}
	_ Prober   = Offline{}
)

func (Offline) Chat(context.Context, string, string, ChatContext) (string, error) {
	return "", ErrOffline
}

func (Offline) Complete(context.Context, []progress.Message, CompleteOptions) (string, error) {
	return "", ErrOffline
}

func (Offline) Speak(context.Context, string, string) (string, error) {
	return "", ErrOffline
}

func (Offline) StartListening(context.Context, func(Transcript)) error {
	return ErrOffline
}

func (Offline) Stop() error { return nil }

func (Offline) Probe(context.Context) (Capabilities, error) {
	return Capabilities{}, ErrOffline
}
