package kiosk

import (
	"context"
	"errors"
)

// ErrInterrupted reports that a play request was cut short by a newer request
// or by the clip being closed. It is expected under rapid interaction and is
// never surfaced to the visitor.
var ErrInterrupted = errors.New("playback interrupted")

// Engine is a speech-to-text engine with a start/stop lifecycle. Every
// activation that started terminates with RecognitionEnded, including after
// RecognitionError.
type Engine interface {
	Attach(sink RecognitionSink)
	Start() error
	Stop() error
}

// RecognitionSink receives engine events. Implementations must be safe to call
// from any goroutine.
type RecognitionSink interface {
	RecognitionStarted()
	RecognitionEnded()
	RecognitionResult(text string, final bool)
	RecognitionError(code string)
}

// Speaker creates playable clips.
type Speaker interface {
	// Loop returns a looping clip for a named asset.
	Loop(name string) (Clip, error)
	// Once returns a one-shot clip for an encoded payload. done is called at
	// most once: with nil at natural completion, with the playback error, or
	// with ErrInterrupted when the clip is closed before its end.
	Once(payload []byte, done func(error)) (Clip, error)
}

// Clip is one playable sound.
type Clip interface {
	Play() error
	Pause()
	Rewind() error
	SetVolume(v float64)
	Playing() bool
	Close() error
}

// AskRequest is the body of an assistant-response request.
type AskRequest struct {
	Prompt string `json:"prompt"`
	Voice  string `json:"voice"`
	Speed  int    `json:"speed"`
}

// Transport reaches the kiosk server. Any failure is a recoverable turn failure.
type Transport interface {
	Ask(ctx context.Context, req AskRequest) ([]byte, error)
	Reset(ctx context.Context) error
	Goodbye(ctx context.Context, voice string) ([]byte, error)
}

// Room is an optional real-time audio room joined while connected.
type Room interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
}

