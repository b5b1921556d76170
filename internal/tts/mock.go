package tts

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/anubis/internal/audio"
)

const mockSampleRate = 16000

// MockSynthesizer returns silent WAV clips sized to the text so the kiosk can
// run end to end without cloud credentials.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Name() string { return "mock" }

func (m *MockSynthesizer) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}
	// Roughly 60ms per character at normal speed, at least a quarter second.
	ms := utf8.RuneCountInString(text) * 60 * 100 / normalizeSpeed(req.Speed)
	if ms < 250 {
		ms = 250
	}
	pcm := make([]byte, mockSampleRate*ms/1000*2)
	wav, err := audio.EncodeWAVPCM16LE(pcm, mockSampleRate)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: wav, Format: "wav_16000", ContentType: ContentTypeWAV}, nil
}

func (m *MockSynthesizer) Voices(context.Context) ([]Voice, error) {
	return []Voice{
		{ID: "Sergio", Name: "Sergio", LanguageName: "Castilian Spanish", LanguageCode: "es-ES"},
		{ID: "Lucia", Name: "Lucia", LanguageName: "Castilian Spanish", LanguageCode: "es-ES"},
		{ID: "Mia", Name: "Mia", LanguageName: "Mexican Spanish", LanguageCode: "es-MX"},
		{ID: "Lupe", Name: "Lupe", LanguageName: "US Spanish", LanguageCode: "es-US"},
		{ID: "Joanna", Name: "Joanna", LanguageName: "US English", LanguageCode: "en-US"},
	}, nil
}
