package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes a complete MP3 clip. The decoder always yields 16-bit
// stereo samples at the stream's sample rate.
func DecodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("mp3 decoder: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("mp3 decode: %w", err)
	}
	return PCM{Samples: BytesToSamples(raw), SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// Decode sniffs the container and decodes WAV or MP3 payloads.
func Decode(data []byte) (PCM, error) {
	if len(data) >= 4 && string(data[0:4]) == "RIFF" {
		return DecodeWAV(data)
	}
	return DecodeMP3(data)
}
