package room

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/ent0n29/anubis/internal/audio"
)

const (
	// Room audio is 48 kHz mono opus in 20 ms packets.
	roomSampleRate    = 48000
	opusFrameSamples  = 960
	opusFrameDuration = 20 * time.Millisecond
	// 120 ms is the longest opus packet.
	maxOpusFrameSamples = 5760
	maxOpusPacketBytes  = 1275
)

// Capture delivers 16-bit mono PCM frames while started.
type Capture interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
	SampleRate() int
}

// Sink plays live 16-bit mono PCM at sampleRate until the writer is closed.
type Sink interface {
	Stream(sampleRate int) (io.WriteCloser, error)
}

// Media is the kiosk's side of the room audio. Without a capture nothing is
// published; without a sink remote audio is not played.
type Media struct {
	Capture Capture
	Sink    Sink
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

type frameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

type sampleWriter interface {
	WriteSample(s media.Sample, opts *lksdk.SampleWriteOptions) error
}

func newOpusEncoder() (frameEncoder, error) {
	enc, err := opus.NewEncoder(roomSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return enc, nil
}

func newOpusDecoder() (frameDecoder, error) {
	dec, err := opus.NewDecoder(roomSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return dec, nil
}

// micPublisher cuts microphone audio into opus packets on the published track.
type micPublisher struct {
	enc  frameEncoder
	out  sampleWriter
	rate int
	log  *zap.Logger

	mu      sync.Mutex
	pending []int16
	packet  []byte
}

func newMicPublisher(enc frameEncoder, out sampleWriter, rate int, logger *zap.Logger) *micPublisher {
	return &micPublisher{
		enc:    enc,
		out:    out,
		rate:   rate,
		log:    logger,
		packet: make([]byte, maxOpusPacketBytes),
	}
}

func (p *micPublisher) write(pcm []byte) {
	samples := audio.BytesToSamples(pcm)
	if p.rate != roomSampleRate {
		samples = audio.Resample(samples, p.rate, roomSampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, samples...)
	sent := 0
	for len(p.pending)-sent >= opusFrameSamples {
		frame := p.pending[sent : sent+opusFrameSamples]
		sent += opusFrameSamples
		n, err := p.enc.Encode(frame, p.packet)
		if err != nil {
			p.log.Debug("opus encode", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, p.packet[:n])
		if err := p.out.WriteSample(media.Sample{Data: data, Duration: opusFrameDuration}, nil); err != nil {
			p.log.Debug("room mic write", zap.Error(err))
		}
	}
	p.pending = append(p.pending[:0], p.pending[sent:]...)
}

// playRemote decodes one remote participant's opus packets into the sink
// until the track ends.
func playRemote(read func() ([]byte, error), dec frameDecoder, sink Sink, logger *zap.Logger) error {
	stream, err := sink.Stream(roomSampleRate)
	if err != nil {
		return fmt.Errorf("open room audio stream: %w", err)
	}
	defer stream.Close()

	pcm := make([]int16, maxOpusFrameSamples)
	for {
		payload, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(payload) == 0 {
			continue
		}
		n, err := dec.Decode(payload, pcm)
		if err != nil {
			logger.Debug("opus decode", zap.Error(err))
			continue
		}
		if _, err := stream.Write(audio.SamplesToBytes(pcm[:n])); err != nil {
			return err
		}
	}
}
