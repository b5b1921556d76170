package recognizer

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/audio"
)

// Mic captures the default input device with malgo.
type Mic struct {
	ctx        *malgo.AllocatedContext
	sampleRate int
	log        *zap.Logger

	mu     sync.Mutex
	device *malgo.Device
}

func NewMic(sampleRate int, logger *zap.Logger) (*Mic, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Mic{ctx: ctx, sampleRate: sampleRate, log: logger}, nil
}

func (m *Mic) SampleRate() int { return m.sampleRate }

// Start opens the capture device and delivers frames at SampleRate.
func (m *Mic) Start(onFrame func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.PeriodSizeInMilliseconds = 50

	var device *malgo.Device
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			frame := make([]byte, len(input))
			copy(frame, input)
			if device != nil {
				if got := int(device.SampleRate()); got > 0 && got != m.sampleRate {
					frame = audio.SamplesToBytes(audio.Resample(audio.BytesToSamples(frame), got, m.sampleRate))
				}
			}
			onFrame(frame)
		},
	}
	d, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	device = d
	if err := d.Start(); err != nil {
		d.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}
	m.device = d
	m.log.Debug("microphone started", zap.Int("sample_rate", m.sampleRate))
	return nil
}

func (m *Mic) Stop() error {
	m.mu.Lock()
	d := m.device
	m.device = nil
	m.mu.Unlock()
	if d == nil {
		return nil
	}
	err := d.Stop()
	d.Uninit()
	return err
}

// Close releases the audio context.
func (m *Mic) Close() error {
	_ = m.Stop()
	if err := m.ctx.Uninit(); err != nil {
		return err
	}
	m.ctx.Free()
	return nil
}
