package speaker

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/audio"
	"github.com/ent0n29/anubis/internal/kiosk"
)

const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2

	watchInterval = 40 * time.Millisecond
)

// player is the part of *oto.Player the clips drive.
type player interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Seek(offset int64, whence int) (int64, error)
	Err() error
	Close() error
}

type playerFactory func(r io.ReadSeeker) player

// Output plays kiosk clips on the default audio device. oto allows a single
// context per process, so one Output serves every clip.
type Output struct {
	newPlayer  playerFactory
	sampleRate int
	channels   int
	readAsset  func(name string) ([]byte, error)
	log        *zap.Logger

	mu     sync.Mutex
	assets map[string][]byte
}

// New opens the audio device.
func New(sampleRate, channels int, logger *zap.Logger) (*Output, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	<-ready
	factory := func(r io.ReadSeeker) player { return ctx.NewPlayer(r) }
	return newOutput(factory, sampleRate, channels, os.ReadFile, logger), nil
}

func newOutput(factory playerFactory, sampleRate, channels int, readAsset func(string) ([]byte, error), logger *zap.Logger) *Output {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Output{
		newPlayer:  factory,
		sampleRate: sampleRate,
		channels:   channels,
		readAsset:  readAsset,
		log:        logger,
		assets:     make(map[string][]byte),
	}
}

// Loop returns a clip that repeats the named asset file until paused.
func (o *Output) Loop(name string) (kiosk.Clip, error) {
	pcm, err := o.asset(name)
	if err != nil {
		return nil, err
	}
	r := newPCMReader(pcm, true)
	return &clip{player: o.newPlayer(r), reader: r}, nil
}

// Once decodes an MP3 or WAV payload into a one-shot clip.
func (o *Output) Once(payload []byte, done func(error)) (kiosk.Clip, error) {
	pcm, err := o.decode(payload)
	if err != nil {
		return nil, err
	}
	r := newPCMReader(pcm, false)
	c := &clip{
		player: o.newPlayer(r),
		reader: r,
		done:   done,
		stop:   make(chan struct{}),
		log:    o.log,
	}
	return c, nil
}

func (o *Output) asset(name string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if pcm, ok := o.assets[name]; ok {
		return pcm, nil
	}
	raw, err := o.readAsset(name)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", name, err)
	}
	pcm, err := o.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", name, err)
	}
	o.assets[name] = pcm
	return pcm, nil
}

func (o *Output) decode(payload []byte) ([]byte, error) {
	pcm, err := audio.Decode(payload)
	if err != nil {
		return nil, err
	}
	if pcm.Frames() == 0 {
		return nil, fmt.Errorf("audio payload has no samples")
	}
	return pcm.Convert(o.sampleRate, o.channels).Bytes(), nil
}

// clip implements kiosk.Clip over one oto player.
type clip struct {
	player player
	reader *pcmReader
	log    *zap.Logger

	mu       sync.Mutex
	done     func(error)
	stop     chan struct{}
	watching bool
	closed   bool
}

func (c *clip) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return kiosk.ErrInterrupted
	}
	if err := c.player.Err(); err != nil {
		return err
	}
	c.player.Play()
	if c.done != nil && !c.watching {
		c.watching = true
		go c.watch()
	}
	return nil
}

func (c *clip) Pause() { c.player.Pause() }

func (c *clip) Rewind() error {
	_, err := c.player.Seek(0, io.SeekStart)
	return err
}

func (c *clip) SetVolume(v float64) { c.player.SetVolume(v) }

func (c *clip) Playing() bool { return c.player.IsPlaying() }

// Close stops the clip and releases its player; a one-shot clip still
// playing reports ErrInterrupted.
func (c *clip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.stop != nil {
		close(c.stop)
	}
	c.mu.Unlock()

	c.player.Pause()
	err := c.player.Close()
	c.reader.close()
	c.finish(kiosk.ErrInterrupted)
	if err != nil {
		return fmt.Errorf("close player: %w", err)
	}
	return nil
}

// watch reports the natural end of a one-shot clip. oto has no end callback,
// so the player is polled until the reader is drained and playback stops.
func (c *clip) watch() {
	t := time.NewTicker(watchInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
		}
		if err := c.player.Err(); err != nil {
			c.finish(err)
			return
		}
		if c.reader.drained() && !c.player.IsPlaying() {
			c.finish(nil)
			return
		}
	}
}

func (c *clip) finish(err error) {
	c.mu.Lock()
	done := c.done
	c.done = nil
	c.mu.Unlock()
	if done != nil {
		done(err)
	}
}

// pcmReader serves PCM bytes to a player, optionally wrapping around.
type pcmReader struct {
	mu     sync.Mutex
	data   []byte
	pos    int
	loop   bool
	closed bool
}

func newPCMReader(data []byte, loop bool) *pcmReader {
	return &pcmReader{data: data, loop: loop}
}

func (r *pcmReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.data) == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) {
		if r.pos >= len(r.data) {
			if !r.loop {
				break
			}
			r.pos = 0
		}
		m := copy(p[n:], r.data[r.pos:])
		r.pos += m
		n += m
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *pcmReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(r.pos) + offset
	case io.SeekEnd:
		next = int64(len(r.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 || next > int64(len(r.data)) {
		return 0, fmt.Errorf("seek %d out of range", next)
	}
	r.pos = int(next)
	return next, nil
}

func (r *pcmReader) drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.loop && r.pos >= len(r.data)
}

func (r *pcmReader) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
