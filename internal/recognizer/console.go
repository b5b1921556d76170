package recognizer

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/kiosk"
)

// Error codes reported to the controller. They follow the browser speech API.
const (
	CodeNoSpeech     = "no-speech"
	CodeAborted      = "aborted"
	CodeNetwork      = "network"
	CodeAudioCapture = "audio-capture"
)

var ErrInputClosed = errors.New("recognizer input closed")

// Console treats every line typed on the input as one final transcript. It
// stands in for a microphone on headless kiosks and in demos.
type Console struct {
	in       io.Reader
	log      *zap.Logger
	noSpeech time.Duration

	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	sink   kiosk.RecognitionSink
	active bool
	closed bool
	gen    uint64
	timer  *time.Timer
}

func NewConsole(in io.Reader, noSpeech time.Duration, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{in: in, noSpeech: noSpeech, log: logger, done: make(chan struct{})}
}

func (c *Console) Attach(sink kiosk.RecognitionSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Done is closed when the input reaches EOF.
func (c *Console) Done() <-chan struct{} { return c.done }

func (c *Console) Start() error {
	c.once.Do(func() { go c.readLines() })

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrInputClosed
	}
	if c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = true
	c.gen++
	gen := c.gen
	if c.noSpeech > 0 {
		c.timer = time.AfterFunc(c.noSpeech, func() { c.expire(gen) })
	}
	sink := c.sink
	c.mu.Unlock()

	sink.RecognitionStarted()
	return nil
}

func (c *Console) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.endLocked()
	sink := c.sink
	c.mu.Unlock()

	sink.RecognitionEnded()
	return nil
}

func (c *Console) endLocked() {
	c.active = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Console) expire(gen uint64) {
	c.mu.Lock()
	if !c.active || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.endLocked()
	sink := c.sink
	c.mu.Unlock()

	sink.RecognitionError(CodeNoSpeech)
	sink.RecognitionEnded()
}

func (c *Console) readLines() {
	sc := bufio.NewScanner(c.in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.mu.Lock()
		active := c.active
		sink := c.sink
		c.mu.Unlock()
		if !active {
			c.log.Debug("input ignored while not listening", zap.String("text", line))
			continue
		}
		sink.RecognitionResult(line, true)
	}
	if err := sc.Err(); err != nil {
		c.log.Warn("console input", zap.Error(err))
	}

	c.mu.Lock()
	c.closed = true
	wasActive := c.active
	c.endLocked()
	sink := c.sink
	c.mu.Unlock()
	if wasActive {
		sink.RecognitionError(CodeAudioCapture)
		sink.RecognitionEnded()
	}
	close(c.done)
}
