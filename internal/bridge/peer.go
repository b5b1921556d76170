package bridge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/kiosk"
	"github.com/ent0n29/anubis/internal/protocol"
)

// Sender queues one outbound message for the browser. It must not block.
type Sender func(msg any)

// Peer is the browser end of a bridged kiosk. The browser runs speech
// recognition and audio; Peer forwards commands to it and turns its events
// back into recognition and clip callbacks. It implements kiosk.Engine,
// kiosk.Speaker and kiosk.Display.
type Peer struct {
	send      Sender
	log       *zap.Logger
	language  string
	assetBase string

	mu    sync.Mutex
	sink  kiosk.RecognitionSink
	clips map[string]*remoteClip
}

func NewPeer(send Sender, language, assetBase string, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Peer{
		send:      send,
		log:       logger,
		language:  language,
		assetBase: strings.TrimRight(assetBase, "/"),
		clips:     make(map[string]*remoteClip),
	}
}

// Attach implements kiosk.Engine.
func (p *Peer) Attach(sink kiosk.RecognitionSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// Start asks the browser to start listening. Started, results, errors and
// Ended come back as recognition events.
func (p *Peer) Start() error {
	p.send(protocol.Recognition{Type: protocol.TypeRecognition, Action: protocol.RecognitionStart, Language: p.language})
	return nil
}

func (p *Peer) Stop() error {
	p.send(protocol.Recognition{Type: protocol.TypeRecognition, Action: protocol.RecognitionStop})
	return nil
}

// Loop implements kiosk.Speaker with a looping browser audio element.
func (p *Peer) Loop(name string) (kiosk.Clip, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("empty asset name")
	}
	c := p.newClip(nil)
	p.send(protocol.Clip{
		Type:   protocol.TypeClip,
		ClipID: c.id,
		Action: protocol.ClipLoadLoop,
		Asset:  p.assetBase + "/" + name,
	})
	return c, nil
}

// Once implements kiosk.Speaker with a one-shot clip carrying the payload.
func (p *Peer) Once(payload []byte, done func(error)) (kiosk.Clip, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	c := p.newClip(done)
	p.send(protocol.Clip{
		Type:        protocol.TypeClip,
		ClipID:      c.id,
		Action:      protocol.ClipLoadOnce,
		AudioBase64: base64.StdEncoding.EncodeToString(payload),
		ContentType: contentTypeOf(payload),
	})
	return c, nil
}

func (p *Peer) Utterance(u kiosk.Utterance) {
	p.send(protocol.Utterance{Type: protocol.TypeUtterance, Text: u.Text, Speaker: u.Speaker})
}

func (p *Peer) Status(text string) {
	p.send(protocol.StatusLine{Type: protocol.TypeStatus, Text: text})
}

func (p *Peer) MicStatus(text string) {
	p.send(protocol.StatusLine{Type: protocol.TypeMicStatus, Text: text})
}

// HandleRecognition forwards a browser recognition event to the attached sink.
func (p *Peer) HandleRecognition(ev protocol.RecognitionEvent) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return
	}
	switch ev.Event {
	case protocol.RecognitionStarted:
		sink.RecognitionStarted()
	case protocol.RecognitionEnded:
		sink.RecognitionEnded()
	case protocol.RecognitionResult:
		sink.RecognitionResult(ev.Text, ev.Final)
	case protocol.RecognitionError:
		sink.RecognitionError(ev.Code)
	}
}

// HandleClip applies a browser playback event to its clip. Events for closed
// clips are ignored.
func (p *Peer) HandleClip(ev protocol.ClipEvent) {
	p.mu.Lock()
	c := p.clips[ev.ClipID]
	p.mu.Unlock()
	if c == nil {
		p.log.Debug("event for unknown clip", zap.String("clip_id", ev.ClipID), zap.String("event", ev.Event))
		return
	}
	switch ev.Event {
	case protocol.ClipEnded:
		c.finish(nil)
	case protocol.ClipInterrupted:
		c.finish(kiosk.ErrInterrupted)
	case protocol.ClipError:
		c.finish(fmt.Errorf("browser playback: %s", ev.Detail))
	}
}

// CloseClips releases every clip; pending completions report ErrInterrupted.
func (p *Peer) CloseClips() {
	p.mu.Lock()
	clips := make([]*remoteClip, 0, len(p.clips))
	for _, c := range p.clips {
		clips = append(clips, c)
	}
	p.mu.Unlock()
	for _, c := range clips {
		_ = c.Close()
	}
}

func (p *Peer) newClip(done func(error)) *remoteClip {
	c := &remoteClip{peer: p, id: uuid.NewString(), done: done}
	p.mu.Lock()
	p.clips[c.id] = c
	p.mu.Unlock()
	return c
}

func (p *Peer) forget(id string) {
	p.mu.Lock()
	delete(p.clips, id)
	p.mu.Unlock()
}

func contentTypeOf(payload []byte) string {
	ct := http.DetectContentType(payload)
	if strings.HasPrefix(ct, "audio/") {
		return ct
	}
	// Headerless MP3 frames sniff as octet-stream.
	return "audio/mpeg"
}

type remoteClip struct {
	peer *Peer
	id   string

	mu      sync.Mutex
	playing bool
	closed  bool
	done    func(error)
}

func (c *remoteClip) Play() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return kiosk.ErrInterrupted
	}
	c.playing = true
	c.mu.Unlock()
	c.command(protocol.ClipPlay, nil)
	return nil
}

func (c *remoteClip) Pause() {
	c.mu.Lock()
	c.playing = false
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.command(protocol.ClipPause, nil)
	}
}

func (c *remoteClip) Rewind() error {
	c.command(protocol.ClipRewind, nil)
	return nil
}

func (c *remoteClip) SetVolume(v float64) {
	c.command(protocol.ClipVolume, &v)
}

func (c *remoteClip) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *remoteClip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.playing = false
	c.mu.Unlock()

	c.peer.forget(c.id)
	c.command(protocol.ClipClose, nil)
	c.finish(kiosk.ErrInterrupted)
	return nil
}

func (c *remoteClip) finish(err error) {
	c.mu.Lock()
	// An aborted play() may arrive after a newer Play; it does not stop the clip.
	if !errors.Is(err, kiosk.ErrInterrupted) {
		c.playing = false
	}
	done := c.done
	c.done = nil
	c.mu.Unlock()
	if done != nil {
		done(err)
	} else if err != nil && !errors.Is(err, kiosk.ErrInterrupted) {
		c.peer.log.Warn("loop playback failed", zap.String("clip_id", c.id), zap.Error(err))
	}
}

func (c *remoteClip) command(action string, volume *float64) {
	c.peer.send(protocol.Clip{Type: protocol.TypeClip, ClipID: c.id, Action: action, Volume: volume})
}
