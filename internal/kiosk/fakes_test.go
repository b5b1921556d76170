package kiosk

import (
	"context"
	"testing"
	"time"
)

type fakeEngine struct {
	sink   RecognitionSink
	starts int
	stops  int
	// statesAtStart records the controller state seen by every Start.
	statesAtStart []State
	ctrl          *Controller
	startErr      error
}

func (e *fakeEngine) Attach(sink RecognitionSink) { e.sink = sink }

func (e *fakeEngine) Start() error {
	e.starts++
	if e.ctrl != nil {
		e.statesAtStart = append(e.statesAtStart, e.ctrl.state)
	}
	if e.startErr != nil {
		return e.startErr
	}
	e.sink.RecognitionStarted()
	return nil
}

func (e *fakeEngine) Stop() error {
	e.stops++
	e.sink.RecognitionEnded()
	return nil
}

type fakeClip struct {
	name    string
	playing bool
	volume  float64
	plays   int
	rewinds int
	closed  bool
	playErr error
	done    func(error)
}

func (c *fakeClip) Play() error {
	c.plays++
	if c.playErr != nil {
		return c.playErr
	}
	c.playing = true
	return nil
}

func (c *fakeClip) Pause()              { c.playing = false }
func (c *fakeClip) Rewind() error       { c.rewinds++; return nil }
func (c *fakeClip) SetVolume(v float64) { c.volume = v }
func (c *fakeClip) Playing() bool       { return c.playing }

func (c *fakeClip) Close() error {
	c.closed = true
	c.playing = false
	c.finish(ErrInterrupted)
	return nil
}

// finish ends a one-shot clip the way a speaker does.
func (c *fakeClip) finish(err error) {
	c.playing = false
	if c.done != nil {
		done := c.done
		c.done = nil
		done(err)
	}
}

type fakeSpeaker struct {
	loops   map[string]*fakeClip
	onces   []*fakeClip
	playErr error
	loopErr error
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{loops: map[string]*fakeClip{}}
}

func (s *fakeSpeaker) Loop(name string) (Clip, error) {
	if s.loopErr != nil {
		return nil, s.loopErr
	}
	clip := &fakeClip{name: name}
	s.loops[name] = clip
	return clip, nil
}

func (s *fakeSpeaker) Once(payload []byte, done func(error)) (Clip, error) {
	clip := &fakeClip{name: string(payload), done: done, playErr: s.playErr}
	s.onces = append(s.onces, clip)
	return clip, nil
}

func (s *fakeSpeaker) lastOnce(t *testing.T) *fakeClip {
	t.Helper()
	if len(s.onces) == 0 {
		t.Fatalf("no reply clip was created")
	}
	return s.onces[len(s.onces)-1]
}

type fakeTransport struct {
	asks     []AskRequest
	askCtx   []context.Context
	resets   int
	goodbyes []string

	reply      []byte
	askErr     error
	resetErr   error
	goodbye    []byte
	goodbyeErr error
}

func (f *fakeTransport) Ask(ctx context.Context, req AskRequest) ([]byte, error) {
	f.asks = append(f.asks, req)
	f.askCtx = append(f.askCtx, ctx)
	return f.reply, f.askErr
}

func (f *fakeTransport) Reset(ctx context.Context) error {
	f.resets++
	return f.resetErr
}

func (f *fakeTransport) Goodbye(ctx context.Context, voice string) ([]byte, error) {
	f.goodbyes = append(f.goodbyes, voice)
	return f.goodbye, f.goodbyeErr
}

type fakeDisplay struct {
	utterances []Utterance
	statuses   []string
	mic        []string
}

func (d *fakeDisplay) Utterance(u Utterance) { d.utterances = append(d.utterances, u) }
func (d *fakeDisplay) Status(text string)    { d.statuses = append(d.statuses, text) }
func (d *fakeDisplay) MicStatus(text string) { d.mic = append(d.mic, text) }

func (d *fakeDisplay) lastStatus() string {
	if len(d.statuses) == 0 {
		return ""
	}
	return d.statuses[len(d.statuses)-1]
}

func (d *fakeDisplay) hasStatus(text string) bool {
	for _, s := range d.statuses {
		if s == text {
			return true
		}
	}
	return false
}

func (d *fakeDisplay) lastUtterance() Utterance {
	if len(d.utterances) == 0 {
		return Utterance{}
	}
	return d.utterances[len(d.utterances)-1]
}

type fakeRoom struct {
	joins   int
	leaves  int
	joinErr error
}

func (r *fakeRoom) Join(ctx context.Context) error {
	r.joins++
	return r.joinErr
}

func (r *fakeRoom) Leave(ctx context.Context) error {
	r.leaves++
	return nil
}

type fakeTimer struct {
	d         time.Duration
	f         func()
	cancelled bool
}

// harness drives a Controller without goroutines: collaborator calls are
// queued and timers fire only when the test says so.
type harness struct {
	t         *testing.T
	c         *Controller
	engine    *fakeEngine
	speaker   *fakeSpeaker
	transport *fakeTransport
	display   *fakeDisplay
	room      *fakeRoom

	asyncQ []func()
	timers []*fakeTimer
}

func newHarness(t *testing.T, mutate func(*Options), room *fakeRoom) *harness {
	t.Helper()
	opts := DefaultOptions()
	opts.AutoConnect = false
	if mutate != nil {
		mutate(&opts)
	}

	h := &harness{
		t:         t,
		engine:    &fakeEngine{},
		speaker:   newFakeSpeaker(),
		transport: &fakeTransport{reply: []byte("reply-audio"), goodbye: []byte("goodbye-audio")},
		display:   &fakeDisplay{},
		room:      room,
	}
	deps := Deps{
		Engine:    h.engine,
		Speaker:   h.speaker,
		Transport: h.transport,
		Display:   h.display,
	}
	if room != nil {
		deps.Room = room
	}
	c, err := NewController(opts, deps)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	c.async = func(f func()) { h.asyncQ = append(h.asyncQ, f) }
	c.after = func(d time.Duration, f func()) func() {
		tm := &fakeTimer{d: d, f: f}
		h.timers = append(h.timers, tm)
		return func() { tm.cancelled = true }
	}
	h.engine.ctrl = c
	h.c = c
	return h
}

// settle applies every posted event and runs queued collaborator calls until
// nothing is left.
func (h *harness) settle() {
	for {
		h.c.runPending()
		if len(h.asyncQ) == 0 {
			return
		}
		q := h.asyncQ
		h.asyncQ = nil
		for _, f := range q {
			f()
		}
	}
}

// fireTimers fires the timers pending right now and settles.
func (h *harness) fireTimers() int {
	due := h.timers
	h.timers = nil
	fired := 0
	for _, tm := range due {
		if tm.cancelled {
			continue
		}
		tm.f()
		fired++
	}
	h.settle()
	return fired
}

// drainTimers fires timers until none are scheduled.
func (h *harness) drainTimers() {
	for i := 0; i < 1000 && len(h.timers) > 0; i++ {
		h.fireTimers()
	}
}

func (h *harness) connect() {
	h.t.Helper()
	h.c.Connect()
	h.settle()
	if h.c.state != StateListening {
		h.t.Fatalf("state after connect = %s, want listening", h.c.state)
	}
}

func (h *harness) say(text string) {
	h.c.RecognitionResult(text, true)
	h.settle()
}

func (h *harness) ambient() *fakeClip  { return h.speaker.loops["ambient"] }
func (h *harness) suspense() *fakeClip { return h.speaker.loops["suspense"] }
