package kiosk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/config"
)

// Deps are the collaborators of a Controller. Room and OnTransition are optional.
type Deps struct {
	Engine    Engine
	Speaker   Speaker
	Transport Transport
	Display   Display
	Room      Room
	Logger    *zap.Logger
	// OnTransition observes every state change, on the controller loop.
	OnTransition func(from, to State)
}

// Controller is the conversation state machine. Every input is posted to a
// mailbox and applied by Run on a single goroutine, so the state and the
// collaborators it drives are never touched concurrently.
type Controller struct {
	opts      Options
	log       *zap.Logger
	rec       *Recognition
	play      *Playback
	transport Transport
	display   Display
	room      Room
	phrases   PhraseMatcher
	onChange  func(from, to State)

	box *mailbox
	// async runs blocking collaborator calls off the loop.
	async func(func())
	// after schedules f after d on some goroutine; f must only post.
	after func(d time.Duration, f func()) (cancel func())

	// Loop-owned.
	ctx        context.Context
	state      State
	turn       uint64
	conn       uint64
	joined     bool
	// roomTail is closed when the last queued room call has returned.
	roomTail   chan struct{}
	cancelTurn context.CancelFunc
	retryTimer func()
	recFailed  bool

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewController(opts Options, deps Deps) (*Controller, error) {
	if deps.Engine == nil || deps.Speaker == nil || deps.Transport == nil || deps.Display == nil {
		return nil, errors.New("kiosk controller requires engine, speaker, transport and display")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	c := &Controller{
		opts:      opts,
		log:       logger,
		rec:       NewRecognition(deps.Engine, logger.Named("recognition")),
		transport: deps.Transport,
		display:   deps.Display,
		room:      deps.Room,
		phrases:   NewPhraseMatcher(opts.ResetPhrases),
		onChange:  deps.OnTransition,
		box:       newMailbox(),
		async:     func(f func()) { go f() },
		after: func(d time.Duration, f func()) func() {
			t := time.AfterFunc(d, f)
			return func() { t.Stop() }
		},
		ctx:   context.Background(),
		state: StateDisconnected,
	}
	c.play = newPlayback(deps.Speaker, opts, c.scheduleOnLoop, logger.Named("playback"))
	c.publish()
	deps.Engine.Attach(c)
	return c, nil
}

// Run applies posted events until ctx is done, then releases audio and leaves
// the room. It connects first when AutoConnect is set.
func (c *Controller) Run(ctx context.Context) error {
	c.box.push(func() {
		c.ctx = ctx
		if c.opts.AutoConnect {
			c.connect()
		}
	})
	for {
		select {
		case <-ctx.Done():
			c.runPending()
			c.shutdown()
			c.publish()
			return nil
		case <-c.box.signal:
			c.runPending()
		}
	}
}

// Connect starts a kiosk session.
func (c *Controller) Connect() { c.box.push(c.connect) }

// Disconnect ends the kiosk session.
func (c *Controller) Disconnect() { c.box.push(c.disconnect) }

// ToggleAmbient mutes or unmutes the ambient loop.
func (c *Controller) ToggleAmbient() { c.box.push(c.toggleAmbient) }

// Snapshot returns the flags as of the last applied event.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// RecognitionStarted implements RecognitionSink.
func (c *Controller) RecognitionStarted() { c.box.push(c.onRecognitionStarted) }

// RecognitionEnded implements RecognitionSink.
func (c *Controller) RecognitionEnded() { c.box.push(c.onRecognitionEnded) }

// RecognitionResult implements RecognitionSink.
func (c *Controller) RecognitionResult(text string, final bool) {
	c.box.push(func() { c.onRecognitionResult(text, final) })
}

// RecognitionError implements RecognitionSink.
func (c *Controller) RecognitionError(code string) {
	c.box.push(func() { c.onRecognitionError(code) })
}

func (c *Controller) runPending() {
	for {
		items := c.box.take()
		if len(items) == 0 {
			return
		}
		for _, f := range items {
			f()
		}
		c.publish()
	}
}

func (c *Controller) publish() {
	s := Snapshot{
		State:             c.state,
		StateName:         c.state.String(),
		Speaking:          c.state == StateSpeaking,
		Processing:        c.state == StateProcessing,
		RecognitionActive: c.rec.Active(),
		AmbientMuted:      c.play.Muted(),
		Turn:              c.turn,
	}
	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()
}

func (c *Controller) scheduleOnLoop(d time.Duration, f func()) func() {
	return c.after(d, func() { c.box.push(f) })
}

func (c *Controller) setState(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	c.log.Debug("state", zap.Stringer("from", prev), zap.Stringer("to", next), zap.Uint64("turn", c.turn))
	if c.onChange != nil {
		c.onChange(prev, next)
	}
}

// --- connection ---

func (c *Controller) connect() {
	if c.state != StateDisconnected {
		return
	}
	c.conn++
	conn := c.conn
	c.setState(StateConnecting)
	c.display.Status(c.opts.Messages.StatusConnecting)

	if c.room == nil {
		c.onConnected(conn, nil)
		return
	}
	room, parent := c.room, c.ctx
	c.roomCall(func() {
		ctx, cancel := context.WithTimeout(parent, c.opts.ConnectTimeout)
		defer cancel()
		err := room.Join(ctx)
		c.box.push(func() { c.onConnected(conn, err) })
	})
}

func (c *Controller) onConnected(conn uint64, err error) {
	if conn != c.conn || c.state != StateConnecting {
		if err == nil && c.room != nil {
			// The visitor gave up while the join was in flight.
			c.leaveRoom()
		}
		return
	}
	if err != nil {
		c.log.Warn("connect failed", zap.Error(err))
		c.setState(StateDisconnected)
		c.display.Utterance(Utterance{Text: c.opts.Messages.ConnectError, Speaker: SpeakerAssistant})
		c.display.Status(c.opts.Messages.StatusConnectError)
		return
	}
	c.joined = c.room != nil
	c.setState(StateListening)
	c.display.Utterance(Utterance{Text: c.opts.Messages.Connected, Speaker: SpeakerAssistant})
	c.display.Status(c.opts.Messages.StatusListening)
	c.play.PlayAmbient(false)
	c.startRecognition()
}

func (c *Controller) disconnect() {
	if c.state == StateDisconnected {
		return
	}
	c.conn++
	c.abandonTurn()
	c.stopRetry()
	if err := c.rec.Stop(); err != nil {
		c.log.Debug("stop recognition", zap.Error(err))
	}
	c.play.StopAll()
	c.setState(StateDisconnected)
	c.display.Status(c.opts.Messages.StatusDisconnected)
	c.display.MicStatus(c.opts.Messages.MicIdle)
	c.display.Utterance(Utterance{Text: c.opts.Messages.Disconnected, Speaker: SpeakerAssistant})
	if c.joined {
		c.joined = false
		c.leaveRoom()
	}
}

func (c *Controller) leaveRoom() {
	room := c.room
	c.roomCall(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		defer cancel()
		if err := room.Leave(ctx); err != nil {
			c.log.Warn("leave room", zap.Error(err))
		}
	})
}

// roomCall runs op off the loop once every earlier room call has returned,
// so a restart's join never overtakes the leave before it.
func (c *Controller) roomCall(op func()) {
	prev := c.roomTail
	done := make(chan struct{})
	c.roomTail = done
	c.async(func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		op()
	})
}

func (c *Controller) shutdown() {
	c.disconnect()
	c.play.Close()
}

func (c *Controller) toggleAmbient() {
	muted := c.play.ToggleMute()
	c.log.Debug("ambient toggled", zap.Bool("muted", muted))
	if muted {
		return
	}
	switch c.state {
	case StateListening:
		c.play.PlayAmbient(false)
	case StateSpeaking:
		c.play.PlayAmbient(true)
	}
}

// --- recognition ---

// startRecognition resumes listening. Only the listening state may listen.
func (c *Controller) startRecognition() {
	if c.state != StateListening {
		return
	}
	c.stopRetry()
	if err := c.rec.Start(); err != nil {
		c.log.Warn("recognition start failed", zap.Error(err))
		c.display.Status(c.opts.Messages.StatusRecognition)
		c.restartLater()
	}
}

// restartLater retries listening after RestartDelay so a failing engine does
// not spin the loop.
func (c *Controller) restartLater() {
	c.stopRetry()
	c.retryTimer = c.scheduleOnLoop(c.opts.RestartDelay, func() {
		c.retryTimer = nil
		c.startRecognition()
	})
}

func (c *Controller) stopRetry() {
	if c.retryTimer != nil {
		c.retryTimer()
		c.retryTimer = nil
	}
}

func (c *Controller) onRecognitionStarted() {
	c.rec.started()
	if c.state != StateListening {
		// A start raced with a transition; this activation must not deliver.
		if err := c.rec.Stop(); err != nil {
			c.log.Debug("stop late recognition", zap.Error(err))
		}
		return
	}
	c.display.MicStatus(c.opts.Messages.MicListening)
}

func (c *Controller) onRecognitionEnded() {
	c.rec.ended()
	c.display.MicStatus(c.opts.Messages.MicIdle)
	if c.state != StateListening {
		return
	}
	// Engines end sessions on their own; keep listening while idle.
	if c.recFailed {
		c.recFailed = false
		c.restartLater()
		return
	}
	c.startRecognition()
}

func (c *Controller) onRecognitionError(code string) {
	if c.rec.failed(code) && c.state.Connected() {
		c.recFailed = true
		c.display.Status(c.opts.Messages.StatusRecognition)
	}
}

func (c *Controller) onRecognitionResult(text string, final bool) {
	if !c.rec.result(text, final) {
		return
	}
	if c.state != StateListening {
		c.log.Debug("result outside listening discarded", zap.Stringer("state", c.state))
		return
	}
	prompt := strings.ToLower(strings.TrimSpace(text))
	if prompt == "" {
		return
	}
	c.beginTurn(prompt)
}

// --- turns ---

func (c *Controller) beginTurn(prompt string) {
	c.display.Utterance(Utterance{Text: prompt, Speaker: SpeakerUser})
	c.display.Status(c.opts.Messages.StatusThinking)
	if err := c.rec.Stop(); err != nil {
		c.log.Debug("stop recognition", zap.Error(err))
	}
	c.stopRetry()

	c.turn++
	turn := c.turn
	c.setState(StateProcessing)
	c.play.PauseAmbient()
	c.play.StartSuspense()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	c.cancelTurn = cancel
	transport := c.transport

	if phrase, ok := c.phrases.Match(prompt); ok {
		c.log.Info("reset phrase", zap.String("phrase", phrase), zap.Uint64("turn", turn))
		c.async(func() {
			err := transport.Reset(ctx)
			c.box.push(func() { c.onReset(turn, err) })
		})
		return
	}

	req := AskRequest{Prompt: prompt, Voice: c.opts.Voice, Speed: c.opts.Speed}
	c.async(func() {
		payload, err := transport.Ask(ctx, req)
		if err == nil && len(payload) == 0 {
			err = errors.New("empty reply audio")
		}
		c.box.push(func() { c.onReply(turn, payload, err) })
	})
}

// current reports whether a completion still belongs to the running turn.
func (c *Controller) current(turn uint64, want State) bool {
	if turn != c.turn || c.state != want {
		c.log.Debug("stale completion discarded", zap.Uint64("turn", turn), zap.Uint64("current", c.turn), zap.Stringer("state", c.state))
		return false
	}
	return true
}

func (c *Controller) onReply(turn uint64, payload []byte, err error) {
	if !c.current(turn, StateProcessing) {
		return
	}
	c.releaseTurnContext()
	if err != nil {
		c.failTurn(fmt.Errorf("ask: %w", err))
		return
	}
	c.speak(turn, payload, false)
}

func (c *Controller) onReset(turn uint64, err error) {
	if !c.current(turn, StateProcessing) {
		return
	}
	if err != nil {
		c.releaseTurnContext()
		c.failTurn(fmt.Errorf("reset: %w", err))
		return
	}
	c.display.Utterance(Utterance{Text: c.opts.Messages.Farewell, Speaker: SpeakerAssistant})

	if c.opts.Farewell != config.FarewellGoodbyeAudio {
		c.releaseTurnContext()
		c.finishTurn()
		return
	}

	// Keep processing while the goodbye audio is fetched with the turn context.
	ctx := c.turnContext()
	transport := c.transport
	voice := c.opts.GoodbyeVoice
	c.async(func() {
		payload, err := transport.Goodbye(ctx, voice)
		if err == nil && len(payload) == 0 {
			err = errors.New("empty goodbye audio")
		}
		c.box.push(func() { c.onGoodbye(turn, payload, err) })
	})
}

func (c *Controller) onGoodbye(turn uint64, payload []byte, err error) {
	if !c.current(turn, StateProcessing) {
		return
	}
	c.releaseTurnContext()
	if err != nil {
		c.log.Warn("goodbye audio unavailable", zap.Error(err))
		c.finishTurn()
		return
	}
	c.speak(turn, payload, true)
}

func (c *Controller) speak(turn uint64, payload []byte, farewell bool) {
	c.play.StopSuspense(c.opts.SuspenseStop == config.SuspenseStopFade)
	c.setState(StateSpeaking)
	c.play.PlayAmbient(true)
	c.display.Status(c.opts.Messages.StatusSpeaking)
	if err := c.rec.Stop(); err != nil {
		c.log.Debug("stop recognition", zap.Error(err))
	}

	if !farewell {
		c.display.Utterance(Utterance{Text: c.opts.Messages.ReplyPlaced, Speaker: SpeakerAssistant})
	}

	done := func(err error) {
		c.box.push(func() { c.onSpeechDone(turn, err, farewell) })
	}
	if err := c.play.Speak(payload, done); err != nil {
		// Completions posted by the released clip arrive stale.
		c.onSpeechDone(turn, err, farewell)
	}
}

func (c *Controller) onSpeechDone(turn uint64, err error, farewell bool) {
	if !c.current(turn, StateSpeaking) {
		return
	}
	c.play.ReleaseSpeech()
	if err != nil && !errors.Is(err, ErrInterrupted) {
		c.log.Warn("reply playback error", zap.Error(err))
		c.display.Status(c.opts.Messages.StatusAudioError)
	}
	if farewell {
		// A full restart of the kiosk session.
		c.disconnect()
		c.connect()
		return
	}
	c.setState(StateListening)
	c.play.PlayAmbient(false)
	if err == nil {
		c.display.Status(c.opts.Messages.StatusListening)
	}
	c.startRecognition()
}

// failTurn recovers from a failed request: apology, audio restored, listening.
func (c *Controller) failTurn(err error) {
	c.log.Warn("turn failed", zap.Uint64("turn", c.turn), zap.Error(err))
	c.display.Utterance(Utterance{Text: c.opts.Messages.Apology, Speaker: SpeakerAssistant})
	c.finishTurn()
}

func (c *Controller) finishTurn() {
	c.play.StopSuspense(false)
	c.setState(StateListening)
	c.play.PlayAmbient(false)
	c.display.Status(c.opts.Messages.StatusListening)
	c.startRecognition()
}

func (c *Controller) turnContext() context.Context {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	prev := c.cancelTurn
	c.cancelTurn = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	return ctx
}

func (c *Controller) releaseTurnContext() {
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
}

// abandonTurn invalidates every outstanding completion and cancels its request.
func (c *Controller) abandonTurn() {
	c.turn++
	c.releaseTurnContext()
}
