package recognizer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/kiosk"
	"github.com/ent0n29/anubis/internal/reliability"
)

// Microphone delivers 16-bit mono PCM frames while started.
type Microphone interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
	SampleRate() int
}

// RealtimeConfig configures the ElevenLabs realtime speech-to-text engine.
type RealtimeConfig struct {
	APIKey          string
	WSBaseURL       string
	ModelID         string
	Language        string
	NoSpeechTimeout time.Duration
	DialTimeout     time.Duration
}

// Realtime streams microphone audio to ElevenLabs and reports committed
// transcripts as final results. One websocket session is one activation.
type Realtime struct {
	cfg    RealtimeConfig
	mic    Microphone
	dialer *websocket.Dialer
	log    *zap.Logger

	mu     sync.Mutex
	sink   kiosk.RecognitionSink
	gen    uint64
	cancel context.CancelFunc
}

func NewRealtime(cfg RealtimeConfig, mic Microphone, logger *zap.Logger) *Realtime {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v1"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Realtime{cfg: cfg, mic: mic, dialer: websocket.DefaultDialer, log: logger}
}

func (r *Realtime) Attach(sink kiosk.RecognitionSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *Realtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.gen++
	r.cancel = cancel
	go r.run(ctx, r.gen, r.sink)
	return nil
}

func (r *Realtime) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *Realtime) run(ctx context.Context, gen uint64, sink kiosk.RecognitionSink) {
	defer func() {
		r.mu.Lock()
		if r.gen == gen {
			r.cancel()
			r.cancel = nil
		}
		r.mu.Unlock()
		sink.RecognitionEnded()
	}()

	conn, err := r.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			sink.RecognitionError(CodeAborted)
			return
		}
		r.log.Warn("stt dial failed", zap.Error(err))
		sink.RecognitionError(CodeNetwork)
		return
	}
	defer conn.Close()
	sink.RecognitionStarted()

	var writeMu sync.Mutex
	rate := r.mic.SampleRate()
	if err := r.mic.Start(func(pcm []byte) {
		msg := map[string]any{
			"message_type":  "input_audio_chunk",
			"audio_base_64": base64.StdEncoding.EncodeToString(pcm),
			"commit":        false,
			"sample_rate":   rate,
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			r.log.Debug("stt audio write", zap.Error(err))
		}
	}); err != nil {
		r.log.Warn("microphone start failed", zap.Error(err))
		sink.RecognitionError(CodeAudioCapture)
		return
	}
	defer func() {
		if err := r.mic.Stop(); err != nil {
			r.log.Debug("microphone stop", zap.Error(err))
		}
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if code := r.readLoop(conn, sink); code != "" && ctx.Err() == nil {
		sink.RecognitionError(code)
	}
}

// readLoop forwards transcripts until the session fails or is closed. It
// returns the error code to report, if any. The no-speech deadline only
// runs until the first transcript; after that the engine's own endpointing
// decides when the utterance is committed.
func (r *Realtime) readLoop(conn *websocket.Conn, sink kiosk.RecognitionSink) string {
	heard := false
	if r.cfg.NoSpeechTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.NoSpeechTimeout))
	}
	markHeard := func() {
		if !heard {
			heard = true
			_ = conn.SetReadDeadline(time.Time{})
		}
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return CodeNoSpeech
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return ""
			}
			r.log.Debug("stt read", zap.Error(err))
			return CodeNetwork
		}

		var msg struct {
			MessageType string `json:"message_type"`
			Text        string `json:"text"`
			Error       string `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.MessageType {
		case "partial_transcript":
			if strings.TrimSpace(msg.Text) != "" {
				markHeard()
			}
			sink.RecognitionResult(msg.Text, false)
		case "committed_transcript", "committed_transcript_with_timestamps":
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			markHeard()
			sink.RecognitionResult(msg.Text, true)
		case "session_started", "", "input_audio_chunk":
		default:
			r.log.Warn("stt error message",
				zap.String("type", msg.MessageType),
				zap.String("detail", msg.Error),
				zap.Bool("retryable", reliability.IsRetryableRealtimeMessageType(msg.MessageType)),
			)
			return CodeNetwork
		}
	}
}

func (r *Realtime) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(strings.TrimRight(r.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", r.cfg.ModelID)
	q.Set("commit_strategy", "vad")
	if r.cfg.Language != "" {
		q.Set("language_code", r.cfg.Language)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", r.cfg.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()
	conn, res, err := r.dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		if res != nil {
			return nil, &reliability.StatusError{Provider: "elevenlabs-stt", Status: res.StatusCode}
		}
		return nil, fmt.Errorf("dial stt websocket: %w", err)
	}
	return conn, nil
}
