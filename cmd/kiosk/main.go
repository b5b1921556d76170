package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/anubis/internal/config"
	"github.com/ent0n29/anubis/internal/kiosk"
	"github.com/ent0n29/anubis/internal/logging"
	"github.com/ent0n29/anubis/internal/recognizer"
	"github.com/ent0n29/anubis/internal/room"
	"github.com/ent0n29/anubis/internal/speaker"
)

func main() {
	cfg, err := config.LoadKiosk()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := kiosk.NewHTTPTransport(cfg.ServerURL, cfg.RequestTimeout, logger.Named("transport"))
	if err != nil {
		logger.Fatal("transport init failed", zap.Error(err))
	}
	out, err := speaker.New(0, 0, logger.Named("speaker"))
	if err != nil {
		logger.Fatal("audio output init failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	var engine kiosk.Engine
	switch cfg.Recognizer {
	case "elevenlabs":
		mic, err := recognizer.NewMic(cfg.MicSampleRate, logger.Named("mic"))
		if err != nil {
			logger.Fatal("microphone init failed", zap.Error(err))
		}
		defer func() { _ = mic.Close() }()
		engine = recognizer.NewRealtime(recognizer.RealtimeConfig{
			APIKey:          cfg.ElevenLabsAPIKey,
			WSBaseURL:       cfg.ElevenLabsWSURL,
			ModelID:         cfg.STTModelID,
			Language:        cfg.STTLanguage,
			NoSpeechTimeout: cfg.NoSpeechTimeout,
		}, mic, logger.Named("recognizer"))
	default:
		console := recognizer.NewConsole(os.Stdin, cfg.NoSpeechTimeout, logger.Named("recognizer"))
		engine = console
		// Closing stdin ends the visit.
		g.Go(func() error {
			select {
			case <-console.Done():
				stop()
			case <-gctx.Done():
			}
			return nil
		})
	}

	deps := kiosk.Deps{
		Engine:    engine,
		Speaker:   out,
		Transport: transport,
		Display:   kiosk.NewWriterDisplay(os.Stdout),
		Logger:    logger.Named("kiosk"),
		OnTransition: func(from, to kiosk.State) {
			logger.Debug("kiosk state", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	}
	if cfg.JoinRoom {
		roomMic, err := recognizer.NewMic(48000, logger.Named("room-mic"))
		if err != nil {
			logger.Fatal("room microphone init failed", zap.Error(err))
		}
		defer func() { _ = roomMic.Close() }()
		deps.Room = room.NewJoiner(func(ctx context.Context) (string, string, error) {
			tok, err := transport.Token(ctx)
			return tok.URL, tok.Token, err
		}, room.Media{Capture: roomMic, Sink: out}, logger.Named("room"))
	}

	controller, err := kiosk.NewController(kiosk.OptionsFromConfig(cfg), deps)
	if err != nil {
		logger.Fatal("kiosk init failed", zap.Error(err))
	}

	// A wrong voice only degrades replies, so the kiosk still starts.
	voiceCtx, cancelVoice := context.WithTimeout(ctx, cfg.RequestTimeout)
	if offered, err := transport.CheckVoice(voiceCtx, cfg.Voice); err != nil {
		logger.Warn("voice check failed", zap.String("voice", cfg.Voice), zap.Strings("offered", offered), zap.Error(err))
	}
	cancelVoice()

	logger.Info("kiosk starting",
		zap.String("server", cfg.ServerURL),
		zap.String("recognizer", cfg.Recognizer),
		zap.Bool("room", cfg.JoinRoom),
	)
	g.Go(func() error { return controller.Run(gctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("kiosk stopped", zap.Error(err))
	}
	logger.Info("kiosk stopped")
}
