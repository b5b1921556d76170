package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/kiosk"
	"github.com/ent0n29/anubis/internal/protocol"
)

// Asset names under the bridge's asset base URL.
const (
	AssetAmbient  = "ambient"
	AssetSuspense = "suspense"
)

// Config describes one bridged kiosk connection.
type Config struct {
	Options   kiosk.Options
	Language  string
	AssetBase string
	Transport kiosk.Transport
	// Room is optional; a RoomRelay when the server issues room tokens.
	Room   kiosk.Room
	Send   Sender
	Logger *zap.Logger
	// OnTransition observes controller state changes, on the controller loop.
	OnTransition func(from, to kiosk.State)
}

// Session runs a conversation controller whose engine, speaker and display
// live in a browser at the other end of a websocket.
type Session struct {
	peer *Peer
	ctrl *kiosk.Controller
	log  *zap.Logger
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.Send == nil || cfg.Transport == nil {
		return nil, errors.New("bridge session requires a sender and a transport")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := cfg.Options
	opts.AmbientAsset = AssetAmbient
	opts.SuspenseAsset = AssetSuspense

	peer := NewPeer(cfg.Send, cfg.Language, cfg.AssetBase, logger.Named("peer"))
	send := cfg.Send
	observe := cfg.OnTransition
	ctrl, err := kiosk.NewController(opts, kiosk.Deps{
		Engine:    peer,
		Speaker:   peer,
		Transport: cfg.Transport,
		Display:   peer,
		Room:      cfg.Room,
		Logger:    logger.Named("kiosk"),
		OnTransition: func(from, to kiosk.State) {
			if observe != nil {
				observe(from, to)
			}
			send(protocol.Snapshot{
				Type:       protocol.TypeSnapshot,
				State:      to.String(),
				Speaking:   to == kiosk.StateSpeaking,
				Processing: to == kiosk.StateProcessing,
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return &Session{peer: peer, ctrl: ctrl, log: logger}, nil
}

// Run drives the controller until ctx is done, then releases the browser clips.
func (s *Session) Run(ctx context.Context) error {
	defer s.peer.CloseClips()
	return s.ctrl.Run(ctx)
}

// Handle applies one parsed browser message.
func (s *Session) Handle(msg any) {
	switch m := msg.(type) {
	case protocol.Control:
		switch m.Action {
		case protocol.ActionConnect:
			s.ctrl.Connect()
		case protocol.ActionDisconnect:
			s.ctrl.Disconnect()
		case protocol.ActionToggleAmbient:
			s.ctrl.ToggleAmbient()
		}
	case protocol.RecognitionEvent:
		s.peer.HandleRecognition(m)
	case protocol.ClipEvent:
		s.peer.HandleClip(m)
	default:
		s.log.Debug("ignored browser message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Snapshot returns the controller flags.
func (s *Session) Snapshot() kiosk.Snapshot {
	return s.ctrl.Snapshot()
}
