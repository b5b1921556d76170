package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/anubis/internal/bridge"
	"github.com/ent0n29/anubis/internal/kiosk"
	"github.com/ent0n29/anubis/internal/protocol"
)

const (
	kioskAssetBase = "/v1/kiosk/assets"
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

func kioskIdentity() string {
	return "kiosk-" + uuid.NewString()[:8]
}

// handleKioskWS runs one conversation controller for a browser kiosk. The
// browser performs recognition and playback; everything else runs here.
func (s *Server) handleKioskWS(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	// Upgrade writes its own response, so carry over a freshly issued session cookie.
	var hdr http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		hdr = http.Header{"Set-Cookie": cookies}
	}
	conn, err := s.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		return
	}
	defer conn.Close()

	log := s.log.With(zap.String("session_id", sess.ID))
	s.observeSession("ws_connected")
	if s.metrics != nil {
		s.metrics.ConnectedKiosks.Inc()
		defer s.metrics.ConnectedKiosks.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 1024)
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if outbound queue is saturated.
			log.Warn("kiosk outbound queue full, message dropped", zap.String("type", string(messageTypeOf(msg))))
			s.observeWS("outbound_dropped", messageTypeOf(msg))
		}
	}

	transport := bridge.NewLocalTransport(s.assistant, s.sessions, sess.ID, r.UserAgent())
	cfg := bridge.Config{
		Options:   kiosk.OptionsFromConfig(s.cfg.Kiosk),
		Language:  s.cfg.Kiosk.BrowserLanguage,
		AssetBase: kioskAssetBase,
		Transport: transport,
		Send:      send,
		Logger:    log,
		OnTransition: func(_, to kiosk.State) {
			if s.metrics != nil {
				s.metrics.KioskTransitions.WithLabelValues(to.String()).Inc()
			}
		},
	}
	if s.cfg.Kiosk.JoinRoom && s.issuer.Configured() {
		cfg.Room = bridge.NewRoomRelay(s.issuer, kioskIdentity(), send)
	}
	ks, err := bridge.NewSession(cfg)
	if err != nil {
		log.Error("start kiosk session", zap.Error(err))
		_ = conn.WriteJSON(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "kiosk_unavailable", Detail: err.Error()})
		return
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = ks.Run(ctx)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.observeWS("write_error", messageTypeOf(msg))
					cancel()
					return
				}
				s.observeWS("outbound", messageTypeOf(msg))
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("kiosk websocket closed", zap.Error(err))
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "invalid_client_message", Detail: err.Error()})
			continue
		}
		s.observeWS("inbound", messageTypeOf(parsed))
		transport.KeepAlive()
		ks.Handle(parsed)
	}

	cancel()
	<-runDone
	<-writerDone
	s.observeSession("ws_disconnected")
	if summary, err := transport.Summary(); err == nil {
		log.Info("kiosk disconnected",
			zap.String("bound_session", summary.ID),
			zap.Int("turns", summary.TurnCount),
			zap.Int("resets", summary.ResetCount),
			zap.Duration("age", time.Since(summary.StartedAt)),
		)
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func (s *Server) observeSession(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.Control:
		return m.Type
	case protocol.RecognitionEvent:
		return m.Type
	case protocol.ClipEvent:
		return m.Type
	case protocol.Snapshot:
		return m.Type
	case protocol.Utterance:
		return m.Type
	case protocol.StatusLine:
		return m.Type
	case protocol.Clip:
		return m.Type
	case protocol.Recognition:
		return m.Type
	case protocol.Room:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
