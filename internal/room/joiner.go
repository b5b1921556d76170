package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// TokenSource fetches the server url and a join token.
type TokenSource func(ctx context.Context) (url, token string, err error)

// roomConn is the part of a connected room the joiner drives.
type roomConn interface {
	Disconnect()
	// publishAudio publishes a local opus track and returns its writer.
	publishAudio(name string) (sampleWriter, error)
}

type lkRoom struct{ room *lksdk.Room }

func (r lkRoom) Disconnect() { r.room.Disconnect() }

func (r lkRoom) publishAudio(name string) (sampleWriter, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: roomSampleRate,
		Channels:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("create mic track: %w", err)
	}
	if _, err := r.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name,
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, fmt.Errorf("publish mic track: %w", err)
	}
	return track, nil
}

// Joiner keeps the kiosk in the LiveKit room while a session is connected:
// the microphone is published and remote participants are played.
type Joiner struct {
	tokens TokenSource
	media  Media
	log    *zap.Logger
	// Replaceable in tests.
	connect    func(url, token string, cb *lksdk.RoomCallback) (roomConn, error)
	newEncoder func() (frameEncoder, error)
	newDecoder func() (frameDecoder, error)

	mu        sync.Mutex
	room      roomConn
	capturing bool
}

func NewJoiner(tokens TokenSource, m Media, logger *zap.Logger) *Joiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Joiner{
		tokens: tokens,
		media:  m,
		log:    logger,
		connect: func(url, token string, cb *lksdk.RoomCallback) (roomConn, error) {
			room, err := lksdk.ConnectToRoomWithToken(url, token, cb)
			if err != nil {
				return nil, err
			}
			return lkRoom{room: room}, nil
		},
		newEncoder: newOpusEncoder,
		newDecoder: newOpusDecoder,
	}
}

// Join connects to the room. Joining twice keeps the first connection.
func (j *Joiner) Join(ctx context.Context) error {
	if j.tokens == nil {
		return ErrNotConfigured
	}
	j.mu.Lock()
	joined := j.room != nil
	j.mu.Unlock()
	if joined {
		return nil
	}

	url, token, err := j.tokens(ctx)
	if err != nil {
		return fmt.Errorf("room token: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cb := lksdk.NewRoomCallback()
	cb.OnDisconnected = func() {
		j.log.Info("room disconnected")
		j.mu.Lock()
		j.room = nil
		j.mu.Unlock()
		j.stopCapture()
	}
	cb.OnTrackSubscribed = func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go j.playParticipant(rp.Identity(), func() ([]byte, error) {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return nil, err
			}
			return pkt.Payload, nil
		})
	}
	room, err := j.connect(url, token, cb)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if room == nil {
		return errors.New("join room: no connection")
	}
	if err := j.publishMic(room); err != nil {
		room.Disconnect()
		return err
	}

	j.mu.Lock()
	j.room = room
	j.mu.Unlock()
	j.log.Info("room joined", zap.String("url", url), zap.Bool("mic", j.media.Capture != nil))
	return nil
}

// Leave disconnects from the room if joined.
func (j *Joiner) Leave(ctx context.Context) error {
	j.mu.Lock()
	room := j.room
	j.room = nil
	j.mu.Unlock()
	if room == nil {
		return nil
	}
	j.stopCapture()
	room.Disconnect()
	j.log.Info("room left")
	return nil
}

func (j *Joiner) publishMic(room roomConn) error {
	capture := j.media.Capture
	if capture == nil {
		return nil
	}
	out, err := room.publishAudio("kiosk-mic")
	if err != nil {
		return err
	}
	enc, err := j.newEncoder()
	if err != nil {
		return err
	}
	pub := newMicPublisher(enc, out, capture.SampleRate(), j.log)
	if err := capture.Start(pub.write); err != nil {
		return fmt.Errorf("start room microphone: %w", err)
	}
	j.mu.Lock()
	j.capturing = true
	j.mu.Unlock()
	return nil
}

func (j *Joiner) stopCapture() {
	j.mu.Lock()
	capturing := j.capturing
	j.capturing = false
	j.mu.Unlock()
	if !capturing {
		return
	}
	if err := j.media.Capture.Stop(); err != nil {
		j.log.Debug("stop room microphone", zap.Error(err))
	}
}

func (j *Joiner) playParticipant(identity string, read func() ([]byte, error)) {
	if j.media.Sink == nil {
		return
	}
	dec, err := j.newDecoder()
	if err != nil {
		j.log.Warn("room audio", zap.String("participant", identity), zap.Error(err))
		return
	}
	j.log.Debug("playing room participant", zap.String("participant", identity))
	if err := playRemote(read, dec, j.media.Sink, j.log); err != nil {
		j.log.Debug("room audio ended", zap.String("participant", identity), zap.Error(err))
	}
}
