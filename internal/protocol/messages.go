package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Browser to server.
	TypeControl          MessageType = "control"
	TypeRecognitionEvent MessageType = "recognition_event"
	TypeClipEvent        MessageType = "clip_event"

	// Server to browser.
	TypeSnapshot    MessageType = "snapshot"
	TypeUtterance   MessageType = "utterance"
	TypeStatus      MessageType = "status"
	TypeMicStatus   MessageType = "mic_status"
	TypeClip        MessageType = "clip"
	TypeRecognition MessageType = "recognition"
	TypeRoom        MessageType = "room"
	TypeErrorEvent  MessageType = "error_event"
)

// Control actions.
const (
	ActionConnect       = "connect"
	ActionDisconnect    = "disconnect"
	ActionToggleAmbient = "toggle_ambient"
)

// Recognition events reported by the browser engine.
const (
	RecognitionStarted = "started"
	RecognitionEnded   = "ended"
	RecognitionResult  = "result"
	RecognitionError   = "error"
)

// Recognition commands sent to the browser engine.
const (
	RecognitionStart = "start"
	RecognitionStop  = "stop"
)

// Clip commands.
const (
	ClipLoadLoop = "load_loop"
	ClipLoadOnce = "load_once"
	ClipPlay     = "play"
	ClipPause    = "pause"
	ClipRewind   = "rewind"
	ClipVolume   = "volume"
	ClipClose    = "close"
)

// Clip events reported by the browser.
const (
	ClipEnded = "ended"
	ClipError = "error"
	// ClipInterrupted is a play request superseded by a pause or load, as the
	// browser reports an aborted play() promise.
	ClipInterrupted = "interrupted"
)

// Room commands.
const (
	RoomJoin  = "join"
	RoomLeave = "leave"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Control struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type RecognitionEvent struct {
	Type  MessageType `json:"type"`
	Event string      `json:"event"`
	Text  string      `json:"text,omitempty"`
	Final bool        `json:"final,omitempty"`
	Code  string      `json:"code,omitempty"`
}

type ClipEvent struct {
	Type   MessageType `json:"type"`
	ClipID string      `json:"clip_id"`
	Event  string      `json:"event"`
	Detail string      `json:"detail,omitempty"`
}

// Snapshot is sent on every controller state change.
type Snapshot struct {
	Type       MessageType `json:"type"`
	State      string      `json:"state"`
	Speaking   bool        `json:"is_speaking"`
	Processing bool        `json:"is_processing"`
}

type Utterance struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text"`
	Speaker string      `json:"speaker"`
}

// StatusLine carries both status and mic_status texts.
type StatusLine struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type Clip struct {
	Type        MessageType `json:"type"`
	ClipID      string      `json:"clip_id"`
	Action      string      `json:"action"`
	Asset       string      `json:"asset,omitempty"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Volume      *float64    `json:"volume,omitempty"`
}

type Recognition struct {
	Type     MessageType `json:"type"`
	Action   string      `json:"action"`
	Language string      `json:"language,omitempty"`
}

type Room struct {
	Type    MessageType `json:"type"`
	Action  string      `json:"action"`
	Token   string      `json:"token,omitempty"`
	URL     string      `json:"url,omitempty"`
	Channel string      `json:"channel,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeControl:
		var msg Control
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionConnect, ActionDisconnect, ActionToggleAmbient:
			return msg, nil
		default:
			return nil, fmt.Errorf("invalid control action %q", msg.Action)
		}
	case TypeRecognitionEvent:
		var msg RecognitionEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Event {
		case RecognitionStarted, RecognitionEnded, RecognitionResult:
			return msg, nil
		case RecognitionError:
			if msg.Code == "" {
				return nil, errors.New("invalid recognition_event: error without code")
			}
			return msg, nil
		default:
			return nil, fmt.Errorf("invalid recognition_event %q", msg.Event)
		}
	case TypeClipEvent:
		var msg ClipEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ClipID == "" {
			return nil, errors.New("invalid clip_event: missing clip_id")
		}
		switch msg.Event {
		case ClipEnded, ClipError, ClipInterrupted:
			return msg, nil
		default:
			return nil, fmt.Errorf("invalid clip_event %q", msg.Event)
		}
	default:
		return nil, ErrUnsupportedType
	}
}
