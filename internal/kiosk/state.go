package kiosk

// State is the conversation controller state. It is the only source of the
// speaking/processing flags.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Connected reports whether the state belongs to a live session.
func (s State) Connected() bool {
	return s == StateListening || s == StateProcessing || s == StateSpeaking
}

// Snapshot is a copy of the controller flags taken between two events.
type Snapshot struct {
	State             State  `json:"-"`
	StateName         string `json:"state"`
	Speaking          bool   `json:"is_speaking"`
	Processing        bool   `json:"is_processing"`
	RecognitionActive bool   `json:"is_recognition_active"`
	AmbientMuted      bool   `json:"is_ambient_muted"`
	Turn              uint64 `json:"turn"`
}

// Speaker roles in the conversation log.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Utterance is one line of the conversation log.
type Utterance struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

// Display shows the conversation log and status lines.
type Display interface {
	Utterance(u Utterance)
	Status(text string)
	MicStatus(text string)
}
