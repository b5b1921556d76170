package kiosk

import (
	"time"

	"github.com/ent0n29/anubis/internal/config"
)

// Messages are the visitor-facing texts of the kiosk.
type Messages struct {
	Farewell     string
	Apology      string
	ReplyPlaced  string
	Connected    string
	Disconnected string
	ConnectError string

	StatusThinking     string
	StatusSpeaking     string
	StatusListening    string
	StatusConnecting   string
	StatusDisconnected string
	StatusAudioError   string
	StatusRecognition  string
	StatusConnectError string

	MicListening string
	MicIdle      string
}

// DefaultMessages are the Spanish texts the kiosk ships with.
func DefaultMessages() Messages {
	return Messages{
		Farewell:     "Entendido. Mi memoria se ha purificado.",
		Apology:      "Lo siento, no pude procesar tu solicitud.",
		ReplyPlaced:  "[Respuesta de audio]",
		Connected:    "Conectado. Habla ahora.",
		Disconnected: "Desconectado.",
		ConnectError: "Error al conectar.",

		StatusThinking:     "Pensando...",
		StatusSpeaking:     "Hablando...",
		StatusListening:    "Escuchando...",
		StatusConnecting:   "Conectando...",
		StatusDisconnected: "Desconectado",
		StatusAudioError:   "Error de audio",
		StatusRecognition:  "Error de reconocimiento",
		StatusConnectError: "Error de conexión",

		MicListening: "Escuchando",
		MicIdle:      "En pausa",
	}
}

// Options configure a Controller.
type Options struct {
	AutoConnect bool

	Voice        string
	GoodbyeVoice string
	Speed        int

	ResetPhrases []string
	// Farewell is config.FarewellMessage or config.FarewellGoodbyeAudio.
	Farewell string

	// SuspenseStop is config.SuspenseStopFade or config.SuspenseStopHard and
	// applies when the reply starts playing.
	SuspenseStop      string
	SuspenseFade      time.Duration
	SuspenseFadeSteps int
	SuspenseVolume    float64
	AmbientVolume     float64
	AmbientDuckVolume float64

	AmbientAsset  string
	SuspenseAsset string

	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// RestartDelay spaces out recognition restarts after an engine refused to start.
	RestartDelay time.Duration

	Messages Messages
}

// DefaultOptions mirror the defaults of config.LoadKiosk.
func DefaultOptions() Options {
	return Options{
		AutoConnect:       true,
		Voice:             "Sergio",
		Speed:             80,
		ResetPhrases:      config.DefaultResetPhrases(),
		Farewell:          config.FarewellMessage,
		SuspenseStop:      config.SuspenseStopFade,
		SuspenseFade:      3 * time.Second,
		SuspenseFadeSteps: 50,
		SuspenseVolume:    0.5,
		AmbientVolume:     0.2,
		AmbientDuckVolume: 0.05,
		AmbientAsset:      "ambient",
		SuspenseAsset:     "suspense",
		RequestTimeout:    60 * time.Second,
		ConnectTimeout:    15 * time.Second,
		RestartDelay:      time.Second,
		Messages:          DefaultMessages(),
	}
}

// OptionsFromConfig builds controller options from kiosk configuration. Asset
// names are the configured paths; speakers resolve them.
func OptionsFromConfig(cfg config.KioskConfig) Options {
	o := DefaultOptions()
	o.AutoConnect = cfg.AutoConnect
	o.Voice = cfg.Voice
	o.Speed = cfg.Speed
	if len(cfg.ResetPhrases) > 0 {
		o.ResetPhrases = cfg.ResetPhrases
	}
	o.Farewell = cfg.Farewell
	o.SuspenseStop = cfg.SuspenseStop
	o.SuspenseFade = cfg.SuspenseFade
	o.SuspenseFadeSteps = cfg.SuspenseFadeSteps
	o.SuspenseVolume = cfg.SuspenseVolume
	o.AmbientVolume = cfg.AmbientVolume
	o.AmbientDuckVolume = cfg.AmbientDuckVolume
	o.AmbientAsset = cfg.AmbientAsset
	o.SuspenseAsset = cfg.SuspenseAsset
	if cfg.RequestTimeout > 0 {
		o.RequestTimeout = cfg.RequestTimeout
	}
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Speed <= 0 {
		o.Speed = d.Speed
	}
	if len(o.ResetPhrases) == 0 {
		o.ResetPhrases = d.ResetPhrases
	}
	if o.Farewell == "" {
		o.Farewell = d.Farewell
	}
	if o.SuspenseStop == "" {
		o.SuspenseStop = d.SuspenseStop
	}
	if o.SuspenseFadeSteps <= 0 {
		o.SuspenseFadeSteps = d.SuspenseFadeSteps
	}
	if o.AmbientAsset == "" {
		o.AmbientAsset = d.AmbientAsset
	}
	if o.SuspenseAsset == "" {
		o.SuspenseAsset = d.SuspenseAsset
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = d.RestartDelay
	}
	if o.Messages == (Messages{}) {
		o.Messages = d.Messages
	}
	return o
}
