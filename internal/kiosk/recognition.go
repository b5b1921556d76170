package kiosk

import (
	"strings"

	"go.uber.org/zap"
)

// Recognition wraps an Engine with re-entrancy guards and per-activation
// result filtering. It is confined to the controller loop.
type Recognition struct {
	engine Engine
	log    *zap.Logger

	starting  bool
	active    bool
	stopping  bool
	ending    bool
	delivered bool
}

func NewRecognition(engine Engine, logger *zap.Logger) *Recognition {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognition{engine: engine, log: logger}
}

// Active reports whether the engine is listening.
func (r *Recognition) Active() bool { return r.active }

// busy is true from a start request until the activation ends.
func (r *Recognition) busy() bool { return r.starting || r.active || r.ending }

// Start requests continuous listening. It is a no-op while an activation is
// pending, running or winding down.
func (r *Recognition) Start() error {
	if r.busy() {
		return nil
	}
	r.starting = true
	r.stopping = false
	if err := r.engine.Start(); err != nil {
		r.starting = false
		return err
	}
	return nil
}

// Stop requests the current activation to end. It is a no-op when nothing is
// listening or a stop is already pending.
func (r *Recognition) Stop() error {
	if !(r.starting || r.active) || r.stopping {
		return nil
	}
	r.stopping = true
	return r.engine.Stop()
}

func (r *Recognition) started() {
	r.starting = false
	r.active = true
	r.ending = false
	r.delivered = false
}

func (r *Recognition) ended() {
	r.starting = false
	r.active = false
	r.stopping = false
	r.ending = false
}

// failed marks the activation inactive; the engine still reports its end.
// It returns false for codes that are routine and must not be shown.
func (r *Recognition) failed(code string) bool {
	wasRunning := r.starting || r.active
	r.starting = false
	r.active = false
	if wasRunning {
		r.ending = true
	}
	switch code {
	case "no-speech", "aborted":
		r.log.Debug("recognition ended without speech", zap.String("code", code))
		return false
	default:
		r.log.Warn("recognition error", zap.String("code", code))
		return true
	}
}

// result filters engine results: interim and blank results are dropped and
// only the first final result of an activation is accepted.
func (r *Recognition) result(text string, final bool) bool {
	if !final || strings.TrimSpace(text) == "" {
		return false
	}
	if r.delivered || r.stopping {
		return false
	}
	r.delivered = true
	return true
}
