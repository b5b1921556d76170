package kiosk

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// scheduleFunc runs f on the controller loop after d and returns a cancel func.
type scheduleFunc func(d time.Duration, f func()) (cancel func())

// Playback owns the ambient loop, the suspense loop and the single live spoken
// reply. It is confined to the controller loop.
type Playback struct {
	speaker  Speaker
	log      *zap.Logger
	schedule scheduleFunc

	ambientAsset  string
	suspenseAsset string
	ambientNormal float64
	ambientLow    float64
	suspenseLevel float64
	fadeDuration  time.Duration
	fadeSteps     int

	ambient  Clip
	suspense Clip
	speech   Clip
	muted    bool

	fadeGen    uint64
	cancelFade func()
}

func newPlayback(speaker Speaker, opts Options, schedule scheduleFunc, logger *zap.Logger) *Playback {
	return &Playback{
		speaker:       speaker,
		log:           logger,
		schedule:      schedule,
		ambientAsset:  opts.AmbientAsset,
		suspenseAsset: opts.SuspenseAsset,
		ambientNormal: opts.AmbientVolume,
		ambientLow:    opts.AmbientDuckVolume,
		suspenseLevel: opts.SuspenseVolume,
		fadeDuration:  opts.SuspenseFade,
		fadeSteps:     opts.SuspenseFadeSteps,
	}
}

// Muted reports whether the visitor switched the ambient loop off.
func (p *Playback) Muted() bool { return p.muted }

// PlayAmbient keeps the ambient loop running at the normal or ducked volume.
// A muted ambient loop stays paused.
func (p *Playback) PlayAmbient(ducked bool) {
	if p.muted {
		return
	}
	clip := p.loop(&p.ambient, p.ambientAsset)
	if clip == nil {
		return
	}
	if ducked {
		clip.SetVolume(p.ambientLow)
	} else {
		clip.SetVolume(p.ambientNormal)
	}
	if !clip.Playing() {
		p.play(clip, "ambient")
	}
}

func (p *Playback) PauseAmbient() {
	if p.ambient != nil {
		p.ambient.Pause()
	}
}

// ToggleMute flips the ambient mute flag and pauses the loop when muting.
// The caller resumes the loop at the volume its state calls for.
func (p *Playback) ToggleMute() bool {
	p.muted = !p.muted
	if p.muted {
		p.PauseAmbient()
	}
	return p.muted
}

// StartSuspense plays the suspense loop from the beginning at its fixed
// volume, cancelling any fade still running.
func (p *Playback) StartSuspense() {
	p.stopFade()
	clip := p.loop(&p.suspense, p.suspenseAsset)
	if clip == nil {
		return
	}
	clip.Pause()
	if err := clip.Rewind(); err != nil {
		p.log.Debug("suspense rewind failed", zap.Error(err))
	}
	clip.SetVolume(p.suspenseLevel)
	p.play(clip, "suspense")
}

// StopSuspense silences the suspense loop, immediately or by fading it out in
// discrete steps scheduled on the loop.
func (p *Playback) StopSuspense(fade bool) {
	clip := p.suspense
	if clip == nil || !clip.Playing() {
		return
	}
	if !fade || p.fadeSteps <= 0 || p.fadeDuration <= 0 {
		p.stopFade()
		p.silence(clip)
		return
	}
	if p.cancelFade != nil {
		// Already fading.
		return
	}

	p.fadeGen++
	gen := p.fadeGen
	interval := p.fadeDuration / time.Duration(p.fadeSteps)
	decrement := p.suspenseLevel / float64(p.fadeSteps)
	step := 0
	var next func()
	next = func() {
		if gen != p.fadeGen {
			return
		}
		step++
		if step >= p.fadeSteps {
			p.cancelFade = nil
			p.silence(clip)
			return
		}
		clip.SetVolume(p.suspenseLevel - decrement*float64(step))
		p.cancelFade = p.schedule(interval, next)
	}
	p.cancelFade = p.schedule(interval, next)
}

// Fading reports whether a suspense fade-out is in progress.
func (p *Playback) Fading() bool { return p.cancelFade != nil }

// Speak releases any previous reply and starts a new one-shot clip. done is
// posted by the speaker when the clip ends, fails or is released.
func (p *Playback) Speak(payload []byte, done func(error)) error {
	p.ReleaseSpeech()
	clip, err := p.speaker.Once(payload, done)
	if err != nil {
		return err
	}
	p.speech = clip
	if err := clip.Play(); err != nil {
		if errors.Is(err, ErrInterrupted) {
			p.log.Debug("reply playback interrupted", zap.Error(err))
			return nil
		}
		p.ReleaseSpeech()
		return err
	}
	return nil
}

// ReleaseSpeech closes the live reply clip, if any.
func (p *Playback) ReleaseSpeech() {
	if p.speech == nil {
		return
	}
	clip := p.speech
	p.speech = nil
	if err := clip.Close(); err != nil {
		p.log.Debug("release reply clip", zap.Error(err))
	}
}

// SpeechLive reports whether a reply handle exists.
func (p *Playback) SpeechLive() bool { return p.speech != nil }

// StopAll pauses every role and releases the reply, as on disconnect.
func (p *Playback) StopAll() {
	p.stopFade()
	p.ReleaseSpeech()
	if p.suspense != nil {
		p.silence(p.suspense)
	}
	p.PauseAmbient()
}

// Close releases every clip.
func (p *Playback) Close() {
	p.StopAll()
	for _, c := range []*Clip{&p.ambient, &p.suspense} {
		if *c != nil {
			_ = (*c).Close()
			*c = nil
		}
	}
}

func (p *Playback) silence(clip Clip) {
	clip.Pause()
	if err := clip.Rewind(); err != nil {
		p.log.Debug("suspense rewind failed", zap.Error(err))
	}
	clip.SetVolume(p.suspenseLevel)
}

func (p *Playback) stopFade() {
	p.fadeGen++
	if p.cancelFade != nil {
		p.cancelFade()
		p.cancelFade = nil
	}
}

func (p *Playback) loop(slot *Clip, name string) Clip {
	if *slot != nil {
		return *slot
	}
	clip, err := p.speaker.Loop(name)
	if err != nil {
		p.log.Warn("load loop asset", zap.String("asset", name), zap.Error(err))
		return nil
	}
	*slot = clip
	return clip
}

// play starts a clip, swallowing interruption races.
func (p *Playback) play(clip Clip, role string) {
	err := clip.Play()
	switch {
	case err == nil:
	case errors.Is(err, ErrInterrupted):
		p.log.Debug("playback interrupted", zap.String("role", role))
	default:
		p.log.Warn("playback failed", zap.String("role", role), zap.Error(err))
	}
}
