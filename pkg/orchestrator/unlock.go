package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
)

// UnlockGate primes the platform audio subsystem once so that later
// playback started outside a user gesture is not blocked. One gate should
// exist per process; it never re-locks.
type UnlockGate struct {
	platform   Platform
	logger     Logger
	silentRate int

	unlocked  atomic.Bool
	unlocking atomic.Bool
	attempts  atomic.Int32
}

func NewUnlockGate(platform Platform, silentRate int, logger Logger) *UnlockGate {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if platform == nil {
		platform = StaticPlatform{}
	}
	if silentRate <= 0 {
		silentRate = 22050
	}
	return &UnlockGate{
		platform:   platform,
		logger:     logger,
		silentRate: silentRate,
	}
}

// EnsureUnlocked runs the priming procedure unless it already completed or
// is in flight elsewhere, in which case it returns at once. Step failures
// are logged and never returned.
func (g *UnlockGate) EnsureUnlocked(ctx context.Context) {
	if g.unlocked.Load() {
		return
	}
	if !g.unlocking.CompareAndSwap(false, true) {
		return
	}
	defer g.unlocking.Store(false)

	g.attempts.Add(1)
	g.primeAudioContext(ctx)
	g.primePlayer(ctx)

	g.unlocked.Store(true)
	g.logger.Debug("audio unlocked")
}

func (g *UnlockGate) Unlocked() bool {
	return g.unlocked.Load()
}

// Attempts reports how many times the priming procedure has run.
func (g *UnlockGate) Attempts() int {
	return int(g.attempts.Load())
}

func (g *UnlockGate) primeAudioContext(ctx context.Context) {
	factory, ok := g.platform.AudioContexts()
	if !ok {
		return
	}

	var ac AudioContext
	g.step("create audio context", func() error {
		var err error
		ac, err = factory.NewAudioContext(ctx)
		return err
	})
	if ac == nil {
		return
	}

	g.step("resume audio context", func() error {
		if ac.State() != AudioStateSuspended {
			return nil
		}
		return ac.Resume(ctx)
	})
	g.step("play silent frame", func() error {
		return ac.PlaySilentFrame(ctx, g.silentRate)
	})
	g.step("close audio context", ac.Close)
}

func (g *UnlockGate) primePlayer(ctx context.Context) {
	player, ok := g.platform.Player()
	if !ok {
		return
	}

	var pb Playback
	g.step("load silent audio", func() error {
		var err error
		pb, err = player.Load(ctx, audio.Silence(g.silentRate), LoadOptions{Muted: true})
		return err
	})
	if pb == nil {
		return
	}

	g.step("play silent audio", func() error { return pb.Play(ctx) })
	g.step("pause silent audio", pb.Pause)
	g.step("release silent audio", pb.Release)
}

func (g *UnlockGate) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Debug("audio unlock step panicked", "step", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		g.logger.Debug("audio unlock step failed", "step", name, "error", err)
	}
}
