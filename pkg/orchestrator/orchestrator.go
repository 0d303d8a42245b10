package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
)

var cascade = []Stage{StageNeural, StageRemote, StageNative}

// Orchestrator speaks text through the neural -> remote -> native cascade.
type Orchestrator struct {
	neural   NeuralSynthesizer
	remote   RemoteTTS
	platform Platform
	gate     *UnlockGate
	config   Config
	logger   Logger
	observer StageObserver
	mu       sync.RWMutex

	speaking atomic.Bool

	// nativeMu pairs Cancel with the following Speak so the last request wins.
	nativeMu sync.Mutex

	voicesMu    sync.RWMutex
	voices      []Voice
	unsubscribe func()

	releases sync.WaitGroup
}

type speakRequest struct {
	text string
	lang string
	tag  string
	base string
}

// New creates a new orchestrator. neural and remote may be nil.
func New(neural NeuralSynthesizer, remote RemoteTTS, platform Platform, config Config) *Orchestrator {
	return NewWithLogger(neural, remote, platform, config, &NoOpLogger{})
}

// NewWithLogger creates a new orchestrator with a custom logger.
// The voice catalog is loaded once before it returns.
func NewWithLogger(neural NeuralSynthesizer, remote RemoteTTS, platform Platform, config Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if platform == nil {
		platform = StaticPlatform{}
	}
	o := &Orchestrator{
		neural:   neural,
		remote:   remote,
		platform: platform,
		gate:     NewUnlockGate(platform, config.SilentFrameRate, logger),
		config:   config,
		logger:   logger,
		observer: noOpObserver{},
	}

	if speech, ok := platform.NativeSpeech(); ok {
		o.unsubscribe = speech.OnVoicesChanged(func() {
			o.RefreshVoices(context.Background())
		})
		o.RefreshVoices(context.Background())
	}
	return o
}

// SetObserver installs a metrics sink. Passing nil restores the no-op sink.
func (o *Orchestrator) SetObserver(obs StageObserver) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if obs == nil {
		obs = noOpObserver{}
	}
	o.observer = obs
}

// Speak renders text audibly in lang. Failures never escape: each stage
// that fails is logged and the next one is tried; if all fail the call
// degrades to silence. The returned Outcome records what happened.
func (o *Orchestrator) Speak(ctx context.Context, text, lang string) Outcome {
	if text == "" {
		return Outcome{Stage: StageNone}
	}

	cfg := o.GetConfig()
	obs := o.stageObserver()

	o.speaking.Store(true)
	obs.SetSpeaking(true)
	defer func() {
		o.speaking.Store(false)
		obs.SetSpeaking(false)
	}()

	tag := RegionTag(cfg.LanguageTags, lang)
	req := speakRequest{text: text, lang: lang, tag: tag, base: BaseSubtag(tag)}
	out := Outcome{Stage: StageNone, Tag: tag}

	o.gate.EnsureUnlocked(ctx)

	for _, stage := range cascade {
		started := time.Now()
		res := o.runStage(ctx, stage, req, cfg)
		res.Stage = stage
		res.Elapsed = time.Since(started)
		out.Attempts = append(out.Attempts, res)
		obs.ObserveStage(string(stage), res.result(), res.Elapsed)

		if res.OK() {
			out.Stage = stage
			break
		}
		if !res.Skipped {
			o.logger.Warn("speech stage failed, falling back", "stage", stage, "tag", tag, "error", res.Err)
		}
	}

	if out.Stage == StageNone {
		o.logger.Warn("speech degraded to silence", "tag", tag, "error", ErrNoStrategy)
	} else {
		o.logger.Info("speech started", "stage", out.Stage, "tag", tag, "length", len(text))
	}
	obs.ObserveUtterance(string(out.Stage))
	return out
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, req speakRequest, cfg Config) StageResult {
	switch stage {
	case StageNeural:
		return o.speakNeural(ctx, req, cfg)
	case StageRemote:
		return o.speakRemote(ctx, req)
	case StageNative:
		return o.speakNative(ctx, req, cfg)
	default:
		return StageResult{Err: fmt.Errorf("unknown stage %q", stage)}
	}
}

func (o *Orchestrator) speakNeural(ctx context.Context, req speakRequest, cfg Config) StageResult {
	if !isNeuralLanguage(cfg.NeuralLanguages, req.base) {
		return StageResult{Skipped: true, Err: ErrNotNeuralLanguage}
	}
	if o.neural == nil {
		return StageResult{Skipped: true, Err: ErrNeuralUnavailable}
	}

	sample, err := o.neural.Synthesize(ctx, req.text, req.lang)
	if err != nil {
		return StageResult{Err: fmt.Errorf("%s synthesis: %w", o.neural.Name(), err)}
	}
	if sample.SampleRate <= 0 {
		return StageResult{Err: fmt.Errorf("%s synthesis: %w", o.neural.Name(), ErrEmptyAudio)}
	}

	if err := o.play(ctx, audio.EncodeWAV(sample)); err != nil {
		return StageResult{Err: fmt.Errorf("neural playback: %w", err)}
	}
	return StageResult{}
}

func (o *Orchestrator) speakRemote(ctx context.Context, req speakRequest) StageResult {
	if o.remote == nil {
		return StageResult{Skipped: true, Err: ErrRemoteUnavailable}
	}

	enc, err := o.remote.Speak(ctx, req.text, req.tag)
	if err != nil {
		return StageResult{Err: fmt.Errorf("%s request: %w", o.remote.Name(), err)}
	}
	if len(enc.Data) == 0 {
		return StageResult{Err: fmt.Errorf("%s request: %w", o.remote.Name(), ErrEmptyAudio)}
	}

	if err := o.play(ctx, enc); err != nil {
		return StageResult{Err: fmt.Errorf("remote playback: %w", err)}
	}
	return StageResult{}
}

func (o *Orchestrator) speakNative(ctx context.Context, req speakRequest, cfg Config) StageResult {
	speech, ok := o.platform.NativeSpeech()
	if !ok {
		return StageResult{Err: ErrNoNativeSpeech}
	}

	u := Utterance{
		Text:  req.text,
		Lang:  req.tag,
		Voice: SelectVoice(o.Voices(), req.tag, cfg.DefaultLanguage, cfg.RegionalFallbacks),
		Rate:  cfg.Rate,
		Pitch: cfg.Pitch,
	}
	o.nativeMu.Lock()
	defer o.nativeMu.Unlock()
	if err := speech.Cancel(); err != nil {
		o.logger.Debug("native speech cancel failed", "error", err)
	}
	if err := speech.Speak(ctx, u); err != nil {
		return StageResult{Err: fmt.Errorf("native speech: %w", err)}
	}
	return StageResult{}
}

// play starts enc and schedules its release for when playback finishes.
// If playback cannot start the resource is released before returning.
func (o *Orchestrator) play(ctx context.Context, enc audio.Encoded) error {
	player, ok := o.platform.Player()
	if !ok {
		return ErrNoPlayer
	}
	pb, err := player.Load(ctx, enc, LoadOptions{})
	if err != nil {
		return err
	}
	if err := pb.Play(ctx); err != nil {
		if relErr := pb.Release(); relErr != nil {
			o.logger.Debug("playback release failed", "error", relErr)
		}
		return err
	}

	o.releases.Add(1)
	go func() {
		defer o.releases.Done()
		<-pb.Done()
		if err := pb.Release(); err != nil {
			o.logger.Debug("playback release failed", "error", err)
		}
	}()
	return nil
}

// Drain waits until every started playback has finished and been released.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.releases.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speaking reports whether a Speak call is in progress. It is advisory and
// does not prevent concurrent calls.
func (o *Orchestrator) Speaking() bool {
	return o.speaking.Load()
}

// UnlockGate exposes the gate shared by all Speak calls.
func (o *Orchestrator) UnlockGate() *UnlockGate {
	return o.gate
}

// UpdateConfig updates the orchestrator configuration
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}

// GetConfig returns the current configuration
func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

func (o *Orchestrator) stageObserver() StageObserver {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.observer
}

// GetProviders returns information about the current providers
func (o *Orchestrator) GetProviders() map[string]string {
	providers := map[string]string{
		"neural": "none",
		"remote": "none",
	}
	if o.neural != nil {
		providers["neural"] = o.neural.Name()
	}
	if o.remote != nil {
		providers["remote"] = o.remote.Name()
	}
	_, native := o.platform.NativeSpeech()
	_, player := o.platform.Player()
	providers["native"] = fmt.Sprintf("%t", native)
	providers["player"] = fmt.Sprintf("%t", player)
	return providers
}

// Close stops listening for voice catalog changes.
func (o *Orchestrator) Close() {
	o.voicesMu.Lock()
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.voicesMu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func isNeuralLanguage(codes []string, base string) bool {
	if base == "" {
		return false
	}
	for _, c := range codes {
		if BaseSubtag(c) == base {
			return true
		}
	}
	return false
}
