package orchestrator

import (
	"context"
	"time"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// NeuralSynthesizer turns text into raw samples with an in-process model.
type NeuralSynthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (audio.Sample, error)
	Name() string
}

// RemoteTTS requests synthesized audio from a remote service.
// tag is a region-qualified language tag such as "fr-FR".
type RemoteTTS interface {
	Speak(ctx context.Context, text, tag string) (audio.Encoded, error)
	Name() string
}

type LoadOptions struct {
	Muted bool
}

// Player prepares encoded audio for playback.
type Player interface {
	Load(ctx context.Context, enc audio.Encoded, opts LoadOptions) (Playback, error)
}

// Playback is a loaded audio resource. Release must be called exactly once.
type Playback interface {
	// Play returns once playback has started.
	Play(ctx context.Context) error
	Pause() error
	// Done is closed when playback completes or the resource is released.
	Done() <-chan struct{}
	Release() error
}

type AudioState string

const (
	AudioStateSuspended AudioState = "suspended"
	AudioStateRunning   AudioState = "running"
	AudioStateClosed    AudioState = "closed"
)

// AudioContext is a platform audio-processing context.
type AudioContext interface {
	State() AudioState
	Resume(ctx context.Context) error
	// PlaySilentFrame starts a single near-silent sample through the context.
	PlaySilentFrame(ctx context.Context, sampleRate int) error
	Close() error
}

type AudioContextFactory interface {
	NewAudioContext(ctx context.Context) (AudioContext, error)
}

// Voice is a platform voice descriptor. ID is what the platform needs to
// select the voice; when empty, Lang is used.
type Voice struct {
	Lang string `json:"lang"`
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type Utterance struct {
	Text  string
	Lang  string
	Voice *Voice
	Rate  float64
	Pitch float64
}

// NativeSpeech is the platform speech synthesizer. Only one utterance is
// active at a time; Cancel drops whatever is queued or playing.
type NativeSpeech interface {
	Voices(ctx context.Context) ([]Voice, error)
	// OnVoicesChanged registers fn and returns a function that unregisters it.
	OnVoicesChanged(fn func()) (unsubscribe func())
	Cancel() error
	Speak(ctx context.Context, u Utterance) error
}

// Platform reports which optional capabilities are present.
type Platform interface {
	AudioContexts() (AudioContextFactory, bool)
	Player() (Player, bool)
	NativeSpeech() (NativeSpeech, bool)
}

// StaticPlatform is a Platform built from optional handles; nil means absent.
type StaticPlatform struct {
	Contexts AudioContextFactory
	Playback Player
	Speech   NativeSpeech
}

func (p StaticPlatform) AudioContexts() (AudioContextFactory, bool) {
	return p.Contexts, p.Contexts != nil
}

func (p StaticPlatform) Player() (Player, bool) {
	return p.Playback, p.Playback != nil
}

func (p StaticPlatform) NativeSpeech() (NativeSpeech, bool) {
	return p.Speech, p.Speech != nil
}

// StageObserver receives per-stage measurements. Stage and result are
// plain strings so metric backends need not import this package.
type StageObserver interface {
	ObserveStage(stage, result string, elapsed time.Duration)
	ObserveUtterance(stage string)
	SetSpeaking(speaking bool)
}

type noOpObserver struct{}

func (noOpObserver) ObserveStage(string, string, time.Duration) {}
func (noOpObserver) ObserveUtterance(string)                    {}
func (noOpObserver) SetSpeaking(bool)                           {}

type Stage string

const (
	StageNeural Stage = "neural"
	StageRemote Stage = "remote"
	StageNative Stage = "native"
	StageNone   Stage = "none"
)

// StageResult is the outcome of one cascade stage.
type StageResult struct {
	Stage   Stage         `json:"stage"`
	Skipped bool          `json:"skipped,omitempty"`
	Err     error         `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
}

func (r StageResult) OK() bool {
	return !r.Skipped && r.Err == nil
}

func (r StageResult) result() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Err != nil:
		return "failed"
	default:
		return "ok"
	}
}

// Outcome describes a Speak call. Stage is StageNone when nothing was audible.
type Outcome struct {
	Stage    Stage         `json:"stage"`
	Tag      string        `json:"tag"`
	Attempts []StageResult `json:"attempts"`
}

type Config struct {
	// NeuralLanguages lists base subtags routed to the neural stage.
	NeuralLanguages []string
	// DefaultLanguage is the base subtag used for native voice fallbacks.
	DefaultLanguage string
	// RegionalFallbacks are acceptable voices of the default language, in order.
	RegionalFallbacks []string
	// LanguageTags maps short codes to region-qualified tags.
	LanguageTags map[string]string
	Rate         float64
	Pitch        float64
	// SilentFrameRate is the rate of the one-sample unlock buffer.
	SilentFrameRate int
}

func DefaultConfig() Config {
	tags := make(map[string]string, len(defaultLanguageTags))
	for k, v := range defaultLanguageTags {
		tags[k] = v
	}
	return Config{
		NeuralLanguages:   []string{"yo"},
		DefaultLanguage:   "en",
		RegionalFallbacks: []string{"en-NG", "en-ZA", "en-GB"},
		LanguageTags:      tags,
		Rate:              0.95,
		Pitch:             1.0,
		SilentFrameRate:   22050,
	}
}
