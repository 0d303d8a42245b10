package orchestrator

import "errors"

var (
	// ErrNotNeuralLanguage is recorded when the neural stage does not serve a language
	ErrNotNeuralLanguage = errors.New("language is not served by the neural synthesizer")

	// ErrNeuralUnavailable is recorded when no neural synthesizer is configured
	ErrNeuralUnavailable = errors.New("neural synthesizer not configured")

	// ErrRemoteUnavailable is recorded when no remote TTS provider is configured
	ErrRemoteUnavailable = errors.New("remote TTS provider not configured")

	// ErrNoPlayer is returned when the platform cannot play encoded audio
	ErrNoPlayer = errors.New("platform has no audio player")

	// ErrNoNativeSpeech is recorded when the platform has no speech synthesizer
	ErrNoNativeSpeech = errors.New("platform has no native speech synthesis")

	// ErrNoStrategy is recorded when every stage failed or was skipped
	ErrNoStrategy = errors.New("no speech strategy succeeded")

	// ErrEmptyAudio is returned when a synthesizer yields no usable audio
	ErrEmptyAudio = errors.New("synthesizer returned no audio")
)
