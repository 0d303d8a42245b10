package neural

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
	"golang.org/x/sync/singleflight"
)

var ErrEmptyText = errors.New("text is empty")

// Engine loads synthesis models. Open may take seconds on first use.
type Engine interface {
	Open(ctx context.Context, modelID string) (Session, error)
	Name() string
}

// Session is a loaded model. It must be safe for concurrent use.
type Session interface {
	Synthesize(ctx context.Context, text string) (audio.Sample, error)
}

// modelSuffix maps short codes to the ISO 639-3 suffix used in model names.
var modelSuffix = map[string]string{
	"ig": "ibo",
	"ha": "hau",
	"yo": "yor",
}

const modelPrefix = "mms-tts-"

// ModelID resolves a language to a model identifier. overrides take
// precedence and are keyed by short code.
func ModelID(lang string, overrides map[string]string) string {
	base := orchestrator.BaseSubtag(lang)
	if id, ok := overrides[base]; ok && id != "" {
		return id
	}
	if suffix, ok := modelSuffix[base]; ok {
		return modelPrefix + suffix
	}
	return modelPrefix + base
}

// Adapter turns text into raw samples through cached engine sessions.
// Sessions are created on first use per model and kept for the lifetime of
// the process. Concurrent first requests share a single initialization.
type Adapter struct {
	engine    Engine
	overrides map[string]string
	logger    orchestrator.Logger
	trim      float64

	mu       sync.RWMutex
	sessions map[string]Session
	group    singleflight.Group
}

func NewAdapter(engine Engine, overrides map[string]string, logger orchestrator.Logger) *Adapter {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Adapter{
		engine:    engine,
		overrides: overrides,
		logger:    logger,
		sessions:  make(map[string]Session),
	}
}

// SetSilenceTrim enables trimming of leading and trailing silence from
// synthesized audio. Frames with RMS at or below threshold count as silent;
// zero disables trimming. It must be called before the first Synthesize.
func (a *Adapter) SetSilenceTrim(threshold float64) {
	a.trim = threshold
}

func (a *Adapter) Name() string {
	return a.engine.Name()
}

// Synthesize runs inference for text in lang. Initialization and inference
// errors are returned wrapped; nothing is retried here.
func (a *Adapter) Synthesize(ctx context.Context, text, lang string) (audio.Sample, error) {
	if text == "" {
		return audio.Sample{}, ErrEmptyText
	}
	modelID := ModelID(lang, a.overrides)

	session, err := a.session(ctx, modelID)
	if err != nil {
		return audio.Sample{}, fmt.Errorf("load model %s: %w", modelID, err)
	}

	sample, err := session.Synthesize(ctx, text)
	if err != nil {
		return audio.Sample{}, fmt.Errorf("synthesize with %s: %w", modelID, err)
	}
	if sample.SampleRate <= 0 {
		return audio.Sample{}, fmt.Errorf("synthesize with %s: invalid sample rate %d", modelID, sample.SampleRate)
	}
	return audio.TrimSilence(sample, a.trim), nil
}

// Warm loads the model for lang ahead of the first request.
func (a *Adapter) Warm(ctx context.Context, lang string) error {
	_, err := a.session(ctx, ModelID(lang, a.overrides))
	return err
}

// Loaded reports whether a session for modelID is cached.
func (a *Adapter) Loaded(modelID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.sessions[modelID]
	return ok
}

func (a *Adapter) session(ctx context.Context, modelID string) (Session, error) {
	a.mu.RLock()
	s, ok := a.sessions[modelID]
	a.mu.RUnlock()
	if ok {
		return s, nil
	}

	// The load is shared by every waiter, so one caller giving up must not
	// cancel it.
	loadCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(modelID, func() (interface{}, error) {
		a.mu.RLock()
		s, ok := a.sessions[modelID]
		a.mu.RUnlock()
		if ok {
			return s, nil
		}

		a.logger.Info("loading neural model", "engine", a.engine.Name(), "model", modelID)
		s, err := a.engine.Open(loadCtx, modelID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fmt.Errorf("engine %s returned no session", a.engine.Name())
		}

		a.mu.Lock()
		a.sessions[modelID] = s
		a.mu.Unlock()
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
