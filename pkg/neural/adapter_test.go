package neural

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
)

type MockEngine struct {
	opens   atomic.Int32
	openErr error
	gate    chan struct{}
	rate    int
	synErr  error
	data    []float32

	mu     sync.Mutex
	models []string
}

func (m *MockEngine) Open(ctx context.Context, modelID string) (Session, error) {
	m.opens.Add(1)
	m.mu.Lock()
	m.models = append(m.models, modelID)
	m.mu.Unlock()
	if m.gate != nil {
		<-m.gate
	}
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &MockSession{rate: m.rate, err: m.synErr, data: m.data}, nil
}

func (m *MockEngine) Name() string { return "mock" }

type MockSession struct {
	rate int
	err  error
	data []float32
}

func (s *MockSession) Synthesize(ctx context.Context, text string) (audio.Sample, error) {
	if s.err != nil {
		return audio.Sample{}, s.err
	}
	if s.data != nil {
		return audio.Sample{Data: s.data, SampleRate: s.rate}, nil
	}
	return audio.Sample{Data: make([]float32, len(text)), SampleRate: s.rate}, nil
}

func TestModelID(t *testing.T) {
	tests := []struct {
		lang      string
		overrides map[string]string
		want      string
	}{
		{"yo", nil, "mms-tts-yor"},
		{"yo-NG", nil, "mms-tts-yor"},
		{"ig", nil, "mms-tts-ibo"},
		{"ha", nil, "mms-tts-hau"},
		{"sw", nil, "mms-tts-sw"},
		{"yo", map[string]string{"yo": "yo_NG-openbible"}, "yo_NG-openbible"},
	}
	for _, tt := range tests {
		if got := ModelID(tt.lang, tt.overrides); got != tt.want {
			t.Errorf("ModelID(%q) = %q, want %q", tt.lang, got, tt.want)
		}
	}
}

func TestAdapterSynthesize(t *testing.T) {
	engine := &MockEngine{rate: 16000}
	a := NewAdapter(engine, nil, nil)

	sample, err := a.Synthesize(context.Background(), "Báwo ni", "yo")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if sample.SampleRate != 16000 {
		t.Errorf("Expected engine sample rate 16000, got %d", sample.SampleRate)
	}
	if !a.Loaded("mms-tts-yor") {
		t.Error("Expected session cached")
	}

	if _, err := a.Synthesize(context.Background(), "Ó dàbọ̀", "yo"); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if engine.opens.Load() != 1 {
		t.Errorf("Expected model opened once, got %d", engine.opens.Load())
	}
}

func TestAdapterSessionsPerModel(t *testing.T) {
	engine := &MockEngine{rate: 22050}
	a := NewAdapter(engine, nil, nil)

	for _, lang := range []string{"yo", "ig", "yo", "ha", "ig"} {
		if _, err := a.Synthesize(context.Background(), "text", lang); err != nil {
			t.Fatalf("Synthesize(%s) error = %v", lang, err)
		}
	}
	if engine.opens.Load() != 3 {
		t.Errorf("Expected 3 model loads, got %d", engine.opens.Load())
	}
}

func TestAdapterConcurrentFirstUseSharesInit(t *testing.T) {
	engine := &MockEngine{rate: 16000, gate: make(chan struct{})}
	a := NewAdapter(engine, nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Synthesize(context.Background(), "Báwo ni", "yo")
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(engine.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Synthesize() error = %v", err)
		}
	}
	if engine.opens.Load() != 1 {
		t.Errorf("Expected a single shared initialization, got %d", engine.opens.Load())
	}
}

func TestAdapterWaiterCancellation(t *testing.T) {
	engine := &MockEngine{rate: 16000, gate: make(chan struct{})}
	a := NewAdapter(engine, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.Synthesize(ctx, "Báwo ni", "yo"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	close(engine.gate)
	if _, err := a.Synthesize(context.Background(), "Báwo ni", "yo"); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if engine.opens.Load() != 1 {
		t.Errorf("Expected the detached load to be reused, got %d opens", engine.opens.Load())
	}
}

func TestAdapterOpenErrorNotCached(t *testing.T) {
	engine := &MockEngine{rate: 16000, openErr: errors.New("model not found")}
	a := NewAdapter(engine, nil, nil)

	_, err := a.Synthesize(context.Background(), "Báwo ni", "yo")
	if err == nil || !strings.Contains(err.Error(), "mms-tts-yor") {
		t.Fatalf("Expected wrapped load error, got %v", err)
	}

	engine.openErr = nil
	if _, err := a.Synthesize(context.Background(), "Báwo ni", "yo"); err != nil {
		t.Fatalf("Expected retry after failed load, got %v", err)
	}
	if engine.opens.Load() != 2 {
		t.Errorf("Expected 2 opens, got %d", engine.opens.Load())
	}
}

func TestAdapterErrors(t *testing.T) {
	synErr := errors.New("inference failed")
	a := NewAdapter(&MockEngine{rate: 16000, synErr: synErr}, nil, nil)
	if _, err := a.Synthesize(context.Background(), "x", "yo"); !errors.Is(err, synErr) {
		t.Errorf("Expected inference error, got %v", err)
	}

	a = NewAdapter(&MockEngine{rate: 0}, nil, nil)
	if _, err := a.Synthesize(context.Background(), "x", "yo"); err == nil {
		t.Error("Expected error for zero sample rate")
	}

	if _, err := a.Synthesize(context.Background(), "", "yo"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Expected ErrEmptyText, got %v", err)
	}
}

func TestAdapterWarm(t *testing.T) {
	engine := &MockEngine{rate: 16000}
	a := NewAdapter(engine, map[string]string{"yo": "custom-yo"}, nil)
	if err := a.Warm(context.Background(), "yo"); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if !a.Loaded("custom-yo") {
		t.Error("Expected override model loaded")
	}
}

func TestAdapterSilenceTrim(t *testing.T) {
	// 1 kHz: 5 silent frames, 5 voiced frames, 5 silent frames.
	data := make([]float32, 150)
	for i := 50; i < 100; i++ {
		data[i] = 0.4
	}
	a := NewAdapter(&MockEngine{rate: 1000, data: data}, nil, nil)

	sample, err := a.Synthesize(context.Background(), "x", "yo")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(sample.Data) != 150 {
		t.Errorf("expected untrimmed output by default, got %d samples", len(sample.Data))
	}

	a.SetSilenceTrim(0.01)
	sample, err = a.Synthesize(context.Background(), "x", "yo")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(sample.Data) != 70 {
		t.Errorf("expected 70 samples after trim, got %d", len(sample.Data))
	}
}
