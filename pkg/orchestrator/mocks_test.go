package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

type MockNeural struct {
	log    *callLog
	sample audio.Sample
	err    error
	calls  int
	langs  []string
}

func (m *MockNeural) Synthesize(ctx context.Context, text, lang string) (audio.Sample, error) {
	m.calls++
	m.langs = append(m.langs, lang)
	m.log.add("neural")
	return m.sample, m.err
}

func (m *MockNeural) Name() string { return "MockNeural" }

type MockRemote struct {
	log   *callLog
	enc   audio.Encoded
	err   error
	calls int
	tags  []string
}

func (m *MockRemote) Speak(ctx context.Context, text, tag string) (audio.Encoded, error) {
	m.calls++
	m.tags = append(m.tags, tag)
	m.log.add("remote")
	return m.enc, m.err
}

func (m *MockRemote) Name() string { return "MockRemote" }

type MockPlayer struct {
	log     *callLog
	loadErr error
	playErr error

	mu        sync.Mutex
	loaded    []audio.Encoded
	playbacks []*MockPlayback
}

func (m *MockPlayer) Load(ctx context.Context, enc audio.Encoded, opts LoadOptions) (Playback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.add("load")
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	m.loaded = append(m.loaded, enc)
	pb := &MockPlayback{playErr: m.playErr, muted: opts.Muted, done: make(chan struct{}), released: make(chan struct{})}
	m.playbacks = append(m.playbacks, pb)
	return pb, nil
}

func (m *MockPlayer) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaded)
}

type MockPlayback struct {
	playErr error
	muted   bool

	mu           sync.Mutex
	plays        int
	pauses       int
	releaseCount int
	done         chan struct{}
	doneOnce     sync.Once
	released     chan struct{}
}

func (p *MockPlayback) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	return p.playErr
}

func (p *MockPlayback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	return nil
}

func (p *MockPlayback) Done() <-chan struct{} { return p.done }

// finish simulates the end of playback.
func (p *MockPlayback) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *MockPlayback) Release() error {
	p.mu.Lock()
	p.releaseCount++
	first := p.releaseCount == 1
	p.mu.Unlock()
	p.finish()
	if first {
		close(p.released)
	}
	return nil
}

func (p *MockPlayback) releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseCount
}

type MockSpeech struct {
	log      *callLog
	voices   []Voice
	voiceErr error
	speakErr error

	mu         sync.Mutex
	utterances []Utterance
	cancels    int
	active     int
	listeners  map[int]func()
	nextID     int

	// onCancel runs after Cancel has taken effect, outside the lock.
	onCancel func()
}

func (m *MockSpeech) Voices(ctx context.Context) ([]Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voiceErr != nil {
		return nil, m.voiceErr
	}
	out := make([]Voice, len(m.voices))
	copy(out, m.voices)
	return out, nil
}

func (m *MockSpeech) OnVoicesChanged(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = map[int]func(){}
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *MockSpeech) setVoices(voices []Voice) {
	m.mu.Lock()
	m.voices = voices
	listeners := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (m *MockSpeech) Cancel() error {
	m.mu.Lock()
	m.cancels++
	m.active = 0
	m.log.add("cancel")
	hook := m.onCancel
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (m *MockSpeech) activeUtterances() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *MockSpeech) Speak(ctx context.Context, u Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.add("native")
	m.utterances = append(m.utterances, u)
	if m.speakErr != nil {
		return m.speakErr
	}
	m.active++
	return nil
}

type MockAudioContext struct {
	state     AudioState
	resumeErr error
	silentErr error
	resumes   int
	frames    []int
	closed    int
	panicOn   string
}

func (c *MockAudioContext) State() AudioState { return c.state }

func (c *MockAudioContext) Resume(ctx context.Context) error {
	c.resumes++
	if c.panicOn == "resume" {
		panic("resume exploded")
	}
	if c.resumeErr != nil {
		return c.resumeErr
	}
	c.state = AudioStateRunning
	return nil
}

func (c *MockAudioContext) PlaySilentFrame(ctx context.Context, sampleRate int) error {
	c.frames = append(c.frames, sampleRate)
	return c.silentErr
}

func (c *MockAudioContext) Close() error {
	c.closed++
	c.state = AudioStateClosed
	return nil
}

type MockContextFactory struct {
	ctx     *MockAudioContext
	err     error
	created int
}

func (f *MockContextFactory) NewAudioContext(ctx context.Context) (AudioContext, error) {
	f.created++
	if f.err != nil {
		return nil, f.err
	}
	return f.ctx, nil
}

var errBoom = errors.New("boom")

func waitReleased(pb *MockPlayback) bool {
	select {
	case <-pb.released:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}
