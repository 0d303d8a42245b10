package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
)

// contextSampleRate is the rate an audio context opens at until a silent
// frame asks for another.
const contextSampleRate = 22050

// outputDevice is the part of *malgo.Device the contexts and playbacks use.
type outputDevice interface {
	Start() error
	Stop() error
	IsStarted() bool
	Uninit()
}

type deviceOpener func(sampleRate, channels int, stream *pcmStream) (outputDevice, error)

// Malgo provides audio contexts and WAV playback on the default output
// device through miniaudio.
type Malgo struct {
	mu     sync.RWMutex
	mctx   *malgo.AllocatedContext
	logger orchestrator.Logger
}

func NewMalgo(logger orchestrator.Logger) (*Malgo, error) {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Malgo{mctx: mctx, logger: logger}, nil
}

func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mctx == nil {
		return nil
	}
	err := m.mctx.Uninit()
	m.mctx.Free()
	m.mctx = nil
	return err
}

var errContextClosed = errors.New("audio context closed")

// openDevice opens a playback device feeding from stream.
func (m *Malgo) openDevice(sampleRate, channels int, stream *pcmStream) (outputDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mctx == nil {
		return nil, errContextClosed
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(m.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			stream.fill(pOutput)
		},
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// NewAudioContext opens an output device in the suspended state.
func (m *Malgo) NewAudioContext(ctx context.Context) (orchestrator.AudioContext, error) {
	c, err := newMalgoContext(m.openDevice, contextSampleRate)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newMalgoContext(open deviceOpener, rate int) (*malgoContext, error) {
	stream := newPCMStream(nil, false)
	device, err := open(rate, audio.Channels, stream)
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	return &malgoContext{
		open:   open,
		device: device,
		stream: stream,
		rate:   rate,
		state:  orchestrator.AudioStateSuspended,
	}, nil
}

type malgoContext struct {
	mu     sync.Mutex
	open   deviceOpener
	device outputDevice
	stream *pcmStream
	rate   int
	state  orchestrator.AudioState
}

func (c *malgoContext) State() orchestrator.AudioState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *malgoContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != orchestrator.AudioStateSuspended {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return err
	}
	c.state = orchestrator.AudioStateRunning
	return nil
}

// PlaySilentFrame plays a single near-silent sample at sampleRate and waits
// for the device to consume it. A running device at another rate is
// reopened at sampleRate first.
func (c *malgoContext) PlaySilentFrame(ctx context.Context, sampleRate int) error {
	c.mu.Lock()
	if c.state != orchestrator.AudioStateRunning {
		c.mu.Unlock()
		return errors.New("audio context not running")
	}
	if sampleRate > 0 && sampleRate != c.rate {
		if err := c.reopenLocked(sampleRate); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	rate := c.rate
	done := c.stream.reset(make([]byte, 2*audio.Channels))
	c.mu.Unlock()

	wait := time.Duration(float64(time.Second) / float64(rate) * 4096)
	select {
	case <-done:
		return nil
	case <-time.After(wait + 100*time.Millisecond):
		return errors.New("silent frame not consumed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *malgoContext) reopenLocked(rate int) error {
	stream := newPCMStream(nil, false)
	device, err := c.open(rate, audio.Channels, stream)
	if err != nil {
		return fmt.Errorf("reopen playback device at %d Hz: %w", rate, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}
	c.device.Uninit()
	c.device = device
	c.stream = stream
	c.rate = rate
	return nil
}

func (c *malgoContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == orchestrator.AudioStateClosed {
		return nil
	}
	c.device.Uninit()
	c.state = orchestrator.AudioStateClosed
	return nil
}

// Load decodes enc and prepares a device for it. Only WAV is supported.
func (m *Malgo) Load(ctx context.Context, enc audio.Encoded, opts orchestrator.LoadOptions) (orchestrator.Playback, error) {
	dec, err := audio.Decode(enc.Data)
	if err != nil {
		return nil, err
	}
	if dec.Channels <= 0 {
		dec.Channels = audio.Channels
	}
	if dec.PCM == nil {
		dec.PCM = []byte{}
	}

	stream := newPCMStream(dec.PCM, opts.Muted)
	device, err := m.openDevice(dec.SampleRate, dec.Channels, stream)
	if err != nil {
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	m.logger.Debug("playback loaded", "rate", dec.SampleRate, "frames", dec.Frames(), "muted", opts.Muted)
	return &malgoPlayback{device: device, stream: stream}, nil
}

type malgoPlayback struct {
	device   outputDevice
	stream   *pcmStream
	release  sync.Once
	released atomic.Bool
}

func (p *malgoPlayback) Play(ctx context.Context) error {
	if p.released.Load() {
		return errors.New("playback released")
	}
	return p.device.Start()
}

func (p *malgoPlayback) Pause() error {
	if !p.device.IsStarted() {
		return nil
	}
	return p.device.Stop()
}

func (p *malgoPlayback) Done() <-chan struct{} {
	return p.stream.doneCh()
}

func (p *malgoPlayback) Release() error {
	p.release.Do(func() {
		p.released.Store(true)
		p.device.Uninit()
		p.stream.finish()
	})
	return nil
}

// pcmStream feeds PCM16 bytes to a device callback and signals when the
// buffer has been played. The device asks for the next period only once the
// previous one is out, so done closes on the first callback after the last
// bytes were handed over.
type pcmStream struct {
	mu      sync.Mutex
	pcm     []byte
	pos     int
	muted   bool
	drained bool
	done    chan struct{}
	over    bool
}

func newPCMStream(pcm []byte, muted bool) *pcmStream {
	s := &pcmStream{pcm: pcm, muted: muted, done: make(chan struct{})}
	if pcm != nil && len(pcm) == 0 {
		s.finishLocked()
	}
	return s
}

// fill copies the next chunk into out and zero-pads the rest.
func (s *pcmStream) fill(out []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	if !s.over && s.drained {
		s.finishLocked()
	} else if !s.over {
		n = len(s.pcm) - s.pos
		if n > len(out) {
			n = len(out)
		}
		if s.muted {
			clear(out[:n])
		} else {
			copy(out, s.pcm[s.pos:s.pos+n])
		}
		s.pos += n
		if s.pcm != nil && s.pos >= len(s.pcm) {
			s.drained = true
		}
	}
	clear(out[n:])
}

// reset replaces the buffer and returns a channel closed once it is consumed.
func (s *pcmStream) reset(pcm []byte) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcm = pcm
	s.pos = 0
	s.drained = false
	s.over = false
	s.done = make(chan struct{})
	return s.done
}

func (s *pcmStream) doneCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *pcmStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
}

func (s *pcmStream) finishLocked() {
	if s.over {
		return
	}
	s.over = true
	close(s.done)
}
