package platform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
	"github.com/mattn/go-shellwords"
)

var ErrEspeakNotFound = errors.New("speech not available: install espeak-ng or espeak")

// EspeakConfig configures the espeak native speech backend.
type EspeakConfig struct {
	// Binary overrides the espeak-ng/espeak lookup.
	Binary string
	// ExtraArgs are appended to every utterance command.
	ExtraArgs string
	// VoicesDir is watched for installed voice changes. Empty disables watching.
	VoicesDir string
}

// Espeak speaks through an espeak-ng or espeak subprocess. At most one
// utterance runs at a time; a new one kills its predecessor.
type Espeak struct {
	bin       string
	extra     []string
	voicesDir string
	logger    orchestrator.Logger

	mu      sync.Mutex
	current *exec.Cmd
	running sync.WaitGroup

	listenMu  sync.Mutex
	listeners map[int]func()
	nextID    int
	watcher   *fsnotify.Watcher
	stop      chan struct{}
}

func NewEspeak(cfg EspeakConfig, logger orchestrator.Logger) (*Espeak, error) {
	bin := cfg.Binary
	if bin == "" {
		for _, name := range []string{"espeak-ng", "espeak"} {
			if path, err := exec.LookPath(name); err == nil {
				bin = path
				break
			}
		}
	}
	if bin == "" {
		return nil, ErrEspeakNotFound
	}

	var extra []string
	if cfg.ExtraArgs != "" {
		args, err := shellwords.Parse(cfg.ExtraArgs)
		if err != nil {
			return nil, fmt.Errorf("parse espeak args: %w", err)
		}
		extra = args
	}

	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Espeak{
		bin:       bin,
		extra:     extra,
		voicesDir: cfg.VoicesDir,
		logger:    logger,
		listeners: make(map[int]func()),
	}, nil
}

// Voices lists installed voices as reported by --voices.
func (e *Espeak) Voices(ctx context.Context) ([]orchestrator.Voice, error) {
	out, err := exec.CommandContext(ctx, e.bin, "--voices").Output()
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	return parseVoices(out), nil
}

// parseVoices reads the --voices table:
//
//	Pty Language       Age/Gender VoiceName          File          Other Languages
//	 5  en-gb           --/M      English_(Great_Britain) gmw/en
//
// VoiceName has its spaces printed as underscores and is not accepted by -v,
// so the File column becomes the voice ID.
func parseVoices(out []byte) []orchestrator.Voice {
	var voices []orchestrator.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		v := orchestrator.Voice{
			Lang: fields[1],
			Name: strings.ReplaceAll(fields[3], "_", " "),
		}
		if len(fields) >= 5 {
			v.ID = fields[4]
		}
		voices = append(voices, v)
	}
	return voices
}

// Speak starts the utterance, stopping any previous one, and returns once
// the process is running.
func (e *Espeak) Speak(ctx context.Context, u orchestrator.Utterance) error {
	cmd := exec.Command(e.bin, e.speakArgs(u)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start espeak: %w", err)
	}

	e.mu.Lock()
	prev := e.current
	e.current = cmd
	e.mu.Unlock()

	if prev != nil && prev.Process != nil {
		if err := prev.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			e.logger.Debug("stop previous utterance failed", "error", err)
		}
	}

	e.running.Add(1)
	go func() {
		defer e.running.Done()
		if err := cmd.Wait(); err != nil {
			e.logger.Debug("espeak exited", "error", err)
		}
		e.mu.Lock()
		if e.current == cmd {
			e.current = nil
		}
		e.mu.Unlock()
	}()
	return nil
}

func (e *Espeak) speakArgs(u orchestrator.Utterance) []string {
	voice := u.Lang
	if u.Voice != nil {
		switch {
		case u.Voice.ID != "":
			voice = u.Voice.ID
		case u.Voice.Lang != "":
			voice = u.Voice.Lang
		}
	}
	args := []string{}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	if u.Rate > 0 {
		args = append(args, "-s", strconv.Itoa(int(175*u.Rate)))
	}
	if u.Pitch > 0 {
		args = append(args, "-p", strconv.Itoa(clampInt(int(50*u.Pitch), 0, 99)))
	}
	args = append(args, e.extra...)
	return append(args, "--", u.Text)
}

// Cancel stops the utterance in progress, if any.
func (e *Espeak) Cancel() error {
	e.mu.Lock()
	cmd := e.current
	e.current = nil
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait blocks until every started utterance has exited.
func (e *Espeak) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnVoicesChanged registers fn to run when the voices directory changes.
// The watcher starts with the first subscription.
func (e *Espeak) OnVoicesChanged(fn func()) func() {
	e.listenMu.Lock()
	defer e.listenMu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners[id] = fn

	if e.watcher == nil && e.voicesDir != "" {
		if err := e.startWatcher(); err != nil {
			e.logger.Warn("voice watcher disabled", "dir", e.voicesDir, "error", err)
		}
	}

	return func() {
		e.listenMu.Lock()
		defer e.listenMu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Espeak) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(e.voicesDir); err != nil {
		w.Close()
		return err
	}
	e.watcher = w
	e.stop = make(chan struct{})
	go e.watch(w, e.stop)
	return nil
}

func (e *Espeak) watch(w *fsnotify.Watcher, stop chan struct{}) {
	const settle = 200 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			e.logger.Warn("voice watcher error", "error", err)
		case <-fire:
			fire = nil
			e.notify()
		case <-stop:
			return
		}
	}
}

func (e *Espeak) notify() {
	e.listenMu.Lock()
	fns := make([]func(), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.listenMu.Unlock()

	e.logger.Debug("voices changed", "listeners", len(fns))
	for _, fn := range fns {
		fn()
	}
}

// Close stops the watcher and cancels any running utterance.
func (e *Espeak) Close() error {
	e.listenMu.Lock()
	w := e.watcher
	e.watcher = nil
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.listenMu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	if cerr := e.Cancel(); err == nil {
		err = cerr
	}
	return err
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
