package tts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
)

// LokutorTTS streams PCM16 from the Lokutor websocket API and wraps it as WAV.
type LokutorTTS struct {
	apiKey     string
	host       string
	scheme     string
	voice      string
	sampleRate int
	mu         sync.Mutex
	conn       *websocket.Conn
}

func NewLokutorTTS(apiKey, voice string, sampleRate int) *LokutorTTS {
	if voice == "" {
		voice = "F1"
	}
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &LokutorTTS{
		apiKey:     apiKey,
		host:       "api.lokutor.com",
		scheme:     "wss",
		voice:      voice,
		sampleRate: sampleRate,
	}
}

func (t *LokutorTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + url.QueryEscape(t.apiKey)}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lokutor: %w", err)
	}

	conn.SetReadLimit(10 * 1024 * 1024)

	t.conn = conn
	return conn, nil
}

// Speak synthesizes text in the language of tag and returns a WAV.
func (t *LokutorTTS) Speak(ctx context.Context, text, tag string) (audio.Encoded, error) {
	var pcm []byte
	err := t.StreamSynthesize(ctx, text, tag, func(chunk []byte) error {
		pcm = append(pcm, chunk...)
		return nil
	})
	if err != nil {
		return audio.Encoded{}, err
	}
	if len(pcm) == 0 {
		return audio.Encoded{}, orchestrator.ErrEmptyAudio
	}
	return audio.Encoded{
		Data:       audio.NewWavBuffer(pcm, t.sampleRate),
		MIMEType:   audio.MIMETypeWAV,
		SampleRate: t.sampleRate,
		Channels:   audio.Channels,
	}, nil
}

func (t *LokutorTTS) StreamSynthesize(ctx context.Context, text, tag string, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := map[string]interface{}{
		"text":    text,
		"voice":   t.voice,
		"lang":    orchestrator.BaseSubtag(tag),
		"speed":   1.0,
		"steps":   6,
		"visemes": false,
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("failed to send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("failed to read from lokutor: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if strings.HasPrefix(msg, "ERR:") {
				return fmt.Errorf("lokutor error: %s", strings.TrimSpace(msg[4:]))
			}
		}
	}
}

func (t *LokutorTTS) Name() string {
	return "lokutor"
}

func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
