package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
	"github.com/lokutor-ai/lokutor-speech/pkg/neural"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
)

// PiperEngine runs neural synthesis on a Piper server speaking the Wyoming
// protocol. Each model maps to a Piper voice; unmapped models are sent as
// the voice name unchanged.
//
// Wyoming event framing:
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>
type PiperEngine struct {
	endpoint string
	voices   map[string]string
	logger   orchestrator.Logger

	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewPiperEngine(endpoint string, voices map[string]string, logger orchestrator.Logger) *PiperEngine {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	endpoint = strings.TrimPrefix(endpoint, "tcp://")
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &PiperEngine{
		endpoint: endpoint,
		voices:   voices,
		logger:   logger,
		dial:     dialer.DialContext,
	}
}

func (p *PiperEngine) Name() string {
	return "piper"
}

// Open checks that the server is reachable and knows the voice.
func (p *PiperEngine) Open(ctx context.Context, modelID string) (neural.Session, error) {
	voice := modelID
	if v, ok := p.voices[modelID]; ok {
		voice = v
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeEvent(conn, wyomingEvent{Type: "describe"}, nil); err != nil {
		return nil, fmt.Errorf("sending describe event: %w", err)
	}
	for {
		evt, _, err := readEvent(conn)
		if err != nil {
			return nil, fmt.Errorf("reading piper event: %w", err)
		}
		if evt.Type != "info" {
			continue
		}
		if names := infoVoices(evt.Data); len(names) > 0 && !names[voice] {
			return nil, fmt.Errorf("piper has no voice %q", voice)
		}
		p.logger.Debug("piper voice ready", "voice", voice)
		return &piperSession{engine: p, voice: voice}, nil
	}
}

func (p *PiperEngine) connect(ctx context.Context) (net.Conn, error) {
	if p.endpoint == "" {
		return nil, fmt.Errorf("no piper endpoint configured")
	}
	conn, err := p.dial(ctx, "tcp", p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to piper: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}
	return conn, nil
}

type piperSession struct {
	engine *PiperEngine
	voice  string
}

// Synthesize returns the server's audio at the rate announced in audio-start.
func (s *piperSession) Synthesize(ctx context.Context, text string) (audio.Sample, error) {
	conn, err := s.engine.connect(ctx)
	if err != nil {
		return audio.Sample{}, err
	}
	defer conn.Close()

	evt := wyomingEvent{
		Type: "synthesize",
		Data: map[string]any{
			"text":  text,
			"voice": map[string]any{"name": s.voice},
		},
	}
	if err := writeEvent(conn, evt, nil); err != nil {
		return audio.Sample{}, fmt.Errorf("sending synthesize event: %w", err)
	}

	var (
		pcm   bytes.Buffer
		rate  int
		width = 2
	)
	for {
		evt, payload, err := readEvent(conn)
		if err != nil {
			return audio.Sample{}, fmt.Errorf("reading piper event: %w", err)
		}

		switch evt.Type {
		case "audio-start":
			if r, ok := evt.Data["rate"].(float64); ok {
				rate = int(r)
			}
			if w, ok := evt.Data["width"].(float64); ok {
				width = int(w)
			}
			if width != 2 {
				return audio.Sample{}, fmt.Errorf("unsupported sample width %d", width)
			}
		case "audio-chunk":
			if rate == 0 {
				if r, ok := evt.Data["rate"].(float64); ok {
					rate = int(r)
				}
			}
			pcm.Write(payload)
		case "audio-stop":
			s.engine.logger.Debug("piper audio-stop", "pcm_bytes", pcm.Len(), "rate", rate)
			return audio.Sample{Data: audio.PCM16ToFloat(pcm.Bytes()), SampleRate: rate}, nil
		case "error":
			msg := "unknown error"
			if t, ok := evt.Data["text"].(string); ok {
				msg = t
			}
			return audio.Sample{}, fmt.Errorf("piper error: %s", msg)
		}
	}
}

func infoVoices(data map[string]any) map[string]bool {
	names := map[string]bool{}
	programs, _ := data["tts"].([]any)
	for _, prog := range programs {
		pm, _ := prog.(map[string]any)
		voices, _ := pm["voices"].([]any)
		for _, v := range voices {
			vm, _ := v.(map[string]any)
			if name, ok := vm["name"].(string); ok {
				names[name] = true
			}
		}
	}
	return names
}

type wyomingEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

func writeEvent(w io.Writer, evt wyomingEvent, payload []byte) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d\n", len(body), len(payload))
	buf.Write(body)
	buf.WriteByte('\n')
	buf.Write(payload)
	_, err = w.Write(buf.Bytes())
	return err
}

func readEvent(r io.Reader) (*wyomingEvent, []byte, error) {
	var header []byte
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, nil, fmt.Errorf("reading header: %w", err)
		}
		if one[0] == '\n' {
			break
		}
		header = append(header, one[0])
	}

	jsonPart, payloadPart, ok := strings.Cut(strings.TrimSpace(string(header)), " ")
	if !ok {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", header)
	}
	jsonLen, err := strconv.Atoi(jsonPart)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing json_length: %w", err)
	}
	payloadLen, err := strconv.Atoi(payloadPart)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing payload_length: %w", err)
	}

	body := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}
	var evt wyomingEvent
	if err := json.Unmarshal(body[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &evt, payload, nil
}
