package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
	"github.com/lokutor-ai/lokutor-speech/pkg/neural"
	"github.com/mattn/go-shellwords"
)

// ExecEngine runs a local synthesis command per request. The command gets
// {"model", "text"} as JSON on stdin and must print
// {"audio": [...], "sampling_rate": n} on stdout.
type ExecEngine struct {
	cmd []string
}

type execRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type execResponse struct {
	Audio        []float32 `json:"audio"`
	SamplingRate int       `json:"sampling_rate"`
	Error        string    `json:"error,omitempty"`
}

func NewExecEngine(command string) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &ExecEngine{cmd: args}, nil
}

func (e *ExecEngine) Name() string {
	return "exec:" + e.cmd[0]
}

// Open resolves the command binary. The model itself is loaded by the
// command on every run.
func (e *ExecEngine) Open(ctx context.Context, modelID string) (neural.Session, error) {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return nil, fmt.Errorf("tts command: %w", err)
	}
	return &execSession{cmd: e.cmd, model: modelID}, nil
}

type execSession struct {
	cmd   []string
	model string
}

func (s *execSession) Synthesize(ctx context.Context, text string) (audio.Sample, error) {
	payload, err := json.Marshal(execRequest{Model: s.model, Text: text})
	if err != nil {
		return audio.Sample{}, err
	}

	cmd := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return audio.Sample{}, fmt.Errorf("tts command: %w: %s", err, msg)
		}
		return audio.Sample{}, fmt.Errorf("tts command: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return audio.Sample{}, fmt.Errorf("decode tts output: %w", err)
	}
	if resp.Error != "" {
		return audio.Sample{}, fmt.Errorf("tts command: %s", resp.Error)
	}
	return audio.Sample{Data: resp.Audio, SampleRate: resp.SamplingRate}, nil
}
