package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
)

const DefaultBackendURL = "https://language-translator-backend-production.up.railway.app"

// APIError is a non-2xx response from the speech backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("TTS request failed (status %d): %s", e.Status, e.Message)
}

// BackendTTS requests speech from the translation backend's /tts endpoint.
type BackendTTS struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewBackendTTS(baseURL, token string) *BackendTTS {
	if baseURL == "" {
		baseURL = DefaultBackendURL
	}
	return &BackendTTS{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type backendRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func (b *BackendTTS) Speak(ctx context.Context, text, tag string) (audio.Encoded, error) {
	body, err := json.Marshal(backendRequest{Text: text, Lang: tag})
	if err != nil {
		return audio.Encoded{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return audio.Encoded{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return audio.Encoded{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return audio.Encoded{}, decodeAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Encoded{}, err
	}
	if len(data) == 0 {
		return audio.Encoded{}, orchestrator.ErrEmptyAudio
	}

	mimeType := audio.MIMETypeWAV
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}
	enc := audio.Encoded{Data: data, MIMEType: mimeType}
	if dec, err := audio.Decode(data); err == nil {
		enc.MIMEType = audio.MIMETypeWAV
		enc.SampleRate = dec.SampleRate
		enc.Channels = dec.Channels
	}
	return enc, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else if msg := strings.TrimSpace(string(raw)); msg != "" {
		apiErr.Message = msg
	}
	return apiErr
}

func (b *BackendTTS) Name() string {
	return "backend"
}
