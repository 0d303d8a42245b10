package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-speech/pkg/audio"
	"github.com/lokutor-ai/lokutor-speech/pkg/observability"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
)

const maxTextBytes = 16 << 10

type Speaker interface {
	Speak(ctx context.Context, text, lang string) orchestrator.Outcome
	Voices() []orchestrator.Voice
	Speaking() bool
	GetProviders() map[string]string
	GetConfig() orchestrator.Config
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (audio.Sample, error)
}

type Server struct {
	speaker Speaker
	neural  Synthesizer
	metrics *observability.Metrics
	logger  orchestrator.Logger
}

// New creates the control surface. neural and metrics may be nil.
func New(speaker Speaker, neural Synthesizer, metrics *observability.Metrics, logger orchestrator.Logger) *Server {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Server{
		speaker: speaker,
		neural:  neural,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
		r.Get("/v1/stats", s.handleStats)
	}

	r.Post("/v1/speak", s.handleSpeak)
	r.Post("/v1/synthesize", s.handleSynthesize)
	r.Get("/v1/voices", s.handleVoices)
	r.Get("/v1/languages", s.handleLanguages)

	return r
}

type speakRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type attemptResponse struct {
	Stage     string  `json:"stage"`
	Result    string  `json:"result"`
	Error     string  `json:"error,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

type speakResponse struct {
	ID       string            `json:"id"`
	Stage    string            `json:"stage"`
	Tag      string            `json:"tag"`
	Attempts []attemptResponse `json:"attempts"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"speaking":  s.speaker.Speaking(),
		"providers": s.speaker.GetProviders(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSpeech(w, r)
	if !ok {
		return
	}
	id := uuid.NewString()
	s.logger.Info("speak request", "id", id, "lang", req.Lang, "length", len(req.Text))

	out := s.speaker.Speak(r.Context(), req.Text, req.Lang)

	resp := speakResponse{
		ID:       id,
		Stage:    string(out.Stage),
		Tag:      out.Tag,
		Attempts: make([]attemptResponse, 0, len(out.Attempts)),
	}
	for _, a := range out.Attempts {
		ar := attemptResponse{
			Stage:     string(a.Stage),
			Result:    "ok",
			ElapsedMS: float64(a.Elapsed.Microseconds()) / 1000,
		}
		switch {
		case a.Skipped:
			ar.Result = "skipped"
		case a.Err != nil:
			ar.Result = "failed"
		}
		if a.Err != nil {
			ar.Error = a.Err.Error()
		}
		resp.Attempts = append(resp.Attempts, ar)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.neural == nil {
		respondError(w, http.StatusServiceUnavailable, "neural_unavailable", orchestrator.ErrNeuralUnavailable.Error())
		return
	}
	req, ok := s.decodeSpeech(w, r)
	if !ok {
		return
	}

	sample, err := s.neural.Synthesize(r.Context(), req.Text, req.Lang)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("synthesis failed", "lang", req.Lang, "error", err)
		respondError(w, http.StatusBadGateway, "synthesis_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", audio.MIMETypeWAV)
	w.Header().Set("X-Request-ID", uuid.NewString())
	w.WriteHeader(http.StatusOK)
	if err := audio.WriteWAV(w, sample.Data, sample.SampleRate); err != nil {
		s.logger.Debug("write wav response failed", "error", err)
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := s.speaker.Voices()
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(voices),
		"voices": voices,
	})
}

type languageResponse struct {
	orchestrator.LanguageInfo
	Tag    string `json:"tag"`
	Neural bool   `json:"neural"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	cfg := s.speaker.GetConfig()
	neural := map[string]bool{}
	for _, code := range cfg.NeuralLanguages {
		neural[orchestrator.BaseSubtag(code)] = true
	}

	out := make([]languageResponse, 0, len(orchestrator.Languages))
	for _, l := range orchestrator.Languages {
		tag := orchestrator.RegionTag(cfg.LanguageTags, l.Code)
		out = append(out, languageResponse{
			LanguageInfo: l,
			Tag:          tag,
			Neural:       neural[orchestrator.BaseSubtag(tag)],
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"default":   cfg.DefaultLanguage,
		"languages": out,
	})
}

func (s *Server) decodeSpeech(w http.ResponseWriter, r *http.Request) (speakRequest, bool) {
	var req speakRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return req, false
	}
	req.Text = strings.TrimSpace(req.Text)
	req.Lang = strings.TrimSpace(req.Lang)
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return req, false
	}
	if req.Lang == "" {
		req.Lang = s.speaker.GetConfig().DefaultLanguage
	}
	return req, true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
