package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/lokutor-speech/pkg/config"
	"github.com/lokutor-ai/lokutor-speech/pkg/httpapi"
	"github.com/lokutor-ai/lokutor-speech/pkg/neural"
	"github.com/lokutor-ai/lokutor-speech/pkg/observability"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-speech/pkg/platform"
	ttsProvider "github.com/lokutor-ai/lokutor-speech/pkg/providers/tts"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: search speech.yaml)")
	lang := flag.String("lang", "", "language code of the text (default: speech.default_language)")
	serve := flag.Bool("serve", false, "serve the HTTP API instead of speaking once")
	addr := flag.String("addr", "", "HTTP listen address (default: server.addr)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := config.SetupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, err := buildNeural(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	remote, err := buildRemote(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	plat, closePlatform := buildPlatform(cfg, logger)
	defer closePlatform()

	var synth orchestrator.NeuralSynthesizer
	if adapter != nil {
		synth = adapter
	}
	orch := orchestrator.NewWithLogger(synth, remote, plat, cfg.Orchestrator(), logger)
	defer orch.Close()

	metrics := observability.NewMetrics("lokutor_speech")
	orch.SetObserver(metrics)

	providers := orch.GetProviders()
	logger.Info("speech configured",
		"neural", providers["neural"],
		"remote", providers["remote"],
		"player", providers["player"],
		"native", providers["native"],
	)

	if *serve {
		listen := cfg.Server.Addr
		if *addr != "" {
			listen = *addr
		}
		var api httpapi.Synthesizer
		if adapter != nil {
			api = adapter
		}
		if err := runServer(ctx, listen, httpapi.New(orch, api, metrics, logger), logger); err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	}

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, "usage: speak [-lang yo] [-config speech.yaml] <text>")
		fmt.Fprintln(os.Stderr, "       speak -serve [-addr :8080]")
		os.Exit(2)
	}
	speakLang := *lang
	if speakLang == "" {
		speakLang = cfg.Speech.DefaultLanguage
	}

	out := orch.Speak(ctx, text, speakLang)
	fmt.Printf("Spoke via %s (%s)\n", out.Stage, out.Tag)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := orch.Drain(waitCtx); err != nil {
		logger.Warn("playback did not finish", "error", err)
	}
	if speech, ok := plat.NativeSpeech(); ok {
		if e, ok := speech.(*platform.Espeak); ok {
			if err := e.Wait(waitCtx); err != nil {
				logger.Warn("native speech did not finish", "error", err)
			}
		}
	}
}

func buildNeural(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*neural.Adapter, error) {
	var engine neural.Engine
	switch cfg.Neural.Engine {
	case "exec":
		e, err := ttsProvider.NewExecEngine(cfg.Neural.Exec.Command)
		if err != nil {
			return nil, err
		}
		engine = e
	case "none", "":
		return nil, nil
	case "piper":
		engine = ttsProvider.NewPiperEngine(cfg.Neural.Piper.Endpoint, cfg.Neural.Piper.Voices, logger)
	default:
		return nil, fmt.Errorf("unknown neural engine %q", cfg.Neural.Engine)
	}

	adapter := neural.NewAdapter(engine, cfg.Neural.Models, logger)
	adapter.SetSilenceTrim(cfg.Neural.TrimThreshold)
	for _, l := range cfg.Neural.Warm {
		if err := adapter.Warm(ctx, l); err != nil {
			logger.Warn("neural warm-up failed", "lang", l, "error", err)
		}
	}
	return adapter, nil
}

func buildRemote(cfg *config.Config) (orchestrator.RemoteTTS, error) {
	switch cfg.Remote.Provider {
	case "lokutor":
		if cfg.Remote.Lokutor.APIKey == "" {
			return nil, errors.New("LOKUTOR_API_KEY must be set for the lokutor remote provider")
		}
		return ttsProvider.NewLokutorTTS(cfg.Remote.Lokutor.APIKey, cfg.Remote.Lokutor.Voice, cfg.Remote.Lokutor.SampleRate), nil
	case "none", "":
		return nil, nil
	case "backend":
		return ttsProvider.NewBackendTTS(cfg.Remote.Backend.URL, cfg.Remote.Backend.Token), nil
	default:
		return nil, fmt.Errorf("unknown remote provider %q", cfg.Remote.Provider)
	}
}

// buildPlatform assembles whatever native capabilities this host offers.
// Missing capabilities are logged and left out.
func buildPlatform(cfg *config.Config, logger *slog.Logger) (orchestrator.StaticPlatform, func()) {
	var plat orchestrator.StaticPlatform
	var closers []func() error

	if cfg.Native.Audio {
		m, err := platform.NewMalgo(logger)
		if err != nil {
			logger.Warn("audio output unavailable", "error", err)
		} else {
			plat.Contexts = m
			plat.Playback = m
			closers = append(closers, m.Close)
		}
	}
	if cfg.Native.Speech {
		e, err := platform.NewEspeak(platform.EspeakConfig{
			Binary:    cfg.Native.Binary,
			ExtraArgs: cfg.Native.ExtraArgs,
			VoicesDir: cfg.Native.VoicesDir,
		}, logger)
		if err != nil {
			logger.Warn("native speech unavailable", "error", err)
		} else {
			plat.Speech = e
			closers = append(closers, e.Close)
		}
	}

	return plat, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Debug("platform close failed", "error", err)
			}
		}
	}
}

func runServer(ctx context.Context, addr string, api *httpapi.Server, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
