package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speech.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Neural.Engine != "piper" || cfg.Neural.Piper.Endpoint != "localhost:10200" {
		t.Errorf("unexpected neural defaults %+v", cfg.Neural)
	}
	if cfg.Remote.Provider != "backend" || cfg.Remote.Lokutor.SampleRate != 44100 {
		t.Errorf("unexpected remote defaults %+v", cfg.Remote)
	}
	if cfg.Server.Addr != ":8080" || cfg.Logging.Level != "info" {
		t.Errorf("unexpected server/logging defaults %+v %+v", cfg.Server, cfg.Logging)
	}

	oc := cfg.Orchestrator()
	if !reflect.DeepEqual(oc.NeuralLanguages, []string{"yo"}) || oc.DefaultLanguage != "en" {
		t.Errorf("unexpected orchestrator config %+v", oc)
	}
	if oc.Rate != 0.95 || oc.Pitch != 1.0 || oc.SilentFrameRate != 22050 {
		t.Errorf("unexpected prosody %v %v %d", oc.Rate, oc.Pitch, oc.SilentFrameRate)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
speech:
  neural_languages: [yo, ig]
  regional_fallbacks: [en-GB]
  language_tags:
    pt: pt-BR
  rate: 1.1
neural:
  engine: exec
  exec:
    command: "python3 synth.py --quiet"
  models:
    yo: custom-yor
  trim_threshold: 0.02
remote:
  provider: lokutor
  lokutor:
    voice: M2
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Neural.Engine != "exec" || cfg.Neural.Exec.Command != "python3 synth.py --quiet" {
		t.Errorf("unexpected neural config %+v", cfg.Neural)
	}
	if cfg.Neural.TrimThreshold != 0.02 {
		t.Errorf("expected trim threshold 0.02, got %v", cfg.Neural.TrimThreshold)
	}
	if cfg.Neural.Models["yo"] != "custom-yor" {
		t.Errorf("expected model override, got %v", cfg.Neural.Models)
	}
	if cfg.Remote.Provider != "lokutor" || cfg.Remote.Lokutor.Voice != "M2" {
		t.Errorf("unexpected remote config %+v", cfg.Remote)
	}

	oc := cfg.Orchestrator()
	if !reflect.DeepEqual(oc.NeuralLanguages, []string{"yo", "ig"}) {
		t.Errorf("unexpected neural languages %v", oc.NeuralLanguages)
	}
	if oc.LanguageTags["pt"] != "pt-BR" || oc.LanguageTags["yo"] != "yo-NG" {
		t.Errorf("expected tags merged over defaults, got %v", oc.LanguageTags)
	}
	if oc.Rate != 1.1 {
		t.Errorf("expected rate 1.1, got %v", oc.Rate)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SPEECH_REMOTE_PROVIDER", "none")
	t.Setenv("SPEECH_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("SPEECH_SPEECH_NEURAL_LANGUAGES", "yo,ha")

	cfg, err := Load(writeConfig(t, "remote:\n  provider: lokutor\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.Provider != "none" {
		t.Errorf("expected env to override file, got %s", cfg.Remote.Provider)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("unexpected addr %s", cfg.Server.Addr)
	}
	if !reflect.DeepEqual(cfg.Orchestrator().NeuralLanguages, []string{"yo", "ha"}) {
		t.Errorf("unexpected neural languages %v", cfg.Speech.NeuralLanguages)
	}
}

func TestLoadResolvesSecrets(t *testing.T) {
	t.Setenv("SPEECH_API_TOKEN", "tok-123")
	t.Setenv("MY_LOKUTOR_KEY", "lk-456")

	cfg, err := Load(writeConfig(t, "remote:\n  lokutor:\n    api_key: ${MY_LOKUTOR_KEY}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.Backend.Token != "tok-123" {
		t.Errorf("expected default token reference resolved, got %q", cfg.Remote.Backend.Token)
	}
	if cfg.Remote.Lokutor.APIKey != "lk-456" {
		t.Errorf("expected api key resolved, got %q", cfg.Remote.Lokutor.APIKey)
	}
}

func TestLoadBadFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "speech: [unterminated\n")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("SET_VAR", "value")
	tests := map[string]string{
		"${SET_VAR}":   "value",
		"${UNSET_VAR}": "",
		"plain":        "plain",
		"${partial":    "${partial",
	}
	for in, want := range tests {
		if got := resolveEnvRef(in); got != want {
			t.Errorf("resolveEnvRef(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "stage", "remote")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info suppressed at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"stage":"remote"`) {
		t.Errorf("unexpected json output %q", out)
	}

	buf.Reset()
	NewLogger(LoggingConfig{Level: "debug"}, &buf).Debug("text line")
	if !strings.Contains(buf.String(), "msg=\"text line\"") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}
