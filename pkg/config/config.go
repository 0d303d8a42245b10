// Package config loads the lokutor-speech configuration from an optional
// .env file, an optional YAML file, environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lokutor-ai/lokutor-speech/pkg/orchestrator"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Speech  SpeechConfig  `mapstructure:"speech"`
	Neural  NeuralConfig  `mapstructure:"neural"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Native  NativeConfig  `mapstructure:"native"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SpeechConfig tunes the cascade itself.
type SpeechConfig struct {
	NeuralLanguages   []string          `mapstructure:"neural_languages"`
	DefaultLanguage   string            `mapstructure:"default_language"`
	RegionalFallbacks []string          `mapstructure:"regional_fallbacks"`
	LanguageTags      map[string]string `mapstructure:"language_tags"` // short code -> region tag, merged over the built-in table
	Rate              float64           `mapstructure:"rate"`
	Pitch             float64           `mapstructure:"pitch"`
	SilentFrameRate   int               `mapstructure:"silent_frame_rate"`
}

// NeuralConfig selects the in-process synthesis engine.
type NeuralConfig struct {
	Engine        string            `mapstructure:"engine"`         // "piper", "exec" or "none"
	Models        map[string]string `mapstructure:"models"`         // short code -> model id override
	Warm          []string          `mapstructure:"warm"`           // languages to load at startup
	TrimThreshold float64           `mapstructure:"trim_threshold"` // RMS below which edge frames are cut; 0 disables
	Piper         PiperConfig       `mapstructure:"piper"`
	Exec          ExecConfig        `mapstructure:"exec"`
}

type PiperConfig struct {
	Endpoint string            `mapstructure:"endpoint"`
	Voices   map[string]string `mapstructure:"voices"` // model id -> Piper voice name
}

type ExecConfig struct {
	Command string `mapstructure:"command"`
}

// RemoteConfig selects the remote TTS service.
type RemoteConfig struct {
	Provider string        `mapstructure:"provider"` // "backend", "lokutor" or "none"
	Backend  BackendConfig `mapstructure:"backend"`
	Lokutor  LokutorConfig `mapstructure:"lokutor"`
}

type BackendConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type LokutorConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Voice      string `mapstructure:"voice"`
	SampleRate int    `mapstructure:"sample_rate"`
}

// NativeConfig controls the platform audio and speech backends.
type NativeConfig struct {
	Audio     bool   `mapstructure:"audio"`
	Speech    bool   `mapstructure:"speech"`
	Binary    string `mapstructure:"binary"`
	ExtraArgs string `mapstructure:"extra_args"`
	VoicesDir string `mapstructure:"voices_dir"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration. A .env file in the working directory is
// loaded first when present. If configFile is non-empty it is used
// directly; otherwise ./speech.yaml, ./configs/speech.yaml and
// /etc/lokutor-speech/speech.yaml are searched.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("speech")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/lokutor-speech")
	}

	// SPEECH_REMOTE_PROVIDER, SPEECH_NEURAL_PIPER_ENDPOINT, ...
	v.SetEnvPrefix("SPEECH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Debug("no config file found, using defaults and environment variables")
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Remote.Backend.Token = resolveEnvRef(cfg.Remote.Backend.Token)
	cfg.Remote.Lokutor.APIKey = resolveEnvRef(cfg.Remote.Lokutor.APIKey)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := orchestrator.DefaultConfig()
	v.SetDefault("speech.neural_languages", def.NeuralLanguages)
	v.SetDefault("speech.default_language", def.DefaultLanguage)
	v.SetDefault("speech.regional_fallbacks", def.RegionalFallbacks)
	v.SetDefault("speech.rate", def.Rate)
	v.SetDefault("speech.pitch", def.Pitch)
	v.SetDefault("speech.silent_frame_rate", def.SilentFrameRate)

	v.SetDefault("neural.engine", "piper")
	v.SetDefault("neural.piper.endpoint", "localhost:10200")
	v.SetDefault("neural.exec.command", "")
	v.SetDefault("neural.trim_threshold", 0.0)

	v.SetDefault("remote.provider", "backend")
	v.SetDefault("remote.backend.url", "https://language-translator-backend-production.up.railway.app")
	v.SetDefault("remote.backend.token", "${SPEECH_API_TOKEN}")
	v.SetDefault("remote.lokutor.api_key", "${LOKUTOR_API_KEY}")
	v.SetDefault("remote.lokutor.voice", "F1")
	v.SetDefault("remote.lokutor.sample_rate", 44100)

	v.SetDefault("native.audio", true)
	v.SetDefault("native.speech", true)
	v.SetDefault("native.binary", "")
	v.SetDefault("native.extra_args", "")
	v.SetDefault("native.voices_dir", "/usr/share/espeak-ng-data/voices")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Orchestrator converts the speech section into an orchestrator.Config.
func (c *Config) Orchestrator() orchestrator.Config {
	out := orchestrator.DefaultConfig()
	if len(c.Speech.NeuralLanguages) > 0 {
		out.NeuralLanguages = c.Speech.NeuralLanguages
	}
	if c.Speech.DefaultLanguage != "" {
		out.DefaultLanguage = c.Speech.DefaultLanguage
	}
	if len(c.Speech.RegionalFallbacks) > 0 {
		out.RegionalFallbacks = c.Speech.RegionalFallbacks
	}
	for code, tag := range c.Speech.LanguageTags {
		out.LanguageTags[strings.ToLower(code)] = tag
	}
	if c.Speech.Rate > 0 {
		out.Rate = c.Speech.Rate
	}
	if c.Speech.Pitch > 0 {
		out.Pitch = c.Speech.Pitch
	}
	if c.Speech.SilentFrameRate > 0 {
		out.SilentFrameRate = c.Speech.SilentFrameRate
	}
	return out
}

// resolveEnvRef replaces "${VAR_NAME}" with the environment value. An
// unset variable resolves to the empty string.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

// SetupLogging installs and returns a slog logger writing to stderr.
func SetupLogging(cfg LoggingConfig) *slog.Logger {
	logger := NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
