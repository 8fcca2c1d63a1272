// Package config provides the configuration structure for the speech worker.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Storage backends for synthesized audio.
const (
	BackendNone = "none"
	BackendNATS = "nats"
	BackendS3   = "s3"
)

// Speech recognition backends.
const (
	RecognizerWhisperCPP = "whispercpp"
	RecognizerOpenAI     = "openai"
)

var (
	// ErrUnknownBackend is returned for an unsupported [storage] backend.
	ErrUnknownBackend = errors.New("unknown storage backend")
	// ErrUnknownRecognizer is returned for an unsupported [models] stt_backend.
	ErrUnknownRecognizer = errors.New("unknown stt backend")
	// ErrInvalidConfig is returned when a required value is missing or out of
	// range.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ModelsConfig locates speech recognition weights.
type ModelsConfig struct {
	STTBackend     string `toml:"stt_backend"`
	WhisperDir     string `toml:"whisper_dir"`
	WhisperThreads int    `toml:"whisper_threads"`
	AutoDownload   bool   `toml:"auto_download"`
}

// OpenAIConfig points at an OpenAI-compatible transcription endpoint used
// when stt_backend is "openai".
type OpenAIConfig struct {
	BaseURL string `toml:"base_url"`
	// APIKeyEnv names the environment variable holding the key so the key
	// itself never sits in the project file.
	APIKeyEnv string `toml:"api_key_env"`
	Model     string `toml:"model"`
}

// InferenceConfig points at the model-serving sidecar used for synthesis.
type InferenceConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SpeakersConfig selects the speaker embedding dataset.
type SpeakersConfig struct {
	Endpoint string `toml:"endpoint"`
	Dataset  string `toml:"dataset"`
	Split    string `toml:"split"`
}

// StorageConfig selects where synthesized audio is published.
type StorageConfig struct {
	Backend string `toml:"backend"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// S3Config holds the configuration for the S3 backend.
type S3Config struct {
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
	Region string `toml:"region"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Models    ModelsConfig    `toml:"models"`
	OpenAI    OpenAIConfig    `toml:"openai"`
	Inference InferenceConfig `toml:"inference"`
	Speakers  SpeakersConfig  `toml:"speakers"`
	Storage   StorageConfig   `toml:"storage"`
	NATS      NATSConfig      `toml:"nats"`
	S3        S3Config        `toml:"s3"`
	Paths     PathsConfig     `toml:"paths"`
}

// Default returns a configuration that works on a single host with a local
// sidecar and no artifact publishing.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			STTBackend:     RecognizerWhisperCPP,
			WhisperDir:     "",
			WhisperThreads: 0,
			AutoDownload:   true,
		},
		OpenAI: OpenAIConfig{
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: "OPENAI_API_KEY",
			Model:     "",
		},
		Inference: InferenceConfig{
			URL:            "http://127.0.0.1:8700",
			TimeoutSeconds: 300,
		},
		Speakers: SpeakersConfig{
			Endpoint: "https://datasets-server.huggingface.co",
			Dataset:  "Matthijs/cmu-arctic-xvectors",
			Split:    "validation",
		},
		Storage: StorageConfig{Backend: BackendNone},
		NATS: NATSConfig{
			URL:                      "nats://127.0.0.1:4222",
			AudioChunkCreatedSubject: "audio.chunk.created",
			AudioObjectStoreBucket:   "AUDIO_FILES",
		},
		S3: S3Config{
			Bucket: "",
			Prefix: "speech",
			Region: "us-east-1",
		},
		Paths: PathsConfig{BaseLogsDir: "logs"},
	}
}

// Load overlays the project configuration found by the configurator on top of
// Default.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse overlays a TOML document on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values the worker cannot start without.
func (c *Config) Validate() error {
	if c.Inference.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: inference.timeout_seconds must be positive", ErrInvalidConfig)
	}

	switch c.Models.STTBackend {
	case "", RecognizerWhisperCPP:
	case RecognizerOpenAI:
		if c.OpenAI.BaseURL == "" {
			return fmt.Errorf("%w: openai.base_url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRecognizer, c.Models.STTBackend)
	}

	switch c.Storage.Backend {
	case "", BackendNone:
		return nil
	case BackendNATS:
		if c.NATS.URL == "" || c.NATS.AudioObjectStoreBucket == "" {
			return fmt.Errorf("%w: nats.url and nats.audio_object_store_bucket are required", ErrInvalidConfig)
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.bucket is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Storage.Backend)
	}

	return nil
}

// InferenceTimeout is the per-request timeout for the sidecar.
func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.Inference.TimeoutSeconds) * time.Second
}
