// Package config loads go-hyperion settings from the environment.
//
// Values come from process environment variables, optionally seeded from a
// .env file. Command-line flags in cmd/ override the loaded values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Default server configuration.
const (
	DefaultPort   = 9999
	DefaultName   = "Hyperion"
	DefaultPrompt = "base"
)

// Config holds every setting the server needs.
type Config struct {
	Name      string `env:"HYPERION_NAME" envDefault:"Hyperion"`
	Port      int    `env:"PORT" envDefault:"9999"`
	Debug     bool   `env:"HYPERION_DEBUG"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// DataDir holds persona histories and the local knowledge store.
	DataDir string `env:"HYPERION_DATA_DIR" envDefault:"./data"`
	// ResourcesDir holds persona prompts, placeholder sentences and the command catalog.
	ResourcesDir string `env:"HYPERION_RESOURCES_DIR" envDefault:"./resources"`

	Prompt   string   `env:"HYPERION_PROMPT" envDefault:"base"`
	Model    string   `env:"HYPERION_MODEL" envDefault:"gpt-4o-mini"`
	Models   []string `env:"HYPERION_MODELS" envSeparator:"," envDefault:"gpt-4o-mini,gpt-4o,claude-sonnet-4-5"`
	NoMemory bool     `env:"HYPERION_NO_MEMORY"`
	Clear    bool     `env:"HYPERION_CLEAR"`

	// MaxContextTokens bounds the chat context sent per request.
	MaxContextTokens int `env:"HYPERION_MAX_CONTEXT_TOKENS" envDefault:"4096"`
	// ConfidenceThreshold drops transcriptions scored below it.
	ConfidenceThreshold float64 `env:"HYPERION_CONFIDENCE_THRESHOLD" envDefault:"0.4"`
	// Workers sizes the chat and side-task pools.
	Workers int `env:"HYPERION_WORKERS" envDefault:"4"`
	// SpeechEngines is the preferred synthesis order.
	SpeechEngines []string `env:"HYPERION_SPEECH_ENGINES" envSeparator:"," envDefault:"openai,polly,google"`
	// ImageBackend selects "openai" or "sdwebui".
	ImageBackend string `env:"HYPERION_IMAGE_BACKEND" envDefault:"openai"`

	OpenAI    OpenAI    `envPrefix:"OPENAI_"`
	Anthropic Anthropic `envPrefix:"ANTHROPIC_"`
	AWS       AWS       `envPrefix:"AWS_"`
	Google    Google    `envPrefix:"GOOGLE_"`
	Weaviate  Weaviate  `envPrefix:"WEAVIATE_"`
	SDWebUI   SDWebUI   `envPrefix:"SDWEBUI_"`
	NTP       NTP       `envPrefix:"NTP_"`
}

// OpenAI configures the OpenAI-compatible chat, vision, embedding,
// transcription, speech and image endpoints.
type OpenAI struct {
	APIKey             string `env:"API_KEY"`
	BaseURL            string `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	ChatModel          string `env:"CHAT_MODEL" envDefault:"gpt-4o-mini"`
	VisionModel        string `env:"VISION_MODEL" envDefault:"gpt-4o-mini"`
	EmbedModel         string `env:"EMBED_MODEL" envDefault:"text-embedding-3-small"`
	TranscriptionModel string `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	TTSModel           string `env:"TTS_MODEL" envDefault:"tts-1"`
	TTSVoice           string `env:"TTS_VOICE" envDefault:"alloy"`
	ImageModel         string `env:"IMAGE_MODEL" envDefault:"dall-e-2"`
}

// Anthropic configures the Claude chat provider.
type Anthropic struct {
	APIKey    string `env:"API_KEY"`
	Model     string `env:"MODEL" envDefault:"claude-sonnet-4-5"`
	MaxTokens int64  `env:"MAX_TOKENS" envDefault:"1024"`
}

// AWS configures the Polly synthesis provider.
type AWS struct {
	Region     string `env:"REGION"`
	PollyVoice string `env:"POLLY_VOICE" envDefault:"Joanna"`
}

// Google configures the Cloud Text-to-Speech provider.
type Google struct {
	APIKey          string `env:"API_KEY"`
	AccessToken     string `env:"ACCESS_TOKEN"`
	CredentialsFile string `env:"APPLICATION_CREDENTIALS"`
	Voice           string `env:"TTS_VOICE" envDefault:"en-US-Neural2-D"`
	LanguageCode    string `env:"TTS_LANGUAGE" envDefault:"en-US"`
}

// Weaviate configures the vector index used by knowledge queries.
type Weaviate struct {
	Host   string `env:"HOST"`
	Scheme string `env:"SCHEME" envDefault:"http"`
	APIKey string `env:"API_KEY"`
	Limit  int    `env:"LIMIT" envDefault:"3"`
}

// SDWebUI configures the Stable Diffusion WebUI image backend.
type SDWebUI struct {
	URL string `env:"URL" envDefault:"http://127.0.0.1:7860"`
}

// NTP configures the shared clock.
type NTP struct {
	Server  string        `env:"SERVER" envDefault:"pool.ntp.org"`
	Retries int           `env:"RETRIES" envDefault:"10"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"2s"`
	Disable bool          `env:"DISABLE"`
}

// Load reads .env files (when present) and parses the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: invalid port %d", c.Port))
	}
	if c.OpenAI.APIKey == "" && c.Anthropic.APIKey == "" {
		errs = append(errs, errors.New("config: OPENAI_API_KEY or ANTHROPIC_API_KEY is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("config: workers must be positive, got %d", c.Workers))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: confidence threshold %.2f out of [0,1]", c.ConfidenceThreshold))
	}
	return errors.Join(errs...)
}

// PromptsDir is where persona prompt files live.
func (c Config) PromptsDir() string {
	return filepath.Join(c.ResourcesDir, "prompts")
}

// SentencesDir is where placeholder sentence files live.
func (c Config) SentencesDir() string {
	return filepath.Join(c.ResourcesDir, "sentences")
}

// CatalogPath is the command catalog file.
func (c Config) CatalogPath() string {
	return filepath.Join(c.ResourcesDir, "commands.yaml")
}

// HistoryDir is where persona histories are persisted.
func (c Config) HistoryDir() string {
	return filepath.Join(c.DataDir, "history")
}

// KnowledgePath is the local knowledge store file.
func (c Config) KnowledgePath() string {
	return filepath.Join(c.DataDir, "knowledge.json")
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
