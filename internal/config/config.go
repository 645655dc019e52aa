package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	SecretKey  string `env:"SECRET_KEY,required"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	DevMode    bool   `env:"DEV_MODE" envDefault:"false"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// Speech settings
	TranscribeModel string `env:"TRANSCRIBE_MODEL" envDefault:"whisper-1"`
	SpeechModel     string `env:"SPEECH_MODEL" envDefault:"tts-1"`
	SpeechVoice     string `env:"SPEECH_VOICE" envDefault:"nova"`

	// User directory
	AllowedUsernames []string `env:"ALLOWED_USERNAMES" envSeparator:":"`
	AdminUsernames   []string `env:"ADMIN_USERNAMES" envSeparator:":"`

	// Storage
	DBPath        string `env:"DB_PATH" envDefault:"data/alfred.db"`
	EventsLogPath string `env:"EVENTS_LOG_PATH" envDefault:"logs/events.jsonl"`

	// Conversation shaping
	ContextWindow   int `env:"CONTEXT_WINDOW" envDefault:"10"`
	DeleteBatchSize int `env:"DELETE_BATCH_SIZE" envDefault:"50"`
}

func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderYandex:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLMProvider)
	}
	if c.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be > 0")
	}
	if c.DeleteBatchSize <= 0 {
		return fmt.Errorf("DELETE_BATCH_SIZE must be > 0")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	return nil
}
