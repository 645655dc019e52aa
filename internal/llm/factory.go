package llm

import (
	"fmt"
	"strings"

	"alfred-chat/internal/config"
)

const (
	ProviderOpenAI = "openai"
	ProviderYandex = "yandex"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	OpenaiAPIKey     string
	OpenaiBaseURL    string
	YandexOAuthToken string
	YandexFolderID   string
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		OpenaiAPIKey:     cfg.OpenAIAPIKey,
		OpenaiBaseURL:    cfg.OpenAIBaseURL,
		YandexOAuthToken: cfg.YandexOAuthToken,
		YandexFolderID:   cfg.YandexFolderID,
	}
}

func (f *Factory) CreateClient(provider, model string) (Client, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return NewOpenAI(f.OpenaiAPIKey, f.OpenaiBaseURL, model), nil
	case ProviderYandex:
		return NewYandex(f.YandexOAuthToken, f.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

// Configured reports whether the provider has the credentials it needs.
// Used by the readiness endpoint instead of a nullable client handle.
func (f *Factory) Configured(provider string) bool {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		return f.OpenaiAPIKey != ""
	case ProviderYandex:
		return f.YandexOAuthToken != "" && f.YandexFolderID != ""
	default:
		return false
	}
}
