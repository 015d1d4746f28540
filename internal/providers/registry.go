package providers

import "fmt"

// Credentials selects and configures a backend.
type Credentials struct {
	Backend string // "anthropic" (default) or "openai"
	APIKey  string
	Model   string
	BaseURL string
}

// New constructs the provider selected by creds.Backend. Unknown backends
// are a configuration error, reported at construction rather than first use.
func New(creds Credentials) (Provider, error) {
	switch creds.Backend {
	case "", "anthropic":
		if creds.APIKey == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key")
		}
		return NewAnthropic(creds.APIKey,
			WithAnthropicModel(creds.Model),
			WithAnthropicBaseURL(creds.BaseURL),
		), nil
	case "openai":
		if creds.APIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}
		return NewOpenAI(creds.APIKey,
			WithOpenAIModel(creds.Model),
			WithOpenAIBaseURL(creds.BaseURL),
		), nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", creds.Backend)
	}
}
