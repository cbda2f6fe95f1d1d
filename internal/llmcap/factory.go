package llmcap

import (
	"context"
	"os"
	"strings"

	"github.com/brainzlab/vision/internal/domain"
)

// KeySource resolves a provider's API key, preferring a project-level
// override (from project settings) over the process environment.
type KeySource func(envVar string) string

// EnvKeySource reads straight from the process environment.
func EnvKeySource(envVar string) string { return os.Getenv(envVar) }

// Factory maps a logical model name to the Capability variant that serves
// it, per §4.H.
type Factory struct {
	keys KeySource
}

func NewFactory(keys KeySource) *Factory {
	if keys == nil {
		keys = EnvKeySource
	}
	return &Factory{keys: keys}
}

// New resolves model to a concrete Capability, using projectAPIKey as an
// override when non-empty. Unknown model names return a domain.KindValidation
// error tagged as UnknownModel in its message.
func (f *Factory) New(ctx context.Context, model, projectAPIKey string) (Capability, error) {
	switch {
	case strings.HasPrefix(model, "claude-"):
		key := projectAPIKey
		if key == "" {
			key = f.keys("ANTHROPIC_API_KEY")
		}
		return NewAnthropicClient(key, model), nil
	case strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		key := projectAPIKey
		if key == "" {
			key = f.keys("OPENAI_API_KEY")
		}
		return NewOpenAIClient(key, model), nil
	case strings.HasPrefix(model, "gemini-"):
		key := projectAPIKey
		if key == "" {
			key = f.keys("GOOGLE_API_KEY")
		}
		return NewGoogleClient(ctx, key, model)
	default:
		return nil, domain.NewValidationError("UnknownModel: no provider registered for model "+model, nil)
	}
}
