package llmcap

import (
	"context"
	"testing"

	"github.com/brainzlab/vision/internal/domain"
)

func TestFactoryResolvesAnthropicModel(t *testing.T) {
	f := NewFactory(func(string) string { return "test-key" })
	cap, err := f.New(context.Background(), "claude-sonnet-4-20250514", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := cap.(*AnthropicClient); !ok {
		t.Fatalf("expected an *AnthropicClient, got %T", cap)
	}
}

func TestFactoryResolvesOpenAIModel(t *testing.T) {
	f := NewFactory(func(string) string { return "test-key" })
	cap, err := f.New(context.Background(), "gpt-4o", "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := cap.(*OpenAIClient); !ok {
		t.Fatalf("expected an *OpenAIClient, got %T", cap)
	}
}

func TestFactoryRejectsUnknownModel(t *testing.T) {
	f := NewFactory(func(string) string { return "" })
	_, err := f.New(context.Background(), "mystery-model-9000", "")
	if err == nil {
		t.Fatalf("expected an error for an unrecognized model")
	}
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected a validation-kind error, got %v", err)
	}
}

func TestFactoryPrefersProjectAPIKeyOverEnv(t *testing.T) {
	calledEnv := false
	f := NewFactory(func(string) string {
		calledEnv = true
		return "env-key"
	})
	cap, err := f.New(context.Background(), "claude-sonnet-4-20250514", "project-key")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if calledEnv {
		t.Fatalf("expected the project API key to be used without consulting the key source")
	}
	client, ok := cap.(*AnthropicClient)
	if !ok {
		t.Fatalf("expected an *AnthropicClient, got %T", cap)
	}
	_ = client
}
