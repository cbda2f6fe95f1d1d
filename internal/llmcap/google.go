package llmcap

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GoogleClient drives Gemini models over google.golang.org/genai.
type GoogleClient struct {
	client *genai.Client
	model  string
}

func NewGoogleClient(ctx context.Context, apiKey, model string) (*GoogleClient, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GoogleClient{client: client, model: model}, nil
}

func (c *GoogleClient) Model() string { return c.model }

func extractSystemInstruction(messages []Message) (string, []Message) {
	var system string
	remaining := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		remaining = append(remaining, m)
	}
	return system, remaining
}

func toGeminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
	}
	return contents
}

func (c *GoogleClient) configFor(system string) *genai.GenerateContentConfig {
	if system == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(system)}},
	}
}

func (c *GoogleClient) Complete(ctx context.Context, messages []Message) (Result, error) {
	system, rest := extractSystemInstruction(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, toGeminiContents(rest), c.configFor(system))
	if err != nil {
		return Result{}, fmt.Errorf("gemini (model: %s) request failed: %w", c.model, err)
	}
	res := Result{Text: resp.Text(), StopReason: StopEndTurn}
	if resp.UsageMetadata != nil {
		res.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return res, nil
}

func (c *GoogleClient) Stream(ctx context.Context, messages []Message, cb StreamCallback) (Result, error) {
	system, rest := extractSystemInstruction(messages)
	var full string
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, toGeminiContents(rest), c.configFor(system)) {
		if err != nil {
			if full != "" {
				return Result{Text: full, StopReason: StopEndTurn}, fmt.Errorf("gemini streaming interrupted: %w", err)
			}
			return Result{}, fmt.Errorf("gemini streaming failed: %w", err)
		}
		chunk := resp.Text()
		if chunk != "" {
			full += chunk
			if cb != nil {
				cb(StreamEvent{Type: StreamText, Text: chunk})
			}
		}
	}
	return Result{Text: full, StopReason: StopEndTurn}, nil
}

func (c *GoogleClient) AnalyzeImage(ctx context.Context, imageBytes []byte, mimeType, prompt string) (Result, error) {
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromBytes(imageBytes, mimeType),
			genai.NewPartFromText(prompt),
		},
	}}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return Result{}, fmt.Errorf("gemini image analysis (model: %s) failed: %w", c.model, err)
	}
	return Result{Text: resp.Text(), StopReason: StopEndTurn}, nil
}

func (c *GoogleClient) ExtractStructured(ctx context.Context, messages []Message, schema json.RawMessage) (map[string]any, error) {
	system, rest := extractSystemInstruction(messages)
	var geminiSchema genai.Schema
	if err := json.Unmarshal(schema, &geminiSchema); err != nil {
		return nil, fmt.Errorf("invalid extraction schema: %w", err)
	}

	config := c.configFor(system)
	if config == nil {
		config = &genai.GenerateContentConfig{}
	}
	config.ResponseMIMEType = "application/json"
	config.ResponseSchema = &geminiSchema

	resp, err := c.client.Models.GenerateContent(ctx, c.model, toGeminiContents(rest), config)
	if err != nil {
		return nil, fmt.Errorf("gemini structured extraction (model: %s) failed: %w", c.model, err)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(resp.Text()), &out); err != nil {
		return nil, fmt.Errorf("failed to decode extracted structure: %w", err)
	}
	return out, nil
}
