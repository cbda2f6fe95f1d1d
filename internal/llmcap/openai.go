package llmcap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient drives GPT models over the community go-openai SDK.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}
}

func (c *OpenAIClient) Model() string { return c.model }

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func resultFromOpenAI(resp openai.ChatCompletionResponse) Result {
	res := Result{
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) == 0 {
		res.StopReason = StopError
		return res
	}
	choice := resp.Choices[0]
	res.Text = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		res.ToolCalls = append(res.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: args})
	}
	switch choice.FinishReason {
	case openai.FinishReasonLength:
		res.StopReason = StopMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		res.StopReason = StopToolUse
	default:
		res.StopReason = StopEndTurn
	}
	return res
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (Result, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai (model: %s) request failed: %w", c.model, err)
	}
	return resultFromOpenAI(resp), nil
}

func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, cb StreamCallback) (Result, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai streaming (model: %s) failed: %w", c.model, err)
	}
	defer stream.Close()

	var full string
	var stop StopReason = StopEndTurn
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{Text: full, StopReason: stop}, fmt.Errorf("openai stream recv failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta != "" {
			full += delta
			if cb != nil {
				cb(StreamEvent{Type: StreamText, Text: delta})
			}
		}
		if chunk.Choices[0].FinishReason == openai.FinishReasonLength {
			stop = StopMaxTokens
		}
	}
	return Result{Text: full, StopReason: stop}, nil
}

func (c *OpenAIClient) AnalyzeImage(ctx context.Context, imageBytes []byte, mimeType, prompt string) (Result, error) {
	encoded := base64.StdEncoding.EncodeToString(imageBytes)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, encoded)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai image analysis (model: %s) failed: %w", c.model, err)
	}
	return resultFromOpenAI(resp), nil
}

func (c *OpenAIClient) ExtractStructured(ctx context.Context, messages []Message, schema json.RawMessage) (map[string]any, error) {
	var schemaMap map[string]any
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil, fmt.Errorf("invalid extraction schema: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "extraction",
				Schema: jsonSchemaDefinition(schemaMap),
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai structured extraction (model: %s) failed: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices for structured extraction")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("failed to decode extracted structure: %w", err)
	}
	return out, nil
}

// jsonSchemaDefinition adapts a parsed JSON schema into go-openai's marshaler
// interface for the response_format field.
type jsonSchemaDefinition map[string]any

func (d jsonSchemaDefinition) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(d))
}
