package llmcap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient drives Claude models over the official SDK.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &c, model: model}
}

func (c *AnthropicClient) Model() string { return c.model }

func toAnthropicMessages(messages []Message) (system string, turns []anthropic.MessageParam) {
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, turns
}

func resultFromAnthropic(msg *anthropic.Message) Result {
	res := Result{
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	switch msg.StopReason {
	case anthropic.StopReasonMaxTokens:
		res.StopReason = StopMaxTokens
	case anthropic.StopReasonToolUse:
		res.StopReason = StopToolUse
	default:
		res.StopReason = StopEndTurn
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			res.Text += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			res.ToolCalls = append(res.ToolCalls, ToolCall{Name: b.Name, Arguments: args})
		}
	}
	return res
}

func (c *AnthropicClient) Complete(ctx context.Context, messages []Message) (Result, error) {
	system, turns := toAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("anthropic (model: %s) request failed: %w", c.model, err)
	}
	return resultFromAnthropic(msg), nil
}

func (c *AnthropicClient) Stream(ctx context.Context, messages []Message, cb StreamCallback) (Result, error) {
	system, turns := toAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	accum := anthropic.Message{}
	var fullText string
	for stream.Next() {
		event := stream.Current()
		if err := accum.Accumulate(event); err != nil {
			return Result{}, fmt.Errorf("anthropic streaming accumulate failed: %w", err)
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && cb != nil {
				fullText += textDelta.Text
				cb(StreamEvent{Type: StreamText, Text: textDelta.Text})
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Result{}, fmt.Errorf("anthropic streaming failed: %w", err)
	}
	res := resultFromAnthropic(&accum)
	if res.Text == "" {
		res.Text = fullText
	}
	return res, nil
}

func (c *AnthropicClient) AnalyzeImage(ctx context.Context, imageBytes []byte, mimeType, prompt string) (Result, error) {
	encoded := base64.StdEncoding.EncodeToString(imageBytes)
	imageBlock := anthropic.NewImageBlockBase64(mimeType, encoded)
	textBlock := anthropic.NewTextBlock(prompt)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(imageBlock, textBlock),
		},
	}
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("anthropic image analysis (model: %s) failed: %w", c.model, err)
	}
	return resultFromAnthropic(msg), nil
}

func (c *AnthropicClient) ExtractStructured(ctx context.Context, messages []Message, schema json.RawMessage) (map[string]any, error) {
	system, turns := toAnthropicMessages(messages)
	var schemaMap map[string]any
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil, fmt.Errorf("invalid extraction schema: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages:  turns,
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        "extract",
					Description: anthropic.String("Extract the requested structured data."),
					InputSchema: anthropic.ToolInputSchemaParam{
						Properties: schemaMap["properties"],
					},
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: "extract"},
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic structured extraction (model: %s) failed: %w", c.model, err)
	}
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.ToolUseBlock); ok && b.Name == "extract" {
			var out map[string]any
			if err := json.Unmarshal(b.Input, &out); err != nil {
				return nil, fmt.Errorf("failed to decode extracted structure: %w", err)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("model did not return a structured extraction")
}
