// Package anthropic provides a model.Model backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

// Generate sends one Messages API request.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	messages, err := buildMessages(req.Contents)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    messages,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	system, err := systemPrompt(req)
	if err != nil {
		return nil, err
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var parts []core.Part

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text := block.AsText().Text; text != "" {
				parts = append(parts, core.TextPart{Text: text})
			}
		case "tool_use":
			toolBlock := block.AsToolUse()

			args := map[string]any{}
			if len(toolBlock.Input) > 0 {
				if err := json.Unmarshal(toolBlock.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: decode input of %s: %w", toolBlock.Name, err)
				}
			}

			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:   toolBlock.ID,
				Name: toolBlock.Name,
				Args: args,
			}})
		}
	}

	out := &model.Response{
		ID:           resp.ID,
		Content:      &core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: "stop",
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}

	if resp.StopReason != "" {
		out.FinishReason = string(resp.StopReason)
	}

	if out.FinishReason == "refusal" {
		out.ErrorCode = "REFUSAL"
		out.ErrorMessage = "model refused to answer"
	}

	return out, nil
}

// systemPrompt folds the output schema into the system instruction; the
// Messages API has no native structured output switch.
func systemPrompt(req *model.Request) (string, error) {
	if len(req.OutputSchema) == 0 {
		return req.SystemInstruction, nil
	}

	schema, err := json.Marshal(req.OutputSchema)
	if err != nil {
		return "", fmt.Errorf("anthropic: encode output schema: %w", err)
	}

	prompt := req.SystemInstruction
	if prompt != "" {
		prompt += "\n\n"
	}

	return prompt + "Reply with a single JSON value matching this JSON Schema and nothing else:\n" + string(schema), nil
}

// buildMessages converts contents to Anthropic messages. Function responses
// are sent back as tool_result blocks inside a user message.
func buildMessages(contents []core.Content) ([]anthropic.MessageParam, error) {
	var messages []anthropic.MessageParam

	for _, c := range contents {
		var blocks []anthropic.ContentBlockParamUnion

		for _, p := range c.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case core.FunctionCallPart:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, part.FunctionCall.Args, part.FunctionCall.Name))
			case core.FunctionResponsePart:
				fr := part.FunctionResponse

				payload, err := resultText(fr)
				if err != nil {
					return nil, err
				}

				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, payload, fr.Error != ""))
			}
		}

		if len(blocks) == 0 {
			continue
		}

		if c.Role == core.RoleModel {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	return messages, nil
}

func resultText(fr core.FunctionResponse) (string, error) {
	if fr.Error != "" {
		return fr.Error, nil
	}

	if s, ok := fr.Response.(string); ok {
		return s, nil
	}

	b, err := json.Marshal(fr.Response)
	if err != nil {
		return "", fmt.Errorf("anthropic: encode result of %s: %w", fr.Name, err)
	}

	return string(b), nil
}

// buildTools converts tool definitions to Anthropic tool params.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if properties, ok := tool.Parameters["properties"]; ok {
			inputSchema.Properties = properties
		}

		inputSchema.Required = requiredFields(tool.Parameters["required"])

		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
		if out[i].OfTool != nil && tool.Description != "" {
			out[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}

	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
