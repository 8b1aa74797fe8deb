// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API with function/tool calling. It adapts the normalized
// Request/Response structures into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey overrides OPENAI_API_KEY.
	APIKey string
	// BaseURL points the client at an OpenAI compatible endpoint.
	BaseURL string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client. Without
// Options.APIKey the key is read from OPENAI_API_KEY by the SDK.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// Generate sends one chat completion request and converts the first choice.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req, messages))
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	return convertChoice(resp.ID, resp.Choices[0], resp.Usage)
}

// buildMessages converts normalized contents into OpenAI chat messages.
// Function responses carried in user contents become tool messages.
func buildMessages(req *model.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}

	for _, c := range req.Contents {
		switch c.Role {
		case core.RoleModel:
			toolCalls, err := extractToolCalls(c)
			if err != nil {
				return nil, err
			}

			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(c.Text()))
				continue
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls},
			})
		default:
			for _, p := range c.Parts {
				fr, ok := p.(core.FunctionResponsePart)
				if !ok {
					continue
				}

				payload, err := responsePayload(fr.FunctionResponse)
				if err != nil {
					return nil, err
				}

				messages = append(messages, openai.ToolMessage(payload, fr.FunctionResponse.ID))
			}

			if text := c.Text(); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}

	return messages, nil
}

func responsePayload(fr core.FunctionResponse) (string, error) {
	if fr.Error != "" {
		return fmt.Sprintf(`{"error":%q}`, fr.Error), nil
	}

	if s, ok := fr.Response.(string); ok {
		return s, nil
	}

	b, err := json.Marshal(fr.Response)
	if err != nil {
		return "", fmt.Errorf("openai: encode function response %s: %w", fr.Name, err)
	}

	return string(b), nil
}

// extractToolCalls converts function call parts into OpenAI tool calls.
func extractToolCalls(c core.Content) ([]openai.ChatCompletionMessageToolCallParam, error) {
	var toolCalls []openai.ChatCompletionMessageToolCallParam

	for _, p := range c.Parts {
		fc, ok := p.(core.FunctionCallPart)
		if !ok {
			continue
		}

		args, err := json.Marshal(fc.FunctionCall.Args)
		if err != nil {
			return nil, fmt.Errorf("openai: encode arguments of %s: %w", fc.FunctionCall.Name, err)
		}

		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: fc.FunctionCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      fc.FunctionCall.Name,
				Arguments: string(args),
			},
		})
	}

	return toolCalls, nil
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req *model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if len(req.OutputSchema) > 0 {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "output",
					Schema: req.OutputSchema,
				},
			},
		}
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}

	params.Tools = tools

	return params
}

func convertChoice(id string, ch openai.ChatCompletionChoice, usage openai.CompletionUsage) (*model.Response, error) {
	parts := make([]core.Part, 0, len(ch.Message.ToolCalls)+1)

	if ch.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch.Message.Content})
	}

	for _, tc := range ch.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai: decode arguments of %s: %w", tc.Function.Name, err)
			}
		}

		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}})
	}

	resp := &model.Response{
		ID:           id,
		Content:      &core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: ch.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(usage.PromptTokens),
			CompletionTokens: int(usage.CompletionTokens),
			TotalTokens:      int(usage.TotalTokens),
		},
	}

	if ch.Message.Refusal != "" {
		resp.ErrorCode = "REFUSAL"
		resp.ErrorMessage = ch.Message.Refusal
	}

	if ch.FinishReason == "content_filter" {
		resp.ErrorCode = "CONTENT_FILTER"
		resp.ErrorMessage = "response blocked by content filter"
	}

	return resp, nil
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
