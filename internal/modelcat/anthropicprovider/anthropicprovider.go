// Package anthropicprovider adapts github.com/anthropics/anthropic-sdk-go
// into modelcat.Provider, the way the teacher's features/model/anthropic
// adapter translates a generic request/response shape onto the Anthropic
// Messages API.
package anthropicprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sitewright/agentcore/internal/modelcat"
)

// MessagesClient is the subset of the Anthropic SDK client this provider
// needs, satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Provider implements modelcat.Provider on top of Claude Messages.
type Provider struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New constructs a Provider bound to modelID, using msg for calls.
func New(msg MessagesClient, modelID string, maxTokens int) (*Provider, error) {
	if msg == nil {
		return nil, errors.New("anthropicprovider: client is required")
	}
	if modelID == "" {
		return nil, errors.New("anthropicprovider: model id is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Provider{msg: msg, model: modelID, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Provider using the default Anthropic HTTP
// client, reading credentials the way sdk.NewClient does from the
// environment.
func NewFromAPIKey(apiKey, modelID string, maxTokens int) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropicprovider: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, modelID, maxTokens)
}

// Complete issues a non-streaming Messages.New request.
func (p *Provider) Complete(ctx context.Context, req modelcat.Request) (modelcat.Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return modelcat.Response{}, modelcat.NewProviderError(modelcat.ErrorInvalidRequest, err)
	}

	msg, err := p.msg.New(ctx, *params)
	if err != nil {
		return modelcat.Response{}, classify(err)
	}
	return translate(msg), nil
}

func (p *Provider) buildParams(req modelcat.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropicprovider: messages are required")
	}

	var system []sdk.TextBlockParam
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case "user":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case "tool":
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropicprovider: at least one user/assistant message is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return &params, nil
}

func encodeTools(defs []modelcat.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("anthropicprovider: tool %q schema: %w", def.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translate(msg *sdk.Message) modelcat.Response {
	var resp modelcat.Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, modelcat.ToolCall{
				ID: block.ID, Name: block.Name, Arguments: block.Input,
			})
		}
	}
	resp.InputTokens = int(msg.Usage.InputTokens)
	resp.OutputTokens = int(msg.Usage.OutputTokens)
	return resp
}

func classify(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return modelcat.NewProviderError(modelcat.ErrorAuth, err)
		case 429:
			return modelcat.NewProviderError(modelcat.ErrorRateLimited, err)
		case 400, 422:
			return modelcat.NewProviderError(modelcat.ErrorInvalidRequest, err)
		case 500, 502, 503, 504:
			return modelcat.NewProviderError(modelcat.ErrorUnavailable, err)
		}
	}
	return modelcat.NewProviderError(modelcat.ErrorUnknown, err)
}
