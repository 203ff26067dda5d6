// Package openaiprovider adapts github.com/sashabaranov/go-openai into
// modelcat.Provider, translating modelcat's generic request/response shape
// into OpenAI Chat Completions calls.
package openaiprovider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sitewright/agentcore/internal/modelcat"
)

// ChatClient is the subset of the go-openai client this adapter needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Provider implements modelcat.Provider via OpenAI Chat Completions.
type Provider struct {
	chat  ChatClient
	model string
}

// New builds a Provider bound to modelID, using chat for calls.
func New(chat ChatClient, modelID string) (*Provider, error) {
	if chat == nil {
		return nil, errors.New("openaiprovider: client is required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("openaiprovider: model id is required")
	}
	return &Provider{chat: chat, model: modelID}, nil
}

// NewFromAPIKey constructs a Provider using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openaiprovider: api key is required")
	}
	return New(openai.NewClient(apiKey), modelID)
}

// Complete issues a CreateChatCompletion request.
func (p *Provider) Complete(ctx context.Context, req modelcat.Request) (modelcat.Response, error) {
	if len(req.Messages) == 0 {
		return modelcat.Response{}, modelcat.NewProviderError(modelcat.ErrorInvalidRequest, errors.New("messages are required"))
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
	}

	tools, err := encodeTools(req.Tools)
	if err != nil {
		return modelcat.Response{}, modelcat.NewProviderError(modelcat.ErrorInvalidRequest, err)
	}

	request := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	}

	resp, err := p.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return modelcat.Response{}, classify(err)
	}
	return translate(resp), nil
}

func encodeTools(defs []modelcat.ToolDefinition) ([]openai.Tool, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.Parameters),
			},
		})
	}
	return tools, nil
}

func translate(resp openai.ChatCompletionResponse) modelcat.Response {
	var out modelcat.Response
	for _, choice := range resp.Choices {
		msg := choice.Message
		if strings.TrimSpace(msg.Content) != "" {
			out.Text += msg.Content
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, modelcat.ToolCall{
				ID: call.ID, Name: call.Function.Name, Arguments: []byte(call.Function.Arguments),
			})
		}
	}
	out.InputTokens = resp.Usage.PromptTokens
	out.OutputTokens = resp.Usage.CompletionTokens
	return out
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
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
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return modelcat.NewProviderError(modelcat.ErrorUnavailable, err)
	}
	return modelcat.NewProviderError(modelcat.ErrorUnknown, err)
}
