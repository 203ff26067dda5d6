package openaiprovider

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewright/agentcore/internal/modelcat"
)

type fakeChatClient struct {
	resp openai.ChatCompletionResponse
	err  error
	req  openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = request
	return f.resp, f.err
}

func TestNewRejectsMissingClientAndModel(t *testing.T) {
	_, err := New(nil, "gpt-4o")
	assert.Error(t, err)

	_, err = New(&fakeChatClient{}, "  ")
	assert.Error(t, err)
}

func TestNewFromAPIKeyRejectsEmptyKey(t *testing.T) {
	_, err := NewFromAPIKey("", "gpt-4o")
	assert.Error(t, err)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	p, err := New(&fakeChatClient{}, "gpt-4o")
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), modelcat.Request{})
	assert.Error(t, err)
	pe, ok := modelcat.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, modelcat.ErrorInvalidRequest, pe.Kind)
}

func TestCompleteTranslatesResponseText(t *testing.T) {
	client := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hello there"},
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5},
	}}
	p, err := New(client, "gpt-4o")
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), modelcat.Request{
		Messages: []modelcat.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, 10, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	assert.Equal(t, "gpt-4o", client.req.Model)
}

func TestCompleteTranslatesToolCalls(t *testing.T) {
	client := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call-1",
					Function: openai.FunctionCall{Name: "generate_page", Arguments: `{"slug":"home"}`},
				}},
			},
		}},
	}}
	p, err := New(client, "gpt-4o")
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), modelcat.Request{
		Messages: []modelcat.Message{{Role: "user", Content: "make a page"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "generate_page", resp.ToolCalls[0].Name)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
}

func TestClassifyMapsAPIErrorStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   modelcat.ErrorKind
	}{
		{401, modelcat.ErrorAuth},
		{429, modelcat.ErrorRateLimited},
		{400, modelcat.ErrorInvalidRequest},
		{503, modelcat.ErrorUnavailable},
	}
	for _, c := range cases {
		err := classify(&openai.APIError{HTTPStatusCode: c.status, Message: "boom"})
		pe, ok := modelcat.AsProviderError(err)
		require.True(t, ok)
		assert.Equal(t, c.kind, pe.Kind)
	}
}

func TestClassifyFallsBackToUnknownForUnrecognizedError(t *testing.T) {
	err := classify(errors.New("connection reset"))
	pe, ok := modelcat.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, modelcat.ErrorUnknown, pe.Kind)
}
