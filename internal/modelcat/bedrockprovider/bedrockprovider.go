// Package bedrockprovider adapts the AWS Bedrock Converse API into
// modelcat.Provider, the way the teacher's features/model/bedrock adapter
// encodes messages/tools into Bedrock's ConverseInput and translates
// ConverseOutput back into generic chat completions.
package bedrockprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/sitewright/agentcore/internal/modelcat"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client this
// adapter needs, satisfied by *bedrockruntime.Client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Provider implements modelcat.Provider on top of Bedrock Converse.
type Provider struct {
	runtime   RuntimeClient
	model     string
	maxTokens int
}

// New constructs a Provider bound to modelID (e.g. an Amazon Nova or
// Anthropic-on-Bedrock model ARN).
func New(runtime RuntimeClient, modelID string, maxTokens int) (*Provider, error) {
	if runtime == nil {
		return nil, errors.New("bedrockprovider: runtime client is required")
	}
	if modelID == "" {
		return nil, errors.New("bedrockprovider: model identifier is required")
	}
	return &Provider{runtime: runtime, model: modelID, maxTokens: maxTokens}, nil
}

// Complete issues a Converse request and translates its output.
func (p *Provider) Complete(ctx context.Context, req modelcat.Request) (modelcat.Response, error) {
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return modelcat.Response{}, modelcat.NewProviderError(modelcat.ErrorInvalidRequest, err)
	}

	toolConfig, nameMap, err := encodeTools(req.Tools)
	if err != nil {
		return modelcat.Response{}, modelcat.NewProviderError(modelcat.ErrorInvalidRequest, err)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if cfg := p.inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		return modelcat.Response{}, classify(err)
	}
	return translate(output, nameMap)
}

func (p *Provider) inferenceConfig(req modelcat.Request) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if req.Temperature > 0 {
		cfg.Temperature = aws.Float32(float32(req.Temperature))
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []modelcat.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	conversation := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
		case "user":
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case "assistant":
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case "tool":
			tr := brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: tr}},
			})
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrockprovider: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []modelcat.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := sanitizeToolName(def.Name)
		sanToCanon[sanitized] = def.Name

		var schema map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return nil, nil, fmt.Errorf("bedrockprovider: tool %q schema: %w", def.Name, err)
			}
		} else {
			schema = map[string]any{"type": "object"}
		}

		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&schema)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, sanToCanon, nil
}

// sanitizeToolName maps a tool name onto Bedrock's allowed charset
// ([a-zA-Z0-9_-]+, <=64 chars), matching the teacher's collision-resistant
// truncate-and-hash scheme.
func sanitizeToolName(in string) string {
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	const maxLen = 64
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:8]
	return sanitized[:maxLen-9] + "_" + suffix
}

func translate(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (modelcat.Response, error) {
	if output == nil {
		return modelcat.Response{}, errors.New("bedrockprovider: response is nil")
	}
	var resp modelcat.Response
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Text += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = nameMap[*v.Value.Name]
					if name == "" {
						name = *v.Value.Name
					}
				}
				var id string
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				data, _ := v.Value.Input.MarshalSmithyDocument()
				resp.ToolCalls = append(resp.ToolCalls, modelcat.ToolCall{ID: id, Name: name, Arguments: data})
			}
		}
	}
	if usage := output.Usage; usage != nil {
		if usage.InputTokens != nil {
			resp.InputTokens = int(*usage.InputTokens)
		}
		if usage.OutputTokens != nil {
			resp.OutputTokens = int(*usage.OutputTokens)
		}
	}
	return resp, nil
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return modelcat.NewProviderError(modelcat.ErrorRateLimited, err)
		case "AccessDeniedException", "UnauthorizedException":
			return modelcat.NewProviderError(modelcat.ErrorAuth, err)
		case "ValidationException":
			return modelcat.NewProviderError(modelcat.ErrorInvalidRequest, err)
		case "ServiceUnavailableException", "InternalServerException":
			return modelcat.NewProviderError(modelcat.ErrorUnavailable, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return modelcat.NewProviderError(modelcat.ErrorRateLimited, err)
	}
	return modelcat.NewProviderError(modelcat.ErrorUnknown, err)
}
