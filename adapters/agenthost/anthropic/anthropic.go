// Package anthropic implements agenthost.ChatModel against Anthropic's
// Claude API.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/workflow-core/adapters/agenthost"
)

// ChatModel implements agenthost.ChatModel for Claude.
type ChatModel struct {
	apiKey    string
	modelName string
	client    client
}

// client is the seam mocked in tests instead of the SDK client directly.
type client interface {
	createMessage(ctx context.Context, systemPrompt string, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error)
}

// New creates a ChatModel for modelName (the empty string selects a
// current default).
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

// Chat implements agenthost.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error) {
	if ctx.Err() != nil {
		return agenthost.ChatOut{}, ctx.Err()
	}
	systemPrompt, rest := extractSystemPrompt(messages)
	return m.client.createMessage(ctx, systemPrompt, rest, tools)
}

// extractSystemPrompt pulls system messages out of the conversation,
// since Claude takes the system prompt as a separate request field rather
// than as a message with role "system".
func extractSystemPrompt(messages []agenthost.Message) (string, []agenthost.Message) {
	var system string
	var rest []agenthost.Message
	for _, msg := range messages {
		if msg.Role == agenthost.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error) {
	if c.apiKey == "" {
		return agenthost.ChatOut{}, errors.New("anthropic: API key is required")
	}

	sdkClient := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := sdkClient.Messages.New(ctx, params)
	if err != nil {
		return agenthost.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []agenthost.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case agenthost.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

func convertTools(tools []agenthost.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		var properties any
		var required []string
		if t.Schema != nil {
			if props, ok := t.Schema["properties"]; ok {
				properties = props
			}
			if req, ok := t.Schema["required"].([]string); ok {
				required = req
			}
		}
		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message) agenthost.ChatOut {
	out := agenthost.ChatOut{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, agenthost.ToolCall{
				Name:  b.Name,
				Input: toolInput(b.Input),
			})
		}
	}
	return out
}

func toolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}
