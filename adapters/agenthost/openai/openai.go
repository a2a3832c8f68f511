// Package openai implements agenthost.ChatModel against OpenAI's chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/workflow-core/adapters/agenthost"
)

// ChatModel implements agenthost.ChatModel for OpenAI, retrying transient
// failures the way OpenAI's own client recommends.
type ChatModel struct {
	apiKey     string
	modelName  string
	client     client
	maxRetries int
	retryDelay time.Duration
}

type client interface {
	createChatCompletion(ctx context.Context, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error)
}

// New creates a ChatModel for modelName (the empty string selects a
// current default).
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		client:     &defaultClient{apiKey: apiKey, modelName: modelName},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements agenthost.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error) {
	if ctx.Err() != nil {
		return agenthost.ChatOut{}, ctx.Err()
	}

	var lastErr error
	attempt := 0
	for ; attempt <= m.maxRetries; attempt++ {
		out, err := m.client.createChatCompletion(ctx, messages, tools)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isTransient(err) || attempt >= m.maxRetries {
			break
		}
		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return agenthost.ChatOut{}, ctx.Err()
		}
	}
	return agenthost.ChatOut{}, fmt.Errorf("openai: failed after %d retries: %w", attempt, lastErr)
}

// isTransient matches the same surface-level error patterns the teacher's
// adapter retried on (no structured error type from the SDK to switch on).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "network", "connection", "temporary", "rate limit", "503", "502", "500"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createChatCompletion(ctx context.Context, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error) {
	if c.apiKey == "" {
		return agenthost.ChatOut{}, errors.New("openai: API key is required")
	}

	sdkClient := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := sdkClient.Chat.Completions.New(ctx, params)
	if err != nil {
		return agenthost.ChatOut{}, fmt.Errorf("openai: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []agenthost.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case agenthost.RoleSystem:
			result[i] = openaisdk.SystemMessage(msg.Content)
		case agenthost.RoleAssistant:
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}

func convertTools(tools []agenthost.ToolSpec) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		result[i] = openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Schema),
			},
		}
	}
	return result
}

func convertResponse(resp *openaisdk.ChatCompletion) agenthost.ChatOut {
	out := agenthost.ChatOut{}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agenthost.ToolCall{
			Name:  call.Function.Name,
			Input: parseArguments(call.Function.Arguments),
		})
	}
	return out
}

// parseArguments decodes a tool call's JSON-encoded arguments string. A
// malformed payload (a provider bug, not something a well-formed tool
// call should ever produce) is surfaced as the raw string rather than
// silently dropped.
func parseArguments(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]interface{}{"_raw": raw}
	}
	return m
}
