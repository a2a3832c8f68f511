// Package google implements agenthost.ChatModel against Google's Gemini
// API via the genai SDK.
package google

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/dshills/workflow-core/adapters/agenthost"
)

// ChatModel implements agenthost.ChatModel for Gemini.
type ChatModel struct {
	apiKey    string
	modelName string
	client    client
}

type client interface {
	generateContent(ctx context.Context, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error)
}

// New creates a ChatModel for modelName (the empty string selects a
// current default).
func New(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
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
	return m.client.generateContent(ctx, messages, tools)
}

type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, messages []agenthost.Message, tools []agenthost.ToolSpec) (agenthost.ChatOut, error) {
	if c.apiKey == "" {
		return agenthost.ChatOut{}, errors.New("google: API key is required")
	}

	sdkClient, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey})
	if err != nil {
		return agenthost.ChatOut{}, fmt.Errorf("google: client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case agenthost.RoleSystem:
			cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
		case agenthost.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	if len(tools) > 0 {
		cfg.Tools = convertTools(tools)
	}

	resp, err := sdkClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return agenthost.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return convertResponse(resp), nil
}

func convertTools(tools []agenthost.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertResponse(resp *genai.GenerateContentResponse) agenthost.ChatOut {
	out := agenthost.ChatOut{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, agenthost.ToolCall{
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
		}
	}
	return out
}
