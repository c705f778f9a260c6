// Package openai adapts github.com/openai/openai-go to the provider
// contract in package model.
package openai

import (
	"context"
	"encoding/json"
	"errors"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/orchardhq/orchard/model"
)

// Client adapts the OpenAI Chat Completions API to model.Client.
type Client struct {
	sdk          openaisdk.Client
	defaultModel string
}

// New constructs a Client from an API key and a default model identifier.
func New(apiKey, defaultModel string) *Client {
	return &Client{sdk: openaisdk.NewClient(option.WithAPIKey(apiKey)), defaultModel: defaultModel}
}

func (c *Client) resolveModel(req *model.Request) shared.ChatModel {
	if req.Options.Model != "" {
		return shared.ChatModel(req.Options.Model)
	}
	switch req.Options.ModelClass {
	case model.ModelClassSmall:
		return shared.ChatModelGPT4oMini
	case model.ModelClassHighReasoning:
		return shared.ChatModelO3
	default:
		if c.defaultModel != "" {
			return shared.ChatModel(c.defaultModel)
		}
		return shared.ChatModelGPT4o
	}
}

func toMessages(req *model.Request) []openaisdk.ChatCompletionMessageParamUnion {
	var out []openaisdk.ChatCompletionMessageParamUnion
	if req.Options.SystemPrompt != "" {
		out = append(out, openaisdk.SystemMessage(req.Options.SystemPrompt))
	}
	for _, m := range req.Messages {
		var text string
		for _, p := range m.Parts {
			if tp, ok := p.(model.TextPart); ok {
				text += tp.Text
			}
		}
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openaisdk.SystemMessage(text))
		case model.RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(text))
		default:
			out = append(out, openaisdk.UserMessage(text))
		}
	}
	return out
}

func toTools(defs []*model.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openaisdk.String(d.Description),
				Parameters:  openaisdk.FunctionParameters(toParams(d.InputSchema)),
			},
		})
	}
	return out
}

func toParams(schema any) map[string]any {
	m, ok := schema.(map[string]any)
	if ok {
		return m
	}
	return map[string]any{}
}

func (c *Client) newParams(req *model.Request) openaisdk.ChatCompletionNewParams {
	params := openaisdk.ChatCompletionNewParams{
		Model:    c.resolveModel(req),
		Messages: toMessages(req),
	}
	if req.Options.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.Options.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}
	return params
}

// Complete performs a non-streaming invocation.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params := c.newParams(req)
	completion, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	resp := &model.Response{
		Usage: model.TokenUsage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if len(completion.Choices) == 0 {
		return resp, nil
	}
	choice := completion.Choices[0]
	resp.StopReason = string(choice.FinishReason)
	out := model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: choice.Message.Content}}}
	resp.Content = []model.Message{out}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

// Stream performs a streaming invocation.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Stream, error) {
	params := c.newParams(req)
	params.StreamOptions = openaisdk.ChatCompletionStreamOptionsParam{IncludeUsage: openaisdk.Bool(true)}
	sdkStream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	return &stream{sdk: sdkStream}, nil
}

// IsAvailable always reports true for a constructed client; OpenAI exposes
// no lightweight liveness endpoint distinct from issuing a real request.
func (c *Client) IsAvailable(ctx context.Context) bool { return true }

// ListModels lists models currently exposed by the account.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.sdk.Models.List(ctx)
	if err != nil {
		return nil, classify(err)
	}
	var ids []string
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

type stream struct {
	sdk         *openaisdk.ChatCompletionStream
	toolByIndex map[int64]*model.ToolCall
}

func (s *stream) Recv() (model.Chunk, error) {
	if s.toolByIndex == nil {
		s.toolByIndex = map[int64]*model.ToolCall{}
	}
	for s.sdk.Next() {
		chunk := s.sdk.Current()
		if len(chunk.Choices) == 0 {
			if chunk.Usage.TotalTokens != 0 {
				return model.Chunk{Type: model.ChunkUsage, Usage: &model.TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}}, nil
			}
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			return model.Chunk{Type: model.ChunkTextDelta, Text: choice.Delta.Content}, nil
		}
		for _, tc := range choice.Delta.ToolCalls {
			cur, ok := s.toolByIndex[tc.Index]
			if !ok {
				cur = &model.ToolCall{ID: tc.ID, Name: tc.Function.Name}
				s.toolByIndex[tc.Index] = cur
			}
			cur.Input = append(cur.Input, []byte(tc.Function.Arguments)...)
		}
		if choice.FinishReason == "tool_calls" {
			for _, tc := range s.toolByIndex {
				return model.Chunk{Type: model.ChunkToolCall, ToolCall: tc}, nil
			}
		}
		if choice.FinishReason != "" {
			return model.Chunk{Type: model.ChunkDone}, nil
		}
	}
	if err := s.sdk.Err(); err != nil {
		return model.Chunk{Type: model.ChunkError, Err: classify(err)}, nil
	}
	return model.Chunk{Type: model.ChunkDone}, nil
}

func (s *stream) Close() error { return s.sdk.Close() }

func classify(err error) *model.Error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return model.NewError("openai", model.ErrorAuthenticationFailed, apiErr.Error(), err)
		case 429:
			return model.NewError("openai", model.ErrorRateLimited, apiErr.Error(), err)
		case 400:
			return model.NewError("openai", model.ErrorInvalidRequest, apiErr.Error(), err)
		case 404:
			return model.NewError("openai", model.ErrorModelNotFound, apiErr.Error(), err)
		case 500, 503:
			return model.NewError("openai", model.ErrorProviderUnavailable, apiErr.Error(), err)
		}
	}
	return model.NewError("openai", model.ErrorNetworkError, err.Error(), err)
}
